package strata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"
)

// PutOptions are the caller-facing options for PutObject.
type PutOptions struct {
	// Metadata is validated and normalized before any network traffic;
	// see NormalizeMetadata.
	Metadata Metadata

	// ServerSideEncryption asks the provider to encrypt the object at
	// rest, where the provider has such a switch.
	ServerSideEncryption bool
}

// PutObject uploads src to container/path. The upload strategy follows
// from the source and its size: in-memory payloads and short streams go
// up in one call, anything longer runs as a chunked upload assembled by
// the provider. Streams of unknown length are probed without consuming
// them, so the decision never requires buffering more than one chunk.
//
// Transient transport failures are retried with a linearly growing
// backoff. A chunked upload that fails for good is aborted so no staged
// chunks survive; the object is visible only after a successful commit.
func (s *Store) PutObject(ctx context.Context, container, path string, src Source, opts PutOptions) error {
	const op = "put object"

	if err := validContainer(container); err != nil {
		return opErr(op, container, path, err)
	}
	if err := validObjectPath(path); err != nil {
		return opErr(op, container, path, err)
	}
	if src == nil {
		return opErr(op, container, path, fmt.Errorf("%w: nil source", ErrInvalidArgument))
	}

	meta, err := NormalizeMetadata(opts.Metadata, s.limits.MetadataPrefix, s.limits.MaxCustomMetadata)
	if err != nil {
		return opErr(op, container, path, err)
	}

	req := PutRequest{
		Meta:                 meta,
		ServerSideEncryption: opts.ServerSideEncryption,
	}

	switch v := src.(type) {
	case BytesSource:
		err = s.uploadBytes(ctx, container, path, v.Data, req)
	case StringSource:
		err = s.uploadBytes(ctx, container, path, []byte(v.Data), req)
	case ReaderSource:
		err = s.uploadStream(ctx, container, path, v, req)
	default:
		err = fmt.Errorf("%w: unknown source type %T", ErrInvalidArgument, src)
	}

	return opErr(op, container, path, err)
}

// singleShotCeiling returns the largest payload eligible for a
// single-shot upload on this backend.
func (s *Store) singleShotCeiling() int64 {
	if s.limits.MaxSingleShot <= 0 {
		return math.MaxInt64
	}

	return s.limits.MaxSingleShot
}

// uploadBytes handles in-memory payloads. Only a payload too large for
// one provider call takes the chunked path.
func (s *Store) uploadBytes(ctx context.Context, container, path string, data []byte, req PutRequest) error {
	if int64(len(data)) <= s.singleShotCeiling() {
		return s.singleShot(ctx, container, path, data, req)
	}

	head := data[:s.cfg.ChunkSize]
	return s.uploadChunked(ctx, container, path, head, bufFeed(data, s.cfg.ChunkSize), req)
}

// uploadStream handles streamed payloads. A declared length of at most
// one chunk is drained into memory and sent single-shot. Otherwise the
// head of the stream is peeked: a short head means the stream was small
// after all, a full chunk becomes chunk zero of a chunked upload.
func (s *Store) uploadStream(ctx context.Context, container, path string, src ReaderSource, req PutRequest) error {
	if src.R == nil {
		return fmt.Errorf("%w: nil reader", ErrInvalidArgument)
	}

	if src.Size >= 0 && src.Size <= s.cfg.ChunkSize {
		data, err := io.ReadAll(src.R)
		if err != nil {
			return fmt.Errorf("reading source: %w", err)
		}

		return s.singleShot(ctx, container, path, data, req)
	}

	pk := NewPeeker(src.R)
	head, err := pk.Peek(int(s.cfg.ChunkSize))
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	if int64(len(head)) < s.cfg.ChunkSize {
		return s.singleShot(ctx, container, path, head, req)
	}

	pk.Discard(len(head))
	return s.uploadChunked(ctx, container, path, head, streamFeed(pk, s.cfg.ChunkSize), req)
}

// singleShot stores data in one provider call.
func (s *Store) singleShot(ctx context.Context, container, path string, data []byte, req PutRequest) error {
	slog.Debug("uploading single-shot", "provider", s.client.Provider(), "container", container, "path", path, "size", len(data))

	return s.retryTransient(ctx, func(ctx context.Context) error {
		return s.client.PutObject(ctx, container, path, data, req)
	})
}

// chunkFeed produces the next chunk of a payload, nil once exhausted.
type chunkFeed func(ctx context.Context) ([]byte, error)

// bufFeed windows over b in size-byte chunks, starting after the first.
func bufFeed(b []byte, size int64) chunkFeed {
	offset := size
	return func(context.Context) ([]byte, error) {
		if offset >= int64(len(b)) {
			return nil, nil
		}

		end := min(offset+size, int64(len(b)))
		chunk := b[offset:end]
		offset = end
		return chunk, nil
	}
}

// streamFeed reads successive size-byte chunks from r. The final chunk
// may be short.
func streamFeed(r io.Reader, size int64) chunkFeed {
	done := false
	return func(context.Context) ([]byte, error) {
		if done {
			return nil, nil
		}

		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		switch err {
		case nil:
			return buf, nil
		case io.EOF:
			done = true
			return nil, nil
		case io.ErrUnexpectedEOF:
			done = true
			return buf[:n], nil
		default:
			return nil, fmt.Errorf("reading source: %w", err)
		}
	}
}

// uploadChunked runs the chunked upload lifecycle: create a session, send
// chunks in order with a fresh single-use target per attempt, then commit
// the ordered chunk IDs. The feed is read one chunk ahead, so a stream
// that ends after exactly one chunk degrades to a single-shot upload
// without ever opening a session.
//
// Any terminal failure after the session exists aborts it; staged chunks
// never become visible.
func (s *Store) uploadChunked(ctx context.Context, container, path string, cur []byte, next chunkFeed, req PutRequest) error {
	if s.chunker == nil {
		return fmt.Errorf("%w: payload needs a chunked upload", ErrUnsupported)
	}

	nxt, err := next(ctx)
	if err != nil {
		return err
	}

	if nxt == nil {
		// The payload fit in one chunk after all.
		return s.singleShot(ctx, container, path, cur, req)
	}

	var handle UploadHandle
	err = s.retryTransient(ctx, func(ctx context.Context) error {
		var err error
		handle, err = s.chunker.CreateUpload(ctx, container, path, req)
		return err
	})
	if err != nil {
		return err
	}

	slog.Debug("chunked upload started", "provider", s.client.Provider(), "container", container, "path", path, "upload_id", handle.ID)

	var chunkIDs []string
	for index := 0; cur != nil; index++ {
		id, err := s.uploadOneChunk(ctx, handle, index, cur)
		if err != nil {
			s.abortUpload(ctx, handle)
			return err
		}

		chunkIDs = append(chunkIDs, id)

		cur = nxt
		if cur != nil {
			nxt, err = next(ctx)
			if err != nil {
				s.abortUpload(ctx, handle)
				return err
			}
		}
	}

	slog.Debug("committing chunked upload", "upload_id", handle.ID, "chunks", len(chunkIDs))

	err = s.retryTransient(ctx, func(ctx context.Context) error {
		return s.chunker.CommitUpload(ctx, handle, chunkIDs)
	})
	if err != nil {
		s.abortUpload(ctx, handle)
		return err
	}

	return nil
}

// uploadOneChunk sends one chunk, fetching a fresh single-use target
// before every attempt. Targets are never reused across attempts, let
// alone across chunks.
func (s *Store) uploadOneChunk(ctx context.Context, handle UploadHandle, index int, data []byte) (string, error) {
	slog.Debug("uploading chunk", "upload_id", handle.ID, "index", index, "size", len(data))

	var id string
	err := s.retryTransient(ctx, func(ctx context.Context) error {
		target, err := s.chunker.ChunkTarget(ctx, handle)
		if err != nil {
			return err
		}

		id, err = s.chunker.UploadChunk(ctx, target, index, data)
		return err
	})

	return id, err
}

// abortUpload tears down a failed session on a best effort basis. It runs
// even when the surrounding context is already canceled, since that is a
// common way to arrive here.
func (s *Store) abortUpload(ctx context.Context, handle UploadHandle) {
	ctx = context.WithoutCancel(ctx)

	err := s.call(ctx, func(ctx context.Context) error {
		return s.chunker.AbortUpload(ctx, handle)
	})
	if err != nil {
		slog.Warn("failed to abort chunked upload", "upload_id", handle.ID, "path", handle.Path, "err", err)
	}
}

// retryTransient runs one backend call, retrying transport failures up to
// MaxRetries times. Retry k sleeps (k+1) times the base delay first, so
// waits grow linearly. Non-transport failures and context cancellation
// surface immediately.
func (s *Store) retryTransient(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := s.call(ctx, fn)
		if err == nil || !IsTransport(err) {
			return err
		}

		if attempt >= s.cfg.MaxRetries {
			return err
		}

		delay := time.Duration(attempt+1) * s.cfg.RetryBaseDelay
		slog.Debug("transient failure, backing off", "attempt", attempt+1, "delay", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// call runs one backend call behind the authorization gate. A call the
// backend rejects with ErrUnauthorized gets exactly one session refresh
// and one replay before the rejection surfaces.
func (s *Store) call(ctx context.Context, fn func(context.Context) error) error {
	if err := s.gate.ensure(ctx); err != nil {
		return err
	}

	err := fn(ctx)
	if errors.Is(err, ErrUnauthorized) && s.gate.enabled() {
		slog.Debug("session rejected, re-authorizing", "provider", s.client.Provider())

		if rerr := s.gate.refresh(ctx); rerr != nil {
			return rerr
		}

		err = fn(ctx)
	}

	return err
}
