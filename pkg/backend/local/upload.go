package local

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"strata/pkg/strata"
)

// uploadSession tracks one in-progress chunked upload. Chunks are staged
// as files under dir and assembled into the payload store on commit.
type uploadSession struct {
	handle strata.UploadHandle
	meta   strata.NormalizedMetadata
	dir    string
	ids    []string
}

func (c *Client) CreateUpload(ctx context.Context, container, path string, req strata.PutRequest) (strata.UploadHandle, error) {
	if err := c.requireContainer(ctx, container); err != nil {
		return strata.UploadHandle{}, err
	}

	id := uuid.NewString()
	dir := filepath.Join(c.dataDir, "uploads", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return strata.UploadHandle{}, fmt.Errorf("create upload dir: %w", err)
	}

	handle := strata.UploadHandle{ID: id, Container: container, Path: path}

	c.mu.Lock()
	c.uploads[id] = &uploadSession{handle: handle, meta: req.Meta, dir: dir}
	c.mu.Unlock()

	return handle, nil
}

func (c *Client) session(id string) (*uploadSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.uploads[id]
	if !ok {
		return nil, fmt.Errorf("upload %q: %w", id, strata.ErrNotFound)
	}

	return sess, nil
}

// ChunkTarget returns a target addressing the upload by ID alone. The
// local store hands out no per-chunk URLs or tokens, so targets here are
// freely repeatable.
func (c *Client) ChunkTarget(ctx context.Context, u strata.UploadHandle) (strata.ChunkTarget, error) {
	if _, err := c.session(u.ID); err != nil {
		return strata.ChunkTarget{}, err
	}

	return strata.ChunkTarget{Upload: u}, nil
}

func (c *Client) UploadChunk(ctx context.Context, t strata.ChunkTarget, index int, data []byte) (string, error) {
	sess, err := c.session(t.Upload.ID)
	if err != nil {
		return "", err
	}

	name := filepath.Join(sess.dir, fmt.Sprintf("chunk-%06d", index))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return "", fmt.Errorf("write chunk: %w", err)
	}

	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])

	c.mu.Lock()
	for len(sess.ids) <= index {
		sess.ids = append(sess.ids, "")
	}
	sess.ids[index] = id
	c.mu.Unlock()

	return id, nil
}

func (c *Client) CommitUpload(ctx context.Context, u strata.UploadHandle, chunkIDs []string) error {
	sess, err := c.session(u.ID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	staged := append([]string(nil), sess.ids...)
	c.mu.Unlock()

	if len(chunkIDs) != len(staged) {
		return fmt.Errorf("%w: committing %d chunks with %d staged", strata.ErrInvalidArgument, len(chunkIDs), len(staged))
	}
	for i, id := range chunkIDs {
		if staged[i] != id {
			return fmt.Errorf("%w: chunk %d identifier mismatch", strata.ErrInvalidArgument, i)
		}
	}

	final, err := assembleChunks(sess.dir, len(chunkIDs))
	if err != nil {
		return err
	}

	if err := c.payloads.putFile(u.Container, final.sha256, final.path, final.size); err != nil {
		return fmt.Errorf("store payload: %w", err)
	}

	if err := c.insertObject(ctx, u.Container, u.Path, final.sha256, final.size, sess.meta, final.md5, final.sha1); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.uploads, u.ID)
	c.mu.Unlock()

	return os.RemoveAll(sess.dir)
}

func (c *Client) AbortUpload(ctx context.Context, u strata.UploadHandle) error {
	c.mu.Lock()
	sess, ok := c.uploads[u.ID]
	delete(c.uploads, u.ID)
	c.mu.Unlock()

	if !ok {
		return nil
	}

	return os.RemoveAll(sess.dir)
}

// assembled describes the concatenated payload written by assembleChunks.
type assembled struct {
	path   string
	size   int64
	sha256 string
	md5    string
	sha1   string
}

// assembleChunks concatenates the n staged chunk files, in index order,
// into a temporary file inside dir, hashing the stream as it goes.
func assembleChunks(dir string, n int) (assembled, error) {
	out, err := os.CreateTemp(dir, "assembled-*")
	if err != nil {
		return assembled{}, fmt.Errorf("create assembly file: %w", err)
	}
	defer out.Close()

	shaSum := sha256.New()
	md5Sum := md5.New()
	sha1Sum := sha1.New()
	w := io.MultiWriter(out, shaSum, md5Sum, sha1Sum)

	var size int64
	for i := 0; i < n; i++ {
		f, err := os.Open(filepath.Join(dir, fmt.Sprintf("chunk-%06d", i)))
		if err != nil {
			return assembled{}, fmt.Errorf("open chunk %d: %w", i, err)
		}

		written, err := io.Copy(w, f)
		f.Close()
		if err != nil {
			return assembled{}, fmt.Errorf("assemble chunk %d: %w", i, err)
		}
		size += written
	}

	return assembled{
		path:   out.Name(),
		size:   size,
		sha256: hex.EncodeToString(shaSum.Sum(nil)),
		md5:    hex.EncodeToString(md5Sum.Sum(nil)),
		sha1:   hex.EncodeToString(sha1Sum.Sum(nil)),
	}, nil
}
