package strata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultPresignExpiry is used when a presign call passes a zero expiry.
const DefaultPresignExpiry = 15 * time.Minute

// Store is the uniform storage API over a backend Client. It owns the
// upload strategy, chunking, retries, pagination and the authorization
// handshake; the Client underneath stays a thin translation layer over
// single provider calls.
//
// A Store is safe for concurrent use.
type Store struct {
	client Client
	cfg    Config
	limits Constraints
	gate   *authGate

	// Optional backend capabilities, nil when the client does not
	// implement them.
	chunker ChunkClient
	split   SplitLister
	signer  Presigner
	copier  Copier
}

// NewStorage wraps client in a Store. Options adjust chunk size and the
// retry policy; anything unset keeps its default. The configuration is
// checked against the client's constraints up front.
func NewStorage(client Client, opts ...ConfigOption) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil client", ErrInvalidArgument)
	}

	cfg := NewConfig(opts...)
	limits := client.Constraints()
	if err := cfg.validate(limits); err != nil {
		return nil, err
	}

	if limits.MaxCustomMetadata == 0 {
		limits.MaxCustomMetadata = DefaultMaxCustomMetadata
	}

	s := &Store{
		client: client,
		cfg:    cfg,
		limits: limits,
	}

	s.chunker, _ = client.(ChunkClient)
	s.split, _ = client.(SplitLister)
	s.signer, _ = client.(Presigner)
	s.copier, _ = client.(Copier)

	auth, _ := client.(Authorizer)
	s.gate = newAuthGate(auth)

	return s, nil
}

// Provider returns the backend's registered name.
func (s *Store) Provider() string {
	return s.client.Provider()
}

// Close releases whatever resources the backend holds. Backends without
// an io.Closer have nothing to release and Close is a no-op.
func (s *Store) Close() error {
	if closer, ok := s.client.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

// do is call with operation context attached to the error.
func (s *Store) do(ctx context.Context, op, container, path string, fn func(context.Context) error) error {
	return opErr(op, container, path, s.call(ctx, fn))
}

func validContainer(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty container name", ErrInvalidArgument)
	}

	return nil
}

func validObjectPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty object path", ErrInvalidArgument)
	}

	return nil
}

// CreateContainer creates a new container. Creating a container that
// already exists returns ErrAlreadyExists.
func (s *Store) CreateContainer(ctx context.Context, name string, opts ContainerOptions) error {
	if err := validContainer(name); err != nil {
		return opErr("create container", name, "", err)
	}

	return s.do(ctx, "create container", name, "", func(ctx context.Context) error {
		return s.client.CreateContainer(ctx, name, opts)
	})
}

// EnsureContainer creates the container if it does not exist yet. It is
// idempotent: an existing container, including one created concurrently
// between the existence check and the create call, is success.
func (s *Store) EnsureContainer(ctx context.Context, name string, opts ContainerOptions) error {
	if err := validContainer(name); err != nil {
		return opErr("ensure container", name, "", err)
	}

	return s.do(ctx, "ensure container", name, "", func(ctx context.Context) error {
		exists, err := s.client.ContainerExists(ctx, name)
		if err != nil {
			return err
		}

		if exists {
			return nil
		}

		err = s.client.CreateContainer(ctx, name, opts)
		if errors.Is(err, ErrAlreadyExists) {
			return nil
		}

		return err
	})
}

// DeleteContainer removes a container. Backends reject non-empty
// containers.
func (s *Store) DeleteContainer(ctx context.Context, name string) error {
	if err := validContainer(name); err != nil {
		return opErr("delete container", name, "", err)
	}

	return s.do(ctx, "delete container", name, "", func(ctx context.Context) error {
		return s.client.DeleteContainer(ctx, name)
	})
}

// ContainerExists reports whether the container exists.
func (s *Store) ContainerExists(ctx context.Context, name string) (bool, error) {
	if err := validContainer(name); err != nil {
		return false, opErr("stat container", name, "", err)
	}

	var exists bool
	err := s.do(ctx, "stat container", name, "", func(ctx context.Context) error {
		var err error
		exists, err = s.client.ContainerExists(ctx, name)
		return err
	})

	return exists, err
}

// ListContainers returns every container visible to the credentials.
func (s *Store) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	var infos []ContainerInfo
	err := s.do(ctx, "list containers", "", "", func(ctx context.Context) error {
		var err error
		infos, err = s.client.ListContainers(ctx)
		return err
	})

	return infos, err
}

// GetObject opens an object for reading. The caller must close the
// returned stream.
func (s *Store) GetObject(ctx context.Context, container, path string) (io.ReadCloser, error) {
	if err := validContainer(container); err != nil {
		return nil, opErr("get object", container, path, err)
	}
	if err := validObjectPath(path); err != nil {
		return nil, opErr("get object", container, path, err)
	}

	var rc io.ReadCloser
	err := s.do(ctx, "get object", container, path, func(ctx context.Context) error {
		var err error
		rc, err = s.client.GetObject(ctx, container, path)
		return err
	})

	return rc, err
}

// GetBytes downloads an object into memory. Use GetObject for payloads
// too large to buffer.
func (s *Store) GetBytes(ctx context.Context, container, path string) ([]byte, error) {
	rc, err := s.GetObject(ctx, container, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, opErr("get object", container, path, err)
	}

	return data, nil
}

// GetString downloads an object into memory and returns it as a string.
func (s *Store) GetString(ctx context.Context, container, path string) (string, error) {
	data, err := s.GetBytes(ctx, container, path)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// StatObject returns an object's entry without downloading its payload.
func (s *Store) StatObject(ctx context.Context, container, path string) (ObjectEntry, error) {
	if err := validContainer(container); err != nil {
		return ObjectEntry{}, opErr("stat object", container, path, err)
	}
	if err := validObjectPath(path); err != nil {
		return ObjectEntry{}, opErr("stat object", container, path, err)
	}

	var entry ObjectEntry
	err := s.do(ctx, "stat object", container, path, func(ctx context.Context) error {
		var err error
		entry, err = s.client.StatObject(ctx, container, path)
		return err
	})

	return entry, err
}

// DeleteObject removes an object.
func (s *Store) DeleteObject(ctx context.Context, container, path string) error {
	if err := validContainer(container); err != nil {
		return opErr("delete object", container, path, err)
	}
	if err := validObjectPath(path); err != nil {
		return opErr("delete object", container, path, err)
	}

	return s.do(ctx, "delete object", container, path, func(ctx context.Context) error {
		return s.client.DeleteObject(ctx, container, path)
	})
}

// CopyObject copies an object. When the backend has a server-side copy
// the bytes never leave the provider; otherwise the object is streamed
// down and re-uploaded through the regular upload path.
func (s *Store) CopyObject(ctx context.Context, srcContainer, srcPath, dstContainer, dstPath string) error {
	const op = "copy object"

	if err := validContainer(srcContainer); err != nil {
		return opErr(op, srcContainer, srcPath, err)
	}
	if err := validObjectPath(srcPath); err != nil {
		return opErr(op, srcContainer, srcPath, err)
	}
	if err := validContainer(dstContainer); err != nil {
		return opErr(op, dstContainer, dstPath, err)
	}
	if err := validObjectPath(dstPath); err != nil {
		return opErr(op, dstContainer, dstPath, err)
	}

	if s.copier != nil {
		return s.do(ctx, op, dstContainer, dstPath, func(ctx context.Context) error {
			return s.copier.CopyObject(ctx, srcContainer, srcPath, dstContainer, dstPath)
		})
	}

	entry, err := s.StatObject(ctx, srcContainer, srcPath)
	if err != nil {
		return err
	}

	rc, err := s.GetObject(ctx, srcContainer, srcPath)
	if err != nil {
		return err
	}
	defer rc.Close()

	meta := Metadata{}
	if entry.ContentType != "" {
		meta[MetaContentType] = entry.ContentType
	}
	for key, value := range entry.Metadata {
		meta[key] = value
	}

	return s.PutObject(ctx, dstContainer, dstPath, ReaderN(rc, entry.Size), PutOptions{Metadata: meta})
}

// PresignGet returns a presigned download URL for the object, valid for
// expiry (DefaultPresignExpiry when zero). Backends without presigned
// URLs return ErrUnsupported.
func (s *Store) PresignGet(ctx context.Context, container, path string, expiry time.Duration) (string, error) {
	return s.presign(ctx, "presign get", container, path, expiry, func(ctx context.Context, expiry time.Duration) (string, error) {
		return s.signer.PresignGet(ctx, container, path, expiry)
	})
}

// PresignPut returns a presigned upload URL for the object, valid for
// expiry (DefaultPresignExpiry when zero). Backends without presigned
// URLs return ErrUnsupported.
func (s *Store) PresignPut(ctx context.Context, container, path string, expiry time.Duration) (string, error) {
	return s.presign(ctx, "presign put", container, path, expiry, func(ctx context.Context, expiry time.Duration) (string, error) {
		return s.signer.PresignPut(ctx, container, path, expiry)
	})
}

func (s *Store) presign(ctx context.Context, op, container, path string, expiry time.Duration, fn func(context.Context, time.Duration) (string, error)) (string, error) {
	if err := validContainer(container); err != nil {
		return "", opErr(op, container, path, err)
	}
	if err := validObjectPath(path); err != nil {
		return "", opErr(op, container, path, err)
	}

	if s.signer == nil {
		return "", opErr(op, container, path, ErrUnsupported)
	}

	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}

	var url string
	err := s.do(ctx, op, container, path, func(ctx context.Context) error {
		var err error
		url, err = fn(ctx, expiry)
		return err
	})

	return url, err
}
