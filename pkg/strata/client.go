package strata

import (
	"context"
	"io"
	"time"
)

// Constraints are the provider limits a backend reports to the engine.
// The upload strategy, chunk sizing and metadata validation all key off
// these values.
type Constraints struct {
	// MinChunkSize is the smallest chunk the provider accepts for a
	// chunked upload (except the final chunk, which may be smaller).
	MinChunkSize int64

	// MaxSingleShot is the largest payload the provider accepts in one
	// single-shot upload call.
	MaxSingleShot int64

	// MetadataPrefix is the provider's custom metadata key prefix, for
	// example "x-amz-meta-". Custom keys are stored carrying it.
	MetadataPrefix string

	// MaxCustomMetadata is the provider's per-object custom metadata
	// entry limit. Zero means DefaultMaxCustomMetadata.
	MaxCustomMetadata int
}

// PutRequest carries the validated upload parameters handed to a backend.
type PutRequest struct {
	// Meta is the normalized object metadata.
	Meta NormalizedMetadata

	// ServerSideEncryption asks the provider to encrypt the object at
	// rest. Backends with no such switch ignore it.
	ServerSideEncryption bool
}

// ContainerOptions carry the optional placement parameters for container
// creation. Backends ignore fields their provider has no equivalent for.
type ContainerOptions struct {
	Region       string
	StorageClass string
	ACL          string
}

// Client is the set of primitives a storage backend must provide. It maps
// one-to-one onto single provider API calls: no retries, no pagination
// loops, no strategy decisions. All of that lives in Storage, which wraps
// a Client.
//
// Implementations translate provider failures into the package error
// taxonomy: ErrNotFound, ErrAlreadyExists, ErrUnauthorized, and
// TransportError for transient network trouble.
type Client interface {
	// Provider returns the backend's registered name, for example "s3".
	Provider() string

	// Constraints returns the provider limits for this backend.
	Constraints() Constraints

	// CreateContainer creates a container. It returns ErrAlreadyExists
	// if the name is taken.
	CreateContainer(ctx context.Context, name string, opts ContainerOptions) error

	// DeleteContainer removes an empty container.
	DeleteContainer(ctx context.Context, name string) error

	// ContainerExists reports whether the container exists.
	ContainerExists(ctx context.Context, name string) (bool, error)

	// ListContainers returns all containers visible to the credentials.
	ListContainers(ctx context.Context) ([]ContainerInfo, error)

	// PutObject uploads data as one object in a single provider call.
	PutObject(ctx context.Context, container, path string, data []byte, req PutRequest) error

	// GetObject opens the object for reading. The caller must close the
	// returned stream.
	GetObject(ctx context.Context, container, path string) (io.ReadCloser, error)

	// StatObject returns the object's entry without its payload.
	StatObject(ctx context.Context, container, path string) (ObjectEntry, error)

	// DeleteObject removes the object. Deleting a missing object returns
	// ErrNotFound.
	DeleteObject(ctx context.Context, container, path string) error

	// ListPage returns one page of entries under prefix, grouping keys
	// on the delimiter into PrefixEntry values. cursor is "" for the
	// first page; a "" cursor in the returned page ends the chain.
	//
	// Backends whose provider splits objects and prefixes into separate
	// queries implement SplitLister instead and return ErrUnsupported
	// here.
	ListPage(ctx context.Context, container, prefix, cursor string) (Page, error)
}

// SplitLister is implemented by backends whose provider reports objects
// and common prefixes through two independently paginated queries rather
// than one merged listing. When a Client implements it, Storage walks
// both chains and merges the results itself.
type SplitLister interface {
	// ListObjectPage returns one page of ObjectEntry results.
	ListObjectPage(ctx context.Context, container, prefix, cursor string) (Page, error)

	// ListPrefixPage returns one page of PrefixEntry results.
	ListPrefixPage(ctx context.Context, container, prefix, cursor string) (Page, error)
}

// UploadHandle identifies one in-progress chunked upload.
type UploadHandle struct {
	ID        string
	Container string
	Path      string
}

// ChunkTarget is a single-use destination for exactly one chunk. Backends
// that hand out per-chunk upload URLs or tokens put them here; backends
// addressed purely by upload ID leave URL and Token empty. A target is
// spent by one UploadChunk attempt and must not be reused.
type ChunkTarget struct {
	Upload UploadHandle
	URL    string
	Token  string
}

// ChunkClient is implemented by backends that support chunked uploads.
type ChunkClient interface {
	// CreateUpload starts a chunked upload session for the object.
	CreateUpload(ctx context.Context, container, path string, req PutRequest) (UploadHandle, error)

	// ChunkTarget returns a fresh single-use target for the next chunk
	// attempt.
	ChunkTarget(ctx context.Context, u UploadHandle) (ChunkTarget, error)

	// UploadChunk sends one chunk to t. index is zero-based and strictly
	// increasing across the session. It returns the provider's chunk
	// identifier, needed again at commit time.
	UploadChunk(ctx context.Context, t ChunkTarget, index int, data []byte) (string, error)

	// CommitUpload assembles the uploaded chunks, identified in order,
	// into the finished object.
	CommitUpload(ctx context.Context, u UploadHandle, chunkIDs []string) error

	// AbortUpload discards the session and any staged chunks.
	AbortUpload(ctx context.Context, u UploadHandle) error
}

// Presigner is implemented by backends that can mint presigned URLs.
type Presigner interface {
	// PresignGet returns a URL granting read access to the object until
	// expiry.
	PresignGet(ctx context.Context, container, path string, expiry time.Duration) (string, error)

	// PresignPut returns a URL granting write access to the object until
	// expiry.
	PresignPut(ctx context.Context, container, path string, expiry time.Duration) (string, error)
}

// Authorizer is implemented by backends whose provider requires an
// explicit session handshake before other calls. Storage runs the
// handshake lazily, memoizes it across goroutines, and repeats it once
// when a call comes back ErrUnauthorized.
type Authorizer interface {
	// Authorize performs the provider handshake, refreshing whatever
	// session state the other calls depend on.
	Authorize(ctx context.Context) error
}

// Copier is implemented by backends with a server-side copy primitive.
// Without it, CopyObject falls back to streaming through the caller.
type Copier interface {
	// CopyObject copies an object within the provider without the bytes
	// leaving it.
	CopyObject(ctx context.Context, srcContainer, srcPath, dstContainer, dstPath string) error
}
