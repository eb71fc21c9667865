package strata

import "time"

// Delimiter separates path segments in object keys. Listings group keys on
// it when synthesizing prefix entries.
const Delimiter = "/"

// Entry is one result of a listing: either an ObjectEntry for a concrete
// object or a PrefixEntry for a slash-delimited pseudo directory. The two
// concrete types are the only implementations.
type Entry interface {
	// Name returns the object path or the prefix, as appropriate.
	Name() string

	// IsPrefix reports whether the entry is a PrefixEntry.
	IsPrefix() bool
}

// ObjectEntry describes a stored object as reported by a listing or a
// stat call. Fields a backend cannot supply are left zero.
type ObjectEntry struct {
	// Path is the full object key within its container.
	Path string

	// Size is the object length in bytes.
	Size int64

	// LastModified is the provider's modification timestamp, zero when
	// the provider does not report one.
	LastModified time.Time

	// CreationTime is when the object was first written. Providers that
	// track only a modification timestamp leave it zero.
	CreationTime time.Time

	// ContentType is the MIME type recorded at upload, if any.
	ContentType string

	// ContentMD5 is the hex MD5 of the payload when the provider exposes
	// it (for S3 style backends this is the ETag, quotes stripped).
	ContentMD5 string

	// ContentSHA1 is the hex SHA-1 of the payload for providers that
	// report one.
	ContentSHA1 string

	// Metadata holds the custom metadata recorded at upload, keys in
	// their provider-prefixed form.
	Metadata map[string]string
}

func (e ObjectEntry) Name() string { return e.Path }

func (e ObjectEntry) IsPrefix() bool { return false }

// PrefixEntry names a common prefix: a group of keys sharing a path
// segment, reported in place of its members. The prefix always ends
// with the delimiter.
type PrefixEntry struct {
	Prefix string
}

func (e PrefixEntry) Name() string { return e.Prefix }

func (e PrefixEntry) IsPrefix() bool { return true }

// Page is one page of a backend listing along with the cursor that
// fetches the next one. An empty Cursor means the chain is exhausted.
type Page struct {
	Entries []Entry
	Cursor  string
}

// ContainerInfo describes a container as reported by ListContainers.
type ContainerInfo struct {
	Name    string
	Created time.Time
}
