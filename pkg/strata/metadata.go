package strata

import (
	"fmt"
	"strings"
)

// Canonical names for the standard metadata keys recognized on upload.
// Anything else supplied by the caller is treated as custom metadata.
const (
	MetaContentType        = "Content-Type"
	MetaContentEncoding    = "Content-Encoding"
	MetaContentLanguage    = "Content-Language"
	MetaContentDisposition = "Content-Disposition"
	MetaCacheControl       = "Cache-Control"
	MetaContentMD5         = "Content-MD5"
)

// DefaultMaxCustomMetadata is the per-object custom metadata entry limit
// applied when the backend does not declare its own.
const DefaultMaxCustomMetadata = 10

// Metadata is the caller-supplied metadata for an upload. Keys are matched
// case-insensitively against the canonical set; unrecognized keys become
// provider-prefixed custom metadata.
type Metadata map[string]string

// canonicalKeys maps lowercased input keys to their canonical spelling.
var canonicalKeys = map[string]string{
	"content-type":        MetaContentType,
	"content-encoding":    MetaContentEncoding,
	"content-language":    MetaContentLanguage,
	"content-disposition": MetaContentDisposition,
	"cache-control":       MetaCacheControl,
	"content-md5":         MetaContentMD5,
}

// NormalizedMetadata is the validated, canonical form of caller metadata.
// Standard holds recognized keys under their canonical spelling; Custom
// holds everything else, lowercased and carrying the provider's custom
// metadata prefix.
type NormalizedMetadata struct {
	Standard map[string]string
	Custom   map[string]string
}

// ContentType returns the standard Content-Type entry, or "".
func (n NormalizedMetadata) ContentType() string {
	return n.Standard[MetaContentType]
}

// Get returns the standard entry for the given canonical key, or "".
func (n NormalizedMetadata) Get(key string) string {
	return n.Standard[key]
}

// NormalizeMetadata validates meta and splits it into standard and custom
// entries. Custom keys are lowercased and prefixed with prefix unless they
// already carry it. The entry count limit and key character checks apply
// to custom entries only; violations return an error wrapping
// ErrInvalidArgument so they surface before any network traffic.
func NormalizeMetadata(meta Metadata, prefix string, maxCustom int) (NormalizedMetadata, error) {
	if maxCustom <= 0 {
		maxCustom = DefaultMaxCustomMetadata
	}

	norm := NormalizedMetadata{
		Standard: map[string]string{},
		Custom:   map[string]string{},
	}

	for key, value := range meta {
		if key == "" {
			return NormalizedMetadata{}, fmt.Errorf("%w: empty metadata key", ErrInvalidArgument)
		}

		lower := strings.ToLower(key)
		if canonical, ok := canonicalKeys[lower]; ok {
			norm.Standard[canonical] = value
			continue
		}

		custom := strings.TrimPrefix(lower, strings.ToLower(prefix))
		if !validMetadataKey(custom) {
			return NormalizedMetadata{}, fmt.Errorf("%w: metadata key %q contains characters outside [A-Za-z0-9_-]", ErrInvalidArgument, key)
		}

		norm.Custom[prefix+custom] = value
	}

	if len(norm.Custom) > maxCustom {
		return NormalizedMetadata{}, fmt.Errorf("%w: %d custom metadata entries exceeds the limit of %d", ErrInvalidArgument, len(norm.Custom), maxCustom)
	}

	return norm, nil
}

// validMetadataKey reports whether the (unprefixed) custom key uses only
// letters, digits, dashes and underscores.
func validMetadataKey(key string) bool {
	if key == "" {
		return false
	}

	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}

	return true
}
