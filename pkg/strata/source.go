package strata

import "io"

// Source is the payload for an upload. It is a closed union: exactly one
// of BytesSource, StringSource or ReaderSource. Construct values with
// Bytes, String, Reader or ReaderN.
type Source interface {
	sourceKind() string
}

// BytesSource supplies the payload from an in-memory byte slice.
type BytesSource struct {
	Data []byte
}

func (BytesSource) sourceKind() string { return "bytes" }

// StringSource supplies the payload from an in-memory string.
type StringSource struct {
	Data string
}

func (StringSource) sourceKind() string { return "string" }

// ReaderSource supplies the payload from a stream. Size is the declared
// length in bytes, or -1 when the caller does not know it up front. The
// reader is always drained by the upload, never seeked, so one-shot
// sources such as pipes and response bodies are fine.
type ReaderSource struct {
	R    io.Reader
	Size int64
}

func (ReaderSource) sourceKind() string { return "reader" }

// Bytes returns a Source reading from b.
func Bytes(b []byte) Source {
	return BytesSource{Data: b}
}

// String returns a Source reading from s.
func String(s string) Source {
	return StringSource{Data: s}
}

// Reader returns a Source reading from r with no declared length.
func Reader(r io.Reader) Source {
	return ReaderSource{R: r, Size: -1}
}

// ReaderN returns a Source reading from r with a declared length of size
// bytes. The declared length picks the upload strategy; the stream is
// still read to EOF, so a mismatch is tolerated rather than enforced.
func ReaderN(r io.Reader, size int64) Source {
	return ReaderSource{R: r, Size: size}
}
