package strata

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Storage operations and backend clients.
// Backends translate provider specific failures into these so callers
// can branch with errors.Is regardless of which provider is configured.
var (
	// ErrNotFound is returned when a container or object does not exist.
	ErrNotFound = errors.New("strata: not found")

	// ErrAlreadyExists is returned when creating a container that is
	// already present.
	ErrAlreadyExists = errors.New("strata: already exists")

	// ErrUnsupported is returned when the configured backend cannot
	// perform the requested operation, for example requesting a presigned
	// URL from a backend with no notion of one.
	ErrUnsupported = errors.New("strata: operation not supported by backend")

	// ErrInvalidArgument is returned before any network traffic when a
	// request is malformed: empty container name, too many metadata
	// entries, a nil source and so on.
	ErrInvalidArgument = errors.New("strata: invalid argument")

	// ErrUnauthorized is returned when the backend rejects our
	// credentials. Storage performs a single re-authorization and replay
	// before surfacing it.
	ErrUnauthorized = errors.New("strata: unauthorized")

	// ErrStreamEnded is returned by a Peeker once the underlying stream
	// has been fully consumed and no buffered bytes remain.
	ErrStreamEnded = errors.New("strata: stream already consumed")
)

// TransportError wraps a network level failure: connection reset, timeout,
// 5xx from the provider. Errors of this type are considered transient and
// are retried by the upload paths according to the retry policy.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("strata: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// OpError annotates a failure with the operation and target that produced
// it. It is the error type returned by all Storage methods; the cause is
// available through errors.Is and errors.As.
type OpError struct {
	Op        string
	Container string
	Path      string
	Err       error
}

func (e *OpError) Error() string {
	switch {
	case e.Container == "":
		return fmt.Sprintf("strata: %s: %v", e.Op, e.Err)
	case e.Path == "":
		return fmt.Sprintf("strata: %s %s: %v", e.Op, e.Container, e.Err)
	default:
		return fmt.Sprintf("strata: %s %s/%s: %v", e.Op, e.Container, e.Path, e.Err)
	}
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// opErr wraps err in an *OpError unless it is nil or already one.
func opErr(op, container, path string, err error) error {
	if err == nil {
		return nil
	}

	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}

	return &OpError{Op: op, Container: container, Path: path, Err: err}
}
