package strata

import (
	"fmt"
	"io"
)

// Peeker wraps a one-shot stream so the head can be examined without
// losing it. Peek hands back the next run of bytes while keeping a copy
// stashed; a later Read replays the stash in order before continuing with
// the underlying reader, so downstream consumers observe the stream as if
// no peek had happened.
//
// Peeker is not safe for concurrent use.
type Peeker struct {
	r     io.Reader
	stash []byte
	eof   bool
}

// NewPeeker returns a Peeker reading from r.
func NewPeeker(r io.Reader) *Peeker {
	return &Peeker{r: r}
}

// Peek reads up to n bytes beyond everything peeked so far and returns
// them. Consecutive peeks compose: each one begins where the previous
// left off. The returned slice is owned by the caller; an internal copy
// is kept for replay.
//
// Fewer than n bytes with a nil error means the stream ended during this
// call. Peeking again once the end has already been observed returns
// ErrStreamEnded.
func (p *Peeker) Peek(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: peek size %d", ErrInvalidArgument, n)
	}

	if p.eof {
		return nil, ErrStreamEnded
	}

	buf := make([]byte, n)
	m, err := io.ReadFull(p.r, buf)
	if m > 0 {
		p.stash = append(p.stash, buf[:m]...)
	}

	switch err {
	case nil:
		return buf[:m], nil
	case io.EOF, io.ErrUnexpectedEOF:
		p.eof = true
		return buf[:m], nil
	default:
		return nil, err
	}
}

// Read replays stashed bytes first, then continues with the underlying
// reader.
func (p *Peeker) Read(b []byte) (int, error) {
	if len(p.stash) > 0 {
		n := copy(b, p.stash)
		p.stash = p.stash[n:]
		return n, nil
	}

	if p.eof {
		return 0, io.EOF
	}

	n, err := p.r.Read(b)
	if err == io.EOF {
		p.eof = true
	}

	return n, err
}

// Discard drops up to n bytes from the front of the stash and returns how
// many were dropped. It lets a caller that has peeked a block take
// ownership of it instead of having it replayed.
func (p *Peeker) Discard(n int) int {
	if n > len(p.stash) {
		n = len(p.stash)
	}

	p.stash = p.stash[n:]
	return n
}

// Buffered returns the number of stashed bytes a Read would replay.
func (p *Peeker) Buffered() int {
	return len(p.stash)
}
