package strata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuthHandshakeCollapsesConcurrentCalls(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	f.seed("tank", "x.txt", []byte("payload"))

	a := newAuthClient(f)
	a.delay = 25 * time.Millisecond
	s := newTestStore(t, a)

	errs := make([]error, 8)

	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.StatObject(context.Background(), "tank", "x.txt")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "call %d failed", i)
	}

	require.Equal(t, int32(1), a.handshakes.Load(), "concurrent first calls must share one handshake")
}

func TestAuthHandshakeFailureNotMemoized(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	f.seed("tank", "x.txt", []byte("payload"))

	a := newAuthClient(f)
	a.failuresLeft.Store(1)
	s := newTestStore(t, a)

	_, err := s.StatObject(context.Background(), "tank", "x.txt")
	require.ErrorIs(t, err, ErrUnauthorized, "failed handshake should surface")
	require.Zero(t, f.snapshot().stats, "the operation must not run without a session")

	_, err = s.StatObject(context.Background(), "tank", "x.txt")
	require.NoError(t, err, "the next call should retry the handshake")
	require.Equal(t, int32(2), a.handshakes.Load(), "handshake count")
}

func TestAuthRejectedCallReplayedOnce(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	f.seed("tank", "x.txt", []byte("payload"))
	f.rejectCalls = 1

	a := newAuthClient(f)
	s := newTestStore(t, a)

	entry, err := s.StatObject(context.Background(), "tank", "x.txt")
	require.NoError(t, err, "rejected call should succeed after one replay")
	require.Equal(t, int64(7), entry.Size, "entry size")

	require.Equal(t, int32(2), a.handshakes.Load(), "initial handshake plus one refresh")
	require.Equal(t, 2, f.snapshot().stats, "original call plus one replay")
}

func TestAuthSecondRejectionSurfaces(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	f.seed("tank", "x.txt", []byte("payload"))
	f.rejectCalls = 2

	a := newAuthClient(f)
	s := newTestStore(t, a)

	_, err := s.StatObject(context.Background(), "tank", "x.txt")
	require.ErrorIs(t, err, ErrUnauthorized, "second rejection should surface")

	require.Equal(t, int32(2), a.handshakes.Load(), "exactly one refresh attempt")
	require.Equal(t, 2, f.snapshot().stats, "exactly one replay")
}

func TestAuthNoAuthorizerNoReplay(t *testing.T) {
	t.Parallel()

	f := newFakeClient()
	f.seed("tank", "x.txt", []byte("payload"))
	f.rejectCalls = 1

	// No Authorizer capability: a rejection has no session to refresh.
	s := newTestStore(t, f)

	_, err := s.StatObject(context.Background(), "tank", "x.txt")
	require.ErrorIs(t, err, ErrUnauthorized, "rejection should pass through")
	require.Equal(t, 1, f.snapshot().stats, "no replay without a handshake")
}
