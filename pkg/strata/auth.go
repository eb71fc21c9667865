package strata

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// authGate memoizes the backend session handshake. The first operation
// performs it; concurrent first operations collapse into a single inflight
// handshake whose result they all share. A failed handshake is not
// memoized, so the next operation tries again.
type authGate struct {
	auth  Authorizer
	group singleflight.Group
	ready atomic.Bool
}

func newAuthGate(auth Authorizer) *authGate {
	return &authGate{auth: auth}
}

// enabled reports whether the backend requires a handshake at all.
func (g *authGate) enabled() bool {
	return g.auth != nil
}

// ensure runs the handshake if it has not succeeded yet.
func (g *authGate) ensure(ctx context.Context) error {
	if !g.enabled() || g.ready.Load() {
		return nil
	}

	_, err, _ := g.group.Do("handshake", func() (any, error) {
		// A waiter that lost the race to a handshake that already
		// completed must not run another one.
		if g.ready.Load() {
			return nil, nil
		}

		if err := g.auth.Authorize(ctx); err != nil {
			return nil, err
		}

		g.ready.Store(true)
		return nil, nil
	})

	return err
}

// refresh drops the memoized session and runs the handshake again. It is
// called when the backend rejects a call with ErrUnauthorized, typically
// because a session token expired.
func (g *authGate) refresh(ctx context.Context) error {
	g.ready.Store(false)
	return g.ensure(ctx)
}
