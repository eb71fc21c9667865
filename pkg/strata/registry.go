package strata

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Driver constructs a backend Client from its settings map. Drivers
// validate their own settings and return errors wrapping
// ErrInvalidArgument for missing or malformed entries, before any
// network traffic.
type Driver func(ctx context.Context, settings map[string]string) (Client, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a backend available to Open under the given provider
// name. It is meant to be called from a backend package's init function,
// so importing a backend for side effects is enough to enable it. It
// panics on a duplicate or nil registration, both of which indicate a
// broken program.
func Register(provider string, driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if driver == nil {
		panic("strata: Register driver is nil")
	}

	if _, dup := drivers[provider]; dup {
		panic(fmt.Sprintf("strata: Register called twice for provider %q", provider))
	}

	drivers[provider] = driver
}

// Providers returns the names of the registered backends, sorted.
func Providers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Open constructs the named backend from settings and wraps it in a
// Store. The provider must have been registered, typically by importing
// its package.
func Open(ctx context.Context, provider string, settings map[string]string, opts ...ConfigOption) (*Store, error) {
	driversMu.RLock()
	driver, ok := drivers[provider]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q (forgotten import?)", ErrInvalidArgument, provider)
	}

	client, err := driver(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", provider, err)
	}

	return NewStorage(client, opts...)
}
