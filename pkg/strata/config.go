package strata

import (
	"fmt"
	"time"
)

// Defaults applied by NewConfig.
const (
	// DefaultChunkSize is the chunk size used when the caller does not
	// pick one. 5 MiB matches the smallest chunk most providers accept.
	DefaultChunkSize = 5 * 1024 * 1024

	// DefaultMaxRetries is the number of retries after a failed attempt
	// of a transient upload call.
	DefaultMaxRetries = 3

	// DefaultRetryBaseDelay scales the linear backoff: retry k waits
	// (k+1) times this long.
	DefaultRetryBaseDelay = 1 * time.Second
)

// Config tunes an upload engine. Construct it with NewConfig so unset
// fields pick up their defaults.
type Config struct {
	// ChunkSize is the chunk size in bytes for chunked uploads, and the
	// threshold that pushes a stream onto the chunked path. Must be at
	// least the backend's MinChunkSize.
	ChunkSize int64

	// MaxRetries is how many times a transient upload failure is retried
	// after the initial attempt.
	MaxRetries int

	// RetryBaseDelay scales the linear backoff between retries.
	RetryBaseDelay time.Duration
}

type ConfigOption func(*Config)

func WithChunkSize(size int64) ConfigOption {
	return func(cfg *Config) {
		cfg.ChunkSize = size
	}
}

func WithMaxRetries(retries int) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxRetries = retries
	}
}

func WithRetryBaseDelay(delay time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.RetryBaseDelay = delay
	}
}

// NewConfig returns a Config with defaults applied, then modified by opts.
func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		ChunkSize:      DefaultChunkSize,
		MaxRetries:     DefaultMaxRetries,
		RetryBaseDelay: DefaultRetryBaseDelay,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// validate checks cfg against the backend's constraints.
func (cfg Config) validate(limits Constraints) error {
	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidArgument, cfg.ChunkSize)
	}

	if limits.MinChunkSize > 0 && cfg.ChunkSize < limits.MinChunkSize {
		return fmt.Errorf("%w: chunk size %d below backend minimum %d", ErrInvalidArgument, cfg.ChunkSize, limits.MinChunkSize)
	}

	if limits.MaxSingleShot > 0 && cfg.ChunkSize > limits.MaxSingleShot {
		return fmt.Errorf("%w: chunk size %d above backend single-shot limit %d", ErrInvalidArgument, cfg.ChunkSize, limits.MaxSingleShot)
	}

	if cfg.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative, got %d", ErrInvalidArgument, cfg.MaxRetries)
	}

	if cfg.RetryBaseDelay < 0 {
		return fmt.Errorf("%w: retry base delay must not be negative, got %v", ErrInvalidArgument, cfg.RetryBaseDelay)
	}

	return nil
}
