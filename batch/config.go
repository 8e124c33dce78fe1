package batch

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config controls one Executor instance and never changes after
// construction.
type Config struct {
	// BatchSize is the maximum number of items per chunk.
	BatchSize int

	// MaxConcurrency bounds how many chunks run at once. A chunk holds its
	// permit for its entire lifetime including retry backoff, so waiting
	// still throttles overall store load.
	MaxConcurrency int

	// RetryAttempts is the total number of tries per bulk call or per
	// individually processed item.
	RetryAttempts int

	// RetryDelay is the base backoff; the wait before try n+1 is
	// RetryDelay * n (linear backoff).
	RetryDelay time.Duration

	// ContinueOnError selects the fallback when a chunk's bulk create
	// exhausts its retries: true retries each item individually, isolating
	// single bad records; false fails the whole chunk with the final error.
	ContinueOnError bool
}

// DefaultConfig returns executor settings suited to most bulk workloads.
func DefaultConfig() Config {
	return Config{
		BatchSize:       50,
		MaxConcurrency:  5,
		RetryAttempts:   3,
		RetryDelay:      100 * time.Millisecond,
		ContinueOnError: true,
	}
}

// Validate checks whether the configuration values are usable.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxConcurrency, validation.Required, validation.Min(1)),
		validation.Field(&c.RetryAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.RetryDelay, validation.Min(time.Duration(0))),
	)
}
