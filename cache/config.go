package cache

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds the process-wide cache settings. It is constructed once at
// startup and treated as immutable afterwards.
type Config struct {
	// DefaultTTL applies to every Set that does not override it.
	DefaultTTL time.Duration

	// KeyPrefix namespaces every derived key, keeping this layer's keys
	// apart from anything else living in the same store.
	KeyPrefix string

	// Enabled turns the whole service into a safe no-op when false: reads
	// miss, writes and invalidations succeed without touching the store.
	Enabled bool

	// SchemaVersion is stamped into every entry envelope. Entries read back
	// with a different version are purged as corrupt, protecting rolling
	// deployments from decoding each other's payloads.
	SchemaVersion string

	// LazyExpiry is the TTL applied to matched keys by the lazy invalidation
	// strategy.
	LazyExpiry time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    5 * time.Minute,
		KeyPrefix:     "cache",
		Enabled:       true,
		SchemaVersion: "1",
		LazyExpiry:    time.Second,
	}
}

// Validate checks whether the configuration values are usable.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DefaultTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.KeyPrefix, validation.Required, validation.Length(1, 64)),
		validation.Field(&c.SchemaVersion, validation.Required),
		validation.Field(&c.LazyExpiry, validation.Required, validation.Min(time.Second)),
	)
}

// RedisConfig describes the connection to the backing Redis store.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns connection defaults for a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// Validate checks the connection settings.
func (c RedisConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.DB, validation.Min(0), validation.Max(15)),
	)
}
