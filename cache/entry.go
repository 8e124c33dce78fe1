package cache

import "time"

// Entry is the envelope persisted for every cached value. Data holds the
// codec-encoded payload; StoredAt and TTLSeconds implement logical expiry
// independent of the store's own eviction, and SchemaVersion guards against
// decoding entries written by an incompatible deployment.
type Entry struct {
	Data          []byte `json:"data" msgpack:"data"`
	StoredAt      int64  `json:"stored_at" msgpack:"stored_at"` // unix milliseconds
	TTLSeconds    int    `json:"ttl_seconds" msgpack:"ttl_seconds"`
	SchemaVersion string `json:"schema_version" msgpack:"schema_version"`
}

// newEntry wraps an encoded payload with the expiry metadata for ttl.
func newEntry(data []byte, now time.Time, ttl time.Duration, schemaVersion string) Entry {
	return Entry{
		Data:          data,
		StoredAt:      now.UnixMilli(),
		TTLSeconds:    int(ttl / time.Second),
		SchemaVersion: schemaVersion,
	}
}

// TTL returns the entry's time-to-live as a duration.
func (e Entry) TTL() time.Duration {
	return time.Duration(e.TTLSeconds) * time.Second
}

// Expired reports whether the entry is logically expired at now. An entry
// the store still holds physically must not be served once this is true.
func (e Entry) Expired(now time.Time) bool {
	return now.UnixMilli()-e.StoredAt > int64(e.TTLSeconds)*1000
}
