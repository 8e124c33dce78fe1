package cache

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// ErrUnavailable marks store connectivity failures. Read paths swallow it and
// degrade to a miss; write and invalidation paths surface it so callers can
// decide whether a stale cache is acceptable.
var ErrUnavailable = errors.New("cache store unavailable")

// IsUnavailable reports whether err stems from an unreachable store.
func IsUnavailable(err error) bool {
	return stderrors.Is(err, ErrUnavailable)
}

// CorruptEntryError reports an entry that decoded but failed schema
// validation or carried the wrong schema version. The service treats it as a
// miss and purges the key; it is surfaced only through logs.
type CorruptEntryError struct {
	Key    string
	Reason string
}

func (e *CorruptEntryError) Error() string {
	return "corrupt cache entry " + e.Key + ": " + e.Reason
}
