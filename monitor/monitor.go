package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Config controls classification thresholds and slow-call retention.
type Config struct {
	// HitThreshold is the duration under which a successful call is counted
	// as a probable cache hit. This is a heuristic signal, not a contract:
	// a fast store read and a slow cache read are indistinguishable here.
	HitThreshold time.Duration

	// SlowThreshold is the duration at or above which a call is recorded in
	// the slow-operation ring and logged.
	SlowThreshold time.Duration

	// SlowCapacity is how many slow calls the ring retains; older entries
	// are overwritten.
	SlowCapacity int
}

// DefaultConfig returns the monitor settings used in production.
func DefaultConfig() Config {
	return Config{
		HitThreshold:  10 * time.Millisecond,
		SlowThreshold: 100 * time.Millisecond,
		SlowCapacity:  64,
	}
}

// Validate checks whether the configuration values are usable.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.HitThreshold, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.SlowThreshold, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.SlowCapacity, validation.Required, validation.Min(1)),
	)
}

// OperationStats is an aggregate snapshot for one named operation.
type OperationStats struct {
	Calls           int64
	Errors          int64
	ProbableHits    int64
	TotalDuration   time.Duration
	MaxDuration     time.Duration
	AverageDuration time.Duration
}

// SlowOperation records one call that crossed SlowThreshold.
type SlowOperation struct {
	Operation string
	Duration  time.Duration
	At        time.Time
	Err       string
}

// operationStats holds live atomic counters per operation name.
type operationStats struct {
	calls      atomic.Int64
	errs       atomic.Int64
	hits       atomic.Int64
	totalNanos atomic.Int64
	maxNanos   atomic.Int64
}

func (s *operationStats) observe(d time.Duration, hit bool, failed bool) {
	s.calls.Add(1)
	s.totalNanos.Add(int64(d))
	if hit {
		s.hits.Add(1)
	}
	if failed {
		s.errs.Add(1)
	}
	for {
		max := s.maxNanos.Load()
		if int64(d) <= max || s.maxNanos.CompareAndSwap(max, int64(d)) {
			return
		}
	}
}

// Monitor times repository and cache calls and aggregates them per operation
// name. It adds no behavior of its own; wrapping a call with Track changes
// nothing about the call's semantics.
type Monitor struct {
	cfg     Config
	ops     *xsync.MapOf[string, *operationStats]
	logger  *zap.Logger
	metrics *promMetrics

	slowMu   sync.Mutex
	slow     []SlowOperation
	slowNext int
}

// Option customizes a Monitor at construction time.
type Option func(*Monitor)

// WithLogger installs a logger for slow-operation reports.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New validates cfg and builds a monitor.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid monitor config")
	}

	m := &Monitor{
		cfg:    cfg,
		ops:    xsync.NewMapOf[string, *operationStats](),
		logger: zap.NewNop(),
		slow:   make([]SlowOperation, 0, cfg.SlowCapacity),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Track runs fn under op's timer and records the outcome. The call's result
// and error pass through untouched.
func Track[T any](m *Monitor, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	value, err := fn()
	m.Observe(op, time.Since(start), err)
	return value, err
}

// Observe records one finished call for op. Successful calls faster than
// HitThreshold are counted as probable cache hits; see Config.HitThreshold
// for why that figure is approximate.
func (m *Monitor) Observe(op string, d time.Duration, err error) {
	stats, _ := m.ops.LoadOrStore(op, &operationStats{})
	hit := err == nil && d < m.cfg.HitThreshold
	stats.observe(d, hit, err != nil)

	if m.metrics != nil {
		m.metrics.observe(op, d, hit, err != nil)
	}
	if d >= m.cfg.SlowThreshold {
		m.recordSlow(op, d, err)
	}
}

func (m *Monitor) recordSlow(op string, d time.Duration, err error) {
	entry := SlowOperation{Operation: op, Duration: d, At: time.Now()}
	if err != nil {
		entry.Err = err.Error()
	}

	m.slowMu.Lock()
	if len(m.slow) < m.cfg.SlowCapacity {
		m.slow = append(m.slow, entry)
	} else {
		m.slow[m.slowNext] = entry
		m.slowNext = (m.slowNext + 1) % m.cfg.SlowCapacity
	}
	m.slowMu.Unlock()

	m.logger.Warn("slow operation",
		zap.String("operation", op),
		zap.Duration("duration", d),
		zap.Error(err))
}

// Stats returns a snapshot of every tracked operation, keyed by name.
func (m *Monitor) Stats() map[string]OperationStats {
	out := make(map[string]OperationStats)
	m.ops.Range(func(op string, stats *operationStats) bool {
		calls := stats.calls.Load()
		snapshot := OperationStats{
			Calls:         calls,
			Errors:        stats.errs.Load(),
			ProbableHits:  stats.hits.Load(),
			TotalDuration: time.Duration(stats.totalNanos.Load()),
			MaxDuration:   time.Duration(stats.maxNanos.Load()),
		}
		if calls > 0 {
			snapshot.AverageDuration = snapshot.TotalDuration / time.Duration(calls)
		}
		out[op] = snapshot
		return true
	})
	return out
}

// SlowOperations returns the retained slow calls, oldest first.
func (m *Monitor) SlowOperations() []SlowOperation {
	m.slowMu.Lock()
	defer m.slowMu.Unlock()

	out := make([]SlowOperation, 0, len(m.slow))
	out = append(out, m.slow[m.slowNext:]...)
	out = append(out, m.slow[:m.slowNext]...)
	return out
}

// Reset drops all aggregates and the slow-operation ring. Prometheus series,
// when enabled, are cumulative and are not reset.
func (m *Monitor) Reset() {
	m.ops.Clear()
	m.slowMu.Lock()
	m.slow = m.slow[:0]
	m.slowNext = 0
	m.slowMu.Unlock()
}
