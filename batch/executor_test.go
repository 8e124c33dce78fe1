package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type record struct {
	ID   string
	Name string
}

// scriptedStore is an in-memory Store with injectable failures per
// operation. Error hooks receive the 1-based call number for bulk calls so
// tests can fail only the first few attempts.
type scriptedStore struct {
	mu        sync.Mutex
	bulkCalls int
	bulkSizes []int
	created   []record
	updated   []record
	deleted   []record

	bulkErr   func(call int, items []record) error
	createErr func(record) error
	updateErr func(record) error
	deleteErr func(record) error

	delay       time.Duration
	inFlight    int32
	maxInFlight int32
}

func (s *scriptedStore) track() func() {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		max := atomic.LoadInt32(&s.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&s.maxInFlight, max, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return func() { atomic.AddInt32(&s.inFlight, -1) }
}

func (s *scriptedStore) BulkCreate(_ context.Context, items []record) ([]record, error) {
	defer s.track()()

	s.mu.Lock()
	s.bulkCalls++
	call := s.bulkCalls
	s.bulkSizes = append(s.bulkSizes, len(items))
	s.mu.Unlock()

	if s.bulkErr != nil {
		if err := s.bulkErr(call, items); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.created = append(s.created, items...)
	s.mu.Unlock()
	return items, nil
}

func (s *scriptedStore) CreateOne(_ context.Context, item record) (record, error) {
	defer s.track()()

	if s.createErr != nil {
		if err := s.createErr(item); err != nil {
			return record{}, err
		}
	}
	s.mu.Lock()
	s.created = append(s.created, item)
	s.mu.Unlock()
	return item, nil
}

func (s *scriptedStore) UpdateOne(_ context.Context, item record) (record, error) {
	defer s.track()()

	if s.updateErr != nil {
		if err := s.updateErr(item); err != nil {
			return record{}, err
		}
	}
	s.mu.Lock()
	s.updated = append(s.updated, item)
	s.mu.Unlock()
	return item, nil
}

func (s *scriptedStore) DeleteOne(_ context.Context, item record) error {
	defer s.track()()

	if s.deleteErr != nil {
		if err := s.deleteErr(item); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.deleted = append(s.deleted, item)
	s.mu.Unlock()
	return nil
}

// sleepRecorder replaces real backoff sleeps and records requested delays.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(d time.Duration) {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestExecutor(t *testing.T, store *scriptedStore, cfg Config, opts ...Option[record]) (*Executor[record], *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	opts = append(opts, withSleep[record](rec.sleep))
	e, err := New[record](store, cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, rec
}

func names(n int, prefix string) []record {
	items := make([]record, n)
	for i := range items {
		items[i] = record{Name: prefix + string(rune('a'+i))}
	}
	return items
}

func assertComplete(t *testing.T, res Result[record], total int) {
	t.Helper()
	if res.TotalProcessed != total {
		t.Errorf("TotalProcessed = %d, want %d", res.TotalProcessed, total)
	}
	if got := len(res.Successful) + len(res.Failed); got != total {
		t.Errorf("len(Successful)+len(Failed) = %d, want %d", got, total)
	}
	if res.TotalSuccessful != len(res.Successful) || res.TotalFailed != len(res.Failed) {
		t.Errorf("counters (%d, %d) disagree with slices (%d, %d)",
			res.TotalSuccessful, res.TotalFailed, len(res.Successful), len(res.Failed))
	}
}

func TestExecutor_EmptyInput(t *testing.T) {
	store := &scriptedStore{}
	e, _ := newTestExecutor(t, store, DefaultConfig())

	for _, run := range []struct {
		name string
		fn   func() Result[record]
	}{
		{"create", func() Result[record] { return e.Create(context.Background(), nil) }},
		{"update", func() Result[record] { return e.Update(context.Background(), nil) }},
		{"delete", func() Result[record] { return e.Delete(context.Background(), nil) }},
		{"upsert", func() Result[record] { return e.Upsert(context.Background(), nil) }},
	} {
		t.Run(run.name, func(t *testing.T) {
			res := run.fn()
			assertComplete(t, res, 0)
			if res.Err() != nil {
				t.Errorf("Err() = %v, want nil", res.Err())
			}
		})
	}

	if store.bulkCalls != 0 {
		t.Errorf("bulk calls = %d, want 0", store.bulkCalls)
	}
}

func TestExecutor_CreateChunksSequentially(t *testing.T) {
	store := &scriptedStore{delay: time.Millisecond}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.MaxConcurrency = 1
	e, rec := newTestExecutor(t, store, cfg)

	res := e.Create(context.Background(), names(5, ""))

	assertComplete(t, res, 5)
	if res.TotalFailed != 0 {
		t.Fatalf("TotalFailed = %d, want 0", res.TotalFailed)
	}
	if store.bulkCalls != 3 {
		t.Errorf("bulk calls = %d, want 3", store.bulkCalls)
	}
	sizes := map[int]int{}
	for _, size := range store.bulkSizes {
		sizes[size]++
	}
	if sizes[2] != 2 || sizes[1] != 1 {
		t.Errorf("chunk sizes = %v, want two of 2 and one of 1", store.bulkSizes)
	}
	if got := atomic.LoadInt32(&store.maxInFlight); got != 1 {
		t.Errorf("max concurrent store calls = %d, want 1", got)
	}
	if len(rec.recorded()) != 0 {
		t.Errorf("unexpected backoff sleeps: %v", rec.recorded())
	}
}

func TestExecutor_ConcurrencyBounded(t *testing.T) {
	store := &scriptedStore{delay: 2 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.MaxConcurrency = 3
	e, _ := newTestExecutor(t, store, cfg)

	res := e.Create(context.Background(), names(12, ""))

	assertComplete(t, res, 12)
	if got := atomic.LoadInt32(&store.maxInFlight); got > 3 {
		t.Errorf("max concurrent store calls = %d, want at most 3", got)
	}
}

func TestExecutor_BulkRetrySucceeds(t *testing.T) {
	boom := errors.New("transient")
	store := &scriptedStore{
		bulkErr: func(call int, _ []record) error {
			if call == 1 {
				return boom
			}
			return nil
		},
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 10
	cfg.RetryDelay = 50 * time.Millisecond
	e, rec := newTestExecutor(t, store, cfg)

	res := e.Create(context.Background(), names(4, ""))

	assertComplete(t, res, 4)
	if res.TotalFailed != 0 {
		t.Fatalf("TotalFailed = %d, want 0", res.TotalFailed)
	}
	if store.bulkCalls != 2 {
		t.Errorf("bulk calls = %d, want 2", store.bulkCalls)
	}
	delays := rec.recorded()
	if len(delays) != 1 || delays[0] != 50*time.Millisecond {
		t.Errorf("backoff delays = %v, want [50ms]", delays)
	}
}

func TestExecutor_FallbackIsolatesBadItem(t *testing.T) {
	bulkFail := errors.New("bulk rejected")
	itemFail := errors.New("constraint violation")
	store := &scriptedStore{
		bulkErr: func(int, []record) error { return bulkFail },
		createErr: func(item record) error {
			if item.Name == "bad" {
				return itemFail
			}
			return nil
		},
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 10
	cfg.RetryAttempts = 2
	cfg.ContinueOnError = true
	e, _ := newTestExecutor(t, store, cfg)

	items := names(10, "")
	items[7].Name = "bad"
	res := e.Create(context.Background(), items)

	assertComplete(t, res, 10)
	if res.TotalSuccessful != 9 || res.TotalFailed != 1 {
		t.Fatalf("got %d/%d successful/failed, want 9/1", res.TotalSuccessful, res.TotalFailed)
	}

	failure := res.Failed[0]
	if failure.Index != 7 {
		t.Errorf("failure index = %d, want 7", failure.Index)
	}
	var itemErr *ItemError
	if !errors.As(failure.Err, &itemErr) {
		t.Fatalf("failure error = %T, want *ItemError", failure.Err)
	}
	if itemErr.Attempts != 1 {
		t.Errorf("fallback attempts = %d, want 1", itemErr.Attempts)
	}
	if !errors.Is(failure.Err, itemFail) {
		t.Errorf("failure does not wrap the store error: %v", failure.Err)
	}

	var partial *PartialError
	if err := res.Err(); !errors.As(err, &partial) {
		t.Fatalf("Err() = %v, want *PartialError", err)
	} else if partial.Failed != 1 || partial.Total != 10 {
		t.Errorf("PartialError = %d/%d, want 1/10", partial.Failed, partial.Total)
	}
}

func TestExecutor_ChunkFailsWholesaleWithoutFallback(t *testing.T) {
	boom := errors.New("down")
	store := &scriptedStore{
		bulkErr:   func(int, []record) error { return boom },
		createErr: func(record) error { t.Error("per-item fallback must not run"); return nil },
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 10
	cfg.RetryAttempts = 2
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.ContinueOnError = false
	e, rec := newTestExecutor(t, store, cfg)

	res := e.Create(context.Background(), names(4, ""))

	assertComplete(t, res, 4)
	if res.TotalFailed != 4 {
		t.Fatalf("TotalFailed = %d, want 4", res.TotalFailed)
	}
	for _, failure := range res.Failed {
		var chunkErr *ChunkError
		if !errors.As(failure.Err, &chunkErr) {
			t.Fatalf("failure error = %T, want *ChunkError", failure.Err)
		}
		if chunkErr.Size != 4 || chunkErr.Attempts != 2 {
			t.Errorf("ChunkError size/attempts = %d/%d, want 4/2", chunkErr.Size, chunkErr.Attempts)
		}
		if !errors.Is(failure.Err, boom) {
			t.Errorf("failure does not wrap the store error: %v", failure.Err)
		}
	}
	if store.bulkCalls != 2 {
		t.Errorf("bulk calls = %d, want 2", store.bulkCalls)
	}
	delays := rec.recorded()
	if len(delays) != 1 || delays[0] != 10*time.Millisecond {
		t.Errorf("backoff delays = %v, want [10ms]", delays)
	}
}

func TestExecutor_UpdateIsolatesRetryExhaustion(t *testing.T) {
	boom := errors.New("stale version")
	store := &scriptedStore{
		updateErr: func(item record) error {
			if item.Name == "b" {
				return boom
			}
			return nil
		},
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 10
	cfg.RetryAttempts = 2
	cfg.RetryDelay = 20 * time.Millisecond
	e, rec := newTestExecutor(t, store, cfg)

	res := e.Update(context.Background(), names(3, ""))

	assertComplete(t, res, 3)
	if res.TotalSuccessful != 2 || res.TotalFailed != 1 {
		t.Fatalf("got %d/%d successful/failed, want 2/1", res.TotalSuccessful, res.TotalFailed)
	}

	failure := res.Failed[0]
	if failure.Index != 1 {
		t.Errorf("failure index = %d, want 1", failure.Index)
	}
	var itemErr *ItemError
	if !errors.As(failure.Err, &itemErr) {
		t.Fatalf("failure error = %T, want *ItemError", failure.Err)
	}
	if itemErr.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", itemErr.Attempts)
	}

	// Only the failing item backs off, once, linearly.
	delays := rec.recorded()
	if len(delays) != 1 || delays[0] != 20*time.Millisecond {
		t.Errorf("backoff delays = %v, want [20ms]", delays)
	}
}

func TestExecutor_Delete(t *testing.T) {
	store := &scriptedStore{}
	e, _ := newTestExecutor(t, store, DefaultConfig())

	res := e.Delete(context.Background(), names(3, ""))

	assertComplete(t, res, 3)
	if res.TotalFailed != 0 {
		t.Fatalf("TotalFailed = %d, want 0", res.TotalFailed)
	}
	if len(store.deleted) != 3 {
		t.Errorf("deleted %d records, want 3", len(store.deleted))
	}
}

func TestExecutor_UpsertPartitionsByIdentity(t *testing.T) {
	store := &scriptedStore{}
	e, _ := newTestExecutor(t, store, DefaultConfig())

	items := []record{
		{Name: "new-1"},
		{ID: "11", Name: "existing-1"},
		{Name: "new-2"},
		{ID: "12", Name: "existing-2"},
		{ID: "13", Name: "existing-3"},
	}
	res := e.Upsert(context.Background(), items)

	assertComplete(t, res, 5)
	if res.TotalFailed != 0 {
		t.Fatalf("TotalFailed = %d, want 0", res.TotalFailed)
	}
	if len(store.created) != 2 {
		t.Errorf("created %d records, want 2", len(store.created))
	}
	if len(store.updated) != 3 {
		t.Errorf("updated %d records, want 3", len(store.updated))
	}
	for _, item := range store.created {
		if item.ID != "" {
			t.Errorf("record %q routed to create despite having an ID", item.Name)
		}
	}
}

func TestExecutor_UpsertCustomIDFunc(t *testing.T) {
	store := &scriptedStore{}
	e, _ := newTestExecutor(t, store, DefaultConfig(),
		WithIDFunc[record](func(r record) bool { return r.Name == "keep" }))

	res := e.Upsert(context.Background(), []record{{Name: "keep"}, {Name: "fresh"}})

	assertComplete(t, res, 2)
	if len(store.updated) != 1 || len(store.created) != 1 {
		t.Errorf("got %d updated and %d created, want 1 and 1",
			len(store.updated), len(store.created))
	}
}

func TestExecutor_ProgressReports(t *testing.T) {
	store := &scriptedStore{}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.MaxConcurrency = 1
	e, _ := newTestExecutor(t, store, cfg)

	var (
		mu      sync.Mutex
		reports []Progress
	)
	res := e.Create(context.Background(), names(5, ""), func(p Progress) {
		mu.Lock()
		reports = append(reports, p)
		mu.Unlock()
	})

	assertComplete(t, res, 5)
	if len(reports) != 3 {
		t.Fatalf("got %d progress reports, want 3", len(reports))
	}

	prev := 0
	for _, p := range reports {
		if p.Processed < prev {
			t.Errorf("Processed went backwards: %v", reports)
		}
		prev = p.Processed
		if p.Total < p.Processed {
			t.Errorf("estimated Total %d below Processed %d", p.Total, p.Processed)
		}
		if p.TotalBatches != 3 {
			t.Errorf("TotalBatches = %d, want 3", p.TotalBatches)
		}
	}

	final := reports[len(reports)-1]
	if final.Processed != 5 || final.Total != 5 {
		t.Errorf("final report processed/total = %d/%d, want 5/5", final.Processed, final.Total)
	}
	if final.Successful != 5 || final.Failed != 0 {
		t.Errorf("final report successful/failed = %d/%d, want 5/0", final.Successful, final.Failed)
	}
	if final.CurrentBatch != 3 {
		t.Errorf("final CurrentBatch = %d, want 3", final.CurrentBatch)
	}
}

func TestDefaultHasID(t *testing.T) {
	type lower struct{ Id string }
	tests := []struct {
		name string
		item any
		want bool
	}{
		{"zero id", record{Name: "x"}, false},
		{"set id", record{ID: "7"}, true},
		{"pointer with id", &record{ID: "7"}, true},
		{"nil pointer", (*record)(nil), false},
		{"alternate spelling", lower{Id: "9"}, true},
		{"non struct", 42, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := defaultHasID(tt.item); got != tt.want {
				t.Errorf("defaultHasID(%v) = %v, want %v", tt.item, got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, true},
		{"zero concurrency", func(c *Config) { c.MaxConcurrency = 0 }, true},
		{"zero retries", func(c *Config) { c.RetryAttempts = 0 }, true},
		{"negative delay", func(c *Config) { c.RetryDelay = -time.Second }, true},
		{"zero delay allowed", func(c *Config) { c.RetryDelay = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
