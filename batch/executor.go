package batch

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store is the persistence contract the executor drives. Only creation has a
// bulk primitive; updates and deletes are single-item operations, which is
// why the executor processes those individually from the start.
type Store[T any] interface {
	BulkCreate(ctx context.Context, items []T) ([]T, error)
	CreateOne(ctx context.Context, item T) (T, error)
	UpdateOne(ctx context.Context, item T) (T, error)
	DeleteOne(ctx context.Context, item T) error
}

// operation selects the chunk processing flow.
type operation int

const (
	opCreate operation = iota
	opUpdate
	opDelete
)

// Executor partitions arbitrary item lists into bounded chunks, runs them
// under a shared FIFO semaphore and applies the bulk-then-individual retry
// policy. Chunk and item failures never surface as errors; they are folded
// into the returned Result, so a batch call always yields a complete,
// inspectable outcome.
type Executor[T any] struct {
	store  Store[T]
	cfg    Config
	sem    *Semaphore
	hasID  func(T) bool
	logger *zap.Logger
	sleep  func(time.Duration)
}

// Option customizes an Executor at construction time.
type Option[T any] func(*Executor[T])

// WithLogger installs a logger for retry and fallback events.
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(e *Executor[T]) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIDFunc overrides how Upsert decides whether an item already has an
// identity. The default inspects an ID field reflectively.
func WithIDFunc[T any](hasID func(T) bool) Option[T] {
	return func(e *Executor[T]) {
		if hasID != nil {
			e.hasID = hasID
		}
	}
}

// withSleep overrides backoff sleeping for tests.
func withSleep[T any](sleep func(time.Duration)) Option[T] {
	return func(e *Executor[T]) { e.sleep = sleep }
}

// New validates cfg and builds an executor over store. Configuration is the
// only thing that can fail here; everything later is captured in Results.
func New[T any](store Store[T], cfg Config, opts ...Option[T]) (*Executor[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid batch config")
	}

	e := &Executor[T]{
		store:  store,
		cfg:    cfg,
		sem:    NewSemaphore(cfg.MaxConcurrency),
		hasID:  defaultHasID[T],
		logger: zap.NewNop(),
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns a copy of the executor configuration.
func (e *Executor[T]) Config() Config { return e.cfg }

// Create bulk-creates items chunk by chunk. Each chunk first attempts one
// bulk call with retries; per-item fallback behavior on bulk exhaustion is
// governed by ContinueOnError.
func (e *Executor[T]) Create(ctx context.Context, items []T, progress ...ProgressFunc) Result[T] {
	return e.run(ctx, opCreate, tag(items), firstProgress(progress))
}

// Update processes items individually (the store has no bulk update), each
// with its own retry sequence. One item exhausting retries does not affect
// its chunk-mates.
func (e *Executor[T]) Update(ctx context.Context, items []T, progress ...ProgressFunc) Result[T] {
	return e.run(ctx, opUpdate, tag(items), firstProgress(progress))
}

// Delete processes items individually, mirroring Update.
func (e *Executor[T]) Delete(ctx context.Context, items []T, progress ...ProgressFunc) Result[T] {
	return e.run(ctx, opDelete, tag(items), firstProgress(progress))
}

// Upsert routes items with an identity through the update flow and the rest
// through the create flow. The two phases run independently under the same
// semaphore and their results are merged; Duration spans both. Progress is
// reported per phase.
func (e *Executor[T]) Upsert(ctx context.Context, items []T, progress ...ProgressFunc) Result[T] {
	start := time.Now()
	if len(items) == 0 {
		return Result[T]{}
	}

	var toCreate, toUpdate []Item[T]
	for i, item := range items {
		tagged := Item[T]{Item: item, OriginalIndex: i}
		if e.hasID(item) {
			toUpdate = append(toUpdate, tagged)
		} else {
			toCreate = append(toCreate, tagged)
		}
	}

	fn := firstProgress(progress)
	var created, updated Result[T]
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		created = e.run(ctx, opCreate, toCreate, fn)
	}()
	go func() {
		defer wg.Done()
		updated = e.run(ctx, opUpdate, toUpdate, fn)
	}()
	wg.Wait()

	result := merge(created, updated)
	result.Duration = time.Since(start)
	return result
}

// run dispatches all chunks concurrently and folds their partial results.
// Duration is wall clock from first dispatch to last completion, not a sum
// of per-chunk durations.
func (e *Executor[T]) run(ctx context.Context, op operation, items []Item[T], progress ProgressFunc) Result[T] {
	if len(items) == 0 {
		return Result[T]{}
	}

	start := time.Now()
	chunks := partition(items, e.cfg.BatchSize)
	tracker := newProgressTracker(progress, e.cfg.BatchSize, len(chunks))

	partials := make([]chunkResult[T], len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk []Item[T]) {
			defer wg.Done()

			if err := e.sem.Acquire(ctx); err != nil {
				partials[i] = failAll(chunk, err)
				tracker.chunkDone(0, len(chunk))
				return
			}
			// Held for the whole chunk lifetime, retries and backoff
			// included, so waiting still throttles store load.
			defer e.sem.Release()

			switch op {
			case opCreate:
				partials[i] = e.createChunk(ctx, chunk)
			default:
				partials[i] = e.itemChunk(ctx, op, chunk)
			}
			tracker.chunkDone(len(partials[i].successful), len(partials[i].failed))
		}(i, chunk)
	}
	wg.Wait()

	result := fold(partials)
	result.Duration = time.Since(start)
	return result
}

// createChunk attempts one bulk call for the whole chunk, retrying with
// linear backoff. When every attempt fails, ContinueOnError selects between
// a one-shot per-item fallback and failing the chunk wholesale.
func (e *Executor[T]) createChunk(ctx context.Context, chunk []Item[T]) chunkResult[T] {
	raw := make([]T, len(chunk))
	for i, item := range chunk {
		raw[i] = item.Item
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		created, err := e.store.BulkCreate(ctx, raw)
		if err == nil {
			return createSucceeded(chunk, created)
		}
		lastErr = err
		e.backoff(attempt)
	}

	if !e.cfg.ContinueOnError {
		return failAll(chunk, &ChunkError{Size: len(chunk), Attempts: e.cfg.RetryAttempts, Err: lastErr})
	}

	e.logger.Warn("bulk create exhausted retries, falling back to individual items",
		zap.Int("chunk_size", len(chunk)),
		zap.Int("attempts", e.cfg.RetryAttempts),
		zap.Error(lastErr))

	// One call per item isolates a single malformed record from failing its
	// chunk-mates. Items get no further retries here; the bulk attempts
	// already consumed the retry budget.
	var result chunkResult[T]
	for _, item := range chunk {
		created, err := e.store.CreateOne(ctx, item.Item)
		if err != nil {
			result.failed = append(result.failed, Failure[T]{
				Item:  item.Item,
				Index: item.OriginalIndex,
				Err:   &ItemError{Index: item.OriginalIndex, Attempts: 1, Err: err},
			})
			continue
		}
		result.successful = append(result.successful, created)
	}
	return result
}

// itemChunk processes update/delete chunks strictly sequentially, keeping
// store load proportional to MaxConcurrency rather than
// MaxConcurrency x BatchSize. Each item runs its own retry sequence.
func (e *Executor[T]) itemChunk(ctx context.Context, op operation, chunk []Item[T]) chunkResult[T] {
	var result chunkResult[T]

	for _, item := range chunk {
		value, err := e.retryItem(ctx, op, item.Item)
		if err != nil {
			result.failed = append(result.failed, Failure[T]{
				Item:  item.Item,
				Index: item.OriginalIndex,
				Err:   &ItemError{Index: item.OriginalIndex, Attempts: e.cfg.RetryAttempts, Err: err},
			})
			continue
		}
		result.successful = append(result.successful, value)
	}
	return result
}

func (e *Executor[T]) retryItem(ctx context.Context, op operation, item T) (T, error) {
	var (
		value   T
		lastErr error
	)
	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		var err error
		switch op {
		case opUpdate:
			value, err = e.store.UpdateOne(ctx, item)
		case opDelete:
			err = e.store.DeleteOne(ctx, item)
			value = item
		}
		if err == nil {
			return value, nil
		}
		lastErr = err
		e.backoff(attempt)
	}
	var zero T
	return zero, lastErr
}

// backoff sleeps RetryDelay * attempt before the next try. The final
// attempt's failure skips the sleep.
func (e *Executor[T]) backoff(attempt int) {
	if attempt >= e.cfg.RetryAttempts || e.cfg.RetryDelay <= 0 {
		return
	}
	e.sleep(e.cfg.RetryDelay * time.Duration(attempt))
}

// createSucceeded maps a successful bulk call back onto the chunk. The
// store's created records are preferred when they align positionally with
// the input; otherwise the inputs stand in.
func createSucceeded[T any](chunk []Item[T], created []T) chunkResult[T] {
	result := chunkResult[T]{successful: make([]T, len(chunk))}
	for i, item := range chunk {
		if len(created) == len(chunk) {
			result.successful[i] = created[i]
		} else {
			result.successful[i] = item.Item
		}
	}
	return result
}

func failAll[T any](chunk []Item[T], err error) chunkResult[T] {
	result := chunkResult[T]{failed: make([]Failure[T], len(chunk))}
	for i, item := range chunk {
		result.failed[i] = Failure[T]{Item: item.Item, Index: item.OriginalIndex, Err: err}
	}
	return result
}

// tag pairs every item with its original index.
func tag[T any](items []T) []Item[T] {
	tagged := make([]Item[T], len(items))
	for i, item := range items {
		tagged[i] = Item[T]{Item: item, OriginalIndex: i}
	}
	return tagged
}

// partition slices items into ordered chunks of at most size entries.
func partition[T any](items []Item[T], size int) [][]Item[T] {
	chunks := make([][]Item[T], 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func firstProgress(fns []ProgressFunc) ProgressFunc {
	if len(fns) > 0 {
		return fns[0]
	}
	return nil
}

// progressTracker serializes per-chunk progress reports. Total is estimated
// as processed + remaining chunks x batch size, which over-counts until the
// last, possibly smaller, chunk lands.
type progressTracker struct {
	mu           sync.Mutex
	fn           ProgressFunc
	batchSize    int
	totalBatches int
	processed    int
	successful   int
	failed       int
	batchesDone  int
}

func newProgressTracker(fn ProgressFunc, batchSize, totalBatches int) *progressTracker {
	return &progressTracker{fn: fn, batchSize: batchSize, totalBatches: totalBatches}
}

// chunkDone folds one finished chunk into the running totals and fires the
// callback.
func (p *progressTracker) chunkDone(successful, failed int) {
	if p.fn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.successful += successful
	p.failed += failed
	p.processed += successful + failed
	p.batchesDone++

	remaining := p.totalBatches - p.batchesDone
	p.fn(Progress{
		Processed:    p.processed,
		Total:        p.processed + remaining*p.batchSize,
		Successful:   p.successful,
		Failed:       p.failed,
		CurrentBatch: p.batchesDone,
		TotalBatches: p.totalBatches,
	})
}

// defaultHasID reports whether a record carries a non-zero ID field, looked
// up reflectively under the common spellings.
func defaultHasID[T any](item T) bool {
	v := reflect.ValueOf(item)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return false
	}

	for _, name := range []string{"ID", "Id", "id"} {
		field := v.FieldByName(name)
		if field.IsValid() && field.CanInterface() && !field.IsZero() {
			return true
		}
	}
	return false
}
