package batch

import "time"

// Item tags an input value with its position in the original list, so
// failures can be mapped back even though chunks complete out of order.
type Item[T any] struct {
	Item          T
	OriginalIndex int
}

// Failure records one item that exhausted its retries.
type Failure[T any] struct {
	Item  T
	Index int
	Err   error
}

// Result aggregates a whole batch call. Successful and Failed reflect chunk
// completion order, not input order; every Failure carries the item's
// original index so callers can recover input order when needed.
type Result[T any] struct {
	Successful      []T
	Failed          []Failure[T]
	TotalProcessed  int
	TotalSuccessful int
	TotalFailed     int
	Duration        time.Duration
}

// Err summarizes the result as a single error: nil when every item
// succeeded, a *PartialError otherwise. Partial failures never surface as
// errors from the executor itself; this is for callers that want to
// escalate a non-zero failure count.
func (r Result[T]) Err() error {
	if r.TotalFailed == 0 {
		return nil
	}
	return &PartialError{Failed: r.TotalFailed, Total: r.TotalProcessed}
}

// chunkResult is the per-chunk partial fold. Concatenation across chunks is
// commutative, so assembly order does not matter.
type chunkResult[T any] struct {
	successful []T
	failed     []Failure[T]
}

// fold merges the per-chunk partials into a final Result.
func fold[T any](chunks []chunkResult[T]) Result[T] {
	var result Result[T]
	for _, chunk := range chunks {
		result.Successful = append(result.Successful, chunk.successful...)
		result.Failed = append(result.Failed, chunk.failed...)
	}
	result.TotalSuccessful = len(result.Successful)
	result.TotalFailed = len(result.Failed)
	result.TotalProcessed = result.TotalSuccessful + result.TotalFailed
	return result
}

// merge combines two independent results, summing counters. Used by Upsert
// to join its create and update phases.
func merge[T any](a, b Result[T]) Result[T] {
	return Result[T]{
		Successful:      append(a.Successful, b.Successful...),
		Failed:          append(a.Failed, b.Failed...),
		TotalProcessed:  a.TotalProcessed + b.TotalProcessed,
		TotalSuccessful: a.TotalSuccessful + b.TotalSuccessful,
		TotalFailed:     a.TotalFailed + b.TotalFailed,
	}
}

// Progress is the per-chunk progress report. Total is estimated from the
// remaining chunk count times the batch size, so it can over-count until the
// final (possibly smaller) chunk completes; it is a best-effort indicator,
// not an exact figure.
type Progress struct {
	Processed    int
	Total        int
	Successful   int
	Failed       int
	CurrentBatch int
	TotalBatches int
}

// ProgressFunc receives a Progress after each chunk completes. Calls are
// serialized by the executor.
type ProgressFunc func(Progress)
