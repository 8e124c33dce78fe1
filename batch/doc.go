// Package batch executes bulk create/update/delete/upsert workloads with
// bounded concurrency, retry and partial-failure isolation.
//
// # Execution model
//
// A call partitions its input into chunks of BatchSize, tags every item with
// its original index and dispatches all chunks concurrently. Each chunk
// first waits for a permit from a FIFO Semaphore sized to MaxConcurrency and
// holds it for its entire lifetime, backoff delays included, so retries
// throttle overall store load instead of silently fanning out more work.
// Within a chunk, individually processed items run strictly sequentially,
// keeping store pressure proportional to MaxConcurrency rather than
// MaxConcurrency x BatchSize.
//
// Create chunks try one bulk call with linear-backoff retries; when the bulk
// budget is exhausted, ContinueOnError selects between a one-shot per-item
// fallback (isolating a single bad record from its chunk-mates) and failing
// the whole chunk with the final error. Update and delete chunks have no
// bulk primitive and process items individually from the start, each with
// its own retry sequence. Upsert partitions the input by identity, runs the
// create and update flows independently and merges their results.
//
// # Results
//
// Batch calls never return an error for item or chunk failures; everything
// is folded into a Result whose Successful/Failed lists reflect completion
// order and always satisfy len(Successful)+len(Failed) == input length.
// Failures carry the item's original index so input order can be recovered.
// Result.Err turns a non-zero failure count into a *PartialError for callers
// that want to escalate.
//
// Context cancellation is honored at permit boundaries: chunks still waiting
// for a permit fail with the context error while chunks already running
// drain normally, so the returned Result still accounts for every item.
package batch
