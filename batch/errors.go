package batch

import "fmt"

// ItemError wraps the final error of an individually processed item after
// its retries ran out.
type ItemError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d failed after %d attempts: %v", e.Index, e.Attempts, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// ChunkError marks every item of a chunk whose bulk call exhausted its
// retries while ContinueOnError was off. All items in the chunk share the
// same underlying error.
type ChunkError struct {
	Size     int
	Attempts int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk of %d items failed after %d attempts: %v", e.Size, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// PartialError is returned by Result.Err when some items failed.
type PartialError struct {
	Failed int
	Total  int
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d of %d batch items failed", e.Failed, e.Total)
}
