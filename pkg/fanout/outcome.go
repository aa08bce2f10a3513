package fanout

import (
	"context"
	"time"
)

// FetchFunc retrieves the value for one key. It may be called concurrently and
// should return promptly once ctx is done.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Status is the terminal state of a single item.
type Status string

const (
	// StatusSuccess means the fetch returned a value.
	StatusSuccess Status = "success"

	// StatusFailure means the fetch returned an error.
	StatusFailure Status = "failure"

	// StatusTimedOut means the per-item deadline fired first.
	StatusTimedOut Status = "timed_out"
)

// Outcome is the result of fetching one key.
type Outcome[K comparable, V any] struct {
	Key      K
	Index    int
	Status   Status
	Value    V
	Err      error
	Duration time.Duration

	// skipped is set when the item never acquired a permit because the batch
	// context ended first.
	skipped bool
}

// OK reports whether the outcome is a success.
func (o Outcome[K, V]) OK() bool {
	return o.Status == StatusSuccess
}

// Result is a completed batch.
type Result[V any] struct {
	// Values holds one entry per successful item, in input order.
	Values []V

	// Dropped counts failed and timed out items discarded under BestEffort.
	// It is always zero under FailFast.
	Dropped int
}
