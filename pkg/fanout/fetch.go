package fanout

import (
	"context"
	"time"

	"github.com/Sternrassler/usersvc/pkg/logging"
)

// FetchAll fetches every key with fetch, running at most policy.MaxConcurrency
// fetches at once and bounding each by policy.PerItemTimeout.
//
// Under FailFast the first failed or timed out item (by completion order) ends
// the batch with an *AbortError; the remaining items are cancelled through
// their context and their outcomes are discarded. Otherwise every item is
// awaited and failures are dropped. In both modes Result.Values follows the
// input order of keys. Duplicate keys are fetched independently.
//
// An invalid policy returns a *ConfigError before any fetch is started. If ctx
// ends before the batch settles, FetchAll returns ctx.Err().
func FetchAll[K comparable, V any](ctx context.Context, keys []K, fetch FetchFunc[K, V], policy Policy) (Result[V], error) {
	mode := policy.Mode()

	if err := policy.Validate(); err != nil {
		fanoutBatchesTotal.WithLabelValues(mode, "invalid").Inc()
		return Result[V]{}, err
	}
	if fetch == nil {
		fanoutBatchesTotal.WithLabelValues(mode, "invalid").Inc()
		return Result[V]{}, &ConfigError{Field: "fetch", Message: "must not be nil"}
	}
	if len(keys) == 0 {
		fanoutBatchesTotal.WithLabelValues(mode, "completed").Inc()
		return Result[V]{Values: []V{}}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result[V]{}, err
	}

	logger := logging.NewLogger("fanout")
	start := time.Now()
	defer func() {
		fanoutBatchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	logger.Debug().
		Int("keys", len(keys)).
		Str("mode", mode).
		Int("max_concurrency", policy.MaxConcurrency).
		Dur("per_item_timeout", policy.PerItemTimeout).
		Msg("Starting fan-out batch")

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiter := NewLimiter(policy.MaxConcurrency)

	// Buffered to len(keys) so no task ever blocks on delivery, even after an abort.
	outcomes := make(chan Outcome[K, V], len(keys))
	for i, key := range keys {
		go runItem(batchCtx, limiter, i, key, fetch, policy.PerItemTimeout, outcomes)
	}

	agg := newAggregator[K, V](policy, len(keys))
	for {
		select {
		case <-ctx.Done():
			fanoutBatchesTotal.WithLabelValues(mode, "cancelled").Inc()
			logger.Warn().Err(ctx.Err()).Str("mode", mode).Msg("Fan-out batch cancelled")
			return Result[V]{}, ctx.Err()

		case o := <-outcomes:
			// Skipped items and failures caused by the caller cancelling are not
			// item outcomes; report the cancellation itself.
			if o.skipped || ctx.Err() != nil {
				fanoutBatchesTotal.WithLabelValues(mode, "cancelled").Inc()
				logger.Warn().Err(ctx.Err()).Str("mode", mode).Msg("Fan-out batch cancelled")
				return Result[V]{}, ctx.Err()
			}

			if !o.OK() && !policy.FailFast {
				logger.Warn().
					Err(o.Err).
					Interface("key", o.Key).
					Int("index", o.Index).
					Str("status", string(o.Status)).
					Msg("Dropping failed item")
			}

			done, err := agg.add(o)
			if err != nil {
				cancel()
				fanoutBatchesTotal.WithLabelValues(mode, "aborted").Inc()
				logger.Warn().
					Err(o.Err).
					Interface("key", o.Key).
					Int("index", o.Index).
					Str("status", string(o.Status)).
					Dur("duration", time.Since(start)).
					Msg("Fan-out batch aborted")
				return Result[V]{}, err
			}
			if done {
				res := agg.result()
				fanoutBatchesTotal.WithLabelValues(mode, "completed").Inc()
				logger.Info().
					Str("mode", mode).
					Int("keys", len(keys)).
					Int("values", len(res.Values)).
					Int("dropped", res.Dropped).
					Dur("duration", time.Since(start)).
					Msg("Fan-out batch complete")
				return res, nil
			}
		}
	}
}

// runItem drives one key through Pending -> Dispatched -> settled and always
// delivers exactly one outcome. The permit is held until fetch itself returns,
// so a fetch that ignores cancellation still counts against the limit.
func runItem[K comparable, V any](ctx context.Context, limiter *Limiter, index int, key K, fetch FetchFunc[K, V], timeout time.Duration, out chan<- Outcome[K, V]) {
	permit, err := limiter.Acquire(ctx)
	if err != nil {
		out <- Outcome[K, V]{Key: key, Index: index, Status: StatusFailure, Err: err, skipped: true}
		return
	}

	start := time.Now()
	value, status, err := RunWithDeadline(ctx, timeout, func(ctx context.Context) (V, error) {
		defer permit.Release()
		return fetch(ctx, key)
	})
	elapsed := time.Since(start)

	label := string(status)
	if status == StatusFailure && ctx.Err() != nil {
		label = "cancelled"
	}
	fanoutItemsTotal.WithLabelValues(label).Inc()
	fanoutItemDuration.Observe(elapsed.Seconds())

	out <- Outcome[K, V]{
		Key:      key,
		Index:    index,
		Status:   status,
		Value:    value,
		Err:      err,
		Duration: elapsed,
	}
}
