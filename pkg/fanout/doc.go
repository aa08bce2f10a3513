// Package fanout fetches a batch of keys concurrently with a bounded number of
// in-flight fetches and a deadline per item.
//
// The fetch capability is supplied by the caller, so the package works for any
// key and value type:
//
//	policy := fanout.Policy{
//		MaxConcurrency: 10,
//		PerItemTimeout: 2 * time.Second,
//		FailFast:       true,
//	}
//	res, err := fanout.FetchAll(ctx, ids, repo.Get, policy)
//	var abort *fanout.AbortError[int64]
//	if errors.As(err, &abort) {
//		// abort.Key failed or timed out; no values are returned
//	}
//
// # Policies
//
//   - FailFast: all-or-nothing. The first failed or timed out item ends the
//     batch with an *AbortError. Other items are cancelled via their context.
//   - BestEffort (FailFast=false): every item is awaited, failures are dropped
//     and counted in Result.Dropped.
//
// Result.Values is always in input order, whatever the completion order.
//
// # Timeouts
//
// Each fetch runs under its own deadline. A fetch that overruns is reported
// as timed out immediately; it is cancelled through its context but may keep
// running. Its limiter permit is only returned when it actually exits, so the
// concurrency bound holds even for fetches that ignore cancellation.
//
// # Metrics
//
//   - fanout_batches_total{mode, result}
//   - fanout_batch_duration_seconds{mode}
//   - fanout_items_total{status}
//   - fanout_item_duration_seconds
//   - fanout_in_flight
package fanout
