package fanout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/usersvc/internal/testutil"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func policies(maxConcurrency int, timeout time.Duration) map[string]Policy {
	return map[string]Policy{
		ModeFailFast:   {MaxConcurrency: maxConcurrency, PerItemTimeout: timeout, FailFast: true},
		ModeBestEffort: {MaxConcurrency: maxConcurrency, PerItemTimeout: timeout},
	}
}

func TestFetchAll_EmptyKeys(t *testing.T) {
	for name, policy := range policies(2, time.Second) {
		t.Run(name, func(t *testing.T) {
			rec := testutil.NewRecorder[int](testutil.Behavior{})

			res, err := FetchAll(context.Background(), nil, rec.Fetch, policy)
			if err != nil {
				t.Fatalf("FetchAll() error = %v", err)
			}
			if res.Values == nil || len(res.Values) != 0 {
				t.Errorf("Values = %#v, want empty slice", res.Values)
			}
			if rec.Total() != 0 {
				t.Errorf("fetch called %d times, want 0", rec.Total())
			}
		})
	}
}

func TestFetchAll_InvalidPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
	}{
		{"zero concurrency", Policy{MaxConcurrency: 0, PerItemTimeout: time.Second}},
		{"zero timeout", Policy{MaxConcurrency: 2}},
		{"zero concurrency fail fast", Policy{PerItemTimeout: time.Second, FailFast: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.NewRecorder[int](testutil.Behavior{})

			_, err := FetchAll(context.Background(), []int{1, 2, 3}, rec.Fetch, tt.policy)

			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("FetchAll() error = %v, want *ConfigError", err)
			}
			if rec.Total() != 0 {
				t.Errorf("fetch called %d times, want 0", rec.Total())
			}
		})
	}
}

func TestFetchAll_NilFetch(t *testing.T) {
	_, err := FetchAll[int, string](context.Background(), []int{1}, nil, DefaultPolicy())
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("FetchAll() error = %v, want ErrInvalidPolicy", err)
	}
}

// keys [1,2,3], limit 2, 100ms per item; key 2 takes 500ms.
func TestFetchAll_SlowKeyScenario(t *testing.T) {
	newRecorder := func() *testutil.Recorder[int] {
		return testutil.NewRecorder[int](testutil.Behavior{}).
			On(2, testutil.Behavior{Delay: 500 * time.Millisecond})
	}
	keys := []int{1, 2, 3}

	t.Run("best effort drops the slow key", func(t *testing.T) {
		rec := newRecorder()
		policy := Policy{MaxConcurrency: 2, PerItemTimeout: 100 * time.Millisecond}

		start := time.Now()
		res, err := FetchAll(context.Background(), keys, rec.Fetch, policy)
		elapsed := time.Since(start)

		if err != nil {
			t.Fatalf("FetchAll() error = %v", err)
		}
		if !reflect.DeepEqual(res.Values, []string{"v1", "v3"}) {
			t.Errorf("Values = %v, want [v1 v3]", res.Values)
		}
		if res.Dropped != 1 {
			t.Errorf("Dropped = %d, want 1", res.Dropped)
		}
		if elapsed > 400*time.Millisecond {
			t.Errorf("batch took %v, should not wait for the slow fetch", elapsed)
		}
	})

	t.Run("fail fast aborts on the slow key", func(t *testing.T) {
		rec := newRecorder()
		policy := Policy{MaxConcurrency: 2, PerItemTimeout: 100 * time.Millisecond, FailFast: true}

		res, err := FetchAll(context.Background(), keys, rec.Fetch, policy)

		var abort *AbortError[int]
		if !errors.As(err, &abort) {
			t.Fatalf("FetchAll() error = %v, want *AbortError", err)
		}
		if abort.Key != 2 || abort.Index != 1 {
			t.Errorf("aborted on key %d (index %d), want key 2 (index 1)", abort.Key, abort.Index)
		}
		if !abort.TimedOut() || !errors.Is(err, ErrTimeout) {
			t.Errorf("abort = %v, want timeout", err)
		}
		if res.Values != nil {
			t.Errorf("Values = %v, want none on abort", res.Values)
		}
	})
}

func TestFetchAll_PreservesInputOrder(t *testing.T) {
	const n = 8
	keys := make([]int, n)
	rec := testutil.NewRecorder[int](testutil.Behavior{})
	want := make([]string, n)
	for i := range keys {
		keys[i] = i
		want[i] = fmt.Sprintf("v%d", i)
		// Earlier keys finish later, so completion order is reversed.
		rec.On(i, testutil.Behavior{Delay: time.Duration(n-i) * 10 * time.Millisecond})
	}

	for name, policy := range policies(n, time.Second) {
		t.Run(name, func(t *testing.T) {
			res, err := FetchAll(context.Background(), keys, rec.Fetch, policy)
			if err != nil {
				t.Fatalf("FetchAll() error = %v", err)
			}
			if !reflect.DeepEqual(res.Values, want) {
				t.Errorf("Values = %v, want %v", res.Values, want)
			}
		})
	}
}

func TestFetchAll_DuplicateKeys(t *testing.T) {
	for name, policy := range policies(2, time.Second) {
		t.Run(name, func(t *testing.T) {
			rec := testutil.NewRecorder[string](testutil.Behavior{})

			res, err := FetchAll(context.Background(), []string{"K", "K"}, rec.Fetch, policy)
			if err != nil {
				t.Fatalf("FetchAll() error = %v", err)
			}
			if !reflect.DeepEqual(res.Values, []string{"vK", "vK"}) {
				t.Errorf("Values = %v, want [vK vK]", res.Values)
			}
			if rec.Calls("K") != 2 {
				t.Errorf("fetch(K) called %d times, want 2", rec.Calls("K"))
			}
		})
	}
}

func TestFetchAll_ConcurrencyBound(t *testing.T) {
	keys := make([]int, 40)
	for i := range keys {
		keys[i] = i
	}

	for _, limit := range []int{1, 2, 5, 16} {
		t.Run(fmt.Sprintf("limit_%d", limit), func(t *testing.T) {
			rec := testutil.NewRecorder[int](testutil.Behavior{Delay: 3 * time.Millisecond})
			policy := Policy{MaxConcurrency: limit, PerItemTimeout: time.Second}

			res, err := FetchAll(context.Background(), keys, rec.Fetch, policy)
			if err != nil {
				t.Fatalf("FetchAll() error = %v", err)
			}
			if len(res.Values) != len(keys) {
				t.Errorf("len(Values) = %d, want %d", len(res.Values), len(keys))
			}
			if rec.Peak() > limit {
				t.Errorf("peak concurrency %d exceeds limit %d", rec.Peak(), limit)
			}
			if rec.Total() != len(keys) {
				t.Errorf("fetch called %d times, want %d", rec.Total(), len(keys))
			}
		})
	}
}

// A fetch that ignores cancellation keeps its permit until it really returns.
func TestFetchAll_BoundHoldsWhenFetchIgnoresCancel(t *testing.T) {
	rec := testutil.NewRecorder[int](testutil.Behavior{Delay: 100 * time.Millisecond, IgnoreCancel: true})
	policy := Policy{MaxConcurrency: 2, PerItemTimeout: 10 * time.Millisecond}

	res, err := FetchAll(context.Background(), []int{1, 2, 3, 4, 5, 6}, rec.Fetch, policy)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(res.Values) != 0 || res.Dropped != 6 {
		t.Errorf("Values = %v, Dropped = %d; want none and 6", res.Values, res.Dropped)
	}
	if rec.Peak() > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", rec.Peak())
	}
	if !rec.WaitIdle(2 * time.Second) {
		t.Error("background fetches never finished")
	}
}

func TestFetchAll_FailFastReportsFirstCompletedFailure(t *testing.T) {
	rec := testutil.NewRecorder[int](testutil.Behavior{}).
		On(1, testutil.Behavior{Delay: 150 * time.Millisecond, Err: errors.New("slow failure")}).
		On(3, testutil.Behavior{Delay: 5 * time.Millisecond, Err: errors.New("fast failure")})
	policy := Policy{MaxConcurrency: 3, PerItemTimeout: time.Second, FailFast: true}

	_, err := FetchAll(context.Background(), []int{1, 2, 3}, rec.Fetch, policy)

	var abort *AbortError[int]
	if !errors.As(err, &abort) {
		t.Fatalf("FetchAll() error = %v, want *AbortError", err)
	}
	if abort.Key != 3 {
		t.Errorf("aborted on key %d, want 3 (first to complete)", abort.Key)
	}
	if abort.Status != StatusFailure {
		t.Errorf("Status = %s, want %s", abort.Status, StatusFailure)
	}
}

func TestFetchAll_FailFastCancelsInFlight(t *testing.T) {
	errDown := errors.New("downstream unavailable")
	rec := testutil.NewRecorder[int](testutil.Behavior{Delay: 2 * time.Second}).
		On(1, testutil.Behavior{Err: errDown})
	policy := Policy{MaxConcurrency: 4, PerItemTimeout: 5 * time.Second, FailFast: true}

	start := time.Now()
	_, err := FetchAll(context.Background(), []int{1, 2, 3, 4}, rec.Fetch, policy)

	if !errors.Is(err, errDown) || !errors.Is(err, ErrAborted) {
		t.Fatalf("FetchAll() error = %v, want abort wrapping %v", err, errDown)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("abort took %v, should not wait for in-flight fetches", elapsed)
	}
	// Siblings sleep for 2s unless cancelled.
	if !rec.WaitIdle(time.Second) {
		t.Fatal("in-flight fetches were not cancelled")
	}
}

func TestFetchAll_BestEffortDropsFailures(t *testing.T) {
	rec := testutil.NewRecorder[int](testutil.Behavior{}).
		On(2, testutil.Behavior{Err: errors.New("not found")}).
		On(4, testutil.Behavior{Delay: time.Second})
	policy := Policy{MaxConcurrency: 3, PerItemTimeout: 50 * time.Millisecond}

	res, err := FetchAll(context.Background(), []int{1, 2, 3, 4, 5}, rec.Fetch, policy)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if !reflect.DeepEqual(res.Values, []string{"v1", "v3", "v5"}) {
		t.Errorf("Values = %v, want [v1 v3 v5]", res.Values)
	}
	if res.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", res.Dropped)
	}
}

func TestFetchAll_BestEffortAllFailed(t *testing.T) {
	rec := testutil.NewRecorder[int](testutil.Behavior{Err: errors.New("down")})

	res, err := FetchAll(context.Background(), []int{1, 2, 3}, rec.Fetch, Policy{MaxConcurrency: 2, PerItemTimeout: time.Second})
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(res.Values) != 0 {
		t.Errorf("Values = %v, want none", res.Values)
	}
	if res.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", res.Dropped)
	}
}

func TestFetchAll_TimeoutAccuracy(t *testing.T) {
	const timeout = 60 * time.Millisecond

	for name, policy := range policies(1, timeout) {
		t.Run(name, func(t *testing.T) {
			rec := testutil.NewRecorder[int](testutil.Behavior{Delay: time.Second})

			start := time.Now()
			res, err := FetchAll(context.Background(), []int{9}, rec.Fetch, policy)
			elapsed := time.Since(start)

			if policy.FailFast {
				var abort *AbortError[int]
				if !errors.As(err, &abort) || !abort.TimedOut() {
					t.Fatalf("FetchAll() error = %v, want timed out abort", err)
				}
			} else if err != nil || res.Dropped != 1 {
				t.Fatalf("FetchAll() = %+v, %v; want one dropped item", res, err)
			}

			if elapsed < timeout || elapsed > timeout+200*time.Millisecond {
				t.Errorf("settled after %v, want close to %v", elapsed, timeout)
			}
		})
	}
}

func TestFetchAll_ContextCancelled(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		rec := testutil.NewRecorder[int](testutil.Behavior{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := FetchAll(ctx, []int{1, 2}, rec.Fetch, DefaultPolicy())
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("FetchAll() error = %v, want context.Canceled", err)
		}
		if rec.Total() != 0 {
			t.Errorf("fetch called %d times, want 0", rec.Total())
		}
	})

	for name, policy := range policies(2, 5*time.Second) {
		t.Run("during batch "+name, func(t *testing.T) {
			rec := testutil.NewRecorder[int](testutil.Behavior{Delay: 2 * time.Second})
			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(30*time.Millisecond, cancel)

			start := time.Now()
			_, err := FetchAll(ctx, []int{1, 2, 3, 4}, rec.Fetch, policy)
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("FetchAll() error = %v, want context.Canceled", err)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("cancellation took %v", elapsed)
			}
		})
	}
}
