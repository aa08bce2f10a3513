package fanout

// aggregator consumes outcomes until it reaches a terminal state.
type aggregator[K comparable, V any] interface {
	// add records one outcome. It returns done=true once the batch is settled,
	// together with the abort error if the batch was aborted.
	add(o Outcome[K, V]) (done bool, err error)

	// result returns the completed batch. Only valid after add reported done
	// without error.
	result() Result[V]
}

func newAggregator[K comparable, V any](p Policy, n int) aggregator[K, V] {
	if p.FailFast {
		return &failFastAggregator[K, V]{values: make([]V, n), remaining: n}
	}
	return &bestEffortAggregator[K, V]{
		values:    make([]V, n),
		ok:        make([]bool, n),
		remaining: n,
	}
}

// failFastAggregator is all-or-nothing: the first failure ends the batch.
type failFastAggregator[K comparable, V any] struct {
	values    []V
	remaining int
}

func (a *failFastAggregator[K, V]) add(o Outcome[K, V]) (bool, error) {
	if !o.OK() {
		return true, &AbortError[K]{
			Key:    o.Key,
			Index:  o.Index,
			Status: o.Status,
			Err:    o.Err,
		}
	}
	a.values[o.Index] = o.Value
	a.remaining--
	return a.remaining == 0, nil
}

func (a *failFastAggregator[K, V]) result() Result[V] {
	return Result[V]{Values: a.values}
}

// bestEffortAggregator waits for every item and keeps the successes in input order.
type bestEffortAggregator[K comparable, V any] struct {
	values    []V
	ok        []bool
	dropped   int
	remaining int
}

func (a *bestEffortAggregator[K, V]) add(o Outcome[K, V]) (bool, error) {
	if o.OK() {
		a.values[o.Index] = o.Value
		a.ok[o.Index] = true
	} else {
		a.dropped++
	}
	a.remaining--
	return a.remaining == 0, nil
}

func (a *bestEffortAggregator[K, V]) result() Result[V] {
	values := make([]V, 0, len(a.values)-a.dropped)
	for i, v := range a.values {
		if a.ok[i] {
			values = append(values, v)
		}
	}
	return Result[V]{Values: values, Dropped: a.dropped}
}
