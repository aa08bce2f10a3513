package fanout

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of outstanding permits. Grants are not fair.
type Limiter struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
}

// NewLimiter creates a limiter with n permits. It panics if n < 1.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		panic("fanout: limiter size must be >= 1")
	}
	return &Limiter{
		sem:  semaphore.NewWeighted(int64(n)),
		size: n,
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	l.inFlight.Add(1)
	fanoutInFlight.Inc()
	return &Permit{limiter: l}, nil
}

// Size returns the number of permits.
func (l *Limiter) Size() int {
	return l.size
}

// InFlight returns the number of permits currently held.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Permit is a single slot held from a Limiter.
type Permit struct {
	limiter  *Limiter
	released atomic.Bool
}

// Release returns the permit to its limiter. Releasing twice panics.
func (p *Permit) Release() {
	if !p.released.CompareAndSwap(false, true) {
		panic("fanout: permit released twice")
	}
	p.limiter.inFlight.Add(-1)
	fanoutInFlight.Dec()
	p.limiter.sem.Release(1)
}
