// Package testutil provides testing utilities for usersvc.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Behavior defines how a recorded fetch responds to one key.
type Behavior struct {
	Delay time.Duration
	Err   error

	// IgnoreCancel keeps sleeping for the full Delay even after ctx is done.
	IgnoreCancel bool
}

// Recorder is an instrumented fetch capability. It records how often it was
// called and the peak number of concurrent invocations.
type Recorder[K comparable] struct {
	mu        sync.Mutex
	behaviors map[K]Behavior
	fallback  Behavior
	calls     map[K]int
	total     int
	active    int
	peak      int
	cancelled int
}

// NewRecorder creates a Recorder that applies fallback to keys without a behavior.
func NewRecorder[K comparable](fallback Behavior) *Recorder[K] {
	return &Recorder[K]{
		behaviors: make(map[K]Behavior),
		fallback:  fallback,
		calls:     make(map[K]int),
	}
}

// On sets the behavior for one key.
func (p *Recorder[K]) On(key K, b Behavior) *Recorder[K] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.behaviors[key] = b
	return p
}

// Fetch returns "v<key>" after the configured delay, or the configured error.
func (p *Recorder[K]) Fetch(ctx context.Context, key K) (string, error) {
	p.mu.Lock()
	b, ok := p.behaviors[key]
	if !ok {
		b = p.fallback
	}
	p.calls[key]++
	p.total++
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	if b.Delay > 0 {
		timer := time.NewTimer(b.Delay)
		defer timer.Stop()

		if b.IgnoreCancel {
			<-timer.C
		} else {
			select {
			case <-timer.C:
			case <-ctx.Done():
				p.mu.Lock()
				p.cancelled++
				p.mu.Unlock()
				return "", ctx.Err()
			}
		}
	}

	if b.Err != nil {
		return "", b.Err
	}
	return fmt.Sprintf("v%v", key), nil
}

// Calls returns the number of invocations for key.
func (p *Recorder[K]) Calls(key K) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[key]
}

// Total returns the number of invocations across all keys.
func (p *Recorder[K]) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Peak returns the highest number of concurrent invocations observed.
func (p *Recorder[K]) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Active returns the number of invocations still running.
func (p *Recorder[K]) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Cancelled returns how many invocations returned early because ctx was done.
func (p *Recorder[K]) Cancelled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// WaitIdle blocks until no invocation is running or the timeout elapses.
func (p *Recorder[K]) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.Active() == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return p.Active() == 0
}
