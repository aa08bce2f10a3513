package fanout

import (
	"errors"
	"fmt"
)

// Common errors returned by FetchAll.
var (
	// ErrInvalidPolicy is matched by every *ConfigError.
	ErrInvalidPolicy = errors.New("invalid fan-out policy")

	// ErrTimeout is the cause recorded for an item whose fetch did not settle
	// before its per-item deadline.
	ErrTimeout = errors.New("fetch deadline exceeded")

	// ErrAborted is matched by every *AbortError.
	ErrAborted = errors.New("batch aborted")
)

// ConfigError reports an invalid Policy. It is returned before any fetch is dispatched.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid policy: %s %s", e.Field, e.Message)
}

// Is reports whether target is ErrInvalidPolicy.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidPolicy
}

// AbortError is the result of a FailFast batch that observed a failing item.
// It carries the first failing outcome by completion order.
type AbortError[K comparable] struct {
	Key    K
	Index  int
	Status Status
	Err    error
}

// Error implements the error interface.
func (e *AbortError[K]) Error() string {
	return fmt.Sprintf("batch aborted: item %d (key %v) %s: %v", e.Index, e.Key, e.Status, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AbortError[K]) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrAborted.
func (e *AbortError[K]) Is(target error) bool {
	return target == ErrAborted
}

// TimedOut reports whether the batch was aborted by a per-item deadline.
func (e *AbortError[K]) TimedOut() bool {
	return e.Status == StatusTimedOut
}
