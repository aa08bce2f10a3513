package fanout

import (
	"time"
)

// Mode names used in logs and metric labels.
const (
	ModeFailFast   = "fail_fast"
	ModeBestEffort = "best_effort"
)

// Policy configures a single FetchAll call.
type Policy struct {
	// MaxConcurrency is the maximum number of fetches running at once.
	MaxConcurrency int

	// PerItemTimeout bounds each fetch individually, not the batch.
	PerItemTimeout time.Duration

	// FailFast aborts the batch on the first failed or timed out item.
	// When false, failed items are dropped and the batch always completes.
	FailFast bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxConcurrency: 20,
		PerItemTimeout: 5 * time.Second,
		FailFast:       false,
	}
}

// Validate returns a *ConfigError if the policy cannot be executed.
func (p Policy) Validate() error {
	if p.MaxConcurrency < 1 {
		return &ConfigError{Field: "max_concurrency", Message: "must be >= 1"}
	}
	if p.PerItemTimeout <= 0 {
		return &ConfigError{Field: "per_item_timeout", Message: "must be > 0"}
	}
	return nil
}

// Mode returns ModeFailFast or ModeBestEffort.
func (p Policy) Mode() string {
	if p.FailFast {
		return ModeFailFast
	}
	return ModeBestEffort
}
