package core

import "time"

// CooldownState captures the persisted request gate of a rate-limited source.
type CooldownState struct {
	Source          string     `json:"source" yaml:"source"`
	LastRequestAt   time.Time  `json:"last_request_at" yaml:"last_request_at"`
	NextAllowedAt   time.Time  `json:"next_allowed_at" yaml:"next_allowed_at"`
	LastRateLimited *time.Time `json:"last_rate_limited_at,omitempty" yaml:"last_rate_limited_at,omitempty"`
	RequestCount    int64      `json:"request_count" yaml:"request_count"`
}

// FetchOutcome classifies a recorded fetch.
type FetchOutcome string

const (
	FetchOutcomeSuccess FetchOutcome = "success"
	FetchOutcomeFailure FetchOutcome = "failure"
)

// FetchRecord is one entry of the fetch history log.
type FetchRecord struct {
	ID        string        `json:"id" yaml:"id"`
	Source    string        `json:"source" yaml:"source"`
	Count     int           `json:"count" yaml:"count"`
	Outcome   FetchOutcome  `json:"outcome" yaml:"outcome"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration"`
	FetchedAt time.Time     `json:"fetched_at" yaml:"fetched_at"`
}

// SourceStatus reports rotation bookkeeping for one source.
type SourceStatus struct {
	Name        string     `json:"name" yaml:"name"`
	Endpoint    string     `json:"endpoint" yaml:"endpoint"`
	Index       int        `json:"index" yaml:"index"`
	Current     bool       `json:"current" yaml:"current"`
	Successes   int64      `json:"successes" yaml:"successes"`
	Failures    int64      `json:"failures" yaml:"failures"`
	LastError   string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty" yaml:"last_success,omitempty"`
	LastFailure *time.Time `json:"last_failure,omitempty" yaml:"last_failure,omitempty"`
	NextAllowed *time.Time `json:"next_allowed_at,omitempty" yaml:"next_allowed_at,omitempty"`
}
