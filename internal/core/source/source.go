// Package source implements the providers the rotation manager draws
// random integers from: the rate-limited ANU QRNG API, an optional custom
// HTTP provider and the local crypto/rand fallback.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/qrandom/qrandom/internal/core"
)

// Source produces integers in [0,255] on demand.
type Source interface {
	// Name identifies the source in results and logs.
	Name() string

	// Endpoint describes where numbers come from.
	Endpoint() string

	// Fetch returns exactly count integers or fails.
	Fetch(ctx context.Context, count int) ([]uint8, error)
}

// Infallible marks sources that never return an error.
type Infallible interface {
	Infallible() bool
}

// ErrInvalidCount is returned when count is outside [core.MinCount, core.MaxCount].
var ErrInvalidCount = fmt.Errorf("count must be between %d and %d", core.MinCount, core.MaxCount)

// Upstream failure reasons.
const (
	ReasonTimeout       = "timeout"
	ReasonCancelled     = "cancelled"
	ReasonInvalidFormat = "invalid format"
	ReasonRateLimited   = "rate limited"
	ReasonStatus        = "unexpected status"
	ReasonRequest       = "request failed"
)

// UpstreamError reports a failure of a single source. Rotation treats it as
// recoverable and moves on to the next source.
type UpstreamError struct {
	Source     string
	Reason     string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Source + ": " + e.Reason
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstream reports whether err is an UpstreamError, optionally with the
// given reason.
func IsUpstream(err error, reason ...string) bool {
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		return false
	}
	if len(reason) == 0 {
		return true
	}
	for _, r := range reason {
		if upstream.Reason == r {
			return true
		}
	}
	return false
}

// FailureReason returns the UpstreamError reason carried by err, or "other".
func FailureReason(err error) string {
	var upstream *UpstreamError
	if errors.As(err, &upstream) && upstream.Reason != "" {
		return upstream.Reason
	}
	return "other"
}

func validateNumbers(values []int, count int) ([]uint8, error) {
	if len(values) != count {
		return nil, fmt.Errorf("expected %d values, got %d", count, len(values))
	}
	out := make([]uint8, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("value %d at index %d is outside [0,255]", v, i)
		}
		out[i] = uint8(v)
	}
	return out, nil
}
