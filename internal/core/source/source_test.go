package source

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFailureReason(t *testing.T) {
	limited := &UpstreamError{Source: ANUName, Reason: ReasonRateLimited, StatusCode: 500}

	require.Equal(t, ReasonRateLimited, FailureReason(limited))
	require.Equal(t, ReasonRateLimited, FailureReason(fmt.Errorf("attempt 2: %w", limited)))
	require.Equal(t, "other", FailureReason(errors.New("boom")))
	require.Equal(t, "other", FailureReason(&UpstreamError{Source: ANUName}))
}

func TestIsUpstream(t *testing.T) {
	timeout := &UpstreamError{Source: "custom", Reason: ReasonTimeout}

	require.True(t, IsUpstream(timeout))
	require.True(t, IsUpstream(timeout, ReasonRateLimited, ReasonTimeout))
	require.False(t, IsUpstream(timeout, ReasonRateLimited))
	require.False(t, IsUpstream(errors.New("plain")))
	require.Equal(t, "custom: timeout", timeout.Error())
}
