package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrandom/qrandom/internal/core/cache"
	"github.com/qrandom/qrandom/internal/core/engine"
	"github.com/qrandom/qrandom/internal/core/source"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(ctx context.Context) error {
	return s.err
}

func TestHealthHandlerReturnsHealthyStatus(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("ok", stubChecker{err: nil})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	manager.HealthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, StatusHealthy, resp.Checks["ok"])
}

func TestHealthHandlerReportsDegraded(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("cache", stubChecker{err: fmt.Errorf("redis down: %w", ErrDegraded)})

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestHealthHandlerReturnsServiceUnavailableWhenUnhealthy(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("sources", stubChecker{err: errors.New("down")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	manager.HealthHandler(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Error struct {
			Code    string                 `json:"code"`
			Message string                 `json:"message"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)

	checks, ok := resp.Error.Details["checks"].(map[string]interface{})
	require.True(t, ok, "expected checks in error details")
	assert.Equal(t, StatusUnhealthy, checks["sources"])
}

func TestDetermineOverallStatusTreatsTimeoutAsDegraded(t *testing.T) {
	manager := NewHealthManager("dev")

	status := manager.determineOverallStatus(map[string]string{
		"cache": StatusTimeout,
	})
	assert.Equal(t, StatusDegraded, status)
}

func TestStartupProbeWaitsForMarkStarted(t *testing.T) {
	manager := NewHealthManager("dev")

	rec := httptest.NewRecorder()
	manager.StartupHandler(rec, httptest.NewRequest(http.MethodGet, "/health/startup", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	manager.MarkStarted()
	rec = httptest.NewRecorder()
	manager.StartupHandler(rec, httptest.NewRequest(http.MethodGet, "/health/startup", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLivenessIgnoresCheckers(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("sources", stubChecker{err: errors.New("down")})

	rec := httptest.NewRecorder()
	manager.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type failingSource struct{}

func (failingSource) Name() string     { return "Always Fails" }
func (failingSource) Endpoint() string { return "stub://fails" }
func (failingSource) Fetch(context.Context, int) ([]uint8, error) {
	return nil, &source.UpstreamError{Source: "Always Fails", Reason: source.ReasonStatus, StatusCode: 500}
}

func TestSourcesCheck(t *testing.T) {
	ctx := context.Background()

	withoutFallback, err := engine.NewRotation([]source.Source{failingSource{}}, engine.RotationOptions{})
	require.NoError(t, err)
	assert.Error(t, SourcesCheck(withoutFallback).CheckHealth(ctx))

	rotation, err := engine.NewRotation([]source.Source{failingSource{}, source.NewLocalSource()}, engine.RotationOptions{})
	require.NoError(t, err)
	require.NoError(t, SourcesCheck(rotation).CheckHealth(ctx))

	_, err = rotation.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, SourcesCheck(rotation).CheckHealth(ctx), ErrDegraded)
}

func TestCacheCheck(t *testing.T) {
	mem, err := cache.NewMemory(8)
	require.NoError(t, err)
	assert.NoError(t, CacheCheck(mem).CheckHealth(context.Background()))
	assert.NoError(t, CacheCheck(nil).CheckHealth(context.Background()))
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestStoreCheck(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, StoreCheck(nil).CheckHealth(ctx))
	assert.NoError(t, StoreCheck(pingerFunc(func(context.Context) error { return nil })).CheckHealth(ctx))

	err := StoreCheck(pingerFunc(func(context.Context) error { return errors.New("disk full") })).CheckHealth(ctx)
	assert.ErrorIs(t, err, ErrDegraded)
	assert.Contains(t, err.Error(), "disk full")
}
