package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrandom/qrandom/internal/core"
	"github.com/qrandom/qrandom/internal/core/cache"
	"github.com/qrandom/qrandom/internal/core/engine"
	"github.com/qrandom/qrandom/internal/core/entropy"
	"github.com/qrandom/qrandom/internal/core/source"
	apperrors "github.com/qrandom/qrandom/internal/errors"
	"github.com/qrandom/qrandom/internal/server/handlers"
)

type failingSource struct{ name string }

func (f failingSource) Name() string     { return f.name }
func (f failingSource) Endpoint() string { return "stub://" + f.name }
func (f failingSource) Fetch(context.Context, int) ([]uint8, error) {
	return nil, &source.UpstreamError{Source: f.name, Reason: source.ReasonRateLimited, StatusCode: 500}
}

func newTestServer(t *testing.T, opts Options, sources ...source.Source) *Server {
	t.Helper()
	if len(sources) == 0 {
		sources = []source.Source{source.NewLocalSource()}
	}
	rotation, err := engine.NewRotation(sources, engine.RotationOptions{})
	require.NoError(t, err)

	mem, err := cache.NewMemory(64)
	require.NoError(t, err)
	svc, err := engine.NewService(rotation, engine.ServiceOptions{Cache: mem})
	require.NoError(t, err)

	opts.Service = svc
	return New(opts)
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New(Options{Host: "127.0.0.1"})

	rec := get(t, srv.Handler(), http.MethodGet, "/does-not-exist")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Error.Code)
}

func TestRandomEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := get(t, srv.Handler(), http.MethodGet, "/random")
	require.Equal(t, http.StatusOK, rec.Code)

	var body core.RandomNumberResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.GreaterOrEqual(t, body.RandomNumber, 0)
	assert.LessOrEqual(t, body.RandomNumber, 255)
	assert.Equal(t, source.LocalName, body.Source)
	require.NotNil(t, body.EntropyScore)

	rec = get(t, srv.Handler(), http.MethodGet, "/random")
	var cached core.RandomNumberResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cached))
	assert.Equal(t, core.CacheSourceName, cached.Source)
	assert.Equal(t, body.RandomNumber, cached.RandomNumber)
}

func TestBatchEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := get(t, srv.Handler(), http.MethodGet, "/random/batch?count=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var body core.BatchRandomResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.RandomNumbers, 5)
	assert.Equal(t, 5, body.Count)

	rec = get(t, srv.Handler(), http.MethodGet, "/random/batch")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, handlers.DefaultBatchCount, body.Count)

	for _, query := range []string{"count=0", "count=1001", "count=abc"} {
		rec = get(t, srv.Handler(), http.MethodGet, "/random/batch?"+query)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
		assert.Equal(t, apperrors.CodeInvalidInput, decodeError(t, rec).Error.Code)
	}
}

func TestSourcesExhaustedReturns503(t *testing.T) {
	srv := newTestServer(t, Options{}, failingSource{name: "ANU QRNG"})

	rec := get(t, srv.Handler(), http.MethodGet, "/random")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, apperrors.CodeSourcesExhausted, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestStatsQualityAndSources(t *testing.T) {
	srv := newTestServer(t, Options{}, failingSource{name: "ANU QRNG"}, source.NewLocalSource())
	h := srv.Handler()

	require.Equal(t, http.StatusOK, get(t, h, http.MethodGet, "/random/batch?count=200").Code)

	rec := get(t, h, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats core.ServiceStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, source.LocalName, stats.CurrentSource)

	rec = get(t, h, http.MethodGet, "/quality")
	require.Equal(t, http.StatusOK, rec.Code)
	var quality entropy.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&quality))
	assert.Equal(t, 200, quality.SampleSize)
	assert.Len(t, quality.Histogram, 16)

	rec = get(t, h, http.MethodGet, "/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	var sources handlers.SourcesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sources))
	assert.Equal(t, source.LocalName, sources.Current)
	require.Len(t, sources.Sources, 2)
	assert.Equal(t, int64(1), sources.Sources[0].Failures)
	assert.Equal(t, int64(1), sources.Sources[1].Successes)
}

func TestProbeEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{}, failingSource{name: "ANU QRNG"}, source.NewLocalSource())
	h := srv.Handler()

	rec := get(t, h, http.MethodPost, "/sources/local-fallback-qrng/probe")
	require.Equal(t, http.StatusOK, rec.Code)
	var probe handlers.ProbeResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&probe))
	assert.Equal(t, source.LocalName, probe.Source)
	assert.True(t, probe.Preferred)

	rec = get(t, h, http.MethodPost, "/sources/ANU%20QRNG/probe")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, apperrors.CodeExternalService, decodeError(t, rec).Error.Code)

	rec = get(t, h, http.MethodPost, "/sources/nope/probe")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, h, http.MethodGet, "/sources/nope/probe")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPagesAndHealth(t *testing.T) {
	srv := newTestServer(t, Options{})
	h := srv.Handler()

	for _, path := range []string{"/", "/visualize"} {
		rec := get(t, h, http.MethodGet, path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	}

	assert.Equal(t, http.StatusOK, get(t, h, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusOK, get(t, h, http.MethodGet, "/health/live").Code)

	rec := get(t, h, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, rec.Code)
	var version handlers.VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&version))
	assert.Equal(t, []string{source.LocalName}, version.Sources)
}

func TestInboundRateLimit(t *testing.T) {
	srv := newTestServer(t, Options{RateLimiter: engine.NewRateLimiter(1, 0)})
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, http.MethodGet, "/quality").Code)
	rec := get(t, h, http.MethodGet, "/quality")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestStreamEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{StreamInterval: 5 * time.Millisecond})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/random/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close() // nolint:errcheck // test teardown
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 3; i++ {
		var msg core.StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, int64(i), msg.SequenceNumber)
		assert.Equal(t, source.LocalName, msg.Source)
		assert.GreaterOrEqual(t, msg.RandomNumber, 0)
		assert.LessOrEqual(t, msg.RandomNumber, 255)
	}

	assert.Equal(t, int64(1), srv.opts.Service.Tracker().ActiveConnections())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return srv.opts.Service.Tracker().ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
