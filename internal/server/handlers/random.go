package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/qrandom/qrandom/internal/core"
	"github.com/qrandom/qrandom/internal/core/engine"
	apperrors "github.com/qrandom/qrandom/internal/errors"
	"github.com/qrandom/qrandom/internal/observability"
)

// DefaultBatchCount is used when /random/batch has no count parameter.
const DefaultBatchCount = 100

// SourcesResponse lists the rotation state.
type SourcesResponse struct {
	Current string              `json:"current"`
	Sources []core.SourceStatus `json:"sources"`
}

// ProbeResult is returned by a successful source probe.
type ProbeResult struct {
	Source       string `json:"source"`
	RandomNumber int    `json:"random_number"`
	Preferred    bool   `json:"preferred"`
	Timestamp    string `json:"timestamp"`
}

// RandomAPI serves the randomness endpoints.
type RandomAPI struct {
	svc     *engine.Service
	timeout time.Duration
}

// NewRandomAPI returns handlers backed by svc. A positive timeout bounds
// how long one request may spend on sources before falling back.
func NewRandomAPI(svc *engine.Service, timeout time.Duration) *RandomAPI {
	return &RandomAPI{svc: svc, timeout: timeout}
}

// Random handles GET /random.
func (a *RandomAPI) Random(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	resp, err := a.svc.Random(ctx)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Batch handles GET /random/batch?count=N.
func (a *RandomAPI) Batch(w http.ResponseWriter, r *http.Request) {
	count := DefaultBatchCount
	if raw := strings.TrimSpace(r.URL.Query().Get("count")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "count must be an integer"))
			return
		}
		count = parsed
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()

	resp, err := a.svc.Batch(ctx, count)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats handles GET /stats.
func (a *RandomAPI) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.Stats(r.Context())
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Quality handles GET /quality.
func (a *RandomAPI) Quality(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Quality())
}

// Sources handles GET /sources.
func (a *RandomAPI) Sources(w http.ResponseWriter, r *http.Request) {
	rotation := a.svc.Rotation()
	writeJSON(w, http.StatusOK, SourcesResponse{
		Current: rotation.Current(),
		Sources: rotation.Statuses(),
	})
}

// Probe handles POST /sources/{name}/probe.
func (a *RandomAPI) Probe(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || strings.TrimSpace(name) == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("source name is required"))
		return
	}

	ctx, cancel := a.requestContext(r)
	defer cancel()

	result, err := a.svc.Rotation().Probe(ctx, name)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Source probe succeeded",
			zap.String("source", result.Source))
	}
	writeJSON(w, http.StatusOK, ProbeResult{
		Source:       result.Source,
		RandomNumber: int(result.Numbers[0]),
		Preferred:    true,
		Timestamp:    result.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func (a *RandomAPI) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if a.timeout > 0 {
		return context.WithTimeout(r.Context(), a.timeout)
	}
	return context.WithCancel(r.Context())
}
