package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/qrandom/qrandom/internal/errors"
	"github.com/qrandom/qrandom/internal/observability"
)

var metricsProxyClient = &http.Client{Timeout: 5 * time.Second}

// Response headers that stay with the exporter hop.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	MetricsHandler(s.opts.MetricsPort)(w, r)
}

// MetricsHandler serves the Prometheus exporter's output on the API port.
// fallbackPort is scraped when the exporter has not reported its bound port.
func MetricsHandler(fallbackPort int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if observability.PrometheusExporter == nil {
			HandleError(w, r, errors.NewErrorEnvelope(apperrors.CodeServiceUnavailable, "Metrics exporter not initialized"))
			return
		}

		target := exporterURL(fallbackPort)
		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
		if err != nil {
			HandleError(w, r, apperrors.WrapInternal(r.Context(), err, "Unable to build metrics request"))
			return
		}
		if accept := r.Header.Get("Accept"); accept != "" {
			req.Header.Set("Accept", accept)
		}

		resp, err := metricsProxyClient.Do(req)
		if err != nil {
			HandleError(w, r, apperrors.WrapExternalService(r.Context(), err, "Prometheus exporter unavailable"))
			return
		}
		defer resp.Body.Close() // nolint:errcheck

		copyExporterHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil && observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Failed to relay metrics", zap.String("target", target), zap.Error(err))
		}
	}
}

func exporterURL(fallbackPort int) string {
	port := observability.GetMetricsPort()
	if port == 0 {
		port = fallbackPort
	}
	if port == 0 {
		port = observability.DefaultMetricsPort
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
}

func copyExporterHeaders(dst, src http.Header) {
	for key, values := range src {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(key)]; hop {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	if dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", "text/plain; version=0.0.4")
	}
}
