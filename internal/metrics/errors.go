package metrics

import (
	"strconv"

	"github.com/qrandom/qrandom/internal/observability"
)

const (
	ErrorsTotalName         = "errors_total"
	PanicsTotalName         = "panics_total"
	ErrorsByEndpointName    = "errors_by_endpoint"
	SourceFailuresTotalName = "source_failures_total"
)

// RecordError counts an error response by envelope code and HTTP status.
func RecordError(code string, status int) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(ErrorsTotalName, 1, map[string]string{
		"error_code":  code,
		"http_status": strconv.Itoa(status),
	})
}

// RecordErrorByEndpoint counts an error response by route. endpoint should
// be a route pattern, not a raw path.
func RecordErrorByEndpoint(endpoint, code string) {
	if observability.TelemetrySystem == nil {
		return
	}
	if endpoint == "" {
		endpoint = "/unknown"
	}
	_ = observability.TelemetrySystem.Counter(ErrorsByEndpointName, 1, map[string]string{
		"endpoint":   endpoint,
		"error_code": code,
	})
}

// RecordSourceFailure counts a failed source attempt by failure reason
// (rate limited, timeout, invalid format...).
func RecordSourceFailure(source, reason string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(SourceFailuresTotalName, 1, map[string]string{
		"source": source,
		"reason": reason,
	})
}

func RecordPanic() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PanicsTotalName, 1, nil)
	}
}
