package metrics

import (
	"time"

	"github.com/qrandom/qrandom/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Source metrics
	SourceFetchesTotal    = "source_fetches_total"
	SourceFetchDuration   = "source_fetch_duration_ms"
	NumbersServedTotal    = "random_numbers_served_total"
	CacheLookupsTotal     = "cache_lookups_total"
	StreamMessagesTotal   = "stream_messages_total"
	ActiveStreams         = "stream_active_connections"
	RotationFailoverTotal = "rotation_exhausted_total"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordSourceFetch records one attempt against a randomness source.
func RecordSourceFetch(source string, success bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}

	_ = observability.TelemetrySystem.Counter(
		SourceFetchesTotal,
		1,
		map[string]string{
			"source": source,
			"status": status,
		},
	)

	_ = observability.TelemetrySystem.Histogram(
		SourceFetchDuration,
		duration,
		map[string]string{
			"source": source,
		},
	)
}

// RecordExhausted counts requests for which every source failed.
func RecordExhausted() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RotationFailoverTotal, 1, nil)
	}
}

// RecordNumbersServed counts numbers handed to callers, by origin
// ("cache" or a source name).
func RecordNumbersServed(origin string, count int) {
	if observability.TelemetrySystem != nil && count > 0 {
		_ = observability.TelemetrySystem.Counter(
			NumbersServedTotal,
			float64(count),
			map[string]string{
				"origin": origin,
			},
		)
	}
}

// RecordCacheLookup records a cache hit or miss for a key family.
func RecordCacheLookup(kind string, hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheLookupsTotal,
			1,
			map[string]string{
				"kind":   kind,
				"result": result,
			},
		)
	}
}

// RecordStreamMessage counts one message pushed to a WebSocket client.
func RecordStreamMessage() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(StreamMessagesTotal, 1, nil)
	}
}

// SetActiveStreams sets the current number of open stream connections
func SetActiveStreams(count int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ActiveStreams,
			float64(count),
			nil,
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerUptime,
			float64(seconds),
			nil,
		)
	}
}
