package core

// RandomNumberResponse is returned by the single number endpoint.
type RandomNumberResponse struct {
	RandomNumber int      `json:"random_number"`
	Source       string   `json:"source"`
	Timestamp    string   `json:"timestamp"`
	EntropyScore *float64 `json:"entropy_score,omitempty"`
}

// BatchRandomResponse is returned by the batch endpoint.
type BatchRandomResponse struct {
	RandomNumbers Numbers  `json:"random_numbers"`
	Count         int      `json:"count"`
	Source        string   `json:"source"`
	Timestamp     string   `json:"timestamp"`
	EntropyScore  *float64 `json:"entropy_score,omitempty"`
}

// StreamMessage is one frame of the WebSocket stream.
type StreamMessage struct {
	RandomNumber   int      `json:"random_number"`
	SequenceNumber int64    `json:"sequence_number"`
	Timestamp      string   `json:"timestamp"`
	Source         string   `json:"source,omitempty"`
	EntropyScore   *float64 `json:"entropy_score,omitempty"`
}

// ServiceStats summarises service activity.
type ServiceStats struct {
	TotalRequests       int64   `json:"total_requests"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	AverageResponseTime float64 `json:"average_response_time"`
	EntropyQuality      float64 `json:"entropy_quality"`
	UptimeSeconds       int64   `json:"uptime_seconds"`
	ActiveConnections   int64   `json:"active_connections"`
	CurrentSource       string  `json:"current_source,omitempty"`
}
