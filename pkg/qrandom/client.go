// Package qrandom is a Go client for the qrandom HTTP API.
//
//	client := qrandom.New("http://localhost:8000")
//	n, err := client.Random(ctx)
//
// Every method takes a context; the stream stays open until the context is
// cancelled or Close is called.
package qrandom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qrandom/qrandom/internal/core"
	"github.com/qrandom/qrandom/internal/core/entropy"
)

// DefaultBaseURL is the address of a locally running service.
const DefaultBaseURL = "http://localhost:8000"

// DefaultTimeout bounds a single request when HTTPClient is nil.
const DefaultTimeout = 30 * time.Second

// Response types shared with the service.
type (
	RandomNumber  = core.RandomNumberResponse
	RandomBatch   = core.BatchRandomResponse
	StreamMessage = core.StreamMessage
	Stats         = core.ServiceStats
	SourceStatus  = core.SourceStatus
	Quality       = entropy.Summary
)

// Sources is the rotation state reported by GET /sources.
type Sources struct {
	Current string         `json:"current"`
	Sources []SourceStatus `json:"sources"`
}

// ProbeResult is returned by POST /sources/{name}/probe.
type ProbeResult struct {
	Source       string `json:"source"`
	RandomNumber int    `json:"random_number"`
	Preferred    bool   `json:"preferred"`
	Timestamp    string `json:"timestamp"`
}

// ErrInvalidCount is returned before any request when a batch size is
// outside 1..1000.
var ErrInvalidCount = fmt.Errorf("count must be between %d and %d", core.MinCount, core.MaxCount)

// APIError is a non-2xx response decoded from the service error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	// RetryAfter is set from the Retry-After header on 429 responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("qrandom: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("qrandom: %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
}

// IsRateLimited reports whether err is a 429 from the service.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// Client talks to one qrandom service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	UserAgent  string
}

// New returns a client for baseURL, or DefaultBaseURL when empty.
func New(baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{BaseURL: baseURL}
}

// Random fetches one number.
func (c *Client) Random(ctx context.Context) (*RandomNumber, error) {
	var out RandomNumber
	if err := c.do(ctx, http.MethodGet, "/random", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Batch fetches count numbers.
func (c *Client) Batch(ctx context.Context, count int) (*RandomBatch, error) {
	if !core.ValidCount(count) {
		return nil, ErrInvalidCount
	}
	query := url.Values{"count": []string{strconv.Itoa(count)}}
	var out RandomBatch
	if err := c.do(ctx, http.MethodGet, "/random/batch", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Numbers is a convenience wrapper around Batch returning plain ints.
func (c *Client) Numbers(ctx context.Context, count int) ([]int, error) {
	batch, err := c.Batch(ctx, count)
	if err != nil {
		return nil, err
	}
	return batch.RandomNumbers.Ints(), nil
}

// Stats returns service statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quality returns the entropy report over recently served numbers.
func (c *Client) Quality(ctx context.Context) (*Quality, error) {
	var out Quality
	if err := c.do(ctx, http.MethodGet, "/quality", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sources returns the rotation state.
func (c *Client) Sources(ctx context.Context) (*Sources, error) {
	var out Sources
	if err := c.do(ctx, http.MethodGet, "/sources", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Probe fetches one number from the named source and, on success, makes it
// the preferred source of the service.
func (c *Client) Probe(ctx context.Context, name string) (*ProbeResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("source name is required")
	}
	var out ProbeResult
	if err := c.do(ctx, http.MethodPost, "/sources/"+url.PathEscape(name)+"/probe", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	endpoint := c.baseURL() + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response, body []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var envelope struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.RequestID = envelope.Error.RequestID
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	if apiErr.RequestID == "" {
		apiErr.RequestID = resp.Header.Get("X-Request-ID")
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

func (c *Client) baseURL() string {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) httpClient() *http.Client {
	if c != nil && c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: DefaultTimeout}
}
