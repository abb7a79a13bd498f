package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/qrandom/qrandom/internal/core"
)

// ANUName is the name reported for numbers fetched from the ANU QRNG API.
const ANUName = "ANU QRNG"

// Defaults for the ANU QRNG API. The cooldown matches the limit the public
// API enforces (one request per minute, plus slack).
const (
	DefaultANUURL      = "https://qrng.anu.edu.au/API/jsonI.php"
	DefaultANUTimeout  = 10 * time.Second
	DefaultANUCooldown = 65 * time.Second
)

// rateLimitRetries bounds how often a rate-limited request is retried.
const rateLimitRetries = 1

// CooldownStore persists the request gate of a rate-limited source.
type CooldownStore interface {
	GetCooldown(ctx context.Context, source string) (*core.CooldownState, error)
	UpdateCooldown(ctx context.Context, state *core.CooldownState) error
}

// ANUOptions configures an ANUSource.
type ANUOptions struct {
	URL      string
	Timeout  time.Duration
	Cooldown time.Duration
	Client   *http.Client
	Store    CooldownStore
	Clock    func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// ANUSource fetches uint8 values from the ANU QRNG JSON API while keeping at
// least Cooldown between consecutive requests.
type ANUSource struct {
	url     *url.URL
	timeout time.Duration
	client  *http.Client
	store   CooldownStore
	clock   func() time.Time
	gate    *Gate

	requests        atomic.Int64
	lastRequestAt   atomic.Int64
	lastRateLimited atomic.Int64
}

// NewANUSource builds the rate-limited primary source.
func NewANUSource(opts ANUOptions) (*ANUSource, error) {
	raw := opts.URL
	if raw == "" {
		raw = DefaultANUURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid ANU url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid ANU url %q: scheme must be http or https", raw)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultANUTimeout
	}
	cooldown := opts.Cooldown
	if cooldown < 0 {
		cooldown = 0
	}
	if opts.Cooldown == 0 {
		cooldown = DefaultANUCooldown
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	s := &ANUSource{
		url:     parsed,
		timeout: timeout,
		client:  client,
		store:   opts.Store,
		clock:   opts.Clock,
	}
	s.gate = &Gate{Cooldown: cooldown, Clock: s.now, Sleep: opts.Sleep}
	return s, nil
}

func (s *ANUSource) Name() string     { return ANUName }
func (s *ANUSource) Endpoint() string { return s.url.String() }

// Cooldown returns the minimum spacing between requests.
func (s *ANUSource) Cooldown() time.Duration { return s.gate.Cooldown }

// NextAllowed returns the earliest time the next request may be dispatched.
func (s *ANUSource) NextAllowed() time.Time { return s.gate.NextAllowed() }

// Ready reports whether a request could go out now: nothing in flight and
// the cooldown has passed.
func (s *ANUSource) Ready() bool { return s.gate.Ready() }

// Restore loads persisted cooldown state so a restart keeps honouring the
// upstream limit.
func (s *ANUSource) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	state, err := s.store.GetCooldown(ctx, ANUName)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}
	s.gate.Restore(state.NextAllowedAt)
	s.requests.Store(state.RequestCount)
	if !state.LastRequestAt.IsZero() {
		s.lastRequestAt.Store(state.LastRequestAt.UnixNano())
	}
	if state.LastRateLimited != nil {
		s.lastRateLimited.Store(state.LastRateLimited.UnixNano())
	}
	return nil
}

// State returns the current cooldown bookkeeping.
func (s *ANUSource) State() core.CooldownState {
	state := core.CooldownState{
		Source:        ANUName,
		NextAllowedAt: s.gate.NextAllowed(),
		RequestCount:  s.requests.Load(),
	}
	if ns := s.lastRequestAt.Load(); ns != 0 {
		state.LastRequestAt = time.Unix(0, ns).UTC()
	}
	if ns := s.lastRateLimited.Load(); ns != 0 {
		value := time.Unix(0, ns).UTC()
		state.LastRateLimited = &value
	}
	return state
}

// Fetch returns count values from the API. A rate-limited response is
// retried once after the full cooldown.
func (s *ANUSource) Fetch(ctx context.Context, count int) ([]uint8, error) {
	if !core.ValidCount(count) {
		return nil, ErrInvalidCount
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var lastErr error
	for attempt := 0; attempt <= rateLimitRetries; attempt++ {
		numbers, err := s.attempt(ctx, count)
		if err == nil {
			return numbers, nil
		}
		lastErr = err
		if !IsUpstream(err, ReasonRateLimited) {
			return nil, err
		}
	}
	return nil, lastErr
}

// attempt makes one gated request. Every path after a successful Wait
// ends in complete, which releases the gate for the next caller.
func (s *ANUSource) attempt(ctx context.Context, count int) ([]uint8, error) {
	endpoint := *s.url
	query := endpoint.Query()
	query.Set("length", strconv.Itoa(count))
	query.Set("type", "uint8")
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, s.fail(ReasonRequest, 0, err)
	}
	req.Header.Set("Accept", "application/json")

	if _, err := s.gate.Wait(ctx); err != nil {
		return nil, s.fail(transportReason(err), 0, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.requests.Add(1)
	resp, err := s.client.Do(req.WithContext(reqCtx))
	respondedAt := s.now()
	if err != nil {
		s.complete(ctx, respondedAt, false)
		return nil, s.fail(transportReason(err), 0, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	body, readErr := readBody(resp)
	if readErr != nil {
		s.complete(ctx, respondedAt, false)
		return nil, s.fail(transportReason(readErr), resp.StatusCode, readErr)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		s.complete(ctx, respondedAt, false)
		numbers, err := decodeANU(body, count)
		if err != nil {
			return nil, s.fail(ReasonInvalidFormat, resp.StatusCode, err)
		}
		return numbers, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		if wait := retryAfterHeader(resp, respondedAt); wait > 0 {
			s.gate.Defer(respondedAt.Add(wait))
		}
		s.complete(ctx, respondedAt, true)
		return nil, s.fail(ReasonRateLimited, resp.StatusCode, nil)
	case resp.StatusCode >= 500 && isRateLimitBody(body):
		s.complete(ctx, respondedAt, true)
		return nil, s.fail(ReasonRateLimited, resp.StatusCode, nil)
	default:
		s.complete(ctx, respondedAt, false)
		return nil, s.fail(ReasonStatus, resp.StatusCode, nil)
	}
}

// complete pushes the gate past the response time and persists the state.
func (s *ANUSource) complete(ctx context.Context, respondedAt time.Time, rateLimited bool) {
	s.gate.Complete(respondedAt)
	s.lastRequestAt.Store(respondedAt.UnixNano())
	if rateLimited {
		s.lastRateLimited.Store(respondedAt.UnixNano())
	}

	if s.store == nil {
		return
	}
	state := s.State()
	// Persisting is best effort; a lost write only costs one early request
	// after a restart.
	_ = s.store.UpdateCooldown(context.WithoutCancel(ctx), &state)
}

func (s *ANUSource) fail(reason string, status int, err error) error {
	return &UpstreamError{Source: ANUName, Reason: reason, StatusCode: status, Err: err}
}

func (s *ANUSource) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now().UTC()
}

func decodeANU(body string, count int) ([]uint8, error) {
	var payload struct {
		Data    *[]int `json:"data"`
		Success *bool  `json:"success"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, err
	}
	if payload.Data == nil {
		return nil, errors.New("response has no data array")
	}
	if payload.Success != nil && !*payload.Success {
		return nil, errors.New("response reports success=false")
	}
	return validateNumbers(*payload.Data, count)
}
