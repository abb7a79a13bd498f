package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/qrandom/qrandom/internal/core"
)

// CustomName is the name reported for numbers from a custom provider.
const CustomName = "Custom QRNG"

// DefaultCustomTimeout bounds a single custom provider request.
const DefaultCustomTimeout = 10 * time.Second

// CustomSource fetches numbers from an operator-provided HTTP endpoint that
// answers GET ?count=N with either a JSON array or {"numbers": [...]}.
type CustomSource struct {
	url     *url.URL
	timeout time.Duration
	client  *http.Client
}

// NewCustomSource builds a custom provider source.
func NewCustomSource(rawURL string, timeout time.Duration, client *http.Client) (*CustomSource, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid custom source url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid custom source url %q: scheme must be http or https", rawURL)
	}
	if timeout <= 0 {
		timeout = DefaultCustomTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &CustomSource{url: parsed, timeout: timeout, client: client}, nil
}

func (s *CustomSource) Name() string     { return CustomName }
func (s *CustomSource) Endpoint() string { return s.url.String() }

// Fetch requests count values from the provider.
func (s *CustomSource) Fetch(ctx context.Context, count int) ([]uint8, error) {
	if !core.ValidCount(count) {
		return nil, ErrInvalidCount
	}
	if ctx == nil {
		ctx = context.Background()
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	endpoint := *s.url
	query := endpoint.Query()
	query.Set("count", strconv.Itoa(count))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, s.fail(ReasonRequest, 0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.fail(transportReason(err), 0, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	if resp.StatusCode != http.StatusOK {
		return nil, s.fail(ReasonStatus, resp.StatusCode, nil)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, s.fail(transportReason(err), resp.StatusCode, err)
	}

	numbers, err := decodeCustom([]byte(body), count)
	if err != nil {
		return nil, s.fail(ReasonInvalidFormat, resp.StatusCode, err)
	}
	return numbers, nil
}

func (s *CustomSource) fail(reason string, status int, err error) error {
	return &UpstreamError{Source: CustomName, Reason: reason, StatusCode: status, Err: err}
}

func decodeCustom(body []byte, count int) ([]uint8, error) {
	var list []int
	if err := json.Unmarshal(body, &list); err == nil {
		return validateNumbers(list, count)
	}

	var payload struct {
		Numbers *[]int `json:"numbers"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.Numbers == nil {
		return nil, errors.New("response has neither an array nor a numbers field")
	}
	return validateNumbers(*payload.Numbers, count)
}
