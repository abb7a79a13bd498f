package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestANU(t *testing.T, serverURL string, clock *fakeClock, opts ANUOptions) *ANUSource {
	t.Helper()
	opts.URL = serverURL
	if clock != nil {
		opts.Clock = clock.Now
		opts.Sleep = clock.Sleep
	}
	src, err := NewANUSource(opts)
	require.NoError(t, err)
	return src
}

func TestANUSourceReturnsData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "3", r.URL.Query().Get("length"))
		require.Equal(t, "uint8", r.URL.Query().Get("type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"uint8","length":3,"data":[7,200,3],"success":true}`))
	}))
	defer server.Close()

	src := newTestANU(t, server.URL, newFakeClock(), ANUOptions{})
	numbers, err := src.Fetch(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, []uint8{7, 200, 3}, numbers)
	require.Equal(t, ANUName, src.Name())
	require.Equal(t, int64(1), src.State().RequestCount)
}

func TestANUSourceInvalidFormat(t *testing.T) {
	cases := map[string]string{
		"missing data":  `{"success":true}`,
		"wrong length":  `{"data":[1,2]}`,
		"out of range":  `{"data":[1,2,256]}`,
		"not json":      `<html>oops</html>`,
		"success false": `{"data":[1,2,3],"success":false}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			src := newTestANU(t, server.URL, newFakeClock(), ANUOptions{})
			_, err := src.Fetch(context.Background(), 3)
			require.Error(t, err)
			require.True(t, IsUpstream(err, ReasonInvalidFormat), "got %v", err)
		})
	}
}

func TestANUSourceRetriesOnceAfterRateLimit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("The QRNG API is limited to 1 requests per minute. Rate limit exceeded."))
			return
		}
		_, _ = w.Write([]byte(`{"data":[1,2,3,4]}`))
	}))
	defer server.Close()

	clock := newFakeClock()
	src := newTestANU(t, server.URL, clock, ANUOptions{})

	numbers, err := src.Fetch(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, []uint8{1, 2, 3, 4}, numbers)
	require.Equal(t, int32(2), hits.Load())
	require.Equal(t, []time.Duration{DefaultANUCooldown}, clock.Waits())
	require.NotNil(t, src.State().LastRateLimited)
}

func TestANUSourceGivesUpAfterSecondRateLimit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("rate limit exceeded"))
	}))
	defer server.Close()

	src := newTestANU(t, server.URL, newFakeClock(), ANUOptions{})
	_, err := src.Fetch(context.Background(), 1)
	require.Error(t, err)
	require.True(t, IsUpstream(err, ReasonRateLimited))
	require.Equal(t, int32(2), hits.Load())
}

func TestANUSourceTooManyRequestsHonoursRetryAfter(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":[9]}`))
	}))
	defer server.Close()

	clock := newFakeClock()
	src := newTestANU(t, server.URL, clock, ANUOptions{})

	numbers, err := src.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []uint8{9}, numbers)
	require.Equal(t, []time.Duration{120 * time.Second}, clock.Waits())
}

func TestANUSourceOtherStatusFailsWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer server.Close()

	src := newTestANU(t, server.URL, newFakeClock(), ANUOptions{})
	_, err := src.Fetch(context.Background(), 1)
	require.True(t, IsUpstream(err, ReasonStatus))

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusInternalServerError, upstream.StatusCode)
	require.Equal(t, int32(1), hits.Load())
}

func TestANUSourceSecondCallWaitsForRemainingCooldown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[5]}`))
	}))
	defer server.Close()

	clock := newFakeClock()
	src := newTestANU(t, server.URL, clock, ANUOptions{})

	_, err := src.Fetch(context.Background(), 1)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	_, err = src.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{DefaultANUCooldown - 10*time.Second}, clock.Waits())
}

func TestANUSourceSpacesRealRequests(t *testing.T) {
	var mu sync.Mutex
	var seen []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, time.Now())
		mu.Unlock()
		_, _ = w.Write([]byte(`{"data":[5]}`))
	}))
	defer server.Close()

	cooldown := 80 * time.Millisecond
	src := newTestANU(t, server.URL, nil, ANUOptions{Cooldown: cooldown})

	_, err := src.Fetch(context.Background(), 1)
	require.NoError(t, err)
	_, err = src.Fetch(context.Background(), 1)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	require.GreaterOrEqual(t, seen[1].Sub(seen[0]), cooldown-5*time.Millisecond)
}

func TestANUSourceConcurrentCallersWaitForPreviousResponse(t *testing.T) {
	type exchange struct{ started, finished time.Time }
	var mu sync.Mutex
	var exchanges []exchange
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		time.Sleep(150 * time.Millisecond)
		_, _ = w.Write([]byte(`{"data":[5]}`))
		mu.Lock()
		exchanges = append(exchanges, exchange{started: started, finished: time.Now()})
		mu.Unlock()
	}))
	defer server.Close()

	cooldown := 200 * time.Millisecond
	src := newTestANU(t, server.URL, nil, ANUOptions{Cooldown: cooldown})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = src.Fetch(context.Background(), 1)
		}()
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, exchanges, 2)
	gap := exchanges[1].started.Sub(exchanges[0].finished)
	require.GreaterOrEqual(t, gap, cooldown, "second request went out %v after the first response", gap)
}

func TestANUSourceTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	src := newTestANU(t, server.URL, newFakeClock(), ANUOptions{Timeout: 20 * time.Millisecond})
	_, err := src.Fetch(context.Background(), 1)
	require.Error(t, err)
	require.True(t, IsUpstream(err, ReasonTimeout), "got %v", err)
}

func TestANUSourceCancelledWhileWaiting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[5]}`))
	}))
	defer server.Close()

	src := newTestANU(t, server.URL, nil, ANUOptions{Cooldown: time.Hour})
	_, err := src.Fetch(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = src.Fetch(ctx, 1)
	require.Error(t, err)
	require.True(t, IsUpstream(err, ReasonTimeout, ReasonCancelled))
	require.Less(t, time.Since(start), time.Second)
}

func TestANUSourceRejectsInvalidCount(t *testing.T) {
	src := newTestANU(t, "http://127.0.0.1:1", newFakeClock(), ANUOptions{})
	_, err := src.Fetch(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidCount)
	_, err = src.Fetch(context.Background(), 1001)
	require.ErrorIs(t, err, ErrInvalidCount)
}

func TestANUSourcePersistsAndRestoresCooldown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[5]}`))
	}))
	defer server.Close()

	store := &memoryCooldownStore{}
	clock := newFakeClock()
	first := newTestANU(t, server.URL, clock, ANUOptions{Store: store})

	_, err := first.Fetch(context.Background(), 1)
	require.NoError(t, err)

	state, err := store.GetCooldown(context.Background(), ANUName)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, clock.Now().Add(DefaultANUCooldown), state.NextAllowedAt)
	require.Equal(t, int64(1), state.RequestCount)

	second := newTestANU(t, server.URL, clock, ANUOptions{Store: store})
	require.NoError(t, second.Restore(context.Background()))
	require.Equal(t, state.NextAllowedAt, second.NextAllowed())
	require.Equal(t, int64(1), second.State().RequestCount)
}

func TestNewANUSourceValidatesURL(t *testing.T) {
	_, err := NewANUSource(ANUOptions{URL: "ftp://example.com"})
	require.Error(t, err)

	src, err := NewANUSource(ANUOptions{})
	require.NoError(t, err)
	require.Equal(t, DefaultANUURL, src.Endpoint())
	require.Equal(t, DefaultANUCooldown, src.Cooldown())

	disabled, err := NewANUSource(ANUOptions{Cooldown: -1})
	require.NoError(t, err)
	require.Zero(t, disabled.Cooldown())
}
