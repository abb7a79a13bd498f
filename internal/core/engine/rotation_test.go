package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qrandom/qrandom/internal/core"
	"github.com/qrandom/qrandom/internal/core/source"
)

type stubSource struct {
	name  string
	fail  bool
	calls atomic.Int32
	value uint8
}

func (s *stubSource) Name() string     { return s.name }
func (s *stubSource) Endpoint() string { return "stub://" + s.name }

func (s *stubSource) Fetch(ctx context.Context, count int) ([]uint8, error) {
	s.calls.Add(1)
	if s.fail {
		return nil, &source.UpstreamError{Source: s.name, Reason: source.ReasonStatus, StatusCode: 500}
	}
	out := make([]uint8, count)
	for i := range out {
		out[i] = s.value
	}
	return out, nil
}

type gatedSource struct {
	stubSource
	ready atomic.Bool
}

func (s *gatedSource) Ready() bool { return s.ready.Load() }

type shortSource struct{ stubSource }

func (s *shortSource) Fetch(ctx context.Context, count int) ([]uint8, error) {
	return []uint8{1}, nil
}

func newRotation(t *testing.T, sources ...source.Source) *Rotation {
	t.Helper()
	r, err := NewRotation(sources, RotationOptions{})
	require.NoError(t, err)
	return r
}

func TestNewRotationRejectsEmptyList(t *testing.T) {
	_, err := NewRotation(nil, RotationOptions{})
	require.ErrorIs(t, err, ErrNoSources)
}

func TestRotationFallsBackToLocal(t *testing.T) {
	failing := &stubSource{name: "Always Fails", fail: true}
	r := newRotation(t, failing, source.NewLocalSource())

	result, err := r.Fetch(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, result.Numbers, 5)
	require.Equal(t, source.LocalName, result.Source)
	require.Equal(t, 5, result.Count)
	require.NotEmpty(t, result.ID)
	require.Equal(t, source.LocalName, r.Current())
}

func TestRotationStartsAtLastSuccessfulSource(t *testing.T) {
	primary := &stubSource{name: "Primary", fail: true}
	secondary := &stubSource{name: "Secondary", value: 2}
	r := newRotation(t, primary, secondary)

	_, err := r.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), primary.calls.Load())

	primary.fail = false
	result, err := r.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Secondary", result.Source)
	require.Equal(t, int32(1), primary.calls.Load())
}

func TestRotationWrapsAround(t *testing.T) {
	first := &stubSource{name: "First", value: 1}
	second := &stubSource{name: "Second", fail: true}
	third := &stubSource{name: "Third", value: 3}
	r := newRotation(t, first, second, third)

	first.fail = true
	result, err := r.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Third", result.Source)

	third.fail = true
	first.fail = false
	result, err = r.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "First", result.Source)
	require.Equal(t, core.Numbers{1}, result.Numbers)
}

func TestRotationAllSourcesExhausted(t *testing.T) {
	a := &stubSource{name: "A", fail: true}
	b := &stubSource{name: "B", fail: true}
	r := newRotation(t, a, b)

	_, err := r.Fetch(context.Background(), 3)
	require.Error(t, err)

	var exhausted *AllSourcesExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Len(t, exhausted.Attempts, 2)
	require.True(t, source.IsUpstream(exhausted.Last))
	require.Contains(t, err.Error(), "B")
}

func TestRotationNeverExhaustedWhileOneSourceWorks(t *testing.T) {
	sources := []source.Source{
		&stubSource{name: "A", fail: true},
		&stubSource{name: "B", fail: true},
		&stubSource{name: "C", value: 9},
		&stubSource{name: "D", fail: true},
	}
	r := newRotation(t, sources...)
	for i := 0; i < 10; i++ {
		result, err := r.Fetch(context.Background(), 2)
		require.NoError(t, err)
		require.Equal(t, "C", result.Source)
	}
}

func TestRotationCountBounds(t *testing.T) {
	r := newRotation(t, source.NewLocalSource())

	for _, count := range []int{1, 2, 17, 255, 999, 1000} {
		result, err := r.Fetch(context.Background(), count)
		require.NoError(t, err)
		require.Len(t, result.Numbers, count)
	}

	for _, count := range []int{-1, 0, 1001} {
		_, err := r.Fetch(context.Background(), count)
		require.ErrorIs(t, err, source.ErrInvalidCount)
	}
}

func TestRotationRejectsShortResults(t *testing.T) {
	short := &shortSource{stubSource{name: "Short"}}
	r := newRotation(t, short, source.NewLocalSource())

	result, err := r.Fetch(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, source.LocalName, result.Source)

	statuses := r.Statuses()
	require.Equal(t, int64(1), statuses[0].Failures)
	require.Contains(t, statuses[0].LastError, "invalid format")
}

func TestRotationFetchSingle(t *testing.T) {
	r := newRotation(t, &stubSource{name: "Seven", value: 7})
	result, err := r.FetchSingle(context.Background())
	require.NoError(t, err)
	require.Equal(t, core.Numbers{7}, result.Numbers)
}

func TestRotationProbeMakesSourcePreferred(t *testing.T) {
	primary := &stubSource{name: "ANU QRNG", fail: true}
	r := newRotation(t, primary, source.NewLocalSource())

	_, err := r.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, source.LocalName, r.Current())

	_, err = r.Probe(context.Background(), "anu-qrng")
	require.Error(t, err)
	require.Equal(t, source.LocalName, r.Current())

	primary.fail = false
	result, err := r.Probe(context.Background(), "ANU QRNG")
	require.NoError(t, err)
	require.Equal(t, "ANU QRNG", result.Source)
	require.Equal(t, "ANU QRNG", r.Current())

	_, err = r.Probe(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUnknownSource)
}

func TestRotationReprobeInterval(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	primary := &stubSource{name: "Primary", fail: true}
	fallback := &stubSource{name: "Fallback", value: 1}
	r, err := NewRotation([]source.Source{primary, fallback}, RotationOptions{
		ReprobeInterval: time.Minute,
		Clock:           func() time.Time { return now },
	})
	require.NoError(t, err)

	_, err = r.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), primary.calls.Load())

	now = now.Add(30 * time.Second)
	_, err = r.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int32(1), primary.calls.Load())

	primary.fail = false
	now = now.Add(31 * time.Second)
	result, err := r.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Primary", result.Source)
	require.Equal(t, int32(2), primary.calls.Load())
}

func TestRotationReturnsToReadySource(t *testing.T) {
	primary := &gatedSource{stubSource: stubSource{name: "Primary", fail: true, value: 1}}
	fallback := &stubSource{name: "Fallback", value: 2}
	r := newRotation(t, primary, fallback)

	result, err := r.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Fallback", result.Source)

	primary.fail = false
	result, err = r.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Fallback", result.Source)
	require.Equal(t, int32(1), primary.calls.Load())

	primary.ready.Store(true)
	result, err = r.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "Primary", result.Source)
	require.Equal(t, "Primary", r.Current())
}

func TestRotationPrefersANUAgainAfterCooldown(t *testing.T) {
	var upstreamCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls.Add(1)
		_, _ = w.Write([]byte(`{"type":"uint8","length":1,"data":[9],"success":true}`))
	}))
	defer server.Close()

	cooldown := 200 * time.Millisecond
	anu, err := source.NewANUSource(source.ANUOptions{URL: server.URL, Cooldown: cooldown})
	require.NoError(t, err)
	r := newRotation(t, anu, source.NewLocalSource())

	fetch := func() string {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		result, err := r.Fetch(ctx, 1)
		require.NoError(t, err)
		return result.Source
	}

	require.Equal(t, source.ANUName, fetch())
	require.Equal(t, source.LocalName, fetch())
	require.Equal(t, source.LocalName, fetch())

	time.Sleep(cooldown + 50*time.Millisecond)
	require.Equal(t, source.ANUName, fetch())
	require.Equal(t, source.LocalName, fetch())

	time.Sleep(cooldown + 50*time.Millisecond)
	require.Equal(t, source.ANUName, fetch())
	require.Equal(t, int32(3), upstreamCalls.Load())
}

func TestRotationObserverAndStatuses(t *testing.T) {
	var mu sync.Mutex
	var records []core.FetchRecord
	r, err := NewRotation([]source.Source{
		&stubSource{name: "Broken", fail: true},
		source.NewLocalSource(),
	}, RotationOptions{Observer: func(record core.FetchRecord) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, record)
	}})
	require.NoError(t, err)

	_, err = r.Fetch(context.Background(), 3)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, records, 2)
	require.Equal(t, core.FetchOutcomeFailure, records[0].Outcome)
	require.Equal(t, core.FetchOutcomeSuccess, records[1].Outcome)
	require.Equal(t, source.LocalName, records[1].Source)
	mu.Unlock()

	statuses := r.Statuses()
	require.Len(t, statuses, 2)
	require.False(t, statuses[0].Current)
	require.True(t, statuses[1].Current)
	require.Equal(t, int64(1), statuses[1].Successes)
	require.NotNil(t, statuses[1].LastSuccess)
	require.Equal(t, "local://fallback", statuses[1].Endpoint)
}

func TestRotationConcurrentFetches(t *testing.T) {
	r := newRotation(t, &stubSource{name: "Flaky", fail: true}, source.NewLocalSource())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := r.Fetch(context.Background(), 8)
			require.NoError(t, err)
			require.Len(t, result.Numbers, 8)
		}()
	}
	wg.Wait()
}

func TestSlug(t *testing.T) {
	require.Equal(t, "local-fallback-qrng", Slug(source.LocalName))
	require.Equal(t, "anu-qrng", Slug(" ANU QRNG "))
}
