package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qrandom/qrandom/internal/core"
	"github.com/qrandom/qrandom/internal/core/source"
	"github.com/qrandom/qrandom/internal/metrics"
)

// ErrNoSources is returned when a rotation is built without sources.
var ErrNoSources = errors.New("rotation requires at least one source")

// ErrUnknownSource is returned by Probe for a name not in the rotation.
var ErrUnknownSource = errors.New("unknown source")

// AllSourcesExhaustedError reports that every source failed for one request.
type AllSourcesExhaustedError struct {
	// Last is the error of the final source tried.
	Last error
	// Attempts holds one error per source, in the order they were tried.
	Attempts []error
}

func (e *AllSourcesExhaustedError) Error() string {
	if e.Last == nil {
		return "all sources exhausted"
	}
	return fmt.Sprintf("all sources exhausted after %d attempts: %v", len(e.Attempts), e.Last)
}

func (e *AllSourcesExhaustedError) Unwrap() error {
	return e.Last
}

// FetchObserver is notified of every source attempt.
type FetchObserver func(record core.FetchRecord)

// RotationOptions configures a Rotation.
type RotationOptions struct {
	// ReprobeInterval, when positive, restarts the scan at the first source
	// once a later source has been preferred for this long. Sources with a
	// Ready method are retried as soon as they report ready regardless.
	ReprobeInterval time.Duration
	Clock           func() time.Time
	Logger          *logging.Logger
	Observer        FetchObserver
}

// readySource is implemented by sources that can tell whether a request
// would go out without waiting on a cooldown.
type readySource interface {
	Ready() bool
}

type sourceCounters struct {
	successes   int64
	failures    int64
	lastError   string
	lastSuccess *time.Time
	lastFailure *time.Time
}

// Rotation walks an ordered list of sources, starting at the one that last
// succeeded, and returns the first successful result.
type Rotation struct {
	sources  []source.Source
	reprobe  time.Duration
	clock    func() time.Time
	logger   *logging.Logger
	observer FetchObserver

	mu          sync.Mutex
	current     int
	preferredAt time.Time
	counters    []sourceCounters
}

// NewRotation builds a rotation over sources in priority order.
func NewRotation(sources []source.Source, opts RotationOptions) (*Rotation, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	for i, src := range sources {
		if src == nil {
			return nil, fmt.Errorf("source %d is nil", i)
		}
	}

	r := &Rotation{
		sources:  append([]source.Source(nil), sources...),
		reprobe:  opts.ReprobeInterval,
		clock:    opts.Clock,
		logger:   opts.Logger,
		observer: opts.Observer,
		counters: make([]sourceCounters, len(sources)),
	}
	r.preferredAt = r.now()
	return r, nil
}

// FetchSingle fetches one number.
func (r *Rotation) FetchSingle(ctx context.Context) (*core.FetchResult, error) {
	return r.Fetch(ctx, 1)
}

// Fetch returns count numbers from the first source that succeeds.
func (r *Rotation) Fetch(ctx context.Context, count int) (*core.FetchResult, error) {
	if !core.ValidCount(count) {
		return nil, source.ErrInvalidCount
	}
	if ctx == nil {
		ctx = context.Background()
	}

	n := len(r.sources)
	start := r.startIndex()
	exhausted := &AllSourcesExhaustedError{}

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		numbers, err := r.try(ctx, idx, count)
		if err != nil {
			exhausted.Attempts = append(exhausted.Attempts, err)
			exhausted.Last = err
			continue
		}

		r.prefer(idx)
		return r.result(idx, numbers, count), nil
	}

	r.logError("All sources exhausted",
		zap.Int("count", count),
		zap.Int("attempts", len(exhausted.Attempts)),
		zap.Error(exhausted.Last))
	return nil, exhausted
}

// Probe fetches one number directly from the named source. On success the
// source becomes the preferred starting point of the rotation.
func (r *Rotation) Probe(ctx context.Context, name string) (*core.FetchResult, error) {
	idx := r.indexOf(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	numbers, err := r.try(ctx, idx, 1)
	if err != nil {
		return nil, err
	}
	r.prefer(idx)
	return r.result(idx, numbers, 1), nil
}

// Current returns the name of the source the next fetch starts at.
func (r *Rotation) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sources[r.current].Name()
}

// Sources returns the sources in priority order.
func (r *Rotation) Sources() []source.Source {
	return append([]source.Source(nil), r.sources...)
}

// Statuses reports per-source counters in priority order.
func (r *Rotation) Statuses() []core.SourceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]core.SourceStatus, len(r.sources))
	for i, src := range r.sources {
		c := r.counters[i]
		status := core.SourceStatus{
			Name:        src.Name(),
			Endpoint:    src.Endpoint(),
			Index:       i,
			Current:     i == r.current,
			Successes:   c.successes,
			Failures:    c.failures,
			LastError:   c.lastError,
			LastSuccess: c.lastSuccess,
			LastFailure: c.lastFailure,
		}
		if gated, ok := src.(interface{ NextAllowed() time.Time }); ok {
			if next := gated.NextAllowed(); !next.IsZero() {
				status.NextAllowed = &next
			}
		}
		statuses[i] = status
	}
	return statuses
}

func (r *Rotation) try(ctx context.Context, idx int, count int) ([]uint8, error) {
	src := r.sources[idx]
	began := time.Now()
	numbers, err := src.Fetch(ctx, count)
	if err == nil && len(numbers) != count {
		err = &source.UpstreamError{
			Source: src.Name(),
			Reason: source.ReasonInvalidFormat,
			Err:    fmt.Errorf("expected %d values, got %d", count, len(numbers)),
		}
	}
	elapsed := time.Since(began)

	record := core.FetchRecord{
		ID:        uuid.NewString(),
		Source:    src.Name(),
		Count:     count,
		Outcome:   core.FetchOutcomeSuccess,
		Duration:  elapsed,
		FetchedAt: r.now(),
	}

	r.mu.Lock()
	c := &r.counters[idx]
	at := record.FetchedAt
	if err != nil {
		c.failures++
		c.lastError = err.Error()
		c.lastFailure = &at
	} else {
		c.successes++
		c.lastSuccess = &at
	}
	r.mu.Unlock()

	if err != nil {
		record.Outcome = core.FetchOutcomeFailure
		record.Error = err.Error()
		metrics.RecordSourceFailure(src.Name(), source.FailureReason(err))
		r.logWarn("Source fetch failed",
			zap.String("source", src.Name()),
			zap.Int("count", count),
			zap.Duration("duration", elapsed),
			zap.Error(err))
	} else {
		r.logDebug("Source fetch succeeded",
			zap.String("source", src.Name()),
			zap.Int("count", count),
			zap.Duration("duration", elapsed))
	}

	if r.observer != nil {
		r.observer(record)
	}
	return numbers, err
}

func (r *Rotation) startIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A gated source ahead of the current one is tried again as soon as its
	// cooldown has passed.
	for i := 0; i < r.current; i++ {
		if gated, ok := r.sources[i].(readySource); ok && gated.Ready() {
			r.current = i
			r.preferredAt = r.now()
			return i
		}
	}
	if r.reprobe > 0 && r.current != 0 && r.now().Sub(r.preferredAt) >= r.reprobe {
		r.current = 0
		r.preferredAt = r.now()
	}
	return r.current
}

func (r *Rotation) prefer(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != idx {
		r.current = idx
		r.preferredAt = r.now()
	}
}

func (r *Rotation) result(idx int, numbers []uint8, count int) *core.FetchResult {
	return &core.FetchResult{
		ID:        uuid.NewString(),
		Numbers:   core.Numbers(numbers),
		Source:    r.sources[idx].Name(),
		Timestamp: r.now(),
		Count:     count,
	}
}

// indexOf matches a source by name or by slug ("anu-qrng").
func (r *Rotation) indexOf(name string) int {
	name = strings.TrimSpace(name)
	for i, src := range r.sources {
		if strings.EqualFold(src.Name(), name) || Slug(src.Name()) == strings.ToLower(name) {
			return i
		}
	}
	return -1
}

// Slug returns the URL-friendly form of a source name.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

func (r *Rotation) now() time.Time {
	if r != nil && r.clock != nil {
		return r.clock()
	}
	return time.Now().UTC()
}

func (r *Rotation) logWarn(msg string, fields ...zap.Field) {
	if r.logger != nil {
		r.logger.Warn(msg, fields...)
	}
}

func (r *Rotation) logError(msg string, fields ...zap.Field) {
	if r.logger != nil {
		r.logger.Error(msg, fields...)
	}
}

func (r *Rotation) logDebug(msg string, fields ...zap.Field) {
	if r.logger != nil {
		r.logger.Debug(msg, fields...)
	}
}
