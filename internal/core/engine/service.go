package engine

import (
	"context"
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/qrandom/qrandom/internal/core"
	"github.com/qrandom/qrandom/internal/core/cache"
	"github.com/qrandom/qrandom/internal/core/entropy"
	"github.com/qrandom/qrandom/internal/core/source"
	"github.com/qrandom/qrandom/internal/core/stats"
	"github.com/qrandom/qrandom/internal/metrics"
)

// Defaults applied when ServiceOptions leaves a field unset.
const (
	DefaultCacheTTL        = 5 * time.Minute
	DefaultStatsTTL        = 10 * time.Second
	DefaultStreamBatchSize = 16
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Cache    cache.Cache
	Analyzer *entropy.Analyzer
	Tracker  *stats.Tracker
	// TTL applies to cached numbers. StatsTTL applies to the stats snapshot.
	TTL             time.Duration
	StatsTTL        time.Duration
	StreamBatchSize int
	Clock           func() time.Time
	Logger          *logging.Logger
}

// Service serves random numbers through the cache, the source rotation,
// the entropy analyzer and the stats tracker.
type Service struct {
	rotation  *Rotation
	cache     cache.Cache
	analyzer  *entropy.Analyzer
	tracker   *stats.Tracker
	ttl       time.Duration
	statsTTL  time.Duration
	batchSize int
	clock     func() time.Time
	logger    *logging.Logger
}

// NewService wires a service around rotation.
func NewService(rotation *Rotation, opts ServiceOptions) (*Service, error) {
	if rotation == nil {
		return nil, ErrNoSources
	}

	s := &Service{
		rotation:  rotation,
		cache:     opts.Cache,
		analyzer:  opts.Analyzer,
		tracker:   opts.Tracker,
		ttl:       opts.TTL,
		statsTTL:  opts.StatsTTL,
		batchSize: opts.StreamBatchSize,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	if s.cache == nil {
		s.cache = cache.None{}
	}
	if s.analyzer == nil {
		s.analyzer = entropy.NewAnalyzer(entropy.DefaultBufferSize)
	}
	if s.tracker == nil {
		s.tracker = stats.NewTracker(s.cache, s.clock)
	}
	if s.ttl <= 0 {
		s.ttl = DefaultCacheTTL
	}
	if s.statsTTL <= 0 {
		s.statsTTL = DefaultStatsTTL
	}
	if s.batchSize <= 0 || s.batchSize > core.MaxCount {
		s.batchSize = DefaultStreamBatchSize
	}
	return s, nil
}

// Rotation returns the underlying source rotation.
func (s *Service) Rotation() *Rotation { return s.rotation }

// Tracker returns the stats tracker.
func (s *Service) Tracker() *stats.Tracker { return s.tracker }

// Random returns a single number, from the cache when one is stored.
func (s *Service) Random(ctx context.Context) (*core.RandomNumberResponse, error) {
	defer s.observe(time.Now())

	var cached int
	if s.lookup(ctx, cache.KeySingle, "single", &cached) && cached >= 0 && cached <= 255 {
		metrics.RecordNumbersServed(core.CacheSourceName, 1)
		score := entropy.Score([]uint8{uint8(cached)})
		return &core.RandomNumberResponse{
			RandomNumber: cached,
			Source:       core.CacheSourceName,
			Timestamp:    formatTime(s.now()),
			EntropyScore: &score,
		}, nil
	}

	result, err := s.fetch(ctx, 1)
	if err != nil {
		return nil, err
	}
	value := int(result.Numbers[0])
	s.store(ctx, cache.KeySingle, value)

	score := entropy.Score(result.Numbers)
	return &core.RandomNumberResponse{
		RandomNumber: value,
		Source:       result.Source,
		Timestamp:    formatTime(result.Timestamp),
		EntropyScore: &score,
	}, nil
}

// Batch returns count numbers, from the cache when a batch of that size
// is stored.
func (s *Service) Batch(ctx context.Context, count int) (*core.BatchRandomResponse, error) {
	if !core.ValidCount(count) {
		return nil, source.ErrInvalidCount
	}
	defer s.observe(time.Now())

	var cached core.Numbers
	if s.lookup(ctx, cache.BatchKey(count), "batch", &cached) && len(cached) == count {
		metrics.RecordNumbersServed(core.CacheSourceName, count)
		score := entropy.Score(cached)
		return &core.BatchRandomResponse{
			RandomNumbers: cached,
			Count:         len(cached),
			Source:        core.CacheSourceName,
			Timestamp:     formatTime(s.now()),
			EntropyScore:  &score,
		}, nil
	}

	result, err := s.fetch(ctx, count)
	if err != nil {
		return nil, err
	}
	s.store(ctx, cache.BatchKey(count), result.Numbers)

	score := entropy.Score(result.Numbers)
	return &core.BatchRandomResponse{
		RandomNumbers: result.Numbers,
		Count:         result.Count,
		Source:        result.Source,
		Timestamp:     formatTime(result.Timestamp),
		EntropyScore:  &score,
	}, nil
}

// Stats returns the service statistics. A snapshot is cached for the
// stats TTL.
func (s *Service) Stats(ctx context.Context) (*core.ServiceStats, error) {
	var cached core.ServiceStats
	if ok, err := cache.GetJSON(ctx, s.cache, cache.KeyStats, &cached); err == nil && ok {
		return &cached, nil
	}

	total, err := s.tracker.Counter(ctx, cache.CounterTotalRequests)
	if err != nil {
		s.logDebug("Reading request counter failed", zap.Error(err))
	}
	hitRate, err := s.tracker.HitRate(ctx)
	if err != nil {
		s.logDebug("Reading hit rate failed", zap.Error(err))
	}

	snapshot := &core.ServiceStats{
		TotalRequests:       total,
		CacheHitRate:        hitRate,
		AverageResponseTime: s.tracker.AverageResponseTime(),
		EntropyQuality:      s.analyzer.Summary().OverallQuality,
		UptimeSeconds:       int64(s.tracker.Uptime().Seconds()),
		ActiveConnections:   s.tracker.ActiveConnections(),
		CurrentSource:       s.rotation.Current(),
	}
	if err := cache.SetJSON(ctx, s.cache, cache.KeyStats, snapshot, s.statsTTL); err != nil {
		s.logDebug("Caching stats failed", zap.Error(err))
	}
	return snapshot, nil
}

// Quality summarises the entropy of recently served numbers.
func (s *Service) Quality() entropy.Summary {
	return s.analyzer.Summary()
}

// Stream hands out numbers one at a time to a single WebSocket client.
// It is not safe for concurrent use.
type Stream struct {
	svc    *Service
	buf    []uint8
	source string
	seq    int64
}

// NewStream starts a stream. Numbers are fetched uncached, in batches of
// the configured stream batch size.
func (s *Service) NewStream() *Stream {
	return &Stream{svc: s}
}

// Next returns the next stream message. Sequence numbers start at zero.
func (st *Stream) Next(ctx context.Context) (*core.StreamMessage, error) {
	if len(st.buf) == 0 {
		result, err := st.svc.fetchUncached(ctx, st.svc.batchSize)
		if err != nil {
			return nil, err
		}
		st.buf = result.Numbers
		st.source = result.Source
	}

	value := st.buf[0]
	st.buf = st.buf[1:]
	st.svc.analyzer.Add([]uint8{value})

	score := entropy.Score([]uint8{value})
	msg := &core.StreamMessage{
		RandomNumber:   int(value),
		SequenceNumber: st.seq,
		Timestamp:      formatTime(st.svc.now()),
		Source:         st.source,
		EntropyScore:   &score,
	}
	st.seq++
	return msg, nil
}

// Sent returns how many messages the stream has produced.
func (st *Stream) Sent() int64 { return st.seq }

// fetch runs a cache miss through the rotation and records it.
func (s *Service) fetch(ctx context.Context, count int) (*core.FetchResult, error) {
	result, err := s.fetchUncached(ctx, count)
	if err != nil {
		return nil, err
	}

	s.analyzer.Add(result.Numbers)
	if err := s.tracker.Request(ctx); err != nil {
		s.logDebug("Counting request failed", zap.Error(err))
	}
	return result, nil
}

func (s *Service) fetchUncached(ctx context.Context, count int) (*core.FetchResult, error) {
	result, err := s.rotation.Fetch(ctx, count)
	if err != nil {
		var exhausted *AllSourcesExhaustedError
		if errors.As(err, &exhausted) {
			metrics.RecordExhausted()
		}
		return nil, err
	}
	metrics.RecordNumbersServed(result.Source, len(result.Numbers))
	return result, nil
}

// lookup reads key into out and counts the hit or miss. Cache errors
// count as misses.
func (s *Service) lookup(ctx context.Context, key, kind string, out any) bool {
	hit, err := cache.GetJSON(ctx, s.cache, key, out)
	if err != nil {
		s.logDebug("Cache read failed", zap.String("key", key), zap.Error(err))
		hit = false
	}

	metrics.RecordCacheLookup(kind, hit)
	if hit {
		err = s.tracker.Hit(ctx)
	} else {
		err = s.tracker.Miss(ctx)
	}
	if err != nil {
		s.logDebug("Counting cache lookup failed", zap.Error(err))
	}
	return hit
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if err := cache.SetJSON(ctx, s.cache, key, value, s.ttl); err != nil {
		s.logDebug("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) observe(began time.Time) {
	s.tracker.ObserveLatency(time.Since(began))
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logDebug(msg string, fields ...zap.Field) {
	if s.logger != nil {
		s.logger.Debug(msg, fields...)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
