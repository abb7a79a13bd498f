package engine

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/qrandom/qrandom/internal/core"
	"github.com/qrandom/qrandom/internal/metrics"
)

// HistoryAppender persists fetch records.
type HistoryAppender interface {
	AppendFetch(ctx context.Context, record core.FetchRecord) error
}

// historyWriteTimeout bounds a single history insert.
const historyWriteTimeout = 2 * time.Second

// HistoryObserver appends every fetch attempt to store. Write failures are
// logged and otherwise ignored.
func HistoryObserver(store HistoryAppender, logger *logging.Logger) FetchObserver {
	return func(record core.FetchRecord) {
		if store == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		defer cancel()
		if err := store.AppendFetch(ctx, record); err != nil && logger != nil {
			logger.Warn("Failed to record fetch history",
				zap.String("source", record.Source),
				zap.Error(err))
		}
	}
}

// MetricsObserver counts fetch attempts per source.
func MetricsObserver() FetchObserver {
	return func(record core.FetchRecord) {
		metrics.RecordSourceFetch(record.Source, record.Outcome == core.FetchOutcomeSuccess, record.Duration)
	}
}

// ChainObservers calls each non-nil observer in order.
func ChainObservers(observers ...FetchObserver) FetchObserver {
	return func(record core.FetchRecord) {
		for _, observe := range observers {
			if observe != nil {
				observe(record)
			}
		}
	}
}
