package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qrandom/qrandom/internal/core"
)

// DefaultHistoryLimit caps ListFetches when no limit is given.
const DefaultHistoryLimit = 50

// AppendFetch records one source attempt.
func (s *Store) AppendFetch(ctx context.Context, record core.FetchRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.FetchedAt.IsZero() {
		record.FetchedAt = time.Now().UTC()
	}
	if record.Outcome == "" {
		record.Outcome = core.FetchOutcomeSuccess
	}

	var errText sql.NullString
	if record.Error != "" {
		errText = sql.NullString{String: record.Error, Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO fetch_history (id, source, count, outcome, error, duration_ms, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.Source, record.Count, string(record.Outcome), errText,
		record.Duration.Milliseconds(), record.FetchedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store fetch record: %w", err)
	}
	return nil
}

// HistoryQuery filters ListFetches.
type HistoryQuery struct {
	Source  string
	Outcome core.FetchOutcome
	Limit   int
}

// ListFetches returns recorded attempts, newest first.
func (s *Store) ListFetches(ctx context.Context, q HistoryQuery) ([]core.FetchRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		clauses []string
		args    []any
	)
	if source := strings.TrimSpace(q.Source); source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, source)
	}
	if q.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, string(q.Outcome))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, source, count, outcome, error, duration_ms, fetched_at
		FROM fetch_history
		%s
		ORDER BY fetched_at DESC, id
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list fetch history: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	records := []core.FetchRecord{}
	for rows.Next() {
		var (
			record     core.FetchRecord
			outcome    string
			errText    sql.NullString
			durationMS int64
			fetchedAt  int64
		)
		if err := rows.Scan(&record.ID, &record.Source, &record.Count, &outcome, &errText, &durationMS, &fetchedAt); err != nil {
			return nil, fmt.Errorf("scan fetch history: %w", err)
		}
		record.Outcome = core.FetchOutcome(outcome)
		record.Error = errText.String
		record.Duration = time.Duration(durationMS) * time.Millisecond
		record.FetchedAt = time.UnixMilli(fetchedAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list fetch history: %w", err)
	}
	return records, nil
}

// PruneFetches deletes history recorded before cutoff.
func (s *Store) PruneFetches(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM fetch_history WHERE fetched_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune fetch history: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune fetch history: %w", err)
	}
	return affected, nil
}
