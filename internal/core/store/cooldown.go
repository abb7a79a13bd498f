package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qrandom/qrandom/internal/core"
)

// GetCooldown returns the stored cooldown state of a source.
func (s *Store) GetCooldown(ctx context.Context, source string) (*core.CooldownState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New("source is required")
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT source, last_request_at, next_allowed_at, last_rate_limited_at, request_count
		FROM source_cooldowns
		WHERE source = ?
	`, source)

	state, err := scanCooldown(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch cooldown: %w", err)
	}
	return state, nil
}

// UpdateCooldown persists the cooldown state of a source.
func (s *Store) UpdateCooldown(ctx context.Context, state *core.CooldownState) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if state == nil {
		return errors.New("cooldown state is required")
	}
	source := strings.TrimSpace(state.Source)
	if source == "" {
		return errors.New("source is required")
	}

	var lastRateLimited sql.NullInt64
	if state.LastRateLimited != nil {
		lastRateLimited = sql.NullInt64{Int64: state.LastRateLimited.UnixMilli(), Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO source_cooldowns (source, last_request_at, next_allowed_at, last_rate_limited_at, request_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			last_request_at = excluded.last_request_at,
			next_allowed_at = excluded.next_allowed_at,
			last_rate_limited_at = excluded.last_rate_limited_at,
			request_count = excluded.request_count
	`, source, unixMilli(state.LastRequestAt), unixMilli(state.NextAllowedAt), lastRateLimited, state.RequestCount)
	if err != nil {
		return fmt.Errorf("store cooldown: %w", err)
	}

	return nil
}

// CooldownQuery selects cooldown rows for listing or resetting.
type CooldownQuery struct {
	All    bool
	Source string
}

func (q CooldownQuery) Validate() error {
	if q.All || strings.TrimSpace(q.Source) != "" {
		return nil
	}
	return errors.New("must specify --all or --source")
}

func (q CooldownQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	return "WHERE source = ?", []any{strings.TrimSpace(q.Source)}, nil
}

// ListCooldowns returns the cooldown rows selected by q.
func (s *Store) ListCooldowns(ctx context.Context, q CooldownQuery) ([]core.CooldownState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT source, last_request_at, next_allowed_at, last_rate_limited_at, request_count
		FROM source_cooldowns
		%s
		ORDER BY source
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list cooldowns: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	states := []core.CooldownState{}
	for rows.Next() {
		state, err := scanCooldown(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cooldowns: %w", err)
		}
		states = append(states, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cooldowns: %w", err)
	}

	return states, nil
}

// ResetCooldowns deletes the cooldown rows selected by q so the next start
// does not wait on them.
func (s *Store) ResetCooldowns(ctx context.Context, q CooldownQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM source_cooldowns
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset cooldowns: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset cooldowns: %w", err)
	}
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCooldown(row rowScanner) (*core.CooldownState, error) {
	var (
		source          string
		lastRequestAt   int64
		nextAllowedAt   int64
		lastRateLimited sql.NullInt64
		requestCount    int64
	)
	if err := row.Scan(&source, &lastRequestAt, &nextAllowedAt, &lastRateLimited, &requestCount); err != nil {
		return nil, err
	}

	state := &core.CooldownState{
		Source:        source,
		LastRequestAt: fromUnixMilli(lastRequestAt),
		NextAllowedAt: fromUnixMilli(nextAllowedAt),
		RequestCount:  requestCount,
	}
	if lastRateLimited.Valid {
		value := fromUnixMilli(lastRateLimited.Int64)
		state.LastRateLimited = &value
	}
	return state, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
