package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"assessment-session-service/internal/app"
	"assessment-session-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
)

// AttemptStore persists attempt records as JSONB rows. The status and
// timestamp columns are duplicated out of the document so Sweep is a single
// DELETE instead of a table scan in Go.
type AttemptStore struct {
	pool *pgxpool.Pool
}

func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

func (s *AttemptStore) Put(ctx context.Context, id string, record domain.AttemptRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO attempts (id, data, status, start_time, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET data = EXCLUDED.data, status = EXCLUDED.status, last_updated = EXCLUDED.last_updated`,
		id, raw, string(record.Status), record.StartTime, record.LastUpdated)
	if err != nil {
		return fmt.Errorf("store attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) Get(ctx context.Context, id string) (domain.AttemptRecord, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM attempts WHERE id=$1`, id).Scan(&raw)
	if err == pgx.ErrNoRows {
		return domain.AttemptRecord{}, false, nil
	}
	if err != nil {
		return domain.AttemptRecord{}, false, fmt.Errorf("load attempt: %w", err)
	}
	var record domain.AttemptRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		log.Warn().Err(err).Str("attempt_id", id).Msg("corrupt attempt record, treating as absent")
		return domain.AttemptRecord{}, false, nil
	}
	return record, true, nil
}

func (s *AttemptStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM attempts
		WHERE (status IN ($1, $2) AND last_updated < $3)
		   OR (status = $4 AND start_time < $5)`,
		string(domain.StatusCompleted), string(domain.StatusAbandoned), now.Add(-app.TerminalRetention),
		string(domain.StatusInProgress), now.Add(-app.StaleRetention))
	if err != nil {
		return 0, fmt.Errorf("sweep attempts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
