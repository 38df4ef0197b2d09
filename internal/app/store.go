package app

import (
	"context"
	"time"

	"assessment-session-service/internal/domain"
)

// Retention bounds applied by Sweep. A terminal record is kept for one hour
// after its last update; an in-progress record is kept for 24 hours after it
// started. Sweeping earlier would silently lose a recoverable attempt.
const (
	TerminalRetention = time.Hour
	StaleRetention    = 24 * time.Hour
)

// AttemptStore persists whole attempt records keyed by the deterministic
// attempt id (in-memory, Redis, Postgres). Implementations never partially
// mutate a record: Put receives a full snapshot, Get returns a full record.
type AttemptStore interface {
	Put(ctx context.Context, id string, record domain.AttemptRecord) error
	Get(ctx context.Context, id string) (domain.AttemptRecord, bool, error)
	// Sweep removes records past their retention bound and reports how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Sweepable reports whether a record is old enough for Sweep to remove.
// Shared by every store implementation so the retention rules cannot drift.
func Sweepable(record domain.AttemptRecord, now time.Time) bool {
	if record.Status.Terminal() {
		ref := record.LastUpdated
		if ref.IsZero() {
			ref = record.StartTime
		}
		return now.Sub(ref) > TerminalRetention
	}
	if record.StartTime.IsZero() {
		return false
	}
	return now.Sub(record.StartTime) > StaleRetention
}
