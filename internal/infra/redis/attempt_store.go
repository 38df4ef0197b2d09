package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"assessment-session-service/internal/app"
	"assessment-session-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const attemptKeyPrefix = "attempt:"

// AttemptStore keeps one JSON value per attempt: SET attempt:{id} {record}.
// The record is always written and read whole; partial updates would break
// the session's ownership of the in-memory state. The TTL is a safety net for
// instances that stop sweeping; Sweep remains the authoritative eviction.
type AttemptStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAttemptStore(client *redis.Client, ttl time.Duration) *AttemptStore {
	return &AttemptStore{client: client, ttl: ttl}
}

func (s *AttemptStore) Put(ctx context.Context, id string, record domain.AttemptRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) Get(ctx context.Context, id string) (domain.AttemptRecord, bool, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return domain.AttemptRecord{}, false, nil
	}
	if err != nil {
		return domain.AttemptRecord{}, false, fmt.Errorf("load attempt: %w", err)
	}
	var record domain.AttemptRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		// Unparseable state is treated as absent so a fresh attempt can start.
		log.Warn().Err(err).Str("attempt_id", id).Msg("corrupt attempt record, treating as absent")
		return domain.AttemptRecord{}, false, nil
	}
	return record, true, nil
}

func (s *AttemptStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, attemptKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("sweep read %s: %w", key, err)
		}
		var record domain.AttemptRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			// Garbage values are evicted; nothing can ever restore them.
			if s.client.Del(ctx, key).Err() == nil {
				removed++
			}
			continue
		}
		if app.Sweepable(record, now) {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("sweep delete %s: %w", key, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("sweep scan: %w", err)
	}
	return removed, nil
}

func (s *AttemptStore) key(id string) string {
	return attemptKeyPrefix + id
}
