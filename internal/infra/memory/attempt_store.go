package memory

import (
	"context"
	"sync"
	"time"

	"assessment-session-service/internal/app"
	"assessment-session-service/internal/domain"
)

// AttemptStore is the in-memory implementation of app.AttemptStore. Records
// are deep-copied on the way in and out so the store only ever holds full
// snapshots, never live session state.
type AttemptStore struct {
	mu      sync.RWMutex
	records map[string]domain.AttemptRecord
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{records: make(map[string]domain.AttemptRecord)}
}

func (s *AttemptStore) Put(_ context.Context, id string, record domain.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = cloneRecord(record)
	return nil
}

func (s *AttemptStore) Get(_ context.Context, id string) (domain.AttemptRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return domain.AttemptRecord{}, false, nil
	}
	return cloneRecord(record), true, nil
}

func (s *AttemptStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, record := range s.records {
		if app.Sweepable(record, now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

func cloneRecord(record domain.AttemptRecord) domain.AttemptRecord {
	out := record
	out.Questions = append([]domain.Question(nil), record.Questions...)
	out.Answers = make([]*domain.Option, len(record.Answers))
	for i, answer := range record.Answers {
		if answer != nil {
			chosen := *answer
			out.Answers[i] = &chosen
		}
	}
	return out
}
