package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"assessment-session-service/internal/domain"
)

type countingStore struct {
	mu     sync.Mutex
	sweeps []time.Time
}

func (s *countingStore) Put(context.Context, string, domain.AttemptRecord) error { return nil }

func (s *countingStore) Get(context.Context, string) (domain.AttemptRecord, bool, error) {
	return domain.AttemptRecord{}, false, nil
}

func (s *countingStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps = append(s.sweeps, now)
	return 0, nil
}

func (s *countingStore) sweepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sweeps)
}

func TestSweeperRunsImmediatelyThenOnInterval(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := &countingStore{}
	sweeper := NewSweeper(store, time.Hour, fc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	waitForSweeps(t, store, 1)

	fc.BlockUntil(1)
	fc.Advance(time.Hour)
	waitForSweeps(t, store, 2)

	cancel()
}

func TestSweeperDefaultsInterval(t *testing.T) {
	sweeper := NewSweeper(&countingStore{}, 0, clockwork.NewFakeClock())
	if sweeper.interval != time.Hour {
		t.Fatalf("expected hourly default, got %v", sweeper.interval)
	}
}

func waitForSweeps(t *testing.T, store *countingStore, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for store.sweepCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d sweeps, got %d", n, store.sweepCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
