package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"assessment-session-service/internal/domain"
)

func newTestStore(t *testing.T) (*AttemptStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewAttemptStore(client, time.Hour), mr
}

func TestAttemptStorePutGet(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	record := domain.NewAttemptRecord([]domain.Question{
		{Trait: "openness", Prompt: "q1", Options: []domain.Option{{Text: "a", Score: 1}}},
	}, start)
	record.Answers[0] = &domain.Option{Text: "a", Score: 1}

	if err := store.Put(ctx, "test_1_2_2025-03-01", record); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !mr.Exists("attempt:test_1_2_2025-03-01") {
		t.Fatalf("expected redis key to be set")
	}

	got, ok, err := store.Get(ctx, "test_1_2_2025-03-01")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.StatusInProgress || !got.StartTime.Equal(start) {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Answers[0] == nil || got.Answers[0].Text != "a" {
		t.Fatalf("answer not restored: %+v", got.Answers)
	}
}

func TestAttemptStoreGetMissing(t *testing.T) {
	store, _ := newTestStore(t)
	_, ok, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected absent record")
	}
}

func TestAttemptStoreCorruptValueTreatedAsAbsent(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Set("attempt:broken", "{not json")

	_, ok, err := store.Get(context.Background(), "broken")
	if err != nil {
		t.Fatalf("corrupt value must not error: %v", err)
	}
	if ok {
		t.Fatalf("corrupt value must read as absent")
	}
}

func TestAttemptStoreSweep(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

	fresh := domain.NewAttemptRecord(nil, now.Add(-time.Hour))
	if err := store.Put(ctx, "fresh", fresh); err != nil {
		t.Fatalf("put: %v", err)
	}

	stale := domain.NewAttemptRecord(nil, now.Add(-25*time.Hour))
	if err := store.Put(ctx, "stale", stale); err != nil {
		t.Fatalf("put: %v", err)
	}

	done := domain.NewAttemptRecord(nil, now.Add(-3*time.Hour))
	done.Status = domain.StatusCompleted
	done.LastUpdated = now.Add(-2 * time.Hour)
	if err := store.Put(ctx, "done", done); err != nil {
		t.Fatalf("put: %v", err)
	}

	mr.Set("attempt:garbage", "not json at all")

	removed, err := store.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removals, got %d", removed)
	}
	if !mr.Exists("attempt:fresh") {
		t.Fatalf("fresh attempt must survive the sweep")
	}
	for _, key := range []string{"attempt:stale", "attempt:done", "attempt:garbage"} {
		if mr.Exists(key) {
			t.Fatalf("%s must be swept", key)
		}
	}
}
