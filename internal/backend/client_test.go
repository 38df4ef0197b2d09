package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"assessment-session-service/internal/domain"
)

func TestGenerateTestSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate-test" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]int
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["candidate_id"] != 42 || req["offer_id"] != 7 {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"questions": []domain.Question{
				{Trait: "openness", Prompt: "q1", Options: []domain.Option{{Text: "a", Score: 1}}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	questions, err := client.GenerateTest(context.Background(), 42, 7)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(questions) != 1 || questions[0].Trait != "openness" {
		t.Fatalf("unexpected questions %+v", questions)
	}
}

func TestGenerateTestClassifiesDuplicate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "Vous avez déjà passé le test",
			"score": 42,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.GenerateTest(context.Background(), 1, 2)
	var dup *AlreadyCompletedError
	if !errors.As(err, &dup) {
		t.Fatalf("expected AlreadyCompletedError, got %v", err)
	}
	if dup.Score == nil || *dup.Score != 42 {
		t.Fatalf("expected historical score 42, got %+v", dup.Score)
	}
}

func TestGenerateTestClassifiesBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "Test bloqué : triche détectée",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.GenerateTest(context.Background(), 1, 2)
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
}

func TestGenerateTestEmptyQuestionsIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"questions": []domain.Question{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.GenerateTest(context.Background(), 1, 2)
	if !errors.Is(err, domain.ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
}

func TestStoreScoreSendsPayload(t *testing.T) {
	var received Submission
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/store-score" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	err := client.StoreScore(context.Background(), Submission{
		CandidateID: 42,
		OfferID:     7,
		TotalScore:  9,
		Status:      StatusForcedEnd,
		Violations:  domain.Violations{"tab_switch": 2},
	})
	if err != nil {
		t.Fatalf("store score: %v", err)
	}
	if received.TotalScore != 9 || received.Status != StatusForcedEnd {
		t.Fatalf("unexpected payload %+v", received)
	}
	if received.Violations["tab_switch"] != 2 {
		t.Fatalf("expected violations forwarded, got %+v", received.Violations)
	}
}

func TestStoreScoreSurfacesRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid payload"})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if err := client.StoreScore(context.Background(), Submission{}); err == nil {
		t.Fatalf("expected error on rejection")
	}
}

func TestScoreZeroDeliversInBackground(t *testing.T) {
	got := make(chan Submission, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/score-zero" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var sub Submission
		_ = json.NewDecoder(r.Body).Decode(&sub)
		got <- sub
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	client.ScoreZero(Submission{CandidateID: 42, OfferID: 7, TotalScore: 3})

	select {
	case sub := <-got:
		if sub.Status != StatusAbandoned {
			t.Fatalf("expected abandoned status, got %q", sub.Status)
		}
		if sub.TotalScore != 3 {
			t.Fatalf("expected partial score forwarded, got %d", sub.TotalScore)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("beacon never arrived")
	}
}

func TestRateOffer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/offre-score" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]int
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["offer_id"] != 7 || req["candidate_id"] != 42 || req["score"] != 5 {
			t.Errorf("unexpected rating request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if err := client.RateOffer(context.Background(), 7, 42, 5); err != nil {
		t.Fatalf("rate offer: %v", err)
	}
}
