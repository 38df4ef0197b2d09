package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"assessment-session-service/internal/backend"
	"assessment-session-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ScoringBackend is the external scoring service seen from the session's side.
type ScoringBackend interface {
	GenerateTest(ctx context.Context, candidateID, offerID int) ([]domain.Question, error)
	StoreScore(ctx context.Context, sub backend.Submission) error
	ScoreZero(sub backend.Submission)
	RateOffer(ctx context.Context, offerID, candidateID, score int) error
}

// SessionService bootstraps and tracks live sessions, one per attempt id.
type SessionService struct {
	store  AttemptStore
	scorer ScoringBackend
	clock  clockwork.Clock
	cfg    SessionConfig

	sf       singleflight.Group
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionService(store AttemptStore, scorer ScoringBackend, clock clockwork.Clock, cfg SessionConfig) *SessionService {
	return &SessionService{
		store:    store,
		scorer:   scorer,
		clock:    clock,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Begin returns the session for today's (candidate, offer) attempt, creating
// it if needed. Idempotent by construction: a live session is reused, a stored
// in-progress record is restored without any backend call, and concurrent
// calls for the same attempt collapse into one question-generation request.
func (s *SessionService) Begin(ctx context.Context, candidateID, offerID int) (*Session, error) {
	id := domain.AttemptID(candidateID, offerID, s.clock.Now())

	s.mu.Lock()
	if session, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return session, nil
	}
	s.mu.Unlock()

	v, err, _ := s.sf.Do(id, func() (interface{}, error) {
		s.mu.Lock()
		if session, ok := s.sessions[id]; ok {
			s.mu.Unlock()
			return session, nil
		}
		s.mu.Unlock()

		session, err := s.bootstrap(ctx, id, candidateID, offerID)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.sessions[id] = session
		s.mu.Unlock()
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (s *SessionService) bootstrap(ctx context.Context, id string, candidateID, offerID int) (*Session, error) {
	record, found, err := s.store.Get(ctx, id)
	if err != nil {
		// Unreadable local state is treated as absent; a fresh attempt is
		// requested and the backend remains the arbiter of duplicates.
		log.Warn().Err(err).Str("attempt_id", id).Msg("stored attempt unreadable, requesting fresh attempt")
		found = false
	}

	if found {
		switch {
		case record.Status == domain.StatusCompleted:
			// Short-circuit straight to the completed presentation; questions
			// are never re-shown for a terminal record.
			score := record.TotalScore()
			return newTerminalSession(id, candidateID, offerID, VariantDuplicate, &score, s.cfg, s.store, s.scorer, s.clock), nil
		case record.Status == domain.StatusInProgress:
			if len(record.Questions) == 0 || len(record.Answers) != len(record.Questions) {
				log.Warn().Str("attempt_id", id).Msg("stored attempt malformed, requesting fresh attempt")
			} else {
				log.Info().Str("attempt_id", id).Int("answered", record.AnsweredCount()).
					Msg("restored in-progress attempt")
				session := newSession(id, candidateID, offerID, record, s.cfg, s.store, s.scorer, s.clock)
				session.start()
				return session, nil
			}
		default:
			// A locally abandoned record is terminal from the session's side;
			// only the backend may authorize a new attempt, so fall through to
			// generate-test and let its verdict decide.
		}
	}

	questions, err := s.scorer.GenerateTest(ctx, candidateID, offerID)
	if err != nil {
		var dup *backend.AlreadyCompletedError
		if errors.As(err, &dup) {
			return newTerminalSession(id, candidateID, offerID, VariantDuplicate, dup.Score, s.cfg, s.store, s.scorer, s.clock), nil
		}
		var blocked *backend.BlockedError
		if errors.As(err, &blocked) {
			return newTerminalSession(id, candidateID, offerID, VariantBlocked, nil, s.cfg, s.store, s.scorer, s.clock), nil
		}
		return nil, fmt.Errorf("begin attempt %s: %w", id, err)
	}

	record = domain.NewAttemptRecord(questions, s.clock.Now())
	session := newSession(id, candidateID, offerID, record, s.cfg, s.store, s.scorer, s.clock)
	session.persistLocked() // no concurrent access before the session is handed out
	session.start()
	log.Info().Str("attempt_id", id).Int("questions", len(questions)).Msg("attempt started")
	return session, nil
}

// Drop forgets a session once it is terminal so a later connection re-reads
// the store. Live sessions are kept so a reconnecting candidate re-attaches.
func (s *SessionService) Drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return
	}
	if session.Terminal() {
		session.Close()
		delete(s.sessions, id)
	}
}
