package app

import (
	"context"
	"sync"
	"time"

	"assessment-session-service/internal/backend"
	"assessment-session-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Stage is the lifecycle state label of a session.
type Stage string

const (
	StageQCM       Stage = "qcm"
	StageCompleted Stage = "completed"
	StageTimeout   Stage = "timeout"
)

// Variant distinguishes the mutually exclusive completed presentations that
// share the completed stage label.
type Variant string

const (
	VariantNone      Variant = ""
	VariantSuccess   Variant = "success"
	VariantDuplicate Variant = "duplicate"
	VariantBlocked   Variant = "blocked"
	VariantForced    Variant = "forced"
)

// Snapshot is the render-ready view of a session consumed by the UI layer.
type Snapshot struct {
	Stage            Stage             `json:"stage"`
	Variant          Variant           `json:"variant,omitempty"`
	QuestionIndex    int               `json:"questionIndex"`
	QuestionCount    int               `json:"questionCount"`
	Question         *domain.Question  `json:"question,omitempty"`
	SelectedOption   *int              `json:"selectedOptionIndex,omitempty"`
	Answered         []bool            `json:"answered,omitempty"`
	RemainingSeconds int               `json:"remainingSeconds"`
	PriorScore       *int              `json:"priorScore,omitempty"`
	Violations       domain.Violations `json:"violations,omitempty"`
	Submitting       bool              `json:"submitting"`
	RatingRecorded   bool              `json:"ratingRecorded"`
	Notice           string            `json:"notice,omitempty"`
}

// SessionConfig carries the timing knobs of a session. A zero Duration
// disables the countdown and a zero AutosaveInterval disables autosave, which
// tests use to isolate transitions from timers.
type SessionConfig struct {
	Duration         time.Duration
	AutosaveInterval time.Duration
	GraceDelay       time.Duration
}

// Session is the state machine for one attempt. It is the only writer of the
// attempt record. Every transition runs to completion, persistence write
// included, under a single mutex; the countdown, the violation monitor, user
// navigation and the teardown signal all funnel into it, and terminal-state
// guards discard whichever of them fires late.
type Session struct {
	id          string
	candidateID int
	offerID     int

	cfg        SessionConfig
	store      AttemptStore
	scorer     ScoringBackend
	clock      clockwork.Clock
	countdown  *Countdown
	violations *ViolationAggregator

	mu             sync.Mutex
	record         domain.AttemptRecord
	current        int
	stage          Stage
	variant        Variant
	forced         bool
	submitting     bool
	priorScore     *int
	remaining      time.Duration
	ratingRecorded bool
	notice         string
	autosaveStop   chan struct{}
	subscribers    map[chan Snapshot]struct{}
}

func newSession(id string, candidateID, offerID int, record domain.AttemptRecord, cfg SessionConfig, store AttemptStore, scorer ScoringBackend, clock clockwork.Clock) *Session {
	return &Session{
		id:          id,
		candidateID: candidateID,
		offerID:     offerID,
		cfg:         cfg,
		store:       store,
		scorer:      scorer,
		clock:       clock,
		countdown:   NewCountdown(clock),
		violations:  NewViolationAggregator(DefaultViolationThreshold),
		record:      record,
		stage:       StageQCM,
		remaining:   cfg.Duration,
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// newTerminalSession builds a presentation-only session for attempts that are
// already decided before any question is shown (duplicate, blocked, restored
// completed record). No timers run and navigation is rejected.
func newTerminalSession(id string, candidateID, offerID int, variant Variant, priorScore *int, cfg SessionConfig, store AttemptStore, scorer ScoringBackend, clock clockwork.Clock) *Session {
	s := newSession(id, candidateID, offerID, domain.AttemptRecord{Status: domain.StatusCompleted}, cfg, store, scorer, clock)
	s.stage = StageCompleted
	s.variant = variant
	s.priorScore = priorScore
	s.remaining = 0
	return s
}

// start arms the countdown and the periodic autosave. Called once, before the
// session is handed out.
func (s *Session) start() {
	if s.cfg.Duration > 0 {
		s.countdown.Start(s.cfg.Duration, s.onTick, s.onExpire)
	}
	if s.cfg.AutosaveInterval > 0 {
		s.mu.Lock()
		s.autosaveStop = make(chan struct{})
		stop := s.autosaveStop
		s.mu.Unlock()
		go s.autosaveLoop(stop)
	}
}

// ID returns the deterministic attempt identifier.
func (s *Session) ID() string { return s.id }

// activeLocked is the navigation guard: only an unforced qcm session with a
// non-terminal record and no submission in flight accepts user-driven
// transitions. An in-flight normal submission is already on its way to a
// terminal state, so triggers arriving behind it are discarded.
func (s *Session) activeLocked() bool {
	return s.stage == StageQCM && !s.forced && !s.submitting && !s.record.Status.Terminal()
}

// SelectOption records the chosen option for the current question and persists
// a snapshot so a reload loses at most the latest in-memory change window.
func (s *Session) SelectOption(optionIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return domain.ErrSessionNotActive
	}
	options := s.record.Questions[s.current].Options
	if optionIndex < 0 || optionIndex >= len(options) {
		return domain.ErrQuestionIndexOutOfRange
	}
	chosen := options[optionIndex]
	s.record.Answers[s.current] = &chosen
	s.record.LastUpdated = s.clock.Now()
	s.notice = ""
	s.persistLocked()
	s.broadcastLocked()
	return nil
}

// Next advances to the following question, or on the last question starts the
// normal submission. Rejected while the current slot is unanswered.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return domain.ErrSessionNotActive
	}
	if !s.record.Answered(s.current) {
		return domain.ErrNoOptionSelected
	}
	s.record.LastUpdated = s.clock.Now()
	s.persistLocked()
	if s.current < len(s.record.Questions)-1 {
		s.current++
		s.notice = ""
		s.broadcastLocked()
		return nil
	}
	s.beginSubmissionLocked("", nil)
	return nil
}

// Previous moves back one question. No answer is required to go back.
func (s *Session) Previous() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return domain.ErrSessionNotActive
	}
	if s.current > 0 {
		s.current--
		s.notice = ""
		s.broadcastLocked()
	}
	return nil
}

// JumpTo navigates directly to a question, persisting current state first.
func (s *Session) JumpTo(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return domain.ErrSessionNotActive
	}
	if index < 0 || index >= len(s.record.Questions) {
		return domain.ErrQuestionIndexOutOfRange
	}
	s.record.LastUpdated = s.clock.Now()
	s.persistLocked()
	s.current = index
	s.notice = ""
	s.broadcastLocked()
	return nil
}

// ReportViolation feeds one monitor notification into the aggregator. When the
// threshold trips, navigation is disabled and the forced-end submission runs,
// exactly once. Violations against a terminal, already-forced or submitting
// session are ignored.
func (s *Session) ReportViolation(violationType string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return
	}
	if !s.violations.Record(violationType, count) {
		s.broadcastLocked()
		return
	}
	s.forced = true
	s.beginSubmissionLocked(backend.StatusForcedEnd, s.violations.Counts())
}

// Abandon is the page-teardown path: the current state is persisted and the
// score-zero beacon dispatched, fire-and-forget. The record keeps its
// in_progress status and the session stays live, so a reload on the same day
// reattaches or restores instead of generating a new attempt; only the sweep
// eventually collects an attempt nobody came back for. A no-op once the
// session is terminal or a submission is in flight.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return
	}
	s.record.LastUpdated = s.clock.Now()
	s.persistLocked()
	entries, unmatched := s.record.AnswerEntries()
	s.warnUnmatched(unmatched)
	s.scorer.ScoreZero(backend.Submission{
		CandidateID: s.candidateID,
		OfferID:     s.offerID,
		TotalScore:  s.record.TotalScore(),
		Questions:   s.record.Questions,
		Answers:     entries,
		Violations:  s.violations.Counts(),
	})
	log.Info().Str("attempt_id", s.id).Msg("attempt abandoned, record kept recoverable")
}

// RateOffer stores the candidate's satisfaction rating. Only offered on the
// normally-completed presentation.
func (s *Session) RateOffer(ctx context.Context, score int) error {
	s.mu.Lock()
	if s.stage != StageCompleted || s.variant != VariantSuccess {
		s.mu.Unlock()
		return domain.ErrNotCompleted
	}
	s.mu.Unlock()

	if err := s.scorer.RateOffer(ctx, s.offerID, s.candidateID, score); err != nil {
		return err
	}
	s.mu.Lock()
	s.ratingRecorded = true
	s.broadcastLocked()
	s.mu.Unlock()
	return nil
}

// Terminal reports whether the session accepts no further user-driven
// transitions (completed, timeout, or an abandoned record).
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage != StageQCM || s.record.Status.Terminal()
}

// Close releases the session's timers. Safe to call on any state; terminal
// transitions have already stopped them.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimersLocked()
}

// beginSubmissionLocked snapshots the payload under the lock and runs the
// network call on its own goroutine; the reply re-enters the state machine
// through finishSubmission. status is empty for a normal completion.
func (s *Session) beginSubmissionLocked(status string, violations domain.Violations) {
	s.submitting = true
	entries, unmatched := s.record.AnswerEntries()
	s.warnUnmatched(unmatched)
	sub := backend.Submission{
		CandidateID: s.candidateID,
		OfferID:     s.offerID,
		TotalScore:  s.record.TotalScore(),
		Questions:   s.record.Questions,
		Answers:     entries,
		Status:      status,
		Violations:  violations,
	}
	variant := VariantSuccess
	if status == backend.StatusForcedEnd {
		variant = VariantForced
	}
	s.broadcastLocked()
	go s.finishSubmission(sub, variant)
}

func (s *Session) finishSubmission(sub backend.Submission, variant Variant) {
	err := s.scorer.StoreScore(context.Background(), sub)

	s.mu.Lock()
	if s.stage != StageQCM {
		// A terminal transition won while the request was in flight.
		s.mu.Unlock()
		return
	}
	if err != nil {
		log.Error().Err(err).Str("attempt_id", s.id).Str("status", sub.Status).
			Msg("score submission failed")
		s.notice = "score submission failed"
		s.broadcastLocked()
		s.mu.Unlock()
		// The candidate must not stay stranded mid-test: surface the terminal
		// presentation after the grace delay anyway. The record stays
		// in_progress in the store for forensic recovery.
		go func() {
			if s.cfg.GraceDelay > 0 {
				s.clock.Sleep(s.cfg.GraceDelay)
			}
			s.mu.Lock()
			if s.stage == StageQCM {
				s.submitting = false
				s.enterCompletedLocked(variant)
			}
			s.mu.Unlock()
		}()
		return
	}
	s.record.Status = domain.StatusCompleted
	s.record.LastUpdated = s.clock.Now()
	s.persistLocked()
	s.submitting = false
	s.enterCompletedLocked(variant)
	s.mu.Unlock()
}

func (s *Session) enterCompletedLocked(variant Variant) {
	s.stage = StageCompleted
	s.variant = variant
	s.stopTimersLocked()
	s.broadcastLocked()
	log.Info().Str("attempt_id", s.id).Str("variant", string(variant)).Msg("attempt completed")
}

func (s *Session) onTick(remaining time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageQCM {
		return
	}
	s.remaining = remaining
	s.broadcastLocked()
}

// onExpire moves the session to timeout. Terminal with no submission: the
// record is left in_progress for the sweep to collect.
func (s *Session) onExpire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return
	}
	s.remaining = 0
	s.stage = StageTimeout
	s.stopTimersLocked()
	s.broadcastLocked()
	log.Info().Str("attempt_id", s.id).Msg("attempt timed out")
}

func (s *Session) autosaveLoop(stop chan struct{}) {
	ticker := s.clock.NewTicker(s.cfg.AutosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			s.mu.Lock()
			if s.activeLocked() {
				s.record.LastUpdated = s.clock.Now()
				s.persistLocked()
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) stopTimersLocked() {
	s.countdown.Stop()
	if s.autosaveStop != nil {
		close(s.autosaveStop)
		s.autosaveStop = nil
	}
}

// persistLocked writes a full-record snapshot. Persistence failures are logged
// and never surfaced to the candidate.
func (s *Session) persistLocked() {
	if len(s.record.Questions) == 0 {
		return
	}
	if err := s.store.Put(context.Background(), s.id, s.record); err != nil {
		log.Warn().Err(err).Str("attempt_id", s.id).Msg("attempt snapshot not persisted")
	}
}

func (s *Session) warnUnmatched(unmatched int) {
	if unmatched > 0 {
		log.Warn().Str("attempt_id", s.id).Int("unmatched", unmatched).
			Msg("answers without a matching option were mapped to index 0")
	}
}

// Subscribe returns a channel receiving a snapshot after every transition,
// starting with the current state. The caller must invoke cancel to avoid
// leaks.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	initial := s.snapshotLocked()
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Snapshot returns the current render-ready view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) broadcastLocked() {
	snap := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot so a slow consumer never blocks a transition.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Stage:            s.stage,
		Variant:          s.variant,
		QuestionIndex:    s.current,
		QuestionCount:    len(s.record.Questions),
		RemainingSeconds: int(s.remaining / time.Second),
		PriorScore:       s.priorScore,
		Submitting:       s.submitting,
		RatingRecorded:   s.ratingRecorded,
		Notice:           s.notice,
	}
	if counts := s.violations.Counts(); len(counts) > 0 {
		snap.Violations = counts
	}
	if s.stage == StageQCM && s.current < len(s.record.Questions) {
		question := s.record.Questions[s.current]
		snap.Question = &question
		snap.Answered = make([]bool, len(s.record.Answers))
		for i := range s.record.Answers {
			snap.Answered[i] = s.record.Answers[i] != nil
		}
		if answer := s.record.Answers[s.current]; answer != nil {
			for j, opt := range question.Options {
				if opt.Equal(*answer) {
					index := j
					snap.SelectedOption = &index
					break
				}
			}
		}
	}
	return snap
}
