package domain

import (
	"fmt"
	"time"
)

// AttemptStatus is the persisted lifecycle state of an attempt record.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusCompleted  AttemptStatus = "completed"
	StatusAbandoned  AttemptStatus = "abandoned"
)

// Terminal reports whether the status admits no further writes.
func (s AttemptStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Option is one selectable answer carrying its trait weight.
type Option struct {
	Text  string `json:"text"`
	Score int    `json:"score"`
}

// Equal compares options by value. Restored answers are rebuilt from persisted
// plain data and never share identity with the question's option slice.
func (o Option) Equal(other Option) bool {
	return o.Text == other.Text && o.Score == other.Score
}

// Question is a single assessment item. Immutable once fetched or restored.
type Question struct {
	Trait   string   `json:"trait"`
	Prompt  string   `json:"question"`
	Options []Option `json:"options"`
}

// Violations maps a violation type to the monitor-reported running count.
type Violations map[string]int

// AnswerEntry is the wire form of one answered slot.
type AnswerEntry struct {
	QuestionIndex       int `json:"question_index"`
	SelectedOptionIndex int `json:"selected_option_index"`
	Score               int `json:"score"`
}

// AttemptRecord is the full persisted state of one attempt. The session state
// machine owns the in-memory copy; stores only ever receive or return it whole.
type AttemptRecord struct {
	Questions   []Question    `json:"questions"`
	Answers     []*Option     `json:"answers"`
	Status      AttemptStatus `json:"status"`
	StartTime   time.Time     `json:"startTime"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

// NewAttemptRecord builds an in-progress record with one empty answer slot per
// question.
func NewAttemptRecord(questions []Question, now time.Time) AttemptRecord {
	return AttemptRecord{
		Questions:   questions,
		Answers:     make([]*Option, len(questions)),
		Status:      StatusInProgress,
		StartTime:   now,
		LastUpdated: now,
	}
}

// Answered reports whether slot i holds a chosen option.
func (r AttemptRecord) Answered(i int) bool {
	return i >= 0 && i < len(r.Answers) && r.Answers[i] != nil
}

// AnsweredCount returns the number of filled answer slots.
func (r AttemptRecord) AnsweredCount() int {
	n := 0
	for _, a := range r.Answers {
		if a != nil {
			n++
		}
	}
	return n
}

// TotalScore sums the chosen option scores; unanswered slots contribute 0.
func (r AttemptRecord) TotalScore() int {
	total := 0
	for _, a := range r.Answers {
		if a != nil {
			total += a.Score
		}
	}
	return total
}

// AnswerEntries serializes the answered slots for submission. The option index
// is resolved by (text, score) equality against the question's option list; a
// slot whose answer no longer matches any option falls back to index 0. The
// second return value counts those fallbacks so callers can log them.
func (r AttemptRecord) AnswerEntries() ([]AnswerEntry, int) {
	entries := make([]AnswerEntry, 0, len(r.Answers))
	unmatched := 0
	for i, answer := range r.Answers {
		if answer == nil || i >= len(r.Questions) {
			continue
		}
		index := -1
		for j, opt := range r.Questions[i].Options {
			if opt.Equal(*answer) {
				index = j
				break
			}
		}
		if index == -1 {
			index = 0
			unmatched++
		}
		entries = append(entries, AnswerEntry{
			QuestionIndex:       i,
			SelectedOptionIndex: index,
			Score:               answer.Score,
		})
	}
	return entries, unmatched
}

// AttemptID derives the deduplication key for an attempt. The same
// (candidate, offer, UTC calendar date) triple always yields the same id, which
// is what lets a reloaded page recover an in-progress attempt.
func AttemptID(candidateID, offerID int, day time.Time) string {
	return fmt.Sprintf("test_%d_%d_%s", candidateID, offerID, day.UTC().Format("2006-01-02"))
}
