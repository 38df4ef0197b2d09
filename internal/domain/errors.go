package domain

import "errors"

var (
	// ErrNoOptionSelected blocks forward navigation from an unanswered slot.
	ErrNoOptionSelected = errors.New("no option selected")
	// ErrSessionNotActive is returned for navigation on a terminal or forced session.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrQuestionIndexOutOfRange is returned for jumps outside the question list.
	ErrQuestionIndexOutOfRange = errors.New("question index out of range")
	// ErrNoQuestions indicates the backend returned an empty or malformed question list.
	ErrNoQuestions = errors.New("no questions returned for this assessment")
	// ErrNotCompleted is returned when rating is attempted before normal completion.
	ErrNotCompleted = errors.New("assessment is not completed")
)
