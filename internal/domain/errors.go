package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz definition could not be loaded (missing or deleted).
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrDuplicateParticipation is returned when a participation already exists for (quiz, user).
	ErrDuplicateParticipation = errors.New("participation already exists for quiz and user")
	// ErrSubmissionFinalized is returned when a participant writes after finalization.
	ErrSubmissionFinalized = errors.New("submission already finalized")
	// ErrSubmissionNotAllowed indicates the quiz is not accepting submissions right now.
	ErrSubmissionNotAllowed = errors.New("quiz is not accepting submissions")
	// ErrUnknownQuestionKind is returned when no scoring strategy exists for a question.
	ErrUnknownQuestionKind = errors.New("unknown question kind")
	// ErrQuestionNotFound indicates a submitted answer references a question the quiz does not have.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrEngineRunning is returned by Start when the reconciliation loop is already active.
	ErrEngineRunning = errors.New("engine already running")
)
