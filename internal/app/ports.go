package app

import (
	"context"
	"time"

	"quiz-schedule-service/internal/domain"
)

// StagingRepository abstracts the in-memory staging of submissions, participations and results.
type StagingRepository interface {
	Put(quizID int64, username string, submission *domain.Submission) bool
	Get(quizID int64, username string) *domain.Submission
	DrainSubmissions(quizID int64) map[string]*domain.Submission
	DropSubmissions(quizID int64) int
	TakeSubmitted(quizID int64) map[string]*domain.Submission
	Restage(quizID int64, username string, submission *domain.Submission)
	SubmissionQuizIDs() []int64
	FinalizedOnlyQuizIDs() []int64
	PruneSealed(retention time.Duration) int

	StageParticipation(quizID int64, participation *domain.Participation)
	GetParticipation(quizID int64, username string) *domain.Participation
	DrainParticipations(quizID int64) map[string]*domain.Participation
	ParticipationQuizIDs() []int64

	StageResult(quizID int64, result *domain.Result)
	DrainResults(quizID int64) []*domain.Result
	ResultQuizIDs() []int64

	ClearAll(quizID int64)
}

// PersistenceGateway is the durable store. Load methods return domain.ErrQuizNotFound for
// deleted or unknown quizzes; SaveParticipation returns domain.ErrDuplicateParticipation
// when the (quiz, user) pair already has one.
type PersistenceGateway interface {
	LoadQuiz(ctx context.Context, quizID int64) (*domain.QuizDefinition, error)
	LoadQuizWithStatistics(ctx context.Context, quizID int64) (*domain.QuizDefinition, error)
	ListPlannedQuizzes(ctx context.Context, releasedAfter time.Time) ([]*domain.QuizDefinition, error)
	SaveSubmission(ctx context.Context, submission *domain.Submission) (*domain.Submission, error)
	SaveParticipation(ctx context.Context, participation *domain.Participation) (*domain.Participation, error)
	SaveResult(ctx context.Context, result *domain.Result) (*domain.Result, error)
}

// Scorer grades a submission against the quiz definition, mutating only score fields.
type Scorer interface {
	Score(quiz *domain.QuizDefinition, submission *domain.Submission) (*domain.Submission, error)
}

// DeliveryChannel pushes payloads to one participant or to everyone.
type DeliveryChannel interface {
	SendToUser(ctx context.Context, username, topic string, payload any) error
	Broadcast(ctx context.Context, topic string, payload any) error
}

// StatisticsSink consumes a batch of finalized results for one quiz.
type StatisticsSink interface {
	UpdateStatistics(ctx context.Context, quiz *domain.QuizDefinition, results []*domain.Result) error
}

// QuizCache serves quiz definitions to the request path, where a short staleness is acceptable.
type QuizCache interface {
	GetQuiz(ctx context.Context, quizID int64) (*domain.QuizDefinition, error)
}
