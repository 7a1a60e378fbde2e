package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"quiz-schedule-service/internal/domain"
	"quiz-schedule-service/internal/metrics"
)

// Dependencies are the collaborators the engine cannot run without.
type Dependencies struct {
	Staging    StagingRepository
	Gateway    PersistenceGateway
	Scorer     Scorer
	Delivery   DeliveryChannel
	Statistics StatisticsSink
}

// Option customises an Engine.
type Option func(*Engine)

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithMetrics(m *metrics.Engine) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock is used by tests for deterministic time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithQuizCache serves request path lookups; the reconciliation pass always reads the gateway.
func WithQuizCache(cache QuizCache) Option {
	return func(e *Engine) { e.quizzes = cache }
}

// WithStartWorkers bounds concurrently running quiz start callbacks.
func WithStartWorkers(n int64) Option {
	return func(e *Engine) { e.startWorkers = n }
}

// WithMaxFinalizeAttempts sets how often a failing submission is retried before it is dropped.
func WithMaxFinalizeAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithSealRetention sets how long an ended quiz keeps rejecting late writes after its
// submissions were drained.
func WithSealRetention(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sealRetention = d
		}
	}
}

// WithGracePeriod applies to quizzes stored without a grace period of their own.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Engine) { e.gracePeriod = d }
}

// Engine buffers quiz activity in memory, finalizes it on a fixed delay and fires quiz starts.
type Engine struct {
	staging  StagingRepository
	gateway  PersistenceGateway
	scorer   Scorer
	delivery DeliveryChannel
	stats    StatisticsSink
	quizzes  QuizCache

	scheduler    *StartScheduler
	startWorkers  int64
	maxAttempts   int
	gracePeriod   time.Duration
	sealRetention time.Duration

	log     *zap.Logger
	metrics *metrics.Engine
	tracer  trace.Tracer
	now     func() time.Time

	passMu sync.Mutex

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewEngine(deps Dependencies, opts ...Option) *Engine {
	e := &Engine{
		staging:       deps.Staging,
		gateway:       deps.Gateway,
		scorer:        deps.Scorer,
		delivery:      deps.Delivery,
		stats:         deps.Statistics,
		startWorkers:  4,
		maxAttempts:   3,
		sealRetention: time.Hour,
		log:           zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("quiz-schedule-service/app")
	}
	if e.quizzes == nil {
		e.quizzes = gatewayCache{e.gateway}
	}
	e.scheduler = NewStartScheduler(e.releaseQuiz, e.startWorkers, e.now, e.log.Named("scheduler"), e.metrics)
	return e
}

// Scheduler exposes the start scheduler for observability.
func (e *Engine) Scheduler() *StartScheduler {
	return e.scheduler
}

// UpdateSubmission stages the participant's latest submission. It fails with
// domain.ErrSubmissionFinalized once the participant's submission was finalized.
func (e *Engine) UpdateSubmission(quizID int64, username string, submission *domain.Submission) error {
	if submission == nil {
		submission = domain.NewEmptySubmission(quizID, username)
	}
	submission.QuizID = quizID
	submission.Username = username
	if !e.staging.Put(quizID, username, submission) {
		return fmt.Errorf("quiz %d user %s: %w", quizID, username, domain.ErrSubmissionFinalized)
	}
	return nil
}

// SubmitAnswers is the request path entry point: it checks the quiz is running before staging.
func (e *Engine) SubmitAnswers(ctx context.Context, quizID int64, username string, answers []domain.SubmittedAnswer, submitted bool) (*domain.Submission, error) {
	quiz, err := e.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if !e.withGrace(quiz).IsSubmissionAllowed(now) {
		return nil, fmt.Errorf("quiz %d: %w", quizID, domain.ErrSubmissionNotAllowed)
	}
	if answers == nil {
		answers = []domain.SubmittedAnswer{}
	}
	submission := &domain.Submission{
		QuizID:         quizID,
		Username:       username,
		Answers:        answers,
		Submitted:      submitted,
		SubmissionDate: now,
	}
	if submitted {
		submission.Type = domain.SubmissionManual
	}
	if err := e.UpdateSubmission(quizID, username, submission); err != nil {
		return nil, err
	}
	return submission, nil
}

// GetSubmission never returns nil.
func (e *Engine) GetSubmission(quizID int64, username string) *domain.Submission {
	return e.staging.Get(quizID, username)
}

// GetParticipation returns the finalized participation still awaiting delivery, or nil.
func (e *Engine) GetParticipation(quizID int64, username string) *domain.Participation {
	return e.staging.GetParticipation(quizID, username)
}

func (e *Engine) ScheduleQuizStart(quiz *domain.QuizDefinition) bool {
	return e.scheduler.Schedule(quiz)
}

func (e *Engine) CancelScheduledQuizStart(quizID int64) {
	e.scheduler.Cancel(quizID)
}

// ClearQuizData purges everything staged for the quiz.
func (e *Engine) ClearQuizData(quizID int64) {
	e.staging.ClearAll(quizID)
	e.log.Info("cleared staged quiz data", zap.Int64("quizId", quizID))
}

// Start recovers pending quiz starts and launches the fixed-delay reconciliation loop.
func (e *Engine) Start(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return fmt.Errorf("start engine: delay must be positive, got %s", delay)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return domain.ErrEngineRunning
	}

	recovered, err := e.recoverScheduledStarts(ctx)
	if err != nil {
		return fmt.Errorf("recover scheduled starts: %w", err)
	}

	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.running = true
	go e.loop(context.WithoutCancel(ctx), delay, e.stop, e.done)

	e.log.Info("quiz engine started", zap.Duration("delay", delay), zap.Int("scheduledStarts", recovered))
	return nil
}

// Stop ends the loop after the current pass and cancels all pending quiz starts.
// A pass in flight runs to completion on its own context.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	stop, done := e.stop, e.done
	e.running = false
	e.mu.Unlock()

	close(stop)
	<-done
	e.scheduler.Stop()
	e.log.Info("quiz engine stopped")
}

func (e *Engine) recoverScheduledStarts(ctx context.Context) (int, error) {
	quizzes, err := e.gateway.ListPlannedQuizzes(ctx, e.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, quiz := range quizzes {
		if e.scheduler.Schedule(quiz) {
			n++
		}
	}
	return n, nil
}

func (e *Engine) loop(ctx context.Context, delay time.Duration, stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			e.RunPass(ctx)
			timer.Reset(delay)
		}
	}
}

// releaseQuiz announces a quiz that just reached its release date.
func (e *Engine) releaseQuiz(ctx context.Context, quizID int64) {
	quiz, err := e.gateway.LoadQuiz(ctx, quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		e.log.Info("scheduled quiz was deleted before its start", zap.Int64("quizId", quizID))
		return
	}
	if err != nil {
		e.log.Error("load quiz for start", zap.Int64("quizId", quizID), zap.Error(err))
		return
	}
	if err := e.delivery.Broadcast(ctx, domain.StartTopic(quizID), quiz.ForStudents()); err != nil {
		e.log.Error("broadcast quiz start", zap.Int64("quizId", quizID), zap.Error(err))
	}
}

func (e *Engine) withGrace(quiz *domain.QuizDefinition) *domain.QuizDefinition {
	if quiz.GracePeriod > 0 || e.gracePeriod <= 0 {
		return quiz
	}
	out := *quiz
	out.GracePeriod = e.gracePeriod
	return &out
}

func newID() string {
	return uuid.NewString()
}

type gatewayCache struct {
	gateway PersistenceGateway
}

func (g gatewayCache) GetQuiz(ctx context.Context, quizID int64) (*domain.QuizDefinition, error) {
	return g.gateway.LoadQuiz(ctx, quizID)
}
