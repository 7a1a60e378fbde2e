package app

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"quiz-schedule-service/internal/domain"
)

// PassStats summarises one reconciliation pass.
type PassStats struct {
	Finalized         int
	Restaged          int
	Delivered         int
	DroppedDeliveries int
	StatisticsBatches int
}

// RunPass runs finalize, deliver and statistics phases once. Calls are serialized so at most
// one pass is in flight, whether it comes from the loop or from a caller.
func (e *Engine) RunPass(ctx context.Context) PassStats {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	ctx, span := e.tracer.Start(ctx, "reconciliation.pass")
	defer span.End()
	started := time.Now()

	var stats PassStats
	e.finalizeSubmissions(ctx, &stats)
	e.deliverParticipations(ctx, &stats)
	e.flushStatistics(ctx, &stats)

	e.metrics.PassDuration.Observe(time.Since(started).Seconds())
	span.SetAttributes(
		attribute.Int("finalized", stats.Finalized),
		attribute.Int("delivered", stats.Delivered),
	)
	return stats
}

// isolate keeps a panic in one quiz from aborting the pass.
func (e *Engine) isolate(quizID int64, phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("reconciliation panicked",
				zap.Int64("quizId", quizID),
				zap.String("phase", phase),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

func (e *Engine) finalizeSubmissions(ctx context.Context, stats *PassStats) {
	ctx, span := e.tracer.Start(ctx, "reconciliation.finalize")
	defer span.End()
	for _, quizID := range e.staging.SubmissionQuizIDs() {
		e.isolate(quizID, "finalize", func() { e.finalizeQuiz(ctx, quizID, stats) })
	}
	// quizzes whose participants all submitted early get sealed once they end
	for _, quizID := range e.staging.FinalizedOnlyQuizIDs() {
		e.isolate(quizID, "finalize", func() { e.finalizeQuiz(ctx, quizID, stats) })
	}
	if pruned := e.staging.PruneSealed(e.sealRetention); pruned > 0 {
		e.log.Debug("released sealed quizzes", zap.Int("count", pruned))
	}
}

func (e *Engine) finalizeQuiz(ctx context.Context, quizID int64, stats *PassStats) {
	quiz, err := e.gateway.LoadQuiz(ctx, quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		dropped := e.staging.DropSubmissions(quizID)
		e.log.Info("dropped submissions of deleted quiz", zap.Int64("quizId", quizID), zap.Int("count", dropped))
		return
	}
	if err != nil {
		e.log.Error("load quiz for finalize", zap.Int64("quizId", quizID), zap.Error(err))
		return
	}
	quiz = e.withGrace(quiz)

	now := e.now()
	ended := quiz.IsEnded(now)
	var batch map[string]*domain.Submission
	if ended {
		batch = e.staging.DrainSubmissions(quizID)
	} else {
		batch = e.staging.TakeSubmitted(quizID)
	}
	if len(batch) == 0 {
		return
	}

	started := time.Now()
	finalized := 0
	for username, submission := range batch {
		switch e.finalize(ctx, quiz, username, submission, ended, now) {
		case finalizeDone:
			finalized++
		case finalizeRestaged:
			stats.Restaged++
		}
	}
	stats.Finalized += finalized
	e.log.Info("processed quiz submissions",
		zap.Int64("quizId", quizID),
		zap.Int("count", finalized),
		zap.Bool("ended", ended),
		zap.Duration("took", time.Since(started)),
	)
}

type finalizeOutcome int

const (
	finalizeDone finalizeOutcome = iota
	finalizeRestaged
	finalizeFailed
)

// finalize turns one drained submission into a persisted participation and result.
// Failures before the participation row exists restage the submission; later ones do not,
// since a retry could create a second participation.
func (e *Engine) finalize(ctx context.Context, quiz *domain.QuizDefinition, username string, submission *domain.Submission, ended bool, now time.Time) finalizeOutcome {
	submission.QuizID = quiz.ID
	submission.Username = username
	if ended && !submission.Submitted {
		submission.Submitted = true
		submission.Type = domain.SubmissionTimeout
		submission.SubmissionDate = now
	}
	if submission.Type == "" {
		submission.Type = domain.SubmissionManual
	}
	if submission.SubmissionDate.IsZero() {
		submission.SubmissionDate = now
	}

	scored, err := e.scorer.Score(quiz, submission)
	if err != nil {
		return e.retryLater(quiz.ID, username, submission, "score", err)
	}
	if scored.ID == "" {
		scored.ID = newID()
	}
	savedSubmission, err := e.gateway.SaveSubmission(ctx, scored)
	if err != nil {
		return e.retryLater(quiz.ID, username, scored, "save submission", err)
	}

	participation := &domain.Participation{
		ID:                 newID(),
		QuizID:             quiz.ID,
		Username:           username,
		InitializationDate: now,
		State:              domain.StateFinished,
	}
	savedParticipation, err := e.gateway.SaveParticipation(ctx, participation)
	if errors.Is(err, domain.ErrDuplicateParticipation) {
		e.metrics.FinalizeFailures.WithLabelValues("duplicate").Inc()
		e.log.Warn("participation already exists, skipping",
			zap.Int64("quizId", quiz.ID), zap.String("username", username))
		return finalizeFailed
	}
	if err != nil {
		return e.retryLater(quiz.ID, username, scored, "save participation", err)
	}

	score := quiz.ScorePercent(savedSubmission.ScoreInPoints)
	result := &domain.Result{
		ID:              newID(),
		QuizID:          quiz.ID,
		Username:        username,
		ParticipationID: savedParticipation.ID,
		Score:           score,
		ScoreInPoints:   savedSubmission.ScoreInPoints,
		CompletionDate:  savedSubmission.SubmissionDate,
		Rated:           true,
		Successful:      score >= 100,
		AssessmentType:  domain.AssessmentAutomatic,
		Submission:      savedSubmission,
	}
	savedResult, err := e.gateway.SaveResult(ctx, result)
	if err != nil {
		e.metrics.FinalizeFailures.WithLabelValues("result").Inc()
		e.log.Error("save result after participation was persisted",
			zap.Int64("quizId", quiz.ID), zap.String("username", username),
			zap.String("participationId", savedParticipation.ID), zap.Error(err))
		return finalizeFailed
	}

	savedParticipation.Result = savedResult
	e.staging.StageParticipation(quiz.ID, savedParticipation)
	e.staging.StageResult(quiz.ID, savedResult)
	e.metrics.Finalized.WithLabelValues(string(savedSubmission.Type)).Inc()
	return finalizeDone
}

func (e *Engine) retryLater(quizID int64, username string, submission *domain.Submission, step string, err error) finalizeOutcome {
	submission.FinalizeAttempts++
	fields := []zap.Field{
		zap.Int64("quizId", quizID),
		zap.String("username", username),
		zap.String("step", step),
		zap.Int("attempt", submission.FinalizeAttempts),
		zap.Error(err),
	}
	if submission.FinalizeAttempts >= e.maxAttempts {
		e.metrics.FinalizeFailures.WithLabelValues("dropped").Inc()
		e.log.Error("giving up on submission", fields...)
		return finalizeFailed
	}
	e.metrics.FinalizeFailures.WithLabelValues("restaged").Inc()
	e.log.Warn("finalize failed, restaging submission", fields...)
	e.staging.Restage(quizID, username, submission)
	return finalizeRestaged
}

func (e *Engine) deliverParticipations(ctx context.Context, stats *PassStats) {
	ctx, span := e.tracer.Start(ctx, "reconciliation.deliver")
	defer span.End()
	for _, quizID := range e.staging.ParticipationQuizIDs() {
		e.isolate(quizID, "deliver", func() { e.deliverQuiz(ctx, quizID, stats) })
	}
}

func (e *Engine) deliverQuiz(ctx context.Context, quizID int64, stats *PassStats) {
	quiz, err := e.gateway.LoadQuiz(ctx, quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		dropped := e.staging.DrainParticipations(quizID)
		e.log.Info("dropped participations of deleted quiz", zap.Int64("quizId", quizID), zap.Int("count", len(dropped)))
		return
	}
	if err != nil {
		e.log.Error("load quiz for delivery", zap.Int64("quizId", quizID), zap.Error(err))
		return
	}
	if !e.withGrace(quiz).IsEnded(e.now()) {
		return
	}

	topic := domain.ParticipationTopic(quizID)
	sent := 0
	for username, participation := range e.staging.DrainParticipations(quizID) {
		if username == "" || participation == nil || participation.Username == "" {
			stats.DroppedDeliveries++
			e.metrics.DeliveryDropped.Inc()
			e.log.Warn("dropping participation without owner", zap.Int64("quizId", quizID))
			continue
		}
		if err := e.delivery.SendToUser(ctx, participation.Username, topic, participation.ForDelivery()); err != nil {
			stats.DroppedDeliveries++
			e.metrics.DeliveryDropped.Inc()
			e.log.Error("deliver participation",
				zap.Int64("quizId", quizID), zap.String("username", participation.Username), zap.Error(err))
			continue
		}
		sent++
	}
	stats.Delivered += sent
	e.metrics.Delivered.Add(float64(sent))
	e.log.Info("sent out participations", zap.Int64("quizId", quizID), zap.Int("count", sent))
}

func (e *Engine) flushStatistics(ctx context.Context, stats *PassStats) {
	ctx, span := e.tracer.Start(ctx, "reconciliation.statistics")
	defer span.End()
	for _, quizID := range e.staging.ResultQuizIDs() {
		e.isolate(quizID, "statistics", func() { e.flushQuiz(ctx, quizID, stats) })
	}
}

func (e *Engine) flushQuiz(ctx context.Context, quizID int64, stats *PassStats) {
	quiz, err := e.gateway.LoadQuizWithStatistics(ctx, quizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		dropped := e.staging.DrainResults(quizID)
		e.log.Info("dropped results of deleted quiz", zap.Int64("quizId", quizID), zap.Int("count", len(dropped)))
		return
	}
	if err != nil {
		e.log.Error("load quiz for statistics", zap.Int64("quizId", quizID), zap.Error(err))
		return
	}
	results := e.staging.DrainResults(quizID)
	if len(results) == 0 {
		return
	}
	stats.StatisticsBatches++

	defer func() {
		if r := recover(); r != nil {
			e.metrics.StatisticsBatch.WithLabelValues("failed").Inc()
			e.log.Error("statistics update panicked", zap.Int64("quizId", quizID), zap.Any("panic", r))
		}
	}()
	if err := e.stats.UpdateStatistics(ctx, quiz, results); err != nil {
		e.metrics.StatisticsBatch.WithLabelValues("failed").Inc()
		e.log.Error("update statistics, discarding batch",
			zap.Int64("quizId", quizID), zap.Int("results", len(results)), zap.Error(err))
		return
	}
	e.metrics.StatisticsBatch.WithLabelValues("ok").Inc()
}
