package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"quiz-schedule-service/internal/domain"
	"quiz-schedule-service/internal/metrics"
)

// ReleaseFunc runs when a scheduled quiz reaches its release date.
type ReleaseFunc func(ctx context.Context, quizID int64)

// StartScheduler keeps one pending timer per quiz with a future release date.
// A task fires at most once; Schedule replaces and Cancel removes it.
type StartScheduler struct {
	release ReleaseFunc
	sem     *semaphore.Weighted
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Engine

	mu       sync.Mutex
	tasks    map[int64]*startTask
	inflight sync.WaitGroup
}

type startTask struct {
	quizID    int64
	releaseAt time.Time
	timer     *time.Timer
}

// NewStartScheduler returns a scheduler running at most workers release callbacks at once.
func NewStartScheduler(release ReleaseFunc, workers int64, now func() time.Time, log *zap.Logger, m *metrics.Engine) *StartScheduler {
	if workers <= 0 {
		workers = 1
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &StartScheduler{
		release: release,
		sem:     semaphore.NewWeighted(workers),
		now:     now,
		log:     log,
		metrics: m,
		tasks:   make(map[int64]*startTask),
	}
}

// Schedule cancels any pending task for the quiz and registers a new one when the quiz is
// planned to start in the future. It reports whether a task is now pending.
func (s *StartScheduler) Schedule(quiz *domain.QuizDefinition) bool {
	if quiz == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(quiz.ID)
	defer s.metrics.ScheduledStarts.Set(float64(len(s.tasks)))

	if !quiz.PlannedToStart {
		return false
	}
	delay := quiz.ReleaseDate.Sub(s.now())
	if delay <= 0 {
		return false
	}
	task := &startTask{quizID: quiz.ID, releaseAt: quiz.ReleaseDate}
	task.timer = time.AfterFunc(delay, func() { s.fire(task) })
	s.tasks[quiz.ID] = task
	s.log.Debug("scheduled quiz start", zap.Int64("quizId", quiz.ID), zap.Time("releaseAt", quiz.ReleaseDate))
	return true
}

// Cancel removes the pending task for the quiz, if any.
func (s *StartScheduler) Cancel(quizID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelLocked(quizID) {
		s.log.Debug("cancelled quiz start", zap.Int64("quizId", quizID))
	}
	s.metrics.ScheduledStarts.Set(float64(len(s.tasks)))
}

func (s *StartScheduler) cancelLocked(quizID int64) bool {
	task, ok := s.tasks[quizID]
	if !ok {
		return false
	}
	task.timer.Stop()
	delete(s.tasks, quizID)
	return true
}

// CancelAll drops every pending task.
func (s *StartScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for quizID := range s.tasks {
		s.cancelLocked(quizID)
	}
	s.metrics.ScheduledStarts.Set(0)
}

// Stop cancels pending tasks and waits for callbacks already running.
func (s *StartScheduler) Stop() {
	s.CancelAll()
	s.inflight.Wait()
}

// Pending reports whether a start task is registered for the quiz.
func (s *StartScheduler) Pending(quizID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[quizID]
	return ok
}

func (s *StartScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *StartScheduler) fire(task *startTask) {
	s.mu.Lock()
	// a timer whose Stop lost the race still lands here; only the registered task may run
	if current, ok := s.tasks[task.quizID]; !ok || current != task {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, task.quizID)
	s.metrics.ScheduledStarts.Set(float64(len(s.tasks)))
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	ctx := context.Background()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.log.Error("acquire start worker", zap.Int64("quizId", task.quizID), zap.Error(err))
		return
	}
	defer s.sem.Release(1)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("quiz start callback panicked", zap.Int64("quizId", task.quizID), zap.Any("panic", r))
		}
	}()

	s.metrics.QuizStarts.Inc()
	s.log.Info("quiz start fired",
		zap.Int64("quizId", task.quizID),
		zap.Duration("lateBy", s.now().Sub(task.releaseAt)),
	)
	s.release(ctx, task.quizID)
}
