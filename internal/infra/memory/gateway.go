package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quiz-schedule-service/internal/domain"
)

// Gateway is an in-process persistence gateway used when no database is configured and in tests.
// It also aggregates statistics, so it can serve as the engine's statistics sink.
type Gateway struct {
	mu             sync.RWMutex
	quizzes        map[int64]*domain.QuizDefinition
	submissions    map[string]*domain.Submission
	participations map[participationKey]*domain.Participation
	results        map[string]*domain.Result
	statistics     map[int64]*domain.QuizStatistics
	now            func() time.Time
}

type participationKey struct {
	quizID   int64
	username string
}

func NewGateway(quizzes ...*domain.QuizDefinition) *Gateway {
	g := &Gateway{
		quizzes:        make(map[int64]*domain.QuizDefinition),
		submissions:    make(map[string]*domain.Submission),
		participations: make(map[participationKey]*domain.Participation),
		results:        make(map[string]*domain.Result),
		statistics:     make(map[int64]*domain.QuizStatistics),
		now:            time.Now,
	}
	for _, quiz := range quizzes {
		g.PutQuiz(quiz)
	}
	return g
}

// PutQuiz inserts or replaces a quiz definition.
func (g *Gateway) PutQuiz(quiz *domain.QuizDefinition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	copied := *quiz
	copied.Statistics = nil
	g.quizzes[quiz.ID] = &copied
}

func (g *Gateway) DeleteQuiz(quizID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.quizzes, quizID)
	delete(g.statistics, quizID)
}

func (g *Gateway) LoadQuiz(_ context.Context, quizID int64) (*domain.QuizDefinition, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	quiz, ok := g.quizzes[quizID]
	if !ok {
		return nil, fmt.Errorf("quiz %d: %w", quizID, domain.ErrQuizNotFound)
	}
	copied := *quiz
	return &copied, nil
}

func (g *Gateway) LoadQuizWithStatistics(ctx context.Context, quizID int64) (*domain.QuizDefinition, error) {
	quiz, err := g.LoadQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if stats, ok := g.statistics[quizID]; ok {
		quiz.Statistics = copyStatistics(stats)
	} else {
		quiz.Statistics = domain.NewQuizStatistics(quizID)
	}
	return quiz, nil
}

// ListPlannedQuizzes returns quizzes planned to start after releasedAfter, ordered by release date.
func (g *Gateway) ListPlannedQuizzes(_ context.Context, releasedAfter time.Time) ([]*domain.QuizDefinition, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*domain.QuizDefinition
	for _, quiz := range g.quizzes {
		if quiz.PlannedToStart && quiz.ReleaseDate.After(releasedAfter) {
			copied := *quiz
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReleaseDate.Before(out[j].ReleaseDate) })
	return out, nil
}

func (g *Gateway) SaveSubmission(_ context.Context, submission *domain.Submission) (*domain.Submission, error) {
	if submission.ID == "" {
		return nil, fmt.Errorf("save submission: missing id")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submissions[submission.ID] = submission.Clone()
	return submission, nil
}

func (g *Gateway) SaveParticipation(_ context.Context, participation *domain.Participation) (*domain.Participation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := participationKey{quizID: participation.QuizID, username: participation.Username}
	if existing, ok := g.participations[key]; ok && existing.ID != participation.ID {
		return nil, fmt.Errorf("quiz %d user %s: %w", participation.QuizID, participation.Username, domain.ErrDuplicateParticipation)
	}
	copied := *participation
	g.participations[key] = &copied
	return participation, nil
}

func (g *Gateway) SaveResult(_ context.Context, result *domain.Result) (*domain.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	copied := *result
	g.results[result.ID] = &copied
	return result, nil
}

// UpdateStatistics merges a result batch into the quiz's stored aggregate.
func (g *Gateway) UpdateStatistics(_ context.Context, quiz *domain.QuizDefinition, results []*domain.Result) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.quizzes[quiz.ID]; !ok {
		return fmt.Errorf("update statistics for quiz %d: %w", quiz.ID, domain.ErrQuizNotFound)
	}
	stats, ok := g.statistics[quiz.ID]
	if !ok {
		stats = domain.NewQuizStatistics(quiz.ID)
		g.statistics[quiz.ID] = stats
	}
	stats.Add(quiz, results, g.now())
	return nil
}

// Participations lists persisted participations of a quiz.
func (g *Gateway) Participations(quizID int64) []*domain.Participation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*domain.Participation
	for key, participation := range g.participations {
		if key.quizID == quizID {
			copied := *participation
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Results lists persisted results of a quiz.
func (g *Gateway) Results(quizID int64) []*domain.Result {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*domain.Result
	for _, result := range g.results {
		if result.QuizID == quizID {
			copied := *result
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func copyStatistics(s *domain.QuizStatistics) *domain.QuizStatistics {
	out := *s
	out.PointCounts = make(map[string]int, len(s.PointCounts))
	for k, v := range s.PointCounts {
		out.PointCounts[k] = v
	}
	out.QuestionCorrect = make(map[string]int, len(s.QuestionCorrect))
	for k, v := range s.QuestionCorrect {
		out.QuestionCorrect[k] = v
	}
	return &out
}
