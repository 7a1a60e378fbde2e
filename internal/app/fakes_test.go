package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quiz-schedule-service/internal/domain"
)

/* ---------------- fakes for the engine's collaborators ---------------- */

type fakeGateway struct {
	mu             sync.Mutex
	quizzes        map[int64]*domain.QuizDefinition
	submissions    []*domain.Submission
	participations map[string]*domain.Participation // key: quiz|user
	results        []*domain.Result

	loads               int
	saveCalls           int
	failSubmission      error
	failParticipation   error
	failResult          error
	participationFails  int // remaining forced participation failures
	beforeParticipation func()
}

func newFakeGateway(quizzes ...*domain.QuizDefinition) *fakeGateway {
	g := &fakeGateway{
		quizzes:        map[int64]*domain.QuizDefinition{},
		participations: map[string]*domain.Participation{},
	}
	for _, q := range quizzes {
		g.quizzes[q.ID] = q
	}
	return g
}

func participationKey(quizID int64, username string) string {
	return fmt.Sprintf("%d|%s", quizID, username)
}

func (g *fakeGateway) LoadQuiz(_ context.Context, quizID int64) (*domain.QuizDefinition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loads++
	quiz, ok := g.quizzes[quizID]
	if !ok {
		return nil, domain.ErrQuizNotFound
	}
	out := *quiz
	return &out, nil
}

func (g *fakeGateway) LoadQuizWithStatistics(ctx context.Context, quizID int64) (*domain.QuizDefinition, error) {
	return g.LoadQuiz(ctx, quizID)
}

func (g *fakeGateway) ListPlannedQuizzes(_ context.Context, after time.Time) ([]*domain.QuizDefinition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*domain.QuizDefinition
	for _, q := range g.quizzes {
		if q.PlannedToStart && q.ReleaseDate.After(after) {
			out = append(out, q)
		}
	}
	return out, nil
}

func (g *fakeGateway) SaveSubmission(_ context.Context, s *domain.Submission) (*domain.Submission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saveCalls++
	if g.failSubmission != nil {
		return nil, g.failSubmission
	}
	g.submissions = append(g.submissions, s.Clone())
	return s, nil
}

func (g *fakeGateway) SaveParticipation(ctx context.Context, p *domain.Participation) (*domain.Participation, error) {
	if g.beforeParticipation != nil {
		g.beforeParticipation()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saveCalls++
	if g.participationFails > 0 {
		g.participationFails--
		return nil, g.failParticipation
	}
	k := participationKey(p.QuizID, p.Username)
	if _, ok := g.participations[k]; ok {
		return nil, domain.ErrDuplicateParticipation
	}
	g.participations[k] = p
	return p, nil
}

func (g *fakeGateway) SaveResult(ctx context.Context, r *domain.Result) (*domain.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saveCalls++
	if g.failResult != nil {
		return nil, g.failResult
	}
	g.results = append(g.results, r)
	return r, nil
}

func (g *fakeGateway) deleteQuiz(quizID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.quizzes, quizID)
}

func (g *fakeGateway) participationCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.participations)
}

func (g *fakeGateway) resultsFor(username string) []*domain.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*domain.Result
	for _, r := range g.results {
		if r.Username == username {
			out = append(out, r)
		}
	}
	return out
}

func (g *fakeGateway) persistenceCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saveCalls
}

type fakeScorer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeScorer) Score(_ *domain.QuizDefinition, sub *domain.Submission) (*domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	sub.ScoreInPoints = float64(len(sub.Answers))
	return sub, nil
}

type sentMessage struct {
	username string
	topic    string
	payload  any
}

type fakeDelivery struct {
	mu        sync.Mutex
	sent      []sentMessage
	broadcast []sentMessage
	fired     chan int64
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{fired: make(chan int64, 16)}
}

func (d *fakeDelivery) SendToUser(_ context.Context, username, topic string, payload any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{username: username, topic: topic, payload: payload})
	return nil
}

func (d *fakeDelivery) Broadcast(_ context.Context, topic string, payload any) error {
	d.mu.Lock()
	d.broadcast = append(d.broadcast, sentMessage{topic: topic, payload: payload})
	d.mu.Unlock()
	if quiz, ok := payload.(domain.QuizDefinition); ok {
		d.fired <- quiz.ID
	}
	return nil
}

func (d *fakeDelivery) sentMessages() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentMessage(nil), d.sent...)
}

type fakeStatistics struct {
	mu      sync.Mutex
	batches map[int64][]*domain.Result
	err     error
	panics  bool
}

func newFakeStatistics() *fakeStatistics {
	return &fakeStatistics{batches: map[int64][]*domain.Result{}}
}

func (s *fakeStatistics) UpdateStatistics(_ context.Context, quiz *domain.QuizDefinition, results []*domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics {
		panic("statistics exploded")
	}
	if s.err != nil {
		return s.err
	}
	s.batches[quiz.ID] = append(s.batches[quiz.ID], results...)
	return nil
}

var errBoom = errors.New("boom")

// clock is a settable time source shared by the engine and the test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
