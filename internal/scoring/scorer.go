package scoring

import (
	"fmt"
	"math"
	"strings"

	"quiz-schedule-service/internal/domain"
)

// Strategy grades a single answer for one kind of question and returns the awarded points.
type Strategy interface {
	Score(q domain.Question, answer domain.SubmittedAnswer) float64
}

// Scorer routes each submitted answer to the strategy registered for its question kind.
type Scorer struct {
	strategies map[domain.QuestionKind]Strategy
}

type Option func(*Scorer)

// WithStrategy installs or replaces the strategy for a question kind.
func WithStrategy(kind domain.QuestionKind, s Strategy) Option {
	return func(sc *Scorer) { sc.strategies[kind] = s }
}

// New returns a Scorer with the built-in strategies installed.
func New(opts ...Option) *Scorer {
	sc := &Scorer{
		strategies: map[domain.QuestionKind]Strategy{
			domain.KindMultipleChoice: multipleChoice{},
			domain.KindShortAnswer:    shortAnswer{},
			domain.KindDragAndDrop:    dragAndDrop{},
		},
	}
	for _, o := range opts {
		o(sc)
	}
	return sc
}

// Score computes per-answer and total points on the submission in place and returns it.
// Each question is answered at most once: repeated answers collapse to the last one.
// Answers referencing questions the quiz no longer has score zero.
func (s *Scorer) Score(quiz *domain.QuizDefinition, submission *domain.Submission) (*domain.Submission, error) {
	if quiz == nil || submission == nil {
		return submission, fmt.Errorf("score: %w", domain.ErrQuizNotFound)
	}
	submission.Answers = lastAnswerPerQuestion(submission.Answers)
	total := 0.0
	for i := range submission.Answers {
		answer := &submission.Answers[i]
		question, ok := quiz.Question(answer.QuestionID)
		if !ok {
			answer.ScoreInPoints = 0
			continue
		}
		strategy, ok := s.strategies[question.Kind]
		if !ok {
			return submission, fmt.Errorf("score question %s (%s): %w", question.ID, question.Kind, domain.ErrUnknownQuestionKind)
		}
		answer.ScoreInPoints = clamp(strategy.Score(question, *answer), 0, question.Points)
		total += answer.ScoreInPoints
	}
	submission.ScoreInPoints = roundPoints(clamp(total, 0, quiz.MaxPoints()))
	return submission, nil
}

func lastAnswerPerQuestion(answers []domain.SubmittedAnswer) []domain.SubmittedAnswer {
	last := make(map[string]int, len(answers))
	for i, answer := range answers {
		last[answer.QuestionID] = i
	}
	if len(last) == len(answers) {
		return answers
	}
	out := make([]domain.SubmittedAnswer, 0, len(last))
	for i, answer := range answers {
		if last[answer.QuestionID] == i {
			out = append(out, answer)
		}
	}
	return out
}

type multipleChoice struct{}

func (multipleChoice) Score(q domain.Question, answer domain.SubmittedAnswer) float64 {
	if len(q.Options) == 0 {
		return 0
	}
	selected := toSet(answer.SelectedOptions)
	right, wrong := 0, 0
	for _, opt := range q.Options {
		_, picked := selected[opt.ID]
		if picked == opt.Correct {
			right++
		} else {
			wrong++
		}
	}
	return award(q, right, wrong, len(q.Options))
}

type shortAnswer struct{}

func (shortAnswer) Score(q domain.Question, answer domain.SubmittedAnswer) float64 {
	if len(q.Spots) == 0 {
		return 0
	}
	right, wrong := 0, 0
	for _, spot := range q.Spots {
		text, ok := answer.Texts[spot.ID]
		if !ok || strings.TrimSpace(text) == "" {
			wrong++
			continue
		}
		if matchesSolution(spot, text) {
			right++
		} else {
			wrong++
		}
	}
	return award(q, right, wrong, len(q.Spots))
}

func matchesSolution(spot domain.ShortAnswerSpot, text string) bool {
	given := strings.TrimSpace(text)
	for _, solution := range spot.Solutions {
		want := strings.TrimSpace(solution)
		if spot.CaseSensitive {
			if given == want {
				return true
			}
			continue
		}
		if strings.EqualFold(given, want) {
			return true
		}
	}
	return false
}

type dragAndDrop struct{}

func (dragAndDrop) Score(q domain.Question, answer domain.SubmittedAnswer) float64 {
	if len(q.Mappings) == 0 {
		return 0
	}
	placed := make(map[string]string, len(answer.Mappings))
	for _, m := range answer.Mappings {
		placed[m.DragItemID] = m.DropLocationID
	}
	right, wrong := 0, 0
	for _, m := range q.Mappings {
		if placed[m.DragItemID] == m.DropLocationID {
			right++
		} else {
			wrong++
		}
	}
	return award(q, right, wrong, len(q.Mappings))
}

// award applies the question's scoring type to the count of right and wrong decisions.
func award(q domain.Question, right, wrong, total int) float64 {
	if total == 0 {
		return 0
	}
	switch q.ScoringType {
	case domain.ScoringProportionalWithPenalty:
		return q.Points * float64(right-wrong) / float64(total)
	default:
		if right == total {
			return q.Points
		}
		return 0
	}
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if hi >= lo && v > hi {
		return hi
	}
	return v
}

func roundPoints(v float64) float64 {
	return math.Round(v*100) / 100
}
