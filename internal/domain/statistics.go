package domain

import (
	"strconv"
	"time"
)

// QuizStatistics aggregates finalized results of a quiz.
type QuizStatistics struct {
	QuizID              int64          `json:"quizId"`
	ParticipantsRated   int            `json:"participantsRated"`
	ParticipantsUnrated int            `json:"participantsUnrated"`
	PointCounts         map[string]int `json:"pointCounts"`     // points (formatted) -> rated count
	QuestionCorrect     map[string]int `json:"questionCorrect"` // question id -> rated full-score count
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// NewQuizStatistics returns an empty aggregate for a quiz.
func NewQuizStatistics(quizID int64) *QuizStatistics {
	return &QuizStatistics{
		QuizID:          quizID,
		PointCounts:     make(map[string]int),
		QuestionCorrect: make(map[string]int),
	}
}

// Add folds a batch of results into the aggregate. Results without a graded submission
// only count towards participants.
func (s *QuizStatistics) Add(quiz *QuizDefinition, results []*Result, now time.Time) {
	if s.PointCounts == nil {
		s.PointCounts = make(map[string]int)
	}
	if s.QuestionCorrect == nil {
		s.QuestionCorrect = make(map[string]int)
	}
	for _, result := range results {
		if result == nil {
			continue
		}
		if !result.Rated {
			s.ParticipantsUnrated++
			continue
		}
		s.ParticipantsRated++
		s.PointCounts[FormatPoints(result.ScoreInPoints)]++
		if result.Submission == nil || quiz == nil {
			continue
		}
		for _, answer := range result.Submission.Answers {
			question, ok := quiz.Question(answer.QuestionID)
			if !ok || question.Points <= 0 {
				continue
			}
			if answer.ScoreInPoints >= question.Points {
				s.QuestionCorrect[question.ID]++
			}
		}
	}
	s.UpdatedAt = now
}

// FormatPoints renders points as a stable map key (at most two decimals, trailing zeros cut).
func FormatPoints(points float64) string {
	return strconv.FormatFloat(roundTo(points, 2), 'f', -1, 64)
}

func roundTo(v float64, decimals int) float64 {
	pow := 1.0
	for i := 0; i < decimals; i++ {
		pow *= 10
	}
	if v < 0 {
		return float64(int64(v*pow-0.5)) / pow
	}
	return float64(int64(v*pow+0.5)) / pow
}
