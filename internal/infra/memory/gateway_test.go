package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-schedule-service/internal/domain"
)

func TestGatewayRejectsSecondParticipation(t *testing.T) {
	g := NewGateway(sampleQuiz(1))
	ctx := context.Background()

	first := &domain.Participation{ID: "p1", QuizID: 1, Username: "u1"}
	if _, err := g.SaveParticipation(ctx, first); err != nil {
		t.Fatalf("save participation: %v", err)
	}
	if _, err := g.SaveParticipation(ctx, first); err != nil {
		t.Fatalf("expected re-save of same participation to succeed, got %v", err)
	}
	_, err := g.SaveParticipation(ctx, &domain.Participation{ID: "p2", QuizID: 1, Username: "u1"})
	if !errors.Is(err, domain.ErrDuplicateParticipation) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if len(g.Participations(1)) != 1 {
		t.Fatalf("expected one participation stored")
	}
}

func TestGatewayLoadAndDelete(t *testing.T) {
	g := NewGateway(sampleQuiz(1))
	ctx := context.Background()

	quiz, err := g.LoadQuiz(ctx, 1)
	if err != nil {
		t.Fatalf("load quiz: %v", err)
	}
	quiz.Title = "changed"
	again, _ := g.LoadQuiz(ctx, 1)
	if again.Title == "changed" {
		t.Fatalf("expected loads to return copies")
	}

	g.DeleteQuiz(1)
	if _, err := g.LoadQuiz(ctx, 1); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestGatewayListPlannedQuizzes(t *testing.T) {
	now := time.Now()
	soon := sampleQuiz(1)
	soon.ReleaseDate = now.Add(time.Minute)
	later := sampleQuiz(2)
	later.ReleaseDate = now.Add(time.Hour)
	past := sampleQuiz(3)
	unplanned := sampleQuiz(4)
	unplanned.ReleaseDate = now.Add(time.Hour)
	unplanned.PlannedToStart = false

	g := NewGateway(later, past, soon, unplanned)
	quizzes, err := g.ListPlannedQuizzes(context.Background(), now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(quizzes) != 2 || quizzes[0].ID != 1 || quizzes[1].ID != 2 {
		t.Fatalf("expected quizzes 1 and 2 in release order, got %+v", quizzes)
	}
}

func TestGatewayStatistics(t *testing.T) {
	quiz := sampleQuiz(1)
	g := NewGateway(quiz)
	ctx := context.Background()

	results := []*domain.Result{
		{ID: "r1", Rated: true, ScoreInPoints: 1, Submission: &domain.Submission{Answers: []domain.SubmittedAnswer{{QuestionID: "q1", ScoreInPoints: 1}}}},
		{ID: "r2", Rated: true, ScoreInPoints: 0},
	}
	if err := g.UpdateStatistics(ctx, quiz, results); err != nil {
		t.Fatalf("update statistics: %v", err)
	}
	if err := g.UpdateStatistics(ctx, quiz, results[:1]); err != nil {
		t.Fatalf("update statistics 2: %v", err)
	}

	loaded, err := g.LoadQuizWithStatistics(ctx, 1)
	if err != nil {
		t.Fatalf("load with statistics: %v", err)
	}
	if loaded.Statistics.ParticipantsRated != 3 || loaded.Statistics.QuestionCorrect["q1"] != 2 {
		t.Fatalf("unexpected statistics %+v", loaded.Statistics)
	}

	if err := g.UpdateStatistics(ctx, &domain.QuizDefinition{ID: 9}, results); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found for unknown quiz, got %v", err)
	}
}
