package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"quiz-schedule-service/internal/domain"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestStatisticsSinkPublishesBatch(t *testing.T) {
	writer := &fakeWriter{}
	sink := NewStatisticsSink(writer, "quiz-statistics")
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return now }

	quiz := &domain.QuizDefinition{ID: 5, CourseID: 2, Questions: []domain.Question{{ID: "q1", Points: 2}}}
	results := []*domain.Result{
		{ID: "r1", Username: "alice", Rated: true, ScoreInPoints: 2, Score: 100,
			Submission: &domain.Submission{Answers: []domain.SubmittedAnswer{{QuestionID: "q1", ScoreInPoints: 2}}}},
		{ID: "r2", Username: "bob", Rated: true, ScoreInPoints: 0},
	}
	if err := sink.UpdateStatistics(context.Background(), quiz, results); err != nil {
		t.Fatalf("update statistics: %v", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("expected one message per batch, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "5" {
		t.Fatalf("expected quiz id key, got %q", msg.Key)
	}
	var event StatisticsEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.QuizID != 5 || event.CourseID != 2 || len(event.Results) != 2 {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Delta.ParticipantsRated != 2 || event.Delta.QuestionCorrect["q1"] != 1 {
		t.Fatalf("unexpected delta %+v", event.Delta)
	}

	if err := sink.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer closed")
	}
}

func TestStatisticsSinkReturnsWriteError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	sink := NewStatisticsSink(writer, "quiz-statistics")
	err := sink.UpdateStatistics(context.Background(), &domain.QuizDefinition{ID: 1}, []*domain.Result{{ID: "r"}})
	if err == nil {
		t.Fatalf("expected error from writer")
	}
}
