package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"quiz-schedule-service/internal/domain"
)

// messageWriter is the subset of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StatisticsEvent is published once per result batch. Consumers fold Delta into their
// own aggregate; Results carries the per-participant outcome without answers.
type StatisticsEvent struct {
	EventType string                 `json:"eventType"`
	QuizID    int64                  `json:"quizId"`
	CourseID  int64                  `json:"courseId"`
	Delta     *domain.QuizStatistics `json:"delta"`
	Results   []ResultSummary        `json:"results"`
	EmittedAt time.Time              `json:"emittedAt"`
}

type ResultSummary struct {
	ResultID       string    `json:"resultId"`
	Username       string    `json:"username"`
	Score          float64   `json:"score"`
	ScoreInPoints  float64   `json:"scoreInPoints"`
	Rated          bool      `json:"rated"`
	CompletionDate time.Time `json:"completionDate"`
}

// StatisticsSink publishes result batches to a Kafka topic instead of aggregating in-process.
type StatisticsSink struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

// NewWriter builds the producer the same way for every deployment.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  10,
	}
}

func NewStatisticsSink(writer messageWriter, topic string) *StatisticsSink {
	return &StatisticsSink{writer: writer, topic: topic, now: time.Now}
}

func (s *StatisticsSink) UpdateStatistics(ctx context.Context, quiz *domain.QuizDefinition, results []*domain.Result) error {
	now := s.now()
	delta := domain.NewQuizStatistics(quiz.ID)
	delta.Add(quiz, results, now)

	event := StatisticsEvent{
		EventType: "results_finalized",
		QuizID:    quiz.ID,
		CourseID:  quiz.CourseID,
		Delta:     delta,
		Results:   make([]ResultSummary, 0, len(results)),
		EmittedAt: now,
	}
	for _, result := range results {
		if result == nil {
			continue
		}
		event.Results = append(event.Results, ResultSummary{
			ResultID:       result.ID,
			Username:       result.Username,
			Score:          result.Score,
			ScoreInPoints:  result.ScoreInPoints,
			Rated:          result.Rated,
			CompletionDate: result.CompletionDate,
		})
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal statistics event: %w", err)
	}
	// keyed by quiz so one quiz's batches stay ordered on a partition
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(quiz.ID, 10)),
		Value: value,
		Time:  now,
	})
	if err != nil {
		return fmt.Errorf("produce statistics event for quiz %d: %w", quiz.ID, err)
	}
	return nil
}

func (s *StatisticsSink) Close() error {
	return s.writer.Close()
}
