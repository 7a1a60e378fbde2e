package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-schedule-service/internal/domain"
)

const (
	uniqueViolation         = "23505"
	participationUniqueName = "participations_quiz_user_key"
)

// Gateway persists quizzes, submissions, participations, results and statistics in Postgres.
// Quiz definitions are stored as JSONB next to the columns the scheduler queries on.
type Gateway struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewGateway(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool, now: time.Now}
}

// SaveQuiz inserts or replaces a quiz definition.
func (g *Gateway) SaveQuiz(ctx context.Context, quiz *domain.QuizDefinition) error {
	stored := *quiz
	stored.Statistics = nil
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO quizzes (id, course_id, release_date, planned_to_start, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			course_id = EXCLUDED.course_id,
			release_date = EXCLUDED.release_date,
			planned_to_start = EXCLUDED.planned_to_start,
			data = EXCLUDED.data`,
		quiz.ID, quiz.CourseID, quiz.ReleaseDate, quiz.PlannedToStart, raw)
	if err != nil {
		return fmt.Errorf("save quiz %d: %w", quiz.ID, err)
	}
	return nil
}

func (g *Gateway) LoadQuiz(ctx context.Context, quizID int64) (*domain.QuizDefinition, error) {
	var raw []byte
	err := g.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("quiz %d: %w", quizID, domain.ErrQuizNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	return decodeQuiz(raw)
}

func (g *Gateway) LoadQuizWithStatistics(ctx context.Context, quizID int64) (*domain.QuizDefinition, error) {
	quiz, err := g.LoadQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	stats, err := loadStatistics(ctx, g.pool, quizID, false)
	if err != nil {
		return nil, err
	}
	quiz.Statistics = stats
	return quiz, nil
}

func (g *Gateway) ListPlannedQuizzes(ctx context.Context, releasedAfter time.Time) ([]*domain.QuizDefinition, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT data FROM quizzes
		WHERE planned_to_start AND release_date > $1
		ORDER BY release_date`, releasedAfter)
	if err != nil {
		return nil, fmt.Errorf("list planned quizzes: %w", err)
	}
	defer rows.Close()

	var quizzes []*domain.QuizDefinition
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan planned quiz: %w", err)
		}
		quiz, err := decodeQuiz(raw)
		if err != nil {
			return nil, err
		}
		quizzes = append(quizzes, quiz)
	}
	return quizzes, rows.Err()
}

func (g *Gateway) SaveSubmission(ctx context.Context, submission *domain.Submission) (*domain.Submission, error) {
	answers, err := json.Marshal(submission.Answers)
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO submissions (id, quiz_id, username, submitted, submission_type, submission_date, score_in_points, answers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			submitted = EXCLUDED.submitted,
			submission_type = EXCLUDED.submission_type,
			submission_date = EXCLUDED.submission_date,
			score_in_points = EXCLUDED.score_in_points,
			answers = EXCLUDED.answers`,
		submission.ID, submission.QuizID, submission.Username, submission.Submitted,
		string(submission.Type), submission.SubmissionDate, submission.ScoreInPoints, answers)
	if err != nil {
		return nil, fmt.Errorf("save submission: %w", err)
	}
	return submission, nil
}

func (g *Gateway) SaveParticipation(ctx context.Context, participation *domain.Participation) (*domain.Participation, error) {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO participations (id, quiz_id, username, initialization_date, state)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		participation.ID, participation.QuizID, participation.Username,
		participation.InitializationDate, participation.State)
	if isDuplicateParticipation(err) {
		return nil, fmt.Errorf("quiz %d user %s: %w", participation.QuizID, participation.Username, domain.ErrDuplicateParticipation)
	}
	if err != nil {
		return nil, fmt.Errorf("save participation: %w", err)
	}
	return participation, nil
}

func (g *Gateway) SaveResult(ctx context.Context, result *domain.Result) (*domain.Result, error) {
	var submissionID *string
	if result.Submission != nil && result.Submission.ID != "" {
		submissionID = &result.Submission.ID
	}
	_, err := g.pool.Exec(ctx, `
		INSERT INTO results (id, participation_id, submission_id, quiz_id, username, score, score_in_points,
			completion_date, rated, successful, assessment_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		result.ID, result.ParticipationID, submissionID, result.QuizID, result.Username, result.Score,
		result.ScoreInPoints, result.CompletionDate, result.Rated, result.Successful, string(result.AssessmentType))
	if err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}
	return result, nil
}

// UpdateStatistics merges the batch into the stored aggregate inside one transaction.
// An empty row is inserted first so the FOR UPDATE lock also covers a quiz's first batch.
func (g *Gateway) UpdateStatistics(ctx context.Context, quiz *domain.QuizDefinition, results []*domain.Result) error {
	empty, err := json.Marshal(domain.NewQuizStatistics(quiz.ID))
	if err != nil {
		return fmt.Errorf("marshal statistics: %w", err)
	}
	return g.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO quiz_statistics (quiz_id, data, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (quiz_id) DO NOTHING`,
			quiz.ID, empty, g.now())
		if err != nil {
			return fmt.Errorf("init statistics for quiz %d: %w", quiz.ID, err)
		}
		stats, err := loadStatistics(ctx, tx, quiz.ID, true)
		if err != nil {
			return err
		}
		stats.Add(quiz, results, g.now())
		raw, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("marshal statistics: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE quiz_statistics SET data = $2, updated_at = $3 WHERE quiz_id = $1`,
			quiz.ID, raw, stats.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save statistics for quiz %d: %w", quiz.ID, err)
		}
		return nil
	})
}

// ParticipationCount counts persisted participations of a (quiz, user) pair.
func (g *Gateway) ParticipationCount(ctx context.Context, quizID int64, username string) (int, error) {
	var n int
	err := g.pool.QueryRow(ctx,
		`SELECT count(*) FROM participations WHERE quiz_id=$1 AND username=$2`, quizID, username).Scan(&n)
	return n, err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func loadStatistics(ctx context.Context, q querier, quizID int64, forUpdate bool) (*domain.QuizStatistics, error) {
	query := `SELECT data FROM quiz_statistics WHERE quiz_id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var raw []byte
	err := q.QueryRow(ctx, query, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewQuizStatistics(quizID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load statistics for quiz %d: %w", quizID, err)
	}
	var stats domain.QuizStatistics
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("unmarshal statistics: %w", err)
	}
	return &stats, nil
}

func decodeQuiz(raw []byte) (*domain.QuizDefinition, error) {
	var quiz domain.QuizDefinition
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return nil, fmt.Errorf("unmarshal quiz: %w", err)
	}
	return &quiz, nil
}

func isDuplicateParticipation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && pgErr.ConstraintName == participationUniqueName
}
