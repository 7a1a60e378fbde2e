package domain

import "time"

// QuestionKind selects the scoring strategy for a question.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple-choice"
	KindShortAnswer    QuestionKind = "short-answer"
	KindDragAndDrop    QuestionKind = "drag-and-drop"
)

// ScoringType decides how partially correct answers are rewarded.
type ScoringType string

const (
	ScoringAllOrNothing            ScoringType = "ALL_OR_NOTHING"
	ScoringProportionalWithPenalty ScoringType = "PROPORTIONAL_WITH_PENALTY"
)

// SubmissionType tags how a submission became final.
type SubmissionType string

const (
	SubmissionManual  SubmissionType = "MANUAL"
	SubmissionTimeout SubmissionType = "TIMEOUT"
)

// AssessmentType tags who assessed a result. Quiz results are always automatic.
type AssessmentType string

const AssessmentAutomatic AssessmentType = "AUTOMATIC"

// InitializationState of a participation. The engine only ever creates finished ones.
const StateFinished = "FINISHED"

// AnswerOption is a multiple choice option.
type AnswerOption struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct,omitempty"`
}

// ShortAnswerSpot is a blank in a short answer question with its accepted solutions.
type ShortAnswerSpot struct {
	ID            string   `json:"id"`
	Solutions     []string `json:"solutions,omitempty"`
	CaseSensitive bool     `json:"caseSensitive,omitempty"`
}

// DropMapping pairs a drag item with a drop location.
type DropMapping struct {
	DragItemID     string `json:"dragItemId"`
	DropLocationID string `json:"dropLocationId"`
}

// Question is one quiz question. Which of Options, Spots and Mappings is used depends on Kind.
type Question struct {
	ID          string            `json:"id"`
	Kind        QuestionKind      `json:"kind"`
	Title       string            `json:"title"`
	Text        string            `json:"text,omitempty"`
	Points      float64           `json:"points"`
	ScoringType ScoringType       `json:"scoringType,omitempty"`
	Options     []AnswerOption    `json:"options,omitempty"`
	Spots       []ShortAnswerSpot `json:"spots,omitempty"`
	Mappings    []DropMapping     `json:"mappings,omitempty"`
}

// QuizDefinition is the quiz as stored by the persistence gateway.
type QuizDefinition struct {
	ID             int64           `json:"id"`
	CourseID       int64           `json:"courseId"`
	Title          string          `json:"title"`
	ReleaseDate    time.Time       `json:"releaseDate"`
	Duration       time.Duration   `json:"duration"`
	GracePeriod    time.Duration   `json:"gracePeriod,omitempty"`
	PlannedToStart bool            `json:"plannedToStart"`
	Questions      []Question      `json:"questions"`
	Statistics     *QuizStatistics `json:"statistics,omitempty"`
}

// DueDate is when the quiz stops for participants; zero if it is not planned to start.
func (q *QuizDefinition) DueDate() time.Time {
	if !q.PlannedToStart {
		return time.Time{}
	}
	return q.ReleaseDate.Add(q.Duration)
}

// EndDate is the due date plus the grace period granted for in-flight submissions.
func (q *QuizDefinition) EndDate() time.Time {
	due := q.DueDate()
	if due.IsZero() {
		return due
	}
	return due.Add(q.GracePeriod)
}

// IsStarted reports whether the quiz was released at or before now.
func (q *QuizDefinition) IsStarted(now time.Time) bool {
	return q.PlannedToStart && !now.Before(q.ReleaseDate)
}

// IsEnded reports whether now is at or past the end date.
func (q *QuizDefinition) IsEnded(now time.Time) bool {
	return q.IsStarted(now) && !now.Before(q.EndDate())
}

// IsSubmissionAllowed reports whether participants may still change their answers.
func (q *QuizDefinition) IsSubmissionAllowed(now time.Time) bool {
	return q.IsStarted(now) && !q.IsEnded(now)
}

// MaxPoints sums the points of all questions.
func (q *QuizDefinition) MaxPoints() float64 {
	total := 0.0
	for _, question := range q.Questions {
		total += question.Points
	}
	return total
}

// ScorePercent converts points into a 0..100 score relative to MaxPoints.
func (q *QuizDefinition) ScorePercent(points float64) float64 {
	max := q.MaxPoints()
	if max <= 0 {
		return 0
	}
	return roundTo(100*points/max, 2)
}

// Question looks up a question by id.
func (q *QuizDefinition) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// ForStudents returns a copy safe to send to participants while the quiz runs.
func (q *QuizDefinition) ForStudents() QuizDefinition {
	out := *q
	out.Statistics = nil
	out.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		filtered := question
		filtered.Mappings = nil
		if len(question.Options) > 0 {
			filtered.Options = make([]AnswerOption, len(question.Options))
			for j, opt := range question.Options {
				filtered.Options[j] = AnswerOption{ID: opt.ID, Text: opt.Text}
			}
		}
		if len(question.Spots) > 0 {
			filtered.Spots = make([]ShortAnswerSpot, len(question.Spots))
			for j, spot := range question.Spots {
				filtered.Spots[j] = ShortAnswerSpot{ID: spot.ID}
			}
		}
		out.Questions[i] = filtered
	}
	return out
}

// SubmittedAnswer is a participant's answer to a single question.
type SubmittedAnswer struct {
	QuestionID      string            `json:"questionId"`
	SelectedOptions []string          `json:"selectedOptions,omitempty"`
	Texts           map[string]string `json:"texts,omitempty"` // spot id -> text
	Mappings        []DropMapping     `json:"mappings,omitempty"`
	ScoreInPoints   float64           `json:"scoreInPoints"`
}

// Submission is a participant's set of answers for one quiz attempt.
type Submission struct {
	ID             string            `json:"id,omitempty"`
	QuizID         int64             `json:"quizId"`
	Username       string            `json:"username"`
	Answers        []SubmittedAnswer `json:"answers"`
	Submitted      bool              `json:"submitted"`
	SubmissionDate time.Time         `json:"submissionDate"`
	Type           SubmissionType    `json:"type,omitempty"`
	ScoreInPoints  float64           `json:"scoreInPoints"`

	// FinalizeAttempts counts failed finalize attempts while the submission is staged.
	FinalizeAttempts int `json:"-"`
}

// NewEmptySubmission returns a submission with no answers, used for reads of nothing staged.
func NewEmptySubmission(quizID int64, username string) *Submission {
	return &Submission{QuizID: quizID, Username: username, Answers: []SubmittedAnswer{}}
}

// Clone deep-copies the submission so staged state is never shared with callers.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	out := *s
	out.Answers = make([]SubmittedAnswer, len(s.Answers))
	for i, a := range s.Answers {
		c := a
		if a.SelectedOptions != nil {
			c.SelectedOptions = append([]string(nil), a.SelectedOptions...)
		}
		if a.Mappings != nil {
			c.Mappings = append([]DropMapping(nil), a.Mappings...)
		}
		if a.Texts != nil {
			c.Texts = make(map[string]string, len(a.Texts))
			for k, v := range a.Texts {
				c.Texts[k] = v
			}
		}
		out.Answers[i] = c
	}
	return &out
}

// Result is the graded outcome of a finalized submission.
type Result struct {
	ID              string         `json:"id"`
	QuizID          int64          `json:"quizId"`
	Username        string         `json:"username"`
	ParticipationID string         `json:"participationId"`
	Score           float64        `json:"score"` // percent of max points
	ScoreInPoints   float64        `json:"scoreInPoints"`
	CompletionDate  time.Time      `json:"completionDate"`
	Rated           bool           `json:"rated"`
	Successful      bool           `json:"successful"`
	AssessmentType  AssessmentType `json:"assessmentType"`
	Submission      *Submission    `json:"submission,omitempty"`
}

// Participation links a participant to a quiz attempt and its single result.
type Participation struct {
	ID                 string    `json:"id"`
	QuizID             int64     `json:"quizId"`
	Username           string    `json:"username"`
	InitializationDate time.Time `json:"initializationDate"`
	State              string    `json:"initializationState"`
	Result             *Result   `json:"result,omitempty"`
}

// ForDelivery copies the participation for pushing back to its owner. The owner
// identity is dropped since the channel is already addressed to them.
func (p *Participation) ForDelivery() *Participation {
	out := *p
	out.Username = ""
	if p.Result != nil {
		result := *p.Result
		result.Username = ""
		result.Submission = p.Result.Submission.Clone()
		out.Result = &result
	}
	return &out
}
