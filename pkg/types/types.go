package types

import (
	"time"
)

// Session lifecycle states. A session only ever moves active -> closed.
const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

// Session question lifecycle states. A question only ever moves open -> closed.
const (
	QuestionStatusOpen   = "open"
	QuestionStatusClosed = "closed"
)

// Connection roles accepted on the websocket endpoints.
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
)

// DefaultAIModel is used when a session is created without choosing a model.
const DefaultAIModel = "openai/gpt-3.5-turbo"

// Session is one live classroom run.
// Only Status and ClosedAt change after creation.
type Session struct {
	ID        int64      `json:"id" db:"id"`
	Code      string     `json:"code" db:"code"`
	AIModel   string     `json:"ai_model" db:"ai_model"`
	Status    string     `json:"status" db:"status"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// IsActive reports whether the session still accepts transitions.
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// Collection groups question templates for one-shot launches.
type Collection struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	QuestionCount int       `json:"question_count" db:"question_count"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// QuestionTemplate is a reusable question in the question bank.
type QuestionTemplate struct {
	ID              int64     `json:"id" db:"id"`
	CollectionID    *int64    `json:"collection_id,omitempty" db:"collection_id"`
	Text            string    `json:"question_text" db:"text"`
	GradingCriteria string    `json:"grading_criteria" db:"grading_criteria"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// SessionQuestion is one launch of a template inside a session.
// Text and GradingCriteria are copied from the template at launch.
type SessionQuestion struct {
	ID              int64      `json:"id" db:"id"`
	SessionID       int64      `json:"session_id" db:"session_id"`
	TemplateID      int64      `json:"question_id" db:"template_id"`
	Text            string     `json:"question_text" db:"text"`
	GradingCriteria string     `json:"grading_criteria" db:"grading_criteria"`
	Status          string     `json:"status" db:"status"`
	LaunchedAt      time.Time  `json:"launched_at" db:"launched_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// IsOpen reports whether responses may still be recorded.
func (q *SessionQuestion) IsOpen() bool {
	return q.Status == QuestionStatusOpen
}

// Response is a graded student answer. It is immutable once stored.
type Response struct {
	ID                string    `json:"id" db:"id"`
	SessionID         int64     `json:"session_id" db:"session_id"`
	SessionQuestionID int64     `json:"session_question_id" db:"session_question_id"`
	StudentName       string    `json:"student_name" db:"student_name"`
	AnswerText        string    `json:"response_text" db:"answer_text"`
	Score             int       `json:"score" db:"score"`
	Feedback          string    `json:"feedback" db:"feedback"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Grade is what the grading collaborator returns for one answer.
type Grade struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// GradeRequest carries everything the grader needs for one answer.
type GradeRequest struct {
	Model           string
	QuestionText    string
	GradingCriteria string
	AnswerText      string
}

// Model describes a grading model offered by the provider.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
