package interfaces

import (
	"context"
	"time"

	"classpulse/pkg/types"
)

// SessionStore persists sessions and their launched questions.
// Multi-row mutations are applied in a single transaction.
type SessionStore interface {
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, sessionID int64) (*types.Session, error)
	GetSessionByCode(ctx context.Context, code string) (*types.Session, error)
	ListSessions(ctx context.Context) ([]*types.Session, error)
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// CloseSession marks the session closed and closes every open question
	// with it. It returns the ids of the questions it closed.
	CloseSession(ctx context.Context, sessionID int64, at time.Time) ([]int64, error)

	InsertSessionQuestions(ctx context.Context, questions []*types.SessionQuestion) error
	GetSessionQuestion(ctx context.Context, sessionQuestionID int64) (*types.SessionQuestion, error)
	ListSessionQuestions(ctx context.Context, sessionID int64, openOnly bool) ([]*types.SessionQuestion, error)
	CloseSessionQuestion(ctx context.Context, sessionQuestionID int64, at time.Time) error
	CloseOpenQuestions(ctx context.Context, sessionID int64, at time.Time) ([]int64, error)
}

// QuestionBank is the question and collection collaborator.
type QuestionBank interface {
	GetTemplate(ctx context.Context, templateID int64) (*types.QuestionTemplate, error)
	CollectionMembers(ctx context.Context, collectionID int64) ([]int64, error)

	CreateCollection(ctx context.Context, collection *types.Collection) error
	ListCollections(ctx context.Context) ([]*types.Collection, error)
	CreateTemplate(ctx context.Context, template *types.QuestionTemplate) error
	ListTemplates(ctx context.Context, collectionID *int64) ([]*types.QuestionTemplate, error)
}

// ResponseStore persists graded responses.
type ResponseStore interface {
	InsertResponse(ctx context.Context, response *types.Response) error
	HasResponse(ctx context.Context, sessionQuestionID int64, studentName string) (bool, error)
	ListResponses(ctx context.Context, sessionID int64) ([]*types.Response, error)
}

// DatabaseManager is the full storage surface.
type DatabaseManager interface {
	SessionStore
	QuestionBank
	ResponseStore

	HealthCheck(ctx context.Context) error
	Close() error
}
