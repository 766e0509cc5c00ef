package interfaces

import (
	"context"

	"classpulse/pkg/types"
)

// SessionManager is the session state machine as seen by the transport layers.
type SessionManager interface {
	CreateSession(ctx context.Context, aiModel string) (*types.Session, error)
	GetSession(ctx context.Context, sessionID int64) (*types.Session, error)
	GetSessionByCode(ctx context.Context, code string) (*types.Session, error)
	ListSessions(ctx context.Context) ([]*types.Session, error)
	GetSessionQuestion(ctx context.Context, sessionQuestionID int64) (*types.SessionQuestion, error)

	LaunchQuestion(ctx context.Context, sessionID, templateID int64) (*types.SessionQuestion, error)
	LaunchCollection(ctx context.Context, sessionID, collectionID int64) ([]*types.SessionQuestion, error)
	CloseQuestion(ctx context.Context, sessionQuestionID int64) (*types.SessionQuestion, error)
	CloseAllOpenQuestions(ctx context.Context, sessionID int64) ([]int64, error)
	EndSession(ctx context.Context, sessionID int64) error

	ActiveQuestionsFor(ctx context.Context, sessionID int64) ([]*types.SessionQuestion, error)
	ValidateJoin(ctx context.Context, sessionID int64) error
}

// Publisher accepts lifecycle events for best-effort fanout.
type Publisher interface {
	Publish(event types.Event) error
}
