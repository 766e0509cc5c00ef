package interfaces

import (
	"context"

	"classpulse/pkg/types"
)

// Grader scores one answer against the question's grading criteria.
// Implementations must honour ctx cancellation.
type Grader interface {
	Grade(ctx context.Context, req types.GradeRequest) (*types.Grade, error)
}

// ModelLister lists the models a grader can use.
type ModelLister interface {
	ListModels(ctx context.Context) ([]types.Model, error)
}
