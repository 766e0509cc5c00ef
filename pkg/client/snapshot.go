package client

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// InstructorView is everything the instructor dashboard renders.
type InstructorView struct {
	Results []QuestionResult
	Users   ConnectedUsers
}

// StudentView is the list of questions a student can still answer.
type StudentView struct {
	Questions []ActiveQuestion
}

// InstructorSnapshot reads results and connected users concurrently.
func (c *Client) InstructorSnapshot(ctx context.Context, sessionID int64) (InstructorView, error) {
	var view InstructorView
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := c.Results(gctx, sessionID)
		if err != nil {
			return err
		}
		view.Results = res
		return nil
	})
	g.Go(func() error {
		users, err := c.ConnectedUsers(gctx, sessionID)
		if err != nil {
			return err
		}
		view.Users = *users
		return nil
	})

	if err := g.Wait(); err != nil {
		return InstructorView{}, err
	}
	return view, nil
}

// StudentSnapshot fails with ErrNotFound once the session has ended.
func (c *Client) StudentSnapshot(ctx context.Context, sessionID int64) (StudentView, error) {
	qs, err := c.ActiveQuestions(ctx, sessionID)
	if err != nil {
		return StudentView{}, err
	}
	return StudentView{Questions: qs}, nil
}
