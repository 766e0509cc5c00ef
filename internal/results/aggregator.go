// Package results records graded responses and aggregates them per question.
package results

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"classpulse/internal/metrics"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

const defaultGradingTimeout = 20 * time.Second

// Store is the persistence the aggregator reads and writes.
type Store interface {
	GetSession(ctx context.Context, sessionID int64) (*types.Session, error)
	GetSessionQuestion(ctx context.Context, sessionQuestionID int64) (*types.SessionQuestion, error)
	ListSessionQuestions(ctx context.Context, sessionID int64, openOnly bool) ([]*types.SessionQuestion, error)
	interfaces.ResponseStore
}

// QuestionGate runs fn only while the question is open, excluding concurrent closes.
type QuestionGate interface {
	WithOpenQuestion(ctx context.Context, sessionQuestionID int64, fn func(*types.SessionQuestion) error) error
}

type Options struct {
	GradingTimeout time.Duration
}

// QuestionResult is one launched question with its responses, oldest first.
type QuestionResult struct {
	Question     *types.SessionQuestion `json:"question"`
	Responses    []*types.Response      `json:"responses"`
	Distribution Distribution           `json:"distribution"`
}

type Aggregator struct {
	store   Store
	gate    QuestionGate
	grader  interfaces.Grader
	metrics *metrics.Metrics
	timeout time.Duration

	now   func() time.Time
	newID func() string
}

func NewAggregator(store Store, gate QuestionGate, grader interfaces.Grader, m *metrics.Metrics, opts Options) *Aggregator {
	if opts.GradingTimeout <= 0 {
		opts.GradingTimeout = defaultGradingTimeout
	}
	return &Aggregator{
		store:   store,
		gate:    gate,
		grader:  grader,
		metrics: m,
		timeout: opts.GradingTimeout,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// RecordResponse grades an answer and stores it. The response is stored
// only if the question is still open once grading finishes. Nothing is
// stored when grading fails or times out.
func (a *Aggregator) RecordResponse(ctx context.Context, sessionQuestionID int64, studentName, answerText string) (*types.Response, error) {
	studentName = types.NormalizeName(studentName)
	if !types.IsValidName(studentName) {
		return nil, ErrInvalidStudentName
	}
	if strings.TrimSpace(answerText) == "" {
		return nil, ErrEmptyAnswer
	}

	q, err := a.store.GetSessionQuestion(ctx, sessionQuestionID)
	if err != nil {
		return nil, err
	}
	if !q.IsOpen() {
		a.metrics.Submission("closed")
		return nil, ErrQuestionClosed
	}

	dup, err := a.store.HasResponse(ctx, sessionQuestionID, studentName)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate response: %w", err)
	}
	if dup {
		a.metrics.Submission("duplicate")
		return nil, ErrDuplicateResponse
	}

	session, err := a.store.GetSession(ctx, q.SessionID)
	if err != nil {
		return nil, err
	}

	grade, err := a.grade(ctx, types.GradeRequest{
		Model:           session.AIModel,
		QuestionText:    q.Text,
		GradingCriteria: q.GradingCriteria,
		AnswerText:      answerText,
	})
	if err != nil {
		a.metrics.Submission("grading_failed")
		log.Printf("Grading failed: question=%d student=%q err=%v", sessionQuestionID, studentName, err)
		return nil, err
	}

	resp := &types.Response{
		ID:                a.newID(),
		SessionID:         q.SessionID,
		SessionQuestionID: sessionQuestionID,
		StudentName:       studentName,
		AnswerText:        answerText,
		Score:             grade.Score,
		Feedback:          grade.Feedback,
		CreatedAt:         a.now(),
	}

	err = a.gate.WithOpenQuestion(ctx, sessionQuestionID, func(*types.SessionQuestion) error {
		return a.store.InsertResponse(ctx, resp)
	})
	switch {
	case err == nil:
	case errors.Is(err, interfaces.ErrInvalidState):
		a.metrics.Submission("closed")
		return nil, ErrQuestionClosed
	case errors.Is(err, interfaces.ErrConflict):
		a.metrics.Submission("duplicate")
		return nil, ErrDuplicateResponse
	default:
		return nil, fmt.Errorf("failed to record response: %w", err)
	}

	a.metrics.Submission("recorded")
	log.Printf("Response recorded: question=%d student=%q score=%d", sessionQuestionID, studentName, resp.Score)
	return resp, nil
}

// grade bounds the grader call by the grading timeout. A caller that gave
// up gets its own context error back.
func (a *Aggregator) grade(ctx context.Context, req types.GradeRequest) (*types.Grade, error) {
	gctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	grade, err := a.grader.Grade(gctx, req)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		a.metrics.GradingObserved("ok", elapsed)
		return grade, nil
	case ctx.Err() != nil:
		a.metrics.GradingObserved("cancelled", elapsed)
		return nil, ctx.Err()
	case errors.Is(gctx.Err(), context.DeadlineExceeded):
		a.metrics.GradingObserved("timeout", elapsed)
		return nil, fmt.Errorf("%w after %s", ErrGradingTimeout, a.timeout)
	default:
		a.metrics.GradingObserved("error", elapsed)
		return nil, fmt.Errorf("%w: %v", ErrGradingFailed, err)
	}
}

// ResultsFor lists every question of a session, newest first, with its
// responses and score distribution. Closed sessions are included.
func (a *Aggregator) ResultsFor(ctx context.Context, sessionID int64) ([]QuestionResult, error) {
	if _, err := a.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	questions, err := a.store.ListSessionQuestions(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	responses, err := a.store.ListResponses(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	byQuestion := make(map[int64][]*types.Response, len(questions))
	for _, r := range responses {
		byQuestion[r.SessionQuestionID] = append(byQuestion[r.SessionQuestionID], r)
	}

	results := make([]QuestionResult, 0, len(questions))
	for i := len(questions) - 1; i >= 0; i-- {
		q := questions[i]
		rs := byQuestion[q.ID]
		if rs == nil {
			rs = []*types.Response{}
		}
		results = append(results, QuestionResult{
			Question:     q,
			Responses:    rs,
			Distribution: NewDistribution(rs),
		})
	}
	return results, nil
}
