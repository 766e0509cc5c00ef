package grading

import (
	"context"
	"log"
	"time"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// TestModel always grades offline, whatever key is configured.
const TestModel = "test-model"

const (
	mockScore         = 3
	mockFeedbackModel = "This is mocked feedback for the test model."
	mockFeedbackNoKey = "This is mocked feedback because no grading API key is configured."
	placeholderAPIKey = "dummy-key"
)

// MockGrader returns a fixed score without calling anyone.
type MockGrader struct {
	Feedback string
}

func (m MockGrader) Grade(ctx context.Context, req types.GradeRequest) (*types.Grade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &types.Grade{Score: mockScore, Feedback: m.Feedback}, nil
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Service picks the grader for each request: the offline mock for the test
// model or when no real key is configured, the provider otherwise.
type Service struct {
	client  *Client
	offline bool
}

var (
	_ interfaces.Grader      = (*Service)(nil)
	_ interfaces.ModelLister = (*Service)(nil)
)

func NewService(cfg Config) *Service {
	offline := cfg.APIKey == "" || cfg.APIKey == placeholderAPIKey
	if offline {
		log.Printf("Grading API key missing or placeholder, answers will receive mocked grades")
	}
	return &Service{
		client:  NewClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout),
		offline: offline,
	}
}

func (s *Service) Grade(ctx context.Context, req types.GradeRequest) (*types.Grade, error) {
	switch {
	case req.Model == TestModel:
		return MockGrader{Feedback: mockFeedbackModel}.Grade(ctx, req)
	case s.offline:
		return MockGrader{Feedback: mockFeedbackNoKey}.Grade(ctx, req)
	}
	return s.client.Grade(ctx, req)
}

// ListModels proxies the provider catalogue. The catalogue is public, so
// this works without a key.
func (s *Service) ListModels(ctx context.Context) ([]types.Model, error) {
	return s.client.ListModels(ctx)
}
