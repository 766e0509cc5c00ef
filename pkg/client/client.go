// Package client is a typed Go client for the classpulse HTTP and
// WebSocket API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"classpulse/pkg/types"
)

const defaultTimeout = 30 * time.Second

// SessionInfo is a session with its live student count.
type SessionInfo struct {
	types.Session
	ConnectedCount int `json:"connected_count"`
}

type ConnectedUsers struct {
	Count int      `json:"count"`
	Names []string `json:"names"`
}

// ActiveQuestion is what a student sees of an open question.
type ActiveQuestion struct {
	ID         int64     `json:"id"`
	Text       string    `json:"question_text"`
	LaunchedAt time.Time `json:"launched_at"`
}

type Bucket struct {
	Score         int     `json:"score"`
	Count         int     `json:"count"`
	HeightPercent float64 `json:"height_percent"`
}

type Distribution struct {
	Buckets    []Bucket `json:"buckets"`
	Unbucketed int      `json:"unbucketed"`
	Total      int      `json:"total"`
}

type QuestionResult struct {
	Question     types.SessionQuestion `json:"question"`
	Responses    []types.Response      `json:"responses"`
	Distribution Distribution          `json:"distribution"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{}
		_ = json.Unmarshal(data, apiErr)
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Instructor operations

func (c *Client) CreateSession(ctx context.Context, aiModel string) (*SessionInfo, error) {
	var s SessionInfo
	err := c.do(ctx, http.MethodPost, "/api/admin/sessions", map[string]string{"ai_model": aiModel}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID int64) (*SessionInfo, error) {
	var s SessionInfo
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/admin/sessions/%d", sessionID), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var sessions []SessionInfo
	if err := c.do(ctx, http.MethodGet, "/api/admin/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) EndSession(ctx context.Context, sessionID int64) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/admin/sessions/%d/end", sessionID), nil, nil)
}

func (c *Client) CreateCollection(ctx context.Context, name string) (*types.Collection, error) {
	var col types.Collection
	if err := c.do(ctx, http.MethodPost, "/api/admin/collections", map[string]string{"name": name}, &col); err != nil {
		return nil, err
	}
	return &col, nil
}

func (c *Client) CreateQuestion(ctx context.Context, text, gradingCriteria string, collectionID *int64) (*types.QuestionTemplate, error) {
	body := map[string]interface{}{
		"question_text":    text,
		"grading_criteria": gradingCriteria,
	}
	if collectionID != nil {
		body["collection_id"] = *collectionID
	}
	var tpl types.QuestionTemplate
	if err := c.do(ctx, http.MethodPost, "/api/admin/questions", body, &tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (c *Client) LaunchQuestion(ctx context.Context, sessionID, templateID int64) (*types.SessionQuestion, error) {
	var q types.SessionQuestion
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/admin/sessions/%d/questions", sessionID),
		map[string]int64{"question_id": templateID}, &q)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Client) LaunchCollection(ctx context.Context, sessionID, collectionID int64) ([]types.SessionQuestion, error) {
	var resp struct {
		Questions []types.SessionQuestion `json:"questions"`
	}
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/admin/sessions/%d/collections/%d/launch", sessionID, collectionID), nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Questions, nil
}

func (c *Client) CloseQuestion(ctx context.Context, sessionID, sessionQuestionID int64) (*types.SessionQuestion, error) {
	var q types.SessionQuestion
	err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("/api/admin/sessions/%d/questions/%d/close", sessionID, sessionQuestionID), nil, &q)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// CloseAllQuestions returns the ids it closed, possibly none.
func (c *Client) CloseAllQuestions(ctx context.Context, sessionID int64) ([]int64, error) {
	var resp struct {
		SessionQuestionIDs []int64 `json:"session_question_ids"`
	}
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/admin/sessions/%d/questions/close-all", sessionID), nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.SessionQuestionIDs, nil
}

func (c *Client) Results(ctx context.Context, sessionID int64) ([]QuestionResult, error) {
	var res []QuestionResult
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/admin/sessions/%d/results", sessionID), nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) ConnectedUsers(ctx context.Context, sessionID int64) (*ConnectedUsers, error) {
	var users ConnectedUsers
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/admin/sessions/%d/connected-users", sessionID), nil, &users)
	if err != nil {
		return nil, err
	}
	return &users, nil
}

func (c *Client) Models(ctx context.Context) ([]types.Model, error) {
	var models []types.Model
	if err := c.do(ctx, http.MethodGet, "/api/admin/models", nil, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// Student operations

// Join resolves a join code to a session id.
func (c *Client) Join(ctx context.Context, code string) (int64, error) {
	var resp struct {
		SessionID int64 `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/student/join/"+url.PathEscape(code), nil, &resp); err != nil {
		return 0, err
	}
	return resp.SessionID, nil
}

func (c *Client) ActiveQuestions(ctx context.Context, sessionID int64) ([]ActiveQuestion, error) {
	var qs []ActiveQuestion
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/student/sessions/%d/active-questions", sessionID), nil, &qs)
	if err != nil {
		return nil, err
	}
	return qs, nil
}

func (c *Client) Submit(ctx context.Context, sessionID, sessionQuestionID int64, studentName, answer string) (*types.Response, error) {
	var r types.Response
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/student/sessions/%d/questions/%d/submit", sessionID, sessionQuestionID),
		map[string]string{"student_name": studentName, "response_text": answer}, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
