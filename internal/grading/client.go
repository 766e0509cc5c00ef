// Package grading scores student answers with an OpenAI-compatible chat
// completions provider such as OpenRouter.
package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

var (
	_ interfaces.Grader      = (*Client)(nil)
	_ interfaces.ModelLister = (*Client)(nil)
)

// Client talks to the provider's /chat/completions and /models endpoints
// under baseURL.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a provider client. timeout bounds each HTTP round trip;
// callers usually also pass a context deadline.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message *chatMessage `json:"message"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Grade sends one grading prompt and parses the JSON grade from the reply.
func (c *Client) Grade(ctx context.Context, req types.GradeRequest) (*types.Grade, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:          req.Model,
		Messages:       []chatMessage{{Role: "user", Content: buildPrompt(req)}},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	respBody, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrade, err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message == nil {
		return nil, ErrEmptyCompletion
	}

	return parseGrade(result.Choices[0].Message.Content)
}

type modelsResponse struct {
	Data []types.Model `json:"data"`
}

// ListModels returns the provider's model catalogue.
func (c *Client) ListModels(ctx context.Context) ([]types.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	respBody, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var result modelsResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal models: %v", ErrProviderStatus, err)
	}
	if result.Data == nil {
		result.Data = []types.Model{}
	}
	return result.Data, nil
}

// do performs the request and returns the body of a 200 response.
// Transport failures keep their cause so deadline errors stay visible.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %w", interfaces.ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", interfaces.ErrUpstreamFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp apiErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("%w [%d]: %s (type: %s)", ErrProviderStatus, resp.StatusCode, errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("%w [%d]: %s", ErrProviderStatus, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("HTTP-Referer", "http://localhost")
	req.Header.Set("X-Title", "classpulse")
}
