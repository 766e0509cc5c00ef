package grading

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"classpulse/pkg/types"
)

const defaultFeedback = "No feedback provided."

// buildPrompt asks for a 1-4 score, or 0 for a missing or irrelevant answer,
// returned as a JSON object.
func buildPrompt(req types.GradeRequest) string {
	return fmt.Sprintf(`Score the following student response on a scale of 1 to 4 based strictly on the provided grading criteria.
If the student does not answer the question at all or the response is entirely irrelevant, return a score of 0.
Provide short, constructive feedback to the student, but only if there is meaningful feedback to provide. A few sentences or less.

Question: %s
Grading Criteria: %s
Student Answer: %s

Respond STRICTLY in the following JSON format:
{"score": 3, "feedback": "Your feedback text here."}`, req.QuestionText, req.GradingCriteria, req.AnswerText)
}

type gradePayload struct {
	Score    json.Number `json:"score"`
	Feedback string      `json:"feedback"`
}

// parseGrade reads the model's JSON reply. Markdown code fences around the
// object are tolerated. Fractional scores are rounded.
func parseGrade(content string) (*types.Grade, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var payload gradePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrade, err)
	}
	if payload.Score == "" {
		return nil, fmt.Errorf("%w: missing score", ErrInvalidGrade)
	}

	f, err := payload.Score.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: score %q", ErrInvalidGrade, payload.Score)
	}

	feedback := strings.TrimSpace(payload.Feedback)
	if feedback == "" {
		feedback = defaultFeedback
	}
	return &types.Grade{Score: int(math.Round(f)), Feedback: feedback}, nil
}
