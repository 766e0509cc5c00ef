package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

var errSessionInactive = interfaces.NewError(interfaces.ErrInvalidState, "this session is no longer active")

type JoinResponse struct {
	SessionID int64  `json:"session_id"`
	Code      string `json:"code"`
}

// ActiveQuestion is the student view of an open question. Grading
// criteria stay with the instructor.
type ActiveQuestion struct {
	ID         int64     `json:"id"`
	Text       string    `json:"question_text"`
	LaunchedAt time.Time `json:"launched_at"`
}

type SubmitRequest struct {
	StudentName  string `json:"student_name" validate:"notblank,max=100"`
	ResponseText string `json:"response_text" validate:"notblank"`
}

func (s *Server) joinSession(c echo.Context) error {
	session, err := s.deps.Sessions.GetSessionByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	if !session.IsActive() {
		return errSessionInactive
	}
	return c.JSON(http.StatusOK, JoinResponse{SessionID: session.ID, Code: session.Code})
}

func (s *Server) activeQuestions(c echo.Context) error {
	sessionID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	questions, err := s.deps.Sessions.ActiveQuestionsFor(c.Request().Context(), sessionID)
	if err != nil {
		return err
	}

	out := make([]ActiveQuestion, len(questions))
	for i, q := range questions {
		out[i] = ActiveQuestion{ID: q.ID, Text: q.Text, LaunchedAt: q.LaunchedAt}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) submitResponse(c echo.Context) error {
	sessionID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	sqID, err := pathID(c, "sqid")
	if err != nil {
		return err
	}
	var req SubmitRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	if err := s.requireQuestionInSession(c, sessionID, sqID); err != nil {
		return err
	}
	if !s.deps.Limiter.Allow(submitKey(sessionID, req.StudentName)) {
		return errRateLimited
	}

	response, err := s.deps.Results.RecordResponse(c.Request().Context(), sqID, req.StudentName, req.ResponseText)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, response)
}

func submitKey(sessionID int64, studentName string) string {
	return fmt.Sprintf("%d:%s", sessionID, strings.ToLower(types.NormalizeName(studentName)))
}
