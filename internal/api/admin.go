package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"classpulse/pkg/types"
)

type CreateSessionRequest struct {
	AIModel string `json:"ai_model" validate:"max=200"`
}

type SessionResponse struct {
	*types.Session
	ConnectedCount int `json:"connected_count"`
}

type LaunchQuestionRequest struct {
	QuestionID int64 `json:"question_id" validate:"required,gt=0"`
}

type LaunchCollectionResponse struct {
	Launched           int                      `json:"launched"`
	SessionQuestionIDs []int64                  `json:"session_question_ids"`
	Questions          []*types.SessionQuestion `json:"questions"`
}

type CloseAllResponse struct {
	Closed             int     `json:"closed"`
	SessionQuestionIDs []int64 `json:"session_question_ids"`
}

type ConnectedUsersResponse struct {
	Count int      `json:"count"`
	Names []string `json:"names"`
}

type CreateCollectionRequest struct {
	Name string `json:"name" validate:"notblank,max=200"`
}

type CreateQuestionRequest struct {
	Text            string `json:"question_text" validate:"notblank"`
	GradingCriteria string `json:"grading_criteria" validate:"notblank"`
	CollectionID    *int64 `json:"collection_id" validate:"omitempty,gt=0"`
}

func (s *Server) createSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	session, err := s.deps.Sessions.CreateSession(c.Request().Context(), req.AIModel)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, SessionResponse{Session: session})
}

func (s *Server) listSessions(c echo.Context) error {
	sessions, err := s.deps.Sessions.ListSessions(c.Request().Context())
	if err != nil {
		return err
	}

	out := make([]SessionResponse, len(sessions))
	for i, session := range sessions {
		out[i] = SessionResponse{Session: session, ConnectedCount: s.deps.Presence.Count(session.ID)}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getSession(c echo.Context) error {
	sessionID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	session, err := s.deps.Sessions.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SessionResponse{
		Session:        session,
		ConnectedCount: s.deps.Presence.Count(sessionID),
	})
}

func (s *Server) endSession(c echo.Context) error {
	sessionID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := s.deps.Sessions.EndSession(c.Request().Context(), sessionID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"status": types.SessionStatusClosed})
}

func (s *Server) launchQuestion(c echo.Context) error {
	sessionID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req LaunchQuestionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	q, err := s.deps.Sessions.LaunchQuestion(c.Request().Context(), sessionID, req.QuestionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, q)
}

func (s *Server) launchCollection(c echo.Context) error {
	sessionID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	collectionID, err := pathID(c, "collection_id")
	if err != nil {
		return err
	}

	questions, err := s.deps.Sessions.LaunchCollection(c.Request().Context(), sessionID, collectionID)
	if err != nil {
		return err
	}

	ids := make([]int64, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	return c.JSON(http.StatusCreated, LaunchCollectionResponse{
		Launched:           len(questions),
		SessionQuestionIDs: ids,
		Questions:          questions,
	})
}

func (s *Server) closeQuestion(c echo.Context) error {
	sessionID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	sqID, err := pathID(c, "sqid")
	if err != nil {
		return err
	}

	if err := s.requireQuestionInSession(c, sessionID, sqID); err != nil {
		return err
	}
	q, err := s.deps.Sessions.CloseQuestion(c.Request().Context(), sqID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, q)
}

func (s *Server) closeAllQuestions(c echo.Context) error {
	sessionID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	ids, err := s.deps.Sessions.CloseAllOpenQuestions(c.Request().Context(), sessionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CloseAllResponse{Closed: len(ids), SessionQuestionIDs: ids})
}

func (s *Server) sessionResults(c echo.Context) error {
	sessionID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	res, err := s.deps.Results.ResultsFor(c.Request().Context(), sessionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) connectedUsers(c echo.Context) error {
	sessionID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if _, err := s.deps.Sessions.GetSession(c.Request().Context(), sessionID); err != nil {
		return err
	}

	names := s.deps.Presence.Names(sessionID)
	return c.JSON(http.StatusOK, ConnectedUsersResponse{Count: len(names), Names: names})
}

// listModels never fails: a provider outage yields an empty list.
func (s *Server) listModels(c echo.Context) error {
	models, err := s.deps.Models.ListModels(c.Request().Context())
	if err != nil {
		log.Printf("Failed to list grading models: %v", err)
		models = nil
	}
	if models == nil {
		models = []types.Model{}
	}
	return c.JSON(http.StatusOK, models)
}

func (s *Server) createCollection(c echo.Context) error {
	var req CreateCollectionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	collection := &types.Collection{Name: strings.TrimSpace(req.Name), CreatedAt: time.Now()}
	if err := s.deps.Bank.CreateCollection(c.Request().Context(), collection); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, collection)
}

func (s *Server) listCollections(c echo.Context) error {
	collections, err := s.deps.Bank.ListCollections(c.Request().Context())
	if err != nil {
		return err
	}
	if collections == nil {
		collections = []*types.Collection{}
	}
	return c.JSON(http.StatusOK, collections)
}

func (s *Server) createQuestion(c echo.Context) error {
	var req CreateQuestionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	tpl := &types.QuestionTemplate{
		CollectionID:    req.CollectionID,
		Text:            strings.TrimSpace(req.Text),
		GradingCriteria: strings.TrimSpace(req.GradingCriteria),
		CreatedAt:       time.Now(),
	}
	if err := s.deps.Bank.CreateTemplate(c.Request().Context(), tpl); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tpl)
}

func (s *Server) listQuestions(c echo.Context) error {
	var collectionID *int64
	if raw := c.QueryParam("collection_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return errInvalidID
		}
		collectionID = &id
	}

	templates, err := s.deps.Bank.ListTemplates(c.Request().Context(), collectionID)
	if err != nil {
		return err
	}
	if templates == nil {
		templates = []*types.QuestionTemplate{}
	}
	return c.JSON(http.StatusOK, templates)
}

func (s *Server) requireQuestionInSession(c echo.Context, sessionID, sessionQuestionID int64) error {
	q, err := s.deps.Sessions.GetSessionQuestion(c.Request().Context(), sessionQuestionID)
	if err != nil {
		return err
	}
	if q.SessionID != sessionID {
		return errWrongSession
	}
	return nil
}
