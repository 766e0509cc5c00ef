package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classpulse/internal/database"
	"classpulse/internal/grading"
	"classpulse/internal/hub"
	"classpulse/internal/metrics"
	"classpulse/internal/results"
	"classpulse/internal/session"
	"classpulse/internal/websocket"
	dbconfig "classpulse/pkg/database"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

type stubModels struct {
	models []types.Model
	err    error
}

func (s stubModels) ListModels(ctx context.Context) ([]types.Model, error) {
	return s.models, s.err
}

type testEnv struct {
	server   *Server
	store    *database.Manager
	sessions *session.Manager
	hub      *hub.Hub
}

type envOptions struct {
	allowConcurrent bool
	models          interfaces.ModelLister
	limiter         *RateLimiter
}

func setupServer(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "api.db")
	store, err := database.NewManager(cfg)
	require.NoError(t, err)
	require.NoError(t, dbconfig.NewMigrationManager(store.GetDB()).ApplyMigrations())
	t.Cleanup(func() { _ = store.Close() })

	m := metrics.New()
	registry := websocket.NewRegistry()
	h := hub.NewHub(registry, 0, m)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })

	sessions := session.NewManager(store, h, session.Options{
		AllowConcurrent: opts.allowConcurrent,
		DefaultModel:    types.DefaultAIModel,
	})
	grader := grading.NewService(grading.Config{})
	aggregator := results.NewAggregator(store, sessions, grader, m, results.Options{GradingTimeout: time.Second})

	models := opts.models
	if models == nil {
		models = stubModels{models: []types.Model{{ID: "openai/gpt-4o", Name: "GPT-4o"}}}
	}
	limiter := opts.limiter
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}

	srv := NewServer(Deps{
		Sessions:     sessions,
		Results:      aggregator,
		Bank:         store,
		Models:       models,
		Presence:     registry,
		Sockets:      websocket.NewHandler(registry, sessions, websocket.DefaultOptions()),
		Database:     store,
		Hub:          h,
		SessionStats: sessions,
		Metrics:      m.Handler(),
		Limiter:      limiter,
	})
	return &testEnv{server: srv, store: store, sessions: sessions, hub: h}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	decode(t, rec, &resp)
	return resp
}

func (env *testEnv) createSession(t *testing.T) SessionResponse {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/admin/sessions", map[string]string{"ai_model": "test-model"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var s SessionResponse
	decode(t, rec, &s)
	return s
}

func (env *testEnv) createQuestion(t *testing.T, text string, collectionID *int64) types.QuestionTemplate {
	t.Helper()
	body := map[string]interface{}{"question_text": text, "grading_criteria": "mentions " + text}
	if collectionID != nil {
		body["collection_id"] = *collectionID
	}
	rec := env.do(t, http.MethodPost, "/api/admin/questions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tpl types.QuestionTemplate
	decode(t, rec, &tpl)
	return tpl
}

func (env *testEnv) launch(t *testing.T, sessionID, templateID int64) types.SessionQuestion {
	t.Helper()
	rec := env.do(t, http.MethodPost, urlf("/api/admin/sessions/%d/questions", sessionID),
		map[string]int64{"question_id": templateID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var q types.SessionQuestion
	decode(t, rec, &q)
	return q
}

func urlf(format string, ids ...int64) string {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return fmt.Sprintf(format, args...)
}

func TestCreateSession(t *testing.T) {
	env := setupServer(t, envOptions{})

	s := env.createSession(t)
	assert.NotZero(t, s.ID)
	assert.Len(t, s.Code, types.JoinCodeLength)
	assert.Equal(t, "test-model", s.AIModel)
	assert.Equal(t, types.SessionStatusActive, s.Status)

	rec := env.do(t, http.MethodPost, "/api/admin/sessions", map[string]string{})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeError(t, rec).Message, "already active")
}

func TestCreateSession_DefaultModel(t *testing.T) {
	env := setupServer(t, envOptions{})

	rec := env.do(t, http.MethodPost, "/api/admin/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var s SessionResponse
	decode(t, rec, &s)
	assert.Equal(t, types.DefaultAIModel, s.AIModel)
}

func TestCreateSession_Validation(t *testing.T) {
	env := setupServer(t, envOptions{})

	rec := env.do(t, http.MethodPost, "/api/admin/sessions", map[string]string{"ai_model": strings.Repeat("m", 201)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "Bad Request", resp.Error)
	assert.Contains(t, resp.Fields, "ai_model")
}

func TestGetSession(t *testing.T) {
	env := setupServer(t, envOptions{})
	s := env.createSession(t)

	rec := env.do(t, http.MethodGet, urlf("/api/admin/sessions/%d", s.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got SessionResponse
	decode(t, rec, &got)
	assert.Equal(t, s.Code, got.Code)
	assert.Equal(t, 0, got.ConnectedCount)

	rec = env.do(t, http.MethodGet, "/api/admin/sessions/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/sessions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSessions(t *testing.T) {
	env := setupServer(t, envOptions{allowConcurrent: true})
	env.createSession(t)
	env.createSession(t)

	rec := env.do(t, http.MethodGet, "/api/admin/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []SessionResponse
	decode(t, rec, &list)
	assert.Len(t, list, 2)
}

func TestLaunchQuestion_StudentViewHidesCriteria(t *testing.T) {
	env := setupServer(t, envOptions{})
	s := env.createSession(t)
	tpl := env.createQuestion(t, "What is a goroutine?", nil)

	q := env.launch(t, s.ID, tpl.ID)
	assert.Equal(t, types.QuestionStatusOpen, q.Status)
	assert.Equal(t, "What is a goroutine?", q.Text)

	rec := env.do(t, http.MethodGet, urlf("/api/student/sessions/%d/active-questions", s.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "grading_criteria")

	var active []ActiveQuestion
	decode(t, rec, &active)
	require.Len(t, active, 1)
	assert.Equal(t, q.ID, active[0].ID)
}

func TestLaunchQuestion_Errors(t *testing.T) {
	env := setupServer(t, envOptions{})
	s := env.createSession(t)

	rec := env.do(t, http.MethodPost, urlf("/api/admin/sessions/%d/questions", s.ID), map[string]int64{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Fields, "question_id")

	rec = env.do(t, http.MethodPost, urlf("/api/admin/sessions/%d/questions", s.ID), map[string]int64{"question_id": 42})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/sessions/999/questions", map[string]int64{"question_id": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLaunchCollection(t *testing.T) {
	env := setupServer(t, envOptions{})
	s := env.createSession(t)

	rec := env.do(t, http.MethodPost, "/api/admin/collections", map[string]string{"name": "  Week 1  "})
	require.Equal(t, http.StatusCreated, rec.Code)
	var c types.Collection
	decode(t, rec, &c)
	assert.Equal(t, "Week 1", c.Name)

	rec = env.do(t, http.MethodPost, urlf("/api/admin/sessions/%d/collections/%d/launch", s.ID, c.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "an empty collection launches nothing")

	env.createQuestion(t, "one", &c.ID)
	env.createQuestion(t, "two", &c.ID)
	env.createQuestion(t, "elsewhere", nil)

	rec = env.do(t, http.MethodPost, urlf("/api/admin/sessions/%d/collections/%d/launch", s.ID, c.ID), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var launched LaunchCollectionResponse
	decode(t, rec, &launched)
	assert.Equal(t, 2, launched.Launched)
	assert.Len(t, launched.SessionQuestionIDs, 2)

	rec = env.do(t, http.MethodGet, "/api/admin/collections", nil)
	var collections []types.Collection
	decode(t, rec, &collections)
	require.Len(t, collections, 1)
	assert.Equal(t, 2, collections[0].QuestionCount)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/admin/questions?collection_id=%d", c.ID), nil)
	var templates []types.QuestionTemplate
	decode(t, rec, &templates)
	assert.Len(t, templates, 2)

	rec = env.do(t, http.MethodGet, "/api/admin/questions?collection_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateQuestion_Validation(t *testing.T) {
	env := setupServer(t, envOptions{})

	rec := env.do(t, http.MethodPost, "/api/admin/questions", map[string]string{"question_text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "this field cannot be blank", resp.Fields["question_text"])
	assert.Contains(t, resp.Fields, "grading_criteria")

	rec = env.do(t, http.MethodPost, "/api/admin/questions", map[string]interface{}{
		"question_text": "q", "grading_criteria": "c", "collection_id": 77,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseQuestion(t *testing.T) {
	env := setupServer(t, envOptions{allowConcurrent: true})
	s := env.createSession(t)
	other := env.createSession(t)
	tpl := env.createQuestion(t, "q", nil)
	q := env.launch(t, s.ID, tpl.ID)

	rec := env.do(t, http.MethodPut, urlf("/api/admin/sessions/%d/questions/%d/close", other.ID, q.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "question of another session")

	rec = env.do(t, http.MethodPut, urlf("/api/admin/sessions/%d/questions/%d/close", s.ID, q.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var closed types.SessionQuestion
	decode(t, rec, &closed)
	assert.Equal(t, types.QuestionStatusClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	rec = env.do(t, http.MethodPut, urlf("/api/admin/sessions/%d/questions/%d/close", s.ID, q.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCloseAllQuestions(t *testing.T) {
	env := setupServer(t, envOptions{})
	s := env.createSession(t)

	rec := env.do(t, http.MethodPut, urlf("/api/admin/sessions/%d/questions/close-all", s.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var none CloseAllResponse
	decode(t, rec, &none)
	assert.Equal(t, 0, none.Closed)
	assert.Empty(t, none.SessionQuestionIDs)

	tpl := env.createQuestion(t, "q", nil)
	env.launch(t, s.ID, tpl.ID)
	env.launch(t, s.ID, tpl.ID)

	rec = env.do(t, http.MethodPut, urlf("/api/admin/sessions/%d/questions/close-all", s.ID), nil)
	var all CloseAllResponse
	decode(t, rec, &all)
	assert.Equal(t, 2, all.Closed)

	rec = env.do(t, http.MethodGet, urlf("/api/student/sessions/%d/active-questions", s.ID), nil)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/admin/sessions/999/questions/close-all", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndSession(t *testing.T) {
	env := setupServer(t, envOptions{})
	s := env.createSession(t)

	rec := env.do(t, http.MethodPut, urlf("/api/admin/sessions/%d/end", s.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"closed"}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, urlf("/api/admin/sessions/%d/end", s.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, urlf("/api/student/sessions/%d/active-questions", s.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "a closed session evicts polling students")

	rec = env.do(t, http.MethodPost, "/api/student/join/"+s.Code, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/admin/sessions/999/end", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A new session may start once the previous one has ended.
	env.createSession(t)
}

func TestJoinSession(t *testing.T) {
	env := setupServer(t, envOptions{})
	s := env.createSession(t)

	rec := env.do(t, http.MethodPost, "/api/student/join/"+strings.ToLower(s.Code), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var joined JoinResponse
	decode(t, rec, &joined)
	assert.Equal(t, s.ID, joined.SessionID)
	assert.Equal(t, s.Code, joined.Code)

	rec = env.do(t, http.MethodPost, "/api/student/join/ZZZZZZ", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitResponse(t *testing.T) {
	env := setupServer(t, envOptions{})
	s := env.createSession(t)
	tpl := env.createQuestion(t, "q", nil)
	q := env.launch(t, s.ID, tpl.ID)
	submit := urlf("/api/student/sessions/%d/questions/%d/submit", s.ID, q.ID)

	rec := env.do(t, http.MethodPost, submit, map[string]string{"student_name": " Ada ", "response_text": "an answer"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var r types.Response
	decode(t, rec, &r)
	assert.Equal(t, "Ada", r.StudentName)
	assert.Equal(t, 3, r.Score)
	assert.NotEmpty(t, r.Feedback)

	rec = env.do(t, http.MethodPost, submit, map[string]string{"student_name": "ada", "response_text": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, submit, map[string]string{"student_name": "", "response_text": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Fields, "student_name")

	rec = env.do(t, http.MethodPost, urlf("/api/student/sessions/%d/questions/999/submit", s.ID),
		map[string]string{"student_name": "Bo", "response_text": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.do(t, http.MethodPut, urlf("/api/admin/sessions/%d/questions/%d/close", s.ID, q.ID), nil)
	rec = env.do(t, http.MethodPost, submit, map[string]string{"student_name": "Cy", "response_text": "late"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitResponse_RateLimited(t *testing.T) {
	env := setupServer(t, envOptions{limiter: NewRateLimiter(1, 1)})
	s := env.createSession(t)
	tpl := env.createQuestion(t, "q", nil)
	first := env.launch(t, s.ID, tpl.ID)
	second := env.launch(t, s.ID, tpl.ID)

	rec := env.do(t, http.MethodPost, urlf("/api/student/sessions/%d/questions/%d/submit", s.ID, first.ID),
		map[string]string{"student_name": "Ada", "response_text": "a"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, urlf("/api/student/sessions/%d/questions/%d/submit", s.ID, second.ID),
		map[string]string{"student_name": "ADA", "response_text": "b"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.True(t, decodeError(t, rec).Retryable)

	rec = env.do(t, http.MethodPost, urlf("/api/student/sessions/%d/questions/%d/submit", s.ID, second.ID),
		map[string]string{"student_name": "Bo", "response_text": "b"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSessionResults(t *testing.T) {
	env := setupServer(t, envOptions{})
	s := env.createSession(t)
	tpl := env.createQuestion(t, "q", nil)
	older := env.launch(t, s.ID, tpl.ID)
	newer := env.launch(t, s.ID, tpl.ID)

	for _, name := range []string{"Ada", "Bo"} {
		rec := env.do(t, http.MethodPost, urlf("/api/student/sessions/%d/questions/%d/submit", s.ID, older.ID),
			map[string]string{"student_name": name, "response_text": "answer"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, urlf("/api/admin/sessions/%d/results", s.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res []results.QuestionResult
	decode(t, rec, &res)
	require.Len(t, res, 2)
	assert.Equal(t, newer.ID, res[0].Question.ID)
	assert.Empty(t, res[0].Responses)
	assert.Len(t, res[1].Responses, 2)
	assert.Equal(t, 2, res[1].Distribution.Count(3))

	rec = env.do(t, http.MethodGet, "/api/admin/sessions/999/results", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnectedUsers(t *testing.T) {
	env := setupServer(t, envOptions{})
	s := env.createSession(t)

	rec := env.do(t, http.MethodGet, urlf("/api/admin/sessions/%d/connected-users", s.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"names":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/admin/sessions/999/connected-users", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListModels(t *testing.T) {
	env := setupServer(t, envOptions{})
	rec := env.do(t, http.MethodGet, "/api/admin/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var models []types.Model
	decode(t, rec, &models)
	require.Len(t, models, 1)
	assert.Equal(t, "openai/gpt-4o", models[0].ID)

	failing := setupServer(t, envOptions{models: stubModels{err: errors.New("provider down")}})
	rec = failing.do(t, http.MethodGet, "/api/admin/models", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestSocketRoutes_RejectBeforeUpgrade(t *testing.T) {
	env := setupServer(t, envOptions{})
	s := env.createSession(t)

	rec := env.do(t, http.MethodGet, urlf("/api/student/ws/%d?client_id=tab-1", s.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "students must send a name")

	rec = env.do(t, http.MethodGet, "/api/student/ws/999?client_id=tab-1&name=Ada", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.do(t, http.MethodPut, urlf("/api/admin/sessions/%d/end", s.ID), nil)
	rec = env.do(t, http.MethodGet, urlf("/api/admin/ws/%d?client_id=tab-1", s.ID), nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	env := setupServer(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Database)
	assert.Equal(t, 0, health.Connections["total_connections"])
	assert.Equal(t, true, health.Hub["running"])
	assert.Equal(t, float64(0), health.Sessions["active_sessions"])

	require.NoError(t, env.hub.Stop())
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, env.hub.Start(context.Background()))
	require.NoError(t, env.store.Close())
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	decode(t, rec, &health)
	assert.Contains(t, health.Database, "error")
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupServer(t, envOptions{})
	s := env.createSession(t)
	tpl := env.createQuestion(t, "q", nil)
	q := env.launch(t, s.ID, tpl.ID)
	env.do(t, http.MethodPost, urlf("/api/student/sessions/%d/questions/%d/submit", s.ID, q.ID),
		map[string]string{"student_name": "Ada", "response_text": "a"})

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Contains(t, rec.Body.String(), `classpulse_results_submissions_total{outcome="recorded"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	env := setupServer(t, envOptions{})

	req := httptest.NewRequest(http.MethodOptions, "/api/admin/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
