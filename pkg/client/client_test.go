package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classpulse/pkg/types"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_DecodesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/student/sessions/7/questions/9/submit", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Ada", body["student_name"])
		assert.Equal(t, "goroutines", body["response_text"])

		writeJSON(w, http.StatusCreated, types.Response{ID: "r-1", StudentName: "Ada", Score: 4})
	}))
	defer srv.Close()

	r, err := New(srv.URL+"/").Submit(context.Background(), 7, 9, "Ada", "goroutines")
	require.NoError(t, err)
	assert.Equal(t, "r-1", r.ID)
	assert.Equal(t, 4, r.Score)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		status    int
		sentinel  error
		retryable bool
	}{
		{http.StatusNotFound, ErrNotFound, false},
		{http.StatusGone, ErrNotFound, false},
		{http.StatusConflict, ErrConflict, false},
		{http.StatusBadRequest, ErrBadRequest, false},
		{http.StatusTooManyRequests, ErrRateLimited, true},
		{http.StatusGatewayTimeout, ErrUpstream, true},
		{http.StatusBadGateway, ErrUpstream, true},
		{http.StatusInternalServerError, ErrServer, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]interface{}{
					"error":     http.StatusText(tt.status),
					"code":      tt.status,
					"message":   "details",
					"retryable": tt.retryable,
				})
			}))
			defer srv.Close()

			_, err := New(srv.URL).GetSession(context.Background(), 1)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel))
			assert.Equal(t, tt.retryable, IsRetryable(err))

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "details", apiErr.Message)
		})
	}
}

func TestClient_ValidationFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"code":    400,
			"message": "validation failed",
			"fields":  map[string]string{"name": "this field cannot be blank"},
		})
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreateCollection(context.Background(), " ")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "this field cannot be blank", apiErr.Fields["name"])
}

func TestInstructorSnapshot_FetchesBoth(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/admin/sessions/3/results", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, []QuestionResult{{
			Question:  types.SessionQuestion{ID: 11, SessionID: 3, Text: "q"},
			Responses: []types.Response{{StudentName: "Ada", Score: 3}},
		}})
	})
	mux.HandleFunc("/api/admin/sessions/3/connected-users", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, ConnectedUsers{Count: 2, Names: []string{"Ada", "Bo"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	view, err := New(srv.URL).InstructorSnapshot(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	require.Len(t, view.Results, 1)
	assert.Equal(t, int64(11), view.Results[0].Question.ID)
	assert.Equal(t, []string{"Ada", "Bo"}, view.Users.Names)
}

func TestInstructorSnapshot_AnyFailureFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/admin/sessions/3/results", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []QuestionResult{})
	})
	mux.HandleFunc("/api/admin/sessions/3/connected-users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"code": 404, "message": "session not found"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := New(srv.URL).InstructorSnapshot(context.Background(), 3)
	assert.True(t, IsNotFound(err))
}

func TestStudentSnapshot(t *testing.T) {
	var ended atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ended.Load() {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"code": 404, "message": "session has ended"})
			return
		}
		writeJSON(w, http.StatusOK, []ActiveQuestion{{ID: 1, Text: "q1"}, {ID: 2, Text: "q2"}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	view, err := c.StudentSnapshot(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, view.Questions, 2)

	ended.Store(true)
	_, err = c.StudentSnapshot(context.Background(), 5)
	assert.True(t, IsNotFound(err))
}

func TestSubscribe_ReceivesEnvelopesUntilEviction(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/student/ws/4", r.URL.Path)
		assert.Equal(t, "tab-1", r.URL.Query().Get("client_id"))
		assert.Equal(t, "Ada", r.URL.Query().Get("name"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		at := time.Now()
		_ = conn.WriteJSON(types.NewEnvelope(types.QuestionLaunched{SessionID: 4, SessionQuestionIDs: []int64{1, 2}}, 1, at))
		_ = conn.WriteJSON(types.NewEnvelope(types.SessionEnded{SessionID: 4}, 2, at))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"), time.Now().Add(time.Second))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	sub, err := New(srv.URL).Subscribe(context.Background(), 4, "tab-1", "Ada", types.RoleStudent)
	require.NoError(t, err)
	defer sub.Close()

	var got []types.Envelope
	for env := range sub.Envelopes() {
		got = append(got, env)
	}

	require.Len(t, got, 2)
	assert.Equal(t, types.EventQuestionLaunched, got[0].Type)
	assert.Equal(t, []int64{1, 2}, got[0].SessionQuestionIDs)
	assert.Equal(t, types.EventSessionEnded, got[1].Type)
	assert.Less(t, got[0].Seq, got[1].Seq)

	<-sub.Done()
	assert.True(t, sub.Evicted())
	var ce *websocket.CloseError
	require.True(t, errors.As(sub.Err(), &ce))
	assert.Equal(t, "session ended", ce.Text)
}

func TestSubscribe_RejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/admin/ws/9", r.URL.Path)
		http.Error(w, "Session has ended", http.StatusGone)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Subscribe(context.Background(), 9, "monitor", "", types.RoleInstructor)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Session has ended", apiErr.Message)
}

func TestSubscribe_ClientCloseIsNotEviction(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sub, err := New(srv.URL).Subscribe(context.Background(), 1, "tab-1", "Ada", types.RoleStudent)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end")
	}
	assert.False(t, sub.Evicted())
}
