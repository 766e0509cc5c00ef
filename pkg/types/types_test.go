package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidClientID(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		want     bool
	}{
		{"simple", "tab_123", true},
		{"uuid-like", "7f3c2a10-5b6e-4c8d-9a1e-0f2b3c4d5e6f", true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 65), false},
		{"max length", strings.Repeat("a", 64), true},
		{"space", "tab 1", false},
		{"special", "tab@1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidClientID(tt.clientID))
		})
	}
}

func TestIsValidName(t *testing.T) {
	assert.True(t, IsValidName("Alice"))
	assert.True(t, IsValidName("  Bob  "))
	assert.True(t, IsValidName("Zoë"))
	assert.False(t, IsValidName(""))
	assert.False(t, IsValidName("   "))
	assert.False(t, IsValidName(strings.Repeat("x", 101)))
	assert.Equal(t, "Bob", NormalizeName("  Bob  "))
}

func TestCodeValidation(t *testing.T) {
	assert.Equal(t, "AB12CD", NormalizeCode(" ab12cd "))
	assert.True(t, IsValidCode("AB12CD"))
	assert.False(t, IsValidCode("ab12cd"))
	assert.False(t, IsValidCode("AB12C"))
	assert.False(t, IsValidCode("AB-2CD"))
}

func TestIsValidRole(t *testing.T) {
	assert.True(t, IsValidRole(RoleStudent))
	assert.True(t, IsValidRole(RoleInstructor))
	assert.False(t, IsValidRole("admin"))
}

func TestEnvelope_RoundTripsEveryKind(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := []Event{
		QuestionLaunched{SessionID: 1, SessionQuestionIDs: []int64{10, 11, 12}},
		QuestionClosed{SessionID: 1, SessionQuestionID: 10},
		QuestionsClosedAll{SessionID: 1, SessionQuestionIDs: []int64{11, 12}},
		SessionEnded{SessionID: 1},
	}

	for i, ev := range events {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			env := NewEnvelope(ev, uint64(i+1), at)
			data, err := json.Marshal(env)
			require.NoError(t, err)

			var decoded Envelope
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, ev.Kind(), decoded.Type)
			assert.Equal(t, uint64(i+1), decoded.Seq)

			back, err := decoded.Event()
			require.NoError(t, err)
			assert.Equal(t, ev, back)
		})
	}
}

func TestEnvelope_CarriesIdentifiersOnly(t *testing.T) {
	env := NewEnvelope(SessionEnded{SessionID: 7}, 1, time.Now())
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.ElementsMatch(t, []string{"type", "session_id", "seq", "timestamp"}, keys(raw))
}

func TestEnvelope_RejectsUnknownType(t *testing.T) {
	_, err := Envelope{Type: "question-edited", SessionID: 1}.Event()
	assert.True(t, errors.Is(err, ErrMalformedEnvelope))

	_, err = Envelope{Type: EventQuestionClosed, SessionID: 1}.Event()
	assert.True(t, errors.Is(err, ErrMalformedEnvelope))
}

func TestStatusHelpers(t *testing.T) {
	s := &Session{Status: SessionStatusActive}
	assert.True(t, s.IsActive())
	s.Status = SessionStatusClosed
	assert.False(t, s.IsActive())

	q := &SessionQuestion{Status: QuestionStatusOpen}
	assert.True(t, q.IsOpen())
	q.Status = QuestionStatusClosed
	assert.False(t, q.IsOpen())
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
