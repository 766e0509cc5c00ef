package types

import (
	"fmt"
	"time"
)

// EventKind names one of the four question lifecycle notifications.
type EventKind string

const (
	EventQuestionLaunched   EventKind = "question-launched"
	EventQuestionClosed     EventKind = "question-closed"
	EventQuestionsClosedAll EventKind = "questions-closed-all"
	EventSessionEnded       EventKind = "session-ended"
)

// Event is a closed set of lifecycle notifications. Events are dirty
// signals: they carry identifiers only and receivers must re-read state.
type Event interface {
	Kind() EventKind
	Session() int64
	isEvent()
}

// QuestionLaunched is published once per launchQuestion or launchCollection call.
type QuestionLaunched struct {
	SessionID          int64
	SessionQuestionIDs []int64
}

// QuestionClosed is published when a single question is closed.
type QuestionClosed struct {
	SessionID         int64
	SessionQuestionID int64
}

// QuestionsClosedAll is published once when a close-all actually closed something.
type QuestionsClosedAll struct {
	SessionID          int64
	SessionQuestionIDs []int64
}

// SessionEnded is published once when a session is closed. Receivers are evicted.
type SessionEnded struct {
	SessionID int64
}

func (e QuestionLaunched) Kind() EventKind   { return EventQuestionLaunched }
func (e QuestionClosed) Kind() EventKind     { return EventQuestionClosed }
func (e QuestionsClosedAll) Kind() EventKind { return EventQuestionsClosedAll }
func (e SessionEnded) Kind() EventKind       { return EventSessionEnded }

func (e QuestionLaunched) Session() int64   { return e.SessionID }
func (e QuestionClosed) Session() int64     { return e.SessionID }
func (e QuestionsClosedAll) Session() int64 { return e.SessionID }
func (e SessionEnded) Session() int64       { return e.SessionID }

func (QuestionLaunched) isEvent()   {}
func (QuestionClosed) isEvent()     {}
func (QuestionsClosedAll) isEvent() {}
func (SessionEnded) isEvent()       {}

// Envelope is the websocket wire form of an Event.
type Envelope struct {
	Type               EventKind `json:"type"`
	SessionID          int64     `json:"session_id"`
	SessionQuestionIDs []int64   `json:"session_question_ids,omitempty"`
	Seq                uint64    `json:"seq"`
	Timestamp          time.Time `json:"timestamp"`
}

// NewEnvelope stamps an event for delivery.
func NewEnvelope(e Event, seq uint64, at time.Time) Envelope {
	env := Envelope{
		Type:      e.Kind(),
		SessionID: e.Session(),
		Seq:       seq,
		Timestamp: at,
	}
	switch ev := e.(type) {
	case QuestionLaunched:
		env.SessionQuestionIDs = ev.SessionQuestionIDs
	case QuestionClosed:
		env.SessionQuestionIDs = []int64{ev.SessionQuestionID}
	case QuestionsClosedAll:
		env.SessionQuestionIDs = ev.SessionQuestionIDs
	}
	return env
}

// Event decodes the envelope back into its typed variant.
func (env Envelope) Event() (Event, error) {
	switch env.Type {
	case EventQuestionLaunched:
		return QuestionLaunched{SessionID: env.SessionID, SessionQuestionIDs: env.SessionQuestionIDs}, nil
	case EventQuestionClosed:
		if len(env.SessionQuestionIDs) != 1 {
			return nil, fmt.Errorf("%w: question-closed needs exactly one id", ErrMalformedEnvelope)
		}
		return QuestionClosed{SessionID: env.SessionID, SessionQuestionID: env.SessionQuestionIDs[0]}, nil
	case EventQuestionsClosedAll:
		return QuestionsClosedAll{SessionID: env.SessionID, SessionQuestionIDs: env.SessionQuestionIDs}, nil
	case EventSessionEnded:
		return SessionEnded{SessionID: env.SessionID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, env.Type)
	}
}
