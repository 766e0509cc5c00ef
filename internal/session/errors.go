package session

import (
	"errors"

	"classpulse/pkg/interfaces"
)

var (
	ErrSessionNotFound     = interfaces.NewError(interfaces.ErrNotFound, "session not found")
	ErrSessionEnded        = interfaces.NewError(interfaces.ErrNotFound, "session has ended")
	ErrEmptyCollection     = interfaces.NewError(interfaces.ErrNotFound, "collection has no questions")
	ErrSessionClosed       = interfaces.NewError(interfaces.ErrInvalidState, "session is closed")
	ErrQuestionClosed      = interfaces.NewError(interfaces.ErrInvalidState, "question is closed")
	ErrActiveSessionExists = interfaces.NewError(interfaces.ErrConflict, "another session is already active")
	ErrCodeExhausted       = errors.New("could not allocate a unique session code")
)
