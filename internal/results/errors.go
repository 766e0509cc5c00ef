package results

import (
	"errors"

	"classpulse/pkg/interfaces"
)

var (
	ErrSessionNotFound   = interfaces.NewError(interfaces.ErrNotFound, "session not found")
	ErrQuestionClosed    = interfaces.NewError(interfaces.ErrInvalidState, "question is closed")
	ErrDuplicateResponse = interfaces.NewError(interfaces.ErrConflict, "response already submitted for this student")
	ErrGradingTimeout    = interfaces.NewError(interfaces.ErrUpstreamFailure, "grading timed out")
	ErrGradingFailed     = interfaces.NewError(interfaces.ErrUpstreamFailure, "grading failed")

	ErrInvalidStudentName = errors.New("student name must be 1-100 characters")
	ErrEmptyAnswer        = errors.New("answer text cannot be empty")
)
