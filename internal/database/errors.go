package database

import (
	"errors"

	"classpulse/pkg/interfaces"
)

var (
	ErrSessionNotFound    = interfaces.NewError(interfaces.ErrNotFound, "session not found")
	ErrQuestionNotFound   = interfaces.NewError(interfaces.ErrNotFound, "session question not found")
	ErrTemplateNotFound   = interfaces.NewError(interfaces.ErrNotFound, "question template not found")
	ErrCollectionNotFound = interfaces.NewError(interfaces.ErrNotFound, "collection not found")

	ErrSessionClosed  = interfaces.NewError(interfaces.ErrInvalidState, "session is closed")
	ErrQuestionClosed = interfaces.NewError(interfaces.ErrInvalidState, "session question is closed")

	ErrDuplicateResponse = interfaces.NewError(interfaces.ErrConflict, "response already recorded for this student")
	ErrDuplicateCode     = interfaces.NewError(interfaces.ErrConflict, "session code already in use")

	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)
