package websocket

import (
	"errors"

	"classpulse/pkg/interfaces"
)

// Connection-related errors. Send failures classify as transport errors.
var (
	ErrConnectionClosed = interfaces.NewError(interfaces.ErrTransport, "connection closed")
	ErrBufferFull       = interfaces.NewError(interfaces.ErrTransport, "connection write buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection              = errors.New("connection cannot be nil")
	ErrConnectionNotAuthenticated = errors.New("connection must have credentials before registration")
)

// Handler-related errors
var (
	ErrInvalidParameters = errors.New("invalid connection parameters")
)
