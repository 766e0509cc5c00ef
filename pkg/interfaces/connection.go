package interfaces

// Connection is one live client transport attached to a session.
// Implementations must be safe for concurrent use; writes are serialized internally.
type Connection interface {
	// Send queues v for delivery without blocking. A full or closed
	// connection returns an error and the payload is dropped.
	Send(v interface{}) error

	// Evict queues v, then a close frame, then closes the transport.
	Evict(v interface{}, reason string) error

	// Close tears the transport down immediately.
	Close() error

	GetClientID() string
	GetName() string
	GetRole() string
	GetSessionID() int64
}
