package interfaces

import "errors"

// Error taxonomy shared by every component. Packages wrap these with
// their own sentinels; callers classify with errors.Is.
var (
	// ErrNotFound: the referenced session, question, template or collection does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState: the transition is not allowed from the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrUpstreamFailure: a collaborator (grading) failed or timed out. Retryable.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrTransport: a send to a client failed. Never surfaced to callers.
	ErrTransport = errors.New("transport error")

	// ErrConflict: the request collides with existing state.
	ErrConflict = errors.New("conflict")
)

// kindError is a specific error that classifies as one of the taxonomy sentinels.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// NewError returns an error with message msg for which errors.Is(err, kind) holds.
func NewError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}
