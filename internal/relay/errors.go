package relay

import (
	"errors"
	"fmt"
)

// Sentinel errors for common registry and session error conditions.
var (
	// ErrServerClosed is returned by Serve after Shutdown closes the listener.
	ErrServerClosed = errors.New("relay: server closed")

	// ErrSessionClosed is returned when an operation is attempted on a closed session.
	ErrSessionClosed = errors.New("relay: session closed")

	// ErrDuplicateID is returned when registering a client ID that already exists.
	ErrDuplicateID = errors.New("relay: duplicate client id")

	// ErrNotFound is returned when a client ID does not exist in the registry.
	ErrNotFound = errors.New("relay: client not found")

	// ErrOutboxFull is returned when a session's outbound queue is full and a
	// message is dropped. The session is treated as unreachable after this.
	ErrOutboxFull = errors.New("relay: outbound queue full")

	// ErrInvalidHandshake is returned when the handshake exchange fails.
	ErrInvalidHandshake = errors.New("relay: invalid handshake")

	// ErrMaxClientsReached is returned when the client limit is reached.
	ErrMaxClientsReached = errors.New("relay: max clients reached")
)

// SessionError wraps an error with client context for debugging.
type SessionError struct {
	ClientID string
	Op       string // Operation that failed
	Err      error  // Underlying error
}

// Error returns the error message with client context.
func (e *SessionError) Error() string {
	if e.ClientID == "" {
		return fmt.Sprintf("relay: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("relay: client %s: %s: %v", e.ClientID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(clientID, op string, err error) *SessionError {
	return &SessionError{
		ClientID: clientID,
		Op:       op,
		Err:      err,
	}
}
