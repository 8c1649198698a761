package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for unknown or evicted session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidState is returned when a turn is submitted to a session that
	// can no longer accept one.
	ErrInvalidState = errors.New("session is not active")

	// ErrRateLimited is returned when a user exceeds the turn rate.
	ErrRateLimited = errors.New("turn rate limit exceeded")

	// ErrInvalidTransition is the cause of every TransitionError.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// TransitionError reports a rejected state change.
type TransitionError struct {
	SessionID string
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s: cannot transition from %s to %s", e.SessionID, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
