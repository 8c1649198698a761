package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
)

// Info is a point-in-time view of a session.
type Info struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Status         Status    `json:"status"`
	TurnCount      int       `json:"turn_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	EndReason      string    `json:"end_reason,omitempty"`
}

// Session is one user's conversation. The live state is only touched by
// the turn holding turnMu; everything else reads the snapshot taken after
// each turn.
type Session struct {
	id             string
	userID         string
	conversationID string
	createdAt      time.Time

	turnMu sync.Mutex
	state  *conversation.State

	mu           sync.Mutex
	status       Status
	lastActivity time.Time
	turns        int
	endReason    string
	snapshot     *conversation.State
	evicted      bool
}

func newSession(id string, state *conversation.State, now time.Time) *Session {
	return &Session{
		id:             id,
		userID:         state.UserID,
		conversationID: state.ConversationID,
		createdAt:      now,
		state:          state,
		status:         StatusActive,
		lastActivity:   now,
		snapshot:       state.Snapshot(),
	}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) UserID() string         { return s.userID }
func (s *Session) ConversationID() string { return s.conversationID }

// Info returns a snapshot of the session's metadata.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() Info {
	return Info{
		ID:             s.id,
		UserID:         s.userID,
		ConversationID: s.conversationID,
		Status:         s.status,
		TurnCount:      s.turns,
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
		EndReason:      s.endReason,
	}
}

// State returns a copy of the conversation as of the last completed turn.
func (s *Session) State() *conversation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Snapshot()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// transitionLocked validates and applies a state transition.
func (s *Session) transitionLocked(to Status) error {
	if !s.status.CanTransitionTo(to) {
		return &TransitionError{SessionID: s.id, From: s.status, To: to}
	}
	s.status = to
	return nil
}

// activate marks the session busy at now, reviving an IDLE session.
func (s *Session) activate(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusIdle {
		if err := s.transitionLocked(StatusActive); err != nil {
			return err
		}
	}
	if s.status != StatusActive {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidState, s.id, s.status)
	}
	s.lastActivity = now
	return nil
}

// completeTurn records a finished turn. Called with turnMu held.
func (s *Session) completeTurn(now time.Time) {
	snap := s.state.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = s.state.TurnCount()
	s.lastActivity = now
	s.snapshot = snap
}
