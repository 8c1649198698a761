package conversation

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// StatePersonalized is the metadata key set when a user profile shaped the
// latest response.
const StatePersonalized = "personalized"

// Turn is one user input and the response produced for it. Turns are not
// modified after they are appended.
type Turn struct {
	Input     string    `json:"input"`
	Response  string    `json:"response"`
	Action    Action    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the conversation owned by a single session. Only the decision
// pipeline mutates it, and only while holding the session's turn lock.
type State struct {
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	Domain         string         `json:"domain,omitempty"`
	Turns          []Turn         `json:"turns"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewState starts an empty conversation for userID.
func NewState(userID, domain string) *State {
	return &State{
		UserID:         userID,
		ConversationID: uuid.NewString(),
		Domain:         domain,
		Metadata:       make(map[string]any),
		CreatedAt:      time.Now().UTC(),
	}
}

// Append adds a completed turn.
func (s *State) Append(t Turn) {
	s.Turns = append(s.Turns, t)
}

func (s *State) TurnCount() int {
	return len(s.Turns)
}

// LastTurn returns the most recent turn, if any.
func (s *State) LastTurn() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// RecentKinds returns the action kinds of the last n turns, oldest first.
func (s *State) RecentKinds(n int) []ActionKind {
	start := len(s.Turns) - n
	if start < 0 {
		start = 0
	}
	kinds := make([]ActionKind, 0, len(s.Turns)-start)
	for _, t := range s.Turns[start:] {
		if t.Action != nil {
			kinds = append(kinds, t.Action.Kind())
		}
	}
	return kinds
}

// Snapshot returns a copy that shares nothing mutable with s. Metadata
// values are copied shallowly.
func (s *State) Snapshot() *State {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Turns = make([]Turn, len(s.Turns))
	copy(cp.Turns, s.Turns)
	cp.Metadata = maps.Clone(s.Metadata)
	if cp.Metadata == nil {
		cp.Metadata = make(map[string]any)
	}
	return &cp
}
