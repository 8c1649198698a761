// Package experience stores scored interactions for later policy training.
//
// Three tiers are kept. The main PrioritizedBuffer holds everything and is
// sampled in proportion to reward magnitude. A smaller high-quality tier
// copies experiences whose total reward clears a threshold, and a safety
// tier keeps low-safety experiences for audit only. Manager routes stores,
// mixed-tier sampling and priority updates across the tiers.
package experience

import (
	"errors"
	"time"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"github.com/cmejo/AI-Scholar-sub007/internal/reward"
	"github.com/google/uuid"
)

var (
	ErrInvalidCapacity   = errors.New("capacity must be positive")
	ErrInvalidExperience = errors.New("invalid experience")
	ErrInvalidRatio      = errors.New("quality ratio must be in [0,1]")
	ErrLengthMismatch    = errors.New("indices and td errors differ in length")
)

// Experience is one scored turn. It is treated as immutable once stored.
type Experience struct {
	ID             string
	UserID         string
	ConversationID string
	State          *conversation.State
	Action         conversation.Action
	Reward         *reward.MultiObjectiveReward
	Done           bool
	Anonymized     bool
	Timestamp      time.Time
	Metadata       map[string]string
}

// New builds an experience from a state snapshot, filling ids from state.
func New(state *conversation.State, action conversation.Action, r *reward.MultiObjectiveReward) *Experience {
	exp := &Experience{
		ID:        uuid.NewString(),
		State:     state,
		Action:    action,
		Reward:    r,
		Timestamp: time.Now().UTC(),
	}
	if state != nil {
		exp.UserID = state.UserID
		exp.ConversationID = state.ConversationID
	}
	return exp
}

func (e *Experience) validate() error {
	switch {
	case e == nil:
		return errors.Join(ErrInvalidExperience, errors.New("nil experience"))
	case e.Reward == nil:
		return errors.Join(ErrInvalidExperience, errors.New("missing reward"))
	case e.ID == "":
		return errors.Join(ErrInvalidExperience, errors.New("missing id"))
	}
	return nil
}

// Total is the reward total, or 0 without a reward.
func (e *Experience) Total() float64 {
	if e.Reward == nil {
		return 0
	}
	return e.Reward.Total()
}

// SafetyScore is the reward's safety component.
func (e *Experience) SafetyScore() float64 {
	if e.Reward == nil {
		return 0
	}
	return e.Reward.Component(reward.Safety)
}

// Buffer is the behaviour shared by every tier.
type Buffer interface {
	// Store adds exp and returns its slot and the experience it displaced.
	Store(exp *Experience) (slot int, evicted *Experience)
	// Sample draws up to n distinct experiences uniformly.
	Sample(n int) []*Experience
	Len() int
	Clear()
}
