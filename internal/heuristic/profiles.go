package heuristic

import (
	"context"
	"maps"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/cmejo/AI-Scholar-sub007/internal/agent"
	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
)

const (
	// learningRate is the step of the expertise and verbosity moving averages.
	learningRate = 0.2
	// verboseRunes is the response length treated as fully verbose.
	verboseRunes = 800
	// engagementWeight is the evidence a copied response or follow-up
	// question contributes relative to an explicit rating.
	engagementWeight = 0.5
)

// kindEvidence is a Beta(alpha, beta) posterior over whether the user likes
// a kind. Both start at 1, a uniform prior.
type kindEvidence struct {
	alpha, beta float64
}

func (e kindEvidence) mean() float64 { return e.alpha / (e.alpha + e.beta) }

type profileEntry struct {
	profile  agent.Profile
	evidence map[conversation.ActionKind]*kindEvidence
}

// MemoryProfiles is an in-process ProfileProvider.
type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]*profileEntry
	now      func() time.Time
	logger   *zap.Logger
}

var _ agent.ProfileProvider = (*MemoryProfiles)(nil)

// NewMemoryProfiles returns an empty store.
func NewMemoryProfiles(logger *zap.Logger) *MemoryProfiles {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryProfiles{
		profiles: make(map[string]*profileEntry),
		now:      time.Now,
		logger:   logger,
	}
}

// GetOrCreate returns a copy of the user's profile, creating a neutral one
// on first use.
func (m *MemoryProfiles) GetOrCreate(_ context.Context, userID string) (*agent.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entryLocked(userID).snapshot(), nil
}

func (m *MemoryProfiles) entryLocked(userID string) *profileEntry {
	e, ok := m.profiles[userID]
	if !ok {
		e = &profileEntry{
			profile: agent.Profile{
				UserID:    userID,
				Expertise: 0.5,
				Verbosity: 0.5,
				UpdatedAt: m.now().UTC(),
			},
			evidence: make(map[conversation.ActionKind]*kindEvidence),
		}
		m.profiles[userID] = e
	}
	return e
}

func (e *profileEntry) snapshot() *agent.Profile {
	p := e.profile
	p.PreferredKinds = maps.Clone(e.profile.PreferredKinds)
	return &p
}

// Update folds feedback about turns of state into the user's profile.
// Events naming turns outside state are ignored.
func (m *MemoryProfiles) Update(_ context.Context, userID string, state *conversation.State, feedback []conversation.FeedbackEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryLocked(userID)
	applied := 0
	for _, ev := range feedback {
		if state == nil || ev.TurnIndex < 0 || ev.TurnIndex >= len(state.Turns) {
			continue
		}
		turn := state.Turns[ev.TurnIndex]
		if turn.Action == nil || turn.Action.Common().Strategy == agent.FallbackStrategy {
			continue
		}
		if e.observe(ev, turn) {
			applied++
		}
	}
	e.profile.Interactions++
	e.profile.UpdatedAt = m.now().UTC()

	m.logger.Debug("profile updated",
		zap.String("user_id", userID),
		zap.Int("signals", applied),
		zap.Int("interactions", e.profile.Interactions),
	)
	return nil
}

// observe applies one feedback event and reports whether it carried signal.
func (e *profileEntry) observe(ev conversation.FeedbackEvent, turn conversation.Turn) bool {
	kind := turn.Action.Kind()
	ke, ok := e.evidence[kind]
	if !ok {
		ke = &kindEvidence{alpha: 1, beta: 1}
		e.evidence[kind] = ke
	}

	var positive bool
	switch ev.Kind {
	case conversation.FeedbackRating:
		switch {
		case ev.Rating >= 4:
			ke.alpha++
			positive = true
		case ev.Rating <= 2:
			ke.beta++
		default:
			return false
		}
	case conversation.FeedbackEngagement:
		if ev.Engagement == nil || !(ev.Engagement.Copied || ev.Engagement.FollowUpQuestion) {
			return false
		}
		ke.alpha += engagementWeight
		positive = true
	default:
		return false
	}

	if e.profile.PreferredKinds == nil {
		e.profile.PreferredKinds = make(map[conversation.ActionKind]float64)
	}
	e.profile.PreferredKinds[kind] = ke.mean()

	if positive {
		switch kind {
		case conversation.KindTechnical:
			e.profile.Expertise = ema(e.profile.Expertise, 1)
		case conversation.KindExplanatory:
			e.profile.Expertise = ema(e.profile.Expertise, 0)
		}
		length := float64(utf8.RuneCountInString(turn.Response)) / verboseRunes
		e.profile.Verbosity = ema(e.profile.Verbosity, min(length, 1))
	}
	return true
}

func ema(current, target float64) float64 {
	return current + learningRate*(target-current)
}

// Purge deletes a user's profile. It has the signature of privacy.Purger;
// recordIDs are ignored because a user has at most one profile.
func (m *MemoryProfiles) Purge(_ context.Context, userID string, _ []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, userID)
	return nil
}

// Len returns the number of stored profiles.
func (m *MemoryProfiles) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles)
}
