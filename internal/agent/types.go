package agent

import (
	"context"
	"time"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"github.com/cmejo/AI-Scholar-sub007/internal/safety"
)

// Features is the encoding of a conversation handed to inference.
type Features struct {
	TurnCount   int                       `json:"turn_count"`
	InputLength int                       `json:"input_length"`
	IsQuestion  bool                      `json:"is_question"`
	Domain      string                    `json:"domain,omitempty"`
	RecentKinds []conversation.ActionKind `json:"recent_kinds,omitempty"`
	Expertise   float64                   `json:"expertise"`
	Verbosity   float64                   `json:"verbosity"`
	// Preferences maps action kinds to learned preference in [0,1].
	Preferences map[conversation.ActionKind]float64 `json:"preferences,omitempty"`
	Input       string                              `json:"-"`
}

// InferenceResult is the policy output for one turn. Distributions need not
// be normalized but must be non-negative with a positive sum.
type InferenceResult struct {
	ActionProbs   map[conversation.ActionKind]float64 `json:"action_probs"`
	StrategyProbs map[string]float64                  `json:"strategy_probs,omitempty"`
	Params        map[string]float64                  `json:"params,omitempty"`
	Value         float64                             `json:"value"`
}

// Profile is what the system knows about a user.
type Profile struct {
	UserID string `json:"user_id"`
	// Expertise and Verbosity are in [0,1]; 0.5 means no preference learned.
	Expertise      float64                             `json:"expertise"`
	Verbosity      float64                             `json:"verbosity"`
	PreferredKinds map[conversation.ActionKind]float64 `json:"preferred_kinds,omitempty"`
	Interactions   int                                 `json:"interactions"`
	UpdatedAt      time.Time                           `json:"updated_at"`
}

// Personalization is the rendering context derived from a profile.
type Personalization struct {
	Applied   bool
	Expertise float64
	Verbosity float64
}

// Personalize derives rendering hints from p. A profile without recorded
// interactions yields neutral hints with Applied unset.
func Personalize(p *Profile) Personalization {
	if p == nil || p.Interactions == 0 {
		return Personalization{Expertise: 0.5, Verbosity: 0.5}
	}
	return Personalization{Applied: true, Expertise: p.Expertise, Verbosity: p.Verbosity}
}

// Inference produces action distributions from features.
type Inference interface {
	Infer(ctx context.Context, f Features) (*InferenceResult, error)
}

// Renderer produces the response text for an action. The state ends with
// the in-progress turn, whose Response is still empty.
type Renderer interface {
	Render(ctx context.Context, action conversation.Action, state *conversation.State, p Personalization) (string, error)
}

// ProfileProvider loads and updates user profiles.
type ProfileProvider interface {
	GetOrCreate(ctx context.Context, userID string) (*Profile, error)
	Update(ctx context.Context, userID string, state *conversation.State, feedback []conversation.FeedbackEvent) error
}

// SafetyChecker evaluates a rendered response. *safety.Monitor satisfies it.
type SafetyChecker interface {
	Evaluate(ctx context.Context, text string, ec safety.EvalContext) safety.Evaluation
}

// RandSource supplies randomness for sampling and fallback selection.
// *rand.Rand from math/rand/v2 satisfies it but is not safe for concurrent
// use; the pipeline serializes access.
type RandSource interface {
	Float64() float64
	IntN(n int) int
}

var _ SafetyChecker = (*safety.Monitor)(nil)
