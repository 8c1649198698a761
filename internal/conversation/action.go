package conversation

import (
	"fmt"
)

// ActionKind identifies the response style chosen by the policy.
type ActionKind string

const (
	KindTechnical   ActionKind = "technical"
	KindExplanatory ActionKind = "explanatory"
	KindCreative    ActionKind = "creative"
	KindClarifying  ActionKind = "clarifying"
	KindSupportive  ActionKind = "supportive"
	KindSummarizing ActionKind = "summarizing"
)

// ActionKinds lists every kind in the order inference distributions use.
var ActionKinds = []ActionKind{
	KindTechnical,
	KindExplanatory,
	KindCreative,
	KindClarifying,
	KindSupportive,
	KindSummarizing,
}

// Valid reports whether k is a known kind.
func (k ActionKind) Valid() bool {
	for _, known := range ActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ActionBase holds the fields every action carries.
type ActionBase struct {
	Strategy     string  `json:"strategy"`
	Confidence   float64 `json:"confidence"`
	ResponseText string  `json:"response_text,omitempty"`
}

// Common returns the shared fields.
func (b ActionBase) Common() ActionBase { return b }

// Action is a closed set of response actions. Each variant carries its own
// strategy parameters. Use a type switch over the concrete types.
type Action interface {
	Kind() ActionKind
	Common() ActionBase
	isAction()
}

// TechnicalAction answers with precise, detailed content.
type TechnicalAction struct {
	ActionBase
	DetailLevel     float64 `json:"detail_level"`
	IncludeExamples bool    `json:"include_examples"`
}

// ExplanatoryAction teaches a concept step by step.
type ExplanatoryAction struct {
	ActionBase
	Depth        int  `json:"depth"`
	UseAnalogies bool `json:"use_analogies"`
}

// CreativeAction explores ideas and alternatives.
type CreativeAction struct {
	ActionBase
	Novelty float64 `json:"novelty"`
}

// ClarifyingAction asks the user follow-up questions.
type ClarifyingAction struct {
	ActionBase
	Questions int `json:"questions"`
}

// SupportiveAction acknowledges and encourages.
type SupportiveAction struct {
	ActionBase
	Empathy float64 `json:"empathy"`
}

// SummarizingAction condenses the conversation so far.
type SummarizingAction struct {
	ActionBase
	MaxPoints int `json:"max_points"`
}

func (TechnicalAction) Kind() ActionKind   { return KindTechnical }
func (ExplanatoryAction) Kind() ActionKind { return KindExplanatory }
func (CreativeAction) Kind() ActionKind    { return KindCreative }
func (ClarifyingAction) Kind() ActionKind  { return KindClarifying }
func (SupportiveAction) Kind() ActionKind  { return KindSupportive }
func (SummarizingAction) Kind() ActionKind { return KindSummarizing }

func (TechnicalAction) isAction()   {}
func (ExplanatoryAction) isAction() {}
func (CreativeAction) isAction()    {}
func (ClarifyingAction) isAction()  {}
func (SupportiveAction) isAction()  {}
func (SummarizingAction) isAction() {}

// NewAction builds the variant for kind from the base fields and the raw
// parameter map produced by inference. Missing parameters take defaults.
func NewAction(kind ActionKind, base ActionBase, params map[string]float64) (Action, error) {
	p := func(name string, def float64) float64 {
		if v, ok := params[name]; ok {
			return v
		}
		return def
	}

	switch kind {
	case KindTechnical:
		return TechnicalAction{
			ActionBase:      base,
			DetailLevel:     clamp01(p("detail_level", 0.5)),
			IncludeExamples: p("include_examples", 0) >= 0.5,
		}, nil
	case KindExplanatory:
		return ExplanatoryAction{
			ActionBase:   base,
			Depth:        clampInt(int(p("depth", 2)), 1, 5),
			UseAnalogies: p("use_analogies", 0) >= 0.5,
		}, nil
	case KindCreative:
		return CreativeAction{ActionBase: base, Novelty: clamp01(p("novelty", 0.5))}, nil
	case KindClarifying:
		return ClarifyingAction{ActionBase: base, Questions: clampInt(int(p("questions", 1)), 1, 3)}, nil
	case KindSupportive:
		return SupportiveAction{ActionBase: base, Empathy: clamp01(p("empathy", 0.5))}, nil
	case KindSummarizing:
		return SummarizingAction{ActionBase: base, MaxPoints: clampInt(int(p("max_points", 3)), 1, 10)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionKind, kind)
	}
}

// WithResponseText returns a copy of a with the rendered text set.
func WithResponseText(a Action, text string) Action {
	switch v := a.(type) {
	case TechnicalAction:
		v.ResponseText = text
		return v
	case ExplanatoryAction:
		v.ResponseText = text
		return v
	case CreativeAction:
		v.ResponseText = text
		return v
	case ClarifyingAction:
		v.ResponseText = text
		return v
	case SupportiveAction:
		v.ResponseText = text
		return v
	case SummarizingAction:
		v.ResponseText = text
		return v
	default:
		panic(fmt.Sprintf("conversation: unhandled action type %T", a))
	}
}

// WithConfidence returns a copy of a with the confidence set.
func WithConfidence(a Action, confidence float64) Action {
	switch v := a.(type) {
	case TechnicalAction:
		v.Confidence = confidence
		return v
	case ExplanatoryAction:
		v.Confidence = confidence
		return v
	case CreativeAction:
		v.Confidence = confidence
		return v
	case ClarifyingAction:
		v.Confidence = confidence
		return v
	case SupportiveAction:
		v.Confidence = confidence
		return v
	case SummarizingAction:
		v.Confidence = confidence
		return v
	default:
		panic(fmt.Sprintf("conversation: unhandled action type %T", a))
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
