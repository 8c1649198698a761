package heuristic

import (
	"context"
	"math"
	"regexp"

	"github.com/cmejo/AI-Scholar-sub007/internal/agent"
	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
)

// intentRule raises the score of kind when regex matches the input. Every
// matching rule contributes.
type intentRule struct {
	regex *regexp.Regexp
	kind  conversation.ActionKind
	boost float64
}

func buildIntentRules() []*intentRule {
	return []*intentRule{
		{
			regex: regexp.MustCompile(`(?i)\b(?:error|bug|stack\s*trace|compile|deploy|config(?:ure|uration)?|api|function|code|query|install|version)\b`),
			kind:  conversation.KindTechnical,
			boost: 1.5,
		},
		{
			regex: regexp.MustCompile(`(?i)\b(?:explain|why|understand|what\s+is|what\s+are|difference\s+between|how\s+does|concept)\b`),
			kind:  conversation.KindExplanatory,
			boost: 1.5,
		},
		{
			regex: regexp.MustCompile(`(?i)\b(?:imagine|brainstorm|ideas?|story|poem|creative|invent|what\s+if)\b`),
			kind:  conversation.KindCreative,
			boost: 1.8,
		},
		{
			regex: regexp.MustCompile(`(?i)\b(?:frustrated|stressed|anxious|worried|overwhelmed|sad|upset|stuck|give\s+up)\b`),
			kind:  conversation.KindSupportive,
			boost: 2.0,
		},
		{
			regex: regexp.MustCompile(`(?i)\b(?:summari[sz]e|recap|tl;?dr|so\s+far|key\s+points)\b`),
			kind:  conversation.KindSummarizing,
			boost: 2.5,
		},
	}
}

var basePriors = map[conversation.ActionKind]float64{
	conversation.KindTechnical:   1.0,
	conversation.KindExplanatory: 1.0,
	conversation.KindCreative:    0.4,
	conversation.KindClarifying:  0.5,
	conversation.KindSupportive:  0.4,
	conversation.KindSummarizing: 0.1,
}

const (
	// longConversation is the turn count after which summarizing is favoured.
	longConversation = 8
	// repeatRun is how many identical consecutive kinds trigger a penalty.
	repeatRun     = 3
	repeatPenalty = 0.8
)

// Policy is a rule-based Inference. Scores from priors, intent rules,
// features and learned preferences are turned into a distribution with a
// softmax.
type Policy struct {
	rules       []*intentRule
	temperature float64
}

// NewPolicy returns a Policy. temperature <= 0 means 1.
func NewPolicy(temperature float64) *Policy {
	if temperature <= 0 {
		temperature = 1
	}
	return &Policy{rules: buildIntentRules(), temperature: temperature}
}

var _ agent.Inference = (*Policy)(nil)

// Infer implements agent.Inference.
func (p *Policy) Infer(ctx context.Context, f agent.Features) (*agent.InferenceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores := make(map[conversation.ActionKind]float64, len(basePriors))
	for k, v := range basePriors {
		scores[k] = v
	}
	supportive := false
	for _, r := range p.rules {
		if r.regex.MatchString(f.Input) {
			scores[r.kind] += r.boost
			if r.kind == conversation.KindSupportive {
				supportive = true
			}
		}
	}

	if f.IsQuestion {
		scores[conversation.KindTechnical] += f.Expertise
		scores[conversation.KindExplanatory] += 1 - f.Expertise
	} else if f.InputLength < 12 {
		scores[conversation.KindClarifying] += 1
	}
	if f.TurnCount >= longConversation {
		scores[conversation.KindSummarizing] += 1
	}
	if k, ok := repeated(f.RecentKinds); ok {
		scores[k] -= repeatPenalty
	}
	for k, pref := range f.Preferences {
		if _, known := scores[k]; known {
			scores[k] += pref - 0.5
		}
	}

	probs := softmax(scores, p.temperature)
	value := 0.0
	for _, v := range probs {
		value = math.Max(value, v)
	}

	return &agent.InferenceResult{
		ActionProbs:   probs,
		StrategyProbs: strategies(f),
		Params:        params(f, supportive),
		Value:         value,
	}, nil
}

// repeated reports the kind filling the last repeatRun turns, if any.
func repeated(kinds []conversation.ActionKind) (conversation.ActionKind, bool) {
	if len(kinds) < repeatRun {
		return "", false
	}
	tail := kinds[len(kinds)-repeatRun:]
	for _, k := range tail[1:] {
		if k != tail[0] {
			return "", false
		}
	}
	return tail[0], true
}

func softmax(scores map[conversation.ActionKind]float64, temperature float64) map[conversation.ActionKind]float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		maxScore = math.Max(maxScore, s)
	}
	out := make(map[conversation.ActionKind]float64, len(scores))
	var sum float64
	for k, s := range scores {
		e := math.Exp((s - maxScore) / temperature)
		out[k] = e
		sum += e
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

func strategies(f agent.Features) map[string]float64 {
	s := map[string]float64{
		"concise":  1.1 - f.Verbosity,
		"detailed": 0.1 + f.Verbosity,
		"stepwise": 0.2,
	}
	if f.IsQuestion {
		s["stepwise"] = 0.6
	}
	return s
}

func params(f agent.Features, supportive bool) map[string]float64 {
	p := map[string]float64{
		"detail_level": 0.3 + 0.6*f.Expertise,
		"depth":        math.Round(1 + 3*(1-f.Expertise)),
		"novelty":      0.6,
		"questions":    1,
		"empathy":      0.5,
		"max_points":   3,
	}
	if f.Verbosity >= 0.5 {
		p["include_examples"] = 1
	}
	if f.Expertise < 0.5 {
		p["use_analogies"] = 1
	}
	if f.InputLength < 6 {
		p["questions"] = 2
	}
	if supportive {
		p["empathy"] = 0.9
	}
	if f.TurnCount >= longConversation {
		p["max_points"] = 5
	}
	return p
}
