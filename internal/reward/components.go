package reward

import (
	"strings"
	"unicode/utf8"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
)

var (
	negativeAccuracyWords = []string{"wrong", "incorrect", "inaccurate", "not true", "mistake"}
	positiveAccuracyWords = []string{"correct", "accurate", "exactly right"}
	learningWords         = []string{"understand", "makes sense", "learned", "clear now", "got it"}
	unsafeMarkers         = []string{"kill", "weapon", "bomb", "suicide", "hate ", "steal", "hack into"}
)

// scorer holds the inputs shared by every component heuristic.
type scorer struct {
	state    *conversation.State
	action   conversation.Action
	text     string
	sig      signals
	bandLow  int
	bandHigh int
}

func (s *scorer) score() map[Component]float64 {
	return map[Component]float64{
		Helpfulness:     clamp01(s.helpfulness()),
		Accuracy:        clamp01(s.accuracy()),
		Engagement:      clamp01(s.engagement()),
		Safety:          clamp01(s.safety()),
		Learning:        clamp01(s.learning()),
		Personalization: clamp01(s.personalization()),
		Efficiency:      clamp01(s.efficiency()),
		Creativity:      clamp01(s.creativity()),
	}
}

// helpfulness takes the best explicit rating rather than the average.
func (s *scorer) helpfulness() float64 {
	explicit, hasExplicit := 0.0, len(s.sig.ratings) > 0
	for _, r := range s.sig.ratings {
		if v := float64(r-1) / 4; v > explicit {
			explicit = v
		}
	}
	eng, hasEng := s.sig.engagementScore()

	var score float64
	switch {
	case hasExplicit && hasEng:
		score = 0.7*explicit + 0.3*eng
	case hasExplicit:
		score = explicit
	case hasEng:
		score = eng
	default:
		score = 0.5
	}
	if s.sig.followUp() {
		score += 0.1
	}
	return score
}

func (s *scorer) accuracy() float64 {
	score, ok := s.sig.qualityScore("accuracy", "factual_accuracy")
	if !ok {
		score = 0.6
	}
	score -= 0.3 * float64(s.sig.keywordHits(negativeAccuracyWords))
	score += 0.1 * float64(s.sig.keywordHits(positiveAccuracyWords))
	return score
}

func (s *scorer) engagement() float64 {
	if v, ok := s.sig.engagementScore(); ok {
		return v
	}
	if v, ok := s.sig.qualityScore("engagement"); ok {
		return v
	}
	return 0.5
}

func (s *scorer) safety() float64 {
	if v, ok := s.sig.qualityScore("safety"); ok {
		return v
	}
	lower := strings.ToLower(s.text)
	score := 0.95
	for _, m := range unsafeMarkers {
		if strings.Contains(lower, m) {
			score -= 0.25
		}
	}
	return score
}

func (s *scorer) learning() float64 {
	if v, ok := s.sig.qualityScore("learning", "learning_effectiveness"); ok {
		return v
	}
	score := 0.5
	switch s.action.(type) {
	case conversation.ExplanatoryAction:
		score += 0.2
	case conversation.ClarifyingAction:
		score += 0.1
	case conversation.TechnicalAction, conversation.CreativeAction,
		conversation.SupportiveAction, conversation.SummarizingAction:
	}
	if s.sig.keywordHits(learningWords) > 0 {
		score += 0.2
	}
	return score
}

func (s *scorer) personalization() float64 {
	if v, ok := s.sig.qualityScore("personalization"); ok {
		return v
	}
	if s.state != nil {
		if applied, _ := s.state.Metadata[conversation.StatePersonalized].(bool); applied {
			return 0.6
		}
	}
	return 0.5
}

// efficiency is 1 inside the optimal length band and falls off linearly
// outside it.
func (s *scorer) efficiency() float64 {
	n := utf8.RuneCountInString(s.text)
	switch {
	case n < s.bandLow:
		return float64(n) / float64(s.bandLow)
	case n > s.bandHigh:
		return 1 - float64(n-s.bandHigh)/2000
	default:
		return 1
	}
}

func (s *scorer) creativity() float64 {
	diversity := lexicalDiversity(s.text)
	switch a := s.action.(type) {
	case conversation.CreativeAction:
		return 0.3 + 0.5*diversity + 0.2*a.Novelty
	case conversation.TechnicalAction, conversation.ExplanatoryAction,
		conversation.ClarifyingAction, conversation.SupportiveAction,
		conversation.SummarizingAction:
		return 0.6 * diversity
	default:
		return 0.6 * diversity
	}
}

func lexicalDiversity(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[strings.Trim(w, ".,!?;:\"'()")] = struct{}{}
	}
	return float64(len(unique)) / float64(len(words))
}
