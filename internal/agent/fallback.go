package agent

import (
	"unicode/utf8"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
)

// Fallback confidences by cause.
const (
	ErrorFallbackConfidence   = 0.3
	TimeoutFallbackConfidence = 0.2
	SafetyFallbackConfidence  = 1.0
)

// FallbackStrategy is the strategy recorded on fallback actions.
const FallbackStrategy = "fallback"

const (
	truncationMarker = "..."
	paddingText      = "Let me know if you would like me to expand on this."
)

var fallbackPools = map[string][]string{
	conversation.FallbackError: {
		"I ran into a problem putting that answer together. Could you rephrase your question?",
		"Something went wrong on my side. Could you try asking that a different way?",
		"I wasn't able to finish that response. Would you mind restating what you need?",
	},
	conversation.FallbackTimeout: {
		"That is taking me longer than expected. Could you try a shorter or more specific question?",
		"I need a bit more time than I have right now. Could you narrow the question down?",
		"Sorry, I couldn't respond in time. Please try again in a moment.",
	},
	conversation.FallbackSafety: {
		"I can't help with that, but I'm happy to help with something else.",
		"That's not something I can assist with. Is there another way I can help?",
		"I'd rather not go in that direction. What else can I help you with?",
	},
}

var fallbackConfidence = map[string]float64{
	conversation.FallbackError:   ErrorFallbackConfidence,
	conversation.FallbackTimeout: TimeoutFallbackConfidence,
	conversation.FallbackSafety:  SafetyFallbackConfidence,
}

// FallbackTexts returns the pool of texts used for cause.
func FallbackTexts(cause string) []string {
	return append([]string(nil), fallbackPools[cause]...)
}

func fallbackAction(confidence float64, text string) conversation.Action {
	return conversation.ClarifyingAction{
		ActionBase: conversation.ActionBase{
			Strategy:     FallbackStrategy,
			Confidence:   confidence,
			ResponseText: text,
		},
		Questions: 1,
	}
}

// enforceBounds truncates text above max runes (appending the marker) and
// pads it below min. A bound of zero disables that side.
func enforceBounds(text string, minLen, maxLen int) (out string, truncated, padded bool) {
	n := utf8.RuneCountInString(text)
	if maxLen > 0 && n > maxLen {
		runes := []rune(text)
		return string(runes[:maxLen]) + truncationMarker, true, false
	}
	if minLen > 0 && n < minLen {
		if text == "" {
			return paddingText, false, true
		}
		return text + " " + paddingText, false, true
	}
	return text, false, false
}
