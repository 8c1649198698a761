package agent

import (
	"maps"
	"strings"
	"unicode/utf8"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
)

// recentWindow is how many prior action kinds are encoded.
const recentWindow = 5

var questionOpeners = []string{
	"what", "why", "how", "when", "where", "who", "which",
	"can", "could", "should", "would", "is", "are", "do", "does",
}

// EncodeFeatures builds the inference input for input within state.
// profile may be nil.
func EncodeFeatures(state *conversation.State, input string, profile *Profile) Features {
	p := Personalize(profile)
	f := Features{
		InputLength: utf8.RuneCountInString(input),
		IsQuestion:  isQuestion(input),
		Expertise:   p.Expertise,
		Verbosity:   p.Verbosity,
		Input:       input,
	}
	if p.Applied {
		f.Preferences = maps.Clone(profile.PreferredKinds)
	}
	if state != nil {
		f.TurnCount = state.TurnCount()
		f.Domain = state.Domain
		f.RecentKinds = state.RecentKinds(recentWindow)
	}
	return f
}

func isQuestion(input string) bool {
	s := strings.TrimSpace(strings.ToLower(input))
	if strings.HasSuffix(s, "?") {
		return true
	}
	first, _, _ := strings.Cut(s, " ")
	for _, w := range questionOpeners {
		if first == w {
			return true
		}
	}
	return false
}
