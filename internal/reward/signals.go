package reward

import (
	"strings"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
)

// signals is the feedback for one turn, grouped by kind.
type signals struct {
	ratings    []int
	texts      []string
	engagement []conversation.Engagement
	quality    map[string][]float64
}

func collectSignals(feedback []conversation.FeedbackEvent, quality map[string]float64) signals {
	s := signals{quality: make(map[string][]float64)}
	for _, ev := range feedback {
		switch ev.Kind {
		case conversation.FeedbackRating:
			if ev.Rating >= 1 && ev.Rating <= 5 {
				s.ratings = append(s.ratings, ev.Rating)
			}
		case conversation.FeedbackText:
			if t := strings.TrimSpace(ev.Text); t != "" {
				s.texts = append(s.texts, strings.ToLower(t))
			}
		case conversation.FeedbackEngagement:
			if ev.Engagement != nil {
				s.engagement = append(s.engagement, *ev.Engagement)
			}
		case conversation.FeedbackQuality:
			for k, v := range ev.Quality {
				s.quality[k] = append(s.quality[k], v)
			}
		}
	}
	for k, v := range quality {
		s.quality[k] = append(s.quality[k], v)
	}
	return s
}

// kinds counts how many distinct signal kinds are present.
func (s signals) kinds() int {
	n := 0
	for _, present := range []bool{
		len(s.ratings) > 0,
		len(s.texts) > 0,
		len(s.engagement) > 0,
		len(s.quality) > 0,
	} {
		if present {
			n++
		}
	}
	return n
}

// qualityScore averages every observation under any of keys.
func (s signals) qualityScore(keys ...string) (float64, bool) {
	var sum float64
	var n int
	for _, k := range keys {
		for _, v := range s.quality[k] {
			sum += clamp01(v)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (s signals) followUp() bool {
	for _, e := range s.engagement {
		if e.FollowUpQuestion {
			return true
		}
	}
	return false
}

// engagementScore averages per-event engagement, each event combining
// time on response (saturating at 60s), follow-up, copy, and scroll depth.
func (s signals) engagementScore() (float64, bool) {
	if len(s.engagement) == 0 {
		return 0, false
	}
	var sum float64
	for _, e := range s.engagement {
		score := 0.4 * clamp01(e.TimeOnResponseSeconds/60)
		if e.FollowUpQuestion {
			score += 0.3
		}
		if e.Copied {
			score += 0.15
		}
		score += 0.15 * clamp01(e.ScrollDepth)
		sum += score
	}
	return clamp01(sum / float64(len(s.engagement))), true
}

// keywordHits counts text feedback entries containing any of words.
func (s signals) keywordHits(words []string) int {
	hits := 0
	for _, t := range s.texts {
		for _, w := range words {
			if strings.Contains(t, w) {
				hits++
				break
			}
		}
	}
	return hits
}
