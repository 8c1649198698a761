package safety

import (
	"regexp"
	"sort"
	"sync"
	"time"
)

// Detection is one harmful-content or bias match.
type Detection struct {
	Category  string    `json:"category"`
	Severity  Severity  `json:"severity"`
	Bias      bool      `json:"bias"`
	Timestamp time.Time `json:"timestamp"`
}

type harmCategory struct {
	name     string
	severity Severity
	bias     bool
	patterns []*regexp.Regexp
}

// defaultHarmCategories assigns CRITICAL to violence and self-harm, HIGH to
// illegal activity and hate speech, MEDIUM to everything else.
func defaultHarmCategories() []harmCategory {
	return []harmCategory{
		{name: "violence", severity: SeverityCritical, patterns: mustCompileAll(
			`(?i)\b(kill|murder|stab|shoot|strangle) (him|her|them|someone|people|you)\b`,
			`(?i)\b(bomb|explosive) (making|recipe|instructions)\b`,
		)},
		{name: "self_harm", severity: SeverityCritical, patterns: mustCompileAll(
			`(?i)\b(kill|hurt|harm|cut) (yourself|myself)\b`,
			`(?i)\b(ways|methods|how) to (commit suicide|end (my|your) life)\b`,
		)},
		{name: "illegal_activity", severity: SeverityHigh, patterns: mustCompileAll(
			`(?i)\b(steal|shoplift|launder|counterfeit|smuggle)\w*\b`,
			`(?i)\bhack(ing)? into\b`,
		)},
		{name: "hate_speech", severity: SeverityHigh, patterns: mustCompileAll(
			`(?i)\b(subhuman|vermin|inferior race)\b`,
		)},
		{name: "harassment", severity: SeverityMedium, patterns: mustCompileAll(
			`(?i)\b(you are|you're) (stupid|worthless|pathetic|an idiot)\b`,
		)},
		{name: "gender_bias", severity: SeverityMedium, bias: true, patterns: mustCompileAll(
			`(?i)\b(women|girls) (are|tend to be) (bad|worse|too emotional)\b`,
			`(?i)\b(men|boys) (don'?t|do not|can'?t) (cry|feel|nurture)\b`,
		)},
		{name: "racial_bias", severity: SeverityMedium, bias: true, patterns: mustCompileAll(
			`(?i)\b(people of|those) (that race|color) (are|tend to)\b`,
		)},
		{name: "age_bias", severity: SeverityMedium, bias: true, patterns: mustCompileAll(
			`(?i)\b(old|elderly|older) (people|workers) (can'?t|cannot|are too slow to)\b`,
			`(?i)\b(millennials|boomers|young people) are (all )?(lazy|entitled|useless)\b`,
		)},
	}
}

// HarmDetector matches categorized patterns and keeps a bounded history of
// detections for trend reporting.
type HarmDetector struct {
	categories []harmCategory
	limit      int

	mu      sync.Mutex
	history []Detection
}

// NewHarmDetector keeps at most historyLimit detections.
func NewHarmDetector(historyLimit int) *HarmDetector {
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &HarmDetector{categories: defaultHarmCategories(), limit: historyLimit}
}

// Detect returns one detection per matching category and records them.
func (d *HarmDetector) Detect(text string, now time.Time) []Detection {
	var found []Detection
	for _, c := range d.categories {
		for _, re := range c.patterns {
			if re.MatchString(text) {
				found = append(found, Detection{Category: c.name, Severity: c.severity, Bias: c.bias, Timestamp: now})
				break
			}
		}
	}
	if len(found) == 0 {
		return nil
	}

	d.mu.Lock()
	d.history = append(d.history, found...)
	if over := len(d.history) - d.limit; over > 0 {
		d.history = append(d.history[:0:0], d.history[over:]...)
	}
	d.mu.Unlock()

	sort.SliceStable(found, func(i, j int) bool { return found[i].Severity > found[j].Severity })
	return found
}

// Counts returns detections per category currently in history.
func (d *HarmDetector) Counts() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int)
	for _, det := range d.history {
		out[det.Category]++
	}
	return out
}

// Len returns the history size.
func (d *HarmDetector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history)
}

// prune drops history entries older than cutoff.
func (d *HarmDetector) prune(cutoff time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.history[:0]
	for _, det := range d.history {
		if !det.Timestamp.Before(cutoff) {
			kept = append(kept, det)
		}
	}
	removed := len(d.history) - len(kept)
	d.history = kept
	return removed
}
