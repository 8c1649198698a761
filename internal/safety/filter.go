package safety

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// SafeText replaces responses that hit a blocked category.
const SafeText = "I'm not able to help with that request. Is there something else I can help you with?"

// Blocked and warning categories.
const (
	CategoryViolence        = "violence"
	CategoryIllegalActivity = "illegal_activity"
	CategoryHateSpeech      = "hate_speech"
	CategoryPIIRequest      = "pii_request"

	CategoryMedicalAdvice   = "medical_advice"
	CategoryLegalAdvice     = "legal_advice"
	CategoryFinancialAdvice = "financial_advice"
	CategorySensitiveTopics = "sensitive_topics"
)

// FilterResult is the outcome of content filtering.
type FilterResult struct {
	Text              string   `json:"text"`
	Blocked           bool     `json:"blocked"`
	BlockedCategories []string `json:"blocked_categories,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}

// PatternSet maps a category to its regular expressions.
type PatternSet map[string][]string

// DefaultBlockedPatterns returns the built-in hard-block patterns.
func DefaultBlockedPatterns() PatternSet {
	return PatternSet{
		CategoryViolence: {
			`(?i)\b(how to|ways to|steps to|instructions to) (kill|murder|hurt|attack|stab|shoot)\b`,
			`(?i)\b(make|build|assemble) (a |an )?(bomb|explosive|pipe bomb)\b`,
		},
		CategoryIllegalActivity: {
			`(?i)\b(how to|ways to|steps to) (steal|shoplift|launder money|hack into|pick a lock to break in)\b`,
			`(?i)\b(buy|sell) (illegal )?(drugs|firearms) (online|without a license)\b`,
			`(?i)\bevade (taxes|the police|law enforcement)\b`,
		},
		CategoryHateSpeech: {
			`(?i)\b(all|those) \w+ (are|should be) (inferior|subhuman|vermin|exterminated)\b`,
		},
		CategoryPIIRequest: {
			`(?i)\b(what is|tell me|give me|send me|share) (your|their|his|her) (social security number|ssn|password|credit card number|bank account number)\b`,
		},
	}
}

// DefaultWarningPatterns returns the built-in flag-only patterns.
func DefaultWarningPatterns() PatternSet {
	return PatternSet{
		CategoryMedicalAdvice: {
			`(?i)\b(diagnos(e|is)|dosage|prescri(be|ption)|symptoms of)\b`,
		},
		CategoryLegalAdvice: {
			`(?i)\b(lawsuit|sue (them|him|her|your)|legal advice|liability)\b`,
		},
		CategoryFinancialAdvice: {
			`(?i)\b(invest(ing|ment)? in|stock tips?|guaranteed returns?|buy (stocks|crypto))\b`,
		},
		CategorySensitiveTopics: {
			`(?i)\b(suicide|self[- ]harm|abuse|depression)\b`,
		},
	}
}

type compiledSet map[string][]*regexp.Regexp

func compileSet(sets ...PatternSet) (compiledSet, error) {
	out := make(compiledSet)
	for _, set := range sets {
		for cat, patterns := range set {
			for _, p := range patterns {
				re, err := regexp.Compile(p)
				if err != nil {
					return nil, fmt.Errorf("%w: category %s: %q: %v", ErrInvalidPattern, cat, p, err)
				}
				out[cat] = append(out[cat], re)
			}
		}
	}
	return out, nil
}

func (c compiledSet) matches(text string) []string {
	var hits []string
	for cat, res := range c {
		for _, re := range res {
			if re.MatchString(text) {
				hits = append(hits, cat)
				break
			}
		}
	}
	sort.Strings(hits)
	return hits
}

// ContentFilter blocks or flags text by category. The pattern sets may be
// replaced at runtime with Apply.
type ContentFilter struct {
	mu       sync.RWMutex
	blocked  compiledSet
	warnings compiledSet
}

// NewContentFilter builds a filter from the default patterns.
func NewContentFilter() *ContentFilter {
	f := &ContentFilter{}
	if err := f.Apply(nil); err != nil {
		panic(err)
	}
	return f
}

// Apply replaces the active patterns with the defaults merged with pack.
// On error the previous patterns stay active.
func (f *ContentFilter) Apply(pack *PatternPack) error {
	blockedSets := []PatternSet{DefaultBlockedPatterns()}
	warningSets := []PatternSet{DefaultWarningPatterns()}
	if pack != nil {
		blockedSets = append(blockedSets, pack.Blocked)
		warningSets = append(warningSets, pack.Warning)
	}

	blocked, err := compileSet(blockedSets...)
	if err != nil {
		return err
	}
	warnings, err := compileSet(warningSets...)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.blocked, f.warnings = blocked, warnings
	f.mu.Unlock()
	return nil
}

// Filter substitutes SafeText for blocked text and lists warning categories.
func (f *ContentFilter) Filter(text string) FilterResult {
	f.mu.RLock()
	blocked := f.blocked.matches(text)
	warnings := f.warnings.matches(text)
	f.mu.RUnlock()

	res := FilterResult{Text: text, Warnings: warnings}
	if len(blocked) > 0 {
		res.Blocked = true
		res.BlockedCategories = blocked
		res.Text = SafeText
	}
	return res
}
