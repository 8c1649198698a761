package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"regexp"
	"strings"
	"sync"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"github.com/cmejo/AI-Scholar-sub007/internal/experience"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// Replacement tokens for scrubbed PII.
const (
	TokenEmail      = "[EMAIL]"
	TokenPhone      = "[PHONE]"
	TokenSSN        = "[SSN]"
	TokenCreditCard = "[CREDIT_CARD]"
	TokenAddress    = "[ADDRESS]"
	TokenName       = "[NAME]"
	TokenSecret     = "[SECRET]"
)

type piiRule struct {
	re   *regexp.Regexp
	repl string
}

// piiRules run in order; cards and SSNs go before phones so their digit
// runs are not claimed by the looser phone pattern.
var piiRules = []piiRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), TokenEmail},
	{regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{1,4}\b`), TokenCreditCard},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), TokenSSN},
	{regexp.MustCompile(`(?:\+?1[-.\s]?)?(?:\(\d{3}\)\s?|\b\d{3}[-.\s])\d{3}[-.\s]\d{4}\b`), TokenPhone},
	{regexp.MustCompile(`\b\d{1,5}\s+(?:[A-Z][a-z]+\s+){1,3}(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way|Place|Pl)\b\.?`), TokenAddress},
	{regexp.MustCompile(`(?i)\b(my name is)\s+[a-z][a-z'-]*(?:\s+[a-z][a-z'-]*)?`), "$1 " + TokenName},
}

// SecretScrubber replaces credentials in text.
type SecretScrubber interface {
	Scrub(text string) (string, int)
}

// GitleaksScrubber replaces anything the default gitleaks ruleset reports
// as a secret with TokenSecret.
type GitleaksScrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewGitleaksScrubber loads the default gitleaks rules.
func NewGitleaksScrubber() (*GitleaksScrubber, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}
	return &GitleaksScrubber{detector: d}, nil
}

func (g *GitleaksScrubber) Scrub(text string) (string, int) {
	if text == "" {
		return text, 0
	}
	g.mu.Lock()
	findings := g.detector.DetectString(text)
	g.mu.Unlock()

	n := 0
	for _, f := range findings {
		if f.Secret == "" || !strings.Contains(text, f.Secret) {
			continue
		}
		text = strings.ReplaceAll(text, f.Secret, TokenSecret)
		n++
	}
	return text, n
}

// Anonymizer pseudonymizes user ids and scrubs free text.
type Anonymizer struct {
	salt     []byte
	scrubber SecretScrubber

	mu   sync.Mutex
	keys map[string]string
}

// NewAnonymizer hashes ids with salt. scrubber may be nil.
func NewAnonymizer(salt string, scrubber SecretScrubber) *Anonymizer {
	return &Anonymizer{salt: []byte(salt), scrubber: scrubber, keys: make(map[string]string)}
}

// UserID returns the deterministic pseudonym for id and remembers the
// mapping until Forget.
func (a *Anonymizer) UserID(id string) string {
	anon := a.Pseudonym(id)
	a.mu.Lock()
	a.keys[id] = anon
	a.mu.Unlock()
	return anon
}

// Pseudonym computes the pseudonym for id without recording it.
func (a *Anonymizer) Pseudonym(id string) string {
	h := sha256.New()
	h.Write(a.salt)
	h.Write([]byte(id))
	return "anon_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Known returns the pseudonym recorded for id.
func (a *Anonymizer) Known(id string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	anon, ok := a.keys[id]
	return anon, ok
}

// Forget drops the recorded pseudonym for id.
func (a *Anonymizer) Forget(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.keys[id]
	delete(a.keys, id)
	return ok
}

// Text substitutes PII tokens and scrubs secrets.
func (a *Anonymizer) Text(s string) string {
	if s == "" {
		return s
	}
	for _, r := range piiRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	if a.scrubber != nil {
		s, _ = a.scrubber.Scrub(s)
	}
	return s
}

// Experience returns an anonymized copy of exp. The input is not modified.
func (a *Anonymizer) Experience(exp *experience.Experience) *experience.Experience {
	out := *exp
	out.UserID = a.UserID(exp.UserID)
	out.Metadata = maps.Clone(exp.Metadata)
	out.Anonymized = true
	if exp.Action != nil {
		out.Action = conversation.WithResponseText(exp.Action, a.Text(exp.Action.Common().ResponseText))
	}
	if exp.State != nil {
		st := exp.State.Snapshot()
		st.UserID = out.UserID
		st.Metadata = a.metadata(st.Metadata)
		for i := range st.Turns {
			st.Turns[i].Input = a.Text(st.Turns[i].Input)
			st.Turns[i].Response = a.Text(st.Turns[i].Response)
			if st.Turns[i].Action != nil {
				st.Turns[i].Action = conversation.WithResponseText(st.Turns[i].Action,
					a.Text(st.Turns[i].Action.Common().ResponseText))
			}
		}
		out.State = st
	}
	return &out
}

// metadata scrubs string values and keeps scalar flags. Anything else may
// carry nested free text and is dropped.
func (a *Anonymizer) metadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case string:
			out[k] = a.Text(v)
		case bool, int, int64, float64:
			out[k] = v
		}
	}
	return out
}
