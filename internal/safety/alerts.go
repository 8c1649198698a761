package safety

import (
	"errors"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrAlertNotFound = errors.New("alert not found")

// Severity orders alerts by urgency.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts names in any case.
func (s *Severity) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "LOW":
		*s = SeverityLow
	case "MEDIUM":
		*s = SeverityMedium
	case "HIGH":
		*s = SeverityHigh
	case "CRITICAL":
		*s = SeverityCritical
	default:
		return errors.New("unknown severity: " + string(b))
	}
	return nil
}

// AlertType classifies what raised an alert.
type AlertType string

const (
	AlertConstitutional AlertType = "constitutional_violation"
	AlertBlockedContent AlertType = "blocked_content"
	AlertHarmfulContent AlertType = "harmful_content"
	AlertBias           AlertType = "bias_detected"
	AlertRewardDrop     AlertType = "reward_drop"
	AlertRewardSpike    AlertType = "reward_spike"
	AlertLowSafety      AlertType = "low_safety"
	AlertLengthAnomaly  AlertType = "length_anomaly"
)

// Alert is a safety finding. Alerts stay active until resolved.
type Alert struct {
	ID         string            `json:"id"`
	Type       AlertType         `json:"type"`
	Severity   Severity          `json:"severity"`
	Message    string            `json:"message"`
	Context    map[string]string `json:"context,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

func newAlert(t AlertType, sev Severity, msg string, ctx map[string]string, now time.Time) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  sev,
		Message:   msg,
		Context:   ctx,
		CreatedAt: now,
	}
}

// alertStore keeps alerts in creation order.
type alertStore struct {
	mu     sync.RWMutex
	alerts []*Alert
	byID   map[string]*Alert
}

func newAlertStore() *alertStore {
	return &alertStore{byID: make(map[string]*Alert)}
}

func (s *alertStore) add(a Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	cp.Context = maps.Clone(a.Context)
	s.alerts = append(s.alerts, &cp)
	s.byID[cp.ID] = &cp
}

func (s *alertStore) resolve(id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrAlertNotFound
	}
	if !a.Resolved {
		a.Resolved = true
		a.ResolvedAt = &now
	}
	return nil
}

// active returns unresolved alerts, most severe first, then oldest first.
func (s *alertStore) active() []Alert {
	s.mu.RLock()
	out := make([]Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if !a.Resolved {
			out = append(out, copyAlert(a))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity > out[j].Severity
	})
	return out
}

func (s *alertStore) get(id string) (Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return Alert{}, false
	}
	return copyAlert(a), true
}

func (s *alertStore) all() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Alert, len(s.alerts))
	for i, a := range s.alerts {
		out[i] = copyAlert(a)
	}
	return out
}

// cleanup drops resolved alerts and any alert created before cutoff.
func (s *alertStore) cleanup(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.alerts[:0]
	removed := 0
	for _, a := range s.alerts {
		if a.Resolved || a.CreatedAt.Before(cutoff) {
			delete(s.byID, a.ID)
			removed++
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(s.alerts); i++ {
		s.alerts[i] = nil
	}
	s.alerts = kept
	return removed
}

func copyAlert(a *Alert) Alert {
	cp := *a
	cp.Context = maps.Clone(a.Context)
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return cp
}
