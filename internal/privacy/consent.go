package privacy

import (
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"
)

// ConsentLevel is an ordered permission tier.
type ConsentLevel int

const (
	ConsentNone ConsentLevel = iota
	ConsentBasic
	ConsentAnalytics
	ConsentTraining
	ConsentFull
)

var levelNames = [...]string{"NONE", "BASIC", "ANALYTICS", "TRAINING", "FULL"}

func (l ConsentLevel) String() string {
	if l < ConsentNone || l > ConsentFull {
		return fmt.Sprintf("ConsentLevel(%d)", int(l))
	}
	return levelNames[l]
}

func (l ConsentLevel) valid() bool {
	return l >= ConsentNone && l <= ConsentFull
}

// ParseConsentLevel accepts level names in any case.
func ParseConsentLevel(s string) (ConsentLevel, error) {
	for i, n := range levelNames {
		if strings.EqualFold(s, n) {
			return ConsentLevel(i), nil
		}
	}
	return ConsentNone, fmt.Errorf("%w: %q", ErrInvalidConsent, s)
}

// DataCategory groups data that shares a consent decision and a retention
// period.
type DataCategory string

const (
	ConversationContent DataCategory = "CONVERSATION_CONTENT"
	ProfileData         DataCategory = "PROFILE_DATA"
	BehavioralPatterns  DataCategory = "BEHAVIORAL_PATTERNS"
	Metrics             DataCategory = "METRICS"
)

// Categories lists every data category.
var Categories = []DataCategory{ConversationContent, ProfileData, BehavioralPatterns, Metrics}

func (c DataCategory) valid() bool {
	switch c {
	case ConversationContent, ProfileData, BehavioralPatterns, Metrics:
		return true
	}
	return false
}

// ConsentRecord is one user's decision for one category.
type ConsentRecord struct {
	UserID    string       `json:"user_id"`
	Category  DataCategory `json:"category"`
	Level     ConsentLevel `json:"level"`
	GrantedAt time.Time    `json:"granted_at"`
}

// consentStore maps user -> category -> record.
type consentStore struct {
	mu      sync.RWMutex
	records map[string]map[DataCategory]ConsentRecord
}

func newConsentStore() *consentStore {
	return &consentStore{records: make(map[string]map[DataCategory]ConsentRecord)}
}

func (s *consentStore) set(rec ConsentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCat, ok := s.records[rec.UserID]
	if !ok {
		byCat = make(map[DataCategory]ConsentRecord)
		s.records[rec.UserID] = byCat
	}
	byCat[rec.Category] = rec
}

func (s *consentStore) level(userID string, c DataCategory) ConsentLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID][c]
	if !ok {
		return ConsentNone
	}
	return rec.Level
}

func (s *consentStore) revoke(userID string, c DataCategory) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCat, ok := s.records[userID]
	if !ok {
		return false
	}
	if _, ok := byCat[c]; !ok {
		return false
	}
	delete(byCat, c)
	if len(byCat) == 0 {
		delete(s.records, userID)
	}
	return true
}

func (s *consentStore) status(userID string) map[DataCategory]ConsentLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[DataCategory]ConsentLevel, len(s.records[userID]))
	for c, rec := range s.records[userID] {
		out[c] = rec.Level
	}
	return out
}

func (s *consentStore) recordsFor(userID string) map[DataCategory]ConsentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.records[userID])
}

func (s *consentStore) deleteUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records[userID])
	delete(s.records, userID)
	return n
}
