package privacy

import (
	"sort"
	"sync"
	"time"
)

// DefaultRetentionBase is the conversation-content TTL.
const DefaultRetentionBase = 90 * 24 * time.Hour

// retentionMultipliers scale the base TTL per category.
var retentionMultipliers = map[DataCategory]float64{
	ConversationContent: 1,
	ProfileData:         2,
	BehavioralPatterns:  0.5,
	Metrics:             3,
}

// RetentionPolicy derives per-category TTLs from a base period.
type RetentionPolicy struct {
	Base time.Duration
}

// TTL returns how long data in c is kept.
func (p RetentionPolicy) TTL(c DataCategory) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultRetentionBase
	}
	m, ok := retentionMultipliers[c]
	if !ok {
		m = 1
	}
	return time.Duration(float64(base) * m)
}

// CleanupRecord schedules the purge of one stored item.
type CleanupRecord struct {
	RecordID  string       `json:"record_id"`
	UserID    string       `json:"user_id"`
	Category  DataCategory `json:"category"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// schedule holds pending cleanups indexed by record id and user.
type schedule struct {
	mu      sync.Mutex
	records map[string]CleanupRecord
	byUser  map[string]map[string]struct{}
}

func newSchedule() *schedule {
	return &schedule{
		records: make(map[string]CleanupRecord),
		byUser:  make(map[string]map[string]struct{}),
	}
}

func (s *schedule) add(r CleanupRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.RecordID] = r
	ids, ok := s.byUser[r.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[r.UserID] = ids
	}
	ids[r.RecordID] = struct{}{}
}

func (s *schedule) removeLocked(r CleanupRecord) {
	delete(s.records, r.RecordID)
	if ids, ok := s.byUser[r.UserID]; ok {
		delete(ids, r.RecordID)
		if len(ids) == 0 {
			delete(s.byUser, r.UserID)
		}
	}
}

// cancel removes the records with the given ids and returns how many
// existed.
func (s *schedule) cancel(recordIDs ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range recordIDs {
		if r, ok := s.records[id]; ok {
			s.removeLocked(r)
			n++
		}
	}
	return n
}

// due removes and returns records expired at now, oldest first.
func (s *schedule) due(now time.Time) []CleanupRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CleanupRecord
	for _, r := range s.records {
		if !r.ExpiresAt.After(now) {
			out = append(out, r)
		}
	}
	for _, r := range out {
		s.removeLocked(r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

// cancelUser removes and returns every record of userID.
func (s *schedule) cancelUser(userID string) []CleanupRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CleanupRecord
	for id := range s.byUser[userID] {
		out = append(out, s.records[id])
	}
	for _, r := range out {
		s.removeLocked(r)
	}
	return out
}

func (s *schedule) forUser(userID string) []CleanupRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CleanupRecord, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		out = append(out, s.records[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

func (s *schedule) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
