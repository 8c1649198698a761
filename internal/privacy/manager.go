// Package privacy gates experience storage on user consent, pseudonymizes
// and scrubs what is kept, and purges it when its retention period ends.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cmejo/AI-Scholar-sub007/internal/experience"
	"go.uber.org/zap"
)

// Store is the experience memory the manager writes through.
type Store interface {
	Store(ctx context.Context, exp *experience.Experience) error
	Remove(ctx context.Context, ids ...string) int
	RemoveUser(ctx context.Context, userID string) int
}

// Purger deletes records of a non-conversation category.
type Purger func(ctx context.Context, userID string, recordIDs []string) error

// Config controls consent enforcement, anonymization and retention.
type Config struct {
	EnforceConsent  bool
	Anonymize       bool
	ScrubSecrets    bool
	Salt            string
	RetentionBase   time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig enforces consent and anonymizes. Salt must still be set.
func DefaultConfig() Config {
	return Config{
		EnforceConsent:  true,
		Anonymize:       true,
		ScrubSecrets:    true,
		RetentionBase:   DefaultRetentionBase,
		CleanupInterval: time.Hour,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithScrubber replaces the gitleaks secret scrubber.
func WithScrubber(s SecretScrubber) Option {
	return func(m *Manager) { m.scrubber = s }
}

// DeletionReport describes what a forced deletion removed.
type DeletionReport struct {
	ConsentRecords     int
	CancelledCleanups  int
	ExperiencesRemoved int
	KeyRemoved         bool
}

// Manager wraps experience memory with consent, anonymization and
// retention.
type Manager struct {
	cfg      Config
	store    Store
	logger   *zap.Logger
	now      func() time.Time
	scrubber SecretScrubber

	consents   *consentStore
	anonymizer *Anonymizer
	policy     RetentionPolicy
	schedule   *schedule
	purgers    map[DataCategory]Purger
}

// NewManager builds a Manager over store.
func NewManager(cfg Config, store Store, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("privacy: store is required")
	}
	if cfg.Anonymize && cfg.Salt == "" {
		return nil, ErrMissingSalt
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		now:      time.Now,
		consents: newConsentStore(),
		policy:   RetentionPolicy{Base: cfg.RetentionBase},
		schedule: newSchedule(),
		purgers:  make(map[DataCategory]Purger),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.ScrubSecrets && m.scrubber == nil {
		s, err := NewGitleaksScrubber()
		if err != nil {
			return nil, fmt.Errorf("loading secret rules: %w", err)
		}
		m.scrubber = s
	}
	if !cfg.ScrubSecrets {
		m.scrubber = nil
	}
	m.anonymizer = NewAnonymizer(cfg.Salt, m.scrubber)
	return m, nil
}

// RegisterPurger routes expired records of category c to p. Must be called
// before Run.
func (m *Manager) RegisterPurger(c DataCategory, p Purger) {
	m.purgers[c] = p
}

// Anonymizer exposes the manager's anonymizer for archival.
func (m *Manager) Anonymizer() *Anonymizer {
	return m.anonymizer
}

// RequestConsent records level for userID on category c.
func (m *Manager) RequestConsent(userID string, c DataCategory, level ConsentLevel) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidConsent)
	}
	if !c.valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidConsent, c)
	}
	if !level.valid() {
		return fmt.Errorf("%w: unknown level %d", ErrInvalidConsent, int(level))
	}
	m.consents.set(ConsentRecord{UserID: userID, Category: c, Level: level, GrantedAt: m.now()})
	m.logger.Info("consent recorded", zap.String("category", string(c)), zap.Stringer("level", level))
	return nil
}

// CheckConsent reports whether the stored level for c is at least required.
// A user with no record has NONE.
func (m *Manager) CheckConsent(userID string, c DataCategory, required ConsentLevel) bool {
	return m.consents.level(userID, c) >= required
}

// Require is CheckConsent returning ErrConsentDenied on failure.
func (m *Manager) Require(userID string, c DataCategory, required ConsentLevel) error {
	if !m.CheckConsent(userID, c, required) {
		return fmt.Errorf("%w: %s requires %s", ErrConsentDenied, c, required)
	}
	return nil
}

// RevokeConsent drops the record for c, returning the user to NONE.
func (m *Manager) RevokeConsent(userID string, c DataCategory) bool {
	ok := m.consents.revoke(userID, c)
	if ok {
		m.logger.Info("consent revoked", zap.String("category", string(c)))
	}
	return ok
}

// ConsentStatus returns the user's recorded levels. It is empty for unknown
// users and after ForceDeleteUserData.
func (m *Manager) ConsentStatus(userID string) map[DataCategory]ConsentLevel {
	return m.consents.status(userID)
}

// ConsentRecords returns the user's full consent records.
func (m *Manager) ConsentRecords(userID string) map[DataCategory]ConsentRecord {
	return m.consents.recordsFor(userID)
}

// StoreExperience persists exp when consent allows, anonymizing it first
// when configured, and schedules its retention cleanup. A consent refusal
// returns false with a nil error.
func (m *Manager) StoreExperience(ctx context.Context, exp *experience.Experience) (bool, error) {
	if exp == nil {
		return false, ErrNilExperience
	}
	if m.cfg.EnforceConsent && !m.CheckConsent(exp.UserID, ConversationContent, ConsentTraining) {
		m.logger.Info("experience dropped without training consent",
			zap.String("experience_id", exp.ID))
		return false, nil
	}

	stored := exp
	if m.cfg.Anonymize {
		stored = m.anonymizer.Experience(exp)
	}
	if err := m.store.Store(ctx, stored); err != nil {
		return false, fmt.Errorf("storing experience: %w", err)
	}
	m.Schedule(exp.UserID, ConversationContent, stored.ID)
	return true, nil
}

// RemoveExperiences deletes stored experiences by id and cancels their
// retention cleanups.
func (m *Manager) RemoveExperiences(ctx context.Context, ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	m.schedule.cancel(ids...)
	return m.store.Remove(ctx, ids...)
}

// Schedule registers recordID for purge after the TTL of category c.
func (m *Manager) Schedule(userID string, c DataCategory, recordID string) CleanupRecord {
	rec := CleanupRecord{
		RecordID:  recordID,
		UserID:    userID,
		Category:  c,
		ExpiresAt: m.now().Add(m.policy.TTL(c)),
	}
	m.schedule.add(rec)
	return rec
}

// PendingCleanups lists the scheduled cleanups for userID, soonest first.
func (m *Manager) PendingCleanups(userID string) []CleanupRecord {
	return m.schedule.forUser(userID)
}

// Purge deletes every record whose retention has expired and returns the
// number of records processed.
func (m *Manager) Purge(ctx context.Context) int {
	due := m.schedule.due(m.now())
	if len(due) == 0 {
		return 0
	}
	if err := m.purge(ctx, due); err != nil {
		m.logger.Error("retention purge incomplete", zap.Error(err))
	}
	m.logger.Info("retention purge completed", zap.Int("records", len(due)))
	return len(due)
}

func (m *Manager) purge(ctx context.Context, records []CleanupRecord) error {
	var expIDs []string
	other := make(map[DataCategory]map[string][]string)
	for _, r := range records {
		if r.Category == ConversationContent {
			expIDs = append(expIDs, r.RecordID)
			continue
		}
		if other[r.Category] == nil {
			other[r.Category] = make(map[string][]string)
		}
		other[r.Category][r.UserID] = append(other[r.Category][r.UserID], r.RecordID)
	}
	if len(expIDs) > 0 {
		m.store.Remove(ctx, expIDs...)
	}

	var errs []error
	for c, byUser := range other {
		p, ok := m.purgers[c]
		if !ok {
			continue
		}
		for userID, ids := range byUser {
			if err := p(ctx, userID, ids); err != nil {
				errs = append(errs, fmt.Errorf("purging %s: %w", c, err))
			}
		}
	}
	return errors.Join(errs...)
}

// ForceDeleteUserData removes everything held about userID before
// returning: scheduled cleanups, consent records, the pseudonym mapping and
// stored experiences under both the raw and pseudonymous ids.
func (m *Manager) ForceDeleteUserData(ctx context.Context, userID string) (DeletionReport, error) {
	var rep DeletionReport

	cancelled := m.schedule.cancelUser(userID)
	rep.CancelledCleanups = len(cancelled)
	rep.ConsentRecords = m.consents.deleteUser(userID)

	rep.ExperiencesRemoved = m.store.RemoveUser(ctx, userID)
	if m.cfg.Anonymize {
		rep.ExperiencesRemoved += m.store.RemoveUser(ctx, m.anonymizer.Pseudonym(userID))
	}
	rep.KeyRemoved = m.anonymizer.Forget(userID)

	var others []CleanupRecord
	for _, r := range cancelled {
		if r.Category != ConversationContent {
			others = append(others, r)
		}
	}
	err := m.purge(ctx, others)

	m.logger.Info("user data force-deleted",
		zap.Int("consent_records", rep.ConsentRecords),
		zap.Int("cancelled_cleanups", rep.CancelledCleanups),
		zap.Int("experiences", rep.ExperiencesRemoved))
	return rep, err
}

// Run purges expired records every CleanupInterval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.safePurge(ctx)
		}
	}
}

func (m *Manager) safePurge(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("retention purge panicked, continuing",
				zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	m.Purge(ctx)
}
