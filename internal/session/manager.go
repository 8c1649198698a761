package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"github.com/cmejo/AI-Scholar-sub007/internal/logging"
)

// Processor runs the decision pipeline for one turn. It must append the
// turn to state and return a response even when ctx expires.
type Processor interface {
	Process(ctx context.Context, state *conversation.State, input string) *conversation.Response
}

// ArchiveFunc receives the final snapshot of every session that leaves the
// store, whether ended or expired.
type ArchiveFunc func(ctx context.Context, info Info, state *conversation.State)

// Config holds session lifecycle settings.
type Config struct {
	IdleAfter     time.Duration
	Timeout       time.Duration
	SweepInterval time.Duration
	TurnTimeout   time.Duration
	// TurnsPerMinute limits turns per user. Zero disables the limit.
	TurnsPerMinute float64
	TurnBurst      int
}

// DefaultConfig returns the standard lifecycle settings.
func DefaultConfig() Config {
	return Config{
		IdleAfter:     5 * time.Minute,
		Timeout:       30 * time.Minute,
		SweepInterval: 5 * time.Minute,
		TurnTimeout:   30 * time.Second,
		TurnBurst:     5,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.IdleAfter <= 0 || c.IdleAfter > c.Timeout {
		c.IdleAfter = min(d.IdleAfter, c.Timeout)
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = d.TurnTimeout
	}
	if c.TurnBurst <= 0 {
		c.TurnBurst = d.TurnBurst
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore replaces the in-memory session store.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithArchive registers a hook for sessions leaving the store.
func WithArchive(fn ArchiveFunc) Option {
	return func(m *Manager) { m.archive = fn }
}

// WithMeter sets the meter. Defaults to the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) { m.meter = meter }
}

// StartOption configures a new session.
type StartOption func(*conversation.State)

// WithDomain tags the conversation with a domain.
func WithDomain(domain string) StartOption {
	return func(s *conversation.State) { s.Domain = domain }
}

type userLimiter struct {
	lim      *rate.Limiter
	sessions int
}

// SweepResult counts the sessions changed by one sweep.
type SweepResult struct {
	Idled   int
	Expired int
}

// Manager creates sessions and routes turns to the decision pipeline.
type Manager struct {
	cfg       Config
	processor Processor
	store     Store
	logger    *zap.Logger
	now       func() time.Time
	archive   ArchiveFunc
	meter     metric.Meter
	metrics   *metrics

	limMu    sync.Mutex
	limiters map[string]*userLimiter

	// indexMu guards byConversation and ended.
	indexMu        sync.RWMutex
	byConversation map[string]string
	// ended keeps the final Info of evicted sessions until two Timeouts
	// past their last activity, so late callers get ErrInvalidState.
	ended map[string]Info
}

// NewManager creates a Manager that runs turns through processor.
func NewManager(cfg Config, processor Processor, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if processor == nil {
		return nil, errors.New("session: processor is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		cfg:            cfg,
		processor:      processor,
		logger:         logger,
		now:            time.Now,
		limiters:       make(map[string]*userLimiter),
		byConversation: make(map[string]string),
		ended:          make(map[string]Info),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewMemoryStore()
	}
	if m.meter == nil {
		m.meter = otel.Meter(InstrumentationName)
	}

	met, err := newMetrics(m.meter)
	if err != nil {
		return nil, fmt.Errorf("session: metrics: %w", err)
	}
	m.metrics = met
	return m, nil
}

// Start creates a session for userID. A non-empty initialMessage is
// processed as the first turn and its response returned.
func (m *Manager) Start(ctx context.Context, userID, initialMessage string, opts ...StartOption) (*Session, *conversation.Response, error) {
	if userID == "" {
		return nil, nil, errors.New("session: user id is required")
	}
	now := m.now()

	state := conversation.NewState(userID, "")
	state.CreatedAt = now.UTC()
	for _, opt := range opts {
		opt(state)
	}
	s := newSession(uuid.NewString(), state, now)

	m.store.Put(s)
	m.indexMu.Lock()
	m.byConversation[s.conversationID] = s.id
	m.indexMu.Unlock()
	m.acquireLimiter(userID)
	m.metrics.recordStart(ctx)

	m.logger.Info("session started",
		zap.String("session_id", s.id),
		zap.String("user_id", userID),
		zap.String("conversation_id", s.conversationID),
	)

	if initialMessage == "" {
		return s, nil, nil
	}
	resp, err := m.SubmitTurn(ctx, s.id, initialMessage)
	if err != nil {
		return s, nil, err
	}
	return s, resp, nil
}

// SubmitTurn processes input in the session and returns the response.
// Failures inside the pipeline surface as fallback responses, not errors;
// errors report only that the turn was not attempted.
func (m *Manager) SubmitTurn(ctx context.Context, sessionID, input string) (*conversation.Response, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		if info, ended := m.endedInfo(sessionID); ended {
			m.metrics.recordRejected(ctx, "invalid_state")
			return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, info.Status)
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if err := s.activate(m.now()); err != nil {
		m.metrics.recordRejected(ctx, "invalid_state")
		return nil, err
	}
	if !m.allow(s.userID) {
		m.metrics.recordRejected(ctx, "rate_limited")
		return nil, fmt.Errorf("%w: user %s", ErrRateLimited, s.userID)
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	// The session may have ended while this turn waited for the lock.
	if st := s.Status(); st.IsTerminal() {
		m.metrics.recordRejected(ctx, "invalid_state")
		return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidState, s.id, st)
	}

	ctx = logging.WithSessionID(ctx, s.id)
	ctx = logging.WithUserID(ctx, s.userID)
	ctx = logging.WithConversationID(ctx, s.conversationID)

	turnCtx, cancel := context.WithTimeout(ctx, m.cfg.TurnTimeout)
	resp := m.processor.Process(turnCtx, s.state, input)
	cancel()

	s.completeTurn(m.now())
	m.metrics.turns.Add(ctx, 1)

	m.logger.Debug("turn processed",
		append(logging.ContextFields(ctx),
			zap.Int("turn", s.state.TurnCount()),
			zap.Bool("fallback", resp.IsFallback()),
			zap.Duration("processing_time", resp.ProcessingTime),
		)...)
	return resp, nil
}

// End terminates a session. It returns false, changing nothing, for
// unknown or already terminal sessions.
func (m *Manager) End(ctx context.Context, sessionID, reason string) bool {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return false
	}

	s.mu.Lock()
	if err := s.transitionLocked(StatusTerminated); err != nil {
		s.mu.Unlock()
		return false
	}
	s.endReason = reason
	info := s.infoLocked()
	s.mu.Unlock()

	m.evict(ctx, s, info)
	m.logger.Info("session ended",
		zap.String("session_id", s.id),
		zap.String("reason", reason),
		zap.Int("turns", info.TurnCount),
	)
	return true
}

// Info returns a snapshot of the session. Recently ended sessions report
// their final state.
func (m *Manager) Info(sessionID string) (*Info, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		if info, ended := m.endedInfo(sessionID); ended {
			return &info, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	info := s.Info()
	return &info, nil
}

func (m *Manager) endedInfo(sessionID string) (Info, bool) {
	m.indexMu.RLock()
	defer m.indexMu.RUnlock()
	info, ok := m.ended[sessionID]
	return info, ok
}

// ConversationState returns a copy of a live conversation as of its last
// completed turn.
func (m *Manager) ConversationState(conversationID string) (*conversation.State, bool) {
	m.indexMu.RLock()
	id, ok := m.byConversation[conversationID]
	m.indexMu.RUnlock()
	if !ok {
		return nil, false
	}
	s, ok := m.store.Get(id)
	if !ok {
		return nil, false
	}
	return s.State(), true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.store.Len()
}

// Sweep idles sessions inactive for IdleAfter and expires and evicts those
// inactive for Timeout, measured at now.
func (m *Manager) Sweep(ctx context.Context, now time.Time) SweepResult {
	var res SweepResult
	var expired []*Session
	m.store.Range(func(s *Session) bool {
		s.mu.Lock()
		defer s.mu.Unlock()

		inactive := now.Sub(s.lastActivity)
		switch {
		case s.status.IsTerminal():
			// Left behind by an interrupted sweep.
			expired = append(expired, s)
		case inactive >= m.cfg.Timeout:
			if s.transitionLocked(StatusExpired) == nil {
				expired = append(expired, s)
			}
		case s.status == StatusActive && inactive >= m.cfg.IdleAfter:
			if s.transitionLocked(StatusIdle) == nil {
				res.Idled++
			}
		}
		return true
	})

	for _, s := range expired {
		m.evict(ctx, s, s.Info())
	}
	res.Expired = len(expired)

	m.indexMu.Lock()
	for id, info := range m.ended {
		if now.Sub(info.LastActivity) >= 2*m.cfg.Timeout {
			delete(m.ended, id)
		}
	}
	m.indexMu.Unlock()
	if res.Idled > 0 || res.Expired > 0 {
		m.logger.Info("session sweep",
			zap.Int("idled", res.Idled),
			zap.Int("expired", res.Expired),
			zap.Int("remaining", m.store.Len()),
		)
	}
	return res
}

func (m *Manager) evict(ctx context.Context, s *Session, info Info) {
	s.mu.Lock()
	if s.evicted {
		s.mu.Unlock()
		return
	}
	s.evicted = true
	s.mu.Unlock()

	m.store.Delete(s.id)
	m.indexMu.Lock()
	delete(m.byConversation, s.conversationID)
	m.ended[s.id] = info
	m.indexMu.Unlock()
	m.releaseLimiter(s.userID)
	m.metrics.recordEnd(ctx, info.Status)

	if m.archive != nil {
		m.archive(ctx, info, s.State())
	}
}

func (m *Manager) acquireLimiter(userID string) {
	if m.cfg.TurnsPerMinute <= 0 {
		return
	}
	m.limMu.Lock()
	defer m.limMu.Unlock()
	ul, ok := m.limiters[userID]
	if !ok {
		ul = &userLimiter{lim: rate.NewLimiter(rate.Limit(m.cfg.TurnsPerMinute/60), m.cfg.TurnBurst)}
		m.limiters[userID] = ul
	}
	ul.sessions++
}

func (m *Manager) releaseLimiter(userID string) {
	if m.cfg.TurnsPerMinute <= 0 {
		return
	}
	m.limMu.Lock()
	defer m.limMu.Unlock()
	if ul, ok := m.limiters[userID]; ok {
		ul.sessions--
		if ul.sessions <= 0 {
			delete(m.limiters, userID)
		}
	}
}

func (m *Manager) allow(userID string) bool {
	if m.cfg.TurnsPerMinute <= 0 {
		return true
	}
	m.limMu.Lock()
	ul, ok := m.limiters[userID]
	m.limMu.Unlock()
	if !ok {
		return true
	}
	return ul.lim.AllowN(m.now(), 1)
}

// Run sweeps every SweepInterval until ctx is done. A failing sweep is
// logged and the loop continues.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.safeSweep(ctx)
		}
	}
}

func (m *Manager) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session sweep panicked",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	m.Sweep(ctx, m.now())
}
