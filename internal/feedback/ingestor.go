package feedback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/cmejo/AI-Scholar-sub007/internal/agent"
	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"github.com/cmejo/AI-Scholar-sub007/internal/experience"
	"github.com/cmejo/AI-Scholar-sub007/internal/privacy"
	"github.com/cmejo/AI-Scholar-sub007/internal/reward"
	"github.com/cmejo/AI-Scholar-sub007/internal/safety"
)

// InstrumentationName is the name used for OTel instrumentation.
const InstrumentationName = "github.com/cmejo/AI-Scholar-sub007/internal/feedback"

var (
	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("feedback queue full")
	// ErrStopped is returned by Submit and Flush once the worker has stopped.
	ErrStopped = errors.New("feedback ingestor stopped")
	// ErrNotRunning is returned by Flush when events are pending and no
	// worker has been started.
	ErrNotRunning = errors.New("feedback ingestor not running")
)

// Outcomes recorded per processed turn.
const (
	OutcomeStored          = "stored"
	OutcomeConsentSkipped  = "consent_skipped"
	OutcomeFallbackSkipped = "fallback_skipped"
	OutcomeUnknownTurn     = "unknown_turn"
	OutcomeStoreFailed     = "store_failed"
)

const (
	metadataTurnIndex     = "turn_index"
	metadataFeedbackCount = "feedback_events"
	profileRecordIDPrefix = "profile:"

	defaultArchiveCapacity = 1024
	defaultBatchSize       = 64
	defaultHistoryCapacity = 4096
	defaultQueueSize       = 1024
	stopDrainTimeout       = 5 * time.Second
)

// StateSource looks up live conversations.
type StateSource interface {
	ConversationState(conversationID string) (*conversation.State, bool)
}

// Scorer computes turn rewards. *reward.Calculator satisfies it.
type Scorer interface {
	Calculate(ctx context.Context, state *conversation.State, action conversation.Action,
		feedback []conversation.FeedbackEvent, quality map[string]float64) *reward.MultiObjectiveReward
}

// ExperienceStore stores experiences subject to consent and removes the
// ones a rescored turn replaces. *privacy.Manager satisfies it.
type ExperienceStore interface {
	StoreExperience(ctx context.Context, exp *experience.Experience) (bool, error)
	RemoveExperiences(ctx context.Context, ids ...string) int
}

// Inspector receives scored interactions. *safety.Monitor satisfies it.
type Inspector interface {
	InspectInteraction(ctx context.Context, in safety.Interaction) []safety.Alert
}

// RetentionScheduler registers profile data for retention cleanup.
// *privacy.Manager satisfies it.
type RetentionScheduler interface {
	Schedule(userID string, c privacy.DataCategory, recordID string) privacy.CleanupRecord
}

// Deps are the collaborators of an Ingestor. States, Scorer and Store are
// required.
type Deps struct {
	States    StateSource
	Scorer    Scorer
	Store     ExperienceStore
	Inspector Inspector
	Profiles  agent.ProfileProvider
	Retention RetentionScheduler
}

// Config sizes the queue.
type Config struct {
	QueueSize int
	// BatchSize caps how many queued events are grouped per worker pass.
	BatchSize int
	// ArchiveCapacity bounds the number of ended conversations kept for
	// late feedback.
	ArchiveCapacity int
	// HistoryCapacity bounds the number of conversations whose per-turn
	// feedback is kept for rescoring.
	HistoryCapacity int
}

// DefaultConfig returns the standard queue sizes.
func DefaultConfig() Config {
	return Config{
		QueueSize:       defaultQueueSize,
		BatchSize:       defaultBatchSize,
		ArchiveCapacity: defaultArchiveCapacity,
		HistoryCapacity: defaultHistoryCapacity,
	}
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.ArchiveCapacity <= 0 {
		c.ArchiveCapacity = defaultArchiveCapacity
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = defaultHistoryCapacity
	}
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithMeter sets the meter. Defaults to the global provider.
func WithMeter(m metric.Meter) Option {
	return func(i *Ingestor) { i.meter = m }
}

// Stats counts processed turns by outcome.
type Stats struct {
	Submitted int64            `json:"submitted"`
	Pending   int              `json:"pending"`
	Outcomes  map[string]int64 `json:"outcomes"`
}

// Ingestor scores feedback asynchronously.
type Ingestor struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	queue  chan conversation.FeedbackEvent

	// mu guards pending, waiters, outcomes, submitted, running and stopped.
	mu        sync.Mutex
	pending   int
	waiters   []chan struct{}
	outcomes  map[string]int64
	submitted int64
	running   bool
	stopped   bool

	archive *archive
	history *history

	meter   metric.Meter
	counter metric.Int64Counter
}

// NewIngestor creates an Ingestor. Call Run to start the worker.
func NewIngestor(cfg Config, deps Deps, logger *zap.Logger, opts ...Option) (*Ingestor, error) {
	if deps.States == nil || deps.Scorer == nil || deps.Store == nil {
		return nil, errors.New("feedback: states, scorer and store are required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	i := &Ingestor{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		queue:    make(chan conversation.FeedbackEvent, cfg.QueueSize),
		outcomes: make(map[string]int64),
		archive:  newArchive(cfg.ArchiveCapacity),
		history:  newHistory(cfg.HistoryCapacity),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.meter == nil {
		i.meter = otel.Meter(InstrumentationName)
	}

	var err error
	i.counter, err = i.meter.Int64Counter("assistant.feedback.turns",
		metric.WithDescription("Feedback-scored turns, by outcome"),
		metric.WithUnit("{turn}"))
	if err != nil {
		return nil, fmt.Errorf("feedback: metrics: %w", err)
	}
	return i, nil
}

// Submit validates ev and queues it without blocking.
func (i *Ingestor) Submit(ev conversation.FeedbackEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return ErrStopped
	}
	select {
	case i.queue <- ev:
		i.pending++
		i.submitted++
		return nil
	default:
		return ErrQueueFull
	}
}

// Archive keeps a finished conversation available for late feedback.
func (i *Ingestor) Archive(state *conversation.State) {
	if state != nil {
		i.history.drop(i.archive.put(state)...)
	}
}

// ForgetUser drops the archived conversations and the kept feedback of
// userID.
func (i *Ingestor) ForgetUser(userID string) {
	i.archive.dropUser(userID)
	i.history.dropUser(userID)
}

// Flush blocks until every event submitted before the call has been
// processed, or ctx is done. It returns ErrStopped once the worker has
// stopped and ErrNotRunning when events are pending with no worker.
func (i *Ingestor) Flush(ctx context.Context) error {
	i.mu.Lock()
	switch {
	case i.stopped:
		i.mu.Unlock()
		return ErrStopped
	case i.pending == 0:
		i.mu.Unlock()
		return nil
	case !i.running:
		i.mu.Unlock()
		return ErrNotRunning
	}
	ch := make(chan struct{})
	i.waiters = append(i.waiters, ch)
	i.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns processing counters.
func (i *Ingestor) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]int64, len(i.outcomes))
	for k, v := range i.outcomes {
		out[k] = v
	}
	return Stats{Submitted: i.submitted, Pending: i.pending, Outcomes: out}
}

// Run processes queued events until ctx is done. Events still queued when
// ctx ends are drained for up to five seconds.
func (i *Ingestor) Run(ctx context.Context) error {
	i.mu.Lock()
	i.running = true
	i.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			i.drain()
			return nil
		case ev := <-i.queue:
			i.processBatch(ctx, i.collect(ev))
		}
	}
}

// collect gathers first plus whatever else is queued, up to BatchSize.
func (i *Ingestor) collect(first conversation.FeedbackEvent) []conversation.FeedbackEvent {
	batch := []conversation.FeedbackEvent{first}
	for len(batch) < i.cfg.BatchSize {
		select {
		case ev := <-i.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (i *Ingestor) drain() {
	i.mu.Lock()
	i.stopped = true
	i.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopDrainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-i.queue:
			i.processBatch(ctx, i.collect(ev))
		default:
			return
		}
	}
}

type turnKey struct {
	conversationID string
	turnIndex      int
}

// processBatch scores each distinct turn in batch once, with all of its
// events.
func (i *Ingestor) processBatch(ctx context.Context, batch []conversation.FeedbackEvent) {
	groups := make(map[turnKey][]conversation.FeedbackEvent)
	var order []turnKey
	for _, ev := range batch {
		k := turnKey{ev.ConversationID, ev.TurnIndex}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ev)
	}
	for _, k := range order {
		i.safeProcess(ctx, k, groups[k])
	}
	i.done(len(batch))
}

func (i *Ingestor) safeProcess(ctx context.Context, k turnKey, events []conversation.FeedbackEvent) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("feedback processing panicked",
				zap.String("conversation_id", k.conversationID),
				zap.Int("turn_index", k.turnIndex),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			i.record(ctx, OutcomeStoreFailed)
		}
	}()
	i.record(ctx, i.process(ctx, k, events))
}

func (i *Ingestor) process(ctx context.Context, k turnKey, events []conversation.FeedbackEvent) string {
	state, ok := i.deps.States.ConversationState(k.conversationID)
	if !ok {
		state, ok = i.archive.get(k.conversationID)
	}
	if !ok || k.turnIndex >= state.TurnCount() {
		i.logger.Warn("feedback for unknown turn dropped",
			zap.String("conversation_id", k.conversationID),
			zap.Int("turn_index", k.turnIndex),
		)
		return OutcomeUnknownTurn
	}

	turn := state.Turns[k.turnIndex]
	if turn.Action == nil || turn.Action.Common().Strategy == agent.FallbackStrategy {
		i.logger.Debug("feedback for fallback turn not stored",
			zap.String("conversation_id", k.conversationID),
			zap.Int("turn_index", k.turnIndex),
		)
		return OutcomeFallbackSkipped
	}

	// Score against the conversation as it was when the turn completed,
	// with every event received for the turn so far.
	atTurn := state.Snapshot()
	atTurn.Turns = atTurn.Turns[:k.turnIndex+1]
	all, previous := i.history.add(k, state.UserID, events)

	r := i.deps.Scorer.Calculate(ctx, atTurn, turn.Action, all, nil)
	exp := experience.New(atTurn, turn.Action, r)
	exp.Done = k.turnIndex == state.TurnCount()-1
	exp.Metadata = map[string]string{
		metadataTurnIndex:     strconv.Itoa(k.turnIndex),
		metadataFeedbackCount: strconv.Itoa(len(all)),
	}

	outcome := OutcomeStored
	stored, err := i.deps.Store.StoreExperience(ctx, exp)
	switch {
	case err != nil:
		i.logger.Error("storing experience failed",
			zap.String("conversation_id", k.conversationID),
			zap.Error(err),
		)
		outcome = OutcomeStoreFailed
	case !stored:
		outcome = OutcomeConsentSkipped
	}
	if err == nil {
		if previous != "" {
			i.deps.Store.RemoveExperiences(ctx, previous)
		}
		current := ""
		if stored {
			current = exp.ID
		}
		i.history.setExperience(k, current)
	}

	if i.deps.Inspector != nil {
		i.deps.Inspector.InspectInteraction(ctx, safety.Interaction{
			Reward:         r.Total(),
			Safety:         r.Component(reward.Safety),
			ResponseLength: utf8.RuneCountInString(turn.Response),
		})
	}

	if i.deps.Profiles != nil {
		if err := i.deps.Profiles.Update(ctx, state.UserID, atTurn, events); err != nil {
			i.logger.Warn("profile update failed", zap.String("user_id", state.UserID), zap.Error(err))
		} else if i.deps.Retention != nil {
			i.deps.Retention.Schedule(state.UserID, privacy.ProfileData, profileRecordIDPrefix+state.UserID)
		}
	}

	i.logger.Debug("feedback scored",
		zap.String("conversation_id", k.conversationID),
		zap.Int("turn_index", k.turnIndex),
		zap.Float64("reward", r.Total()),
		zap.Int("feedback_events", len(all)),
		zap.String("outcome", outcome),
	)
	return outcome
}

func (i *Ingestor) record(ctx context.Context, outcome string) {
	i.mu.Lock()
	i.outcomes[outcome]++
	i.mu.Unlock()
	i.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (i *Ingestor) done(n int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pending -= n
	if i.pending > 0 {
		return
	}
	for _, ch := range i.waiters {
		close(ch)
	}
	i.waiters = nil
}
