package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cmejo/AI-Scholar-sub007/internal/agent"
	"github.com/cmejo/AI-Scholar-sub007/internal/bus"
	"github.com/cmejo/AI-Scholar-sub007/internal/config"
	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"github.com/cmejo/AI-Scholar-sub007/internal/experience"
	"github.com/cmejo/AI-Scholar-sub007/internal/feedback"
	"github.com/cmejo/AI-Scholar-sub007/internal/heuristic"
	"github.com/cmejo/AI-Scholar-sub007/internal/privacy"
	"github.com/cmejo/AI-Scholar-sub007/internal/reward"
	"github.com/cmejo/AI-Scholar-sub007/internal/safety"
	"github.com/cmejo/AI-Scholar-sub007/internal/session"
	"github.com/cmejo/AI-Scholar-sub007/internal/telemetry"
)

const safetyInstrumentationName = "github.com/cmejo/AI-Scholar-sub007/internal/safety"

// ErrNotStarted is returned by Shutdown before Start.
var ErrNotStarted = errors.New("core not started")

// Option configures a Core.
type Option func(*options)

type options struct {
	telemetry *telemetry.Telemetry
	bus       bus.Bus
	inference agent.Inference
	renderer  agent.Renderer
	scrubber  privacy.SecretScrubber
}

// WithTelemetry sources tracers and meters from tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *options) { o.telemetry = tel }
}

// WithBus uses b instead of connecting to the configured NATS server. The
// Core does not close a bus it was given.
func WithBus(b bus.Bus) Option {
	return func(o *options) { o.bus = b }
}

// WithInference replaces the heuristic policy.
func WithInference(inf agent.Inference) Option {
	return func(o *options) { o.inference = inf }
}

// WithRenderer replaces the template renderer.
func WithRenderer(r agent.Renderer) Option {
	return func(o *options) { o.renderer = r }
}

// WithScrubber replaces the gitleaks secret scrubber.
func WithScrubber(s privacy.SecretScrubber) Option {
	return func(o *options) { o.scrubber = s }
}

// Core wires the components together.
type Core struct {
	cfg    *config.Config
	logger *zap.Logger

	bus     bus.Bus
	ownsBus bool

	rewards  *reward.Calculator
	safety   *safety.Monitor
	memory   *experience.Manager
	privacy  *privacy.Manager
	profiles *heuristic.MemoryProfiles
	pipeline *agent.Pipeline
	sessions *session.Manager
	feedback *feedback.Ingestor
	source   *feedback.NATSSource

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

// New builds every component from cfg. With no NATS URL configured and no
// bus supplied, an in-process bus carries alerts and feedback.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Core, error) {
	if cfg == nil {
		return nil, errors.New("core: config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Core{cfg: cfg, logger: logger, bus: o.bus}
	if c.bus == nil {
		b, err := newBus(cfg.NATS, logger)
		if err != nil {
			return nil, err
		}
		c.bus = b
		c.ownsBus = true
	}

	if err := c.build(o); err != nil {
		if c.ownsBus {
			_ = c.bus.Close()
		}
		return nil, err
	}
	return c, nil
}

func newBus(cfg config.NATSConfig, logger *zap.Logger) (bus.Bus, error) {
	if cfg.URL == "" {
		return bus.NewMemory(), nil
	}
	b, err := bus.ConnectNATS(cfg.URL, cfg.Token.Value(), logger.Named("bus"))
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	return b, nil
}

func (c *Core) build(o options) error {
	var err error
	cfg := c.cfg
	tel := o.telemetry

	if c.rewards, err = reward.NewCalculator(rewardConfig(cfg.Reward), c.logger.Named("reward")); err != nil {
		return fmt.Errorf("core: reward calculator: %w", err)
	}

	c.safety, err = safety.NewMonitor(safety.Config{
		AlertThreshold:  cfg.Safety.AlertThreshold,
		Retention:       cfg.Safety.Retention.Duration(),
		CleanupInterval: cfg.Safety.CleanupInterval.Duration(),
		PatternFile:     cfg.Safety.PatternFile,
		WatchPatterns:   cfg.Safety.WatchPatterns,
	}, c.logger.Named("safety"),
		safety.WithPublisher(c.bus),
		safety.WithMeter(tel.Meter(safetyInstrumentationName)),
	)
	if err != nil {
		return fmt.Errorf("core: safety monitor: %w", err)
	}

	c.memory, err = experience.NewManager(experience.Config{
		Capacity:            cfg.Memory.Capacity,
		HighQualityCapacity: cfg.Memory.HighQualityCapacity,
		SafetyCapacity:      cfg.Memory.SafetyCapacity,
		QualityThreshold:    cfg.Memory.QualityThreshold,
		SafetyThreshold:     cfg.Memory.SafetyThreshold,
		Alpha:               cfg.Memory.Alpha,
		Beta:                cfg.Memory.Beta,
		QualityRatio:        cfg.Memory.QualityRatio,
	}, c.logger.Named("experience"))
	if err != nil {
		return fmt.Errorf("core: experience memory: %w", err)
	}

	var privacyOpts []privacy.Option
	if o.scrubber != nil {
		privacyOpts = append(privacyOpts, privacy.WithScrubber(o.scrubber))
	}
	c.privacy, err = privacy.NewManager(privacy.Config{
		EnforceConsent:  cfg.Privacy.EnforceConsent,
		Anonymize:       cfg.Privacy.Anonymize,
		ScrubSecrets:    cfg.Privacy.ScrubSecrets,
		Salt:            cfg.Privacy.Salt.Value(),
		RetentionBase:   cfg.Privacy.RetentionBase.Duration(),
		CleanupInterval: cfg.Privacy.CleanupInterval.Duration(),
	}, c.memory, c.logger.Named("privacy"), privacyOpts...)
	if err != nil {
		return fmt.Errorf("core: privacy manager: %w", err)
	}

	c.profiles = heuristic.NewMemoryProfiles(c.logger.Named("profiles"))
	c.privacy.RegisterPurger(privacy.ProfileData, c.profiles.Purge)

	inference := o.inference
	if inference == nil {
		inference = heuristic.NewPolicy(1)
	}
	renderer := o.renderer
	if renderer == nil {
		renderer = heuristic.NewTemplateRenderer()
	}
	c.pipeline, err = agent.New(agent.Config{
		MinResponseLength: cfg.Agent.MinResponseLength,
		MaxResponseLength: cfg.Agent.MaxResponseLength,
	}, inference, renderer, c.profiles, c.safety, c.logger.Named("agent"),
		agent.WithTracer(tel.Tracer(agent.InstrumentationName)),
		agent.WithMeter(tel.Meter(agent.InstrumentationName)),
	)
	if err != nil {
		return fmt.Errorf("core: decision pipeline: %w", err)
	}

	// The archive hook refers to c.feedback, which is assigned below and
	// before any session can end.
	c.sessions, err = session.NewManager(session.Config{
		IdleAfter:      cfg.Session.IdleAfter.Duration(),
		Timeout:        cfg.Session.Timeout.Duration(),
		SweepInterval:  cfg.Session.SweepInterval.Duration(),
		TurnTimeout:    cfg.Session.TurnTimeout.Duration(),
		TurnsPerMinute: cfg.Session.TurnsPerMin,
		TurnBurst:      cfg.Session.TurnBurst,
	}, c.pipeline, c.logger.Named("session"),
		session.WithArchive(c.archive),
		session.WithMeter(tel.Meter(session.InstrumentationName)),
	)
	if err != nil {
		return fmt.Errorf("core: session manager: %w", err)
	}

	c.feedback, err = feedback.NewIngestor(feedback.Config{QueueSize: cfg.Feedback.QueueSize}, feedback.Deps{
		States:    c.sessions,
		Scorer:    c.rewards,
		Store:     c.privacy,
		Inspector: c.safety,
		Profiles:  c.profiles,
		Retention: c.privacy,
	}, c.logger.Named("feedback"), feedback.WithMeter(tel.Meter(feedback.InstrumentationName)))
	if err != nil {
		return fmt.Errorf("core: feedback ingestor: %w", err)
	}

	c.source = feedback.NewNATSSource(c.bus, cfg.Feedback.Subject, c.feedback, c.logger.Named("feedback.source"))
	return nil
}

func rewardConfig(s config.RewardConfig) reward.Config {
	rc := reward.DefaultConfig()
	if s.AdaptationRate > 0 {
		rc.AdaptationRate = s.AdaptationRate
	}
	if s.SafetyThreshold > 0 {
		rc.SafetyThreshold = s.SafetyThreshold
	}
	if len(s.Weights) > 0 {
		rc.Weights = reward.WeightsFromMap(s.Weights)
	}
	return rc
}

func (c *Core) archive(_ context.Context, info session.Info, state *conversation.State) {
	c.feedback.Archive(state)
	c.logger.Debug("conversation archived",
		zap.String("session_id", info.ID),
		zap.String("conversation_id", info.ConversationID),
		zap.String("status", string(info.Status)),
		zap.Int("turns", info.TurnCount),
	)
}

// Start launches the background loops and subscribes to the feedback
// subject. It returns once everything is running.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	if err := c.source.Start(); err != nil {
		return fmt.Errorf("core: feedback source: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g := &errgroup.Group{}
	g.Go(func() error { return c.sessions.Run(runCtx) })
	g.Go(func() error { return c.privacy.Run(runCtx) })
	g.Go(func() error { return c.safety.Run(runCtx) })
	g.Go(func() error { return c.feedback.Run(runCtx) })

	c.cancel = cancel
	c.group = g
	c.running = true
	c.logger.Info("assistant core started",
		zap.Duration("session_timeout", c.cfg.Session.Timeout.Duration()),
		zap.Bool("nats", c.cfg.NATS.URL != ""),
	)
	return nil
}

// Shutdown stops the feedback source, cancels the background loops and
// waits for them, draining queued feedback. The wait is bounded by ctx.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.running = false
	cancel, g := c.cancel, c.group
	c.mu.Unlock()

	var errs []error
	if err := c.source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("feedback source: %w", err))
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for background tasks: %w", ctx.Err()))
	}

	if c.ownsBus {
		if err := c.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bus: %w", err))
		}
	}
	c.logger.Info("assistant core stopped")
	return errors.Join(errs...)
}

// SampleTrainingBatch flushes pending feedback and samples a batch. A
// negative ratio uses the configured quality ratio.
func (c *Core) SampleTrainingBatch(ctx context.Context, size int, qualityRatio float64) (experience.Batch, error) {
	if err := c.flushFeedback(ctx); err != nil {
		return experience.Batch{}, err
	}
	return c.memory.SampleTrainingBatch(size, qualityRatio)
}

// flushFeedback waits for queued feedback. With no worker running nothing
// can drain the queue, so the caller proceeds with what is stored.
func (c *Core) flushFeedback(ctx context.Context) error {
	err := c.feedback.Flush(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, feedback.ErrNotRunning), errors.Is(err, feedback.ErrStopped):
		c.logger.Debug("feedback not flushed", zap.Error(err))
		return nil
	default:
		return fmt.Errorf("flushing feedback: %w", err)
	}
}

// UpdatePriorities forwards training errors to the replay buffers.
func (c *Core) UpdatePriorities(indices []int, tdErrors []float64) error {
	return c.memory.UpdatePriorities(indices, tdErrors)
}

// DeleteUserData removes everything held about userID, including the
// learned profile and the feedback kept for rescoring.
func (c *Core) DeleteUserData(ctx context.Context, userID string) (privacy.DeletionReport, error) {
	if err := c.flushFeedback(ctx); err != nil {
		return privacy.DeletionReport{}, err
	}
	c.feedback.ForgetUser(userID)
	rep, err := c.privacy.ForceDeleteUserData(ctx, userID)
	if perr := c.profiles.Purge(ctx, userID, nil); perr != nil {
		err = errors.Join(err, perr)
	}
	return rep, err
}

// Health summarizes component state for the ops endpoint.
type Health struct {
	Running         bool             `json:"running"`
	Sessions        int              `json:"sessions"`
	ActiveAlerts    int              `json:"active_alerts"`
	FeedbackPending int              `json:"feedback_pending"`
	Profiles        int              `json:"profiles"`
	Memory          experience.Stats `json:"memory"`
}

// Health returns a point-in-time summary.
func (c *Core) Health() Health {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	return Health{
		Running:         running,
		Sessions:        c.sessions.Len(),
		ActiveAlerts:    len(c.safety.ActiveAlerts()),
		FeedbackPending: c.feedback.Stats().Pending,
		Profiles:        c.profiles.Len(),
		Memory:          c.memory.Stats(),
	}
}

func (c *Core) Sessions() *session.Manager   { return c.sessions }
func (c *Core) Feedback() *feedback.Ingestor { return c.feedback }
func (c *Core) Privacy() *privacy.Manager    { return c.privacy }
func (c *Core) Safety() *safety.Monitor      { return c.safety }
func (c *Core) Memory() *experience.Manager  { return c.memory }
func (c *Core) Rewards() *reward.Calculator  { return c.rewards }
func (c *Core) Pipeline() *agent.Pipeline    { return c.pipeline }
func (c *Core) Bus() bus.Publisher           { return c.bus }
