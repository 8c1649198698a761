package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"github.com/cmejo/AI-Scholar-sub007/internal/logging"
	"github.com/cmejo/AI-Scholar-sub007/internal/safety"
)

// Config bounds the length of delivered responses, in runes.
type Config struct {
	MinResponseLength int
	MaxResponseLength int
}

// DefaultConfig returns the standard response bounds.
func DefaultConfig() Config {
	return Config{MinResponseLength: 10, MaxResponseLength: 2000}
}

func (c Config) validate() error {
	if c.MinResponseLength < 0 || c.MaxResponseLength < 0 {
		return errors.New("response bounds must be >= 0")
	}
	if c.MaxResponseLength > 0 && c.MinResponseLength > c.MaxResponseLength {
		return fmt.Errorf("min response length %d exceeds max %d", c.MinResponseLength, c.MaxResponseLength)
	}
	return nil
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRand sets the random source used for sampling and fallback selection.
func WithRand(r RandSource) Option {
	return func(p *Pipeline) { p.rng = r }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithTracer sets the tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithMeter sets the meter. Defaults to the global provider.
func WithMeter(m metric.Meter) Option {
	return func(p *Pipeline) { p.meter = m }
}

// Pipeline runs the decision process for one turn at a time per state.
// It is safe for concurrent use across different states.
type Pipeline struct {
	cfg       Config
	inference Inference
	renderer  Renderer
	profiles  ProfileProvider
	safety    SafetyChecker
	logger    *zap.Logger

	rngMu sync.Mutex
	rng   RandSource

	now     func() time.Time
	tracer  trace.Tracer
	meter   metric.Meter
	metrics *metrics
}

// New creates a Pipeline. profiles may be nil, in which case responses are
// never personalized.
func New(
	cfg Config,
	inference Inference,
	renderer Renderer,
	profiles ProfileProvider,
	checker SafetyChecker,
	logger *zap.Logger,
	opts ...Option,
) (*Pipeline, error) {
	if inference == nil || renderer == nil || checker == nil {
		return nil, errors.New("agent: inference, renderer and safety checker are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		cfg:       cfg,
		inference: inference,
		renderer:  renderer,
		profiles:  profiles,
		safety:    checker,
		logger:    logger,
		rng:       globalRand{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(InstrumentationName)
	}
	if p.meter == nil {
		p.meter = otel.Meter(InstrumentationName)
	}

	m, err := newMetrics(p.meter)
	if err != nil {
		return nil, fmt.Errorf("agent: metrics: %w", err)
	}
	p.metrics = m
	return p, nil
}

// decision is the result of the background part of a turn.
type decision struct {
	action       conversation.Action
	eval         safety.Evaluation
	personalized bool
	err          error
}

// Process produces the response for input and appends the turn to state.
// The caller must serialize calls for the same state. Process returns when
// the pipeline finishes or ctx is done, whichever comes first; a pipeline
// still running after ctx is done only touches its own snapshot.
func (p *Pipeline) Process(ctx context.Context, state *conversation.State, input string) *conversation.Response {
	start := p.now()
	ctx, span := p.tracer.Start(ctx, "agent.Process", trace.WithAttributes(
		attribute.String("conversation.id", state.ConversationID),
		attribute.Int("turn.index", state.TurnCount()),
	))
	defer span.End()

	snap := state.Snapshot()
	done := make(chan decision, 1)
	go func() {
		done <- p.decideSafely(ctx, snap, input, start)
	}()

	var resp *conversation.Response
	var action conversation.Action
	select {
	case d := <-done:
		resp, action = p.finish(ctx, span, d)
	case <-ctx.Done():
		p.logger.Warn("decision pipeline timed out",
			append(logging.ContextFields(ctx), zap.Error(ctx.Err()))...)
		resp, action = p.fallback(ctx, conversation.FallbackTimeout)
	}

	if cause := resp.FallbackCause(); cause != "" {
		span.SetAttributes(attribute.String("fallback", cause))
	} else {
		span.SetAttributes(
			attribute.String("action.kind", string(action.Kind())),
			attribute.String("action.strategy", action.Common().Strategy),
		)
	}

	state.Append(conversation.Turn{
		Input:     input,
		Response:  resp.Text,
		Action:    action,
		Timestamp: start,
	})
	if state.Metadata == nil {
		state.Metadata = make(map[string]any)
	}
	state.Metadata[conversation.StatePersonalized] = resp.PersonalizationApplied

	elapsed := p.now().Sub(start)
	resp.ProcessingTime = elapsed
	p.metrics.recordTurn(ctx, string(action.Kind()), elapsed)
	return resp
}

func (p *Pipeline) decideSafely(ctx context.Context, snap *conversation.State, input string, now time.Time) (d decision) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("decision pipeline panic",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			d = decision{err: fmt.Errorf("%w: %v", errPanic, r)}
		}
	}()
	return p.decide(ctx, snap, input, now)
}

func (p *Pipeline) decide(ctx context.Context, snap *conversation.State, input string, now time.Time) decision {
	var profile *Profile
	if p.profiles != nil {
		var err error
		profile, err = p.profiles.GetOrCreate(ctx, snap.UserID)
		if err != nil {
			p.logger.Warn("profile unavailable, continuing without personalization",
				append(logging.ContextFields(ctx), zap.Error(err))...)
			profile = nil
		}
	}
	pers := Personalize(profile)

	features := EncodeFeatures(snap, input, profile)
	res, err := p.inference.Infer(ctx, features)
	if err != nil {
		return decision{err: fmt.Errorf("%w: %w", ErrInferenceFailed, err)}
	}
	if res == nil {
		return decision{err: fmt.Errorf("%w: empty result", ErrInferenceFailed)}
	}

	p.rngMu.Lock()
	kind, prob, err := sampleKind(res.ActionProbs, p.rng)
	var strategy string
	if err == nil {
		strategy, err = sampleStrategy(res.StrategyProbs, p.rng)
	}
	p.rngMu.Unlock()
	if err != nil {
		return decision{err: err}
	}

	action, err := conversation.NewAction(kind, conversation.ActionBase{
		Strategy:   strategy,
		Confidence: prob,
	}, res.Params)
	if err != nil {
		return decision{err: fmt.Errorf("%w: %w", ErrInferenceFailed, err)}
	}

	snap.Append(conversation.Turn{Input: input, Action: action, Timestamp: now})
	text, err := p.renderer.Render(ctx, action, snap, pers)
	if err != nil {
		return decision{err: fmt.Errorf("%w: %w", ErrRenderFailed, err)}
	}

	eval := p.safety.Evaluate(ctx, text, safety.EvalContext{
		UserInput:  input,
		Domain:     snap.Domain,
		ActionKind: string(kind),
	})
	return decision{
		action:       conversation.WithResponseText(action, text),
		eval:         eval,
		personalized: pers.Applied,
	}
}

func (p *Pipeline) finish(ctx context.Context, span trace.Span, d decision) (*conversation.Response, conversation.Action) {
	if d.err != nil {
		span.RecordError(d.err)
		span.SetStatus(codes.Error, d.err.Error())
		p.logger.Error("decision pipeline failed",
			append(logging.ContextFields(ctx), zap.Error(d.err))...)
		return p.fallback(ctx, conversation.FallbackError)
	}
	if !d.eval.IsSafe {
		p.logger.Warn("response rejected by safety monitor",
			append(logging.ContextFields(ctx),
				zap.Float64("safety_score", d.eval.Score),
				zap.String("action_kind", string(d.action.Kind())),
				zap.Int("alerts", len(d.eval.Alerts)),
			)...)
		return p.fallback(ctx, conversation.FallbackSafety)
	}

	text, truncated, padded := enforceBounds(d.eval.Text, p.cfg.MinResponseLength, p.cfg.MaxResponseLength)
	action := conversation.WithResponseText(d.action, text)
	base := action.Common()

	meta := map[string]string{
		conversation.MetaActionKind: string(action.Kind()),
		conversation.MetaStrategy:   base.Strategy,
	}
	if len(d.eval.Filter.Warnings) > 0 {
		meta[conversation.MetaContentWarnings] = strings.Join(d.eval.Filter.Warnings, ",")
	}
	if truncated {
		meta[conversation.MetaTruncated] = "true"
	}
	if padded {
		meta[conversation.MetaPadded] = "true"
	}

	return &conversation.Response{
		Text:                   text,
		Confidence:             base.Confidence,
		SafetyScore:            d.eval.Score,
		PersonalizationApplied: d.personalized,
		Metadata:               meta,
	}, action
}

// fallback builds the substitute response for cause. Fallback texts are
// pre-authored, so their safety score is 1.
func (p *Pipeline) fallback(ctx context.Context, cause string) (*conversation.Response, conversation.Action) {
	pool := fallbackPools[cause]
	p.rngMu.Lock()
	text := pool[p.rng.IntN(len(pool))]
	p.rngMu.Unlock()

	confidence := fallbackConfidence[cause]
	p.metrics.recordFallback(ctx, cause)
	return &conversation.Response{
		Text:        text,
		Confidence:  confidence,
		SafetyScore: 1,
		Metadata:    map[string]string{conversation.MetaFallback: cause},
	}, fallbackAction(confidence, text)
}

// globalRand uses the concurrency-safe top-level math/rand/v2 functions.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }
