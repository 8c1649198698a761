package safety

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AlertSubjectPrefix is followed by the lowercase severity.
const AlertSubjectPrefix = "safety.alerts."

// Publisher delivers alerts to an event bus.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Config configures a Monitor.
type Config struct {
	AlertThreshold  float64
	Retention       time.Duration
	CleanupInterval time.Duration
	PatternFile     string
	WatchPatterns   bool
	HarmHistory     int
	Anomaly         AnomalyConfig
}

// DefaultConfig returns the stock monitor settings.
func DefaultConfig() Config {
	return Config{
		AlertThreshold:  0.7,
		Retention:       30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		HarmHistory:     1000,
		Anomaly:         DefaultAnomalyConfig(),
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = d.AlertThreshold
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.HarmHistory <= 0 {
		c.HarmHistory = d.HarmHistory
	}
	c.Anomaly.applyDefaults()
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPublisher publishes every raised alert.
func WithPublisher(p Publisher) Option {
	return func(m *Monitor) { m.publisher = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithMeter records alert counts on meter.
func WithMeter(meter metric.Meter) Option {
	return func(m *Monitor) { m.meter = meter }
}

// WithPrinciples replaces the default constitutional principles.
func WithPrinciples(p ...Principle) Option {
	return func(m *Monitor) { m.principles = p }
}

// Evaluation is the combined safety verdict for one response.
type Evaluation struct {
	// Text is the response to deliver; SafeText when blocked.
	Text       string
	Score      float64
	IsSafe     bool
	Validation Validation
	Filter     FilterResult
	Detections []Detection
	Alerts     []Alert
}

// Report summarizes recent safety activity.
type Report struct {
	GeneratedAt      time.Time        `json:"generated_at"`
	ActiveAlerts     int              `json:"active_alerts"`
	TotalAlerts      int              `json:"total_alerts"`
	BySeverity       map[string]int   `json:"by_severity"`
	ByType           map[string]int   `json:"by_type"`
	HarmCategories   map[string]int   `json:"harm_categories"`
	RecentSafetyMean *float64         `json:"recent_safety_mean,omitempty"`
	Evaluations      int64            `json:"evaluations"`
	Unsafe           int64            `json:"unsafe"`
	Trend            map[string][]int `json:"trend"`
}

// Monitor combines the constitutional validator, content filter, harm
// detector and anomaly detector, and keeps the resulting alerts.
type Monitor struct {
	cfg        Config
	logger     *zap.Logger
	publisher  Publisher
	now        func() time.Time
	meter      metric.Meter
	principles []Principle

	validator *Validator
	filter    *ContentFilter
	harm      *HarmDetector
	anomaly   *AnomalyDetector
	alerts    *alertStore

	alertCounter metric.Int64Counter
	evalCounter  metric.Int64Counter

	evaluations atomic.Int64
	unsafe      atomic.Int64
}

// NewMonitor builds a Monitor. When cfg.PatternFile is set the pattern pack
// is loaded up front and a load failure is returned.
func NewMonitor(cfg Config, logger *zap.Logger, opts ...Option) (*Monitor, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		filter:  NewContentFilter(),
		harm:    NewHarmDetector(cfg.HarmHistory),
		anomaly: NewAnomalyDetector(cfg.Anomaly),
		alerts:  newAlertStore(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.validator = NewValidator(cfg.AlertThreshold, m.principles...)
	if m.meter == nil {
		m.meter = noop.NewMeterProvider().Meter("safety")
	}

	var err error
	if m.alertCounter, err = m.meter.Int64Counter("assistant.safety.alerts",
		metric.WithDescription("Safety alerts raised")); err != nil {
		return nil, fmt.Errorf("creating alert counter: %w", err)
	}
	if m.evalCounter, err = m.meter.Int64Counter("assistant.safety.evaluations",
		metric.WithDescription("Responses evaluated by the safety monitor")); err != nil {
		return nil, fmt.Errorf("creating evaluation counter: %w", err)
	}

	if cfg.PatternFile != "" {
		pack, err := LoadPatternPack(cfg.PatternFile)
		if err != nil {
			return nil, err
		}
		if err := m.filter.Apply(pack); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Evaluate judges a rendered response. Blocked content and HIGH or CRITICAL
// harm detections make the response unsafe regardless of the validator
// score.
func (m *Monitor) Evaluate(ctx context.Context, text string, ec EvalContext) Evaluation {
	now := m.now()
	ev := Evaluation{
		Validation: m.validator.Validate(text, ec),
		Filter:     m.filter.Filter(text),
		Detections: m.harm.Detect(text, now),
	}
	ev.Text = ev.Filter.Text
	ev.Score = ev.Validation.Score
	ev.IsSafe = ev.Validation.IsSafe

	if !ev.Validation.IsSafe {
		sev := SeverityMedium
		if ev.Validation.Score < 0.5 {
			sev = SeverityHigh
		}
		names := make([]string, 0, len(ev.Validation.Violations))
		for _, v := range ev.Validation.Violations {
			names = append(names, v.Principle)
		}
		ev.Alerts = append(ev.Alerts, newAlert(AlertConstitutional, sev,
			fmt.Sprintf("constitutional check failed: score %.3f", ev.Validation.Score),
			map[string]string{"principles": strings.Join(names, ","), "score": ftoa(ev.Validation.Score)}, now))
	}
	if ev.Filter.Blocked {
		ev.IsSafe = false
		ev.Score = 0
		ev.Alerts = append(ev.Alerts, newAlert(AlertBlockedContent, SeverityHigh,
			"response blocked by content filter",
			map[string]string{"categories": strings.Join(ev.Filter.BlockedCategories, ",")}, now))
	}
	for _, d := range ev.Detections {
		typ := AlertHarmfulContent
		if d.Bias {
			typ = AlertBias
		}
		if d.Severity >= SeverityHigh {
			ev.IsSafe = false
			ev.Score = min(ev.Score, 0.4)
		}
		ev.Alerts = append(ev.Alerts, newAlert(typ, d.Severity,
			fmt.Sprintf("%s content detected", d.Category),
			map[string]string{"category": d.Category}, now))
	}

	m.record(ctx, ev.Alerts)
	m.evaluations.Add(1)
	if !ev.IsSafe {
		m.unsafe.Add(1)
	}
	m.evalCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("safe", ev.IsSafe)))
	return ev
}

// InspectInteraction feeds a scored interaction to the anomaly detector and
// returns any alerts raised.
func (m *Monitor) InspectInteraction(ctx context.Context, in Interaction) []Alert {
	alerts := m.anomaly.Observe(in, m.now())
	m.record(ctx, alerts)
	return alerts
}

func (m *Monitor) record(ctx context.Context, alerts []Alert) {
	for _, a := range alerts {
		m.alerts.add(a)
		m.alertCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(a.Type)),
			attribute.String("severity", a.Severity.String()),
		))
		m.logger.Warn("safety alert raised",
			zap.String("alert_id", a.ID),
			zap.String("type", string(a.Type)),
			zap.Stringer("severity", a.Severity),
			zap.String("message", a.Message),
		)
		if m.publisher == nil {
			continue
		}
		subject := AlertSubjectPrefix + strings.ToLower(a.Severity.String())
		if err := m.publisher.Publish(ctx, subject, a); err != nil {
			m.logger.Warn("failed to publish safety alert",
				zap.String("alert_id", a.ID), zap.String("subject", subject), zap.Error(err))
		}
	}
}

// ResolveAlert marks an alert resolved. Resolving twice is a no-op.
func (m *Monitor) ResolveAlert(id string) error {
	if err := m.alerts.resolve(id, m.now()); err != nil {
		return fmt.Errorf("resolving %s: %w", id, err)
	}
	return nil
}

// ActiveAlerts returns unresolved alerts, most severe first.
func (m *Monitor) ActiveAlerts() []Alert {
	return m.alerts.active()
}

// Alert returns one alert by id.
func (m *Monitor) Alert(id string) (Alert, bool) {
	return m.alerts.get(id)
}

// Report summarizes alerts and detections. Trend holds per-day alert counts
// for the last seven days, oldest first, keyed by alert type.
func (m *Monitor) Report() Report {
	now := m.now()
	all := m.alerts.all()
	r := Report{
		GeneratedAt:    now,
		TotalAlerts:    len(all),
		BySeverity:     make(map[string]int),
		ByType:         make(map[string]int),
		HarmCategories: m.harm.Counts(),
		Trend:          make(map[string][]int),
	}
	const days = 7
	for _, a := range all {
		if !a.Resolved {
			r.ActiveAlerts++
		}
		r.BySeverity[a.Severity.String()]++
		r.ByType[string(a.Type)]++

		age := int(now.Sub(a.CreatedAt) / (24 * time.Hour))
		if age < 0 || age >= days {
			continue
		}
		series, ok := r.Trend[string(a.Type)]
		if !ok {
			series = make([]int, days)
			r.Trend[string(a.Type)] = series
		}
		series[days-1-age]++
	}
	if mean, ok := m.anomaly.RecentSafetyMean(); ok {
		r.RecentSafetyMean = &mean
	}
	r.Evaluations, r.Unsafe = m.evaluations.Load(), m.unsafe.Load()
	return r
}

// Cleanup purges resolved alerts and alerts and detections older than the
// retention period.
func (m *Monitor) Cleanup() int {
	cutoff := m.now().Add(-m.cfg.Retention)
	return m.alerts.cleanup(cutoff) + m.harm.prune(cutoff)
}

// Run drives the cleanup loop and, when enabled, the pattern pack watcher.
// It blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if m.cfg.WatchPatterns && m.cfg.PatternFile != "" {
		g.Go(func() error {
			return watchPack(ctx, m.cfg.PatternFile, m.filter, m.logger, nil)
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				m.safeCleanup()
			}
		}
	})
	return g.Wait()
}

func (m *Monitor) safeCleanup() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("safety cleanup panicked, continuing",
				zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	if n := m.Cleanup(); n > 0 {
		m.logger.Info("safety cleanup removed records", zap.Int("removed", n))
	}
}
