package reward

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"go.uber.org/zap"
)

const (
	DefaultSafetyThreshold   = 0.7
	DefaultAdaptationRate    = 0.01
	DefaultHistorySize       = 50
	DefaultMinOutlierSamples = 10

	saturationLimit      = 0.99
	unsafeComponentLimit = 0.5
	lowConfidenceLimit   = 0.1
	validationPenalty    = 0.5
	outlierPenalty       = 0.7
	outlierStdDevs       = 3.0
)

// Config tunes the calculator.
type Config struct {
	Weights           Weights
	AdaptationRate    float64
	SafetyThreshold   float64
	HistorySize       int
	MinOutlierSamples int
	OptimalMinLength  int
	OptimalMaxLength  int
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights(),
		AdaptationRate:    DefaultAdaptationRate,
		SafetyThreshold:   DefaultSafetyThreshold,
		HistorySize:       DefaultHistorySize,
		MinOutlierSamples: DefaultMinOutlierSamples,
		OptimalMinLength:  50,
		OptimalMaxLength:  500,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Weights == nil {
		c.Weights = d.Weights
	}
	if c.AdaptationRate <= 0 {
		c.AdaptationRate = d.AdaptationRate
	}
	if c.SafetyThreshold <= 0 {
		c.SafetyThreshold = d.SafetyThreshold
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.MinOutlierSamples <= 0 {
		c.MinOutlierSamples = d.MinOutlierSamples
	}
	if c.OptimalMinLength <= 0 {
		c.OptimalMinLength = d.OptimalMinLength
	}
	if c.OptimalMaxLength <= c.OptimalMinLength {
		c.OptimalMaxLength = d.OptimalMaxLength
	}
}

// Calculator turns feedback for a turn into a MultiObjectiveReward. It keeps
// a bounded history of totals for outlier detection and is safe for
// concurrent use.
type Calculator struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	weights Weights
	history *history
}

// NewCalculator validates cfg.Weights and returns a calculator.
func NewCalculator(cfg Config, logger *zap.Logger) (*Calculator, error) {
	cfg.applyDefaults()
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := cfg.Weights.Clone()
	w.normalize()
	return &Calculator{
		cfg:     cfg,
		logger:  logger,
		weights: w,
		history: newHistory(cfg.HistorySize),
	}, nil
}

// Calculate scores action within state. feedback and quality may be empty.
// The returned reward always has every component and its confidence in [0,1].
func (c *Calculator) Calculate(
	ctx context.Context,
	state *conversation.State,
	action conversation.Action,
	feedback []conversation.FeedbackEvent,
	quality map[string]float64,
) *MultiObjectiveReward {
	sig := collectSignals(feedback, quality)

	var text string
	var actionConfidence float64 = 1
	if action != nil {
		text = action.Common().ResponseText
		actionConfidence = action.Common().Confidence
	}

	s := &scorer{
		state:    state,
		action:   action,
		text:     text,
		sig:      sig,
		bandLow:  c.cfg.OptimalMinLength,
		bandHigh: c.cfg.OptimalMaxLength,
	}
	components := s.score()

	c.mu.Lock()
	defer c.mu.Unlock()

	r := &MultiObjectiveReward{
		components:   components,
		weights:      c.weights.Clone(),
		confidence:   signalConfidence(sig),
		calculatedAt: time.Now().UTC(),
	}
	r.total = weightedTotal(components, r.weights, c.cfg.SafetyThreshold)

	c.validate(r, actionConfidence)
	c.checkOutlier(r)
	c.history.add(r.total, components)

	r.confidence = clamp01(r.confidence)
	if len(r.warnings) > 0 {
		c.logger.Debug("reward down-weighted",
			zap.Float64("total", r.total),
			zap.Float64("confidence", r.confidence),
			zap.Strings("warnings", r.warnings),
		)
	}
	return r
}

// signalConfidence grows with the number of distinct signal kinds present,
// from 0.4 with none to 1.0 with all four.
func signalConfidence(sig signals) float64 {
	return 0.4 + 0.15*float64(sig.kinds())
}

// validate applies a single confidence penalty if any component is
// saturated, safety is too low, or the producing action had near-zero
// confidence.
func (c *Calculator) validate(r *MultiObjectiveReward, actionConfidence float64) {
	var failed bool
	for _, comp := range Components {
		if comp == Efficiency {
			// Length inside the optimal band is expected, not suspicious.
			continue
		}
		if r.components[comp] > saturationLimit {
			r.warnings = append(r.warnings, fmt.Sprintf("%s saturated at %.3f", comp, r.components[comp]))
			failed = true
		}
	}
	if s := r.components[Safety]; s < unsafeComponentLimit {
		r.warnings = append(r.warnings, fmt.Sprintf("safety below %.1f: %.3f", unsafeComponentLimit, s))
		failed = true
	}
	if actionConfidence < lowConfidenceLimit || r.confidence < lowConfidenceLimit {
		r.warnings = append(r.warnings, "confidence below 0.1")
		failed = true
	}
	if failed {
		r.confidence *= validationPenalty
	}
}

func (c *Calculator) checkOutlier(r *MultiObjectiveReward) {
	if c.history.len() < c.cfg.MinOutlierSamples {
		return
	}
	mean, std := c.history.totalStats()
	if std == 0 {
		return
	}
	if math.Abs(r.total-mean) > outlierStdDevs*std {
		r.warnings = append(r.warnings, fmt.Sprintf("outlier: %.3f vs mean %.3f±%.3f", r.total, mean, std))
		r.confidence *= outlierPenalty
	}
}

// Weights returns the current weights.
func (c *Calculator) Weights() Weights {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weights.Clone()
}

// AdaptWeights blends the current weights toward preferences:
// w = (1-rate)*w + rate*pref, then renormalizes to sum 1. Components absent
// from preferences keep their weight before normalization. A rate <= 0 uses
// the configured adaptation rate.
func (c *Calculator) AdaptWeights(preferences Weights, rate float64) error {
	if rate <= 0 {
		rate = c.cfg.AdaptationRate
	}
	if rate > 1 {
		return fmt.Errorf("%w: rate %v exceeds 1", ErrInvalidPreferences, rate)
	}
	for comp, v := range preferences {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: %s is %v", ErrInvalidPreferences, comp, v)
		}
		if _, known := DefaultWeights()[comp]; !known {
			return fmt.Errorf("%w: unknown component %s", ErrInvalidPreferences, comp)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.weights.Clone()
	for comp, pref := range preferences {
		next[comp] = (1-rate)*next[comp] + rate*pref
	}
	next.normalize()
	c.weights = next
	return nil
}

// Statistics summarizes the recent reward history.
func (c *Calculator) Statistics() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.statistics()
}
