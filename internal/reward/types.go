package reward

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"
)

// Component names one reward objective.
type Component string

const (
	Helpfulness     Component = "helpfulness"
	Accuracy        Component = "accuracy"
	Engagement      Component = "engagement"
	Safety          Component = "safety"
	Learning        Component = "learning_effectiveness"
	Personalization Component = "personalization"
	Efficiency      Component = "efficiency"
	Creativity      Component = "creativity"
)

// Components lists every objective in a stable order.
var Components = []Component{
	Helpfulness, Accuracy, Engagement, Safety,
	Learning, Personalization, Efficiency, Creativity,
}

// weightTolerance is how far the weight sum may drift from 1.
const weightTolerance = 0.01

// Weights maps each component to its share of the total.
type Weights map[Component]float64

// DefaultWeights returns the stock weighting.
func DefaultWeights() Weights {
	return Weights{
		Helpfulness:     0.25,
		Accuracy:        0.20,
		Engagement:      0.10,
		Safety:          0.15,
		Learning:        0.10,
		Personalization: 0.08,
		Efficiency:      0.07,
		Creativity:      0.05,
	}
}

// WeightsFromMap converts string-keyed weights, as found in configuration.
func WeightsFromMap(m map[string]float64) Weights {
	w := make(Weights, len(m))
	for k, v := range m {
		w[Component(k)] = v
	}
	return w
}

// Validate requires every component, no negatives, and a sum within 1±0.01.
func (w Weights) Validate() error {
	var sum float64
	for _, c := range Components {
		v, ok := w[c]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrInvalidWeights, c)
		}
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: %s is %v", ErrInvalidWeights, c, v)
		}
		sum += v
	}
	if len(w) != len(Components) {
		return fmt.Errorf("%w: unknown component present", ErrInvalidWeights)
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: sum is %.4f, must be 1±%.2f", ErrInvalidWeights, sum, weightTolerance)
	}
	return nil
}

// Clone returns an independent copy.
func (w Weights) Clone() Weights {
	return maps.Clone(w)
}

func (w Weights) normalize() {
	var sum float64
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		for c := range w {
			w[c] = 1 / float64(len(w))
		}
		return
	}
	for c, v := range w {
		w[c] = v / sum
	}
}

// MultiObjectiveReward is a scored turn. It is immutable once returned by
// the calculator.
type MultiObjectiveReward struct {
	components   map[Component]float64
	weights      Weights
	total        float64
	confidence   float64
	warnings     []string
	calculatedAt time.Time
}

// New builds a reward from explicit component scores, clamping each to
// [0,1] and applying the safety penalty at the default threshold. Missing
// components score 0. Confidence starts at 1.
func New(components map[Component]float64, weights Weights) (*MultiObjectiveReward, error) {
	if weights == nil {
		weights = DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	r := &MultiObjectiveReward{
		components:   make(map[Component]float64, len(Components)),
		weights:      weights.Clone(),
		confidence:   1,
		calculatedAt: time.Now().UTC(),
	}
	for _, c := range Components {
		r.components[c] = clamp01(components[c])
	}
	r.total = weightedTotal(r.components, r.weights, DefaultSafetyThreshold)
	return r, nil
}

// Component returns the score for c.
func (r *MultiObjectiveReward) Component(c Component) float64 {
	return r.components[c]
}

// Components returns a copy of all component scores.
func (r *MultiObjectiveReward) Components() map[Component]float64 {
	return maps.Clone(r.components)
}

func (r *MultiObjectiveReward) Weights() Weights { return r.weights.Clone() }

// Total is the safety-penalized weighted sum.
func (r *MultiObjectiveReward) Total() float64 { return r.total }

// Confidence is the sample weight in [0,1].
func (r *MultiObjectiveReward) Confidence() float64 { return r.confidence }

// Warnings lists validation findings that reduced confidence.
func (r *MultiObjectiveReward) Warnings() []string { return slices.Clone(r.warnings) }

func (r *MultiObjectiveReward) CalculatedAt() time.Time { return r.calculatedAt }

// weightedTotal sums weight*score and scales the result down when safety is
// below threshold.
func weightedTotal(components map[Component]float64, weights Weights, threshold float64) float64 {
	var total float64
	for _, c := range Components {
		total += weights[c] * components[c]
	}
	if s := components[Safety]; threshold > 0 && s < threshold {
		total *= s / threshold
	}
	return clamp01(total)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
