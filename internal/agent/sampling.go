package agent

import (
	"fmt"
	"math"
	"sort"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
)

// DefaultStrategy is used when inference returns no strategy distribution.
const DefaultStrategy = "direct"

// sample draws an index from weights in proportion to their values and
// returns it with its normalized probability.
func sample(weights []float64, rng RandSource) (int, float64, error) {
	var sum float64
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return 0, 0, fmt.Errorf("invalid weight %v at %d", w, i)
		}
		sum += w
	}
	if sum <= 0 {
		return 0, 0, fmt.Errorf("distribution sums to %v", sum)
	}

	target := rng.Float64() * sum
	var acc float64
	last := 0
	for i, w := range weights {
		if w == 0 {
			continue
		}
		acc += w
		last = i
		if target < acc {
			return i, w / sum, nil
		}
	}
	// Rounding can leave target just above the final cumulative sum.
	return last, weights[last] / sum, nil
}

// sampleKind draws an action kind. Kinds are visited in ActionKinds order
// so a seeded source gives reproducible choices.
func sampleKind(probs map[conversation.ActionKind]float64, rng RandSource) (conversation.ActionKind, float64, error) {
	for k := range probs {
		if !k.Valid() {
			return "", 0, fmt.Errorf("%w: %w: %q", ErrInferenceFailed, conversation.ErrUnknownActionKind, k)
		}
	}
	weights := make([]float64, len(conversation.ActionKinds))
	for i, k := range conversation.ActionKinds {
		weights[i] = probs[k]
	}
	i, p, err := sample(weights, rng)
	if err != nil {
		return "", 0, fmt.Errorf("%w: action distribution: %w", ErrInferenceFailed, err)
	}
	return conversation.ActionKinds[i], p, nil
}

// sampleStrategy draws a strategy name, visiting names in sorted order.
func sampleStrategy(probs map[string]float64, rng RandSource) (string, error) {
	if len(probs) == 0 {
		return DefaultStrategy, nil
	}
	names := make([]string, 0, len(probs))
	for name := range probs {
		names = append(names, name)
	}
	sort.Strings(names)
	weights := make([]float64, len(names))
	for i, name := range names {
		weights[i] = probs[name]
	}
	i, _, err := sample(weights, rng)
	if err != nil {
		return "", fmt.Errorf("%w: strategy distribution: %w", ErrInferenceFailed, err)
	}
	return names[i], nil
}
