package experience

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
)

const (
	// DefaultAlpha controls how strongly priority skews sampling.
	DefaultAlpha = 0.6
	// DefaultBeta is the importance-sampling correction exponent.
	DefaultBeta = 0.4

	priorityEpsilon = 1e-6
)

// PrioritizedBuffer is a ring buffer whose slots carry sampling priorities.
// Priorities and the conversation/user groupings move in lock-step with
// slot eviction.
type PrioritizedBuffer struct {
	mu         sync.Mutex
	ring       *RingBuffer
	priorities []float64
	alpha      float64

	byConversation map[string]map[int]struct{}
	byUser         map[string]map[int]struct{}
}

// NewPrioritizedBuffer returns a buffer with the given capacity. alpha <= 0
// selects DefaultAlpha.
func NewPrioritizedBuffer(capacity int, alpha float64, rng *rand.Rand) (*PrioritizedBuffer, error) {
	ring, err := NewRingBuffer(capacity, rng)
	if err != nil {
		return nil, err
	}
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	return &PrioritizedBuffer{
		ring:           ring,
		priorities:     make([]float64, capacity),
		alpha:          alpha,
		byConversation: make(map[string]map[int]struct{}),
		byUser:         make(map[string]map[int]struct{}),
	}, nil
}

func (b *PrioritizedBuffer) priority(v float64) float64 {
	return math.Pow(math.Abs(v)+priorityEpsilon, b.alpha)
}

// Store adds exp with priority derived from its reward total.
func (b *PrioritizedBuffer) Store(exp *Experience) (int, *Experience) {
	b.mu.Lock()
	defer b.mu.Unlock()

	slot, evicted := b.ring.storeLocked(exp)
	if evicted != nil {
		b.ungroup(slot, evicted)
	}
	b.priorities[slot] = b.priority(exp.Total())
	group(b.byConversation, exp.ConversationID, slot)
	group(b.byUser, exp.UserID, slot)
	return slot, evicted
}

func group(m map[string]map[int]struct{}, key string, slot int) {
	if key == "" {
		return
	}
	set, ok := m[key]
	if !ok {
		set = make(map[int]struct{})
		m[key] = set
	}
	set[slot] = struct{}{}
}

func ungroup(m map[string]map[int]struct{}, key string, slot int) {
	if set, ok := m[key]; ok {
		delete(set, slot)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

func (b *PrioritizedBuffer) ungroup(slot int, exp *Experience) {
	ungroup(b.byConversation, exp.ConversationID, slot)
	ungroup(b.byUser, exp.UserID, slot)
	b.priorities[slot] = 0
}

// Sample draws up to n distinct experiences uniformly.
func (b *PrioritizedBuffer) Sample(n int) []*Experience {
	return b.SampleUniform(n)
}

func (b *PrioritizedBuffer) SampleUniform(n int) []*Experience {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.sampleLocked(n)
}

// SamplePrioritized draws n experiences with replacement, slot i chosen with
// probability P(i) = p_i / sum(p). Weights are the importance-sampling
// corrections (N*P(i))^-beta normalized by their maximum.
func (b *PrioritizedBuffer) SamplePrioritized(n int, beta float64) ([]*Experience, []int, []float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || b.ring.count == 0 {
		return nil, nil, nil
	}
	if beta < 0 {
		beta = DefaultBeta
	}

	occupied := b.ring.occupiedLocked()
	cum := make([]float64, len(occupied))
	var sum float64
	for i, slot := range occupied {
		sum += b.priorities[slot]
		cum[i] = sum
	}

	batch := make([]*Experience, n)
	indices := make([]int, n)
	weights := make([]float64, n)
	total := float64(len(occupied))
	maxW := 0.0
	for k := 0; k < n; k++ {
		target := b.ring.rng.Float64() * sum
		i := sort.SearchFloat64s(cum, target)
		if i >= len(occupied) {
			i = len(occupied) - 1
		}
		slot := occupied[i]
		p := b.priorities[slot] / sum
		w := math.Pow(total*p, -beta)

		batch[k] = b.ring.slots[slot]
		indices[k] = slot
		weights[k] = w
		maxW = max(maxW, w)
	}
	if maxW > 0 {
		for k := range weights {
			weights[k] /= maxW
		}
	}
	return batch, indices, weights
}

// UpdatePriorities sets the priority of each slot from its TD error. Slots
// that have since been emptied are skipped.
func (b *PrioritizedBuffer) UpdatePriorities(indices []int, tdErrors []float64) error {
	if len(indices) != len(tdErrors) {
		return fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(indices), len(tdErrors))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, slot := range indices {
		if slot < 0 || slot >= len(b.priorities) {
			return fmt.Errorf("slot %d out of range [0,%d)", slot, len(b.priorities))
		}
		if b.ring.slots[slot] == nil {
			continue
		}
		b.priorities[slot] = b.priority(tdErrors[k])
	}
	return nil
}

// Priority returns the priority of slot, or 0 for an empty slot.
func (b *PrioritizedBuffer) Priority(slot int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slot < 0 || slot >= len(b.priorities) {
		return 0
	}
	return b.priorities[slot]
}

// ByConversation returns the stored experiences of a conversation, oldest
// first.
func (b *PrioritizedBuffer) ByConversation(id string) []*Experience {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collect(b.byConversation[id])
}

// ByUser returns the stored experiences of a user, oldest first.
func (b *PrioritizedBuffer) ByUser(id string) []*Experience {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collect(b.byUser[id])
}

func (b *PrioritizedBuffer) collect(set map[int]struct{}) []*Experience {
	out := make([]*Experience, 0, len(set))
	for slot := range set {
		if e := b.ring.slots[slot]; e != nil {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, c *Experience) int {
		return a.Timestamp.Compare(c.Timestamp)
	})
	return out
}

// RemoveIf deletes every experience matching pred and returns the number
// removed. Survivors keep their priorities but move to new slots, so
// indices from earlier samples no longer apply.
func (b *PrioritizedBuffer) RemoveIf(pred func(*Experience) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed, kept := b.ring.removeIfLocked(pred)
	if len(removed) == 0 {
		return 0
	}

	priorities := make([]float64, len(b.priorities))
	clear(b.byConversation)
	clear(b.byUser)
	for to, from := range kept {
		priorities[to] = b.priorities[from]
		e := b.ring.slots[to]
		group(b.byConversation, e.ConversationID, to)
		group(b.byUser, e.UserID, to)
	}
	b.priorities = priorities
	return len(removed)
}

func (b *PrioritizedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.count
}

func (b *PrioritizedBuffer) Cap() int {
	return b.ring.Cap()
}

func (b *PrioritizedBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.ring.slots)
	b.ring.next, b.ring.count = 0, 0
	clear(b.priorities)
	clear(b.byConversation)
	clear(b.byUser)
}

// MeanPriority is the mean priority over occupied slots.
func (b *PrioritizedBuffer) MeanPriority() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ring.count == 0 {
		return 0
	}
	var sum float64
	for i, e := range b.ring.slots {
		if e != nil {
			sum += b.priorities[i]
		}
	}
	return sum / float64(b.ring.count)
}
