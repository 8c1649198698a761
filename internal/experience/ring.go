package experience

import (
	"math/rand/v2"
	"sync"
)

// RingBuffer is a bounded FIFO. Once full, each Store overwrites the oldest
// slot.
type RingBuffer struct {
	mu    sync.Mutex
	slots []*Experience
	next  int
	count int
	rng   *rand.Rand
}

// NewRingBuffer returns a buffer holding at most capacity experiences.
func NewRingBuffer(capacity int, rng *rand.Rand) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RingBuffer{slots: make([]*Experience, capacity), rng: rng}, nil
}

func (b *RingBuffer) Store(exp *Experience) (int, *Experience) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.storeLocked(exp)
}

func (b *RingBuffer) storeLocked(exp *Experience) (int, *Experience) {
	slot := b.next
	evicted := b.slots[slot]
	b.slots[slot] = exp
	if evicted == nil {
		b.count++
	}
	b.next = (b.next + 1) % len(b.slots)
	return slot, evicted
}

func (b *RingBuffer) Sample(n int) []*Experience {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sampleLocked(n)
}

func (b *RingBuffer) sampleLocked(n int) []*Experience {
	if n <= 0 || b.count == 0 {
		return nil
	}
	occupied := b.occupiedLocked()
	if n > len(occupied) {
		n = len(occupied)
	}
	out := make([]*Experience, 0, n)
	for _, i := range b.rng.Perm(len(occupied))[:n] {
		out = append(out, b.slots[occupied[i]])
	}
	return out
}

func (b *RingBuffer) occupiedLocked() []int {
	idx := make([]int, 0, b.count)
	for i, e := range b.slots {
		if e != nil {
			idx = append(idx, i)
		}
	}
	return idx
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *RingBuffer) Cap() int {
	return len(b.slots)
}

func (b *RingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.slots)
	b.next, b.count = 0, 0
}

// Items returns stored experiences from oldest to newest.
func (b *RingBuffer) Items() []*Experience {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Experience, 0, b.count)
	for i := range b.slots {
		if e := b.slots[(b.next+i)%len(b.slots)]; e != nil {
			out = append(out, e)
		}
	}
	return out
}

// RemoveIf deletes every experience matching pred. Survivors are compacted
// to the front in FIFO order, so the freed capacity is used before anything
// is evicted.
func (b *RingBuffer) RemoveIf(pred func(*Experience) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed, _ := b.removeIfLocked(pred)
	return len(removed)
}

// removeIfLocked returns the removed experiences and, when anything was
// removed, the old slot of every survivor keyed by its new slot.
func (b *RingBuffer) removeIfLocked(pred func(*Experience) bool) ([]*Experience, []int) {
	var removed []*Experience
	kept := make([]int, 0, b.count)
	for i := range b.slots {
		slot := (b.next + i) % len(b.slots)
		e := b.slots[slot]
		if e == nil {
			continue
		}
		if pred(e) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, slot)
	}
	if len(removed) == 0 {
		return nil, nil
	}

	compact := make([]*Experience, len(b.slots))
	for to, from := range kept {
		compact[to] = b.slots[from]
	}
	b.slots = compact
	b.count = len(kept)
	b.next = b.count % len(b.slots)
	return removed, kept
}
