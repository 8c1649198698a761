package feedback

import (
	"slices"
	"sync"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
)

// archive is a bounded FIFO of ended conversations keyed by id.
type archive struct {
	mu       sync.Mutex
	capacity int
	order    []string
	states   map[string]*conversation.State
}

func newArchive(capacity int) *archive {
	return &archive{
		capacity: capacity,
		states:   make(map[string]*conversation.State, capacity),
	}
}

// put stores a snapshot of state and returns the ids of conversations
// evicted to make room.
func (a *archive) put(state *conversation.State) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := state.ConversationID
	if _, ok := a.states[id]; !ok {
		a.order = append(a.order, id)
	}
	a.states[id] = state.Snapshot()

	var evicted []string
	for len(a.order) > a.capacity {
		evicted = append(evicted, a.order[0])
		delete(a.states, a.order[0])
		a.order = a.order[1:]
	}
	return evicted
}

func (a *archive) dropUser(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.order = slices.DeleteFunc(a.order, func(id string) bool {
		if a.states[id].UserID == userID {
			delete(a.states, id)
			return true
		}
		return false
	})
}

func (a *archive) get(id string) (*conversation.State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[id]
	return s, ok
}

func (a *archive) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.states)
}
