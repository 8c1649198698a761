package feedback

import (
	"slices"
	"sync"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
)

// maxEventsPerTurn bounds the feedback kept for one turn. The oldest events
// go first.
const maxEventsPerTurn = 64

type turnRecord struct {
	events       []conversation.FeedbackEvent
	experienceID string
}

type conversationRecord struct {
	userID string
	turns  map[int]*turnRecord
}

// history keeps the feedback received per turn, so a late event is scored
// together with everything before it and replaces the turn's experience.
// Conversations are dropped oldest first beyond capacity.
type history struct {
	mu       sync.Mutex
	capacity int
	order    []string
	convs    map[string]*conversationRecord
}

func newHistory(capacity int) *history {
	return &history{
		capacity: capacity,
		convs:    make(map[string]*conversationRecord),
	}
}

// add appends events to the turn and returns every event kept for it, along
// with the id of the experience last stored for it.
func (h *history) add(k turnKey, userID string, events []conversation.FeedbackEvent) ([]conversation.FeedbackEvent, string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conv, ok := h.convs[k.conversationID]
	if !ok {
		conv = &conversationRecord{userID: userID, turns: make(map[int]*turnRecord)}
		h.convs[k.conversationID] = conv
		h.order = append(h.order, k.conversationID)
		for len(h.order) > h.capacity {
			delete(h.convs, h.order[0])
			h.order = h.order[1:]
		}
	}
	rec, ok := conv.turns[k.turnIndex]
	if !ok {
		rec = &turnRecord{}
		conv.turns[k.turnIndex] = rec
	}
	rec.events = append(rec.events, events...)
	if over := len(rec.events) - maxEventsPerTurn; over > 0 {
		rec.events = slices.Clone(rec.events[over:])
	}
	return slices.Clone(rec.events), rec.experienceID
}

// setExperience records the experience now standing for the turn. An empty
// id means none is stored.
func (h *history) setExperience(k turnKey, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conv, ok := h.convs[k.conversationID]; ok {
		if rec, ok := conv.turns[k.turnIndex]; ok {
			rec.experienceID = id
		}
	}
}

func (h *history) drop(conversationIDs ...string) {
	if len(conversationIDs) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(func(id string) bool { return slices.Contains(conversationIDs, id) })
}

func (h *history) dropUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(func(id string) bool { return h.convs[id].userID == userID })
}

func (h *history) dropLocked(match func(id string) bool) {
	h.order = slices.DeleteFunc(h.order, func(id string) bool {
		if match(id) {
			delete(h.convs, id)
			return true
		}
		return false
	})
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.convs)
}
