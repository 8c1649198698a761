package bus

import (
	"context"
	"sync"
)

// Memory delivers messages synchronously in the publishing goroutine.
type Memory struct {
	mu     sync.RWMutex
	subs   map[uint64]memorySub
	nextID uint64
	closed bool
}

type memorySub struct {
	pattern string
	handler Handler
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[uint64]memorySub)}
}

func (m *Memory) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validSubject(subject, false); err != nil {
		return err
	}
	data, err := encode(payload)
	if err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	var handlers []Handler
	for _, s := range m.subs {
		if Match(s.pattern, subject) {
			handlers = append(handlers, s.handler)
		}
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, subject, data)
	}
	return nil
}

func (m *Memory) Subscribe(subject string, h Handler) (Subscription, error) {
	if err := validSubject(subject, true); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.nextID++
	id := m.nextID
	m.subs[id] = memorySub{pattern: subject, handler: h}
	return &memorySubscription{bus: m, id: id}, nil
}

// Close drops every subscription. Further use returns ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	clear(m.subs)
	return nil
}

type memorySubscription struct {
	bus *Memory
	id  uint64
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}
