package session

import "sync"

// Store holds live sessions by id. Implementations must be safe for
// concurrent use.
type Store interface {
	Put(s *Session)
	Get(id string) (*Session, bool)
	Delete(id string)
	// Range calls fn for each session until fn returns false. fn must not
	// modify the store.
	Range(fn func(*Session) bool)
	Len() int
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (st *MemoryStore) Put(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.id] = s
}

func (st *MemoryStore) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

func (st *MemoryStore) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

func (st *MemoryStore) Range(fn func(*Session) bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, s := range st.sessions {
		if !fn(s) {
			return
		}
	}
}

func (st *MemoryStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
