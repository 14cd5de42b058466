package incidents

import (
	"sync"
	"time"

	"authwatch/internal/model"
)

// Store keeps the most recent incidents in arrival order. An incident whose
// key is already present replaces the stored record in place.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Incident
	index map[string]int
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit, index: make(map[string]int)}
}

// Upsert reports whether inc was not stored before.
func (s *Store) Upsert(inc model.Incident) bool {
	key := inc.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[key]; ok {
		s.buf[i] = inc
		return false
	}
	if len(s.buf) >= s.limit {
		delete(s.index, s.buf[0].Key())
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:len(s.buf)-1]
		for k, i := range s.index {
			s.index[k] = i - 1
		}
	}
	s.index[key] = len(s.buf)
	s.buf = append(s.buf, inc)
	return true
}

func (s *Store) Get(key string) (model.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[key]
	if !ok {
		return model.Incident{}, false
	}
	return s.buf[i], true
}

// List returns the newest limit incidents, oldest first.
func (s *Store) List(limit int) []model.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Incident, 0, limit)
	out = append(out, s.buf[len(s.buf)-limit:]...)
	return out
}

// Since returns incidents whose window ends at or after ts.
func (s *Store) Since(ts time.Time) []model.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Incident, 0)
	for _, inc := range s.buf {
		if !inc.WindowEnd.Before(ts) {
			out = append(out, inc)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	s.index = make(map[string]int)
}
