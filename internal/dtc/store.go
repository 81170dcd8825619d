package dtc

import "sync"

// Store is the set of currently active trouble codes. It keeps insertion
// order, forbids duplicates and is guarded by a single mutex so that a
// snapshot never observes a half-applied mutation. No caller touches the
// underlying slice directly.
type Store struct {
	mu    sync.Mutex
	codes []Code
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of the active codes in insertion order.
func (s *Store) Snapshot() []Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Code, len(s.codes))
	copy(out, s.codes)
	return out
}

// Len returns the number of active codes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

// InsertIfAbsent appends the code unless it is already active. The
// all-zero pair is rejected outright. Reports whether an insert happened.
func (s *Store) InsertIfAbsent(c Code) bool {
	if c.IsZero() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.codes {
		if have == c {
			return false
		}
	}
	s.codes = append(s.codes, c)
	return true
}

// Remove deletes the code if present, preserving the order of the rest.
func (s *Store) Remove(c Code) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, have := range s.codes {
		if have == c {
			s.codes = append(s.codes[:i], s.codes[i+1:]...)
			return true
		}
	}
	return false
}

// Clear atomically empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	s.codes = nil
	s.mu.Unlock()
}
