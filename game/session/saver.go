package session

import (
	"github.com/sasha-s/go-deadlock"
)

// Saver serializes writes to an IdentityStore. A snapshot whose generation
// is not newer than the last one written is discarded, so a slow writer
// can never replace newer data with older data.
type Saver struct {
	mu    deadlock.Mutex
	store IdentityStore
	last  uint64
}

// NewSaver wraps store; a nil store becomes NopStore
func NewSaver(store IdentityStore) *Saver {
	if store == nil {
		store = NopStore{}
	}
	return &Saver{store: store}
}

// Save writes snap unless a newer snapshot was already written.
// It reports whether a write was attempted.
func (s *Saver) Save(snap IdentitySnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Generation <= s.last {
		return false, nil
	}
	if err := s.store.Save(snap.Identities); err != nil {
		return true, err
	}
	s.last = snap.Generation
	return true, nil
}

// LastGeneration returns the generation of the last successful write
func (s *Saver) LastGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
