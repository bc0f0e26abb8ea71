package session

import (
	"github.com/wricardo/worldsync/game/engine"
)

// Identity is the durable part of one session
type Identity struct {
	Username string
	// State is the last known transform; only kept in full-state mode
	State *engine.PlayerState
}

// Identities maps session id to its durable identity
type Identities map[string]Identity

// Clone returns a deep copy
func (ids Identities) Clone() Identities {
	out := make(Identities, len(ids))
	for id, ident := range ids {
		if ident.State != nil {
			st := ident.State.Clone()
			ident.State = &st
		}
		out[id] = ident
	}
	return out
}

// IdentitySnapshot is a point-in-time copy of the identity mirror.
// Generation increases with every snapshot taken from a Manager.
type IdentitySnapshot struct {
	Generation uint64
	Identities Identities
}

// IdentityStore is the durable record that survives restarts
type IdentityStore interface {
	// Load returns the stored identities. A missing or unreadable record
	// yields an empty set; failures are logged, never returned.
	Load() Identities

	// Save atomically replaces the stored record
	Save(ids Identities) error

	// Close releases underlying resources
	Close() error
}

// NopStore keeps nothing
type NopStore struct{}

func (NopStore) Load() Identities        { return Identities{} }
func (NopStore) Save(_ Identities) error { return nil }
func (NopStore) Close() error            { return nil }
