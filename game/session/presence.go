package session

import (
	"net"
	"time"

	"github.com/wricardo/worldsync/game/config"
)

// Transition records a session that crossed from online to offline
type Transition struct {
	UUID     string
	Username string
	Addr     net.Addr
	// Evicted is set under the evict policy: the session is gone entirely
	Evicted bool
}

// SweepResult is the outcome of one presence sweep
type SweepResult struct {
	Transitions []Transition
	// Snapshot and Persist are only set when there were transitions
	Snapshot *Snapshot
	Persist  *IdentitySnapshot
}

// Online reports whether the session was active within the online timeout
func (m *Manager) Online(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onlineLocked(id, m.opts.Now())
}

func (m *Manager) onlineLocked(id string, now time.Time) bool {
	b, ok := m.sessions[id]
	return ok && now.Sub(b.lastActivity) < m.opts.OnlineTimeout
}

// Sweep marks every session that has just crossed the online timeout as
// offline. Under the soft policy the session stays in the World Store; under
// the evict policy it is removed from the world, bindings and username index.
// Either way the identity stays in the mirror, so the session can resume.
func (m *Manager) Sweep() SweepResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()
	var result SweepResult

	for id, b := range m.sessions {
		if !b.online || m.onlineLocked(id, now) {
			continue
		}
		b.online = false

		t := Transition{UUID: id, Addr: b.addr}
		state, inWorld := m.world[id]
		if inWorld {
			t.Username = state.Username
		}

		if m.opts.OfflinePolicy == config.OfflineEvict {
			if ident, known := m.identities[id]; known && inWorld && m.opts.PersistFullState {
				st := state.Clone()
				ident.State = &st
				m.identities[id] = ident
			}
			delete(m.world, id)
			delete(m.sessions, id)
			t.Evicted = true
		}
		if inWorld {
			if holder, held := m.usernames[state.Username]; held && holder == id {
				m.releaseNameLocked(state.Username, now)
			}
		}
		result.Transitions = append(result.Transitions, t)
	}

	if len(result.Transitions) > 0 {
		snap := m.snapshotLocked(now)
		persist := m.identitySnapshotLocked()
		result.Snapshot = &snap
		result.Persist = &persist
	}
	return result
}

// releaseNameLocked drops username from the index, handing it to another
// online session that carries the same name
func (m *Manager) releaseNameLocked(username string, now time.Time) {
	delete(m.usernames, username)
	if id, ok := m.scanOnlineNameLocked(username, now); ok {
		m.usernames[username] = id
	}
}

// scanOnlineNameLocked finds an online session with username in the world
func (m *Manager) scanOnlineNameLocked(username string, now time.Time) (string, bool) {
	for id, state := range m.world {
		if state.Username == username && m.onlineLocked(id, now) {
			return id, true
		}
	}
	return "", false
}
