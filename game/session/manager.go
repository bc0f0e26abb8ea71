package session

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"

	"github.com/wricardo/worldsync/game/config"
	"github.com/wricardo/worldsync/game/engine"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrUsernameRequired = errors.New("username required")
	ErrNameConflict     = errors.New("username already online")
)

// NameConflictError is returned by Register when the username is held by
// another online session
type NameConflictError struct {
	Username  string
	Suggested string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("username %q already online, try %q", e.Username, e.Suggested)
}

func (e *NameConflictError) Is(target error) bool {
	return target == ErrNameConflict
}

// Options configures a Manager
type Options struct {
	OnlineTimeout        time.Duration
	OfflinePolicy        config.OfflinePolicy
	UnknownSessionPolicy config.UnknownSessionPolicy
	PersistFullState     bool

	// Now and NewID are overridable for tests
	Now   func() time.Time
	NewID func() string
}

// binding ties a session id to its current return address and activity
type binding struct {
	addr         net.Addr
	lastActivity time.Time
	// online is the last state the sweep acted on
	online bool
}

// Manager is the single-lock aggregate of World Store, Session Registry,
// Presence Tracker and identity mirror
type Manager struct {
	mu   deadlock.Mutex
	opts Options

	world      map[string]*engine.PlayerState
	sessions   map[string]*binding
	usernames  map[string]string // online username -> session id
	identities Identities
	generation uint64
}

// Snapshot is a broadcast captured under the lock: the online players and
// every bound address to send them to
type Snapshot struct {
	Players    map[string]engine.PlayerState
	Recipients []net.Addr
}

// Registration is the outcome of a successful Register
type Registration struct {
	UUID     string
	Username string
	State    engine.PlayerState
	Resumed  bool
	// FromStore is set when the session was reconstructed from the
	// identity store rather than found in memory
	FromStore bool
	// NameHeld is set on a resume whose username stays indexed to another
	// online session
	NameHeld bool
	Snapshot Snapshot
	// Persist is set when the identity mirror changed
	Persist *IdentitySnapshot
}

// UpdateResult is the outcome of an Update on a known session
type UpdateResult struct {
	Stored engine.PlayerState
	// Correction is the stored state when the candidate position was clamped
	Correction *engine.PlayerState
	Movement   engine.MovementResult
	Snapshot   Snapshot
}

// SessionInfo describes one session for inspection
type SessionInfo struct {
	State    engine.PlayerState `json:"state"`
	Online   bool               `json:"online"`
	LastSeen time.Time          `json:"last_seen"`
	Address  string             `json:"address,omitempty"`
}

// NewManager creates an empty manager
func NewManager(opts Options) *Manager {
	if opts.OnlineTimeout <= 0 {
		opts.OnlineTimeout = 60 * time.Second
	}
	if opts.OfflinePolicy == "" {
		opts.OfflinePolicy = config.OfflineSoft
	}
	if opts.UnknownSessionPolicy == "" {
		opts.UnknownSessionPolicy = config.UnknownSessionReject
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}

	return &Manager{
		opts:       opts,
		world:      make(map[string]*engine.PlayerState),
		sessions:   make(map[string]*binding),
		usernames:  make(map[string]string),
		identities: make(Identities),
	}
}

// LoadIdentities seeds the identity mirror, typically from IdentityStore.Load
// at startup. Entries already known in memory are kept.
func (m *Manager) LoadIdentities(ids Identities) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := 0
	for id, ident := range ids {
		if _, exists := m.identities[id]; exists {
			continue
		}
		if ident.State != nil {
			st := ident.State.Clone()
			ident.State = &st
		}
		m.identities[id] = ident
		loaded++
	}
	return loaded
}

// Register runs the register/resume protocol for a datagram from addr.
// requestedID and username are empty when absent.
func (m *Manager) Register(addr net.Addr, requestedID, username string) (*Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()

	if requestedID != "" {
		if reg, ok := m.resume(addr, requestedID, now); ok {
			return reg, nil
		}
		if m.opts.UnknownSessionPolicy == config.UnknownSessionReject {
			return nil, ErrSessionNotFound
		}
	}

	if username == "" {
		return nil, ErrUsernameRequired
	}

	if m.nameOnline(username, now) {
		return nil, &NameConflictError{
			Username:  username,
			Suggested: engine.SuggestName(username, func(name string) bool { return m.nameOnline(name, now) }),
		}
	}

	id := m.allocateID()
	state := engine.NewPlayerState(id, username)
	m.world[id] = &state
	b := &binding{addr: addr, lastActivity: now}
	m.sessions[id] = b
	m.markOnline(id, b, now)
	m.identities[id] = Identity{Username: username}

	persist := m.identitySnapshotLocked()
	return &Registration{
		UUID:     id,
		Username: username,
		State:    state.Clone(),
		Snapshot: m.snapshotLocked(now),
		Persist:  &persist,
	}, nil
}

// resume rebinds addr to a known session. It reports false when the id is
// unknown to both the World Store and the identity mirror.
func (m *Manager) resume(addr net.Addr, id string, now time.Time) (*Registration, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}

	fromStore := false
	state, inWorld := m.world[id]
	if !inWorld {
		ident, known := m.identities[id]
		if !known {
			return nil, false
		}
		st := engine.NewPlayerState(id, ident.Username)
		if m.opts.PersistFullState && ident.State != nil {
			st = ident.State.Clone()
			st.UUID, st.Username = id, ident.Username
		}
		state = &st
		m.world[id] = state
		fromStore = true
	}

	b, ok := m.sessions[id]
	if !ok {
		b = &binding{}
		m.sessions[id] = b
	}
	b.addr = addr
	b.lastActivity = now
	m.markOnline(id, b, now)

	return &Registration{
		UUID:      id,
		Username:  state.Username,
		State:     state.Clone(),
		Resumed:   true,
		FromStore: fromStore,
		NameHeld:  m.usernames[state.Username] != id,
		Snapshot:  m.snapshotLocked(now),
	}, true
}

// Update applies a transform sample from addr. It reports false when the
// session is unknown, in which case nothing changes.
func (m *Manager) Update(addr net.Addr, id string, candidate engine.PlayerState) (*UpdateResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.world[id]
	if !ok {
		return nil, false
	}
	now := m.opts.Now()

	b := m.sessions[id]
	b.addr = addr
	b.lastActivity = now
	m.markOnline(id, b, now)

	stored := candidate.Clone()
	stored.UUID = id
	stored.Username = prev.Username

	res := engine.ValidateSample(prev, &stored)
	var correction *engine.PlayerState
	if !res.Accepted {
		stored.SetPosition(*res.Corrected)
		c := stored.Clone()
		correction = &c
	}
	m.world[id] = &stored

	return &UpdateResult{
		Stored:     stored.Clone(),
		Correction: correction,
		Movement:   res,
		Snapshot:   m.snapshotLocked(now),
	}, true
}

// Heartbeat refreshes activity for a known session. It never rebinds the
// address and never changes the stored state.
func (m *Manager) Heartbeat(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.sessions[id]
	if !ok {
		return false
	}
	now := m.opts.Now()
	b.lastActivity = now
	m.markOnline(id, b, now)
	return true
}

// Get returns one session, in memory or known only to the identity mirror
func (m *Manager) Get(id string) (*SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()
	if state, ok := m.world[id]; ok {
		info := m.infoLocked(id, state, now)
		return &info, nil
	}
	if ident, ok := m.identities[id]; ok {
		return &SessionInfo{State: engine.NewPlayerState(id, ident.Username)}, nil
	}
	return nil, ErrSessionNotFound
}

// List returns every session in the World Store, sorted by username
func (m *Manager) List() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()
	result := make([]SessionInfo, 0, len(m.world))
	for id, state := range m.world {
		result = append(result, m.infoLocked(id, state, now))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].State.Username == result[j].State.Username {
			return result[i].State.UUID < result[j].State.UUID
		}
		return result[i].State.Username < result[j].State.Username
	})
	return result
}

// Snapshot captures the current online snapshot and recipients
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.opts.Now())
}

// IdentitySnapshot captures the identity mirror for persistence
func (m *Manager) IdentitySnapshot() IdentitySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identitySnapshotLocked()
}

// Counts returns the number of sessions in the World Store, online
// sessions, and identities known to the mirror
func (m *Manager) Counts() (total, online, identities int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()
	for id := range m.world {
		if m.onlineLocked(id, now) {
			online++
		}
	}
	return len(m.world), online, len(m.identities)
}

// allocateID returns a fresh id unknown to memory and the identity mirror
func (m *Manager) allocateID() string {
	for {
		id := m.opts.NewID()
		_, inWorld := m.world[id]
		_, inStore := m.identities[id]
		if !inWorld && !inStore {
			return id
		}
	}
}

// markOnline flags the binding online and claims its username in the index
// unless another online session holds it
func (m *Manager) markOnline(id string, b *binding, now time.Time) {
	b.online = true
	state, ok := m.world[id]
	if !ok {
		return
	}
	holder, held := m.usernames[state.Username]
	if !held || holder == id || !m.onlineLocked(holder, now) {
		m.usernames[state.Username] = id
	}
}

// nameOnline reports whether an online session carries username. A missing
// or stale index entry falls back to scanning the world and is repaired.
func (m *Manager) nameOnline(username string, now time.Time) bool {
	if holder, ok := m.usernames[username]; ok && m.onlineLocked(holder, now) {
		return true
	}
	id, ok := m.scanOnlineNameLocked(username, now)
	if ok {
		m.usernames[username] = id
	}
	return ok
}

func (m *Manager) infoLocked(id string, state *engine.PlayerState, now time.Time) SessionInfo {
	info := SessionInfo{State: state.Clone()}
	if b, ok := m.sessions[id]; ok {
		info.Online = m.onlineLocked(id, now)
		info.LastSeen = b.lastActivity
		if b.addr != nil {
			info.Address = b.addr.String()
		}
	}
	return info
}

func (m *Manager) snapshotLocked(now time.Time) Snapshot {
	snap := Snapshot{Players: make(map[string]engine.PlayerState)}
	for id, state := range m.world {
		if m.onlineLocked(id, now) {
			snap.Players[id] = state.Clone()
		}
	}
	for _, b := range m.sessions {
		if b.addr != nil {
			snap.Recipients = append(snap.Recipients, b.addr)
		}
	}
	return snap
}

func (m *Manager) identitySnapshotLocked() IdentitySnapshot {
	m.generation++
	ids := m.identities.Clone()
	if m.opts.PersistFullState {
		for id, ident := range ids {
			if state, ok := m.world[id]; ok {
				st := state.Clone()
				ident.State = &st
				ids[id] = ident
			}
		}
	} else {
		for id, ident := range ids {
			ident.State = nil
			ids[id] = ident
		}
	}
	return IdentitySnapshot{Generation: m.generation, Identities: ids}
}
