// Package session provides the authoritative session state of the synchronizer.
//
// The session package implements:
//   - The World Store (session id → latest PlayerState)
//   - The Session Registry (address bindings, username index, register/resume)
//   - The Presence Tracker (last activity, online predicate, timeout sweep)
//   - The in-memory identity mirror and its durable stores
//
// Core Types:
//
// Manager owns every map behind a single mutex. Each exported method takes
// the lock once, applies its whole change, and returns copies (including the
// broadcast Snapshot and any IdentitySnapshot to persist) so callers perform
// network and disk I/O after the lock is released. A concurrent reader can
// never observe a username indexed without its World Store entry.
//
// IdentityStore is the durable record of session id → username (and, in
// full-state mode, the last transform). FileStore writes one checksummed
// JSON record atomically; SQLiteStore keeps the same data in a table.
// Saver serializes writes and discards snapshots older than the last one
// written.
//
// Session Lifecycle:
//
//	Unregistered → Active → Idle (offline) → Active (resume)
//	                                      ↘ Removed (evict policy) → Active (resume from identity)
//
// Usage:
//
//	mgr := session.NewManager(session.Options{OnlineTimeout: time.Minute})
//	mgr.LoadIdentities(store.Load())
//
//	reg, err := mgr.Register(addr, "", "alice")
//	if errors.Is(err, session.ErrNameConflict) {
//		// tell the client err.(*session.NameConflictError).Suggested
//	}
package session
