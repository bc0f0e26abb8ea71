// Package config provides server configuration for the world-state synchronizer.
//
// The config package implements:
//   - Built-in defaults for every tunable
//   - Loading a JSON file over those defaults
//   - Validation of the merged result
//
// Durations are written as Go duration strings ("60s", "1m30s") or as a
// number of seconds.
//
// Usage:
//
//	cfg, err := config.Load("worldsync.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// Policies:
//
// Two behaviors are configuration rather than code. OfflinePolicy selects
// soft-offline (retain the session, hide it from snapshots) or evict
// (forget the session entirely) when the inactivity timeout elapses.
// UnknownSessionPolicy selects whether a register carrying an unknown
// session id is rejected or falls through to a fresh registration.
package config
