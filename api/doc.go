// Package api provides the admin HTTP REST API for the world server.
//
// The api package implements:
//   - Read-only inspection of every session
//   - The current online snapshot
//   - Server counters and persistence status
//   - JSON schemas for the datagram protocol
//   - WebSocket upgrade for spectators
//
// Endpoints:
//
// Players:
//   - GET /api/players - List sessions (?online=true, ?sort=username|last_seen, ?order=asc|desc, ?limit=N)
//   - GET /api/players/online - Online snapshot, same shape as the UDP broadcast
//   - GET /api/players/{uuid} - One session, including soft-offline ones
//
// Server:
//   - GET /api/stats - Session counts and counters
//   - GET /api/schema - Wire message schemas (?name=register for one)
//   - GET /health - Liveness
//
// Spectators:
//   - GET /ws - WebSocket stream of snapshots
//
// All responses are JSON. Errors use {"error": "message"} with an
// appropriate status code.
package api
