// Package mcp provides a Model Context Protocol server for the world server.
//
// The mcp package implements:
//   - Tool definitions for inspecting sessions and counters
//   - A thin proxy onto the admin REST API
//   - Stdio and HTTP transport modes
//
// MCP Tools:
//   - list_players: Every known session with status
//   - online_players: The current broadcast snapshot
//   - get_player: One session by uuid
//   - server_stats: Counts and counters
//   - protocol_schema: JSON schema of a datagram message
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	router.HandleFunc("/mcp", client.HTTPHandler())
//
//	// or over stdio
//	server.ServeStdio(client.GetMCPServer())
package mcp
