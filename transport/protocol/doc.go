// Package protocol defines the datagram wire format: one JSON object per
// datagram. Inbound messages are discriminated by "type"; outbound
// messages carry an "action", except world snapshots which are a bare
// {"players": {...}} object.
package protocol
