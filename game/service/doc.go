// Package service maps the datagram protocol onto the session aggregate.
//
// The service package implements:
//   - Register, update and heartbeat handling
//   - Correction notices to the originating client
//   - Snapshot fan-out to every bound address and to spectators
//   - The presence sweep and periodic persistence loop
//   - Atomic counters for the admin surface
//
// Core Interfaces:
//
// WorldService is the surface consumed by the transports and the admin API.
// Sender writes one datagram to one address; a net.PacketConn satisfies it.
// SnapshotPublisher receives every encoded snapshot for spectators.
//
// Architecture:
//
// The session.Manager guards all shared state behind one lock and hands
// back copies. The service performs every send and every store write
// after the manager call returns, so no network or disk I/O happens while
// the lock is held.
//
// Usage:
//
//	mgr := session.NewManager(session.Options{OnlineTimeout: time.Minute})
//	svc := service.New(mgr, session.NewSaver(store), conn, logger, service.Options{})
//
//	svc.Handle(ctx, addr, inbound)
//	go svc.RunSweeper(ctx)
package service
