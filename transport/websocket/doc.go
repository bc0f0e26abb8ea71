// Package websocket streams world snapshots to browser spectators.
//
// Architecture:
//
// A central Hub owns the set of connected spectators. Each connection has a
// read pump that only services pings and close frames, and a write pump
// that drains a buffered send channel. A spectator that cannot keep up is
// disconnected rather than allowed to stall the broadcaster.
//
// Message Protocol:
//
// Every frame is {"event":"snapshot","data":{"players":{...}}}, the same
// players map that UDP clients receive. A newly connected spectator gets
// the latest snapshot immediately.
//
// Usage:
//
//	hub := websocket.NewHub(logger)
//	go hub.Run(ctx)
//
//	router.HandleFunc("/ws", hub.ServeWS)
//	svc := service.New(mgr, saver, conn, logger, service.Options{Publisher: hub})
package websocket
