package service

import (
	"context"
	"net"

	"github.com/wricardo/worldsync/game/engine"
	"github.com/wricardo/worldsync/game/session"
	"github.com/wricardo/worldsync/transport/protocol"
)

// WorldService defines all world-related operations
type WorldService interface {
	// Datagram handling
	Handle(ctx context.Context, addr net.Addr, msg protocol.Inbound)

	// Presence and persistence
	Sweep(ctx context.Context) *SweepSummary
	RunSweeper(ctx context.Context) error
	Save(ctx context.Context) error

	// Inspection
	ListPlayers(ctx context.Context) ([]session.SessionInfo, error)
	GetPlayer(ctx context.Context, id string) (*session.SessionInfo, error)
	OnlinePlayers(ctx context.Context) (map[string]engine.PlayerState, error)
	Stats(ctx context.Context) (*Stats, error)
	Metrics() *Metrics
}

// Sender writes one datagram to addr
type Sender interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
}

// SnapshotPublisher receives each encoded world snapshot
type SnapshotPublisher interface {
	PublishSnapshot(data []byte)
}
