package service

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/worldsync/game/engine"
	"github.com/wricardo/worldsync/game/session"
	"github.com/wricardo/worldsync/transport/protocol"
)

// Service implements WorldService on top of a session.Manager
type Service struct {
	sessions  *session.Manager
	saver     *session.Saver
	sender    Sender
	publisher SnapshotPublisher
	metrics   *Metrics
	log       *zap.Logger
	opts      Options
	startedAt time.Time
}

var _ WorldService = (*Service)(nil)

// New creates a world service. A nil sender discards outbound datagrams.
func New(sessions *session.Manager, saver *session.Saver, sender Sender, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if saver == nil {
		saver = session.NewSaver(nil)
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}
	if opts.SaveEvery <= 0 {
		opts.SaveEvery = 6
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &Metrics{}
	}

	return &Service{
		sessions:  sessions,
		saver:     saver,
		sender:    sender,
		publisher: opts.Publisher,
		metrics:   metrics,
		log:       log.Named("world"),
		opts:      opts,
		startedAt: time.Now(),
	}
}

// Metrics returns the live counters
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// Handle processes one decoded datagram from addr
func (s *Service) Handle(ctx context.Context, addr net.Addr, msg protocol.Inbound) {
	switch {
	case msg.Register != nil:
		s.handleRegister(addr, msg.Register)
	case msg.Update != nil:
		s.handleUpdate(addr, msg.Update)
	case msg.Heartbeat != nil:
		s.handleHeartbeat(addr, msg.Heartbeat)
	default:
		s.metrics.UnknownType.Add(1)
		s.log.Warn("dropping message without payload", zap.String("type", string(msg.Type)), zap.Stringer("addr", addr))
	}
}

func (s *Service) handleRegister(addr net.Addr, req *protocol.RegisterRequest) {
	reg, err := s.sessions.Register(addr, req.UUID, req.Username)
	if err != nil {
		var conflict *session.NameConflictError
		switch {
		case errors.As(err, &conflict):
			s.metrics.Conflicts.Add(1)
			s.log.Info("name conflict",
				zap.String("username", conflict.Username),
				zap.String("suggested", conflict.Suggested),
				zap.Stringer("addr", addr))
			s.send(addr, protocol.NewNameConflict(conflict.Suggested))
		case errors.Is(err, session.ErrSessionNotFound):
			s.metrics.Rejections.Add(1)
			s.log.Info("resume of unknown session", zap.String("uuid", req.UUID), zap.Stringer("addr", addr))
			s.send(addr, protocol.NewUUIDNotFound(req.UUID))
		case errors.Is(err, session.ErrUsernameRequired):
			s.metrics.Rejections.Add(1)
			s.log.Info("register without username", zap.Stringer("addr", addr))
			s.send(addr, protocol.NewUsernameRequired())
		default:
			s.log.Error("register failed", zap.Error(err), zap.Stringer("addr", addr))
		}
		return
	}

	if reg.Resumed {
		s.metrics.Resumes.Add(1)
		s.log.Info("session resumed",
			zap.String("uuid", reg.UUID),
			zap.String("username", reg.Username),
			zap.Bool("from_store", reg.FromStore),
			zap.Stringer("addr", addr))
		if reg.NameHeld {
			s.metrics.NameHeldResumes.Add(1)
			s.log.Debug("resumed session name held by another online session",
				zap.String("uuid", reg.UUID),
				zap.String("username", reg.Username))
		}
	} else {
		s.metrics.Registrations.Add(1)
		s.log.Info("session registered",
			zap.String("uuid", reg.UUID),
			zap.String("username", reg.Username),
			zap.Stringer("addr", addr))
	}

	s.send(addr, protocol.NewRegistered(reg.State, reg.Resumed))
	if reg.Persist != nil {
		s.persist(*reg.Persist)
	}
	s.broadcast(reg.Snapshot)
}

func (s *Service) handleUpdate(addr net.Addr, req *protocol.UpdateRequest) {
	res, ok := s.sessions.Update(addr, req.UUID, req.PlayerState)
	if !ok {
		s.metrics.Ignored.Add(1)
		s.log.Debug("update for unknown session", zap.String("uuid", req.UUID), zap.Stringer("addr", addr))
		return
	}
	s.metrics.Updates.Add(1)

	if res.Correction != nil {
		s.metrics.Corrections.Add(1)
		s.log.Info("movement corrected",
			zap.String("uuid", res.Stored.UUID),
			zap.Float64("expected", res.Movement.Expected),
			zap.Float64("actual", res.Movement.Actual))
		s.send(addr, protocol.NewCorrection(*res.Correction))
	}
	s.broadcast(res.Snapshot)
}

func (s *Service) handleHeartbeat(addr net.Addr, req *protocol.HeartbeatRequest) {
	if !s.sessions.Heartbeat(req.UUID) {
		s.metrics.Ignored.Add(1)
		s.log.Debug("heartbeat for unknown session", zap.String("uuid", req.UUID), zap.Stringer("addr", addr))
		return
	}
	s.metrics.Heartbeats.Add(1)
}

// Sweep runs one presence sweep, notifying every session that went offline
func (s *Service) Sweep(ctx context.Context) *SweepSummary {
	res := s.sessions.Sweep()
	summary := &SweepSummary{}

	for _, t := range res.Transitions {
		if t.Evicted {
			s.metrics.Evictions.Add(1)
			summary.Evicted = append(summary.Evicted, t.UUID)
			s.log.Info("session removed", zap.String("uuid", t.UUID), zap.String("username", t.Username))
			s.send(t.Addr, protocol.NewRemoved())
		} else {
			s.metrics.OfflineTransitions.Add(1)
			summary.Offline = append(summary.Offline, t.UUID)
			s.log.Info("session offline", zap.String("uuid", t.UUID), zap.String("username", t.Username))
			s.send(t.Addr, protocol.NewOffline(t.UUID))
		}
	}

	if res.Persist != nil {
		s.persist(*res.Persist)
	}
	if res.Snapshot != nil {
		s.broadcast(*res.Snapshot)
	}
	return summary
}

// RunSweeper sweeps every SweepInterval and saves every SaveEvery sweeps
// until ctx is done. The final save is left to the caller, once intake has
// stopped.
func (s *Service) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
			ticks++
			if ticks%s.opts.SaveEvery == 0 {
				s.Save(ctx)
			}
		}
	}
}

// Save writes the current identity mirror
func (s *Service) Save(ctx context.Context) error {
	return s.persist(s.sessions.IdentitySnapshot())
}

func (s *Service) ListPlayers(ctx context.Context) ([]session.SessionInfo, error) {
	return s.sessions.List(), nil
}

func (s *Service) GetPlayer(ctx context.Context, id string) (*session.SessionInfo, error) {
	return s.sessions.Get(id)
}

func (s *Service) OnlinePlayers(ctx context.Context) (map[string]engine.PlayerState, error) {
	return s.sessions.Snapshot().Players, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	total, online, identities := s.sessions.Counts()
	return &Stats{
		Players:        total,
		Online:         online,
		Identities:     identities,
		LastGeneration: s.saver.LastGeneration(),
		StartedAt:      s.startedAt,
		Uptime:         time.Since(s.startedAt).Round(time.Second).String(),
		Counters:       s.metrics.Snapshot(),
	}, nil
}

// persist hands a snapshot to the saver; failures are logged and counted
func (s *Service) persist(snap session.IdentitySnapshot) error {
	attempted, err := s.saver.Save(snap)
	if err != nil {
		s.metrics.SaveFailures.Add(1)
		s.log.Error("failed to save identities", zap.Uint64("generation", snap.Generation), zap.Error(err))
		return err
	}
	if attempted {
		s.metrics.Saves.Add(1)
	}
	return nil
}

// broadcast sends the snapshot to every recipient and to spectators
func (s *Service) broadcast(snap session.Snapshot) {
	data, err := protocol.Encode(protocol.NewSnapshot(snap.Players))
	if err != nil {
		s.log.Error("failed to encode snapshot", zap.Error(err))
		return
	}
	s.metrics.Broadcasts.Add(1)

	for _, addr := range snap.Recipients {
		s.write(addr, data)
	}
	if s.publisher != nil {
		s.publisher.PublishSnapshot(data)
	}
}

func (s *Service) send(addr net.Addr, msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("failed to encode message", zap.Error(err))
		return
	}
	s.write(addr, data)
}

func (s *Service) write(addr net.Addr, data []byte) {
	if s.sender == nil || addr == nil {
		return
	}
	if _, err := s.sender.WriteTo(data, addr); err != nil {
		s.metrics.SendFailures.Add(1)
		s.log.Debug("send failed", zap.Stringer("addr", addr), zap.Error(err))
	}
}
