package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/worldsync/game/engine"
	"github.com/wricardo/worldsync/transport/protocol"
)

const (
	maxRegisterAttempts = 5
	replyTimeout        = time.Second
	readPoll            = 250 * time.Millisecond
)

var ErrRegisterFailed = errors.New("registration failed")

// reply is the union of everything the server sends back
type reply struct {
	Action    protocol.Action               `json:"action"`
	UUID      string                        `json:"uuid"`
	Username  string                        `json:"username"`
	Suggested string                        `json:"suggested"`
	Reason    string                        `json:"reason"`
	Message   string                        `json:"message"`
	State     *engine.PlayerState           `json:"state"`
	Corrected *protocol.CorrectedState      `json:"corrected"`
	Players   map[string]engine.PlayerState `json:"players"`
}

// Stats counts traffic of one or more clients
type Stats struct {
	Sent         atomic.Int64
	Spoofed      atomic.Int64
	Received     atomic.Int64
	Corrections  atomic.Int64
	LatencyCount atomic.Int64
	LatencySumMs atomic.Int64
}

// AverageLatency returns the mean echo latency in milliseconds
func (s *Stats) AverageLatency() float64 {
	n := s.LatencyCount.Load()
	if n == 0 {
		return 0
	}
	return float64(s.LatencySumMs.Load()) / float64(n)
}

// RunOptions controls the update loop
type RunOptions struct {
	Rate       float64
	Heartbeat  time.Duration
	CheatRatio float64
}

// Client is one simulated player
type Client struct {
	conn  net.Conn
	log   *zap.Logger
	stats *Stats

	mu       sync.Mutex
	rng      *rand.Rand
	id       string
	username string
	pos      engine.Vec3
	vel      engine.Vec3
}

// NewClient dials the server. Stats may be shared between clients.
func NewClient(server string, stats *Stats, log *zap.Logger) (*Client, error) {
	conn, err := net.Dial("udp", server)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", server, err)
	}
	if stats == nil {
		stats = &Stats{}
	}
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	return &Client{
		conn:  conn,
		log:   log,
		stats: stats,
		rng:   rng,
		pos:   engine.Vec3{X: rng.Float64() * 5, Y: rng.Float64() * 5, Z: rng.Float64()},
		vel:   engine.Vec3{X: 0.1 + rng.Float64()*0.2},
	}, nil
}

// Close releases the socket
func (c *Client) Close() error {
	return c.conn.Close()
}

// ID returns the session id assigned by the server
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Username returns the name the server accepted
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Register opens or resumes a session. Name conflicts are retried with the
// suggested name and an unknown resume id falls back to a fresh session.
func (c *Client) Register(ctx context.Context, username, resume string) error {
	req := protocol.RegisterRequest{Type: protocol.TypeRegister, Username: username, UUID: resume}

	for attempt := 0; attempt < maxRegisterAttempts; attempt++ {
		if err := c.send(req); err != nil {
			return err
		}
		r, err := c.await(ctx)
		if err != nil {
			return err
		}

		switch r.Action {
		case protocol.ActionRegistered:
			c.mu.Lock()
			c.id = r.UUID
			c.username = r.Username
			if r.State != nil {
				if pos, ok := r.State.Position(); ok {
					c.pos = pos
				}
			}
			c.mu.Unlock()
			c.log.Info("registered", zap.String("uuid", r.UUID), zap.String("username", r.Username))
			return nil
		case protocol.ActionNameConflict:
			c.log.Info("name taken, retrying", zap.String("username", req.Username), zap.String("suggested", r.Suggested))
			req.Username = r.Suggested
		case protocol.ActionUUIDNotFound:
			c.log.Info("session id unknown, registering fresh", zap.String("uuid", req.UUID))
			req.UUID = ""
			if req.Username == "" {
				return fmt.Errorf("%w: %s", ErrRegisterFailed, r.Message)
			}
		case protocol.ActionUsernameRequired:
			return fmt.Errorf("%w: %s", ErrRegisterFailed, r.Message)
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts", ErrRegisterFailed, maxRegisterAttempts)
}

// await reads until a non-snapshot reply arrives
func (c *Client) await(ctx context.Context) (*reply, error) {
	deadline := time.Now().Add(replyTimeout)
	buf := make([]byte, 65535)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRegisterFailed, err)
		}
		var r reply
		if err := json.Unmarshal(buf[:n], &r); err != nil {
			continue
		}
		if r.Action != "" {
			return &r, nil
		}
	}
}

// Run sends updates at opts.Rate and heartbeats every opts.Heartbeat until
// ctx is done
func (c *Client) Run(ctx context.Context, opts RunOptions) error {
	if opts.Rate <= 0 {
		opts.Rate = 2
	}
	interval := time.Duration(float64(time.Second) / opts.Rate)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.readLoop(ctx)
	}()
	defer wg.Wait()

	updates := time.NewTicker(interval)
	defer updates.Stop()

	var heartbeats <-chan time.Time
	if opts.Heartbeat > 0 {
		t := time.NewTicker(opts.Heartbeat)
		defer t.Stop()
		heartbeats = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates.C:
			if err := c.sendUpdate(interval.Seconds(), opts.CheatRatio); err != nil {
				c.log.Debug("update failed", zap.Error(err))
			}
		case <-heartbeats:
			if err := c.send(protocol.HeartbeatRequest{Type: protocol.TypeHeartbeat, UUID: c.ID()}); err != nil {
				c.log.Debug("heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (c *Client) sendUpdate(dt, cheatRatio float64) error {
	c.mu.Lock()
	if c.rng.Float64() < 0.2 {
		c.vel = c.vel.Add(engine.Vec3{
			X: c.rng.Float64()*0.04 - 0.02,
			Y: c.rng.Float64()*0.04 - 0.02,
			Z: c.rng.Float64()*0.04 - 0.02,
		})
	}
	c.pos = step(c.pos, c.vel, dt)
	pos := c.pos
	spoofed := cheatRatio > 0 && c.rng.Float64() < cheatRatio
	if spoofed {
		// the local position stays honest
		pos = spoof(c.rng, pos)
	}
	msg := updateMessage(c.id, pos, c.vel, uint64(time.Now().UnixMilli()))
	c.mu.Unlock()

	if spoofed {
		c.stats.Spoofed.Add(1)
		c.log.Debug("sending spoofed position", zap.Float64("x", pos.X), zap.Float64("y", pos.Y), zap.Float64("z", pos.Z))
	}
	return c.send(msg)
}

func (c *Client) readLoop(ctx context.Context) {
	buf := make([]byte, 65535)
	for ctx.Err() == nil {
		c.conn.SetReadDeadline(time.Now().Add(readPoll))
		n, err := c.conn.Read(buf)
		if err != nil {
			continue
		}
		var r reply
		if err := json.Unmarshal(buf[:n], &r); err != nil {
			continue
		}
		c.handle(&r, time.Now())
	}
}

// handle applies one server message
func (c *Client) handle(r *reply, now time.Time) {
	switch {
	case r.Action == protocol.ActionCorrection && r.Corrected != nil:
		c.mu.Lock()
		mine := r.Corrected.UUID == c.id || r.Corrected.ID == c.id
		if mine {
			c.pos = engine.Vec3{X: r.Corrected.X, Y: r.Corrected.Y, Z: r.Corrected.Z}
		}
		c.mu.Unlock()
		if mine {
			c.stats.Corrections.Add(1)
			c.log.Info("position corrected", zap.Float64("x", r.Corrected.X), zap.Float64("y", r.Corrected.Y), zap.Float64("z", r.Corrected.Z))
		}

	case r.Action == protocol.ActionOffline || r.Action == protocol.ActionRemoved:
		c.log.Warn("server ended session", zap.String("action", string(r.Action)), zap.String("reason", r.Reason))

	case r.Action == "" && r.Players != nil:
		c.stats.Received.Add(1)
		if ms, ok := latency(r.Players, c.ID(), now); ok {
			c.stats.LatencyCount.Add(1)
			c.stats.LatencySumMs.Add(ms)
		}
	}
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return err
	}
	c.stats.Sent.Add(1)
	return nil
}

func step(pos, vel engine.Vec3, dt float64) engine.Vec3 {
	return pos.Add(vel.Scale(dt))
}

// spoof moves every axis 10 to 50 meters away
func spoof(rng *rand.Rand, pos engine.Vec3) engine.Vec3 {
	jump := func() float64 { return 10 + rng.Float64()*40 }
	return pos.Add(engine.Vec3{X: jump(), Y: jump(), Z: jump()})
}

func updateMessage(id string, pos, vel engine.Vec3, ts uint64) protocol.UpdateRequest {
	state := engine.NewPlayerState(id, "")
	state.SetPosition(pos)
	state.VX = engine.Float(vel.X)
	state.VY = engine.Float(vel.Y)
	state.VZ = engine.Float(vel.Z)
	state.TS = engine.Millis(ts)
	return protocol.UpdateRequest{Type: protocol.TypeUpdate, PlayerState: state}
}

// latency reads the echoed ts of id from a snapshot
func latency(players map[string]engine.PlayerState, id string, now time.Time) (int64, bool) {
	p, ok := players[id]
	if !ok || p.TS == nil {
		return 0, false
	}
	ms := now.UnixMilli() - int64(*p.TS)
	if ms < 0 {
		return 0, false
	}
	return ms, true
}
