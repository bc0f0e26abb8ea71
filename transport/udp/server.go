// Package udp runs the datagram intake loop: one reader goroutine decodes
// each datagram, applies a per-address token bucket, and queues the
// message for a fixed pool of workers.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wricardo/worldsync/game/service"
	"github.com/wricardo/worldsync/transport/protocol"
)

// Handler processes one decoded message
type Handler interface {
	Handle(ctx context.Context, addr net.Addr, msg protocol.Inbound)
}

// Options configures the intake loop
type Options struct {
	Workers     int
	QueueSize   int
	RateLimit   float64 // datagrams per second per address; 0 disables
	RateBurst   int
	MaxDatagram int
	// LimiterIdle is how long an address keeps its limiter without traffic
	LimiterIdle time.Duration
}

type job struct {
	addr net.Addr
	msg  protocol.Inbound
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server owns the socket and the worker pool
type Server struct {
	conn    net.PacketConn
	handler Handler
	metrics *service.Metrics
	log     *zap.Logger
	opts    Options

	// limiters is only touched by the intake goroutine
	limiters  map[string]*limiterEntry
	lastPrune time.Time
}

// Listen binds a UDP socket on addr
func Listen(addr string) (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind udp %s: %w", addr, err)
	}
	return conn, nil
}

// NewServer wraps a bound socket
func NewServer(conn net.PacketConn, handler Handler, metrics *service.Metrics, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = &service.Metrics{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.MaxDatagram <= 0 {
		opts.MaxDatagram = 2048
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	if opts.LimiterIdle <= 0 {
		opts.LimiterIdle = 5 * time.Minute
	}

	return &Server{
		conn:     conn,
		handler:  handler,
		metrics:  metrics,
		log:      log.Named("udp"),
		opts:     opts,
		limiters: make(map[string]*limiterEntry),
	}
}

// Addr returns the bound local address
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve reads datagrams until ctx is done or the socket is closed. Queued
// messages are drained by the workers before Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	jobs := make(chan job, s.opts.QueueSize)

	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				s.handler.Handle(ctx, j.addr, j.msg)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	s.log.Info("listening", zap.Stringer("addr", s.conn.LocalAddr()), zap.Int("workers", s.opts.Workers))

	buf := make([]byte, s.opts.MaxDatagram)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("read failed", zap.Error(err))
			continue
		}
		s.metrics.DatagramsReceived.Add(1)

		if !s.allow(addr, time.Now()) {
			s.metrics.RateLimited.Add(1)
			s.log.Debug("rate limited", zap.Stringer("addr", addr))
			continue
		}

		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				s.metrics.UnknownType.Add(1)
			} else {
				s.metrics.Malformed.Add(1)
			}
			s.log.Warn("dropping datagram", zap.Stringer("addr", addr), zap.Int("size", n), zap.Error(err))
			continue
		}

		select {
		case jobs <- job{addr: addr, msg: msg}:
		default:
			s.metrics.QueueFull.Add(1)
			s.log.Warn("queue full, dropping datagram", zap.Stringer("addr", addr), zap.String("type", string(msg.Type)))
		}
	}
}

// allow applies the per-address token bucket
func (s *Server) allow(addr net.Addr, now time.Time) bool {
	if s.opts.RateLimit <= 0 {
		return true
	}
	s.prune(now)

	key := addr.String()
	entry, ok := s.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateBurst)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (s *Server) prune(now time.Time) {
	if now.Sub(s.lastPrune) < s.opts.LimiterIdle {
		return
	}
	s.lastPrune = now
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) >= s.opts.LimiterIdle {
			delete(s.limiters, key)
		}
	}
}
