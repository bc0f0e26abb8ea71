// Command simclient drives a worldsync server with simulated players.
//
// Modes:
//  1. honest: one player moving along its velocity, applying corrections
//  2. cheat: like honest, but a share of updates spoof a large jump
//  3. stress: many honest players, reports traffic and echo latency
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/worldsync/logging"
)

const (
	modeHonest = "honest"
	modeCheat  = "cheat"
	modeStress = "stress"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "simclient: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "simclient",
		Usage: "simulated UDP players for a worldsync server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "127.0.0.1:8888", Usage: "server UDP address", Sources: cli.EnvVars("WORLDSYNC_UDP_ADDR")},
			&cli.StringFlag{Name: "mode", Value: modeHonest, Usage: "honest, cheat or stress"},
			&cli.StringFlag{Name: "username", Value: "sim", Usage: "requested username"},
			&cli.StringFlag{Name: "resume", Usage: "session id to resume"},
			&cli.FloatFlag{Name: "rate", Value: 2, Usage: "updates per second per player"},
			&cli.DurationFlag{Name: "duration", Usage: "stop after this long, 0 runs until interrupted"},
			&cli.DurationFlag{Name: "heartbeat", Value: 5 * time.Second, Usage: "heartbeat period, 0 disables"},
			&cli.IntFlag{Name: "clients", Value: 10, Usage: "players in stress mode"},
			&cli.FloatFlag{Name: "cheat-ratio", Value: 0.15, Usage: "share of spoofed updates in cheat mode"},
			&cli.BoolFlag{Name: "debug", Usage: "verbose logging"},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	level := "info"
	if cmd.Bool("debug") {
		level = "debug"
	}
	log, err := logging.New(logging.Options{Level: level, Development: cmd.Bool("debug")})
	if err != nil {
		return err
	}
	defer logging.Sync(log)

	if d := cmd.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	opts := RunOptions{Rate: cmd.Float("rate"), Heartbeat: cmd.Duration("heartbeat")}
	server := cmd.String("server")
	stats := &Stats{}

	switch mode := cmd.String("mode"); mode {
	case modeHonest, modeCheat:
		if mode == modeCheat {
			opts.CheatRatio = cmd.Float("cheat-ratio")
		}
		err = runPlayer(ctx, server, cmd.String("username"), cmd.String("resume"), opts, stats, log)
	case modeStress:
		err = runStress(ctx, server, cmd.String("username"), int(cmd.Int("clients")), opts, stats, log)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	log.Info("finished",
		zap.Int64("sent", stats.Sent.Load()),
		zap.Int64("spoofed", stats.Spoofed.Load()),
		zap.Int64("snapshots_received", stats.Received.Load()),
		zap.Int64("corrections", stats.Corrections.Load()),
		zap.Float64("avg_latency_ms", stats.AverageLatency()))
	return err
}

func runPlayer(ctx context.Context, server, username, resume string, opts RunOptions, stats *Stats, log *zap.Logger) error {
	c, err := NewClient(server, stats, log)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Register(ctx, username, resume); err != nil {
		return err
	}
	return c.Run(ctx, opts)
}

func runStress(ctx context.Context, server, prefix string, clients int, opts RunOptions, stats *Stats, log *zap.Logger) error {
	if clients <= 0 {
		return fmt.Errorf("clients must be positive")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < clients; i++ {
		name := fmt.Sprintf("%s_%d", prefix, i)
		g.Go(func() error {
			return runPlayer(gctx, server, name, "", opts, stats, log.With(zap.String("player", name)))
		})
	}
	return g.Wait()
}
