// Command worldsync runs the UDP world-state server.
//
// Commands:
//  1. "serve" (default): UDP intake loop, presence sweeper, admin HTTP API with
//     WebSocket spectators and an /mcp endpoint, optional ngrok tunnel
//  2. "mcp": MCP stdio server proxying to a running admin API
//  3. "schema": prints the JSON schema of every datagram message
//  4. "check-config": validates and prints the effective configuration
//
// Every flag can also be set through a WORLDSYNC_* environment variable and a
// .env file in the working directory is loaded first.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/worldsync/api"
	"github.com/wricardo/worldsync/game/config"
	"github.com/wricardo/worldsync/game/service"
	"github.com/wricardo/worldsync/game/session"
	"github.com/wricardo/worldsync/logging"
	"github.com/wricardo/worldsync/transport/mcp"
	"github.com/wricardo/worldsync/transport/protocol"
	"github.com/wricardo/worldsync/transport/udp"
	"github.com/wricardo/worldsync/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "worldsync"
)

func main() {
	// Load .env file if it exists
	envErr := godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp()
	app.Metadata = map[string]any{"envErr": envErr}
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

// newApp builds the command tree
func newApp() *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "authoritative UDP world-state server",
		Version: Version,
		Flags:   globalFlags(),
		Action:  serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the UDP server with the admin HTTP API",
				Flags:  ngrokFlags(),
				Action: serveAction,
			},
			{
				Name:  "mcp",
				Usage: "run an MCP stdio server against a running admin API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "api-url",
						Value:   "http://localhost:8080",
						Usage:   "base URL of the admin API",
						Sources: cli.EnvVars("WORLDSYNC_API_URL"),
					},
				},
				Action: mcpAction,
			},
			{
				Name:  "schema",
				Usage: "print the JSON schema of the datagram protocol",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "only print one message schema"},
					&cli.StringFlag{Name: "out", Usage: "write to a file instead of stdout"},
				},
				Action: schemaAction,
			},
			{
				Name:  "check-config",
				Usage: "validate and print the effective configuration",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "write", Usage: "also save the effective configuration to this path"},
				},
				Action: checkConfigAction,
			},
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "JSON config file", Sources: cli.EnvVars("WORLDSYNC_CONFIG")},
		&cli.StringFlag{Name: "udp-addr", Usage: "UDP listen address", Sources: cli.EnvVars("WORLDSYNC_UDP_ADDR")},
		&cli.StringFlag{Name: "http-addr", Usage: "admin HTTP listen address, empty disables", Sources: cli.EnvVars("WORLDSYNC_HTTP_ADDR")},
		&cli.DurationFlag{Name: "online-timeout", Usage: "inactivity before a session goes offline", Sources: cli.EnvVars("WORLDSYNC_ONLINE_TIMEOUT")},
		&cli.DurationFlag{Name: "sweep-interval", Usage: "presence sweep period", Sources: cli.EnvVars("WORLDSYNC_SWEEP_INTERVAL")},
		&cli.DurationFlag{Name: "save-interval", Usage: "periodic save period", Sources: cli.EnvVars("WORLDSYNC_SAVE_INTERVAL")},
		&cli.StringFlag{Name: "offline-policy", Usage: "soft or evict", Sources: cli.EnvVars("WORLDSYNC_OFFLINE_POLICY")},
		&cli.StringFlag{Name: "unknown-session-policy", Usage: "reject or create", Sources: cli.EnvVars("WORLDSYNC_UNKNOWN_SESSION_POLICY")},
		&cli.StringFlag{Name: "store", Usage: "file, sqlite or none", Sources: cli.EnvVars("WORLDSYNC_STORE")},
		&cli.StringFlag{Name: "store-path", Usage: "identity record location", Sources: cli.EnvVars("WORLDSYNC_STORE_PATH")},
		&cli.BoolFlag{Name: "persist-full-state", Usage: "persist transforms along with usernames", Sources: cli.EnvVars("WORLDSYNC_PERSIST_FULL_STATE")},
		&cli.IntFlag{Name: "workers", Usage: "datagram handler goroutines", Sources: cli.EnvVars("WORLDSYNC_WORKERS")},
		&cli.IntFlag{Name: "queue-size", Usage: "pending datagram queue length", Sources: cli.EnvVars("WORLDSYNC_QUEUE_SIZE")},
		&cli.FloatFlag{Name: "rate-limit", Usage: "datagrams per second per address, 0 disables", Sources: cli.EnvVars("WORLDSYNC_RATE_LIMIT")},
		&cli.IntFlag{Name: "rate-burst", Usage: "token bucket burst per address", Sources: cli.EnvVars("WORLDSYNC_RATE_BURST")},
		&cli.IntFlag{Name: "max-datagram", Usage: "read buffer size in bytes", Sources: cli.EnvVars("WORLDSYNC_MAX_DATAGRAM")},
		&cli.StringFlag{Name: "log-file", Usage: "rolling log file", Sources: cli.EnvVars("WORLDSYNC_LOG_FILE")},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Sources: cli.EnvVars("WORLDSYNC_LOG_LEVEL")},
		&cli.BoolFlag{Name: "debug", Usage: "development logging", Sources: cli.EnvVars("WORLDSYNC_DEBUG")},
	}
}

func ngrokFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "ngrok", Usage: "expose the admin API through an ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "custom ngrok domain", Sources: cli.EnvVars("NGROK_DOMAIN")},
	}
}

// loadConfig overlays flags on the config file and validates the result
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("udp-addr") {
		cfg.UDPAddr = cmd.String("udp-addr")
	}
	if cmd.IsSet("http-addr") {
		cfg.HTTPAddr = cmd.String("http-addr")
	}
	if cmd.IsSet("online-timeout") {
		cfg.OnlineTimeout = config.Duration(cmd.Duration("online-timeout"))
	}
	if cmd.IsSet("sweep-interval") {
		cfg.SweepInterval = config.Duration(cmd.Duration("sweep-interval"))
	}
	if cmd.IsSet("save-interval") {
		cfg.SaveInterval = config.Duration(cmd.Duration("save-interval"))
	}
	if cmd.IsSet("offline-policy") {
		cfg.OfflinePolicy = config.OfflinePolicy(cmd.String("offline-policy"))
	}
	if cmd.IsSet("unknown-session-policy") {
		cfg.UnknownSessionPolicy = config.UnknownSessionPolicy(cmd.String("unknown-session-policy"))
	}
	if cmd.IsSet("store") {
		cfg.Store = cmd.String("store")
	}
	if cmd.IsSet("store-path") {
		cfg.StorePath = cmd.String("store-path")
	}
	if cmd.IsSet("persist-full-state") {
		cfg.PersistFullState = cmd.Bool("persist-full-state")
	}
	if cmd.IsSet("workers") {
		cfg.Workers = int(cmd.Int("workers"))
	}
	if cmd.IsSet("queue-size") {
		cfg.QueueSize = int(cmd.Int("queue-size"))
	}
	if cmd.IsSet("rate-limit") {
		cfg.RateLimit = cmd.Float("rate-limit")
	}
	if cmd.IsSet("rate-burst") {
		cfg.RateBurst = int(cmd.Int("rate-burst"))
	}
	if cmd.IsSet("max-datagram") {
		cfg.MaxDatagram = int(cmd.Int("max-datagram"))
	}
	if cmd.IsSet("log-file") {
		cfg.LogFile = cmd.String("log-file")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cmd *cli.Command, cfg *config.Config) (*zap.Logger, error) {
	log, err := logging.New(logging.Options{
		File:        cfg.LogFile,
		Level:       cfg.LogLevel,
		Development: cmd.Bool("debug"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: log_level: %v", config.ErrInvalidConfig, err)
	}

	if envErr, _ := cmd.Root().Metadata["envErr"].(error); envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn("failed to load .env file", zap.Error(envErr))
	}
	return log, nil
}

// openStore opens the configured identity store. A store that cannot be
// opened is logged and replaced by an in-memory one.
func openStore(cfg *config.Config, log *zap.Logger) session.IdentityStore {
	var (
		store session.IdentityStore
		err   error
	)
	switch cfg.Store {
	case config.StoreFile:
		store, err = session.NewFileStore(cfg.StorePath, log)
	case config.StoreSQLite:
		store, err = openSQLiteStore(cfg.StorePath, log)
	default:
		return session.NopStore{}
	}
	if err != nil {
		log.Error("failed to open identity store, continuing without persistence",
			zap.String("store", cfg.Store), zap.String("path", cfg.StorePath), zap.Error(err))
		return session.NopStore{}
	}
	return store
}

// openSQLiteStore opens the database at path. An existing file that cannot
// be opened is moved aside and a fresh database is created in its place.
func openSQLiteStore(path string, log *zap.Logger) (*session.SQLiteStore, error) {
	store, err := session.NewSQLiteStore(path, log)
	if err == nil {
		return store, nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixNano())
	if renameErr := os.Rename(path, aside); renameErr != nil {
		return nil, fmt.Errorf("%w (moving it aside failed: %v)", err, renameErr)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Rename(path+suffix, aside+suffix)
	}
	log.Warn("unreadable identity database moved aside, starting empty",
		zap.String("path", path), zap.String("moved_to", aside), zap.Error(err))
	return session.NewSQLiteStore(path, log)
}

// apiBaseURL turns a listen address into a URL the MCP proxy can call
func apiBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logging.Sync(log)

	return runServer(ctx, cfg, ngrokOptions{
		enabled:   cmd.Bool("ngrok"),
		authToken: cmd.String("ngrok-auth"),
		domain:    cmd.String("ngrok-domain"),
	}, log)
}

type ngrokOptions struct {
	enabled   bool
	authToken string
	domain    string
}

// runServer wires every component and blocks until ctx is done or one of
// them fails
func runServer(ctx context.Context, cfg *config.Config, ngrokOpts ngrokOptions, log *zap.Logger) error {
	log.Info("starting", zap.String("app", AppName), zap.String("version", Version))

	store := openStore(cfg, log)
	defer store.Close()

	sessions := session.NewManager(session.Options{
		OnlineTimeout:        cfg.OnlineTimeout.D(),
		OfflinePolicy:        cfg.OfflinePolicy,
		UnknownSessionPolicy: cfg.UnknownSessionPolicy,
		PersistFullState:     cfg.PersistFullState,
	})
	loaded := sessions.LoadIdentities(store.Load())
	log.Info("identities loaded", zap.Int("count", loaded), zap.String("store", cfg.Store))

	conn, err := udp.Listen(cfg.UDPAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	metrics := &service.Metrics{}
	hub := websocket.NewHub(log)
	world := service.New(sessions, session.NewSaver(store), conn, log, service.Options{
		SweepInterval: cfg.SweepInterval.D(),
		SaveEvery:     cfg.SaveEvery(),
		Publisher:     hub,
		Metrics:       metrics,
	})
	intake := udp.NewServer(conn, world, metrics, log, udp.Options{
		Workers:     cfg.Workers,
		QueueSize:   cfg.QueueSize,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
		MaxDatagram: cfg.MaxDatagram,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return intake.Serve(gctx) })
	g.Go(func() error { return world.RunSweeper(gctx) })
	g.Go(func() error { return hub.Run(gctx) })

	if cfg.HTTPAddr != "" {
		handler := newHTTPHandler(world, hub, apiBaseURL(cfg.HTTPAddr), log)
		httpServer := &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		g.Go(func() error {
			log.Info("admin API listening",
				zap.String("rest", apiBaseURL(cfg.HTTPAddr)+"/api"),
				zap.String("mcp", apiBaseURL(cfg.HTTPAddr)+"/mcp"))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})

		if ngrokOpts.enabled {
			g.Go(func() error { return runNgrok(gctx, handler, ngrokOpts, log) })
		}
	}

	err = g.Wait()
	// intake and sweeper are done, nothing mutates the world past this point
	if saveErr := world.Save(context.Background()); saveErr != nil {
		log.Error("final save failed", zap.Error(saveErr))
	}
	log.Info("server stopped")
	return err
}

// newHTTPHandler mounts the REST API, spectators and the MCP endpoint
func newHTTPHandler(world service.WorldService, hub *websocket.Hub, baseURL string, log *zap.Logger) http.Handler {
	apiServer := api.NewServer(world, hub, log)
	mcpClient := mcp.NewClient(baseURL)
	apiServer.Router().Handle("/mcp", mcpClient.HTTPHandler())
	return apiServer
}

// runNgrok serves handler through an ngrok tunnel until ctx is done. Tunnel
// failures are logged and never stop the server.
func runNgrok(ctx context.Context, handler http.Handler, opts ngrokOptions, log *zap.Logger) error {
	log = log.Named("ngrok")
	if opts.authToken == "" {
		log.Warn("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN)")
		return nil
	}

	var tunnel ngrokConfig.Tunnel
	if opts.domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(opts.domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(opts.authToken))
	if err != nil {
		log.Error("failed to start ngrok tunnel", zap.Error(err))
		return nil
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.Warn("failed to close ngrok tunnel", zap.Error(err))
		}
	}()

	log.Info("tunnel established",
		zap.String("url", tun.URL()),
		zap.String("rest", tun.URL()+"/api"),
		zap.String("mcp", tun.URL()+"/mcp"))

	if err := http.Serve(tun, handler); err != nil && ctx.Err() == nil {
		log.Error("ngrok server error", zap.Error(err))
	}
	return nil
}

func mcpAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logging.Sync(log)

	baseURL := cmd.String("api-url")
	probe := &http.Client{Timeout: 2 * time.Second}
	if resp, err := probe.Get(baseURL + "/health"); err != nil {
		log.Warn("admin API not reachable yet, tools will fail until it is", zap.String("url", baseURL), zap.Error(err))
	} else {
		resp.Body.Close()
		log.Info("using admin API", zap.String("url", baseURL))
	}

	return server.ServeStdio(mcp.NewClient(baseURL).GetMCPServer())
}

func schemaAction(ctx context.Context, cmd *cli.Command) error {
	var v any = protocol.Schemas()
	if name := cmd.String("name"); name != "" {
		schema, ok := protocol.Schemas()[name]
		if !ok {
			return fmt.Errorf("unknown message %q", name)
		}
		v = schema
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	data = append(data, '\n')

	if out := cmd.String("out"); out != "" {
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write schema: %w", err)
		}
		return nil
	}
	_, err = writerOf(cmd).Write(data)
	return err
}

func checkConfigAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if path := cmd.String("write"); path != "" {
		if err := cfg.Save(path); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(writerOf(cmd), "%s\n", data)
	return err
}

func writerOf(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
