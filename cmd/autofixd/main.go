// Autofixd is the remediation daemon.
//
// It subscribes to the runtime's event and scene subjects on NATS, runs the
// dispatcher and planner against one shared Memory, patches configuration
// documents on disk and forwards runtime commands back over NATS. The
// control surface is served over HTTP.
//
// Configuration is loaded from ~/.config/autofixd/config.yaml and AUTOFIXD_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	autofixd
//
//	# Point at another broker and game directory
//	AUTOFIXD_NATS_URL=nats://broker:4222 AUTOFIXD_RULES_DIR=/srv/game autofixd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofixd/internal/config"
	"github.com/fyrsmithlabs/autofixd/internal/engine"
	"github.com/fyrsmithlabs/autofixd/internal/feed"
	api "github.com/fyrsmithlabs/autofixd/internal/http"
	"github.com/fyrsmithlabs/autofixd/internal/logging"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
	"github.com/fyrsmithlabs/autofixd/internal/patch"
	"github.com/fyrsmithlabs/autofixd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.config/autofixd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  autofixd [-config path]   Start the remediation daemon\n")
			fmt.Fprintf(os.Stderr, "  autofixd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("autofixd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("autofixd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
// Startup order:
//  1. Load and validate configuration
//  2. Initialize telemetry, then the logger bridged to it
//  3. Connect to NATS and build the feed and runtime client
//  4. Open the document store
//  5. Start the engine
//  6. Serve HTTP until ctx is done, then shut everything down
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry), nil)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := logger.Underlying()
	defer func() {
		_ = logger.Sync()
	}()
	if h := tel.Health(); h.Degraded {
		zl.Warn("telemetry degraded, continuing without exporters")
	}

	zl.Info("starting autofixd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("rules_dir", cfg.Rules.Dir))

	deps, err := initDependencies(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	e, err := engine.New(engine.Config{
		Feed:                deps.feed,
		Transformer:         deps.remote,
		Docs:                deps.applier,
		Applier:             deps.applier,
		Target:              cfg.Rules.ConfigFile,
		PlannerInterval:     cfg.Engine.PlannerInterval.Duration(),
		PlannerEnabled:      cfg.Engine.PlannerEnabled,
		DispatcherAutostart: cfg.Engine.DispatcherAutostart,
		AutoApplyThreshold:  cfg.Engine.AutoApplyThreshold,
		SuggestThreshold:    cfg.Engine.SuggestThreshold,
		HistorySize:         cfg.Engine.HistorySize,
		HypothesesSize:      cfg.Engine.HypothesesSize,
		ErrorRateWindow:     cfg.Engine.ErrorRateWindow,
		ErrorRateThreshold:  cfg.Engine.ErrorRateThreshold,
		Logger:              zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if err := e.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer e.Stop()

	srv, err := api.NewServer(e, zl, &api.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Version:   version,
		Gatherer:  newRegistry(e.Memory()),
		Telemetry: tel,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	zl.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout.Duration()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	e.Stop()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(lc, tel.LoggerProvider())
}

// newRegistry exposes memory gauges next to the Go runtime and process
// collectors.
func newRegistry(store *memory.Store) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		memory.NewCollector(store),
	)
	return reg
}

// dependencies holds all infrastructure the engine is built on.
type dependencies struct {
	nc      *nats.Conn
	feed    *feed.NATSFeed
	remote  *patch.Remote
	docs    *patch.DocStore
	applier *patch.Combined
	logger  *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.docs != nil {
		if err := d.docs.Close(); err != nil {
			d.logger.Warn("closing document store", zap.Error(err))
		}
	}
	if d.feed != nil {
		_ = d.feed.Close()
	}
	if d.nc != nil {
		d.nc.Close()
	}
}

// initDependencies connects to NATS and opens the document store.
//
// The connection retries in the background, so a broker that comes up
// after the daemon is not fatal: the feed reports disconnected and the
// planner idles until it arrives.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	opts := []nats.Option{
		nats.Name("autofixd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait.Duration()),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrlRedacted()))
		}),
	}
	if cfg.NATS.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.NATS.Token.Value()))
	}

	nc, err := nats.Connect(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	deps := &dependencies{nc: nc, logger: logger}

	deps.feed, err = feed.NewNATSFeed(nc, cfg.NATS.EventSubject, cfg.NATS.SceneSubject, logger.Named("feed"))
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create event feed: %w", err)
	}
	deps.remote = patch.NewRemote(nc, cfg.NATS.CommandPrefix, cfg.NATS.RebuildTimeout.Duration(), logger.Named("runtime"))

	deps.docs, err = patch.NewDocStore(cfg.Rules.Dir, logger.Named("docs"))
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to open rules dir: %w", err)
	}
	if cfg.Rules.Watch {
		if err := deps.docs.Watch(ctx); err != nil {
			logger.Warn("document watch disabled", zap.Error(err))
		}
	}

	deps.applier = &patch.Combined{
		Docs:    deps.docs,
		Runtime: deps.remote,
		Logger:  logger.Named("patch"),
	}

	logger.Info("dependencies initialized",
		zap.Bool("nats_connected", nc.IsConnected()),
		zap.String("event_subject", cfg.NATS.EventSubject),
		zap.String("command_prefix", cfg.NATS.CommandPrefix))
	return deps, nil
}
