package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/timelens/timelens/internal/otlpsource"
	"github.com/timelens/timelens/internal/viewport"
	"github.com/timelens/timelens/internal/wsapi"
)

// ServeCommand returns the CLI command definition for the 'serve' subcommand.
// It starts the OTLP gRPC receiver and the HTTP/WebSocket API around one
// viewport session.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the OTLP receiver and timeline API",
		Description: `Starts an OTLP gRPC receiver and an HTTP/WebSocket API serving one
timeline session. Programs export traces and metrics to the OTLP
endpoint; rendering clients connect to /ws and drive the viewport with
zoom and pan gestures.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a YAML config file (overrides project and global configs)",
			},
			&cli.StringFlag{
				Name:  "otlp-host",
				Usage: "OTLP receiver bind address",
			},
			&cli.IntFlag{
				Name:  "otlp-port",
				Usage: "OTLP receiver port (0 for ephemeral)",
			},
			&cli.StringFlag{
				Name:  "http-host",
				Usage: "API server bind address",
			},
			&cli.IntFlag{
				Name:  "http-port",
				Usage: "API server port",
			},
			&cli.IntFlag{
				Name:  "width-px",
				Usage: "Initial viewport width in pixels",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
			},
		},
		Action: runServe,
	}
}

// flagOverrides carries the serve flags the user set explicitly. Pointer
// fields encode presence, so an explicit zero (like --otlp-port 0 for an
// ephemeral port) still wins over every config file layer, which the
// zero-is-unset merge semantics of MergeConfigs cannot express.
type flagOverrides struct {
	otlpHost *string
	otlpPort *int
	httpHost *string
	httpPort *int
	widthPx  *int
	verbose  bool
}

func overridesFromFlags(cmd *cli.Command) flagOverrides {
	var o flagOverrides
	if cmd.IsSet("otlp-host") {
		v := cmd.String("otlp-host")
		o.otlpHost = &v
	}
	if cmd.IsSet("otlp-port") {
		v := cmd.Int("otlp-port")
		o.otlpPort = &v
	}
	if cmd.IsSet("http-host") {
		v := cmd.String("http-host")
		o.httpHost = &v
	}
	if cmd.IsSet("http-port") {
		v := cmd.Int("http-port")
		o.httpPort = &v
	}
	if cmd.IsSet("width-px") {
		v := cmd.Int("width-px")
		o.widthPx = &v
	}
	o.verbose = cmd.Bool("verbose")
	return o
}

// apply writes the set flags onto cfg.
func (o flagOverrides) apply(cfg *Config) {
	if o.otlpHost != nil {
		cfg.OTLPHost = *o.otlpHost
	}
	if o.otlpPort != nil {
		cfg.OTLPPort = *o.otlpPort
	}
	if o.httpHost != nil {
		cfg.HTTPHost = *o.httpHost
	}
	if o.httpPort != nil {
		cfg.HTTPPort = *o.httpPort
	}
	if o.widthPx != nil {
		cfg.WidthPx = *o.widthPx
	}
	if o.verbose {
		cfg.Verbose = true
	}
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}

// runServe wires together all components: store, OTLP receiver, source,
// session, and the API server.
func runServe(cliCtx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	cfg, err := LoadEffectiveConfig(configPath)
	if err != nil {
		return err
	}
	overridesFromFlags(cmd).apply(cfg)

	lodTable, err := cfg.BuildLodTable()
	if err != nil {
		return err
	}
	minViewWidth, err := cfg.MinViewWidthNanos()
	if err != nil {
		return err
	}
	refreshInterval, err := cfg.RefreshIntervalDuration()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cliCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Ingest store and OTLP receiver.
	store := otlpsource.NewStore(cfg.MaxSpansPerStream, cfg.MaxPointsPerSeries, logger)
	receiver, err := otlpsource.NewReceiver(
		otlpsource.ReceiverConfig{Host: cfg.OTLPHost, Port: cfg.OTLPPort},
		store,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP receiver: %w", err)
	}

	receiverErrChan := make(chan error, 1)
	go func() {
		receiverErrChan <- receiver.Start(ctx)
	}()
	defer receiver.StopWait()

	logger.Info("otlp receiver ready",
		zap.String("endpoint", receiver.Endpoint()),
		zap.String("hint", "export with OTEL_EXPORTER_OTLP_ENDPOINT="+receiver.Endpoint()))

	// 2. Session over the store.
	source := otlpsource.NewSource(store, lodTable, logger)
	session := viewport.NewSession(source, logger, viewport.Config{
		LodTable:     lodTable,
		WidthPx:      cfg.WidthPx,
		MinViewWidth: minViewWidth,
	})
	defer session.Close()
	if err := session.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}

	// 3. Periodic entity refresh picks up services as they appear.
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := session.RefreshEntities(ctx); err != nil {
					logger.Warn("entity refresh failed", zap.Error(err))
				}
			}
		}
	}()

	// 4. Config hot reload, when a config file is in play.
	if configPath != "" {
		watcher, err := NewConfigWatcher(configPath, session, logger)
		if err != nil {
			logger.Warn("config watch unavailable", zap.Error(err))
		} else {
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	// 5. API server blocks until shutdown.
	apiAddr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
	api := wsapi.New(session, logger)
	if err := api.ListenAndServe(ctx, apiAddr); err != nil {
		return fmt.Errorf("api server error: %w", err)
	}

	select {
	case err := <-receiverErrChan:
		if err != nil {
			return fmt.Errorf("otlp receiver error: %w", err)
		}
	default:
	}
	return nil
}
