package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sheerbytes/camrelay/internal/artifact"
	"github.com/sheerbytes/camrelay/internal/catalog"
	"github.com/sheerbytes/camrelay/internal/command"
	"github.com/sheerbytes/camrelay/internal/config"
	"github.com/sheerbytes/camrelay/internal/logging"
	"github.com/sheerbytes/camrelay/internal/particle"
	"github.com/sheerbytes/camrelay/internal/relay"
	"github.com/sheerbytes/camrelay/internal/transfer"
	"github.com/sheerbytes/camrelay/internal/wsclient"
	"github.com/sheerbytes/camrelay/pkg/protocol"
)

const relayVersion = "v0.1.0"

// eventSource delivers inbound events until ctx is cancelled.
type eventSource interface {
	Run(ctx context.Context, handle func(protocol.Event)) error
}

func main() {
	if hasHelpFlag(os.Args[1:]) {
		printUsage()
		return
	}
	if hasVersionFlag(os.Args[1:]) {
		fmt.Fprintln(os.Stdout, relayVersion)
		return
	}

	cfg, err := config.ParseRelayConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "camrelay: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "camrelay: invalid configuration: %v\n", err)
		os.Exit(2)
	}
	logger := logging.NewWithWriter(os.Stdout, "camrelay", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay failed", "error", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

func run(ctx context.Context, cfg config.RelayConfig, logger *slog.Logger) error {
	verifier, err := transfer.NewVerifier(cfg.Digest)
	if err != nil {
		return err
	}
	store, err := artifact.NewStore(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	names := protocol.Names{Location: cfg.LocationEventName, Transfer: cfg.EventName}
	env := &relay.Env{
		Artifacts: store,
		Verifier:  verifier,
		Timing: relay.Timing{
			ChunkTimeout: cfg.ChunkTimeout,
			RestartDelay: cfg.RestartDelay,
		},
		MaxFileSize: cfg.MaxFileSize,
		Logger:      logger,
	}

	if cfg.CatalogPath != "" {
		cat, err := catalog.Open(ctx, cfg.CatalogPath)
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		defer cat.Close()
		env.Recorder = cat
	}

	var caller command.Caller = command.LogCaller{Logger: logger}
	var source eventSource
	var cloud *particle.Client
	if cfg.ProductID > 0 && cfg.Token != "" {
		cloud = particle.New(particle.Options{
			APIURL:         cfg.APIURL,
			Token:          cfg.Token,
			ProductID:      cfg.ProductID,
			FunctionName:   cfg.FunctionName,
			Names:          names,
			CallsPerSecond: cfg.CallsPerSecond,
			CallBurst:      cfg.CallBurst,
			ReconnectDelay: cfg.ReconnectDelay,
			Logger:         logger,
		})
		caller = cloud
	}

	switch cfg.Source {
	case config.SourceParticle:
		if cloud != nil {
			source = cloud
		}
	case config.SourceWebSocket:
		source = &wsclient.Source{
			URL:            cfg.WSURL,
			Token:          cfg.Token,
			Names:          names,
			ReconnectDelay: cfg.ReconnectDelay,
			Logger:         logger,
		}
	}
	if source == nil {
		return fmt.Errorf("no event source for %q", cfg.Source)
	}

	dispatcher := command.NewDispatcher(caller, cfg.RetryDelay, logger)
	defer dispatcher.Close()
	env.Sender = dispatcher

	router := relay.NewRouter(env)
	logger.Info("relay started",
		"source", cfg.Source,
		"product_id", cfg.ProductID,
		"data_dir", cfg.DataDir,
		"digest", verifier.Algorithm(),
		"chunk_timeout", cfg.ChunkTimeout,
		"restart_delay", cfg.RestartDelay,
	)

	// An event already being handled finishes its writes during shutdown.
	routeCtx := context.WithoutCancel(ctx)
	err = source.Run(ctx, func(ev protocol.Event) {
		router.Route(routeCtx, ev)
	})
	logger.Info("shutting down", "devices", len(router.Devices()), "pending_commands", dispatcher.InFlight())
	return err
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "-h" || arg == "--help" || arg == "-help" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-version" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Fprintln(os.Stdout, `camrelay - reassemble files sent in chunks by remote camera devices

Usage:
  camrelay [options]

Options:
  --config <path>              YAML config file (env CAMRELAY_CONFIG)
  --source <particle|ws>       event source (default particle)
  --product-id <id>            Particle product id (env CAMRELAY_PRODUCT_ID)
  --token <token>              API access token (env CAMRELAY_TOKEN or AUTH_TOKEN)
  --api-url <url>              Particle API base URL (default https://api.particle.io)
  --ws-url <url>               websocket event feed URL (ws source)
  --event-name <name>          transfer event name (default camera)
  --location-event-name <name> location event name (default loc)
  --function-name <name>       device function for commands (default camera)
  --data-dir <dir>             artifact directory (default ./data)
  --catalog <path>             sqlite transfer catalog (default disabled)
  --digest <alg>               sha1, sha256 or crc32c (default sha1)
  --chunk-timeout <dur>        missing-chunk timeout (default 20s)
  --restart-delay <dur>        restart delay after a failed check (default 30s)
  --retry-delay <dur>          command retry delay (default 20s)
  --reconnect-delay <dur>      event source reconnect delay (default 5s)
  --calls-per-second <n>       device call rate limit (default 2)
  --call-burst <n>             device call burst (default 4)
  --max-file-size <bytes>      largest accepted file (default 16777216)
  --log-level <level>          debug, info, warn, error (default info)
  --log-format <format>        text or json (default text)
  -h, --help                   show help
  --version                    show version`)
}
