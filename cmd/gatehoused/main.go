// Command gatehoused runs the identity backend: the sqlite event store,
// a NATS event bus (embedded by default), the command side, the projection
// engine and the periodic intent reaper, all under one lifecycle runner.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/command"
	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore/sqlite"
	"github.com/gatehouse-id/gatehouse/pkg/messaging/nats"
	"github.com/gatehouse-id/gatehouse/pkg/observability"
	"github.com/gatehouse-id/gatehouse/pkg/projection"
	"github.com/gatehouse-id/gatehouse/pkg/query"
	"github.com/gatehouse-id/gatehouse/pkg/runner"
)

func main() {
	var (
		dbPath       = flag.String("db", envOr("GATEHOUSE_DB", "gatehouse.db"), "sqlite database path, :memory: for ephemeral")
		natsURL      = flag.String("nats-url", os.Getenv("GATEHOUSE_NATS_URL"), "NATS server URL, empty starts an embedded server")
		natsStoreDir = flag.String("nats-store-dir", envOr("GATEHOUSE_NATS_STORE_DIR", "nats-data"), "JetStream storage directory for the embedded server")
		instanceID   = flag.String("instance", os.Getenv("GATEHOUSE_INSTANCE"), "instance to create on first start, empty skips bootstrap")
		reapInterval = flag.Duration("reap-interval", time.Minute, "how often expired login intents are failed")
		logLevel     = flag.String("log-level", envOr("GATEHOUSE_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if err := run(context.Background(), config{
		dbPath:       *dbPath,
		natsURL:      *natsURL,
		natsStoreDir: *natsStoreDir,
		instanceID:   *instanceID,
		reapInterval: *reapInterval,
	}, logger); err != nil {
		logger.Error("gatehoused failed", "error", err)
		os.Exit(1)
	}
}

type config struct {
	dbPath       string
	natsURL      string
	natsStoreDir string
	instanceID   string
	reapInterval time.Duration
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	tel, err := observability.Init(ctx, observability.Config{
		ServiceName:    "gatehoused",
		ServiceVersion: version,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer tel.Shutdown(context.Background())

	storeOpts := []sqlite.Option{sqlite.WithDSN(cfg.dbPath)}
	if cfg.dbPath == ":memory:" {
		storeOpts = []sqlite.Option{sqlite.WithMemoryDatabase()}
	}
	store, err := sqlite.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	busURL := cfg.natsURL
	if busURL == "" {
		embedded, err := nats.StartEmbeddedServer(cfg.natsStoreDir)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		defer embedded.Shutdown()
		busURL = embedded.URL()
		logger.Info("embedded nats started", "url", busURL)
	}

	busConfig := nats.DefaultConfig()
	busConfig.URL = busURL
	bus, err := nats.NewEventBus(busConfig)
	if err != nil {
		return fmt.Errorf("connect event bus: %w", err)
	}
	defer bus.Close()

	store.SetNotifier(func(ctx context.Context, events []domain.Event) {
		if err := bus.Publish(events); err != nil {
			logger.Error("publishing committed events failed", "count", len(events), "error", err)
		}
	})

	commands := command.New(store,
		command.WithLogger(logger),
		command.WithMonitor(tel.Metrics))

	engine := projection.NewEngine(store.DB(), store,
		projection.WithLogger(logger),
		projection.WithEventBus(bus))
	engine.Register(projection.All()...)

	queries := query.New(store.DB(), store, query.WithProjectionEngine(engine))

	if cfg.instanceID != "" {
		if err := bootstrap(ctx, commands, cfg.instanceID, logger); err != nil {
			return err
		}
	}

	r := runner.New([]runner.Service{
		runner.NewProjectionService(engine,
			runner.WithProjectionLogger(logger),
			runner.WithProjectionRecorder(tel.Metrics)),
		runner.NewIntentReaper(commands, store,
			runner.WithReaperLogger(logger),
			runner.WithReapInterval(cfg.reapInterval)),
	}, runner.WithLogger(logger))

	go reportReady(ctx, queries, logger)

	return r.Run(ctx)
}

// bootstrap creates the configured instance on first start. An existing
// instance is not an error.
func bootstrap(ctx context.Context, commands *command.Commands, instanceID string, logger *slog.Logger) error {
	ctx = domain.WithActor(ctx, domain.Actor{InstanceID: instanceID, UserID: "system"})
	_, err := commands.AddInstance(ctx, instanceID, instanceID)
	switch {
	case err == nil:
		logger.Info("instance created", "instance", instanceID)
	case errs.IsAlreadyExists(err):
		logger.Debug("instance already exists", "instance", instanceID)
	default:
		return fmt.Errorf("bootstrap instance %s: %w", instanceID, err)
	}
	return nil
}

// reportReady logs one health summary once the projections caught up.
func reportReady(ctx context.Context, queries *query.Queries, logger *slog.Logger) {
	// give the runner a moment to start the engine
	time.Sleep(2 * time.Second)
	if err := queries.Sync(ctx); err != nil {
		logger.Error("initial projection sync failed", "error", err)
		return
	}
	summary, err := queries.ProjectionHealthSummary(ctx)
	if err != nil {
		logger.Error("projection health summary failed", "error", err)
		return
	}
	logger.Info("projections ready",
		"projections", summary.Projections,
		"max_lag", summary.MaxLag,
		"healthy", summary.Healthy)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
