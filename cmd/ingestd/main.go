package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rickgao/eve-market/internal/character"
	"github.com/rickgao/eve-market/internal/config"
	"github.com/rickgao/eve-market/internal/database"
	"github.com/rickgao/eve-market/internal/esi"
	"github.com/rickgao/eve-market/internal/events"
	"github.com/rickgao/eve-market/internal/jobs"
	"github.com/rickgao/eve-market/internal/logging"
	"github.com/rickgao/eve-market/internal/metrics"
	"github.com/rickgao/eve-market/internal/model"
	"github.com/rickgao/eve-market/internal/poller"
	"github.com/rickgao/eve-market/internal/recommend"
	"github.com/rickgao/eve-market/internal/server"
	"github.com/rickgao/eve-market/internal/snipes"
	"github.com/rickgao/eve-market/internal/store"
	"github.com/rickgao/eve-market/internal/throttle"
	"github.com/rickgao/eve-market/internal/tier"
	"github.com/rickgao/eve-market/internal/trends"
	"github.com/rickgao/eve-market/internal/valuation"
	"github.com/rickgao/eve-market/internal/version"
)

// component is anything with the Start/Stop lifecycle.
type component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "", "path to config file (defaults only if empty)")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("ingestd exited with error", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting ingestd",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Store
	st, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Metrics and events
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	bus := events.NewBus(events.BusConfig{
		BufferSize: cfg.Events.BufferSize,
		History:    cfg.Events.History,
		Hydrate:    cfg.Events.Hydrate,
		Heartbeat:  cfg.Events.Heartbeat,
		SendQueue:  cfg.Events.SendQueue,
		Status: events.StatusConfig{
			LastRuns: cfg.Events.LastRuns,
			Logs:     cfg.Events.Logs,
		},
	}, logger, collector)
	metrics.RegisterBus(reg, bus)

	// Remote API
	budget := throttle.NewErrorBudget()
	client := esi.NewClient(cfg.ESI.BaseURL, budget,
		esi.WithLogger(logger),
		esi.WithTimeout(cfg.ESI.Timeout),
		esi.WithRetries(cfg.ESI.MaxRetries),
		esi.WithErrorDelay(cfg.ESI.ErrorDelay),
		esi.WithRateLimit(cfg.ESI.RateLimit, cfg.ESI.Burst),
		esi.WithDatasource(cfg.ESI.Datasource),
		esi.WithUserAgent(cfg.ESI.UserAgent),
		esi.WithBudgetHook(func(remaining int, reset time.Duration) {
			bus.Emit(events.New(events.ESI{Remain: remaining, Reset: int(reset / time.Second)}))
		}),
	)

	statusCtx, statusCancel := context.WithTimeout(ctx, 15*time.Second)
	if status, err := client.Status(statusCtx); err != nil {
		logger.Warn("esi status check failed", "error", err)
	} else {
		logger.Info("esi status", "players", status.Players, "server_version", status.ServerVersion)
	}
	statusCancel()

	// Throttle
	controller := throttle.NewController(throttle.ControllerConfig{
		Baseline:  cfg.Throttle.Baseline,
		LowWater:  cfg.Throttle.LowWater,
		HighWater: cfg.Throttle.HighWater,
	}, budget)
	limiter := throttle.NewLimiter(throttle.LimiterConfig{
		LowRemaining: cfg.Throttle.LowRemaining,
		ShortDelay:   cfg.Throttle.ShortDelay,
		MaxBackoff:   cfg.Throttle.MaxBackoff,
	}, budget)

	// Job handlers
	table := tier.TableFromConfig(cfg.Tiers.IntervalsMinutes, cfg.Tiers.Breakpoints)

	tick := poller.New(poller.Config{
		RegionID:    cfg.Market.RegionID,
		StationID:   cfg.Market.StationID,
		MaxBatch:    cfg.Tick.MaxBatch,
		Workers:     cfg.Tick.Workers,
		TaskTimeout: cfg.Tick.TaskTimeout,
	}, client, st, controller, bus, logger)

	trendRefresher := trends.New(trends.Config{
		RegionID:    cfg.Market.RegionID,
		MaxTypes:    cfg.Trends.MaxTypes,
		Concurrency: cfg.Trends.Concurrency,
		SeedCatalog: cfg.Trends.SeedCatalog,
		SeedTier:    model.Tier(cfg.Tiers.Default),
	}, client, st, table, logger)

	valuations := valuation.New(cfg.Market.StationID, st, bus, logger)

	scanner := recommend.New(recommend.Config{
		StationID:    cfg.Market.StationID,
		Mode:         recommend.Mode(cfg.Recommender.Mode),
		MinVolume:    cfg.Recommender.MinVolume,
		MinMomentum:  cfg.Recommender.MinMomentum,
		MaxStaleness: cfg.Recommender.MaxStaleness,
		MinSpread:    cfg.Recommender.MinSpread,
		Limit:        cfg.Recommender.Limit,
	}, st, logger)

	snipeFinder := snipes.New(snipes.Config{
		StationID:  cfg.Market.StationID,
		Window:     cfg.Snipes.Window,
		Epsilon:    cfg.Snipes.Epsilon,
		Delta:      cfg.Snipes.Delta,
		ZThreshold: cfg.Snipes.ZThreshold,
		MinSpread:  cfg.Snipes.MinSpread,
		Limit:      cfg.Snipes.Limit,
	}, st, logger)

	syncer := character.New(cfg.Character.ID, client, logger)

	queue := jobs.NewQueue(jobs.Handlers{
		SyncCharacter:         syncer.Run,
		RefreshTrends:         trendRefresher.Run,
		SnapshotOrders:        tick.Job,
		RefreshTypeValuations: valuations.Run,
		RecommenderScan:       scanner.Run,
	}, st, bus, logger, cfg.Events.LogBurst)

	// Lifecycle: started in order, stopped in reverse.
	components := []component{bus}

	var scheduler *jobs.Scheduler
	if os.Getenv("DISABLE_BACKGROUND_JOBS") != "" {
		logger.Warn("background jobs disabled by DISABLE_BACKGROUND_JOBS")
	} else {
		settings, err := jobs.SettingsFromConfig(cfg.Scheduler.Jobs)
		if err != nil {
			return fmt.Errorf("scheduler settings: %w", err)
		}
		scheduler, err = jobs.NewScheduler(queue, st, settings, cfg.Scheduler.PollInterval, logger)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		worker := jobs.NewWorker(jobs.DefaultWorkerConfig(), queue, limiter, logger)
		components = append(components, worker, scheduler)
	}

	deps := server.Deps{Events: bus, Jobs: queue, Snipes: snipeFinder, Store: st}
	if scheduler != nil {
		deps.Scheduler = scheduler
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.Handler(reg)
	}
	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MetricsPath:  cfg.Metrics.Path,
		InstanceID:   cfg.Instance.ID,
	}, deps, logger)
	components = append(components, srv)

	started := 0
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		for i := started - 1; i >= 0; i-- {
			if err := components[i].Stop(shutdownCtx); err != nil {
				logger.Error("failed to stop component", "index", i, "error", err)
			}
		}
	}()
	for _, c := range components {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("start component: %w", err)
		}
		started++
	}

	logger.Info("ingestd running",
		"addr", cfg.Server.Addr,
		"region_id", cfg.Market.RegionID,
		"station_id", cfg.Market.StationID,
		"background_jobs", scheduler != nil,
	)

	<-ctx.Done()
	logger.Info("shutting down...")
	return nil
}

// openStore connects the configured backend and returns a close func.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory store; data is lost on exit")
		return store.NewMemory(), func() {}, nil
	}

	logger.Info("connecting to database",
		"host", cfg.Postgres.Host,
		"port", cfg.Postgres.Port,
		"database", cfg.Postgres.Name,
	)
	pool, err := database.Connect(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database connected")
	return store.NewPostgres(pool), pool.Close, nil
}
