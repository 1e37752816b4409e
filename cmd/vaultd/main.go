package main

import (
	"BondVault/internal/adapter/memory"
	"BondVault/internal/config"
	"BondVault/internal/harvest"
	"BondVault/internal/ingestion"
	"BondVault/internal/lease"
	"BondVault/internal/observability"
	"BondVault/internal/persistence"
	"BondVault/internal/projection"
	"BondVault/internal/query"
	"BondVault/internal/server"
	"BondVault/internal/vault"
	"context"
	"database/sql"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("VAULT_CONFIG"), "path to a TOML config file")
	standalone := flag.Bool("standalone", false, "run without Postgres, NATS and Redis")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := observability.NewLogger("vaultd")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	if *standalone {
		cfg.Mode = config.ModeStandalone
	}

	level := observability.ParseLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("vaultd", level)
	logFor := func(component string) zerolog.Logger {
		return observability.NewLoggerWithLevel(component, level)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().Str("mode", cfg.Mode).Str("admin", cfg.AdminAddress().Hex()).Msg("BondVault starting")

	if cfg.Mode == config.ModeStandalone {
		runStandalone(cfg, logger, logFor)
		return
	}
	runService(cfg, logger, logFor)
}

func newPorts(cfg *config.Config) *memory.Set {
	set := memory.NewSet(cfg.Standalone.Prices)
	if cfg.Standalone.Faucet > 0 {
		set.Treasury.EnableFaucet(cfg.Standalone.Faucet)
	}
	return set
}

func vaultConfig(cfg *config.Config) vault.Config {
	return vault.Config{
		Admin:             cfg.AdminAddress(),
		Curve:             cfg.CurveParams(),
		LRUCapacity:       cfg.Persistence.LRUCapacity,
		FullCheckInterval: cfg.Persistence.FullCheckInterval,
	}
}

func waitForShutdown(logger zerolog.Logger, errChan <-chan error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}
}

func runService(cfg *config.Config, logger zerolog.Logger, logFor func(string) zerolog.Logger) {
	// setupCtx bounds startup work; coreCtx stops the command path; workerCtx
	// outlives it so the persistence tail drains before exit.
	setupCtx, setupCancel := context.WithCancel(context.Background())
	defer setupCancel()
	coreCtx, coreCancel := context.WithCancel(context.Background())
	defer coreCancel()
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.Require("recovery")
	healthChecker.Require("ingestion")
	errChan := make(chan error, 16)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnLifetime.Duration)

	if err := db.PingContext(setupCtx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, os.DirFS(cfg.Postgres.MigrationsDir), logFor("migrator"))
	if err := migrator.Up(setupCtx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Single-writer lease ---
	var writerLease *lease.Lease
	leaseCtx, leaseCancel := context.WithCancel(context.Background())
	defer leaseCancel()
	if cfg.Redis.Addr != "" {
		healthChecker.Require("lease")
		store, err := lease.NewRedisStore(setupCtx, lease.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connect")
		}
		defer store.Close()

		writerLease = lease.New(store, lease.Options{
			Key:           cfg.Redis.LeaseKey,
			TTL:           cfg.Redis.LeaseTTL.Duration,
			RenewInterval: cfg.Redis.LeaseRenew.Duration,
			AcquireWait:   cfg.Redis.AcquireWait.Duration,
			RetryJitter:   cfg.Redis.AcquireJitter.Duration,
		}, metrics, logFor("lease"))

		if err := writerLease.Acquire(setupCtx); err != nil {
			logger.Fatal().Err(err).Msg("acquire writer lease")
		}
		healthChecker.Satisfy("lease", true)
		go func() {
			if err := writerLease.Run(leaseCtx); err != nil {
				healthChecker.Satisfy("lease", false)
				errChan <- err
			}
		}()
	} else {
		logger.Warn().Msg("redis not configured, running without a writer lease")
	}

	// --- Vault core ---
	persistChan := make(chan vault.Output, cfg.Persistence.PersistChanSize)
	projectionChan := make(chan vault.Output, cfg.Persistence.ProjectionChanSize)
	publishChan := make(chan vault.Output, cfg.Persistence.PersistChanSize)

	set := newPorts(cfg)
	ctrl, err := vault.NewController(
		vaultConfig(cfg),
		set.Ports(),
		persistChan,
		projectionChan,
		persistence.NewPostgresIdempotencyChecker(db),
		metrics,
		logFor("core"),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("create controller")
	}

	// --- Recovery ---
	snapMgr := persistence.NewSnapshotManager(db)
	recovered, err := persistence.Recover(setupCtx, snapMgr, ctrl, cfg.Persistence.LRUCapacity, logFor("recovery"))
	if err != nil {
		logger.Fatal().Err(err).Msg("recovery failed")
	}
	set.Seed(ctrl.CreateSnapshotState())
	healthChecker.Satisfy("recovery", true)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logFor("nats"))
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureCommandStream(setupCtx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure command stream")
	}
	if err := ingestion.EnsureOutboundStream(setupCtx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	cmdChan := make(chan ingestion.RawCommand, cfg.Persistence.CommandChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, cmdChan, logFor("subscriber"))

	// --- Goroutines ---
	runner := vault.NewRunner(ctrl, cfg.Persistence.CommandChanSize, metrics)
	go runner.Run(coreCtx)

	persistDone := make(chan struct{})
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, publishChan,
		cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout.Duration, metrics,
		logFor("persistence"))
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- err
		}
	}()

	claims := projection.NewClaimHistory(0)
	projWorker := projection.NewProjectionWorker(db, projectionChan, claims, metrics, logFor("projection"))
	go func() {
		_ = projWorker.Run(workerCtx)
	}()

	publisher := ingestion.NewOutboundPublisher(js, publishChan, logFor("publisher"))
	publishDone := make(chan struct{})
	go func() {
		defer close(publishDone)
		_ = publisher.Run(workerCtx)
	}()

	dispatcher := ingestion.NewDispatcher(runner, cmdChan, nc, metrics, logFor("dispatcher"))
	go func() {
		_ = dispatcher.Run(coreCtx)
	}()

	if err := subscriber.Subscribe(coreCtx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}
	healthChecker.Satisfy("ingestion", true)

	snapshotter := persistence.NewSnapshotter(snapMgr, runner,
		cfg.Persistence.SnapshotInterval, cfg.Persistence.SnapshotCheck.Duration,
		recovered.NextSequence-1, metrics, logFor("snapshot"))
	go func() {
		_ = snapshotter.Run(coreCtx)
	}()

	startHarvest(coreCtx, cfg, runner, writerLease, metrics, logger, logFor("harvest"), errChan)

	srv := server.NewServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.Deps{
		Runner:        runner,
		Query:         query.NewQueryService(db),
		Claims:        claims,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Gatherer:      prometheus.DefaultGatherer,
		StartTime:     time.Now(),
	}, logFor("server"))
	go func() {
		if err := srv.StartGRPC(coreCtx); err != nil {
			errChan <- err
		}
	}()
	go func() {
		if err := srv.StartHTTPGateway(coreCtx); err != nil {
			errChan <- err
		}
	}()
	srv.SetServing(true)

	logger.Info().
		Int64("next_sequence", recovered.NextSequence).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Msg("BondVault ready")

	waitForShutdown(logger, errChan)

	// --- Graceful shutdown ---
	// Stop intake, let the core finish its current task, then drain the
	// persist channel before the final snapshot.
	srv.SetServing(false)
	subscriber.Stop()
	coreCancel()
	<-runner.Stopped()

	close(persistChan)
	<-persistDone
	close(projectionChan)
	close(publishChan)

	select {
	case <-publishDone:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("outbound publisher did not drain in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := snapshotter.Final(shutdownCtx, ctrl); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", ctrl.Sequence()-1).Msg("final snapshot saved")
	}

	workerCancel()
	leaseCancel()
	if writerLease != nil {
		writerLease.Release()
	}
	logger.Info().Msg("BondVault shutdown complete")
}

func startHarvest(
	ctx context.Context,
	cfg *config.Config,
	runner *vault.Runner,
	writerLease *lease.Lease,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	harvestLogger zerolog.Logger,
	errChan chan<- error,
) {
	hcfg := harvest.Config{ResyncSchedule: cfg.Harvest.ResyncSchedule}
	var source harvest.Source
	if cfg.Harvest.Enabled {
		hcfg.Schedule = cfg.Harvest.Schedule
		source = harvest.FixedSource(cfg.Harvest.Amount)
	}
	var gate func() bool
	if writerLease != nil {
		gate = writerLease.Held
	}

	scheduler, err := harvest.NewScheduler(runner, source, hcfg, gate, metrics, harvestLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("harvest scheduler")
	}
	if scheduler.Jobs() == 0 {
		return
	}
	go func() {
		if err := scheduler.Run(ctx); err != nil {
			errChan <- err
		}
	}()
}

// runStandalone runs the core over in-memory adapters with the HTTP read
// surface and the harvest jobs. Nothing is persisted; committed events feed
// the claim history directly.
func runStandalone(cfg *config.Config, logger zerolog.Logger, logFor func(string) zerolog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	errChan := make(chan error, 8)

	persistChan := make(chan vault.Output, cfg.Persistence.PersistChanSize)
	claims := projection.NewClaimHistory(0)
	go func() {
		for out := range persistChan {
			claims.Observe(out.Envelope, out.Event)
		}
	}()

	set := newPorts(cfg)
	ctrl, err := vault.NewController(vaultConfig(cfg), set.Ports(), persistChan, nil, nil, metrics,
		logFor("core"))
	if err != nil {
		logger.Fatal().Err(err).Msg("create controller")
	}

	runner := vault.NewRunner(ctrl, cfg.Persistence.CommandChanSize, metrics)
	go runner.Run(ctx)

	startHarvest(ctx, cfg, runner, nil, metrics, logger, logFor("harvest"), errChan)

	srv := server.NewServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.Deps{
		Runner:        runner,
		Claims:        claims,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Gatherer:      prometheus.DefaultGatherer,
		StartTime:     time.Now(),
	}, logFor("server"))
	go func() {
		if err := srv.StartHTTPGateway(ctx); err != nil {
			errChan <- err
		}
	}()
	srv.SetServing(true)

	logger.Info().Str("http", cfg.Server.HTTPAddr).Msg("BondVault ready (standalone)")

	waitForShutdown(logger, errChan)

	srv.SetServing(false)
	cancel()
	<-runner.Stopped()
	close(persistChan)
	logger.Info().Int64("sequence", ctrl.Sequence()-1).Msg("BondVault shutdown complete")
}
