package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"DexLedger/internal/chain"
	"DexLedger/internal/core"
	"DexLedger/internal/encoding"
	"DexLedger/internal/ingestion"
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/observability"
	"DexLedger/internal/persistence"
	"DexLedger/internal/projection"
	"DexLedger/internal/query"
	"DexLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Replay exchange history, follow the chain and serve the read API",
		RunE: func(*cobra.Command, []string) error {
			return serve(loadConfig())
		},
	}
}

func serve(cfg Config) error {
	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := func(component string) zerolog.Logger {
		return observability.NewLoggerWithLevel(component, level)
	}
	log := logger("dexledger")

	exchange, err := encoding.ParseAddress(cfg.ExchangeAddress)
	if err != nil {
		return fmt.Errorf("exchange_address: %w", err)
	}
	fee, err := fpmath.ParseFraction(cfg.Fee)
	if err != nil {
		return fmt.Errorf("fee: %w", err)
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Observability ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)
	healthChecker := observability.NewHealthChecker()

	// --- Chain ---
	client, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info().Str("rpc", cfg.RPCURL).Str("exchange", exchange.Hex()).Msg("chain client ready")

	source := chain.NewEventSource(client, exchange, cfg.DeploymentBlock, logger("chain"))

	// --- Engine ---
	engine := core.NewEngine(source, core.Options{
		BlockPageSize:      cfg.BlockPageSize,
		BlockConfirmations: cfg.BlockConfirmations,
		PollInterval:       cfg.PollInterval,
		Strict:             cfg.Strict,
		EndBlock:           cfg.EndBlock,
		Logger:             logger("engine"),
		Metrics:            metrics,
	})

	// --- Start goroutines ---
	errChan := make(chan error, 8)
	var workers sync.WaitGroup
	runWorker := func(name string, run func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	svc := query.NewService(engine, fee, metrics)

	// 1. Postgres sinks: event archive and projections
	if cfg.PostgresDSN != "" {
		db, err := openPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := persistence.NewMigrator(db, cfg.MigrationsDir, logger("migrator")).Up(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		archiveChan := make(chan core.CommitOutput, cfg.SinkChanSize)
		engine.AddSink("archive", archiveChan)
		archive, err := persistence.NewArchive(db, archiveChan, cfg.ArchiveBatchSize, cfg.ArchiveFlushTimeout, metrics, logger("archive"))
		if err != nil {
			return err
		}
		runWorker("archive", archive.Run)

		projectionChan := make(chan core.CommitOutput, cfg.SinkChanSize)
		engine.AddSink("projection", projectionChan)
		runWorker("projection", projection.NewWorker(db, projectionChan, metrics, logger("projection")).Run)

		svc.WithProjection(db)
	}

	// 2. Outbound publisher
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger("nats"))
		if err != nil {
			return err
		}
		defer nc.Drain()

		if err := ingestion.EnsureStream(ctx, js, logger("nats")); err != nil {
			return err
		}
		publishChan := make(chan core.CommitOutput, cfg.SinkChanSize)
		engine.AddSink("publisher", publishChan)
		runWorker("publisher", ingestion.NewPublisher(js, publishChan, metrics, logger("publisher")).Run)
	}

	// 3. gRPC health + HTTP API
	srv, err := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, svc, healthChecker, logger("server"))
	if err != nil {
		return err
	}
	go func() { errChan <- srv.StartGRPC(ctx) }()
	go func() { errChan <- srv.StartHTTP(ctx) }()

	// 4. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 5. History replay, then live updates. Readiness flips once replay is done.
	go func() {
		if err := engine.Init(ctx); err != nil {
			errChan <- fmt.Errorf("engine init: %w", err)
			return
		}
		srv.SetServing(true)
		snap := engine.Snapshot()
		pos, _ := snap.State.Position()
		log.Info().
			Uint64("block", pos.BlockNumber).
			Int("accounts", snap.State.NumAccounts()).
			Str("http", cfg.HTTPAddr).
			Msg("dexledger ready")
	}()

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("received signal, shutting down")
	case runErr = <-errChan:
		log.Error().Err(runErr).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	srv.SetServing(false)
	if err := engine.Stop(); err != nil {
		log.Warn().Err(err).Msg("last update cycle failed")
	}
	cancel()

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("workers did not drain in time")
	}

	log.Info().Msg("dexledger shutdown complete")
	return runErr
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}
