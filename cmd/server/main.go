// Package main is the entry point for marketd, the market data and backtest
// backend. It wires the provider registry, the daily-bar cache, the refresh
// scheduler and the HTTP API, then blocks until shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/config"
	"github.com/aristath/marketd/internal/database"
	"github.com/aristath/marketd/internal/events"
	"github.com/aristath/marketd/internal/fetcher"
	"github.com/aristath/marketd/internal/fetcher/providers"
	"github.com/aristath/marketd/internal/metrics"
	"github.com/aristath/marketd/internal/modules/backtest"
	backtesthandlers "github.com/aristath/marketd/internal/modules/backtest/handlers"
	"github.com/aristath/marketd/internal/modules/daily"
	"github.com/aristath/marketd/internal/modules/stocks"
	stockhandlers "github.com/aristath/marketd/internal/modules/stocks/handlers"
	"github.com/aristath/marketd/internal/reliability"
	"github.com/aristath/marketd/internal/scheduler"
	"github.com/aristath/marketd/internal/server"
	"github.com/aristath/marketd/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting marketd")

	bus := events.NewBus()
	m := metrics.New()
	m.WatchBus(bus)
	system := metrics.NewSystemStats(cfg.DataDir, log)

	// market.db holds the cached market data, jobs.db the scheduler state.
	marketDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "market.db"),
		Profile: database.ProfileStandard,
		Name:    "market",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market database")
	}
	defer marketDB.Close()

	jobsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "jobs.db"),
		Profile: database.ProfileCache,
		Name:    "jobs",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open jobs database")
	}
	defer jobsDB.Close()

	for _, db := range []*database.DB{marketDB, jobsDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	// Provider registry and router. Registration order does not matter;
	// CompleteRegistration freezes the set and sorts the routing tables.
	registry := fetcher.NewRegistry(fetcher.RegistryConfig{
		Log:            log,
		DefaultTimeout: cfg.FetchTimeout,
		Bus:            bus,
		Observer:       m,
	})
	for _, p := range []fetcher.Provider{
		providers.NewEastMoney(log),
		providers.NewSina(log),
		providers.NewXueQiu(log),
		providers.NewExchangeListing(log),
		providers.NewLegulegu(log),
	} {
		if err := registry.RegisterProvider(p); err != nil {
			log.Fatal().Err(err).Msg("Failed to register provider")
		}
	}
	if err := registry.CompleteRegistration(); err != nil {
		log.Fatal().Err(err).Msg("Failed to complete provider registration")
	}
	router := registry.Bind()

	// Repositories and services.
	dailyRepo := daily.NewRepository(marketDB, log)
	dailyService := daily.NewService(dailyRepo, router, log)

	stockRepo := stocks.NewStockRepository(marketDB, log)
	industryRepo := stocks.NewIndustryRepository(marketDB, log)
	stockService := stocks.NewService(stockRepo, industryRepo, log)
	syncService := stocks.NewSyncService(stockRepo, industryRepo, router, dailyService, log)

	backtestRepo := backtest.NewRepository(marketDB, log)
	backtestService := backtest.NewService(backtestRepo, stockService, dailyService, bus, log)

	// Refresh scheduler with its built-in jobs.
	jobStore := scheduler.NewJobStore(jobsDB, log)
	sched := scheduler.New(jobStore, bus, log)
	registerJobs(sched, syncService, cfg, log)

	if cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 client")
		}
		snapshotter := reliability.NewSnapshotter(map[string]*database.DB{
			"market": marketDB,
			"jobs":   jobsDB,
		}, cfg.DataDir, log)
		backupService := reliability.NewService(snapshotter, s3Client, cfg.Backup.Keep, log)

		backupJob := scheduler.NewBackupJob(backupService)
		backupJob.SetLogger(log)
		if err := sched.AddJob(backupJob, scheduler.BackupSpec, false); err != nil {
			log.Fatal().Err(err).Msg("Failed to add backup job")
		}
	}

	if cfg.SchedulerOn {
		sched.Start()
		log.Info().Msg("Scheduler started")
	} else {
		log.Info().Msg("Scheduler disabled by configuration")
	}

	srv := server.New(server.Config{
		Log:              log,
		Port:             cfg.Port,
		Registry:         registry,
		Bus:              bus,
		Metrics:          m,
		System:           system,
		StockHandlers:    stockhandlers.NewStockHandlers(stockService, dailyService, log),
		BacktestHandlers: backtesthandlers.NewBacktestHandlers(backtestService, log),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Scheduler forced to shutdown")
	}

	log.Info().Msg("marketd stopped")
}

// registerJobs adds the built-in refresh jobs. Run-on-start is driven by
// configuration so a fresh deployment can seed its cache immediately.
func registerJobs(sched *scheduler.Scheduler, syncer scheduler.StockSyncer, cfg *config.Config, log zerolog.Logger) {
	basicInfo := scheduler.NewBasicInfoJob(syncer)
	basicInfo.SetLogger(log)
	dailyBars := scheduler.NewDailyBarsJob(syncer)
	dailyBars.SetLogger(log)
	industry := scheduler.NewIndustryJob(syncer)
	industry.SetLogger(log)

	for _, reg := range []struct {
		job  scheduler.Job
		spec string
	}{
		{basicInfo, scheduler.BasicInfoSpec},
		{dailyBars, scheduler.DailyBarsSpec},
		{industry, scheduler.IndustrySpec},
	} {
		if err := sched.AddJob(reg.job, reg.spec, cfg.RunJobsOnStart); err != nil {
			log.Fatal().Err(err).Str("job", reg.job.Name()).Msg("Failed to add job")
		}
	}
}
