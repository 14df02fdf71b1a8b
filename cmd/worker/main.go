package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"nestsync/internal/config"
	"nestsync/internal/credentials"
	"nestsync/internal/logging"
	"nestsync/internal/models"
	"nestsync/internal/provider"
	"nestsync/internal/ratelimit"
	"nestsync/internal/store"
	syncexec "nestsync/internal/sync"
	"nestsync/internal/telemetry"
	workerproc "nestsync/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.Env).With().Str("service", "worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	// One limiter per process: every executor shares the hourly budget.
	limiter := ratelimit.NewWindow(cfg.RateCapacity, cfg.RateWindow, cfg.RateCooldown, provider.IsRateLimited)
	providerClient := provider.NewGraphClient(cfg.ProviderBaseURL, cfg.ProviderTimeout)
	credsClient := credentials.NewHTTPClient(cfg.CredentialsBaseURL, cfg.ProviderTimeout)

	backfill := syncexec.NewBackfill(st, providerClient, credsClient, limiter, log, cfg.BackfillPageSize)
	daily := syncexec.NewDaily(st, providerClient, credsClient, limiter, log, cfg.WeeklyRunDay)
	refresh := syncexec.NewRefresh(st, providerClient, credsClient, limiter, log)

	processor := workerproc.NewProcessor(cfg, st, limiter, log, workerID)
	processor.RegisterHandler(models.JobBackfill, backfill.Run)
	processor.RegisterHandler(models.JobDailySync, func(ctx context.Context, job models.SyncJob) error {
		_, err := daily.Run(ctx, job)
		return err
	})
	processor.RegisterHandler(models.JobRefresh, refresh.Run)

	archiver, err := workerproc.NewArchiver(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init archiver")
	}
	cron := workerproc.NewCron(cfg, st, archiver, log)
	go func() {
		if err := cron.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("cron stopped")
		}
	}()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().
		Str("worker_id", workerID).
		Dur("poll_interval", cfg.PollInterval).
		Int("rate_capacity", cfg.RateCapacity).
		Msg("worker starting")
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker stopped")
	}
}
