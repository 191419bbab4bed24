package main

import (
	"context"
	"os/signal"
	"syscall"

	zlog "github.com/rs/zerolog/log"

	"github.com/souffle-edu/souffle-api/internal/app"
	"github.com/souffle-edu/souffle-api/internal/config"
	"github.com/souffle-edu/souffle-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, "souffle-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise worker")
	}
	defer application.Close()

	hour, minute, err := config.ParseDailyTime(cfg.ReportSchedule)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid report schedule")
	}

	worker := application.NewWorker()
	worker.Start(ctx)

	reports := application.Services.Reports
	go service.RunDaily(ctx, hour, minute, logger, func(ctx context.Context) error {
		_, err := reports.EnqueueAll(ctx)
		return err
	})

	logger.Info().
		Str("queue", cfg.Queue.Name).
		Int("concurrency", cfg.Queue.Concurrency).
		Str("report_schedule", cfg.ReportSchedule).
		Msg("worker started")

	<-ctx.Done()
	logger.Info().Msg("shutdown requested, waiting for in-flight jobs")
	worker.Wait()
	logger.Info().Msg("worker stopped")
}
