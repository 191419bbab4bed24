package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/souffle-edu/souffle-api/internal/app"
	"github.com/souffle-edu/souffle-api/internal/config"
	"github.com/souffle-edu/souffle-api/internal/handler"
	"github.com/souffle-edu/souffle-api/internal/middleware"
	"github.com/souffle-edu/souffle-api/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, "souffle-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise application")
	}
	defer application.Close()

	services := application.Services
	services.Events.Start(ctx)

	if cfg.EmbedWorker {
		worker := application.NewWorker()
		worker.Start(ctx)
		defer worker.Wait()
		logger.Info().Msg("embedded queue worker started")
	}

	fiberApp := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB*8 + 1) * 1024 * 1024,
	})

	middleware.Register(fiberApp, middleware.Config{Logger: &logger})
	router.Register(fiberApp, cfg, router.Dependencies{
		AuthHandler:       handler.NewAuthHandler(services.Auth, logger),
		UserHandler:       handler.NewUserHandler(services.Users, logger),
		CategoryHandler:   handler.NewCategoryHandler(services.Categories, logger),
		ProblemHandler:    handler.NewProblemHandler(services.Problems, logger),
		SubmissionHandler: handler.NewSubmissionHandler(services.Submission, services.Events, logger),
		ConceptHandler:    handler.NewConceptHandler(services.Concepts, logger),
		NoteHandler:       handler.NewNoteHandler(services.Notes, logger),
		ReportHandler:     handler.NewReportHandler(services.Reports, logger),
		DataHandler:       handler.NewDataHandler(application.Data, services.Analysis, application.Validator, logger),
		UploadHandler:     handler.NewUploadHandler(services.Uploads, logger),
		AdminQueueHandler: handler.NewAdminQueueHandler(application.Queue, logger),
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		DB:                application.DB,
		Redis:             application.Redis,
	})

	go func() {
		if err := fiberApp.Listen(cfg.HTTPAddress()); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	waitForShutdown(ctx, fiberApp, logger)
}

func waitForShutdown(ctx context.Context, app *fiber.App, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
