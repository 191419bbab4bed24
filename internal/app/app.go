package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/config"
	"github.com/souffle-edu/souffle-api/internal/database"
	"github.com/souffle-edu/souffle-api/internal/observability"
	"github.com/souffle-edu/souffle-api/internal/queue"
	"github.com/souffle-edu/souffle-api/internal/repository"
	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/pkg/ai"
	"github.com/souffle-edu/souffle-api/pkg/dataservice"
	"github.com/souffle-edu/souffle-api/pkg/storage"
)

// Services is the set of domain services shared by the API and worker processes.
type Services struct {
	Auth       service.AuthService
	Users      service.UserService
	Categories service.CategoryService
	Problems   service.ProblemService
	Concepts   service.ConceptService
	Notes      service.NoteService
	Stats      service.StatsService
	Submission service.SubmissionService
	Analysis   service.AnalysisService
	Reports    service.ReportService
	Uploads    service.UploadService
	Events     service.EventService
}

// App owns the infrastructure connections and the wired services.
type App struct {
	Cfg       config.Config
	Log       zerolog.Logger
	DB        *gorm.DB
	Redis     *redis.Client
	NATS      *nats.Conn
	Queue     *queue.Queue
	Data      *dataservice.Client
	Validator *validator.Validate
	Services  Services
}

// NewLogger builds the root logger at the configured level.
func NewLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()
}

// New connects to every backing service, migrates the schema and wires the services.
// name identifies the process on the event bus.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger, name string) (*App, error) {
	observability.RegisterMetrics()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	redisClient, err := database.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, name)
	if err != nil {
		// Redis pub/sub still carries events across processes.
		logger.Warn().Err(err).Msg("nats unavailable, falling back to redis pub/sub")
		natsConn = nil
	}

	store, err := storage.New(ctx, storage.Config{
		Driver:              cfg.Storage.Driver,
		PublicBaseURL:       cfg.Storage.PublicBaseURL,
		CloudinaryCloudName: cfg.Storage.CloudinaryCloudName,
		CloudinaryAPIKey:    cfg.Storage.CloudinaryAPIKey,
		CloudinaryAPISecret: cfg.Storage.CloudinaryAPISecret,
		CloudinaryFolder:    cfg.Storage.CloudinaryFolder,
		MinioEndpoint:       cfg.Storage.MinioEndpoint,
		MinioAccessKey:      cfg.Storage.MinioAccessKey,
		MinioSecretKey:      cfg.Storage.MinioSecretKey,
		MinioBucket:         cfg.Storage.MinioBucket,
		GCSBucket:           cfg.Storage.GCSBucket,
		GCSCredentialsFile:  cfg.Storage.GCSCredentialsFile,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	data, err := dataservice.New(dataservice.Config{
		BaseURL:         cfg.DataServiceURL,
		OCRTimeout:      cfg.OCRTimeout,
		AnalysisTimeout: cfg.AnalysisHTTPTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init data service client: %w", err)
	}

	analyzer, err := newAnalyzer(cfg, data, logger)
	if err != nil {
		return nil, err
	}

	jobs := queue.New(redisClient, cfg.Queue.Name, queue.Options{
		Attempts: cfg.Queue.Attempts,
		Backoff:  cfg.Queue.Backoff,
		Timeout:  cfg.Queue.Timeout,
	})
	if err := observability.RegisterQueueDepth(jobs.Name(), func(ctx context.Context) (observability.QueueDepth, error) {
		stats, err := jobs.Stats(ctx)
		return observability.QueueDepth(stats), err
	}); err != nil {
		logger.Warn().Err(err).Str("queue", jobs.Name()).Msg("queue depth metric not registered")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	users := repository.NewUserRepository(db)
	categories := repository.NewCategoryRepository(db)
	problems := repository.NewProblemRepository(db)
	submissions := repository.NewSubmissionRepository(db)
	userProblems := repository.NewUserProblemRepository(db)
	folders := repository.NewNoteFolderRepository(db)
	contents := repository.NewNoteContentRepository(db)
	progress := repository.NewProgressRepository(db)
	reports := repository.NewReportRepository(db)
	concepts := repository.NewConceptRepository(db)
	uploads := repository.NewUploadRepository(db)

	events := service.NewEventService(redisClient, natsConn, cfg.EventPrefix, logger)
	stats := service.NewStatsService(submissions, problems, categories, progress, logger)
	analysis := service.NewAnalysisService(jobs, analyzer, submissions, problems, events, validate, logger)

	services := Services{
		Auth: service.NewAuthService(users, service.AuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			CallbackURL:  cfg.GoogleCallbackURL,
			JWTSecret:    cfg.JWTSecret,
			AccessTTL:    cfg.JWTAccessTTL,
			RefreshTTL:   cfg.JWTRefreshTTL,
		}, logger),
		Users:      service.NewUserService(users, progress, logger),
		Categories: service.NewCategoryService(categories, redisClient, cfg.CategoryCacheTTL, logger),
		Problems:   service.NewProblemService(problems, categories, submissions, logger),
		Concepts:   service.NewConceptService(concepts, validate, logger),
		Notes: service.NewNoteService(service.NoteDeps{
			Folders:      folders,
			Contents:     contents,
			UserProblems: userProblems,
			Submissions:  submissions,
			Categories:   categories,
		}, validate, logger),
		Stats: stats,
		Submission: service.NewSubmissionService(service.SubmissionDeps{
			Submissions:  submissions,
			Problems:     problems,
			UserProblems: userProblems,
			Folders:      folders,
			Storage:      store,
			Converter:    data,
			Analysis:     analysis,
			Stats:        stats,
			Events:       events,
			Validator:    validate,
			MaxFileMB:    cfg.UploadMaxSizeMB,
		}, logger),
		Analysis: analysis,
		Reports:  service.NewReportService(reports, submissions, users, data, jobs, validate, logger),
		Uploads:  service.NewUploadService(store, uploads, cfg.UploadMaxSizeMB, logger),
		Events:   events,
	}

	return &App{
		Cfg:       cfg,
		Log:       logger,
		DB:        db,
		Redis:     redisClient,
		NATS:      natsConn,
		Queue:     jobs,
		Data:      data,
		Validator: validate,
		Services:  services,
	}, nil
}

// NewWorker builds a queue worker with the analysis and report handlers registered.
func (a *App) NewWorker() *queue.Worker {
	worker := queue.NewWorker(a.Queue, queue.WorkerConfig{
		Concurrency:  a.Cfg.Queue.Concurrency,
		PollInterval: a.Cfg.Queue.PollInterval,
	}, a.Log)
	a.Services.Analysis.Register(worker)
	a.Services.Reports.Register(worker)
	return worker
}

// Close releases the infrastructure connections.
func (a *App) Close() {
	if a.NATS != nil {
		a.NATS.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func newAnalyzer(cfg config.Config, data *dataservice.Client, logger zerolog.Logger) (ai.Analyzer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.AIProvider)) {
	case "", "dataservice":
		return data, nil
	case "openai":
		analyzer, err := ai.NewOpenAIAnalyzer(ai.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("init openai analyzer: %w", err)
		}
		return analyzer, nil
	case "anthropic":
		analyzer, err := ai.NewAnthropicAnalyzer(ai.AnthropicConfig{APIKey: cfg.AnthropicAPIKey, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("init anthropic analyzer: %w", err)
		}
		return analyzer, nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.AIProvider)
	}
}
