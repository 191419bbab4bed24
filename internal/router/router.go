package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/config"
	"github.com/souffle-edu/souffle-api/internal/handler"
	"github.com/souffle-edu/souffle-api/internal/middleware"
	"github.com/souffle-edu/souffle-api/internal/observability"
)

// Dependencies groups router dependencies for registration. Nil handlers are skipped.
type Dependencies struct {
	AuthHandler       *handler.AuthHandler
	UserHandler       *handler.UserHandler
	CategoryHandler   *handler.CategoryHandler
	ProblemHandler    *handler.ProblemHandler
	SubmissionHandler *handler.SubmissionHandler
	ConceptHandler    *handler.ConceptHandler
	NoteHandler       *handler.NoteHandler
	ReportHandler     *handler.ReportHandler
	DataHandler       *handler.DataHandler
	UploadHandler     *handler.UploadHandler
	AdminQueueHandler *handler.AdminQueueHandler
	JWTMiddleware     fiber.Handler
	DB                *gorm.DB
	Redis             *redis.Client
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/health", handler.HealthCheck(cfg))
	app.Get("/health/ready", handler.ReadinessCheck(cfg, deps.DB, deps.Redis))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})

	if deps.AuthHandler != nil {
		auth := api.Group("/auth", middleware.RateLimit("auth", 30, time.Minute))
		deps.AuthHandler.Register(auth)
	}

	if deps.UserHandler != nil {
		deps.UserHandler.Register(api.Group("/users", jwtMiddleware))
	}

	if deps.CategoryHandler != nil {
		deps.CategoryHandler.Register(api.Group("/categories"))
	}

	if deps.ProblemHandler != nil {
		deps.ProblemHandler.Register(api.Group("/problems"), jwtMiddleware)
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(api.Group("/submissions", jwtMiddleware))
	}

	if deps.ConceptHandler != nil {
		deps.ConceptHandler.Register(api.Group("/concepts"), jwtMiddleware)
	}

	if deps.NoteHandler != nil {
		deps.NoteHandler.Register(api.Group("/notes", jwtMiddleware))
	}

	if deps.ReportHandler != nil {
		deps.ReportHandler.Register(api.Group("/reports", jwtMiddleware))
	}

	if deps.AdminQueueHandler != nil {
		admin := api.Group("/admin/queues", jwtMiddleware, middleware.RequireRole(middleware.AuthRoleAdmin))
		deps.AdminQueueHandler.Register(admin)
	}

	// Data proxy routes keep the data service's path layout.
	data := app.Group("/data/api/v1", jwtMiddleware)
	if deps.DataHandler != nil {
		deps.DataHandler.Register(data)
	}
	if deps.ReportHandler != nil {
		deps.ReportHandler.RegisterData(data)
	}

	if deps.UploadHandler != nil {
		deps.UploadHandler.Register(app.Group("/files", jwtMiddleware))
	}
}
