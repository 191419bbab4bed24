package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/config"
	"github.com/souffle-edu/souffle-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoints.
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Service     string            `json:"service"`
	Environment string            `json:"environment"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// HealthCheck returns a handler that reports application liveness.
func HealthCheck(cfg config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}

// ReadinessCheck pings the database and Redis. Nil dependencies are skipped.
func ReadinessCheck(cfg config.Config, db *gorm.DB, redisClient *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(requestContext(c), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		if db != nil {
			checks["database"] = "ok"
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			if err != nil {
				checks["database"] = err.Error()
				healthy = false
			}
		}
		if redisClient != nil {
			checks["redis"] = "ok"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			}
		}

		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Checks:      checks,
		}
		if !healthy {
			payload.Status = "degraded"
			return c.Status(fiber.StatusServiceUnavailable).JSON(utils.APIResponse{
				Success: false,
				Data:    payload,
				Message: "dependencies unavailable",
			})
		}

		return utils.SendSuccess(c, "service ready", payload)
	}
}
