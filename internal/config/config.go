package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API and worker processes.
type Config struct {
	AppName  string
	AppEnv   string
	AppPort  string
	LogLevel string

	DatabaseURL string
	RedisURL    string
	NATSURL     string
	EventPrefix string

	JWTSecret          string
	JWTAccessTTL       time.Duration
	JWTRefreshTTL      time.Duration
	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string

	DataServiceURL      string
	OCRTimeout          time.Duration
	AnalysisHTTPTimeout time.Duration

	Queue QueueConfig

	CategoryCacheTTL time.Duration
	UploadMaxSizeMB  int

	Storage StorageConfig

	AIProvider      string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	ReportSchedule string
	EmbedWorker    bool
}

// QueueConfig tunes the Redis-backed job queue.
type QueueConfig struct {
	Name         string
	Attempts     int
	Backoff      time.Duration
	Timeout      time.Duration
	Concurrency  int
	PollInterval time.Duration
}

// StorageConfig selects and configures the object storage driver.
type StorageConfig struct {
	Driver        string
	PublicBaseURL string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string

	GCSBucket          string
	GCSCredentialsFile string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SOUFFLE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Souffle API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "4000")
	v.SetDefault("log.level", "info")
	v.SetDefault("events.prefix", "souffle")
	v.SetDefault("jwt.expires_in", "24h")
	v.SetDefault("jwt.refresh_expires_in", "168h")
	v.SetDefault("data.url", "http://data:8000")
	v.SetDefault("data.ocr_timeout", "10s")
	v.SetDefault("data.analysis_timeout", "55s")
	v.SetDefault("queue.name", "analysis-queue")
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff", "5s")
	v.SetDefault("queue.timeout", "60s")
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.poll_interval", "500ms")
	v.SetDefault("category.cache_ttl", "10m")
	v.SetDefault("upload.max_size_mb", 10)
	v.SetDefault("storage.driver", "cloudinary")
	v.SetDefault("cloudinary.folder", "souffle/submissions")
	v.SetDefault("ai.provider", "dataservice")
	v.SetDefault("report.schedule", "00:45")
	v.SetDefault("worker.embedded", false)

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"jwt.expires_in", "jwt.refresh_expires_in", "data.ocr_timeout", "data.analysis_timeout",
		"queue.backoff", "queue.timeout", "queue.poll_interval", "category.cache_ttl",
	} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		AppPort:             v.GetString("app.port"),
		LogLevel:            strings.ToLower(v.GetString("log.level")),
		DatabaseURL:         v.GetString("database.url"),
		RedisURL:            v.GetString("redis.url"),
		NATSURL:             v.GetString("nats.url"),
		EventPrefix:         v.GetString("events.prefix"),
		JWTSecret:           v.GetString("jwt.secret"),
		JWTAccessTTL:        durations["jwt.expires_in"],
		JWTRefreshTTL:       durations["jwt.refresh_expires_in"],
		GoogleClientID:      v.GetString("google.client_id"),
		GoogleClientSecret:  v.GetString("google.client_secret"),
		GoogleCallbackURL:   v.GetString("google.callback_url"),
		DataServiceURL:      strings.TrimRight(v.GetString("data.url"), "/"),
		OCRTimeout:          durations["data.ocr_timeout"],
		AnalysisHTTPTimeout: durations["data.analysis_timeout"],
		Queue: QueueConfig{
			Name:         v.GetString("queue.name"),
			Attempts:     v.GetInt("queue.attempts"),
			Backoff:      durations["queue.backoff"],
			Timeout:      durations["queue.timeout"],
			Concurrency:  v.GetInt("queue.concurrency"),
			PollInterval: durations["queue.poll_interval"],
		},
		CategoryCacheTTL: durations["category.cache_ttl"],
		UploadMaxSizeMB:  v.GetInt("upload.max_size_mb"),
		Storage: StorageConfig{
			Driver:              strings.ToLower(v.GetString("storage.driver")),
			PublicBaseURL:       v.GetString("storage.public_base_url"),
			CloudinaryCloudName: v.GetString("cloudinary.cloud_name"),
			CloudinaryAPIKey:    v.GetString("cloudinary.api_key"),
			CloudinaryAPISecret: v.GetString("cloudinary.api_secret"),
			CloudinaryFolder:    v.GetString("cloudinary.folder"),
			MinioEndpoint:       v.GetString("minio.endpoint"),
			MinioAccessKey:      v.GetString("minio.access_key"),
			MinioSecretKey:      v.GetString("minio.secret_key"),
			MinioBucket:         v.GetString("minio.bucket"),
			GCSBucket:           v.GetString("gcs.bucket"),
			GCSCredentialsFile:  v.GetString("gcs.credentials_file"),
		},
		AIProvider:      strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:    v.GetString("openai_api_key"),
		AnthropicAPIKey: v.GetString("anthropic_api_key"),
		ReportSchedule:  v.GetString("report.schedule"),
		EmbedWorker:     v.GetBool("worker.embedded"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.Queue.Attempts <= 0 {
		cfg.Queue.Attempts = 3
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 1
	}

	if _, _, err := ParseDailyTime(cfg.ReportSchedule); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ParseDailyTime parses an "HH:MM" wall-clock time.
func ParseDailyTime(value string) (int, int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid daily schedule %q: %w", value, err)
	}
	return parsed.Hour(), parsed.Minute(), nil
}
