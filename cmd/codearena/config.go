package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/common/http/middleware"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	"codearena/internal/executor"
	"codearena/internal/submission/service"
	"codearena/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	problemSourceLocal = "local"
	problemSourceMinIO = "minio"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	CORSOrigins  []string      `yaml:"corsOrigins"`
}

// TopicConfig names the kafka topics the service publishes and consumes.
type TopicConfig struct {
	Verdicts          string `yaml:"verdicts"`
	Disqualifications string `yaml:"disqualifications"`
}

// ProblemConfig selects where problem assets are read from.
type ProblemConfig struct {
	Source       string        `yaml:"source"`
	Root         string        `yaml:"root"`
	Bucket       string        `yaml:"bucket"`
	Prefix       string        `yaml:"prefix"`
	VisibleCount int           `yaml:"visibleCount"`
	ReadParallel int           `yaml:"readParallel"`
	CacheTTL     time.Duration `yaml:"cacheTTL"`
	EmptyTTL     time.Duration `yaml:"emptyTTL"`
}

// SubmissionConfig holds submission lifecycle settings.
type SubmissionConfig struct {
	MaxCodeBytes   int                     `yaml:"maxCodeBytes"`
	RunPollDelay   time.Duration           `yaml:"runPollDelay"`
	IdempotencyTTL time.Duration           `yaml:"idempotencyTTL"`
	ResultCacheTTL time.Duration           `yaml:"resultCacheTTL"`
	LeaderboardTTL time.Duration           `yaml:"leaderboardTTL"`
	Archive        bool                    `yaml:"archive"`
	ArchiveBucket  string                  `yaml:"archiveBucket"`
	ArchivePrefix  string                  `yaml:"archivePrefix"`
	RateLimit      service.RateLimitConfig `yaml:"rateLimit"`
}

// ContestConfig tunes the disqualification cache layers.
type ContestConfig struct {
	LocalCacheSize int           `yaml:"localCacheSize"`
	LocalCacheTTL  time.Duration `yaml:"localCacheTTL"`
	RedisCacheTTL  time.Duration `yaml:"redisCacheTTL"`
}

// AppConfig holds codearena configuration.
type AppConfig struct {
	Server     ServerConfig              `yaml:"server"`
	Logger     logger.Config             `yaml:"logger"`
	MySQL      db.MySQLConfig            `yaml:"mysql"`
	Redis      cache.RedisConfig         `yaml:"redis"`
	Kafka      mq.KafkaConfig            `yaml:"kafka"`
	Topics     TopicConfig               `yaml:"topics"`
	MinIO      storage.MinIOConfig       `yaml:"minio"`
	Executor   executor.Config           `yaml:"executor"`
	Problems   ProblemConfig             `yaml:"problems"`
	Submission SubmissionConfig          `yaml:"submission"`
	Contest    ContestConfig             `yaml:"contest"`
	Auth       middleware.IdentityConfig `yaml:"auth"`
	Timeouts   service.TimeoutConfig     `yaml:"timeouts"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("CODEARENA_MYSQL_DSN"); v != "" {
		cfg.MySQL.DSN = v
	}
	if v := os.Getenv("CODEARENA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CODEARENA_EXECUTOR_URL"); v != "" {
		cfg.Executor.BaseURL = v
	}
	if v := os.Getenv("CODEARENA_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("CODEARENA_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Topics.Verdicts == "" {
		cfg.Topics.Verdicts = "submission.verdicts"
	}
	if cfg.Topics.Disqualifications == "" {
		cfg.Topics.Disqualifications = "contest.disqualifications"
	}
	if cfg.Kafka.GroupPrefix == "" {
		cfg.Kafka.GroupPrefix = "codearena"
	}

	cfg.Problems.Source = strings.ToLower(strings.TrimSpace(cfg.Problems.Source))
	if cfg.Problems.Source == "" {
		cfg.Problems.Source = problemSourceLocal
	}
	if cfg.Problems.Root == "" {
		cfg.Problems.Root = "problems"
	}
	if cfg.Problems.Bucket == "" {
		cfg.Problems.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Problems.VisibleCount == 0 {
		cfg.Problems.VisibleCount = 3
	}
	if cfg.Problems.CacheTTL == 0 {
		cfg.Problems.CacheTTL = 30 * time.Minute
	}
	if cfg.Problems.EmptyTTL == 0 {
		cfg.Problems.EmptyTTL = time.Minute
	}

	if cfg.Submission.MaxCodeBytes == 0 {
		cfg.Submission.MaxCodeBytes = 64 * 1024
	}
	if cfg.Submission.IdempotencyTTL == 0 {
		cfg.Submission.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.Submission.ResultCacheTTL == 0 {
		cfg.Submission.ResultCacheTTL = 30 * time.Minute
	}
	if cfg.Submission.LeaderboardTTL == 0 {
		cfg.Submission.LeaderboardTTL = 10 * time.Minute
	}
	if cfg.Submission.ArchiveBucket == "" {
		cfg.Submission.ArchiveBucket = cfg.MinIO.Bucket
	}
	if cfg.Submission.RateLimit.Window == 0 {
		cfg.Submission.RateLimit.Window = time.Minute
	}
	if cfg.Submission.RateLimit.UserMax == 0 {
		cfg.Submission.RateLimit.UserMax = 30
	}
	if cfg.Submission.RateLimit.IPMax == 0 {
		cfg.Submission.RateLimit.IPMax = 120
	}

	if cfg.Contest.LocalCacheSize == 0 {
		cfg.Contest.LocalCacheSize = 10000
	}
	if cfg.Contest.LocalCacheTTL == 0 {
		cfg.Contest.LocalCacheTTL = 30 * time.Second
	}
	if cfg.Contest.RedisCacheTTL == 0 {
		cfg.Contest.RedisCacheTTL = 5 * time.Minute
	}

	if cfg.Timeouts.DB == 0 {
		cfg.Timeouts.DB = 3 * time.Second
	}
	if cfg.Timeouts.Cache == 0 {
		cfg.Timeouts.Cache = time.Second
	}
	if cfg.Timeouts.MQ == 0 {
		cfg.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Timeouts.Storage == 0 {
		cfg.Timeouts.Storage = 5 * time.Second
	}
}

func (cfg *AppConfig) validate() error {
	if cfg.MySQL.DSN == "" {
		return fmt.Errorf("mysql dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if cfg.Executor.BaseURL == "" {
		return fmt.Errorf("executor baseURL is required")
	}
	switch cfg.Problems.Source {
	case problemSourceLocal:
	case problemSourceMinIO:
		if cfg.MinIO.Endpoint == "" || cfg.Problems.Bucket == "" {
			return fmt.Errorf("minio endpoint and problems bucket are required for minio problem source")
		}
	default:
		return fmt.Errorf("unknown problem source %q", cfg.Problems.Source)
	}
	if cfg.Submission.Archive && (cfg.MinIO.Endpoint == "" || cfg.Submission.ArchiveBucket == "") {
		return fmt.Errorf("minio endpoint and archive bucket are required when archiving is enabled")
	}
	if strings.EqualFold(cfg.Auth.Mode, middleware.IdentityModeJWT) && cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required in jwt identity mode")
	}
	return nil
}
