package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogDev   bool   `env:"LOG_DEV" envDefault:"false"`

	DatabaseURL string `env:"DATABASE_URL,required"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"false"`

	JWTSecret  string `env:"JWT_SECRET,required"`
	CronSecret string `env:"CRON_SECRET,required"`

	// LockBackend selects the cluster lock for dispatch cycles:
	// postgres (advisory lock), redis (SET NX) or local (single process).
	LockBackend string `env:"LOCK_BACKEND" envDefault:"postgres"`

	DispatchBudget   time.Duration `env:"DISPATCH_BUDGET" envDefault:"50s"`
	DispatchJobDelay time.Duration `env:"DISPATCH_JOB_DELAY" envDefault:"500ms"`
	JobStuckAfter    time.Duration `env:"JOB_STUCK_AFTER" envDefault:"10m"`
	QuotaCooldown    time.Duration `env:"QUOTA_COOLDOWN" envDefault:"15m"`

	BackoffBase    time.Duration `env:"BACKOFF_BASE" envDefault:"30s"`
	BackoffCap     time.Duration `env:"BACKOFF_CAP" envDefault:"5m"`
	BackoffRetries int           `env:"BACKOFF_RETRIES" envDefault:"6"`

	CronEnabled  bool   `env:"CRON_ENABLED" envDefault:"false"`
	CronSchedule string `env:"CRON_SCHEDULE" envDefault:"* * * * *"`

	TagManagerBaseURL string        `env:"TAGMANAGER_BASE_URL" envDefault:"https://tagmanager.googleapis.com/tagmanager/v2"`
	AdsBaseURL        string        `env:"ADS_BASE_URL" envDefault:"https://googleads.googleapis.com/v17"`
	GoogleTimeout     time.Duration `env:"GOOGLE_TIMEOUT" envDefault:"20s"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
