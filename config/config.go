// Package config loads process configuration from the environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the settings shared by the API server and the worker process.
type Config struct {
	ServerAddr  string
	WorkerCount int
	// MetricsAddr is where the worker process serves /metrics; empty disables it.
	MetricsAddr string

	DatabaseURL string

	RedisURL      string
	QueueName     string
	JobResultTTL  time.Duration
	JobFailureTTL time.Duration

	// ElasticsearchURL empty means search is disabled.
	ElasticsearchURL string

	MailServer   string
	MailPort     int
	MailUseTLS   bool
	MailUsername string
	MailPassword string
	AdminEmail   string

	PostsPerPage    int
	ExportPostDelay time.Duration

	LogLevel slog.Level
}

var defaults = map[string]string{
	"SERVER_ADDR":       ":8080",
	"WORKER_COUNT":      "1",
	"REDIS_URL":         "redis://localhost:6379/0",
	"QUEUE_NAME":        "blogjobs-tasks",
	"JOB_RESULT_TTL":    "500s",
	"JOB_FAILURE_TTL":   "24h",
	"MAIL_PORT":         "25",
	"ADMIN_EMAIL":       "admin@example.com",
	"POSTS_PER_PAGE":    "5",
	"EXPORT_POST_DELAY": "0s",
	"LOG_LEVEL":         "info",
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	return fromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ServerAddr:       v.GetString("SERVER_ADDR"),
		MetricsAddr:      v.GetString("METRICS_ADDR"),
		DatabaseURL:      v.GetString("DATABASE_URL"),
		RedisURL:         v.GetString("REDIS_URL"),
		QueueName:        v.GetString("QUEUE_NAME"),
		ElasticsearchURL: v.GetString("ELASTICSEARCH_URL"),
		MailServer:       v.GetString("MAIL_SERVER"),
		MailUseTLS:       v.GetString("MAIL_USE_TLS") != "",
		MailUsername:     v.GetString("MAIL_USERNAME"),
		MailPassword:     v.GetString("MAIL_PASSWORD"),
		AdminEmail:       v.GetString("ADMIN_EMAIL"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.WorkerCount, err = intVar(v, "WORKER_COUNT"); err != nil {
		return nil, err
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.MailPort, err = intVar(v, "MAIL_PORT"); err != nil {
		return nil, err
	}
	if cfg.PostsPerPage, err = intVar(v, "POSTS_PER_PAGE"); err != nil {
		return nil, err
	}
	if cfg.JobResultTTL, err = durationVar(v, "JOB_RESULT_TTL"); err != nil {
		return nil, err
	}
	if cfg.JobFailureTTL, err = durationVar(v, "JOB_FAILURE_TTL"); err != nil {
		return nil, err
	}
	if cfg.ExportPostDelay, err = durationVar(v, "EXPORT_POST_DELAY"); err != nil {
		return nil, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(strings.ToUpper(v.GetString("LOG_LEVEL")))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

func intVar(v *viper.Viper, key string) (int, error) {
	n, err := strconv.Atoi(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationVar(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
