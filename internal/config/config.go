// Package config loads the service configuration from an optional YAML file,
// a .env file and QUANTFLOW_* environment variables, in increasing precedence.
package config

import "time"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	MarketData MarketDataConfig `mapstructure:"marketdata"`
	Report     ReportConfig     `mapstructure:"report"`
	Schedules  []Schedule       `mapstructure:"schedules" validate:"dive"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr" validate:"required"`
	LogLevel   string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	PrettyLogs bool   `mapstructure:"pretty_logs"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	// DSN is a file path for sqlite and a connection URL for postgres.
	DSN string `mapstructure:"dsn" validate:"required"`
}

type QueueConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=memory redis"`
	RedisAddr string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisKey  string `mapstructure:"redis_key"`
}

type WorkersConfig struct {
	Count       int           `mapstructure:"count" validate:"min=1,max=256"`
	PollWait    time.Duration `mapstructure:"poll_wait" validate:"gt=0"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" validate:"min=0"`
}

type MarketDataConfig struct {
	BaseURL   string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	CacheSize int           `mapstructure:"cache_size" validate:"min=0"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" validate:"min=0"`
}

type ReportConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	Model        string `mapstructure:"model"`
}

// Schedule submits a task on a cron expression.
type Schedule struct {
	Name     string         `mapstructure:"name" validate:"required"`
	Cron     string         `mapstructure:"cron" validate:"required"`
	UserID   string         `mapstructure:"user_id" validate:"required"`
	TaskType string         `mapstructure:"task_type" validate:"required"`
	Params   map[string]any `mapstructure:"params"`
	Priority int            `mapstructure:"priority"`
}
