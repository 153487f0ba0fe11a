package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "QUANTFLOW"

var defaults = map[string]any{
	"server.addr":           ":8080",
	"server.log_level":      "info",
	"server.pretty_logs":    false,
	"store.driver":          "sqlite",
	"store.dsn":             "quantflow.db",
	"queue.backend":         "memory",
	"queue.redis_addr":      "",
	"queue.redis_key":       "quantflow:queue",
	"workers.count":         4,
	"workers.poll_wait":     "1s",
	"workers.task_timeout":  "0s",
	"marketdata.base_url":   "",
	"marketdata.timeout":    "10s",
	"marketdata.cache_size": 512,
	"marketdata.cache_ttl":  "30s",
	"report.gemini_api_key": "",
	"report.model":          "",
}

// LoadDotEnv reads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
