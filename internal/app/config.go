package app

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/hatchery-backend/internal/platform/envutil"
	"github.com/yungbote/hatchery-backend/internal/platform/logger"
)

// Config carries process-level settings. Values come from an optional yaml
// file first, then environment variables override field by field.
type Config struct {
	Port        string `yaml:"port"`
	LogMode     string `yaml:"log_mode"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`

	WorkerEnabled bool `yaml:"worker_enabled"`
	RouterEnabled bool `yaml:"router_enabled"`
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:          "8080",
		LogMode:       "development",
		Environment:   "development",
		WorkerEnabled: true,
		RouterEnabled: true,
	}

	path := envutil.String("CONFIG_FILE", "config.yaml")
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Warn("Config file unreadable, using defaults", "path", path, "error", err)
		} else {
			log.Info("Config file loaded", "path", path)
		}
	}

	cfg.Port = envutil.String("PORT", cfg.Port)
	cfg.LogMode = envutil.String("LOG_MODE", cfg.LogMode)
	cfg.Environment = envutil.String("ENVIRONMENT", cfg.Environment)
	cfg.Version = envutil.String("SERVICE_VERSION", cfg.Version)
	cfg.WorkerEnabled = envutil.Bool("WORKER_ENABLED", cfg.WorkerEnabled)
	cfg.RouterEnabled = envutil.Bool("ROUTER_ENABLED", cfg.RouterEnabled)

	cfg.Port = strings.TrimPrefix(cfg.Port, ":")
	return cfg
}
