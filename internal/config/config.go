// Package config loads the service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string   `yaml:"env" env:"APP_ENV" env-default:"dev"`
	Server   Server   `yaml:"server"`
	Commerce Commerce `yaml:"commerce"`
	Gateway  Gateway  `yaml:"gateway"`
	Breaker  Breaker  `yaml:"breaker"`
}

type Server struct {
	Address                 string        `yaml:"address" env:"SERVER_ADDRESS" env-default:":8080"`
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout" env-default:"15s"`
}

type Commerce struct {
	BaseURL   string        `yaml:"base_url" env:"COMMERCE_BASE_URL" env-required:"true"`
	AuthToken string        `yaml:"auth_token" env:"COMMERCE_AUTH_TOKEN"`
	Timeout   time.Duration `yaml:"timeout" env-default:"15s"`
}

type Gateway struct {
	BaseURL            string        `yaml:"base_url" env:"GATEWAY_BASE_URL" env-required:"true"`
	APIKey             string        `yaml:"api_key" env:"GATEWAY_API_KEY" env-required:"true"`
	ReturnURL          string        `yaml:"return_url" env:"GATEWAY_RETURN_URL" env-required:"true"`
	WalletSheetTimeout time.Duration `yaml:"wallet_sheet_timeout" env-default:"30s"`
}

type Breaker struct {
	FailureThreshold         int           `yaml:"failure_threshold" env-default:"5"`
	OpenStateTimeout         time.Duration `yaml:"open_state_timeout" env-default:"30s"`
	HalfOpenSuccessThreshold int           `yaml:"half_open_success_threshold" env-default:"2"`
}

// Load reads the config file named by CONFIG_PATH (default config.yaml)
// and applies environment overrides.
func Load() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		return cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("reading config from environment: %w", err)
	}
	return cfg, nil
}
