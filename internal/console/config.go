package console

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/northwind-digital/agency/internal/client"
)

// Config holds the console settings.
type Config struct {
	APIURL      string        `envconfig:"AGENCY_API_URL" default:"http://localhost:8080"`
	TokenFile   string        `envconfig:"AGENCY_TOKEN_FILE"`
	RoleTimeout time.Duration `envconfig:"GUARD_ROLE_TIMEOUT" default:"2s"`
	WaitTimeout time.Duration `envconfig:"CONSOLE_WAIT_TIMEOUT" default:"10s"`
	RedisAddr   string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	LogFormat   string        `envconfig:"LOG_FORMAT" default:"pretty"`
}

// LoadConfig reads the console configuration from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, errors.New("api url must be provided")
	}
	if cfg.RoleTimeout <= 0 {
		return nil, errors.New("guard role timeout must be positive")
	}
	if cfg.TokenFile == "" {
		path, err := client.DefaultTokenPath()
		if err != nil {
			return nil, err
		}
		cfg.TokenFile = path
	}
	return &cfg, nil
}
