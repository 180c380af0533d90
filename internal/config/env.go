package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Runtime holds process settings that do not belong in marketplace.yml.
type Runtime struct {
	Addr         string `env:"MICROTASK_ADDR"          envDefault:"127.0.0.1:8080"`
	JWTSecret    string `env:"MICROTASK_JWT_SECRET"`
	RedisAddr    string `env:"MICROTASK_REDIS_ADDR"`
	OTelEndpoint string `env:"MICROTASK_OTEL_ENDPOINT"`
	Workspace    string `env:"MICROTASK_WORKSPACE"     envDefault:"."`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadRuntime reads Runtime from the environment.
func LoadRuntime() (Runtime, error) {
	var rt Runtime
	if err := ParseEnv(&rt); err != nil {
		return Runtime{}, err
	}
	return rt, nil
}
