// Package config содержит логику чтения конфигурации сервиса playhost.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса playhost.
type Config struct {
	RunAddress   string `env:"RUN_ADDRESS"`
	DatabaseURI  string `env:"DATABASE_URI"`
	PanelAddress string `env:"PANEL_ADDRESS"`
	PanelAPIKey  string `env:"PANEL_API_KEY"`
	AuthJWKSURL  string `env:"AUTH_JWKS_URL"`
	AuthIssuer   string `env:"AUTH_ISSUER"`
	AuthAudience string `env:"AUTH_AUDIENCE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envValues := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PanelAddress, "p", "", "hosting panel address")
	flag.StringVar(&cfg.PanelAPIKey, "k", "", "hosting panel API key")
	flag.StringVar(&cfg.AuthJWKSURL, "j", "", "identity provider JWKS URL")
	flag.StringVar(&cfg.AuthIssuer, "i", "", "expected token issuer")
	flag.StringVar(&cfg.AuthAudience, "u", "authenticated", "expected token audience")

	flag.Parse()

	if envValues.RunAddress != "" {
		cfg.RunAddress = envValues.RunAddress
	}
	if envValues.DatabaseURI != "" {
		cfg.DatabaseURI = envValues.DatabaseURI
	}
	if envValues.PanelAddress != "" {
		cfg.PanelAddress = envValues.PanelAddress
	}
	if envValues.PanelAPIKey != "" {
		cfg.PanelAPIKey = envValues.PanelAPIKey
	}
	if envValues.AuthJWKSURL != "" {
		cfg.AuthJWKSURL = envValues.AuthJWKSURL
	}
	if envValues.AuthIssuer != "" {
		cfg.AuthIssuer = envValues.AuthIssuer
	}
	if envValues.AuthAudience != "" {
		cfg.AuthAudience = envValues.AuthAudience
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
