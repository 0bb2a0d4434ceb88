// Package config содержит логику чтения конфигурации сервиса сверки и планировщика.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/adspace-escrow/internal/gateway"
	"github.com/mmeshcher/adspace-escrow/internal/reconcile"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultGatewayURL = "https://api.stripe.com"
)

// Config содержит параметры конфигурации сервиса сверки.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	GatewayURL  string `env:"GATEWAY_URL"`

	GatewaySecretKey string        `env:"GATEWAY_SECRET_KEY"`
	GatewayTimeout   time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	GatewayRetryMax  int           `env:"GATEWAY_RETRY_MAX" envDefault:"3"`
	Currency         string        `env:"CURRENCY" envDefault:"usd"`

	CronSecret string `env:"CRON_SECRET"`

	ProofReviewWindow time.Duration `env:"PROOF_REVIEW_WINDOW" envDefault:"48h"`
	ChargeWindow      time.Duration `env:"CHARGE_WINDOW" envDefault:"24h"`
	MaxChargeAttempts int           `env:"MAX_CHARGE_ATTEMPTS" envDefault:"3"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayURL := cfg.GatewayURL

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayURL, "g", defaultGatewayURL, "payment gateway base URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayURL != "" {
		cfg.GatewayURL = envGatewayURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	cfg.Currency = strings.ToLower(cfg.Currency)

	if err := cfg.Rules().Validate(); err != nil {
		return nil, fmt.Errorf("invalid reconciliation rules: %w", err)
	}

	return cfg, nil
}

// Rules возвращает правила сверки с учётом переопределений из конфигурации.
func (c *Config) Rules() reconcile.Rules {
	r := reconcile.DefaultRules()
	r.ProofReviewWindow = c.ProofReviewWindow
	r.ChargeWindow = c.ChargeWindow
	r.MaxChargeAttempts = c.MaxChargeAttempts
	if c.Currency != "" {
		r.Currency = c.Currency
	}
	return r
}

// Gateway возвращает параметры клиента платёжного шлюза.
func (c *Config) Gateway() gateway.Config {
	return gateway.Config{
		BaseURL:   c.GatewayURL,
		SecretKey: c.GatewaySecretKey,
		Currency:  c.Rules().Currency,
		Timeout:   c.GatewayTimeout,
		RetryMax:  c.GatewayRetryMax,
	}
}

// CronConfig содержит параметры процесса-планировщика.
type CronConfig struct {
	TriggerURL string        `env:"TRIGGER_URL"`
	Schedule   string        `env:"RECONCILE_SCHEDULE"`
	CronSecret string        `env:"CRON_SECRET"`
	Timeout    time.Duration `env:"TRIGGER_TIMEOUT" envDefault:"5m"`
	RunOnce    bool
}

// ParseCron считывает конфигурацию планировщика. Переменные окружения имеют приоритет над флагами.
func ParseCron() (*CronConfig, error) {
	cfg := &CronConfig{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envTriggerURL := cfg.TriggerURL
	envSchedule := cfg.Schedule

	flag.StringVar(&cfg.TriggerURL, "u", "http://"+defaultRunAddress+"/api/cron/reconcile", "reconciliation trigger URL")
	flag.StringVar(&cfg.Schedule, "s", "@daily", "cron schedule")
	flag.BoolVar(&cfg.RunOnce, "run-once", false, "trigger a single run and exit")

	flag.Parse()

	if envTriggerURL != "" {
		cfg.TriggerURL = envTriggerURL
	}
	if envSchedule != "" {
		cfg.Schedule = envSchedule
	}

	if cfg.CronSecret == "" {
		return nil, errors.New("CRON_SECRET is required")
	}

	return cfg, nil
}
