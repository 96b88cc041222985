// Package config содержит логику чтения конфигурации сервиса переводов.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remittance-ledger/internal/model"
)

// Config содержит параметры конфигурации сервиса переводов.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	RatePrimaryURL      string        `env:"RATE_PRIMARY_URL"`
	RateSecondaryURL    string        `env:"RATE_SECONDARY_URL"`
	RateRefreshInterval time.Duration `env:"RATE_REFRESH_INTERVAL" envDefault:"5m"`
	RatePairs           []string      `env:"RATE_PAIRS" envSeparator:"," envDefault:"USD-CUP,EUR-CUP,MLC-CUP"`
	RateCacheTTL        time.Duration `env:"RATE_CACHE_TTL" envDefault:"1m"`

	LocalDiscountPerUnit   decimal.Decimal `env:"LOCAL_DISCOUNT_PER_UNIT" envDefault:"15"`
	HardCurrencyFeePercent decimal.Decimal `env:"HARD_CURRENCY_FEE_PERCENT" envDefault:"5"`
	EURFallbackMultiplier  decimal.Decimal `env:"EUR_FALLBACK_MULTIPLIER" envDefault:"1.08"`
	MLCFallbackMultiplier  decimal.Decimal `env:"MLC_FALLBACK_MULTIPLIER" envDefault:"0.9"`

	AuthSecret string `env:"AUTH_SECRET"`

	RedisAddr    string   `env:"REDIS_ADDR"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"remittance-events"`
	NotifyBuffer int      `env:"NOTIFY_BUFFER" envDefault:"256"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env необязателен; уже заданные переменные окружения он не перекрывает.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRatePrimaryURL := cfg.RatePrimaryURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RatePrimaryURL, "r", "", "primary exchange rate source address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRatePrimaryURL != "" {
		cfg.RatePrimaryURL = envRatePrimaryURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.LocalDiscountPerUnit.IsNegative() {
		return errors.New("LOCAL_DISCOUNT_PER_UNIT must not be negative")
	}
	if c.HardCurrencyFeePercent.IsNegative() {
		return errors.New("HARD_CURRENCY_FEE_PERCENT must not be negative")
	}
	if err := model.RequireScale("HARD_CURRENCY_FEE_PERCENT", c.HardCurrencyFeePercent, model.PercentPlaces); err != nil {
		return err
	}
	if !c.EURFallbackMultiplier.IsPositive() || !c.MLCFallbackMultiplier.IsPositive() {
		return errors.New("fallback multipliers must be positive")
	}
	if c.NotifyBuffer <= 0 {
		return errors.New("NOTIFY_BUFFER must be positive")
	}
	if _, err := c.Pairs(); err != nil {
		return err
	}
	return nil
}

// Pairs возвращает валютные пары, курсы которых обновляются по расписанию.
func (c *Config) Pairs() ([]model.Pair, error) {
	pairs := make([]model.Pair, 0, len(c.RatePairs))
	for _, raw := range c.RatePairs {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		p, err := model.ParsePair(raw)
		if err != nil {
			return nil, fmt.Errorf("RATE_PAIRS: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// FallbackMultipliers возвращает множители резервного курса относительно USD-CUP.
func (c *Config) FallbackMultipliers() map[model.Pair]decimal.Decimal {
	return map[model.Pair]decimal.Decimal{
		{From: "EUR", To: "CUP"}: c.EURFallbackMultiplier,
		{From: "MLC", To: "CUP"}: c.MLCFallbackMultiplier,
	}
}

// Brokers возвращает непустые адреса брокеров Kafka.
func (c *Config) Brokers() []string {
	brokers := make([]string, 0, len(c.KafkaBrokers))
	for _, b := range c.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
