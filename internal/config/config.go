package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the static settings of one venue process
type Config struct {
	ListenAddr        string
	HTTPAddr          string
	Currencies        []string
	TickInterval      time.Duration
	MaxMatchesPerTick int // 0 matches each market to a fixpoint
	DatabaseURL       string
	JWTSecret         string
	Environment       string
}

// NewDefaultConfig returns the settings used when nothing is overridden.
func NewDefaultConfig() Config {
	return Config{
		ListenAddr:        ":5555",
		HTTPAddr:          ":8080",
		Currencies:        []string{"RU", "USD"},
		TickInterval:      time.Second,
		MaxMatchesPerTick: 1,
		JWTSecret:         "my-secret-key",
		Environment:       "dev",
	}
}

// Load reads the given .env files (missing files are ignored) and then the
// process environment on top of the defaults.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a config from an environment lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := NewDefaultConfig()

	if v, ok := lookup("EXCHANGE_LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := lookup("EXCHANGE_HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := lookup("EXCHANGE_CURRENCIES"); ok {
		cfg.Currencies = splitCurrencies(v)
		if len(cfg.Currencies) < 2 {
			return Config{}, fmt.Errorf("EXCHANGE_CURRENCIES: need at least two currencies, got %q", v)
		}
	}
	if v, ok := lookup("EXCHANGE_TICK_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("EXCHANGE_TICK_INTERVAL: %w", err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("EXCHANGE_TICK_INTERVAL must be positive")
		}
		cfg.TickInterval = d
	}
	if v, ok := lookup("EXCHANGE_MAX_MATCHES_PER_TICK"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("EXCHANGE_MAX_MATCHES_PER_TICK: %w", err)
		}
		if n < 0 {
			return Config{}, fmt.Errorf("EXCHANGE_MAX_MATCHES_PER_TICK must not be negative")
		}
		cfg.MaxMatchesPerTick = n
	}
	if v, ok := lookup("EXCHANGE_DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := lookup("EXCHANGE_JWT_SECRET"); ok && v != "" {
		cfg.JWTSecret = v
	}
	if v, ok := lookup("EXCHANGE_ENV"); ok && v != "" {
		cfg.Environment = v
	}
	return cfg, nil
}

func splitCurrencies(v string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range strings.Split(v, ",") {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
