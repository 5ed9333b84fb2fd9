// Package config loads the Kestrel configuration from YAML, .env and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KESTREL_"

// Load builds the configuration. Values are layered in order: defaults,
// the YAML file at path (skipped when path is empty), then KESTREL_*
// environment variables. A .env file in the working directory is loaded
// first when present; it never overrides variables already set.
func Load(path string) (*domain.Config, error) {
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// decode expands ${VAR} references and unmarshals over cfg.
func decode(data []byte, cfg *domain.Config) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *domain.Config, lookup lookupFunc) error {
	env := envReader{lookup: lookup}

	env.int("PORT", &cfg.Server.Port)
	env.str("HOST", &cfg.Server.Host)
	env.list("CORS_ORIGINS", &cfg.Server.CORSOrigins)

	env.str("DB_DRIVER", &cfg.Repository.Driver)
	env.str("SQLITE_PATH", &cfg.Repository.SQLitePath)
	env.str("POSTGRES_HOST", &cfg.Repository.PostgresHost)
	env.int("POSTGRES_PORT", &cfg.Repository.PostgresPort)
	env.str("POSTGRES_USER", &cfg.Repository.PostgresUser)
	env.str("POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	env.str("POSTGRES_DB", &cfg.Repository.PostgresDB)
	env.bool("DEDUPE_APPEND", &cfg.Repository.DedupeAppend)

	env.str("CACHE", &cfg.Cache.Type)
	env.duration("EVICTION_HORIZON", &cfg.Cache.EvictionHorizon)

	env.str("BUS", &cfg.EventBus.Type)
	env.str("NATS_URL", &cfg.EventBus.NATSUrl)
	env.str("NATS_TOKEN", &cfg.EventBus.NATSToken)

	env.str("UW_TOKEN", &cfg.Providers.Auth.Token)
	env.str("UW_CLIENT_ID", &cfg.Providers.Auth.ClientID)
	env.str("UW_CLIENT_SECRET", &cfg.Providers.Auth.ClientSecret)
	env.str("FINNHUB_KEY", &cfg.Providers.Finnhub.APIKey)
	env.str("ALPHAVANTAGE_KEY", &cfg.Providers.AlphaVantage.APIKey)
	env.str("ETHERSCAN_KEY", &cfg.Providers.Etherscan.APIKey)
	env.str("BLOCKCYPHER_TOKEN", &cfg.Providers.Blockcypher.APIKey)
	env.str("ETHPLORER_KEY", &cfg.Providers.Ethplorer.APIKey)

	env.list("KINDS", &cfg.Aggregation.Kinds)
	env.bool("WORKER", &cfg.Worker.Enabled)
	env.list("WATCHLIST", &cfg.Worker.Watchlist)

	env.str("LOG_LEVEL", &cfg.Logging.Level)
	env.str("LOG_FORMAT", &cfg.Logging.Format)
	var debug bool
	env.bool("DEBUG", &debug)
	if debug {
		cfg.Logging.Level = "debug"
	}
	env.bool("TRACING", &cfg.Tracing.Enabled)

	return errors.Join(env.errs...)
}

// envReader records parse failures instead of stopping at the first one.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) int(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (e *envReader) bool(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = d
}

// list splits a comma-separated value, dropping empty items.
func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// Validate checks that cfg can be wired.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.Repository.Driver {
	case "sqlite", "":
		if cfg.Repository.SQLitePath == "" {
			return errors.New("repository.sqlite_path is required")
		}
	case "postgres":
		if cfg.Repository.PostgresHost == "" {
			return errors.New("repository.postgres_host is required")
		}
		if cfg.Repository.PostgresDB == "" {
			return errors.New("repository.postgres_db is required")
		}
	default:
		return fmt.Errorf("repository.driver %q is not supported", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "memory", "none", "":
	default:
		return fmt.Errorf("cache.type %q is not supported", cfg.Cache.Type)
	}
	if cfg.Cache.EvictionHorizon < 0 {
		return errors.New("cache.eviction_horizon must not be negative")
	}
	if _, err := Policies(cfg); err != nil {
		return fmt.Errorf("cache.ttl: %w", err)
	}

	switch cfg.EventBus.Type {
	case "channel", "":
	case "nats":
		if cfg.EventBus.NATSUrl == "" {
			return errors.New("event_bus.nats_url is required for the nats bus")
		}
	default:
		return fmt.Errorf("event_bus.type %q is not supported", cfg.EventBus.Type)
	}

	if _, err := AggregationKinds(cfg); err != nil {
		return fmt.Errorf("aggregation.kinds: %w", err)
	}
	if cfg.Aggregation.DefaultLimit < 0 {
		return errors.New("aggregation.default_limit must not be negative")
	}
	if cfg.Aggregation.InstitutionPause < 0 {
		return errors.New("aggregation.institution_pause must not be negative")
	}

	for name, schedule := range map[string]string{
		"worker.eviction_schedule": cfg.Worker.EvictionSchedule,
		"worker.warm_schedule":     cfg.Worker.WarmSchedule,
	} {
		if schedule == "" {
			continue
		}
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if _, err := LogLevel(cfg.Logging.Level); err != nil {
		return err
	}
	return nil
}

// Policies returns the default caching policies with the configured TTL
// overrides applied.
func Policies(cfg *domain.Config) (domain.Policies, error) {
	return domain.DefaultPolicies().WithTTLOverrides(cfg.Cache.TTL)
}

// AggregationKinds parses the configured aggregate kinds. Only ticker kinds
// are accepted; an empty list yields nil, meaning every ticker kind.
func AggregationKinds(cfg *domain.Config) ([]domain.Kind, error) {
	var kinds []domain.Kind
	seen := make(map[domain.Kind]bool)
	for _, name := range cfg.Aggregation.Kinds {
		k, err := domain.ParseKind(name)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(domain.TickerKinds, k) {
			return nil, fmt.Errorf("%w: %s is not a ticker kind", domain.ErrUnknownKind, k)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// LogLevel parses a logging level name. Empty means info.
func LogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q is not supported", name)
	}
}
