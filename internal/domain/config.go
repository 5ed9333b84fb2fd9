package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server" json:"server"`

	// Component configurations
	Repository  RepositoryConfig  `yaml:"repository" json:"repository"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	EventBus    EventBusConfig    `yaml:"event_bus" json:"eventBus"`
	Providers   ProvidersConfig   `yaml:"providers" json:"providers"`
	Aggregation AggregationConfig `yaml:"aggregation" json:"aggregation"`
	Worker      WorkerConfig      `yaml:"worker" json:"worker"`

	// Observability
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string   `yaml:"host" json:"host"`
	Port         int      `yaml:"port" json:"port"`
	ReadTimeout  int      `yaml:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout int      `yaml:"write_timeout" json:"writeTimeout"` // seconds
	CORSOrigins  []string `yaml:"cors_origins" json:"corsOrigins"`
}

// ProviderConfig holds connection and pacing settings for one upstream provider.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url" json:"baseUrl"`
	APIKey  string `yaml:"api_key" json:"-"`

	// MinInterval is the minimum spacing between calls to the provider.
	MinInterval time.Duration `yaml:"min_interval" json:"minInterval"`

	// CallsPerMinute sets the fixed delay of the throttle retry policy.
	CallsPerMinute int `yaml:"calls_per_minute" json:"callsPerMinute"`

	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// AuthConfig configures the bearer-token supplier.
// A static Token wins over the client-credentials endpoint.
type AuthConfig struct {
	Token        string `yaml:"token" json:"-"`
	TokenURL     string `yaml:"token_url" json:"tokenUrl"`
	ClientID     string `yaml:"client_id" json:"clientId"`
	ClientSecret string `yaml:"client_secret" json:"-"`
	Scope        string `yaml:"scope" json:"scope"`
}

// ProvidersConfig holds every upstream provider.
type ProvidersConfig struct {
	Auth          AuthConfig     `yaml:"auth" json:"auth"`
	UnusualWhales ProviderConfig `yaml:"unusualwhales" json:"unusualwhales"`
	Finnhub       ProviderConfig `yaml:"finnhub" json:"finnhub"`
	AlphaVantage  ProviderConfig `yaml:"alphavantage" json:"alphavantage"`
	Etherscan     ProviderConfig `yaml:"etherscan" json:"etherscan"`
	Blockcypher   ProviderConfig `yaml:"blockcypher" json:"blockcypher"`
	Ethplorer     ProviderConfig `yaml:"ethplorer" json:"ethplorer"`
}

// AggregationConfig controls the orchestrator.
type AggregationConfig struct {
	// Kinds fetched by the full aggregate read. Empty means every ticker kind.
	Kinds []string `yaml:"kinds" json:"kinds"`

	// DefaultLimit applies when a caller passes no limit.
	DefaultLimit int `yaml:"default_limit" json:"defaultLimit"`

	// MaxInstitutions caps the nested per-institution fetch.
	MaxInstitutions int `yaml:"max_institutions" json:"maxInstitutions"`

	// InstitutionPause is the fixed delay between consecutive institution calls.
	InstitutionPause time.Duration `yaml:"institution_pause" json:"institutionPause"`
}

// WorkerConfig controls the refresh consumer and the scheduled jobs.
type WorkerConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	EvictionSchedule string   `yaml:"eviction_schedule" json:"evictionSchedule"`
	WarmSchedule     string   `yaml:"warm_schedule" json:"warmSchedule"`
	Watchlist        []string `yaml:"watchlist" json:"watchlist"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"serviceName"`
}

// DefaultConfig returns a single-process configuration with SQLite and channels.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 120,
			CORSOrigins:  []string{"*"},
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:            "memory",
			LocalMaxSize:    2000,
			LocalTTL:        time.Minute,
			EvictionHorizon: DefaultEvictionHorizon,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Providers: ProvidersConfig{
			UnusualWhales: ProviderConfig{
				BaseURL:        "https://api.unusualwhales.com",
				MinInterval:    time.Second,
				CallsPerMinute: 60,
				Timeout:        15 * time.Second,
			},
			Finnhub: ProviderConfig{
				BaseURL:        "https://finnhub.io/api/v1",
				MinInterval:    time.Second,
				CallsPerMinute: 60,
				Timeout:        10 * time.Second,
			},
			AlphaVantage: ProviderConfig{
				BaseURL:        "https://www.alphavantage.co",
				MinInterval:    12 * time.Second,
				CallsPerMinute: 5,
				Timeout:        10 * time.Second,
			},
			Etherscan: ProviderConfig{
				BaseURL:        "https://api.etherscan.io",
				MinInterval:    200 * time.Millisecond,
				CallsPerMinute: 300,
				Timeout:        10 * time.Second,
			},
			Blockcypher: ProviderConfig{
				BaseURL:        "https://api.blockcypher.com",
				MinInterval:    time.Second,
				CallsPerMinute: 60,
				Timeout:        10 * time.Second,
			},
			Ethplorer: ProviderConfig{
				BaseURL:        "https://api.ethplorer.io",
				APIKey:         "freekey",
				MinInterval:    500 * time.Millisecond,
				CallsPerMinute: 120,
				Timeout:        10 * time.Second,
			},
		},
		Aggregation: AggregationConfig{
			DefaultLimit:     50,
			MaxInstitutions:  10,
			InstitutionPause: time.Second,
		},
		Worker: WorkerConfig{
			Enabled:          true,
			EvictionSchedule: "@every 1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}
