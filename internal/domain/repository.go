package domain

import (
	"context"
	"time"
)

// Entry is a stored record with its cache metadata.
type Entry struct {
	Kind         Kind      `json:"kind"`
	PrimaryKey   string    `json:"primaryKey"`
	SecondaryKey string    `json:"secondaryKey,omitempty"`
	Record       Record    `json:"record"`
	FetchedAt    time.Time `json:"fetchedAt"`
}

// CacheStore persists fetched records per kind with TTL semantics.
type CacheStore interface {
	// Get returns up to limit rows for (kind, primaryKey), newest first.
	// Returns ErrCacheMiss when nothing is stored or when the most recently
	// written row is older than the kind's TTL. limit <= 0 means no limit.
	Get(ctx context.Context, kind Kind, primaryKey string, limit int) ([]Entry, error)

	// Put stores records according to the kind's write mode.
	// An empty slice is a no-op.
	Put(ctx context.Context, kind Kind, primaryKey string, records []Record) error

	// EvictOlderThan removes rows fetched before now-horizon and reports
	// the number of rows removed per kind.
	EvictOlderThan(ctx context.Context, horizon time.Duration) (map[Kind]int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for the relational store.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlite_path" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgres_host" json:"postgresHost"`
	PostgresPort     int    `yaml:"postgres_port" json:"postgresPort"`
	PostgresUser     string `yaml:"postgres_user" json:"postgresUser"`
	PostgresPassword string `yaml:"postgres_password" json:"-"`
	PostgresDB       string `yaml:"postgres_db" json:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgres_sslmode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"connMaxLifetime"`

	// DedupeAppend skips append-mode rows whose natural key is already stored.
	DedupeAppend bool `yaml:"dedupe_append" json:"dedupeAppend"`
}
