// Package repository provides the relational cache store.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLStore implements domain.CacheStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db       *sql.DB
	driver   string
	policies domain.Policies
	dedupe   bool
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a SQLStore.
type Option func(*SQLStore)

// WithPolicies sets the per-kind TTL and write mode table.
func WithPolicies(p domain.Policies) Option {
	return func(s *SQLStore) {
		s.policies = p
	}
}

// WithClock replaces the time source used for fetched_at and freshness.
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLStore) {
		s.logger = l
	}
}

// New opens the store selected by cfg.Driver and runs migrations.
func New(cfg domain.RepositoryConfig, opts ...Option) (*SQLStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite", "":
		cfg.Driver = "sqlite"
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{
		db:       db,
		driver:   cfg.Driver,
		policies: domain.DefaultPolicies(),
		dedupe:   cfg.DedupeAppend,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas(s.policies) {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) policy(kind domain.Kind) (domain.Policy, error) {
	pol, ok := s.policies.For(kind)
	if !ok {
		return domain.Policy{}, fmt.Errorf("%w: %q", domain.ErrUnknownKind, string(kind))
	}
	return pol, nil
}

// Get returns up to limit fresh rows for (kind, primaryKey).
//
// Freshness is judged on the most recently written row: if it is older than
// the kind's TTL the whole set is a miss. Only rows fetched within the TTL
// are returned, so rows the upstream stopped reporting and refetch
// duplicates past the TTL stay hidden until eviction. Replace-mode rows come
// back in snapshot order (newest fetch, then upstream order); append-mode
// rows come back newest event first.
func (s *SQLStore) Get(ctx context.Context, kind domain.Kind, primaryKey string, limit int) ([]domain.Entry, error) {
	pol, err := s.policy(kind)
	if err != nil {
		return nil, err
	}
	table := tableName(kind)

	var newest sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		s.rebind("SELECT MAX(fetched_at) FROM "+table+" WHERE primary_key = ?"),
		primaryKey,
	).Scan(&newest)
	if err != nil {
		return nil, &domain.CacheUnavailableError{Op: "get", Kind: kind, Err: err}
	}
	if !newest.Valid {
		return nil, domain.ErrCacheMiss
	}
	now := s.now()
	if now.Sub(time.Unix(0, newest.Int64)) >= pol.TTL {
		return nil, domain.ErrCacheMiss
	}

	order := "event_time DESC, fetched_at DESC, seq ASC"
	if pol.Mode == domain.ModeReplace {
		order = "fetched_at DESC, seq ASC"
	}
	query := "SELECT secondary_key, fetched_at, payload FROM " + table +
		" WHERE primary_key = ? AND fetched_at > ? ORDER BY " + order
	args := []any{primaryKey, now.Add(-pol.TTL).UnixNano()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, &domain.CacheUnavailableError{Op: "get", Kind: kind, Err: err}
	}
	defer rows.Close()

	var entries []domain.Entry
	for rows.Next() {
		var secondary, payload string
		var fetchedAt int64
		if err := rows.Scan(&secondary, &fetchedAt, &payload); err != nil {
			return nil, &domain.CacheUnavailableError{Op: "get", Kind: kind, Err: err}
		}

		rec, err := domain.NewRecord(kind)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), rec); err != nil {
			return nil, &domain.CacheUnavailableError{Op: "decode", Kind: kind, Err: err}
		}

		entries = append(entries, domain.Entry{
			Kind:         kind,
			PrimaryKey:   primaryKey,
			SecondaryKey: secondary,
			Record:       rec,
			FetchedAt:    time.Unix(0, fetchedAt).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.CacheUnavailableError{Op: "get", Kind: kind, Err: err}
	}
	if len(entries) == 0 {
		return nil, domain.ErrCacheMiss
	}
	return entries, nil
}

// Put writes records for (kind, primaryKey) in one transaction.
// Replace-mode kinds upsert on (primary_key, secondary_key); append-mode
// kinds insert new rows. An empty slice writes nothing.
func (s *SQLStore) Put(ctx context.Context, kind domain.Kind, primaryKey string, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	pol, err := s.policy(kind)
	if err != nil {
		return err
	}
	table := tableName(kind)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.CacheUnavailableError{Op: "put", Kind: kind, Err: err}
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO ` + table + ` (
			id, primary_key, secondary_key, natural_key, seq, event_time, fetched_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if pol.Mode == domain.ModeReplace {
		insert += `
		ON CONFLICT(primary_key, secondary_key) DO UPDATE SET
			natural_key = excluded.natural_key,
			seq = excluded.seq,
			event_time = excluded.event_time,
			fetched_at = excluded.fetched_at,
			payload = excluded.payload
		`
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(insert))
	if err != nil {
		return &domain.CacheUnavailableError{Op: "put", Kind: kind, Err: err}
	}
	defer stmt.Close()

	var exists *sql.Stmt
	if pol.Mode == domain.ModeAppend && s.dedupe {
		exists, err = tx.PrepareContext(ctx, s.rebind(
			"SELECT COUNT(1) FROM "+table+" WHERE primary_key = ? AND natural_key = ?"))
		if err != nil {
			return &domain.CacheUnavailableError{Op: "put", Kind: kind, Err: err}
		}
		defer exists.Close()
	}

	fetchedAt := s.now().UnixNano()
	skipped := 0
	for i, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode %s record: %w", kind, err)
		}

		natural := rec.NaturalKey()
		if exists != nil && natural != "" {
			var n int
			if err := exists.QueryRowContext(ctx, primaryKey, natural).Scan(&n); err != nil {
				return &domain.CacheUnavailableError{Op: "put", Kind: kind, Err: err}
			}
			if n > 0 {
				skipped++
				continue
			}
		}

		secondary := ""
		if pol.Mode == domain.ModeReplace {
			secondary = rec.SecondaryKey()
		}

		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(), primaryKey, secondary, natural,
			i, unixNano(rec.OccurredAt()), fetchedAt, string(payload),
		); err != nil {
			return &domain.CacheUnavailableError{Op: "put", Kind: kind, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.CacheUnavailableError{Op: "put", Kind: kind, Err: err}
	}

	if skipped > 0 {
		s.logger.Debug("skipped duplicate rows",
			"kind", kind,
			"primary_key", primaryKey,
			"skipped", skipped,
		)
	}
	return nil
}

// EvictOlderThan deletes rows of every kind fetched before now-horizon.
func (s *SQLStore) EvictOlderThan(ctx context.Context, horizon time.Duration) (map[domain.Kind]int64, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: eviction horizon must be positive", domain.ErrInvalidInput)
	}
	cutoff := s.now().Add(-horizon).UnixNano()

	removed := make(map[domain.Kind]int64)
	for _, kind := range domain.AllKinds() {
		result, err := s.db.ExecContext(ctx,
			s.rebind("DELETE FROM "+tableName(kind)+" WHERE fetched_at < ?"),
			cutoff,
		)
		if err != nil {
			return removed, &domain.CacheUnavailableError{Op: "evict", Kind: kind, Err: err}
		}
		n, err := result.RowsAffected()
		if err != nil {
			return removed, &domain.CacheUnavailableError{Op: "evict", Kind: kind, Err: err}
		}
		if n > 0 {
			removed[kind] = n
		}
	}
	return removed, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
