// Package activity aggregates cached and upstream ticker data.
package activity

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/filter"
)

// Status of one kind in a read.
type Status string

const (
	StatusOK        Status = "ok"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Options controls a single-kind read.
type Options struct {
	// Limit caps the rows returned. Zero means the configured default.
	Limit int
	// ForceRefresh skips the cache read.
	ForceRefresh bool
	// Filter is an optional CEL expression applied to the rows.
	Filter string
}

// KindResult is the outcome of reading one kind.
type KindResult struct {
	Kind      domain.Kind     `json:"kind"`
	Data      []domain.Record `json:"data"`
	Count     int             `json:"count"`
	Cached    bool            `json:"cached"`
	Timestamp time.Time       `json:"timestamp"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`

	err error
}

// Err returns the failure behind a non-ok status.
func (r *KindResult) Err() error { return r.err }

// Activity is the full aggregate for a ticker. It is built per request and
// never cached as a whole.
type Activity struct {
	Ticker    string                      `json:"ticker"`
	Timestamp time.Time                   `json:"timestamp"`
	Stats     Stats                       `json:"stats"`
	Data      map[domain.Kind]*KindResult `json:"data"`
	Partial   bool                        `json:"partial"`
	Cancelled bool                        `json:"cancelled"`
}

// Err returns a *domain.PartialAggregationError when any kind failed.
func (a *Activity) Err() error {
	failed := make(map[domain.Kind]error)
	for kind, r := range a.Data {
		if r.Status != StatusOK {
			failed[kind] = r.err
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &domain.PartialAggregationError{Ticker: a.Ticker, Failed: failed}
}

// Fetcher reads one kind from upstream.
type Fetcher func(ctx context.Context, ticker string, limit int) ([]domain.Record, error)

// Source is the single upstream provider of ticker activity.
type Source interface {
	Ownership(ctx context.Context, ticker string, limit int) ([]*domain.OwnershipPosition, error)
	InstitutionActivity(ctx context.Context, institution, ticker string) ([]*domain.InstitutionalTrade, error)
	InsiderTrades(ctx context.Context, ticker string, limit int) ([]*domain.InsiderTrade, error)
	CongressTrades(ctx context.Context, ticker string, limit int) ([]*domain.CongressTrade, error)
	OptionsFlow(ctx context.Context, ticker string, limit int) ([]*domain.OptionsFlow, error)
	DarkPool(ctx context.Context, ticker string, limit int) ([]*domain.DarkPoolPrint, error)
}

// QuoteSource resolves a quote, typically through a fallback chain.
type QuoteSource func(ctx context.Context, ticker string) (*domain.Quote, error)

// Config holds orchestrator settings.
type Config struct {
	Kinds            []domain.Kind
	DefaultLimit     int
	MaxInstitutions  int
	InstitutionPause time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.Kinds) == 0 {
		c.Kinds = append([]domain.Kind(nil), domain.TickerKinds...)
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 50
	}
	if c.MaxInstitutions <= 0 {
		c.MaxInstitutions = 10
	}
	if c.InstitutionPause < 0 {
		c.InstitutionPause = 0
	}
	return c
}

// Service is the aggregation orchestrator.
type Service struct {
	store    domain.CacheStore
	source   Source
	cfg      Config
	fetchers map[domain.Kind]Fetcher
	filters  *filter.Engine
	group    singleflight.Group
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithFetcher replaces the upstream fetcher of kind.
func WithFetcher(kind domain.Kind, f Fetcher) Option {
	return func(s *Service) {
		s.fetchers[kind] = f
	}
}

// WithFilterEngine shares a filter engine.
func WithFilterEngine(e *filter.Engine) Option {
	return func(s *Service) {
		s.filters = e
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock replaces the time source used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates an orchestrator over store. source serves every kind except
// quotes, which come from quotes. Either may be nil when the matching
// fetchers are supplied with WithFetcher.
func New(store domain.CacheStore, source Source, quotes QuoteSource, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		source:   source,
		cfg:      cfg.withDefaults(),
		fetchers: make(map[domain.Kind]Fetcher),
		filters:  filter.NewEngine(),
		tracer:   otel.Tracer("kestrel-activity"),
		logger:   slog.Default(),
		now:      time.Now,
	}
	s.registerFetchers(quotes)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kinds returns the kinds read by the full aggregate.
func (s *Service) Kinds() []domain.Kind {
	return append([]domain.Kind(nil), s.cfg.Kinds...)
}
