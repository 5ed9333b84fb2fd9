package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, dedupe bool) (*SQLStore, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)}
	store, err := New(domain.RepositoryConfig{
		Driver:       "sqlite",
		SQLitePath:   filepath.Join(t.TempDir(), "kestrel-test.db"),
		DedupeAppend: dedupe,
	}, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, clock
}

func position(institution string, units int64) *domain.OwnershipPosition {
	return &domain.OwnershipPosition{
		Ticker:      "NVDA",
		Institution: institution,
		Units:       units,
		Value:       decimal.NewFromInt(units * 100),
		ReportDate:  time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func insider(id string, day int) *domain.InsiderTrade {
	return &domain.InsiderTrade{
		ID:       id,
		Ticker:   "NVDA",
		Insider:  "HUANG JEN HSUN",
		Side:     domain.SideSell,
		Shares:   1000,
		Price:    decimal.RequireFromString("120.5"),
		TradedAt: time.Date(2025, 6, day, 0, 0, 0, 0, time.UTC),
	}
}

func TestSQLStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		store, _ := newTestStore(t, false)
		require.NoError(t, store.Ping(ctx))
	})

	t.Run("MissWhenEmpty", func(t *testing.T) {
		store, _ := newTestStore(t, false)
		_, err := store.Get(ctx, domain.KindOwnership, "NVDA", 10)
		require.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("FreshnessBoundary", func(t *testing.T) {
		store, clock := newTestStore(t, false)

		require.NoError(t, store.Put(ctx, domain.KindQuote, "NVDA", []domain.Record{
			&domain.Quote{Ticker: "NVDA", Price: decimal.RequireFromString("134.38"), QuotedAt: clock.Now()},
		}))

		entries, err := store.Get(ctx, domain.KindQuote, "NVDA", 1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		q := entries[0].Record.(*domain.Quote)
		require.True(t, decimal.RequireFromString("134.38").Equal(q.Price))
		require.Equal(t, clock.Now(), entries[0].FetchedAt)

		clock.Advance(time.Hour - time.Nanosecond)
		_, err = store.Get(ctx, domain.KindQuote, "NVDA", 1)
		require.NoError(t, err)

		clock.Advance(time.Nanosecond)
		_, err = store.Get(ctx, domain.KindQuote, "NVDA", 1)
		require.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("UpsertIdempotence", func(t *testing.T) {
		store, clock := newTestStore(t, false)

		require.NoError(t, store.Put(ctx, domain.KindOwnership, "NVDA", []domain.Record{position("VANGUARD", 100)}))
		clock.Advance(time.Minute)
		require.NoError(t, store.Put(ctx, domain.KindOwnership, "NVDA", []domain.Record{position("VANGUARD", 250)}))

		entries, err := store.Get(ctx, domain.KindOwnership, "NVDA", 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, int64(250), entries[0].Record.(*domain.OwnershipPosition).Units)
		require.Equal(t, "VANGUARD|2025-03-31", entries[0].SecondaryKey)
		require.Equal(t, clock.Now(), entries[0].FetchedAt)
	})

	t.Run("ReplaceSnapshotOrder", func(t *testing.T) {
		store, _ := newTestStore(t, false)

		require.NoError(t, store.Put(ctx, domain.KindOwnership, "NVDA", []domain.Record{
			position("VANGUARD", 300),
			position("BLACKROCK", 200),
			position("FMR", 100),
		}))

		entries, err := store.Get(ctx, domain.KindOwnership, "NVDA", 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, "VANGUARD", entries[0].Record.(*domain.OwnershipPosition).Institution)
		require.Equal(t, "BLACKROCK", entries[1].Record.(*domain.OwnershipPosition).Institution)
	})

	t.Run("ReplaceSetInvalidatedTogether", func(t *testing.T) {
		store, clock := newTestStore(t, false)

		require.NoError(t, store.Put(ctx, domain.KindOwnership, "NVDA", []domain.Record{position("VANGUARD", 1)}))
		clock.Advance(20 * time.Hour)
		require.NoError(t, store.Put(ctx, domain.KindOwnership, "NVDA", []domain.Record{position("BLACKROCK", 2)}))

		// VANGUARD is 26h old and past the TTL; only the fresh snapshot is read.
		clock.Advance(6 * time.Hour)
		entries, err := store.Get(ctx, domain.KindOwnership, "NVDA", 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "BLACKROCK", entries[0].Record.(*domain.OwnershipPosition).Institution)

		clock.Advance(18 * time.Hour)
		_, err = store.Get(ctx, domain.KindOwnership, "NVDA", 0)
		require.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("AppendGrowth", func(t *testing.T) {
		store, clock := newTestStore(t, false)

		require.NoError(t, store.Put(ctx, domain.KindInsiderTrades, "NVDA", []domain.Record{insider("a1", 10)}))
		clock.Advance(time.Minute)
		require.NoError(t, store.Put(ctx, domain.KindInsiderTrades, "NVDA", []domain.Record{insider("a1", 10), insider("a2", 12)}))

		entries, err := store.Get(ctx, domain.KindInsiderTrades, "NVDA", 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)

		// Newest event first, then newest fetch.
		require.Equal(t, "a2", entries[0].Record.(*domain.InsiderTrade).ID)
		require.Equal(t, clock.Now(), entries[1].FetchedAt)
		require.Equal(t, "a1", entries[2].Record.(*domain.InsiderTrade).ID)
	})

	t.Run("ReplaceStaleRowsHidden", func(t *testing.T) {
		store, clock := newTestStore(t, false)

		require.NoError(t, store.Put(ctx, domain.KindOwnership, "NVDA", []domain.Record{
			position("VANGUARD", 300),
			position("BLACKROCK", 200),
		}))
		clock.Advance(25 * time.Hour)
		require.NoError(t, store.Put(ctx, domain.KindOwnership, "NVDA", []domain.Record{position("FMR", 100)}))

		entries, err := store.Get(ctx, domain.KindOwnership, "NVDA", 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "FMR", entries[0].Record.(*domain.OwnershipPosition).Institution)
		require.Equal(t, clock.Now(), entries[0].FetchedAt)
	})

	t.Run("AppendWindowIsTTL", func(t *testing.T) {
		store, clock := newTestStore(t, false)

		require.NoError(t, store.Put(ctx, domain.KindInsiderTrades, "NVDA", []domain.Record{insider("a1", 10), insider("a2", 12)}))
		clock.Advance(25 * time.Hour)
		require.NoError(t, store.Put(ctx, domain.KindInsiderTrades, "NVDA", []domain.Record{insider("a2", 12), insider("a3", 14)}))

		entries, err := store.Get(ctx, domain.KindInsiderTrades, "NVDA", 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, "a3", entries[0].Record.(*domain.InsiderTrade).ID)
		require.Equal(t, "a2", entries[1].Record.(*domain.InsiderTrade).ID)
		for _, e := range entries {
			require.Equal(t, clock.Now(), e.FetchedAt)
		}
	})

	t.Run("AppendDedupe", func(t *testing.T) {
		store, clock := newTestStore(t, true)

		require.NoError(t, store.Put(ctx, domain.KindInsiderTrades, "NVDA", []domain.Record{insider("a1", 10)}))
		clock.Advance(time.Minute)
		require.NoError(t, store.Put(ctx, domain.KindInsiderTrades, "NVDA", []domain.Record{insider("a1", 10), insider("a2", 12)}))

		entries, err := store.Get(ctx, domain.KindInsiderTrades, "NVDA", 0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
	})

	t.Run("EmptyPutIsNoop", func(t *testing.T) {
		store, _ := newTestStore(t, false)

		require.NoError(t, store.Put(ctx, domain.KindDarkPool, "NVDA", nil))
		_, err := store.Get(ctx, domain.KindDarkPool, "NVDA", 10)
		require.ErrorIs(t, err, domain.ErrCacheMiss)
	})

	t.Run("ExtensionRoundTrip", func(t *testing.T) {
		store, _ := newTestStore(t, false)

		require.NoError(t, store.Put(ctx, domain.KindDarkPool, "NVDA", []domain.Record{
			&domain.DarkPoolPrint{ID: "7781", Ticker: "NVDA", Size: 10, Extra: domain.Extension{"market_center": "L"}},
		}))
		entries, err := store.Get(ctx, domain.KindDarkPool, "NVDA", 10)
		require.NoError(t, err)
		require.Equal(t, "L", entries[0].Record.(*domain.DarkPoolPrint).Extra["market_center"])
	})

	t.Run("EvictOlderThan", func(t *testing.T) {
		store, clock := newTestStore(t, false)

		require.NoError(t, store.Put(ctx, domain.KindDarkPool, "NVDA", []domain.Record{&domain.DarkPoolPrint{ID: "old"}}))
		require.NoError(t, store.Put(ctx, domain.KindOwnership, "NVDA", []domain.Record{position("VANGUARD", 1)}))
		clock.Advance(8 * 24 * time.Hour)
		require.NoError(t, store.Put(ctx, domain.KindDarkPool, "NVDA", []domain.Record{&domain.DarkPoolPrint{ID: "new"}}))

		removed, err := store.EvictOlderThan(ctx, domain.DefaultEvictionHorizon)
		require.NoError(t, err)
		require.Equal(t, map[domain.Kind]int64{domain.KindDarkPool: 1, domain.KindOwnership: 1}, removed)

		// Idempotent.
		removed, err = store.EvictOlderThan(ctx, domain.DefaultEvictionHorizon)
		require.NoError(t, err)
		require.Empty(t, removed)

		entries, err := store.Get(ctx, domain.KindDarkPool, "NVDA", 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "new", entries[0].Record.(*domain.DarkPoolPrint).ID)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		store, _ := newTestStore(t, false)
		_, err := store.Get(ctx, domain.Kind("bogus"), "NVDA", 1)
		require.ErrorIs(t, err, domain.ErrUnknownKind)
	})

	t.Run("ClosedStoreIsUnavailable", func(t *testing.T) {
		store, _ := newTestStore(t, false)
		require.NoError(t, store.Close())

		_, err := store.Get(ctx, domain.KindQuote, "NVDA", 1)
		require.True(t, domain.IsCacheUnavailable(err))

		err = store.Put(ctx, domain.KindQuote, "NVDA", []domain.Record{&domain.Quote{Ticker: "NVDA"}})
		require.True(t, domain.IsCacheUnavailable(err))
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported driver")
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: "postgres"}
	require.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 FROM t WHERE a = ? AND b = ?"))

	lite := &SQLStore{driver: "sqlite"}
	require.Equal(t, "a = ?", lite.rebind("a = ?"))
}
