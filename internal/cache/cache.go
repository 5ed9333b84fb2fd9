package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Stats describes the read tier.
type Stats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// New wraps the backing store according to configuration.
//   - "memory": TieredStore with a local LRU in front of the store
//   - "none": the store itself
func New(cfg domain.CacheConfig, backing domain.CacheStore, policies domain.Policies) (domain.CacheStore, error) {
	if backing == nil {
		return nil, fmt.Errorf("%w: cache needs a backing store", domain.ErrInvalidInput)
	}

	switch cfg.Type {
	case "memory", "":
		return NewTieredStore(backing, policies, cfg.LocalMaxSize, cfg.LocalTTL), nil
	case "none":
		return backing, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TieredStore implements the two-phase read strategy.
// L1: local LRU of recent reads, bounded by the kind's remaining TTL
// L2: the relational store, which owns freshness and write modes
type TieredStore struct {
	local    *LRUCache
	remote   domain.CacheStore
	policies domain.Policies
	l1TTL    time.Duration
	now      func() time.Time
}

// NewTieredStore creates a two-phase store over remote.
func NewTieredStore(remote domain.CacheStore, policies domain.Policies, maxSize int, l1TTL time.Duration) *TieredStore {
	if l1TTL == 0 {
		l1TTL = time.Minute
	}
	if policies == nil {
		policies = domain.DefaultPolicies()
	}
	return &TieredStore{
		local:    NewLRUCache(maxSize),
		remote:   remote,
		policies: policies,
		l1TTL:    l1TTL,
		now:      time.Now,
	}
}

func localKey(kind domain.Kind, primaryKey string) string {
	return string(kind) + "|" + primaryKey
}

// Get reads from L1 first, then L2. Populates L1 on an L2 hit.
func (s *TieredStore) Get(ctx context.Context, kind domain.Kind, primaryKey string, limit int) ([]domain.Entry, error) {
	key := localKey(kind, primaryKey)
	now := s.now()

	if entries, ok := s.local.Get(key, limit, now); ok {
		return entries, nil
	}
	version := s.local.Version()

	entries, err := s.remote.Get(ctx, kind, primaryKey, limit)
	if err != nil {
		return nil, err
	}

	if expiresAt, ok := s.expiry(kind, entries, now); ok {
		s.local.Set(version, key, entries, limit, expiresAt)
	}
	return entries, nil
}

// expiry bounds an L1 entry by both the local TTL and the moment the
// newest row goes stale in L2.
func (s *TieredStore) expiry(kind domain.Kind, entries []domain.Entry, now time.Time) (time.Time, bool) {
	pol, ok := s.policies.For(kind)
	if !ok || len(entries) == 0 {
		return time.Time{}, false
	}

	var newest time.Time
	for _, e := range entries {
		if e.FetchedAt.After(newest) {
			newest = e.FetchedAt
		}
	}

	expiresAt := now.Add(s.l1TTL)
	if stale := newest.Add(pol.TTL); stale.Before(expiresAt) {
		expiresAt = stale
	}
	return expiresAt, expiresAt.After(now)
}

// Put writes to L2 and drops the L1 copy for the key.
func (s *TieredStore) Put(ctx context.Context, kind domain.Kind, primaryKey string, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	key := localKey(kind, primaryKey)
	s.local.Delete(key)
	err := s.remote.Put(ctx, kind, primaryKey, records)
	s.local.Delete(key)
	return err
}

// EvictOlderThan evicts from L2 and clears L1.
func (s *TieredStore) EvictOlderThan(ctx context.Context, horizon time.Duration) (map[domain.Kind]int64, error) {
	removed, err := s.remote.EvictOlderThan(ctx, horizon)
	s.local.Purge()
	return removed, err
}

// Ping checks L2 health. L1 is always available.
func (s *TieredStore) Ping(ctx context.Context) error {
	if err := s.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close clears L1 and closes L2.
func (s *TieredStore) Close() error {
	s.local.Purge()
	return s.remote.Close()
}

// Stats returns L1 cache statistics.
func (s *TieredStore) Stats() Stats {
	return s.local.Stats()
}
