package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astro-web3/apigw-token-authorizer/internal/infra/cache"
	"github.com/astro-web3/apigw-token-authorizer/internal/metrics"
	"github.com/astro-web3/apigw-token-authorizer/pkg/logger"
	"github.com/astro-web3/apigw-token-authorizer/pkg/tracer"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultCacheTTL           = 10 * time.Minute
	DefaultMinRefreshInterval = 30 * time.Second
)

// snapshot is an immutable cached key set together with the time it was
// obtained from the endpoint.
type snapshot struct {
	set       *KeySet
	fetchedAt time.Time
}

type storedKeySet struct {
	FetchedAt time.Time `json:"fetched_at"`
	Keys      []Key     `json:"keys"`
}

// CachedSource serves the key set of one URL from an in-memory snapshot,
// falling back to an optional shared store and then to the endpoint.
//
// Readers load the snapshot atomically. Refreshes are serialized; a
// goroutine that waited for another refresh reuses its result.
type CachedSource struct {
	fetcher            *Fetcher
	store              cache.KeySetStore
	ttl                time.Duration
	minRefreshInterval time.Duration
	metrics            *metrics.Metrics
	now                func() time.Time

	current     atomic.Pointer[snapshot]
	mu          sync.Mutex
	lastRefresh time.Time
}

type SourceOption func(*CachedSource)

// WithSharedStore adds a cross-instance tier consulted before the endpoint.
func WithSharedStore(store cache.KeySetStore) SourceOption {
	return func(s *CachedSource) {
		s.store = store
	}
}

// WithMinRefreshInterval limits how often Refresh may hit the endpoint.
func WithMinRefreshInterval(d time.Duration) SourceOption {
	return func(s *CachedSource) {
		if d >= 0 {
			s.minRefreshInterval = d
		}
	}
}

func WithCacheMetrics(m *metrics.Metrics) SourceOption {
	return func(s *CachedSource) {
		s.metrics = m
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SourceOption {
	return func(s *CachedSource) {
		if now != nil {
			s.now = now
		}
	}
}

func NewCachedSource(fetcher *Fetcher, ttl time.Duration, opts ...SourceOption) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	s := &CachedSource{
		fetcher:            fetcher,
		ttl:                ttl,
		minRefreshInterval: DefaultMinRefreshInterval,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// KeySet returns a key set no older than the TTL.
func (s *CachedSource) KeySet(ctx context.Context) (*KeySet, error) {
	if snap := s.fresh(); snap != nil {
		s.metrics.RecordCache("hit")
		return snap.set, nil
	}

	ctx, span := tracer.Start(ctx, "infra.jwks.CachedSource.KeySet")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if snap := s.fresh(); snap != nil {
		s.metrics.RecordCache("hit")
		span.SetAttributes(attribute.Bool("jwks.cache_hit", true))
		return snap.set, nil
	}
	span.SetAttributes(attribute.Bool("jwks.cache_hit", false))

	if snap := s.loadShared(ctx); snap != nil {
		s.metrics.RecordCache("shared_hit")
		s.current.Store(snap)
		return snap.set, nil
	}

	s.metrics.RecordCache("miss")
	return s.fetchLocked(ctx)
}

// Refresh bypasses both cache tiers so that keys added by a rotation become
// visible. Calls closer together than the minimum refresh interval return
// the current snapshot instead of contacting the endpoint.
func (s *CachedSource) Refresh(ctx context.Context) (*KeySet, error) {
	ctx, span := tracer.Start(ctx, "infra.jwks.CachedSource.Refresh")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if snap := s.current.Load(); snap != nil && s.now().Sub(s.lastRefresh) < s.minRefreshInterval {
		span.SetAttributes(attribute.Bool("jwks.refresh_skipped", true))
		return snap.set, nil
	}

	s.metrics.RecordCache("refresh")
	return s.fetchLocked(ctx)
}

func (s *CachedSource) fresh() *snapshot {
	snap := s.current.Load()
	if snap == nil || s.now().Sub(snap.fetchedAt) >= s.ttl {
		return nil
	}
	return snap
}

// fetchLocked must be called with s.mu held.
func (s *CachedSource) fetchLocked(ctx context.Context) (*KeySet, error) {
	s.lastRefresh = s.now()

	set, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{set: set, fetchedAt: s.now()}
	s.current.Store(snap)
	s.storeShared(ctx, snap)

	return set, nil
}

func (s *CachedSource) loadShared(ctx context.Context) *snapshot {
	if s.store == nil {
		return nil
	}

	doc, err := s.store.Get(ctx, s.fetcher.URL())
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.WarnContext(ctx, "failed to read shared key set, fetching from endpoint",
				slog.String("error", err.Error()))
		}
		return nil
	}

	var stored storedKeySet
	if err := json.Unmarshal(doc, &stored); err != nil {
		logger.WarnContext(ctx, "discarding unreadable shared key set", slog.String("error", err.Error()))
		return nil
	}
	if stored.Keys == nil || s.now().Sub(stored.FetchedAt) >= s.ttl {
		return nil
	}

	return &snapshot{set: &KeySet{Keys: stored.Keys}, fetchedAt: stored.FetchedAt}
}

func (s *CachedSource) storeShared(ctx context.Context, snap *snapshot) {
	if s.store == nil {
		return
	}

	doc, err := json.Marshal(storedKeySet{FetchedAt: snap.fetchedAt, Keys: snap.set.Keys})
	if err != nil {
		logger.WarnContext(ctx, "failed to encode key set for shared store", slog.String("error", err.Error()))
		return
	}
	if err := s.store.Set(ctx, s.fetcher.URL(), doc, s.ttl); err != nil {
		logger.WarnContext(ctx, "failed to write shared key set", slog.String("error", err.Error()))
	}
}
