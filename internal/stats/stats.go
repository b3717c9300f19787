package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"boardgame-bot/internal/cache"
	"boardgame-bot/internal/metrics"
	"boardgame-bot/internal/repo"
)

const (
	cacheKey   = "stats:snapshot"
	defaultTTL = 5 * time.Minute
	topLimit   = 10
)

// Snapshot is the aggregate view behind the admin dashboard.
type Snapshot struct {
	Totals       repo.Stats          `json:"totals"`
	TopReferrers []repo.ReferrerStat `json:"top_referrers"`
	GeneratedAt  time.Time           `json:"generated_at"`
}

// Service builds and caches statistics snapshots. When redis is available the
// snapshot lives there with a TTL; otherwise an in-process copy guarded by a
// mutex serves concurrent readers.
type Service struct {
	store   repo.Store
	redis   *cache.Redis
	metrics *metrics.Metrics
	logger  *slog.Logger
	ttl     time.Duration

	mu    sync.RWMutex
	local *Snapshot
}

// New constructs the service. redis may be nil.
func New(store repo.Store, redisClient *cache.Redis, metricRegistry *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		redis:   redisClient,
		metrics: metricRegistry,
		logger:  logger.With("component", "stats"),
		ttl:     defaultTTL,
	}
}

// Get returns the cached snapshot, rebuilding it on a miss.
func (s *Service) Get(ctx context.Context) (*Snapshot, error) {
	if s.redis != nil {
		var snap Snapshot
		hit, err := s.redis.GetJSON(ctx, cacheKey, &snap)
		if err != nil {
			s.logger.Warn("stats cache read failed", "error", err)
		} else if hit {
			return &snap, nil
		}
	} else {
		s.mu.RLock()
		local := s.local
		s.mu.RUnlock()
		if local != nil && time.Since(local.GeneratedAt) < s.ttl {
			return local, nil
		}
	}
	return s.Refresh(ctx, "miss")
}

// Refresh rebuilds the snapshot from the store and repopulates the cache.
func (s *Service) Refresh(ctx context.Context, trigger string) (*Snapshot, error) {
	totals, err := s.store.CollectStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect stats: %w", err)
	}
	top, err := s.store.TopReferrers(ctx, topLimit)
	if err != nil {
		return nil, fmt.Errorf("top referrers: %w", err)
	}

	snap := &Snapshot{
		Totals:       *totals,
		TopReferrers: top,
		GeneratedAt:  time.Now().UTC(),
	}

	if s.redis != nil {
		if err := s.redis.SetJSON(ctx, cacheKey, snap, s.ttl); err != nil {
			s.logger.Warn("stats cache write failed", "error", err)
		}
	}
	s.mu.Lock()
	s.local = snap
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.StatsRefreshes.WithLabelValues(trigger).Inc()
	}
	return snap, nil
}

// Invalidate drops the cached snapshot so the next read rebuilds it.
func (s *Service) Invalidate(ctx context.Context) {
	if s.redis != nil {
		if err := s.redis.Delete(ctx, cacheKey); err != nil {
			s.logger.Warn("stats cache invalidation failed", "error", err)
		}
	}
	s.mu.Lock()
	s.local = nil
	s.mu.Unlock()
}
