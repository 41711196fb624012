package news

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
	"github.com/couchcryptid/quake-alert-service/internal/observability"
)

// HeadlineSource is the upstream a CachedSource decorates.
type HeadlineSource interface {
	Latest(ctx context.Context, limit int) ([]domain.Headline, error)
}

// CachedSource keeps the last successful headline fetch for ttl so that a
// burst of alerts in one cycle hits the news feed once. Failures are not cached.
type CachedSource struct {
	inner   HeadlineSource
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu        sync.Mutex
	headlines []domain.Headline
	limit     int
	fetchedAt time.Time
}

// NewCachedSource wraps inner with a TTL cache driven by clock.
func NewCachedSource(inner HeadlineSource, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CachedSource{
		inner:   inner,
		ttl:     ttl,
		clock:   clock,
		metrics: metrics,
	}
}

// Latest serves cached headlines while fresh and at least limit were cached
// (or the feed had fewer). The lock is held across the upstream call so
// concurrent events wait for one fetch instead of stampeding.
func (c *CachedSource) Latest(ctx context.Context, limit int) ([]domain.Headline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fresh(limit) {
		c.metrics.HeadlineCache.WithLabelValues("hit").Inc()
		return truncate(c.headlines, limit), nil
	}
	c.metrics.HeadlineCache.WithLabelValues("miss").Inc()

	headlines, err := c.inner.Latest(ctx, limit)
	if err != nil {
		return nil, err
	}
	c.headlines = headlines
	c.limit = limit
	c.fetchedAt = c.clock.Now()
	return truncate(headlines, limit), nil
}

func (c *CachedSource) fresh(limit int) bool {
	if c.headlines == nil || limit > c.limit {
		return false
	}
	return c.clock.Since(c.fetchedAt) < c.ttl
}

func truncate(headlines []domain.Headline, limit int) []domain.Headline {
	if len(headlines) > limit {
		headlines = headlines[:limit]
	}
	return append([]domain.Headline(nil), headlines...)
}
