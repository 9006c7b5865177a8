package checker

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/malbeclabs/huntql/internal/metrics"
)

const DefaultCacheTTL = 10 * time.Minute

// Cached memoizes verdicts of another checker. Only verdicts are cached;
// errors always fall through to the next call.
type Cached struct {
	inner Checker
	cache *ttlcache.Cache[string, Verdict]
}

func NewCached(inner Checker, ttl time.Duration) (*Cached, error) {
	if inner == nil {
		return nil, ErrCheckerRequired
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		inner: inner,
		cache: ttlcache.New(ttlcache.WithTTL[string, Verdict](ttl)),
	}, nil
}

func cacheKey(query string, sources []string) string {
	return strings.Join(sources, ",") + "\x00" + query
}

func (c *Cached) Check(ctx context.Context, query string, sources []string) (Verdict, error) {
	key := cacheKey(query, sources)
	if item := c.cache.Get(key); item != nil {
		metrics.CheckerCacheHits.Inc()
		return item.Value(), nil
	}
	v, err := c.inner.Check(ctx, query, sources)
	if err != nil {
		return Verdict{}, err
	}
	c.cache.Set(key, v, ttlcache.DefaultTTL)
	return v, nil
}

func (c *Cached) Len() int {
	return c.cache.Len()
}
