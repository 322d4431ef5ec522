// Package clientcache holds one constructed marketplace client per
// tenant account behind a bounded, TTL'd cache with single-flight
// initialization.
//
// The central property: for a given tenant id at most one build
// (decrypt secret, resolve proxy, construct client) is in flight at a
// time; concurrent callers share the pending result. Two independent
// builds would mean two token exchanges and two inconsistent client
// states for one tenant.
package clientcache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"avitolink/pkg/apperr"
)

var (
	hits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avitolink_client_cache_hits_total",
		Help: "Tenant client cache hits.",
	})
	misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avitolink_client_cache_misses_total",
		Help: "Tenant client cache misses.",
	})
	builds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avitolink_client_cache_builds_total",
		Help: "Tenant client builds performed.",
	})
	buildFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avitolink_client_cache_build_failures_total",
		Help: "Tenant client builds that failed.",
	})
	evictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avitolink_client_cache_evictions_total",
		Help: "Tenant clients disposed by TTL, capacity or invalidation.",
	})
)

const (
	DefaultSize = 100
	DefaultTTL  = time.Hour
)

// Closer is the disposal hook contract: dropping in-memory token state
// and releasing connections. Persisted credentials are never touched.
type Closer interface {
	Close()
}

// BuildFunc constructs a client for one tenant from fresh stored data.
type BuildFunc[V Closer] func(ctx context.Context, tenantID int64) (V, error)

// Cache is process-wide state owned by the service root; lifecycle is
// tied to process start/stop.
type Cache[V Closer] struct {
	lru   *expirable.LRU[int64, V]
	group singleflight.Group
	build BuildFunc[V]
	log   *zap.SugaredLogger

	mu  sync.Mutex
	gen map[int64]uint64 // bumped by Invalidate; guards stale in-flight results
}

// New builds a Cache. size<=0 and ttl<=0 select the defaults.
func New[V Closer](size int, ttl time.Duration, build BuildFunc[V], log *zap.SugaredLogger) *Cache[V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache[V]{build: build, log: log, gen: make(map[int64]uint64)}
	c.lru = expirable.NewLRU[int64, V](size, func(id int64, v V) {
		evictions.Inc()
		log.Debugw("client disposed", "account", id)
		v.Close()
	}, ttl)
	return c
}

// GetOrCreate returns the tenant's live client, building it at most
// once across concurrent callers. A failed build is never cached; the
// next call retries it.
func (c *Cache[V]) GetOrCreate(ctx context.Context, tenantID int64) (V, error) {
	if v, ok := c.lru.Get(tenantID); ok {
		hits.Inc()
		return v, nil
	}
	misses.Inc()

	got, err, shared := c.group.Do(strconv.FormatInt(tenantID, 10), func() (any, error) {
		// A build that finished while this caller queued already
		// populated the cache.
		if v, ok := c.lru.Get(tenantID); ok {
			return v, nil
		}
		gen := c.generation(tenantID)
		builds.Inc()
		v, err := c.build(ctx, tenantID)
		if err != nil {
			buildFailures.Inc()
			return nil, err
		}
		// An Invalidate that landed mid-build means this client was
		// built from pre-mutation data; hand it to the waiters but do
		// not cache it.
		c.mu.Lock()
		current := c.gen[tenantID]
		c.mu.Unlock()
		if current == gen {
			c.lru.Add(tenantID, v)
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, apperr.Wrap(apperr.Build, "build client for account "+strconv.FormatInt(tenantID, 10), err)
	}
	if shared {
		c.log.Debugw("joined in-flight build", "account", tenantID)
	}
	return got.(V), nil
}

// Invalidate drops the tenant's entry so the next GetOrCreate rebuilds
// from fresh data. Called after any credential mutation. Also detaches
// any in-flight build so late arrivals do not adopt a stale result.
func (c *Cache[V]) Invalidate(tenantID int64) {
	c.mu.Lock()
	c.gen[tenantID]++
	c.mu.Unlock()
	c.group.Forget(strconv.FormatInt(tenantID, 10))
	c.lru.Remove(tenantID)
}

func (c *Cache[V]) generation(tenantID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[tenantID]
}

// ClearAll disposes every entry. Called on shutdown; nothing is
// buffered, so there is no drain step.
func (c *Cache[V]) ClearAll() {
	c.lru.Purge()
}

// Len reports the number of live entries.
func (c *Cache[V]) Len() int { return c.lru.Len() }
