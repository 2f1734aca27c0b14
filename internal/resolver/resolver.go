// Package resolver turns global IDs back into content items, locally or
// across the network mesh.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
	"github.com/northpress/syndicate/internal/metrics"
	"github.com/northpress/syndicate/internal/store"
)

const cacheKeyPrefix = "resolver:gid:"

// RemoteLookup fetches an item from a foreign network.
type RemoteLookup interface {
	ResolveItem(ctx context.Context, gid domain.GlobalID) (*domain.ContentItem, error)
}

// Resolver resolves global IDs. Local IDs go straight to the content store
// and only resolve when the item is a root; remote IDs go through a two-tier
// cache (process map, then Redis) before hitting the wire. Both tiers expire
// on the same TTL, so a remote answer is never older than one TTL window no
// matter how long the resolver lives.
type Resolver struct {
	store   store.ContentStore
	remote  RemoteLookup
	redis   redis.UniversalClient
	ttl     time.Duration
	network string
	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	process map[string]processEntry
}

type processEntry struct {
	item      *domain.ContentItem
	expiresAt time.Time
}

// New creates a resolver for the given home network.
func New(contentStore store.ContentStore, remote RemoteLookup, client redis.UniversalClient,
	network string, ttl time.Duration, log logger.Logger, m *metrics.Metrics,
) *Resolver {
	return &Resolver{
		store:   contentStore,
		remote:  remote,
		redis:   client,
		ttl:     ttl,
		network: network,
		logger:  log,
		metrics: m,
		now:     time.Now,
		process: make(map[string]processEntry),
	}
}

// Resolve returns the content item a global ID addresses.
//
// A local ID resolves only when the item exists and is a syndication root;
// linked copies and unsynced items return ErrNotFound so callers follow the
// ID to the authority instead of reading a stale copy.
func (r *Resolver) Resolve(ctx context.Context, gid domain.GlobalID) (*domain.ContentItem, error) {
	if gid.Local() || gid.Network == r.network {
		return r.resolveLocal(ctx, gid)
	}
	return r.resolveRemote(ctx, gid)
}

func (r *Resolver) resolveLocal(ctx context.Context, gid domain.GlobalID) (*domain.ContentItem, error) {
	item, err := r.store.Get(ctx, gid.SiteID, gid.ItemID)
	if err != nil {
		return nil, err
	}
	if item.SyncStatus() != domain.SyncStatusRoot {
		return nil, fmt.Errorf("%w: item %s is not a syndication root", domain.ErrNotFound, gid)
	}
	return item, nil
}

func (r *Resolver) resolveRemote(ctx context.Context, gid domain.GlobalID) (*domain.ContentItem, error) {
	key := gid.String()

	r.mu.RLock()
	entry, ok := r.process[key]
	r.mu.RUnlock()
	if ok {
		if r.now().Before(entry.expiresAt) {
			r.metrics.ResolverCacheHits.Inc()
			return entry.item, nil
		}
		r.mu.Lock()
		delete(r.process, key)
		r.mu.Unlock()
	}

	if item, found := r.fromRedis(ctx, key); found {
		r.metrics.ResolverCacheHits.Inc()
		r.storeProcess(key, item)
		return item, nil
	}
	r.metrics.ResolverCacheMisses.Inc()

	item, err := r.remote.ResolveItem(ctx, gid)
	if err != nil {
		return nil, err
	}

	r.storeProcess(key, item)
	r.toRedis(ctx, key, item)
	return item, nil
}

func (r *Resolver) fromRedis(ctx context.Context, key string) (*domain.ContentItem, bool) {
	raw, err := r.redis.Get(ctx, cacheKeyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("Resolver cache read failed",
				logger.String("gid", key),
				logger.Error(err),
			)
		}
		return nil, false
	}

	var item domain.ContentItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		r.logger.Warn("Resolver cache entry corrupt",
			logger.String("gid", key),
			logger.Error(err),
		)
		return nil, false
	}
	return &item, true
}

func (r *Resolver) toRedis(ctx context.Context, key string, item *domain.ContentItem) {
	data, err := json.Marshal(item)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, cacheKeyPrefix+key, data, r.ttl).Err(); err != nil {
		r.logger.Warn("Resolver cache write failed",
			logger.String("gid", key),
			logger.Error(err),
		)
	}
}

func (r *Resolver) storeProcess(key string, item *domain.ContentItem) {
	r.mu.Lock()
	r.process[key] = processEntry{item: item, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()
}

// Invalidate drops a remote resolution from both cache tiers, for callers
// that just learned the authority changed the item.
func (r *Resolver) Invalidate(ctx context.Context, gid domain.GlobalID) {
	key := gid.String()

	r.mu.Lock()
	delete(r.process, key)
	r.mu.Unlock()

	if err := r.redis.Del(ctx, cacheKeyPrefix+key).Err(); err != nil {
		r.logger.Warn("Resolver cache invalidation failed",
			logger.String("gid", key),
			logger.Error(err),
		)
	}
}
