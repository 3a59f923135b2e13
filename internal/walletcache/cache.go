// Package walletcache is the per-(mint,unit) wallet object cache (§4.4):
// an in-process TTL cache backed by an optional Redis L2, with
// singleflight build deduplication so concurrent callers for the same
// (mint, unit) never trigger redundant keyset loads.
package walletcache

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/lerianwallet/ecash-core/internal/repository"
	"github.com/lerianwallet/ecash-core/pkg/merrors"
	"github.com/lerianwallet/ecash-core/pkg/mlog"
	"github.com/lerianwallet/ecash-core/pkg/walletcore"
)

// Wallet is the cached, ready-to-use view of one (mint, unit) pair: its
// keysets, with the cheapest active one already selected (§4.4).
type Wallet struct {
	Mint         string             `json:"mint"`
	Unit         string             `json:"unit"`
	Keysets      []walletcore.Keyset `json:"keysets"`
	ActiveKeyset walletcore.Keyset   `json:"active_keyset"`
}

// ttl is the cache entry lifetime; the spec ties it to the same mint info
// refresh window as Mint.Stale (§3 Mint lifecycle).
const ttl = walletcore.MintInfoTTL

// Cache is the L1 (in-process) + optional L2 (Redis) wallet object cache.
type Cache struct {
	local  *lru.LRU[string, Wallet]
	redis  *redis.Client
	group  singleflight.Group
	store  repository.Store
	logger mlog.Logger
}

// New builds a Cache. redisClient may be nil to run L1-only.
func New(store repository.Store, redisClient *redis.Client, logger mlog.Logger) *Cache {
	return &Cache{
		local:  lru.NewLRU[string, Wallet](256, nil, ttl),
		redis:  redisClient,
		store:  store,
		logger: logger,
	}
}

func cacheKey(mint, unit string) string { return mint + "|" + unit }

// GetWallet returns the cached Wallet for (mint, unit), building it from
// the KeysetRepository on a cache miss. Concurrent misses for the same key
// are deduplicated via singleflight (§4.4).
func (c *Cache) GetWallet(ctx context.Context, mint, unit string) (Wallet, error) {
	key := cacheKey(mint, unit)

	if w, ok := c.local.Get(key); ok {
		return w, nil
	}

	if c.redis != nil {
		if w, ok := c.getRedis(ctx, key); ok {
			c.local.Add(key, w)
			return w, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.build(ctx, mint, unit)
	})
	if err != nil {
		return Wallet{}, err
	}

	w := v.(Wallet)

	c.local.Add(key, w)
	c.setRedis(ctx, key, w)

	return w, nil
}

// Invalidate drops (mint, unit) from both cache tiers so the next GetWallet
// rebuilds it from the KeysetRepository (§4.4). Nothing in this module
// calls it on events such as MintUpdated; callers invoke it directly.
func (c *Cache) Invalidate(ctx context.Context, mint, unit string) {
	key := cacheKey(mint, unit)

	c.local.Remove(key)

	if c.redis != nil {
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			c.logger.Warnf("walletcache: redis invalidate %s failed: %v", key, err)
		}
	}
}

func (c *Cache) build(ctx context.Context, mint, unit string) (Wallet, error) {
	keysets, err := c.store.Keysets().ListByMint(ctx, mint)
	if err != nil {
		return Wallet{}, err
	}

	unitKeysets := make([]walletcore.Keyset, 0, len(keysets))

	for _, k := range keysets {
		if k.Unit == unit {
			unitKeysets = append(unitKeysets, k)
		}
	}

	if len(unitKeysets) == 0 {
		return Wallet{}, merrors.EntityNotFoundError{EntityType: "keyset", Key: mint + "/" + unit}
	}

	active, err := SelectCheapestActive(unitKeysets)
	if err != nil {
		return Wallet{}, err
	}

	return Wallet{Mint: mint, Unit: unit, Keysets: unitKeysets, ActiveKeyset: active}, nil
}

func (c *Cache) getRedis(ctx context.Context, key string) (Wallet, bool) {
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warnf("walletcache: redis get %s failed: %v", key, err)
		}

		return Wallet{}, false
	}

	var w Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		c.logger.Warnf("walletcache: redis entry %s corrupt: %v", key, err)
		return Wallet{}, false
	}

	return w, true
}

func (c *Cache) setRedis(ctx context.Context, key string, w Wallet) {
	if c.redis == nil {
		return
	}

	raw, err := json.Marshal(w)
	if err != nil {
		c.logger.Warnf("walletcache: marshal %s failed: %v", key, err)
		return
	}

	if err := c.redis.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warnf("walletcache: redis set %s failed: %v", key, err)
	}
}

// SelectCheapestActive picks the active keyset with the lowest per-input
// fee among keysets, breaking ties by the most recently created (§4.4
// keyset selection: "cheapest by fee").
func SelectCheapestActive(keysets []walletcore.Keyset) (walletcore.Keyset, error) {
	var best walletcore.Keyset

	found := false

	for _, k := range keysets {
		if !k.Active {
			continue
		}

		switch {
		case !found:
			best, found = k, true
		case k.FeePPK < best.FeePPK:
			best = k
		case k.FeePPK == best.FeePPK && k.CreatedAt.After(best.CreatedAt):
			best = k
		}
	}

	if !found {
		return walletcore.Keyset{}, fmt.Errorf("no active keyset among %d candidates", len(keysets))
	}

	return best, nil
}
