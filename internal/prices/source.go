// Package prices resolves USD token prices by merging four upstream
// market data sources under a fixed priority order, with a two-tier
// cache in front: a small process-local map for hot keys and the
// shared durable store for everything else.
package prices

import (
	"context"
	"sync"
	"time"

	"token-catalog/internal/domain"
)

// Source is one upstream price feed. Implementations never surface
// transport errors; a feed that is down simply reports no prices.
type Source interface {
	// Name identifies the source in logs and history records.
	Name() string

	// GetPrice resolves a single token. ok=false means the source has
	// no usable price for it.
	GetPrice(ctx context.Context, chainID int64, address string) (domain.TokenPrice, bool)

	// GetPrices resolves a batch. Tokens the source cannot price are
	// simply absent from the result.
	GetPrices(ctx context.Context, chainID int64, addresses []string) []domain.TokenPrice
}

// Chain id to URL slug mappings for the DEX aggregator APIs. A chain
// missing from the DexScreener map is considered unpriceable and
// short-circuits to the zero sentinel.
var (
	dexscreenerSlugs = map[int64]string{
		1:     "ethereum",
		10:    "optimism",
		56:    "bsc",
		137:   "polygon",
		143:   "monad",
		1135:  "lisk",
		8453:  "base",
		42161: "arbitrum",
		42220: "celo",
		43114: "avalanche",
	}

	geckoterminalSlugs = map[int64]string{
		1:     "eth",
		10:    "optimism",
		56:    "bsc",
		137:   "polygon_pos",
		143:   "monad",
		1135:  "lisk",
		8453:  "base",
		42161: "arbitrum",
		42220: "celo",
		43114: "avax",
	}
)

// ChainIsPriceable reports whether any source covers the chain.
func ChainIsPriceable(chainID int64) bool {
	_, ok := dexscreenerSlugs[chainID]
	return ok
}

// localCache is the process-local price tier. Entries expire quickly;
// it only shields the durable store from bursts of repeated lookups
// within a single catalog operation.
type localCache struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	ttl     time.Duration
	now     func() time.Time
}

type localEntry struct {
	price     domain.TokenPrice
	expiresAt time.Time
}

func newLocalCache(ttl time.Duration) *localCache {
	return &localCache{
		entries: make(map[string]localEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *localCache) get(key string) (domain.TokenPrice, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return domain.TokenPrice{}, false
	}
	return entry.price, true
}

func (c *localCache) set(key string, price domain.TokenPrice) {
	c.mu.Lock()
	c.entries[key] = localEntry{price: price, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
