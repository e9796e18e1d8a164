package prices

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"token-catalog/internal/domain"
	"token-catalog/internal/observability"
	"token-catalog/internal/storage"
)

const (
	// DurableTTL is how long resolved prices live in the shared store.
	DurableTTL = 5 * time.Minute

	// DefaultLocalTTL is the process-local cache lifetime.
	DefaultLocalTTL = 30 * time.Second

	// DefaultMaxExchangePrice is the sanity ceiling on 1inch quotes.
	// The stablecoin anchor conversion can blow up on thin pairs, and
	// anything above this is noise, not a price.
	DefaultMaxExchangePrice = 1e9

	fallbackSampleCap = 20
	fallbackChunkSize = 10
)

// GlobalFallback is the chain-agnostic last resort lookup.
type GlobalFallback interface {
	GlobalPrice(ctx context.Context, address string) (float64, bool)
}

// Engine resolves USD prices through a two-tier cache and a fixed
// source priority: lifi, then 1inch (under the sanity ceiling), then
// dexscreener, then geckoterminal. A token no source can price gets
// the zero sentinel, which is cached like any other result.
type Engine struct {
	kv       storage.KVStore
	lifi     Source
	oneinch  Source
	dex      Source
	gecko    Source
	fallback GlobalFallback
	history  storage.PriceHistoryStore
	local    *localCache
	logger   *log.Logger

	maxExchangePrice float64
	now              func() time.Time
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithHistory records every freshly resolved price to the given store.
func WithHistory(history storage.PriceHistoryStore) EngineOption {
	return func(e *Engine) { e.history = history }
}

// WithMaxExchangePrice overrides the 1inch sanity ceiling.
func WithMaxExchangePrice(ceiling float64) EngineOption {
	return func(e *Engine) { e.maxExchangePrice = ceiling }
}

// WithLocalTTL overrides the process-local cache lifetime.
func WithLocalTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) { e.local = newLocalCache(ttl) }
}

// WithGlobalFallback overrides the chain-agnostic last resort lookup.
func WithGlobalFallback(fallback GlobalFallback) EngineOption {
	return func(e *Engine) { e.fallback = fallback }
}

// NewEngine creates a price engine over the four sources. When the
// dexscreener source supports global lookups it doubles as the default
// chain-agnostic fallback.
func NewEngine(kv storage.KVStore, lifi, oneinch, dex, gecko Source, opts ...EngineOption) *Engine {
	e := &Engine{
		kv:               kv,
		lifi:             lifi,
		oneinch:          oneinch,
		dex:              dex,
		gecko:            gecko,
		local:            newLocalCache(DefaultLocalTTL),
		logger:           log.New(os.Stdout, "[prices] ", log.LstdFlags),
		maxExchangePrice: DefaultMaxExchangePrice,
		now:              time.Now,
	}
	if fb, ok := dex.(GlobalFallback); ok {
		e.fallback = fb
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetPrice resolves one token. It always produces a result; a token no
// source can price comes back with UsdPrice 0.
func (e *Engine) GetPrice(ctx context.Context, chainID int64, address string) domain.TokenPrice {
	addr := strings.ToLower(address)
	key := storage.PriceKey(chainID, addr)

	if price, ok := e.local.get(key); ok {
		return price
	}
	if price, ok := e.readDurable(ctx, key); ok {
		e.local.set(key, price)
		return price
	}

	if !ChainIsPriceable(chainID) {
		return domain.TokenPrice{TokenAddress: addr, ChainID: chainID, UsdPrice: 0}
	}

	var wg sync.WaitGroup
	var fromLifi, fromOneInch, fromDex, fromGecko domain.TokenPrice
	var okLifi, okOneInch, okDex, okGecko bool
	lookups := []struct {
		source Source
		out    *domain.TokenPrice
		ok     *bool
	}{
		{e.lifi, &fromLifi, &okLifi},
		{e.oneinch, &fromOneInch, &okOneInch},
		{e.dex, &fromDex, &okDex},
		{e.gecko, &fromGecko, &okGecko},
	}
	for _, l := range lookups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			*l.out, *l.ok = l.source.GetPrice(ctx, chainID, addr)
		}()
	}
	wg.Wait()

	value, source := 0.0, "none"
	switch {
	case okLifi && fromLifi.UsdPrice > 0:
		value, source = fromLifi.UsdPrice, e.lifi.Name()
	case okOneInch && fromOneInch.UsdPrice > 0 && fromOneInch.UsdPrice < e.maxExchangePrice:
		value, source = fromOneInch.UsdPrice, e.oneinch.Name()
	case okDex && fromDex.UsdPrice > 0:
		value, source = fromDex.UsdPrice, e.dex.Name()
	case okGecko && fromGecko.UsdPrice > 0:
		value, source = fromGecko.UsdPrice, e.gecko.Name()
	}

	if value == 0 && e.fallback != nil {
		if global, ok := e.fallback.GlobalPrice(ctx, addr); ok && global > 0 {
			value, source = global, "fallback"
		}
	}

	price := domain.TokenPrice{TokenAddress: addr, ChainID: chainID, UsdPrice: value}
	e.writeBack(ctx, []resolved{{price: price, source: source}})
	return price
}

// GetPrices resolves a batch. The result has one entry per requested
// address; order is not guaranteed.
func (e *Engine) GetPrices(ctx context.Context, chainID int64, addresses []string) []domain.TokenPrice {
	if len(addresses) == 0 {
		return nil
	}

	results := make([]domain.TokenPrice, 0, len(addresses))
	var missing []string
	for _, address := range addresses {
		addr := strings.ToLower(address)
		if price, ok := e.local.get(storage.PriceKey(chainID, addr)); ok {
			results = append(results, price)
		} else {
			missing = append(missing, addr)
		}
	}
	if len(missing) == 0 {
		return results
	}

	missing = e.drainDurable(ctx, chainID, missing, &results)
	if len(missing) == 0 {
		return results
	}

	if !ChainIsPriceable(chainID) {
		for _, addr := range missing {
			results = append(results, domain.TokenPrice{TokenAddress: addr, ChainID: chainID, UsdPrice: 0})
		}
		return results
	}

	fetched := e.fetchBatch(ctx, chainID, missing)
	e.writeBack(ctx, fetched)

	for _, r := range fetched {
		results = append(results, r.price)
	}
	return results
}

// drainDurable moves durable cache hits into results and returns the
// addresses still unresolved.
func (e *Engine) drainDurable(ctx context.Context, chainID int64, addrs []string, results *[]domain.TokenPrice) []string {
	keys := make([]string, len(addrs))
	for i, addr := range addrs {
		keys[i] = storage.PriceKey(chainID, addr)
	}

	values, err := e.kv.MGet(ctx, keys)
	if err != nil {
		e.logger.Printf("durable batch read failed: %v", err)
		return addrs
	}

	var still []string
	for i, raw := range values {
		if raw == nil {
			still = append(still, addrs[i])
			continue
		}
		var price domain.TokenPrice
		if err := json.Unmarshal(raw, &price); err != nil {
			still = append(still, addrs[i])
			continue
		}
		e.local.set(keys[i], price)
		*results = append(*results, price)
	}
	return still
}

// resolved pairs a final price with the source that produced it.
type resolved struct {
	price  domain.TokenPrice
	source string
}

// fetchBatch queries all four sources concurrently and merges by
// priority, then sends a bounded sample of still-unpriced tokens
// through the chain-agnostic fallback.
func (e *Engine) fetchBatch(ctx context.Context, chainID int64, addrs []string) []resolved {
	var wg sync.WaitGroup
	var lifiRes, oneinchRes, dexRes, geckoRes []domain.TokenPrice
	batches := []struct {
		source Source
		out    *[]domain.TokenPrice
	}{
		{e.lifi, &lifiRes},
		{e.oneinch, &oneinchRes},
		{e.dex, &dexRes},
		{e.gecko, &geckoRes},
	}
	for _, b := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			*b.out = b.source.GetPrices(ctx, chainID, addrs)
		}()
	}
	wg.Wait()

	merged := make(map[string]resolved, len(addrs))
	order := make([]string, len(addrs))
	for i, addr := range addrs {
		order[i] = addr
		merged[addr] = resolved{
			price:  domain.TokenPrice{TokenAddress: addr, ChainID: chainID, UsdPrice: 0},
			source: "none",
		}
	}

	// Lowest priority first; later writes overwrite earlier ones.
	// The 1inch pass runs after lifi, so in the batch path a positive
	// in-ceiling 1inch quote replaces a lifi one. Single lookups
	// resolve the other way (lifi first). The asymmetry is
	// intentional; do not align the two paths.
	for _, p := range geckoRes {
		e.mergeInto(merged, p, e.gecko.Name(), false)
	}
	for _, p := range dexRes {
		e.mergeInto(merged, p, e.dex.Name(), false)
	}
	for _, p := range lifiRes {
		e.mergeInto(merged, p, e.lifi.Name(), true)
	}
	for _, p := range oneinchRes {
		if p.UsdPrice < e.maxExchangePrice {
			e.mergeInto(merged, p, e.oneinch.Name(), true)
		}
	}

	e.applyGlobalFallback(ctx, merged, order)

	out := make([]resolved, 0, len(order))
	for _, addr := range order {
		out = append(out, merged[addr])
	}
	return out
}

// mergeInto applies one source result. positiveOnly sources may not
// overwrite with a zero.
func (e *Engine) mergeInto(merged map[string]resolved, p domain.TokenPrice, source string, positiveOnly bool) {
	addr := strings.ToLower(p.TokenAddress)
	if _, requested := merged[addr]; !requested {
		return
	}
	if positiveOnly && p.UsdPrice <= 0 {
		return
	}
	p.TokenAddress = addr
	merged[addr] = resolved{price: p, source: source}
}

// applyGlobalFallback resolves a capped sample of zero-priced tokens
// through the chain-agnostic lookup, in small concurrent chunks.
func (e *Engine) applyGlobalFallback(ctx context.Context, merged map[string]resolved, order []string) {
	if e.fallback == nil {
		return
	}

	var zeros []string
	for _, addr := range order {
		if merged[addr].price.UsdPrice == 0 {
			zeros = append(zeros, addr)
		}
	}
	if len(zeros) == 0 {
		return
	}
	if len(zeros) > fallbackSampleCap {
		zeros = zeros[:fallbackSampleCap]
	}

	var mu sync.Mutex
	for start := 0; start < len(zeros); start += fallbackChunkSize {
		end := min(start+fallbackChunkSize, len(zeros))

		var wg sync.WaitGroup
		for _, addr := range zeros[start:end] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				value, ok := e.fallback.GlobalPrice(ctx, addr)
				if !ok || value <= 0 {
					return
				}
				mu.Lock()
				entry := merged[addr]
				entry.price.UsdPrice = value
				entry.source = "fallback"
				merged[addr] = entry
				mu.Unlock()
			}()
		}
		wg.Wait()
	}
}

// writeBack populates both cache tiers and, when configured, records
// observations to the history store. All writes are best effort.
func (e *Engine) writeBack(ctx context.Context, batch []resolved) {
	entries := make([]storage.Entry, 0, len(batch))
	for _, r := range batch {
		observability.RecordPriceLookup(r.source)
		key := storage.PriceKey(r.price.ChainID, r.price.TokenAddress)
		e.local.set(key, r.price)

		payload, err := json.Marshal(r.price)
		if err != nil {
			continue
		}
		entries = append(entries, storage.Entry{Key: key, Value: payload, TTL: DurableTTL})
	}
	if len(entries) > 0 {
		if err := e.kv.SetBatch(ctx, entries); err != nil {
			e.logger.Printf("durable write failed for %d prices: %v", len(entries), err)
		}
	}

	if e.history == nil {
		return
	}
	nowMs := e.now().UnixMilli()
	observations := make([]*domain.PriceObservation, 0, len(batch))
	for _, r := range batch {
		observations = append(observations, &domain.PriceObservation{
			TokenAddress: r.price.TokenAddress,
			ChainID:      r.price.ChainID,
			UsdPrice:     r.price.UsdPrice,
			Source:       r.source,
			ObservedAtMs: nowMs,
		})
	}
	if err := e.history.InsertBulk(ctx, observations); err != nil {
		e.logger.Printf("history write failed for %d observations: %v", len(observations), err)
	}
}

func (e *Engine) readDurable(ctx context.Context, key string) (domain.TokenPrice, bool) {
	raw, err := e.kv.Get(ctx, key)
	if err != nil {
		return domain.TokenPrice{}, false
	}
	var price domain.TokenPrice
	if err := json.Unmarshal(raw, &price); err != nil {
		return domain.TokenPrice{}, false
	}
	return price, true
}
