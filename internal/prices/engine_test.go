package prices

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"token-catalog/internal/domain"
	"token-catalog/internal/storage"
	"token-catalog/internal/storage/memory"
)

// fakeSource serves canned prices keyed by lowercased address.
type fakeSource struct {
	name   string
	prices map[string]float64
	calls  int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) GetPrice(_ context.Context, chainID int64, address string) (domain.TokenPrice, bool) {
	f.calls++
	value, ok := f.prices[strings.ToLower(address)]
	if !ok {
		return domain.TokenPrice{}, false
	}
	return domain.TokenPrice{TokenAddress: strings.ToLower(address), ChainID: chainID, UsdPrice: value}, true
}

func (f *fakeSource) GetPrices(ctx context.Context, chainID int64, addresses []string) []domain.TokenPrice {
	f.calls++
	var out []domain.TokenPrice
	for _, addr := range addresses {
		if value, ok := f.prices[strings.ToLower(addr)]; ok {
			out = append(out, domain.TokenPrice{TokenAddress: strings.ToLower(addr), ChainID: chainID, UsdPrice: value})
		}
	}
	return out
}

// fakeFallback answers global lookups from a map. Lookups run
// concurrently, hence the mutex.
type fakeFallback struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  int
}

func (f *fakeFallback) GlobalPrice(_ context.Context, address string) (float64, bool) {
	f.mu.Lock()
	f.calls++
	value, ok := f.prices[strings.ToLower(address)]
	f.mu.Unlock()
	return value, ok
}

func (f *fakeFallback) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// captureHistory records InsertBulk calls.
type captureHistory struct {
	observations []*domain.PriceObservation
}

func (c *captureHistory) InsertBulk(_ context.Context, obs []*domain.PriceObservation) error {
	c.observations = append(c.observations, obs...)
	return nil
}

type engineFixture struct {
	engine  *Engine
	kv      *memory.KVStore
	lifi    *fakeSource
	oneinch *fakeSource
	dex     *fakeSource
	gecko   *fakeSource
}

func newEngineFixture(opts ...EngineOption) *engineFixture {
	f := &engineFixture{
		kv:      memory.NewKVStore(),
		lifi:    &fakeSource{name: "lifi", prices: map[string]float64{}},
		oneinch: &fakeSource{name: "oneinch", prices: map[string]float64{}},
		dex:     &fakeSource{name: "dexscreener", prices: map[string]float64{}},
		gecko:   &fakeSource{name: "geckoterminal", prices: map[string]float64{}},
	}
	f.engine = NewEngine(f.kv, f.lifi, f.oneinch, f.dex, f.gecko, opts...)
	return f
}

const addrA = "0x00000000000000000000000000000000000000aa"

func TestGetPrice_PriorityMerge(t *testing.T) {
	cases := []struct {
		name          string
		lifi, oneinch float64
		dex, gecko    float64
		want          float64
	}{
		{name: "lifi wins over all", lifi: 2, oneinch: 5, dex: 3, gecko: 7, want: 2},
		{name: "oneinch when lifi is zero", lifi: 0, oneinch: 5, dex: 3, gecko: 7, want: 5},
		{name: "dex when oneinch over ceiling", lifi: 0, oneinch: 2e9, dex: 3, gecko: 7, want: 3},
		{name: "gecko as last resort", lifi: 0, oneinch: 0, dex: 0, gecko: 7, want: 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEngineFixture()
			f.lifi.prices[addrA] = tc.lifi
			f.oneinch.prices[addrA] = tc.oneinch
			f.dex.prices[addrA] = tc.dex
			f.gecko.prices[addrA] = tc.gecko

			got := f.engine.GetPrice(context.Background(), 8453, addrA)
			if got.UsdPrice != tc.want {
				t.Fatalf("price = %v, want %v", got.UsdPrice, tc.want)
			}
		})
	}
}

func TestPriorityMerge_SingleAndBatchDiffer(t *testing.T) {
	// When lifi and 1inch both return a positive in-ceiling quote, the
	// single lookup keeps lifi but the batch merge keeps 1inch. Both
	// behaviors are pinned here; neither path should be "fixed" to
	// match the other.
	ctx := context.Background()

	single := newEngineFixture()
	single.lifi.prices[addrA] = 2
	single.oneinch.prices[addrA] = 5
	if got := single.engine.GetPrice(ctx, 8453, addrA); got.UsdPrice != 2 {
		t.Fatalf("single lookup = %v, want lifi's 2", got.UsdPrice)
	}

	batch := newEngineFixture()
	batch.lifi.prices[addrA] = 2
	batch.oneinch.prices[addrA] = 5
	got := batch.engine.GetPrices(ctx, 8453, []string{addrA})
	if len(got) != 1 || got[0].UsdPrice != 5 {
		t.Fatalf("batch lookup = %+v, want oneinch's 5", got)
	}

	// Over the ceiling the batch pass skips 1inch and lifi stands.
	capped := newEngineFixture()
	capped.lifi.prices[addrA] = 2
	capped.oneinch.prices[addrA] = 2e9
	got = capped.engine.GetPrices(ctx, 8453, []string{addrA})
	if len(got) != 1 || got[0].UsdPrice != 2 {
		t.Fatalf("batch with capped oneinch = %+v, want lifi's 2", got)
	}
}

func TestGetPrice_ZeroSentinelCached(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	got := f.engine.GetPrice(ctx, 8453, addrA)
	if got.UsdPrice != 0 {
		t.Fatalf("price = %v, want 0", got.UsdPrice)
	}

	raw, err := f.kv.Get(ctx, storage.PriceKey(8453, addrA))
	if err != nil {
		t.Fatalf("zero sentinel not in durable cache: %v", err)
	}
	var cached domain.TokenPrice
	if err := json.Unmarshal(raw, &cached); err != nil {
		t.Fatalf("decode cached price: %v", err)
	}
	if cached.UsdPrice != 0 || cached.TokenAddress != addrA {
		t.Fatalf("unexpected cached sentinel: %+v", cached)
	}

	// A second lookup is served from cache without touching sources.
	before := f.lifi.calls
	f.engine.GetPrice(ctx, 8453, addrA)
	if f.lifi.calls != before {
		t.Fatalf("cached lookup hit sources")
	}
}

func TestGetPrice_UnmappedChainShortCircuits(t *testing.T) {
	f := newEngineFixture()
	f.lifi.prices[addrA] = 123
	ctx := context.Background()

	got := f.engine.GetPrice(ctx, 999999, addrA)
	if got.UsdPrice != 0 {
		t.Fatalf("price = %v, want 0 for unmapped chain", got.UsdPrice)
	}
	if f.lifi.calls != 0 {
		t.Fatalf("unmapped chain still queried sources")
	}
	// The short circuit is not cached; a mapping added later must take
	// effect within the TTL window.
	if _, err := f.kv.Get(ctx, storage.PriceKey(999999, addrA)); err == nil {
		t.Fatalf("unmapped-chain zero was cached")
	}
}

func TestGetPrice_GlobalFallback(t *testing.T) {
	fallback := &fakeFallback{prices: map[string]float64{addrA: 0.42}}
	f := newEngineFixture(WithGlobalFallback(fallback))

	got := f.engine.GetPrice(context.Background(), 8453, addrA)
	if got.UsdPrice != 0.42 {
		t.Fatalf("price = %v, want 0.42 from fallback", got.UsdPrice)
	}
	if fallback.callCount() != 1 {
		t.Fatalf("fallback calls = %d, want 1", fallback.callCount())
	}
}

func TestGetPrice_DurableCacheSharedAcrossEngines(t *testing.T) {
	f := newEngineFixture()
	f.lifi.prices[addrA] = 9.5
	ctx := context.Background()

	first := f.engine.GetPrice(ctx, 8453, addrA)
	if first.UsdPrice != 9.5 {
		t.Fatalf("price = %v, want 9.5", first.UsdPrice)
	}

	// A fresh engine over the same store must hit the durable tier.
	other := NewEngine(f.kv,
		&fakeSource{name: "lifi", prices: map[string]float64{}},
		&fakeSource{name: "oneinch", prices: map[string]float64{}},
		&fakeSource{name: "dexscreener", prices: map[string]float64{}},
		&fakeSource{name: "geckoterminal", prices: map[string]float64{}},
	)
	second := other.GetPrice(ctx, 8453, addrA)
	if second.UsdPrice != 9.5 {
		t.Fatalf("durable cache miss: price = %v, want 9.5", second.UsdPrice)
	}
}

func TestGetPrices_BatchMergeAndCoverage(t *testing.T) {
	addrB := "0x00000000000000000000000000000000000000bb"
	addrC := "0x00000000000000000000000000000000000000cc"

	f := newEngineFixture()
	f.lifi.prices[addrA] = 1.5
	f.dex.prices[addrA] = 3.0 // loses to lifi
	f.gecko.prices[addrB] = 0.25
	// addrC is unpriced everywhere.

	got := f.engine.GetPrices(context.Background(), 8453, []string{addrA, addrB, addrC})
	if len(got) != 3 {
		t.Fatalf("results = %d, want one per requested address", len(got))
	}

	byAddr := map[string]float64{}
	for _, p := range got {
		byAddr[p.TokenAddress] = p.UsdPrice
	}
	if byAddr[addrA] != 1.5 {
		t.Fatalf("addrA = %v, want lifi's 1.5", byAddr[addrA])
	}
	if byAddr[addrB] != 0.25 {
		t.Fatalf("addrB = %v, want gecko's 0.25", byAddr[addrB])
	}
	if price, ok := byAddr[addrC]; !ok || price != 0 {
		t.Fatalf("addrC = %v (present %v), want zero sentinel", price, ok)
	}
}

func TestGetPrices_UsesCacheTiers(t *testing.T) {
	f := newEngineFixture()
	f.lifi.prices[addrA] = 2.0
	ctx := context.Background()

	f.engine.GetPrices(ctx, 8453, []string{addrA})
	batchCalls := f.lifi.calls

	got := f.engine.GetPrices(ctx, 8453, []string{addrA})
	if f.lifi.calls != batchCalls {
		t.Fatalf("second batch hit sources")
	}
	if len(got) != 1 || got[0].UsdPrice != 2.0 {
		t.Fatalf("cached batch result: %+v", got)
	}
}

func TestGetPrices_RecordsHistory(t *testing.T) {
	history := &captureHistory{}
	f := newEngineFixture(WithHistory(history))
	f.lifi.prices[addrA] = 4.2

	f.engine.GetPrices(context.Background(), 8453, []string{addrA})

	if len(history.observations) != 1 {
		t.Fatalf("observations = %d, want 1", len(history.observations))
	}
	obs := history.observations[0]
	if obs.Source != "lifi" || obs.UsdPrice != 4.2 || obs.ObservedAtMs == 0 {
		t.Fatalf("unexpected observation: %+v", obs)
	}
}

func TestGetPrices_FallbackSampleCap(t *testing.T) {
	fallback := &fakeFallback{prices: map[string]float64{}}
	f := newEngineFixture(WithGlobalFallback(fallback))

	addrs := make([]string, 30)
	for i := range addrs {
		addrs[i] = "0x" + strings.Repeat("0", 38) + string(rune('a'+i%26)) + string(rune('a'+i/26))
	}

	f.engine.GetPrices(context.Background(), 8453, addrs)
	if calls := fallback.callCount(); calls > fallbackSampleCap {
		t.Fatalf("fallback calls = %d, want at most %d", calls, fallbackSampleCap)
	}
}
