package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"token-catalog/internal/aggregator"
	"token-catalog/internal/domain"
	"token-catalog/internal/listproviders"
	"token-catalog/internal/storage"
	"token-catalog/internal/storage/memory"
)

// stubProvider feeds the aggregator in tests.
type stubProvider struct {
	tokens []domain.RawToken
	calls  int
}

func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) Fetch(_ context.Context) []domain.RawToken {
	s.calls++
	return s.tokens
}

// stubReader serves on-chain metadata from a map.
type stubReader struct {
	metadata map[string]domain.OnChainMetadata
}

func (r *stubReader) ReadTokenMetadata(_ context.Context, address string, chainID int64) (domain.OnChainMetadata, bool) {
	m, ok := r.metadata[domain.TokenID(address, chainID)]
	return m, ok
}

func newTestService(provider *stubProvider, reader *stubReader) (*Service, *memory.KVStore) {
	kv := memory.NewKVStore()
	agg := aggregator.New([]listproviders.Provider{provider})
	if reader == nil {
		reader = &stubReader{}
	}
	return NewService(kv, agg, reader), kv
}

func raw(chainID int64, address, name string) domain.RawToken {
	return domain.RawToken{ChainID: chainID, Address: address, Name: name, Symbol: name, Decimals: 18}
}

func TestGetTokens_ValidatedWins(t *testing.T) {
	provider := &stubProvider{tokens: []domain.RawToken{
		raw(8453, "0x0000000000000000000000000000000000000001", "Unvalidated"),
	}}
	svc, kv := newTestService(provider, nil)
	ctx := context.Background()

	validated := []domain.Token{domain.WithID(raw(8453, "0x0000000000000000000000000000000000000002", "Validated"))}
	payload, _ := json.Marshal(validated)
	if err := kv.Set(ctx, storage.KeyValidatedTokens, payload, 0); err != nil {
		t.Fatalf("seed validated: %v", err)
	}

	got := svc.GetTokens(ctx)
	if len(got) != 1 || got[0].Name != "Validated" {
		t.Fatalf("expected validated tier to win, got %+v", got)
	}
	if provider.calls != 0 {
		t.Errorf("aggregation must not run when validated cache hits")
	}
}

func TestGetTokens_FreshUnvalidatedServed(t *testing.T) {
	provider := &stubProvider{tokens: []domain.RawToken{
		raw(8453, "0x0000000000000000000000000000000000000001", "New"),
	}}
	svc, kv := newTestService(provider, nil)
	ctx := context.Background()

	cached := []domain.PositionedToken{
		{Token: domain.WithID(raw(8453, "0x0000000000000000000000000000000000000009", "Cached")), Position: 0},
	}
	payload, _ := json.Marshal(cached)
	if err := kv.Set(ctx, storage.KeyUnvalidatedTokens, payload, 0); err != nil {
		t.Fatalf("seed unvalidated: %v", err)
	}
	lastSync := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := kv.Set(ctx, storage.KeyLastSync, []byte(lastSync), 0); err != nil {
		t.Fatalf("seed last sync: %v", err)
	}

	got := svc.GetTokens(ctx)
	if len(got) != 1 || got[0].Name != "Cached" {
		t.Fatalf("expected unvalidated tier, got %+v", got)
	}
	if provider.calls != 0 {
		t.Errorf("aggregation must not run when unvalidated is fresh")
	}
}

func TestGetTokens_StaleTriggersAggregation(t *testing.T) {
	provider := &stubProvider{tokens: []domain.RawToken{
		raw(8453, "0x0000000000000000000000000000000000000001", "Fresh"),
	}}
	svc, kv := newTestService(provider, nil)
	ctx := context.Background()

	// Stale sync stamp: 4 days old, past RefreshAfter.
	stale := strconv.FormatInt(time.Now().Add(-4*24*time.Hour).UnixMilli(), 10)
	if err := kv.Set(ctx, storage.KeyLastSync, []byte(stale), 0); err != nil {
		t.Fatalf("seed last sync: %v", err)
	}

	got := svc.GetTokens(ctx)
	if len(got) != 1 || got[0].Name != "Fresh" {
		t.Fatalf("expected fresh aggregation, got %+v", got)
	}
	if provider.calls != 1 {
		t.Errorf("expected exactly one aggregation run, got %d", provider.calls)
	}

	// The run must have repopulated the unvalidated namespace with positions.
	rawCached, err := kv.Get(ctx, storage.KeyUnvalidatedTokens)
	if err != nil {
		t.Fatalf("unvalidated not written: %v", err)
	}
	var positioned []domain.PositionedToken
	if err := json.Unmarshal(rawCached, &positioned); err != nil {
		t.Fatalf("decode unvalidated: %v", err)
	}
	if len(positioned) != 1 || positioned[0].Position != 0 {
		t.Errorf("positions missing from cached unvalidated list: %+v", positioned)
	}
}

func TestGetTokens_PositionsStrippedFromResponse(t *testing.T) {
	provider := &stubProvider{tokens: []domain.RawToken{
		raw(8453, "0x0000000000000000000000000000000000000001", "T"),
	}}
	svc, _ := newTestService(provider, nil)

	got := svc.GetTokens(context.Background())
	payload, _ := json.Marshal(got)
	if string(payload) != "" && containsField(payload, "pst") {
		t.Errorf("position field leaked into API tokens: %s", payload)
	}
}

func containsField(payload []byte, field string) bool {
	var decoded []map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return false
	}
	for _, m := range decoded {
		if _, ok := m[field]; ok {
			return true
		}
	}
	return false
}

func TestGetTokensByChain_DerivedCache(t *testing.T) {
	provider := &stubProvider{tokens: []domain.RawToken{
		raw(8453, "0x0000000000000000000000000000000000000001", "Base"),
		raw(1135, "0x0000000000000000000000000000000000000002", "Lisk"),
	}}
	svc, kv := newTestService(provider, nil)
	ctx := context.Background()

	got := svc.GetTokensByChain(ctx, 8453)
	if len(got) != 1 || got[0].Name != "Base" {
		t.Fatalf("expected only chain 8453 tokens, got %+v", got)
	}

	// The derived view must now be cached.
	if _, err := kv.Get(ctx, storage.ChainListKey(8453)); err != nil {
		t.Errorf("chain list not cached: %v", err)
	}

	// A second call is served from the derived cache (no new aggregation).
	calls := provider.calls
	svc.GetTokensByChain(ctx, 8453)
	if provider.calls != calls {
		t.Errorf("second chain read should hit the derived cache")
	}
}

func TestGetTokenDetails_FallsBackToChain(t *testing.T) {
	provider := &stubProvider{}
	address := "0x00000000000000000000000000000000000000aa"
	reader := &stubReader{metadata: map[string]domain.OnChainMetadata{
		domain.TokenID(address, 8453): {Name: "OnChain", Symbol: "OC", Decimals: 8},
	}}
	svc, kv := newTestService(provider, reader)
	ctx := context.Background()

	token, ok := svc.GetTokenDetails(ctx, address, 8453)
	if !ok {
		t.Fatal("expected on-chain fallback to resolve")
	}
	if token.Name != "OnChain" || token.Decimals != 8 {
		t.Errorf("unexpected token: %+v", token)
	}

	// Metadata must be cached for next time.
	if _, err := kv.Get(ctx, storage.MetadataKey(8453, address)); err != nil {
		t.Errorf("metadata not cached: %v", err)
	}

	// Unknown token resolves to absent, not an error.
	if _, ok := svc.GetTokenDetails(ctx, "0x00000000000000000000000000000000000000bb", 8453); ok {
		t.Error("expected unknown token to be absent")
	}
}

func TestSearchTokens_TextAndAddress(t *testing.T) {
	provider := &stubProvider{tokens: []domain.RawToken{
		raw(8453, "0x0000000000000000000000000000000000000001", "Wrapped Ether"),
		raw(8453, "0x0000000000000000000000000000000000000002", "USD Coin"),
	}}
	svc, _ := newTestService(provider, nil)
	ctx := context.Background()

	results := svc.SearchTokens(ctx, 8453, "ether")
	if len(results) != 1 || results[0].Name != "Wrapped Ether" {
		t.Fatalf("text search failed: %+v", results)
	}

	results = svc.SearchTokens(ctx, 8453, "0x0000000000000000000000000000000000000002")
	if len(results) != 1 || results[0].Name != "USD Coin" {
		t.Fatalf("address search failed: %+v", results)
	}

	if results := svc.SearchTokens(ctx, 8453, "   "); results != nil {
		t.Errorf("blank query should return nil, got %+v", results)
	}
}
