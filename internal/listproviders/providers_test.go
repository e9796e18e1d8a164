package listproviders

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLifiProvider_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tokens" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("chains") != "8453,1135" {
			t.Errorf("unexpected chains param %s", r.URL.Query().Get("chains"))
		}
		w.Write([]byte(`{
			"tokens": {
				"8453": [
					{"address": "0xAbC0000000000000000000000000000000000001", "name": "Token A", "symbol": "TKA", "decimals": 18, "logoURI": "https://x/a.png"}
				],
				"1135": [
					{"address": "0xDef0000000000000000000000000000000000002", "name": "Token B", "symbol": "TKB", "decimals": 6}
				]
			}
		}`))
	}))
	defer server.Close()

	provider := NewLifiProvider([]int64{8453, 1135}, WithLifiBaseURL(server.URL))
	tokens := provider.Fetch(context.Background())

	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}

	byChain := make(map[int64]int)
	for _, tok := range tokens {
		byChain[tok.ChainID]++
	}
	if byChain[8453] != 1 || byChain[1135] != 1 {
		t.Errorf("unexpected chain distribution: %v", byChain)
	}
}

func TestLifiProvider_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := NewLifiProvider([]int64{8453}, WithLifiBaseURL(server.URL))
	tokens := provider.Fetch(context.Background())

	if len(tokens) != 0 {
		t.Errorf("expected empty list on upstream error, got %d tokens", len(tokens))
	}
}

func TestLifiProvider_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tokens": "not-an-object"`))
	}))
	defer server.Close()

	provider := NewLifiProvider([]int64{8453}, WithLifiBaseURL(server.URL))
	if tokens := provider.Fetch(context.Background()); len(tokens) != 0 {
		t.Errorf("expected empty list on malformed body, got %d tokens", len(tokens))
	}
}

func TestOneInchProvider_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing authorization header")
		}
		w.Write([]byte(`[
			{"address": "0x1110000000000000000000000000000000000001", "name": "One", "symbol": "ONE", "decimals": 18},
			{"address": "0x2220000000000000000000000000000000000002", "name": "Two", "symbol": "TWO", "decimals": 8}
		]`))
	}))
	defer server.Close()

	provider := NewOneInchProvider("test-key", WithOneInchBaseURL(server.URL))
	tokens := provider.Fetch(context.Background())

	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].ChainID != 8453 {
		t.Errorf("expected chain 8453, got %d", tokens[0].ChainID)
	}
}

func TestOneInchProvider_WrappedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tokens": [{"address": "0x3330000000000000000000000000000000000003", "name": "Three", "symbol": "THREE", "decimals": 18}]}`))
	}))
	defer server.Close()

	provider := NewOneInchProvider("test-key", WithOneInchBaseURL(server.URL))
	tokens := provider.Fetch(context.Background())

	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(tokens))
	}
}

func TestOneInchProvider_NoAPIKey(t *testing.T) {
	provider := NewOneInchProvider("")
	if tokens := provider.Fetch(context.Background()); len(tokens) != 0 {
		t.Errorf("expected empty list without API key, got %d tokens", len(tokens))
	}
}

func TestStaticProvider_Fetch(t *testing.T) {
	provider := NewStaticProvider()
	tokens := provider.Fetch(context.Background())

	if len(tokens) == 0 {
		t.Fatal("embedded list should not be empty")
	}

	for _, tok := range tokens {
		if tok.Address == "" || tok.Symbol == "" || tok.ChainID == 0 {
			t.Errorf("incomplete token in embedded list: %+v", tok)
		}
	}
}
