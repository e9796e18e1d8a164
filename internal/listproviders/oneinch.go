package listproviders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"token-catalog/internal/domain"
)

// DefaultOneInchBaseURL is the 1inch developer API endpoint.
const DefaultOneInchBaseURL = "https://api.1inch.dev/token"

// OneInchSupportedChains lists the chains 1inch serves token lists for.
// Lisk is not supported.
var OneInchSupportedChains = []int64{domain.ChainBase}

// OneInchProvider fetches per-chain token lists from the 1inch exchange
// aggregator. Requires an API key; without one it degrades to an empty
// list.
type OneInchProvider struct {
	baseURL string
	apiKey  string
	chains  []int64
	client  *http.Client
	logger  *log.Logger
}

// OneInchOption configures OneInchProvider.
type OneInchOption func(*OneInchProvider)

// WithOneInchBaseURL overrides the API base URL (used by tests).
func WithOneInchBaseURL(url string) OneInchOption {
	return func(p *OneInchProvider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithOneInchHTTPClient sets a custom http.Client.
func WithOneInchHTTPClient(client *http.Client) OneInchOption {
	return func(p *OneInchProvider) {
		p.client = client
	}
}

// NewOneInchProvider creates a 1inch list provider.
func NewOneInchProvider(apiKey string, opts ...OneInchOption) *OneInchProvider {
	p := &OneInchProvider{
		baseURL: DefaultOneInchBaseURL,
		apiKey:  apiKey,
		chains:  OneInchSupportedChains,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  log.New(os.Stdout, "[1inch] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name identifies the provider.
func (p *OneInchProvider) Name() string { return "1inch" }

type oneInchToken struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI"`
}

// Fetch returns 1inch token lists for all supported chains.
func (p *OneInchProvider) Fetch(ctx context.Context) []domain.RawToken {
	if p.apiKey == "" {
		p.logger.Printf("no API key provided, skipping")
		return nil
	}

	var tokens []domain.RawToken
	for _, chainID := range p.chains {
		tokens = append(tokens, p.fetchChain(ctx, chainID)...)
	}

	p.logger.Printf("fetched %d tokens", len(tokens))
	return tokens
}

func (p *OneInchProvider) fetchChain(ctx context.Context, chainID int64) []domain.RawToken {
	url := fmt.Sprintf("%s/v1.2/%d/token-list?provider=1inch", p.baseURL, chainID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Printf("chain %d: build request: %v", chainID, err)
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Printf("chain %d: fetch error: %v", chainID, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Printf("chain %d: unexpected status %d", chainID, resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logger.Printf("chain %d: read body: %v", chainID, err)
		return nil
	}

	// The endpoint has returned both a bare array and a {"tokens": [...]}
	// wrapper; accept either shape.
	var list []oneInchToken
	if err := json.Unmarshal(body, &list); err != nil {
		var wrapped struct {
			Tokens []oneInchToken `json:"tokens"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			p.logger.Printf("chain %d: unexpected response format", chainID)
			return nil
		}
		list = wrapped.Tokens
	}

	tokens := make([]domain.RawToken, 0, len(list))
	for _, t := range list {
		tokens = append(tokens, domain.RawToken{
			ChainID:  chainID,
			Address:  t.Address,
			Name:     t.Name,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
			LogoURL:  t.LogoURI,
		})
	}
	return tokens
}

var _ Provider = (*OneInchProvider)(nil)
