package listproviders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"token-catalog/internal/domain"
)

// DefaultLifiBaseURL is the public LI.FI API endpoint.
const DefaultLifiBaseURL = "https://li.quest"

// LifiProvider fetches token lists from the LI.FI bridge aggregator.
type LifiProvider struct {
	baseURL string
	chains  []int64
	client  *http.Client
	logger  *log.Logger
}

// LifiOption configures LifiProvider.
type LifiOption func(*LifiProvider)

// WithLifiBaseURL overrides the API base URL (used by tests).
func WithLifiBaseURL(url string) LifiOption {
	return func(p *LifiProvider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithLifiHTTPClient sets a custom http.Client.
func WithLifiHTTPClient(client *http.Client) LifiOption {
	return func(p *LifiProvider) {
		p.client = client
	}
}

// NewLifiProvider creates a LI.FI list provider for the given chains.
func NewLifiProvider(chains []int64, opts ...LifiOption) *LifiProvider {
	p := &LifiProvider{
		baseURL: DefaultLifiBaseURL,
		chains:  chains,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  log.New(os.Stdout, "[lifi] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name identifies the provider.
func (p *LifiProvider) Name() string { return "lifi" }

// lifiTokensResponse mirrors the /v1/tokens payload: tokens keyed by
// chain id as a string.
type lifiTokensResponse struct {
	Tokens map[string][]lifiToken `json:"tokens"`
}

type lifiToken struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI"`
}

// Fetch returns the LI.FI token list for the configured chains.
func (p *LifiProvider) Fetch(ctx context.Context) []domain.RawToken {
	chainParams := make([]string, len(p.chains))
	for i, c := range p.chains {
		chainParams[i] = strconv.FormatInt(c, 10)
	}
	url := fmt.Sprintf("%s/v1/tokens?chains=%s", p.baseURL, strings.Join(chainParams, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Printf("build request: %v", err)
		return nil
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Printf("fetch error: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Printf("unexpected status %d", resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logger.Printf("read body: %v", err)
		return nil
	}

	var parsed lifiTokensResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.logger.Printf("decode response: %v", err)
		return nil
	}

	var tokens []domain.RawToken
	for chainStr, chainTokens := range parsed.Tokens {
		chainID, err := strconv.ParseInt(chainStr, 10, 64)
		if err != nil {
			p.logger.Printf("skip unparseable chain key %q", chainStr)
			continue
		}
		for _, t := range chainTokens {
			tokens = append(tokens, domain.RawToken{
				ChainID:  chainID,
				Address:  t.Address,
				Name:     t.Name,
				Symbol:   t.Symbol,
				Decimals: t.Decimals,
				LogoURL:  t.LogoURI,
			})
		}
	}

	p.logger.Printf("fetched %d tokens", len(tokens))
	return tokens
}

var _ Provider = (*LifiProvider)(nil)
