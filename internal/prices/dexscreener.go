package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"token-catalog/internal/domain"
)

// DefaultDexScreenerBaseURL is the public DexScreener API endpoint.
const DefaultDexScreenerBaseURL = "https://api.dexscreener.com"

const (
	dexscreenerChunkSize  = 30
	dexscreenerChunkDelay = 100 * time.Millisecond
)

// DexScreenerSource resolves prices from DexScreener pair data. It
// also serves as the chain-agnostic fallback: GlobalPrice searches
// every indexed chain for the address and takes the deepest pool.
type DexScreenerSource struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

// DexScreenerOption configures DexScreenerSource.
type DexScreenerOption func(*DexScreenerSource)

// WithDexScreenerBaseURL overrides the API base URL (used by tests).
func WithDexScreenerBaseURL(url string) DexScreenerOption {
	return func(s *DexScreenerSource) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithDexScreenerHTTPClient sets a custom http.Client.
func WithDexScreenerHTTPClient(client *http.Client) DexScreenerOption {
	return func(s *DexScreenerSource) {
		s.client = client
	}
}

// NewDexScreenerSource creates a DexScreener price source.
func NewDexScreenerSource(opts ...DexScreenerOption) *DexScreenerSource {
	s := &DexScreenerSource{
		baseURL: DefaultDexScreenerBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  log.New(os.Stdout, "[dexscreener] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the source.
func (s *DexScreenerSource) Name() string { return "dexscreener" }

// dexPair is the subset of a DexScreener pair we read.
type dexPair struct {
	PriceUsd  string `json:"priceUsd"`
	BaseToken struct {
		Address string `json:"address"`
	} `json:"baseToken"`
	Liquidity struct {
		Usd float64 `json:"usd"`
	} `json:"liquidity"`
}

// GetPrice resolves one token from its first (most relevant) pair.
func (s *DexScreenerSource) GetPrice(ctx context.Context, chainID int64, address string) (domain.TokenPrice, bool) {
	slug, ok := dexscreenerSlugs[chainID]
	if !ok {
		return domain.TokenPrice{}, false
	}

	url := fmt.Sprintf("%s/tokens/v1/%s/%s", s.baseURL, slug, address)
	var pairs []dexPair
	if err := s.getJSON(ctx, url, &pairs); err != nil {
		s.logger.Printf("price lookup failed for %s on chain %d: %v", address, chainID, err)
		return domain.TokenPrice{}, false
	}
	if len(pairs) == 0 {
		return domain.TokenPrice{}, false
	}

	price, err := strconv.ParseFloat(pairs[0].PriceUsd, 64)
	if err != nil {
		return domain.TokenPrice{}, false
	}
	return domain.TokenPrice{
		TokenAddress: strings.ToLower(address),
		ChainID:      chainID,
		UsdPrice:     price,
	}, true
}

// GetPrices resolves a batch in chunks of 30 addresses per request,
// pausing briefly between chunks to stay under rate limits.
func (s *DexScreenerSource) GetPrices(ctx context.Context, chainID int64, addresses []string) []domain.TokenPrice {
	slug, ok := dexscreenerSlugs[chainID]
	if !ok || len(addresses) == 0 {
		return nil
	}

	var results []domain.TokenPrice
	for start := 0; start < len(addresses); start += dexscreenerChunkSize {
		end := min(start+dexscreenerChunkSize, len(addresses))
		chunk := addresses[start:end]

		url := fmt.Sprintf("%s/tokens/v1/%s/%s", s.baseURL, slug, strings.Join(chunk, ","))
		var pairs []dexPair
		if err := s.getJSON(ctx, url, &pairs); err != nil {
			s.logger.Printf("batch chunk failed on chain %d: %v", chainID, err)
			continue
		}

		// Multiple pairs per token: the first one wins.
		seen := make(map[string]bool, len(chunk))
		for _, pair := range pairs {
			addr := strings.ToLower(pair.BaseToken.Address)
			if addr == "" || seen[addr] {
				continue
			}
			price, err := strconv.ParseFloat(pair.PriceUsd, 64)
			if err != nil {
				continue
			}
			seen[addr] = true
			results = append(results, domain.TokenPrice{
				TokenAddress: addr,
				ChainID:      chainID,
				UsdPrice:     price,
			})
		}

		if end < len(addresses) {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(dexscreenerChunkDelay):
			}
		}
	}
	return results
}

// GlobalPrice searches the address across all chains DexScreener
// indexes and returns the price of the highest-liquidity pair. Used as
// the last resort when every chain-scoped source came up empty.
func (s *DexScreenerSource) GlobalPrice(ctx context.Context, address string) (float64, bool) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", s.baseURL, strings.ToLower(address))
	var payload struct {
		Pairs []dexPair `json:"pairs"`
	}
	if err := s.getJSON(ctx, url, &payload); err != nil {
		s.logger.Printf("global lookup failed for %s: %v", address, err)
		return 0, false
	}
	if len(payload.Pairs) == 0 {
		return 0, false
	}

	sort.Slice(payload.Pairs, func(i, j int) bool {
		return payload.Pairs[i].Liquidity.Usd > payload.Pairs[j].Liquidity.Usd
	})
	price, err := strconv.ParseFloat(payload.Pairs[0].PriceUsd, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func (s *DexScreenerSource) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
