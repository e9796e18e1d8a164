package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"token-catalog/internal/domain"
)

// DefaultGeckoTerminalBaseURL is the public GeckoTerminal API endpoint.
const DefaultGeckoTerminalBaseURL = "https://api.geckoterminal.com"

const (
	geckoterminalChunkSize  = 30
	geckoterminalChunkDelay = 100 * time.Millisecond
)

// GeckoTerminalSource resolves prices from GeckoTerminal pool data.
type GeckoTerminalSource struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

// GeckoTerminalOption configures GeckoTerminalSource.
type GeckoTerminalOption func(*GeckoTerminalSource)

// WithGeckoTerminalBaseURL overrides the API base URL (used by tests).
func WithGeckoTerminalBaseURL(url string) GeckoTerminalOption {
	return func(s *GeckoTerminalSource) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithGeckoTerminalHTTPClient sets a custom http.Client.
func WithGeckoTerminalHTTPClient(client *http.Client) GeckoTerminalOption {
	return func(s *GeckoTerminalSource) {
		s.client = client
	}
}

// NewGeckoTerminalSource creates a GeckoTerminal price source.
func NewGeckoTerminalSource(opts ...GeckoTerminalOption) *GeckoTerminalSource {
	s := &GeckoTerminalSource{
		baseURL: DefaultGeckoTerminalBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  log.New(os.Stdout, "[geckoterminal] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the source.
func (s *GeckoTerminalSource) Name() string { return "geckoterminal" }

// GetPrice tries the token's most active pool first, then falls back
// to the token info endpoint.
func (s *GeckoTerminalSource) GetPrice(ctx context.Context, chainID int64, address string) (domain.TokenPrice, bool) {
	slug, ok := geckoterminalSlugs[chainID]
	if !ok {
		return domain.TokenPrice{}, false
	}
	addr := strings.ToLower(address)

	poolsURL := fmt.Sprintf("%s/api/v2/networks/%s/tokens/%s/pools?page=1&sort=h24_volume_usd_desc",
		s.baseURL, slug, addr)
	var pools struct {
		Data []struct {
			Attributes struct {
				TokenPriceUsd string `json:"token_price_usd"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := s.getJSON(ctx, poolsURL, &pools); err == nil && len(pools.Data) > 0 {
		if price, err := strconv.ParseFloat(pools.Data[0].Attributes.TokenPriceUsd, 64); err == nil {
			return domain.TokenPrice{TokenAddress: addr, ChainID: chainID, UsdPrice: price}, true
		}
	}

	tokenURL := fmt.Sprintf("%s/api/v2/networks/%s/tokens/%s", s.baseURL, slug, addr)
	var token struct {
		Data struct {
			Attributes struct {
				PriceUsd string `json:"price_usd"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := s.getJSON(ctx, tokenURL, &token); err != nil {
		s.logger.Printf("price lookup failed for %s on chain %d: %v", addr, chainID, err)
		return domain.TokenPrice{}, false
	}
	price, err := strconv.ParseFloat(token.Data.Attributes.PriceUsd, 64)
	if err != nil {
		return domain.TokenPrice{}, false
	}
	return domain.TokenPrice{TokenAddress: addr, ChainID: chainID, UsdPrice: price}, true
}

// GetPrices resolves a batch via the multi-token endpoint, which
// accepts up to 30 addresses per request.
func (s *GeckoTerminalSource) GetPrices(ctx context.Context, chainID int64, addresses []string) []domain.TokenPrice {
	slug, ok := geckoterminalSlugs[chainID]
	if !ok || len(addresses) == 0 {
		return nil
	}

	var results []domain.TokenPrice
	for start := 0; start < len(addresses); start += geckoterminalChunkSize {
		end := min(start+geckoterminalChunkSize, len(addresses))
		chunk := addresses[start:end]

		url := fmt.Sprintf("%s/api/v2/networks/%s/tokens/multi/%s",
			s.baseURL, slug, strings.Join(chunk, ","))
		var payload struct {
			Data []struct {
				ID         string `json:"id"`
				Attributes struct {
					Address  string `json:"address"`
					PriceUsd string `json:"price_usd"`
				} `json:"attributes"`
			} `json:"data"`
		}
		if err := s.getJSON(ctx, url, &payload); err != nil {
			s.logger.Printf("batch chunk failed on chain %d: %v", chainID, err)
			continue
		}

		for _, item := range payload.Data {
			price, err := strconv.ParseFloat(item.Attributes.PriceUsd, 64)
			if err != nil {
				continue
			}
			addr := item.Attributes.Address
			if addr == "" {
				// ids look like "{network}_{address}".
				if _, after, found := strings.Cut(item.ID, "_"); found {
					addr = after
				}
			}
			if addr == "" {
				continue
			}
			results = append(results, domain.TokenPrice{
				TokenAddress: strings.ToLower(addr),
				ChainID:      chainID,
				UsdPrice:     price,
			})
		}

		if end < len(addresses) {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(geckoterminalChunkDelay):
			}
		}
	}
	return results
}

func (s *GeckoTerminalSource) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

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
