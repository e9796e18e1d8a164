package prices

import (
	"bytes"
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

// DefaultOneInchBaseURL is the authenticated 1inch API endpoint.
const DefaultOneInchBaseURL = "https://api.1inch.dev"

// oneInchNativeWrappers maps chains to their wrapped-native token.
// 1inch quotes prices relative to the chain's native currency, so the
// chain must have a known wrapper for the conversion to make sense.
var oneInchNativeWrappers = map[int64]string{
	1:     "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
	10:    "0x4200000000000000000000000000000000000006",
	56:    "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c",
	137:   "0x7d1afa7b718fb893db30a3abc0cfc608aacfebb0",
	8453:  "0x4200000000000000000000000000000000000006",
	42161: "0x82af49447d8a07e3bd95bd0d56f35241523fbab1",
	43114: "0xb31f66aa3c1e785363f0875a1b74e27b85fd66c7",
}

// oneInchStableAnchors are stablecoins used to derive the native
// currency's USD price from the same response. 1 token of a dollar
// stablecoin costs its native-relative quote, which pins native/USD.
var oneInchStableAnchors = []string{
	"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", // Base USDC
	"0xd9aaec091f384f509ccae36766467389c93f0b24", // Base USDbC
}

const oneInchFallbackNativeUsd = 3000

// OneInchSource resolves prices from the 1inch spot price API. It is
// skipped entirely without an API key.
type OneInchSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *log.Logger
}

// OneInchOption configures OneInchSource.
type OneInchOption func(*OneInchSource)

// WithOneInchBaseURL overrides the API base URL (used by tests).
func WithOneInchBaseURL(url string) OneInchOption {
	return func(s *OneInchSource) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithOneInchHTTPClient sets a custom http.Client.
func WithOneInchHTTPClient(client *http.Client) OneInchOption {
	return func(s *OneInchSource) {
		s.client = client
	}
}

// NewOneInchSource creates a 1inch price source.
func NewOneInchSource(apiKey string, opts ...OneInchOption) *OneInchSource {
	s := &OneInchSource{
		baseURL: DefaultOneInchBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  log.New(os.Stdout, "[1inch-price] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the source.
func (s *OneInchSource) Name() string { return "oneinch" }

// GetPrice resolves a single token through the batch path.
func (s *OneInchSource) GetPrice(ctx context.Context, chainID int64, address string) (domain.TokenPrice, bool) {
	prices := s.GetPrices(ctx, chainID, []string{address})
	if len(prices) == 0 {
		return domain.TokenPrice{}, false
	}
	return prices[0], true
}

// GetPrices posts the full address set in one request. Quotes come
// back denominated in the chain's native currency at 18 decimals; a
// stablecoin anchor from the same response converts them to USD.
func (s *OneInchSource) GetPrices(ctx context.Context, chainID int64, addresses []string) []domain.TokenPrice {
	if s.apiKey == "" || len(addresses) == 0 {
		return nil
	}
	if _, ok := oneInchNativeWrappers[chainID]; !ok {
		return nil
	}

	request := struct {
		Tokens []string `json:"tokens"`
	}{Tokens: append(append([]string{}, addresses...), oneInchStableAnchors...)}

	body, err := json.Marshal(request)
	if err != nil {
		return nil
	}

	url := fmt.Sprintf("%s/price/v1.1/%d", s.baseURL, chainID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Printf("batch lookup failed on chain %d: %v", chainID, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Printf("batch lookup on chain %d: unexpected status %d", chainID, resp.StatusCode)
		return nil
	}

	var quotes map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return nil
	}

	nativeUsd := s.nativeUsdPrice(quotes)

	results := make([]domain.TokenPrice, 0, len(addresses))
	for _, addr := range addresses {
		quote, ok := quotes[strings.ToLower(addr)]
		if !ok {
			continue
		}
		relative, err := strconv.ParseFloat(quote, 64)
		if err != nil {
			continue
		}
		results = append(results, domain.TokenPrice{
			TokenAddress: strings.ToLower(addr),
			ChainID:      chainID,
			UsdPrice:     relative / 1e18 * nativeUsd,
		})
	}
	return results
}

// nativeUsdPrice derives native/USD from a stablecoin quote in the
// response, keeping only plausible values. Falls back to a loose
// constant; the engine's sanity ceiling catches the rest.
func (s *OneInchSource) nativeUsdPrice(quotes map[string]string) float64 {
	for _, stable := range oneInchStableAnchors {
		quote, ok := quotes[stable]
		if !ok {
			continue
		}
		stableInNative, err := strconv.ParseFloat(quote, 64)
		if err != nil || stableInNative <= 0 {
			continue
		}
		nativeUsd := 1 / (stableInNative / 1e18)
		if nativeUsd > 100 && nativeUsd < 100000 {
			return nativeUsd
		}
	}
	return oneInchFallbackNativeUsd
}
