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
	"sync"
	"time"

	"token-catalog/internal/domain"
)

// DefaultLifiBaseURL is the public LI.FI API endpoint.
const DefaultLifiBaseURL = "https://li.quest"

const (
	lifiChunkSize  = 10
	lifiChunkDelay = 200 * time.Millisecond
)

// LifiSource resolves prices from the LI.FI bridge aggregator. It is
// the highest-priority source: bridge routing requires accurate
// valuations, so its numbers are trusted ahead of DEX quotes.
type LifiSource struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

// LifiOption configures LifiSource.
type LifiOption func(*LifiSource)

// WithLifiBaseURL overrides the API base URL (used by tests).
func WithLifiBaseURL(url string) LifiOption {
	return func(s *LifiSource) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithLifiHTTPClient sets a custom http.Client.
func WithLifiHTTPClient(client *http.Client) LifiOption {
	return func(s *LifiSource) {
		s.client = client
	}
}

// NewLifiSource creates a LI.FI price source.
func NewLifiSource(opts ...LifiOption) *LifiSource {
	s := &LifiSource{
		baseURL: DefaultLifiBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  log.New(os.Stdout, "[lifi-price] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the source.
func (s *LifiSource) Name() string { return "lifi" }

// GetPrice resolves one token from the LI.FI token info endpoint.
func (s *LifiSource) GetPrice(ctx context.Context, chainID int64, address string) (domain.TokenPrice, bool) {
	url := fmt.Sprintf("%s/v1/token?chain=%d&token=%s", s.baseURL, chainID, address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.TokenPrice{}, false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Printf("price lookup failed for %s on chain %d: %v", address, chainID, err)
		return domain.TokenPrice{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.TokenPrice{}, false
	}

	var payload struct {
		PriceUSD string `json:"priceUSD"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.TokenPrice{}, false
	}
	price, err := strconv.ParseFloat(payload.PriceUSD, 64)
	if err != nil {
		return domain.TokenPrice{}, false
	}
	return domain.TokenPrice{
		TokenAddress: strings.ToLower(address),
		ChainID:      chainID,
		UsdPrice:     price,
	}, true
}

// GetPrices has no batch endpoint upstream, so it fans out small
// concurrent chunks of single lookups with a throttle between chunks.
func (s *LifiSource) GetPrices(ctx context.Context, chainID int64, addresses []string) []domain.TokenPrice {
	if len(addresses) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		results []domain.TokenPrice
	)
	for start := 0; start < len(addresses); start += lifiChunkSize {
		end := min(start+lifiChunkSize, len(addresses))
		chunk := addresses[start:end]

		var wg sync.WaitGroup
		for _, addr := range chunk {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if price, ok := s.GetPrice(ctx, chainID, addr); ok {
					mu.Lock()
					results = append(results, price)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if end < len(addresses) {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(lifiChunkDelay):
			}
		}
	}
	return results
}
