// Package cache implements the tiered read policy over the durable
// key-value store: authoritative validated data first, fresh
// unvalidated data second, a new aggregation run last. All cache
// writes are best-effort; the catalog stays correct (if slower) when
// the store is unavailable because every cached value is re-derivable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"token-catalog/internal/aggregator"
	"token-catalog/internal/domain"
	"token-catalog/internal/observability"
	"token-catalog/internal/storage"
)

// Cache TTLs. The unvalidated catalog is kept a full week but
// re-aggregated once the last sync is older than RefreshAfter.
const (
	CatalogTTL   = 7 * 24 * time.Hour
	RefreshAfter = 72 * time.Hour
	ChainListTTL = time.Hour
	SearchTTL    = 10 * time.Minute
	MetadataTTL  = 30 * 24 * time.Hour
)

// MetadataReader reads ERC-20 metadata from a chain. Failures are
// reported as ok=false, never as transport errors.
type MetadataReader interface {
	ReadTokenMetadata(ctx context.Context, address string, chainID int64) (domain.OnChainMetadata, bool)
}

// Service is the catalog read side: it arbitrates between the
// validated, unvalidated, and derived cache namespaces and falls back
// to a fresh aggregation run when both are unusable.
type Service struct {
	kv     storage.KVStore
	agg    *aggregator.Aggregator
	reader MetadataReader
	logger *log.Logger

	// now is replaceable by tests.
	now func() time.Time
}

// NewService creates the catalog service.
func NewService(kv storage.KVStore, agg *aggregator.Aggregator, reader MetadataReader) *Service {
	return &Service{
		kv:     kv,
		agg:    agg,
		reader: reader,
		logger: log.New(os.Stdout, "[catalog] ", log.LstdFlags),
		now:    time.Now,
	}
}

// GetTokens returns the full catalog using the tiered read policy:
//  1. validated namespace, if non-empty (authoritative);
//  2. unvalidated namespace, if the last sync is still fresh;
//  3. a new aggregation run, cached as unvalidated.
func (s *Service) GetTokens(ctx context.Context) []domain.Token {
	if validated := s.readTokens(ctx, storage.KeyValidatedTokens); len(validated) > 0 {
		observability.RecordCacheHit("validated")
		return validated
	}
	observability.RecordCacheMiss("validated")

	if !s.shouldRefresh(ctx) {
		if unvalidated := s.readPositioned(ctx, storage.KeyUnvalidatedTokens); len(unvalidated) > 0 {
			observability.RecordCacheHit("unvalidated")
			return stripPositions(unvalidated)
		}
	}
	observability.RecordCacheMiss("unvalidated")

	return s.refresh(ctx)
}

// refresh runs the aggregator, caches the positioned result as
// unvalidated, stamps the sync time, and returns the catalog.
func (s *Service) refresh(ctx context.Context) []domain.Token {
	s.logger.Printf("cache miss, aggregating from providers")

	positioned := s.agg.Aggregate(ctx)
	if len(positioned) == 0 {
		return nil
	}

	s.putJSON(ctx, storage.KeyUnvalidatedTokens, positioned, CatalogTTL)
	s.putRaw(ctx, storage.KeyLastSync, []byte(strconv.FormatInt(s.now().UnixMilli(), 10)), CatalogTTL)
	observability.DefaultMetrics.LastSuccessfulSync.Set(float64(s.now().Unix()))

	return stripPositions(positioned)
}

// shouldRefresh reports whether the last full sync is older than
// RefreshAfter (or unknown).
func (s *Service) shouldRefresh(ctx context.Context) bool {
	raw, err := s.kv.Get(ctx, storage.KeyLastSync)
	if err != nil {
		return true
	}
	lastSyncMs, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return true
	}
	elapsed := s.now().Sub(time.UnixMilli(lastSyncMs))
	return elapsed > RefreshAfter
}

// GetTokensByChain returns the catalog filtered to one chain, served
// from the per-chain derived cache when possible.
func (s *Service) GetTokensByChain(ctx context.Context, chainID int64) []domain.Token {
	key := storage.ChainListKey(chainID)

	if cached := s.readTokens(ctx, key); len(cached) > 0 {
		return cached
	}

	var filtered []domain.Token
	for _, t := range s.GetTokens(ctx) {
		if t.ChainID == chainID {
			filtered = append(filtered, t)
		}
	}

	if len(filtered) > 0 {
		s.putJSON(ctx, key, filtered, ChainListTTL)
	}
	return filtered
}

// GetTokenDetails looks a single token up: indexed catalog first, then
// the long-lived metadata cache, then a live on-chain read (which
// repopulates the metadata cache).
func (s *Service) GetTokenDetails(ctx context.Context, address string, chainID int64) (domain.Token, bool) {
	normalized := normalizeAddress(address)

	for _, t := range s.GetTokensByChain(ctx, chainID) {
		if normalizeAddress(t.Address) == normalized {
			return t, true
		}
	}

	metaKey := storage.MetadataKey(chainID, normalized)
	var meta domain.OnChainMetadata
	if s.getJSON(ctx, metaKey, &meta) {
		return tokenFromMetadata(normalized, chainID, meta), true
	}

	onChain, ok := s.reader.ReadTokenMetadata(ctx, normalized, chainID)
	if !ok {
		return domain.Token{}, false
	}

	s.putJSON(ctx, metaKey, onChain, MetadataTTL)
	return tokenFromMetadata(normalized, chainID, onChain), true
}

// readTokens loads a token slice from one cache key; absence or a
// decode failure yields nil.
func (s *Service) readTokens(ctx context.Context, key string) []domain.Token {
	var tokens []domain.Token
	if !s.getJSON(ctx, key, &tokens) {
		return nil
	}
	return tokens
}

// readPositioned loads the positioned unvalidated list.
func (s *Service) readPositioned(ctx context.Context, key string) []domain.PositionedToken {
	var tokens []domain.PositionedToken
	if !s.getJSON(ctx, key, &tokens) {
		return nil
	}
	return tokens
}

// getJSON reads and decodes one key. A store failure is treated as a
// miss.
func (s *Service) getJSON(ctx context.Context, key string, out any) bool {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Printf("cache read %s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Printf("cache decode %s: %v", key, err)
		return false
	}
	return true
}

// putJSON encodes and writes one key, best-effort.
func (s *Service) putJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Printf("cache encode %s: %v", key, err)
		return
	}
	s.putRaw(ctx, key, raw, ttl)
}

// putRaw writes one key, best-effort: a write failure is logged and
// swallowed, never propagated as a request failure.
func (s *Service) putRaw(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := s.kv.Set(ctx, key, value, ttl); err != nil {
		s.logger.Printf("cache write %s: %v", key, err)
	}
}

func stripPositions(positioned []domain.PositionedToken) []domain.Token {
	tokens := make([]domain.Token, len(positioned))
	for i, pt := range positioned {
		tokens[i] = pt.Token
	}
	return tokens
}

func tokenFromMetadata(address string, chainID int64, meta domain.OnChainMetadata) domain.Token {
	return domain.Token{
		ID:       domain.TokenID(address, chainID),
		ChainID:  chainID,
		Address:  address,
		Name:     meta.Name,
		Symbol:   meta.Symbol,
		Decimals: meta.Decimals,
	}
}
