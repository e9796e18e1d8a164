package cache

import (
	"context"
	"regexp"
	"strings"

	"token-catalog/internal/domain"
	"token-catalog/internal/storage"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

func normalizeAddress(address string) string {
	return strings.ToLower(address)
}

// SearchTokens finds tokens on one chain by name/symbol substring, or
// by exact address. Direct-address queries fall through the chain list
// to the metadata cache and finally to a live on-chain read, so a
// token missing from every list can still be resolved.
func (s *Service) SearchTokens(ctx context.Context, chainID int64, query string) []domain.Token {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return nil
	}

	searchKey := storage.SearchKey(chainID, normalized)
	if cached := s.readTokens(ctx, searchKey); cached != nil {
		return cached
	}

	if addressPattern.MatchString(normalized) {
		token, ok := s.GetTokenDetails(ctx, normalized, chainID)
		if !ok {
			return nil
		}
		return []domain.Token{token}
	}

	var results []domain.Token
	for _, t := range s.GetTokensByChain(ctx, chainID) {
		if strings.Contains(strings.ToLower(t.Name), normalized) ||
			strings.Contains(strings.ToLower(t.Symbol), normalized) {
			results = append(results, t)
		}
	}

	if len(results) > 0 {
		s.putJSON(ctx, searchKey, results, SearchTTL)
	}
	return results
}
