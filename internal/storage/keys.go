package storage

import (
	"fmt"
	"strings"
)

// Logical cache keys shared across components. Versioned prefixes allow
// a format change to invalidate old entries by bumping the version.
const (
	KeyUnvalidatedTokens = "tokens:unvalidated"
	KeyValidatedTokens   = "tokens:validated"
	KeyStagingTokens     = "tokens:validated:staging"
	KeyLastSync          = "tokens:last_sync"
	KeyValidationState   = "tokens:validation_state"

	chainListPrefix = "list_v1_"   // list_v1_{chainId}
	metadataPrefix  = "meta_v1_"   // meta_v1_{chainId}_{address}
	pricePrefix     = "p_v2_"      // p_v2_{chainId}_{address}
	searchPrefix    = "search_v1_" // search_v1_{chainId}_{query}
)

// ChainListKey returns the per-chain derived list key.
func ChainListKey(chainID int64) string {
	return fmt.Sprintf("%s%d", chainListPrefix, chainID)
}

// MetadataKey returns the on-chain metadata cache key for a token.
func MetadataKey(chainID int64, address string) string {
	return fmt.Sprintf("%s%d_%s", metadataPrefix, chainID, strings.ToLower(address))
}

// PriceKey returns the durable price cache key for a token.
func PriceKey(chainID int64, address string) string {
	return fmt.Sprintf("%s%d_%s", pricePrefix, chainID, strings.ToLower(address))
}

// SearchKey returns the search result cache key for a normalized query.
func SearchKey(chainID int64, query string) string {
	return fmt.Sprintf("%s%d_%s", searchPrefix, chainID, strings.ToLower(strings.TrimSpace(query)))
}
