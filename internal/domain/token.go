package domain

import (
	"fmt"
	"strings"
)

// RawToken represents a token as returned by a list provider,
// before identity has been assigned. Address casing is preserved
// from the source.
type RawToken struct {
	ChainID  int64  `json:"chainId"`
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	LogoURL  string `json:"logoUrl,omitempty"`
}

// Token is a RawToken with a stable identity. Two tokens with equal
// (lowercased address, chainId) are the same entity.
type Token struct {
	ID       string `json:"id"`
	ChainID  int64  `json:"chainId"`
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	LogoURL  string `json:"logoUrl,omitempty"`
	// IsValidated is set only once a token has been through the
	// validation scheduler. nil means "not yet attempted".
	IsValidated *bool `json:"isValidated,omitempty"`
}

// PositionedToken is a Token with the 0-based slot it occupies in one
// aggregation run. Positions make batch slicing deterministic and are
// invalidated by the next aggregation.
type PositionedToken struct {
	Token
	Position int `json:"pst"`
}

// TokenID builds the canonical token identity: lowercase(address) + ":" + chainId.
func TokenID(address string, chainID int64) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(address), chainID)
}

// WithID assigns identity to a raw token.
func WithID(raw RawToken) Token {
	return Token{
		ID:       TokenID(raw.Address, raw.ChainID),
		ChainID:  raw.ChainID,
		Address:  raw.Address,
		Name:     raw.Name,
		Symbol:   raw.Symbol,
		Decimals: raw.Decimals,
		LogoURL:  raw.LogoURL,
	}
}

// Deduplicate removes tokens with repeated ids, keeping the first
// occurrence. Input order is preserved, so earlier (higher-priority)
// providers win on conflicting metadata.
func Deduplicate(tokens []Token) []Token {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}
