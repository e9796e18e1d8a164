// Package balance answers "what does this account hold" by combining
// the cataloged token list for a chain with on-chain balance reads.
package balance

import (
	"context"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"token-catalog/internal/domain"
)

// TokenLister supplies the cataloged tokens for one chain.
type TokenLister interface {
	GetTokensByChain(ctx context.Context, chainID int64) []domain.Token
}

// BalanceReader fetches raw on-chain balances for a set of tokens.
type BalanceReader interface {
	ReadBalances(ctx context.Context, account string, chainID int64, tokens []domain.Token) []domain.TokenBalance
}

// Service resolves account holdings against the catalog.
type Service struct {
	catalog TokenLister
	reader  BalanceReader
	logger  *log.Logger
}

// NewService creates a balance service.
func NewService(catalog TokenLister, reader BalanceReader) *Service {
	return &Service{
		catalog: catalog,
		reader:  reader,
		logger:  log.New(os.Stdout, "[balance] ", log.LstdFlags),
	}
}

// GetBalances returns the account's nonzero holdings on one chain. The
// chain's native asset is always checked alongside the cataloged ERC-20
// tokens; each result carries both the raw integer amount and a
// decimal-shifted human readable form.
func (s *Service) GetBalances(ctx context.Context, account string, chainID int64) []domain.TokenBalance {
	tokens := s.catalog.GetTokensByChain(ctx, chainID)

	if native, ok := domain.NativeToken(chainID); ok {
		tokens = append([]domain.Token{native}, tokens...)
	}
	if len(tokens) == 0 {
		s.logger.Printf("no tokens cataloged for chain %d", chainID)
		return nil
	}

	balances := s.reader.ReadBalances(ctx, account, chainID, tokens)
	for i := range balances {
		balances[i].BalanceFormatted = formatAmount(balances[i].Balance, balances[i].Decimals)
	}
	return balances
}

// formatAmount shifts a raw integer amount by the token's decimals.
// Unparseable amounts format as "0" rather than failing the lookup.
func formatAmount(raw string, decimals int) string {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return "0"
	}
	return amount.Shift(int32(-decimals)).String()
}
