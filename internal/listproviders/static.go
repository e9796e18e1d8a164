package listproviders

import (
	"context"
	_ "embed"
	"encoding/json"
	"log"
	"os"

	"token-catalog/internal/domain"
)

//go:embed data/default.tokenlist.json
var defaultTokenList []byte

// StaticProvider serves the embedded default token list. It is the
// lowest-priority provider and exists so the catalog is never empty
// even when every remote source is down.
type StaticProvider struct {
	logger *log.Logger
}

// NewStaticProvider creates the embedded-list provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		logger: log.New(os.Stdout, "[static-list] ", log.LstdFlags),
	}
}

// Name identifies the provider.
func (p *StaticProvider) Name() string { return "default" }

type tokenListFile struct {
	Tokens []struct {
		ChainID  int64  `json:"chainId"`
		Address  string `json:"address"`
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
		LogoURI  string `json:"logoURI"`
	} `json:"tokens"`
}

// Fetch decodes the embedded list.
func (p *StaticProvider) Fetch(_ context.Context) []domain.RawToken {
	var file tokenListFile
	if err := json.Unmarshal(defaultTokenList, &file); err != nil {
		p.logger.Printf("decode embedded list: %v", err)
		return nil
	}

	tokens := make([]domain.RawToken, 0, len(file.Tokens))
	for _, t := range file.Tokens {
		tokens = append(tokens, domain.RawToken{
			ChainID:  t.ChainID,
			Address:  t.Address,
			Name:     t.Name,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
			LogoURL:  t.LogoURI,
		})
	}

	p.logger.Printf("loaded %d tokens", len(tokens))
	return tokens
}

var _ Provider = (*StaticProvider)(nil)
