// Package listproviders contains the token list sources the aggregator
// fans out to. Providers never fail: any upstream problem is logged and
// surfaces as an empty list so one broken source cannot abort a sync.
package listproviders

import (
	"context"

	"token-catalog/internal/domain"
)

// Provider is the capability a token list source exposes.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Fetch returns the provider's token list for its supported chains.
	// Must not fail; implementations log errors and return an empty list.
	Fetch(ctx context.Context) []domain.RawToken
}
