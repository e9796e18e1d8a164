// Package aggregator merges the token lists of all configured
// providers into one deduplicated, position-stamped catalog.
package aggregator

import (
	"context"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	"token-catalog/internal/domain"
	"token-catalog/internal/listproviders"
	"token-catalog/internal/observability"
)

// Aggregator fans out to every list provider and produces the
// deduplicated catalog for one sync run.
type Aggregator struct {
	// providers in priority order: on duplicate ids the earliest
	// provider's metadata wins.
	providers []listproviders.Provider
	logger    *log.Logger
}

// New creates an Aggregator over the given providers. Order matters:
// it is the dedup priority.
func New(providers []listproviders.Provider) *Aggregator {
	return &Aggregator{
		providers: providers,
		logger:    log.New(os.Stdout, "[aggregator] ", log.LstdFlags),
	}
}

// Aggregate fetches all providers concurrently, concatenates their
// results in provider-priority order, deduplicates by token id (first
// occurrence wins), filters excluded placeholder addresses, and stamps
// each surviving token with its 0-based position.
//
// Positions are stable for the lifetime of one aggregation run and are
// invalidated by the next run.
func (a *Aggregator) Aggregate(ctx context.Context) []domain.PositionedToken {
	results := make([][]domain.RawToken, len(a.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range a.providers {
		g.Go(func() error {
			// Providers never fail; a broken source yields nil.
			results[i] = p.Fetch(gctx)
			observability.RecordProviderFetch(p.Name(), len(results[i]), len(results[i]) == 0)
			return nil
		})
	}
	_ = g.Wait()

	var all []domain.Token
	for _, raw := range results {
		for _, t := range raw {
			all = append(all, domain.WithID(t))
		}
	}

	deduplicated := domain.Deduplicate(all)

	filtered := make([]domain.Token, 0, len(deduplicated))
	for _, t := range deduplicated {
		if domain.IsExcludedAddress(t.Address, t.ChainID) {
			continue
		}
		filtered = append(filtered, t)
	}
	if excluded := len(deduplicated) - len(filtered); excluded > 0 {
		a.logger.Printf("filtered %d excluded placeholder tokens", excluded)
	}

	positioned := make([]domain.PositionedToken, len(filtered))
	for i, t := range filtered {
		positioned[i] = domain.PositionedToken{Token: t, Position: i}
	}

	observability.RecordAggregationRun(len(positioned))
	a.logger.Printf("aggregated %d tokens from %d providers", len(positioned), len(a.providers))
	return positioned
}
