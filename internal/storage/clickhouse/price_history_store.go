package clickhouse

import (
	"context"
	"fmt"

	"token-catalog/internal/domain"
	"token-catalog/internal/storage"
)

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
// price_observations is append-only; repeated observations for the same
// token are expected and kept as separate rows.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// InsertBulk appends multiple observations in one batch.
func (s *PriceHistoryStore) InsertBulk(ctx context.Context, observations []*domain.PriceObservation) error {
	if len(observations) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_observations (
			token_address, chain_id, usd_price, source, observed_at_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, o := range observations {
		if o == nil || o.TokenAddress == "" {
			return storage.ErrInvalidInput
		}
		if err := batch.Append(
			o.TokenAddress,
			o.ChainID,
			o.UsdPrice,
			o.Source,
			o.ObservedAtMs,
		); err != nil {
			return fmt.Errorf("append observation: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByToken returns observations for a token ordered by time, for
// offline inspection of price source behavior.
func (s *PriceHistoryStore) GetByToken(ctx context.Context, chainID int64, tokenAddress string) ([]*domain.PriceObservation, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT token_address, chain_id, usd_price, source, observed_at_ms
		FROM price_observations
		WHERE chain_id = ? AND token_address = ?
		ORDER BY observed_at_ms
	`, chainID, tokenAddress)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var observations []*domain.PriceObservation
	for rows.Next() {
		var o domain.PriceObservation
		if err := rows.Scan(&o.TokenAddress, &o.ChainID, &o.UsdPrice, &o.Source, &o.ObservedAtMs); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		observations = append(observations, &o)
	}

	return observations, rows.Err()
}
