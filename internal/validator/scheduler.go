// Package validator implements the durable, timer-woken actor that
// confirms each cataloged token against its chain of origin in fixed
// batches. Progress is persisted to the shared key-value store, so a
// run survives process restarts and resumes from its last position.
package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"token-catalog/internal/domain"
	"token-catalog/internal/observability"
	"token-catalog/internal/storage"
)

// Default pacing parameters.
const (
	DefaultBatchSize      = 20
	DefaultMaxChainReads  = 20
	DefaultFirstWakeDelay = time.Second
	DefaultWakeInterval   = 60 * time.Second

	stagingTTL   = 7 * 24 * time.Hour
	validatedTTL = 7 * 24 * time.Hour
)

// Scheduler errors.
var (
	// ErrNoTokens is returned by Start when the unvalidated namespace
	// is empty: there is nothing to validate until a sync runs.
	ErrNoTokens = errors.New("no unvalidated tokens found, populate the cache first")

	// ErrAlreadyProcessing is returned by Start while a run is active.
	// Restarting would truncate in-flight progress; Reset first.
	ErrAlreadyProcessing = errors.New("validation already in progress")
)

// ChainReader confirms a token against its chain. Failures are
// reported as ok=false, never as transport errors.
type ChainReader interface {
	ReadTokenMetadata(ctx context.Context, address string, chainID int64) (domain.OnChainMetadata, bool)
}

// Scheduler is the validation actor. All state transitions happen
// inside Start, Wake, and Reset, serialized on one mutex: no two wake
// cycles for the same scheduler ever run concurrently.
type Scheduler struct {
	kv     storage.KVStore
	reader ChainReader
	logger *log.Logger

	batchSize      int
	maxChainReads  int
	firstWakeDelay time.Duration
	wakeInterval   time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	nextWake time.Time

	// now is replaceable by tests.
	now func() time.Time
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithBatchSize overrides the tokens-per-cycle batch size.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) { s.batchSize = n }
}

// WithWakeInterval overrides the delay between batch cycles.
func WithWakeInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.wakeInterval = d }
}

// WithFirstWakeDelay overrides the delay before the first cycle.
func WithFirstWakeDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.firstWakeDelay = d }
}

// WithMaxChainReads caps concurrent on-chain reads within one batch.
func WithMaxChainReads(n int) Option {
	return func(s *Scheduler) { s.maxChainReads = n }
}

// New creates a Scheduler over the shared store and a chain reader.
func New(kv storage.KVStore, reader ChainReader, opts ...Option) *Scheduler {
	s := &Scheduler{
		kv:             kv,
		reader:         reader,
		logger:         log.New(os.Stdout, "[validator] ", log.LstdFlags),
		batchSize:      DefaultBatchSize,
		maxChainReads:  DefaultMaxChainReads,
		firstWakeDelay: DefaultFirstWakeDelay,
		wakeInterval:   DefaultWakeInterval,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status is the read-only projection of the scheduler for callers.
type Status struct {
	State    domain.ValidationState `json:"state"`
	NextWake *time.Time             `json:"nextWake,omitempty"`
}

// Start begins a validation run over the current unvalidated snapshot.
// Returns ErrNoTokens if the unvalidated namespace is empty and
// ErrAlreadyProcessing if a run is active.
func (s *Scheduler) Start(ctx context.Context) (domain.ValidationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadState(ctx)
	if err != nil {
		return domain.ValidationState{}, fmt.Errorf("load validation state: %w", err)
	}
	if current.IsProcessing {
		return domain.ValidationState{}, ErrAlreadyProcessing
	}

	tokens, err := s.loadUnvalidated(ctx)
	if err != nil {
		return domain.ValidationState{}, fmt.Errorf("load unvalidated tokens: %w", err)
	}
	if len(tokens) == 0 {
		return domain.ValidationState{}, ErrNoTokens
	}

	state := domain.ValidationState{
		CurrentPosition: 0,
		TotalTokens:     len(tokens),
		IsProcessing:    true,
		StartedAtMs:     s.now().UnixMilli(),
	}
	if err := s.saveState(ctx, state); err != nil {
		return domain.ValidationState{}, fmt.Errorf("persist validation state: %w", err)
	}

	// A fresh run must not inherit a previous run's partial results.
	if err := s.kv.Del(ctx, storage.KeyStagingTokens); err != nil {
		return domain.ValidationState{}, fmt.Errorf("clear staging: %w", err)
	}

	s.scheduleLocked(s.firstWakeDelay)
	s.logger.Printf("validation started: %d tokens, batch size %d", len(tokens), s.batchSize)
	return state, nil
}

// Wake runs one batch cycle. It is a no-op when no run is active. A
// failed cycle never advances the position: the same batch range is
// retried on the next wake.
func (s *Scheduler) Wake(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadState(ctx)
	if err != nil {
		s.logger.Printf("wake: load state: %v, retrying in %s", err, s.wakeInterval)
		s.scheduleLocked(s.wakeInterval)
		return
	}
	if !state.IsProcessing {
		// The run was reset (or never existed) while this wake was
		// pending; drop the expired timer so Status stops reporting a
		// wake time in the past.
		s.cancelTimerLocked()
		return
	}

	s.logger.Printf("wake: %d/%d", state.CurrentPosition, state.TotalTokens)

	if err := s.runCycle(ctx, state); err != nil {
		observability.RecordValidationBatch("error", state.CurrentPosition, state.TotalTokens)
		s.logger.Printf("wake: cycle failed at position %d: %v, retrying in %s",
			state.CurrentPosition, err, s.wakeInterval)
		s.scheduleLocked(s.wakeInterval)
	}
}

// runCycle executes one batch under the scheduler lock.
func (s *Scheduler) runCycle(ctx context.Context, state domain.ValidationState) error {
	tokens, err := s.loadUnvalidated(ctx)
	if err != nil {
		return fmt.Errorf("load unvalidated tokens: %w", err)
	}
	if len(tokens) == 0 {
		return s.finalizeLocked(ctx)
	}

	end := state.CurrentPosition + s.batchSize
	var batch []domain.PositionedToken
	for _, t := range tokens {
		if t.Position >= state.CurrentPosition && t.Position < end {
			batch = append(batch, t)
		}
	}
	if len(batch) == 0 {
		return s.finalizeLocked(ctx)
	}

	validated := s.validateBatch(ctx, batch)

	if err := s.mergeIntoStaging(ctx, validated); err != nil {
		return fmt.Errorf("merge staging: %w", err)
	}

	state.CurrentPosition += s.batchSize
	if state.CurrentPosition > state.TotalTokens {
		state.CurrentPosition = state.TotalTokens
	}
	if err := s.saveState(ctx, state); err != nil {
		return fmt.Errorf("persist validation state: %w", err)
	}
	observability.RecordValidationBatch("ok", state.CurrentPosition, state.TotalTokens)

	if state.CurrentPosition >= state.TotalTokens {
		return s.finalizeLocked(ctx)
	}

	s.scheduleLocked(s.wakeInterval)
	return nil
}

// validateBatch confirms one batch against its chains with bounded
// concurrency. Unconfirmable tokens are kept with their list metadata
// and marked IsValidated=false; that is a normal outcome, not an error.
func (s *Scheduler) validateBatch(ctx context.Context, batch []domain.PositionedToken) []domain.Token {
	results := make([]domain.Token, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxChainReads)
	for i, pt := range batch {
		g.Go(func() error {
			token := pt.Token
			meta, ok := s.reader.ReadTokenMetadata(gctx, token.Address, token.ChainID)
			if ok {
				token.Name = meta.Name
				token.Symbol = meta.Symbol
				token.Decimals = meta.Decimals
			}
			validated := ok
			token.IsValidated = &validated
			results[i] = token
			return nil
		})
	}
	// Goroutines never return errors; Wait is for completion only.
	_ = g.Wait()

	confirmed := 0
	for _, t := range results {
		ok := t.IsValidated != nil && *t.IsValidated
		observability.RecordTokenValidated(ok)
		if ok {
			confirmed++
		}
	}
	s.logger.Printf("batch done: %d/%d confirmed", confirmed, len(batch))
	return results
}

// mergeIntoStaging appends a batch to the staging namespace with
// read-merge-write semantics. The merge deduplicates by token id,
// keeping the last write, so a batch replayed after a partial failure
// cannot produce duplicate entries.
func (s *Scheduler) mergeIntoStaging(ctx context.Context, batch []domain.Token) error {
	existing, err := s.loadStaging(ctx)
	if err != nil {
		return err
	}

	merged := dedupeKeepLast(append(existing, batch...))

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode staging: %w", err)
	}
	return s.kv.Set(ctx, storage.KeyStagingTokens, payload, stagingTTL)
}

// finalizeLocked promotes staging to the authoritative validated
// namespace and resets the run. This is the only path that writes
// tokens:validated.
func (s *Scheduler) finalizeLocked(ctx context.Context) error {
	staged, err := s.loadStaging(ctx)
	if err != nil {
		return fmt.Errorf("load staging: %w", err)
	}

	if len(staged) > 0 {
		payload, err := json.Marshal(staged)
		if err != nil {
			return fmt.Errorf("encode validated: %w", err)
		}
		if err := s.kv.Set(ctx, storage.KeyValidatedTokens, payload, validatedTTL); err != nil {
			return fmt.Errorf("promote staging: %w", err)
		}

		confirmed := 0
		for _, t := range staged {
			if t.IsValidated != nil && *t.IsValidated {
				confirmed++
			}
		}
		s.logger.Printf("validation complete: %d tokens promoted (%d confirmed, %d unconfirmed)",
			len(staged), confirmed, len(staged)-confirmed)
	}

	s.cancelTimerLocked()
	observability.DefaultMetrics.LastCompletedValidation.Set(float64(s.now().Unix()))
	return s.saveState(ctx, domain.ValidationState{})
}

// Status returns the current run state and next scheduled wake time.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadState(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load validation state: %w", err)
	}

	status := Status{State: state}
	if s.timer != nil {
		next := s.nextWake
		status.NextWake = &next
	}
	return status, nil
}

// Reset cancels any pending wake and deletes the persisted state. The
// staging and validated namespaces are left untouched; an in-flight
// batch is allowed to finish but its successor cycle becomes a no-op.
func (s *Scheduler) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelTimerLocked()
	if err := s.kv.Del(ctx, storage.KeyValidationState); err != nil {
		return fmt.Errorf("delete validation state: %w", err)
	}
	s.logger.Printf("validation state reset")
	return nil
}

// scheduleLocked arms the wake timer. Must hold s.mu.
func (s *Scheduler) scheduleLocked(delay time.Duration) {
	s.cancelTimerLocked()
	s.nextWake = s.now().Add(delay)
	s.timer = time.AfterFunc(delay, func() {
		s.Wake(context.Background())
	})
}

func (s *Scheduler) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// loadState reads the persisted state; a missing key is a zero state.
func (s *Scheduler) loadState(ctx context.Context) (domain.ValidationState, error) {
	raw, err := s.kv.Get(ctx, storage.KeyValidationState)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.ValidationState{}, nil
		}
		return domain.ValidationState{}, err
	}

	var state domain.ValidationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.ValidationState{}, fmt.Errorf("decode validation state: %w", err)
	}
	return state, nil
}

func (s *Scheduler) saveState(ctx context.Context, state domain.ValidationState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode validation state: %w", err)
	}
	return s.kv.Set(ctx, storage.KeyValidationState, payload, 0)
}

func (s *Scheduler) loadUnvalidated(ctx context.Context) ([]domain.PositionedToken, error) {
	raw, err := s.kv.Get(ctx, storage.KeyUnvalidatedTokens)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var tokens []domain.PositionedToken
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("decode unvalidated tokens: %w", err)
	}
	return tokens, nil
}

func (s *Scheduler) loadStaging(ctx context.Context) ([]domain.Token, error) {
	raw, err := s.kv.Get(ctx, storage.KeyStagingTokens)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var tokens []domain.Token
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("decode staging tokens: %w", err)
	}
	return tokens, nil
}

// dedupeKeepLast removes repeated ids keeping the latest occurrence,
// preserving first-seen order.
func dedupeKeepLast(tokens []domain.Token) []domain.Token {
	latest := make(map[string]domain.Token, len(tokens))
	order := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, seen := latest[t.ID]; !seen {
			order = append(order, t.ID)
		}
		latest[t.ID] = t
	}

	out := make([]domain.Token, len(order))
	for i, id := range order {
		out[i] = latest[id]
	}
	return out
}
