// Package orchestrator resolves price series for many symbols through the
// tier chain: local cache, remote store, then external origin.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"MarketCache/internal/model"
	"MarketCache/internal/recorder"
)

const (
	DefaultBatchSize     = 10
	DefaultBatchDelay    = 100 * time.Millisecond
	DefaultOriginTimeout = 30 * time.Second
)

// LocalCache is the Tier1 contract.
type LocalCache interface {
	Get(key model.CacheKey) (model.Series, bool)
	Put(key model.CacheKey, series model.Series) error
	Invalidate(pattern string) int
}

// SeriesStore is the Tier2 contract.
type SeriesStore interface {
	Get(ctx context.Context, key model.CacheKey) (model.Series, bool, error)
	Put(ctx context.Context, key model.CacheKey, series model.Series) error
}

// Origin is the Tier3 contract.
type Origin interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time) (model.Series, error)
	Name() string
}

// Config tunes batching and promotion. Zero values take the defaults.
type Config struct {
	BatchSize        int
	BatchDelay       time.Duration
	OriginTimeout    time.Duration
	PromotionWorkers int
	PromotionQueue   int
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	if c.OriginTimeout <= 0 {
		c.OriginTimeout = DefaultOriginTimeout
	}
}

// Orchestrator is safe for concurrent use. Tier2 and Tier3 calls, including
// promotion writes to Tier2, share one limit of BatchSize outstanding
// operations.
type Orchestrator struct {
	cfg      Config
	slow     *semaphore.Weighted
	local    LocalCache
	remote   SeriesStore
	origin   Origin
	promoter *Promoter
	rec      recorder.Recorder
	logger   *slog.Logger
}

// New wires the three tiers together and starts the promotion workers.
func New(cfg Config, local LocalCache, remote SeriesStore, origin Origin, rec recorder.Recorder, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	slow := semaphore.NewWeighted(int64(cfg.BatchSize))
	p := NewPromoter(local, remote, rec, logger, cfg.PromotionWorkers, cfg.PromotionQueue)
	p.limit = slow
	return &Orchestrator{
		cfg:      cfg,
		slow:     slow,
		local:    local,
		remote:   remote,
		origin:   origin,
		promoter: p,
		rec:      rec,
		logger:   logger,
	}
}

// Report is the full outcome of one Resolve call.
type Report struct {
	RunID      string
	Series     map[string]model.Series
	Outcomes   map[string]model.Outcome
	Unresolved []string
	Batches    int
	Duration   time.Duration
}

// Count returns how many symbols ended in outcome o.
func (r *Report) Count(o model.Outcome) int {
	n := 0
	for _, got := range r.Outcomes {
		if got == o {
			n++
		}
	}
	return n
}

// Resolved returns how many symbols produced a series.
func (r *Report) Resolved() int { return len(r.Series) }

// GetSeries resolves every symbol over [start, end]. It returns whatever
// resolved plus the symbols no tier could serve; partial resolution is not
// an error. The error is non-nil only for malformed input (before any I/O)
// or when ctx ends, in which case the partial results are still returned.
func (o *Orchestrator) GetSeries(ctx context.Context, symbols []string, start, end time.Time) (map[string]model.Series, []string, error) {
	rep, err := o.Resolve(ctx, symbols, start, end)
	if rep == nil {
		return nil, nil, err
	}
	return rep.Series, rep.Unresolved, err
}

// Resolve is GetSeries with per-symbol outcomes.
func (o *Orchestrator) Resolve(ctx context.Context, symbols []string, start, end time.Time) (*Report, error) {
	started := time.Now()
	keys, err := makeKeys(symbols, start, end)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:      uuid.NewString(),
		Series:     make(map[string]model.Series, len(keys)),
		Outcomes:   make(map[string]model.Outcome, len(keys)),
		Unresolved: []string{},
	}
	if len(keys) == 0 {
		return rep, nil
	}
	logger := o.logger.With("run_id", rep.RunID)

	var mu sync.Mutex
	for i, batch := range partition(keys, o.cfg.BatchSize) {
		if i > 0 && !sleepCtx(ctx, o.cfg.BatchDelay) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		rep.Batches++

		var g errgroup.Group
		g.SetLimit(o.cfg.BatchSize)
		for _, key := range batch {
			key := key
			g.Go(func() error {
				series, outcome := o.resolveOne(ctx, logger, rep.RunID, key)
				mu.Lock()
				defer mu.Unlock()
				rep.Outcomes[key.Symbol] = outcome
				if outcome != model.OutcomeUnresolved {
					rep.Series[key.Symbol] = series
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, k := range keys {
		if got, ok := rep.Outcomes[k.Symbol]; !ok || got == model.OutcomeUnresolved {
			rep.Outcomes[k.Symbol] = model.OutcomeUnresolved
			rep.Unresolved = append(rep.Unresolved, k.Symbol)
		}
	}
	rep.Duration = time.Since(started)

	logger.Info("series resolved",
		"requested", len(keys), "batches", rep.Batches,
		"tier1", rep.Count(model.OutcomeTier1Hit), "tier2", rep.Count(model.OutcomeTier2Hit),
		"tier3", rep.Count(model.OutcomeTier3Hit), "unresolved", len(rep.Unresolved),
		"duration_ms", rep.Duration.Milliseconds())
	o.recordRun(logger, rep, keys[0], started, ctx.Err() != nil)

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

// resolveOne walks the tiers for one key. The first tier with a non-empty
// series wins; slower tiers are not consulted after a hit. The caller gets
// its own copy of a promoted series.
func (o *Orchestrator) resolveOne(ctx context.Context, logger *slog.Logger, runID string, key model.CacheKey) (model.Series, model.Outcome) {
	if s, ok := o.local.Get(key); ok && len(s) > 0 {
		return s, model.OutcomeTier1Hit
	}

	if err := o.slow.Acquire(ctx, 1); err != nil {
		return nil, model.OutcomeUnresolved
	}
	s, outcome := o.resolveSlow(ctx, logger, key)
	o.slow.Release(1)

	switch outcome {
	case model.OutcomeTier2Hit:
		o.promoter.Enqueue(ctx, Promotion{RunID: runID, Key: key, Series: s.Clone(), Source: model.TierStore})
	case model.OutcomeTier3Hit:
		o.promoter.Enqueue(ctx, Promotion{RunID: runID, Key: key, Series: s.Clone(), Source: model.TierOrigin})
	}
	return s, outcome
}

// resolveSlow consults Tier2 then Tier3. The caller holds a slot of o.slow.
func (o *Orchestrator) resolveSlow(ctx context.Context, logger *slog.Logger, key model.CacheKey) (model.Series, model.Outcome) {
	if ctx.Err() != nil {
		return nil, model.OutcomeUnresolved
	}
	s, found, err := o.remote.Get(ctx, key)
	switch {
	case err != nil:
		logger.Warn("tier2 lookup failed", "symbol", key.Symbol, "err", err)
	case found && len(s) > 0:
		return s, model.OutcomeTier2Hit
	}

	if ctx.Err() != nil {
		return nil, model.OutcomeUnresolved
	}
	fctx, cancel := context.WithTimeout(ctx, o.cfg.OriginTimeout)
	defer cancel()
	s, err = o.origin.Fetch(fctx, key.Symbol, key.RangeStart, key.RangeEnd)
	if err == nil && len(s) == 0 {
		err = fmt.Errorf("%w: %s: empty series", model.ErrOriginFetchFailed, key.Symbol)
	}
	if err != nil {
		if !errors.Is(err, model.ErrOriginFetchFailed) {
			err = fmt.Errorf("%w: %s: %v", model.ErrOriginFetchFailed, key.Symbol, err)
		}
		logger.Warn("origin fetch failed", "symbol", key.Symbol, "origin", o.origin.Name(),
			"timeout", errors.Is(fctx.Err(), context.DeadlineExceeded), "err", err)
		return nil, model.OutcomeUnresolved
	}
	return s, model.OutcomeTier3Hit
}

// InvalidateSymbol drops every Tier1 entry for symbol so the next request
// goes back to the slower tiers.
func (o *Orchestrator) InvalidateSymbol(symbol string) int {
	return o.local.Invalidate(symbol)
}

// Flush blocks until every queued promotion has been attempted.
func (o *Orchestrator) Flush() { o.promoter.Flush() }

// Close drains the promotion queue and stops its workers.
func (o *Orchestrator) Close() { o.promoter.Close() }

// PromotionStats reports promotion counters.
func (o *Orchestrator) PromotionStats() PromotionStats { return o.promoter.Stats() }

func (o *Orchestrator) recordRun(logger *slog.Logger, rep *Report, first model.CacheKey, started time.Time, cancelled bool) {
	if err := o.rec.RecordRun(&recorder.RunEvent{
		RunID:      rep.RunID,
		StartedAt:  started,
		Duration:   rep.Duration,
		RangeStart: first.RangeStart,
		RangeEnd:   first.RangeEnd,
		Requested:  len(rep.Outcomes),
		Batches:    rep.Batches,
		Tier1Hits:  rep.Count(model.OutcomeTier1Hit),
		Tier2Hits:  rep.Count(model.OutcomeTier2Hit),
		Tier3Hits:  rep.Count(model.OutcomeTier3Hit),
		Unresolved: rep.Unresolved,
		Cancelled:  cancelled,
	}); err != nil {
		logger.Warn("record run", "err", err)
	}
}

// makeKeys validates every symbol before any I/O and drops duplicates,
// keeping the first occurrence.
func makeKeys(symbols []string, start, end time.Time) ([]model.CacheKey, error) {
	keys := make([]model.CacheKey, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		k, err := model.MakeKey(sym, start, end)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}

func partition(keys []model.CacheKey, size int) [][]model.CacheKey {
	var batches [][]model.CacheKey
	for len(keys) > size {
		batches = append(batches, keys[:size])
		keys = keys[size:]
	}
	if len(keys) > 0 {
		batches = append(batches, keys)
	}
	return batches
}

// sleepCtx waits d or until ctx ends; it reports whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
