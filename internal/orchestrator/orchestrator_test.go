package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketCache/internal/localcache"
	"MarketCache/internal/model"
	"MarketCache/internal/recorder"
	"MarketCache/internal/store"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan31 = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func series(close float64) model.Series {
	return model.Series{
		{Date: jan1.AddDate(0, 0, 1), Open: close, High: close, Low: close, Close: close, Volume: 100},
		{Date: jan1.AddDate(0, 0, 2), Open: close, High: close, Low: close, Close: close + 1, Volume: 200},
	}
}

// tracker records the peak number of concurrent calls across fakes.
type tracker struct {
	cur, peak atomic.Int32
}

func (t *tracker) enter() {
	if t == nil {
		return
	}
	n := t.cur.Add(1)
	for {
		p := t.peak.Load()
		if n <= p || t.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (t *tracker) exit() {
	if t != nil {
		t.cur.Add(-1)
	}
}

type fakeLocal struct {
	mu      sync.Mutex
	data    map[string]model.Series
	gets    atomic.Int32
	puts    atomic.Int32
	failPut bool
	block   chan struct{}
}

func newFakeLocal() *fakeLocal { return &fakeLocal{data: map[string]model.Series{}} }

func (f *fakeLocal) Get(key model.CacheKey) (model.Series, bool) {
	f.gets.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.data[key.String()]
	return s, ok
}

func (f *fakeLocal) Put(key model.CacheKey, s model.Series) error {
	f.puts.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.failPut {
		return fmt.Errorf("%w: disk full", model.ErrCacheWriteFailed)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key.String()] = s
	return nil
}

func (f *fakeLocal) Invalidate(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.data {
		key, _ := model.MakeKey(pattern, jan1, jan31)
		if k == key.String() {
			delete(f.data, k)
			n++
		}
	}
	return n
}

func (f *fakeLocal) has(sym string) bool {
	key, _ := model.MakeKey(sym, jan1, jan31)
	_, ok := f.Get(key)
	return ok
}

type fakeStore struct {
	mu      sync.Mutex
	data    map[string]model.Series
	failGet map[string]bool
	failPut  bool
	delay    time.Duration
	putDelay time.Duration
	track    *tracker
	gets     atomic.Int32
	puts     atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]model.Series{}, failGet: map[string]bool{}}
}

func (f *fakeStore) Get(ctx context.Context, key model.CacheKey) (model.Series, bool, error) {
	f.gets.Add(1)
	f.track.enter()
	defer f.track.exit()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.failGet[key.Symbol] {
		return nil, false, errors.New("connection reset")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.data[key.String()]
	return s, ok, nil
}

func (f *fakeStore) Put(ctx context.Context, key model.CacheKey, s model.Series) error {
	f.puts.Add(1)
	f.track.enter()
	defer f.track.exit()
	if f.putDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.putDelay):
		}
	}
	if f.failPut {
		return errors.New("read-only replica")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key.String()] = s
	return nil
}

func (f *fakeStore) seed(sym string, s model.Series) {
	key, _ := model.MakeKey(sym, jan1, jan31)
	f.data[key.String()] = s
}

func (f *fakeStore) has(sym string) bool {
	key, _ := model.MakeKey(sym, jan1, jan31)
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key.String()]
	return ok
}

type fakeOrigin struct {
	mu    sync.Mutex
	data  map[string]model.Series
	delay time.Duration
	track *tracker
	calls atomic.Int32
	seen  []string
}

func newFakeOrigin() *fakeOrigin { return &fakeOrigin{data: map[string]model.Series{}} }

func (f *fakeOrigin) Name() string { return "fake" }

func (f *fakeOrigin) Fetch(ctx context.Context, symbol string, _, _ time.Time) (model.Series, error) {
	f.calls.Add(1)
	f.track.enter()
	defer f.track.exit()
	f.mu.Lock()
	f.seen = append(f.seen, symbol)
	s, ok := f.data[symbol]
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s: not listed", model.ErrOriginFetchFailed, symbol)
	}
	return s, nil
}

type fakeRecorder struct {
	recorder.NoopRecorder
	mu       sync.Mutex
	runs     []*recorder.RunEvent
	failures []*recorder.PromotionFailure
}

func (r *fakeRecorder) RecordRun(evt *recorder.RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, evt)
	return nil
}

func (r *fakeRecorder) RecordPromotionFailure(evt *recorder.PromotionFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, evt)
	return nil
}

func newTestOrchestrator(t *testing.T, cfg Config, local LocalCache, remote SeriesStore, origin Origin, rec recorder.Recorder) *Orchestrator {
	t.Helper()
	o := New(cfg, local, remote, origin, rec, quietLogger())
	t.Cleanup(o.Close)
	return o
}

func TestGetSeries_EmptyInput(t *testing.T) {
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	o := newTestOrchestrator(t, Config{}, local, remote, origin, nil)

	got, unresolved, err := o.GetSeries(context.Background(), nil, jan1, jan31)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, unresolved)
	assert.Zero(t, local.gets.Load())
	assert.Zero(t, remote.gets.Load())
	assert.Zero(t, origin.calls.Load())
}

func TestGetSeries_InvalidRequestBeforeIO(t *testing.T) {
	tests := []struct {
		name       string
		symbols    []string
		start, end time.Time
	}{
		{"blank symbol", []string{"AAA", " "}, jan1, jan31},
		{"inverted range", []string{"AAA"}, jan31, jan1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
			o := newTestOrchestrator(t, Config{}, local, remote, origin, nil)

			got, unresolved, err := o.GetSeries(context.Background(), tt.symbols, tt.start, tt.end)
			assert.True(t, errors.Is(err, model.ErrInvalidRequest))
			assert.Nil(t, got)
			assert.Nil(t, unresolved)
			assert.Zero(t, local.gets.Load())
			assert.Zero(t, remote.gets.Load())
			assert.Zero(t, origin.calls.Load())
		})
	}
}

func TestGetSeries_TierPrecedence(t *testing.T) {
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	key, _ := model.MakeKey("AAA", jan1, jan31)
	local.data[key.String()] = series(1)
	remote.seed("AAA", series(2))
	origin.data["AAA"] = series(3)
	o := newTestOrchestrator(t, Config{}, local, remote, origin, nil)

	rep, err := o.Resolve(context.Background(), []string{"AAA"}, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, series(1), rep.Series["AAA"])
	assert.Equal(t, model.OutcomeTier1Hit, rep.Outcomes["AAA"])
	assert.Zero(t, remote.gets.Load(), "tier2 not consulted after a tier1 hit")
	assert.Zero(t, origin.calls.Load())

	// Tier2 beats Tier3 once Tier1 is gone.
	o.InvalidateSymbol("AAA")
	rep, err = o.Resolve(context.Background(), []string{"AAA"}, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, series(2), rep.Series["AAA"])
	assert.Equal(t, model.OutcomeTier2Hit, rep.Outcomes["AAA"])
	assert.Zero(t, origin.calls.Load())
}

func TestGetSeries_PromotionMakesNextCallLocal(t *testing.T) {
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	origin.data["AAA"] = series(5)
	o := newTestOrchestrator(t, Config{}, local, remote, origin, nil)

	rep, err := o.Resolve(context.Background(), []string{"AAA"}, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTier3Hit, rep.Outcomes["AAA"])
	o.Flush()

	assert.True(t, local.has("AAA"))
	assert.True(t, remote.has("AAA"))
	storeGets, originCalls := remote.gets.Load(), origin.calls.Load()

	rep, err = o.Resolve(context.Background(), []string{"AAA"}, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTier1Hit, rep.Outcomes["AAA"])
	assert.Equal(t, series(5), rep.Series["AAA"])
	assert.Equal(t, storeGets, remote.gets.Load())
	assert.Equal(t, originCalls, origin.calls.Load())
	assert.Equal(t, uint64(1), o.PromotionStats().Completed)
}

func TestGetSeries_Tier2HitPromotesOnlyToTier1(t *testing.T) {
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	remote.seed("AAA", series(2))
	o := newTestOrchestrator(t, Config{}, local, remote, origin, nil)

	_, _, err := o.GetSeries(context.Background(), []string{"AAA"}, jan1, jan31)
	require.NoError(t, err)
	o.Flush()

	assert.True(t, local.has("AAA"))
	assert.Zero(t, remote.puts.Load())
}

func TestGetSeries_BoundedConcurrency(t *testing.T) {
	tr := &tracker{}
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	remote.track, origin.track = tr, tr
	origin.delay = 20 * time.Millisecond

	symbols := make([]string, 25)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%02d", i)
		origin.data[symbols[i]] = series(float64(i))
	}
	o := newTestOrchestrator(t, Config{}, local, remote, origin, nil)

	started := time.Now()
	rep, err := o.Resolve(context.Background(), symbols, jan1, jan31)
	elapsed := time.Since(started)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Batches)
	assert.Len(t, rep.Series, 25)
	assert.Empty(t, rep.Unresolved)
	assert.GreaterOrEqual(t, elapsed, 2*DefaultBatchDelay, "delay between each pair of batches")
	assert.LessOrEqual(t, tr.peak.Load(), int32(DefaultBatchSize))
	assert.Greater(t, tr.peak.Load(), int32(1), "symbols within a batch overlap")
}

func TestGetSeries_PromotionWritesShareTheLimit(t *testing.T) {
	tr := &tracker{}
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	remote.track, origin.track = tr, tr
	origin.delay = 20 * time.Millisecond
	remote.putDelay = 150 * time.Millisecond

	symbols := make([]string, 25)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%02d", i)
		origin.data[symbols[i]] = series(float64(i))
	}
	o := newTestOrchestrator(t, Config{PromotionWorkers: 8}, local, remote, origin, nil)

	rep, err := o.Resolve(context.Background(), symbols, jan1, jan31)
	require.NoError(t, err)
	assert.Len(t, rep.Series, 25)
	o.Flush()

	assert.Equal(t, int32(25), remote.puts.Load())
	assert.LessOrEqual(t, tr.peak.Load(), int32(DefaultBatchSize), "tier2 writes count against the batch limit")
	for _, s := range symbols {
		assert.True(t, remote.has(s), s)
	}
}

func TestNew_ZeroConfigTakesDefaults(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, newFakeLocal(), newFakeStore(), newFakeOrigin(), nil)
	assert.Equal(t, DefaultBatchSize, o.cfg.BatchSize)
	assert.Equal(t, DefaultBatchDelay, o.cfg.BatchDelay)
	assert.Equal(t, DefaultOriginTimeout, o.cfg.OriginTimeout)

	o = newTestOrchestrator(t, Config{BatchDelay: -time.Second}, newFakeLocal(), newFakeStore(), newFakeOrigin(), nil)
	assert.Equal(t, DefaultBatchDelay, o.cfg.BatchDelay)
}

func TestGetSeries_CallerEditsDoNotReachCache(t *testing.T) {
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	origin.data["AAA"] = series(5)
	o := newTestOrchestrator(t, Config{}, local, remote, origin, nil)

	got, _, err := o.GetSeries(context.Background(), []string{"AAA"}, jan1, jan31)
	require.NoError(t, err)
	got["AAA"][0].Close = -999
	o.Flush()
	got["AAA"][1].Close = -999

	rep, err := o.Resolve(context.Background(), []string{"AAA"}, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTier1Hit, rep.Outcomes["AAA"])
	assert.Equal(t, series(5), rep.Series["AAA"])

	key, _ := model.MakeKey("AAA", jan1, jan31)
	s, _, err := remote.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, series(5), s)
}

func TestGetSeries_BatchesRunInOrder(t *testing.T) {
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	symbols := []string{"A1", "A2", "B1", "B2", "C1"}
	for _, s := range symbols {
		origin.data[s] = series(1)
	}
	o := newTestOrchestrator(t, Config{BatchSize: 2, BatchDelay: time.Millisecond}, local, remote, origin, nil)

	rep, err := o.Resolve(context.Background(), symbols, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Batches)

	origin.mu.Lock()
	defer origin.mu.Unlock()
	require.Len(t, origin.seen, 5)
	assert.ElementsMatch(t, []string{"A1", "A2"}, origin.seen[:2])
	assert.ElementsMatch(t, []string{"B1", "B2"}, origin.seen[2:4])
	assert.Equal(t, "C1", origin.seen[4])
}

func TestGetSeries_PartialSuccess(t *testing.T) {
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	for _, s := range []string{"AAA", "BBB", "CCC", "DDD"} {
		origin.data[s] = series(1)
	}
	remote.failGet["EEE"] = true
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, Config{}, local, remote, origin, rec)

	got, unresolved, err := o.GetSeries(context.Background(), []string{"AAA", "BBB", "CCC", "DDD", "EEE"}, jan1, jan31)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, []string{"EEE"}, unresolved)
	assert.NotContains(t, got, "EEE")

	require.Len(t, rec.runs, 1)
	assert.Equal(t, 5, rec.runs[0].Requested)
	assert.Equal(t, 4, rec.runs[0].Tier3Hits)
	assert.Equal(t, []string{"EEE"}, rec.runs[0].Unresolved)
	assert.NotEmpty(t, rec.runs[0].RunID)
}

func TestGetSeries_DuplicateSymbols(t *testing.T) {
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	origin.data["AAA"] = series(1)
	o := newTestOrchestrator(t, Config{}, local, remote, origin, nil)

	got, unresolved, err := o.GetSeries(context.Background(), []string{"AAA", "ZZZ", "AAA", "ZZZ"}, jan1, jan31)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, []string{"ZZZ"}, unresolved)
	assert.Equal(t, int32(2), origin.calls.Load())
}

func TestGetSeries_OriginTimeout(t *testing.T) {
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	origin.data["SLOW"] = series(1)
	origin.delay = time.Second
	o := newTestOrchestrator(t, Config{OriginTimeout: 30 * time.Millisecond}, local, remote, origin, nil)

	started := time.Now()
	got, unresolved, err := o.GetSeries(context.Background(), []string{"SLOW"}, jan1, jan31)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 500*time.Millisecond)
	assert.Empty(t, got)
	assert.Equal(t, []string{"SLOW"}, unresolved)

	o.Flush()
	assert.Zero(t, remote.puts.Load())
	assert.Zero(t, local.puts.Load())
}

func TestGetSeries_CancelStopsRemainingBatches(t *testing.T) {
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	symbols := make([]string, 15)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%02d", i)
		origin.data[symbols[i]] = series(1)
	}
	o := newTestOrchestrator(t, Config{BatchDelay: time.Second}, local, remote, origin, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	rep, err := o.Resolve(ctx, symbols, jan1, jan31)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, rep)

	assert.Equal(t, 1, rep.Batches)
	assert.Len(t, rep.Series, 10, "first batch completed before the deadline")
	assert.Len(t, rep.Unresolved, 5)
	assert.Equal(t, int32(10), origin.calls.Load())

	// Promotions of the first batch still land after cancellation.
	o.Flush()
	for _, s := range symbols[:10] {
		assert.True(t, remote.has(s), s)
		assert.True(t, local.has(s), s)
	}
}

func TestGetSeries_PromotionFailureIsRecorded(t *testing.T) {
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	origin.data["AAA"] = series(1)
	remote.failPut = true
	rec := &fakeRecorder{}
	o := newTestOrchestrator(t, Config{}, local, remote, origin, rec)

	got, _, err := o.GetSeries(context.Background(), []string{"AAA"}, jan1, jan31)
	require.NoError(t, err)
	assert.Contains(t, got, "AAA", "promotion failure never fails the read")
	o.Flush()

	assert.True(t, local.has("AAA"), "tier1 still written when tier2 rejects")
	assert.Equal(t, uint64(1), o.PromotionStats().Failed)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.failures, 1)
	assert.Equal(t, "AAA", rec.failures[0].Symbol)
	assert.Equal(t, string(model.TierStore), rec.failures[0].Tier)
}

func TestGetSeries_InvalidateForcesRefetch(t *testing.T) {
	local, remote, origin := newFakeLocal(), newFakeStore(), newFakeOrigin()
	origin.data["AAA"] = series(1)
	o := newTestOrchestrator(t, Config{}, local, remote, origin, nil)

	_, _, err := o.GetSeries(context.Background(), []string{"AAA"}, jan1, jan31)
	require.NoError(t, err)
	o.Flush()
	assert.Equal(t, 1, o.InvalidateSymbol("AAA"))

	rep, err := o.Resolve(context.Background(), []string{"AAA"}, jan1, jan31)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTier2Hit, rep.Outcomes["AAA"])
}

func TestPromoter_FullQueueDropsWithoutBlocking(t *testing.T) {
	local, remote := newFakeLocal(), newFakeStore()
	local.block = make(chan struct{})
	rec := &fakeRecorder{}
	p := NewPromoter(local, remote, rec, quietLogger(), 1, 1)
	p.enqueueWait = 10 * time.Millisecond
	defer p.Close()

	key := func(sym string) model.CacheKey {
		k, _ := model.MakeKey(sym, jan1, jan31)
		return k
	}
	// The worker holds AAA on the blocked Tier1 write and BBB fills the queue.
	p.Enqueue(context.Background(), Promotion{Key: key("AAA"), Series: series(1), Source: model.TierStore})
	require.Eventually(t, func() bool { return local.puts.Load() == 1 }, time.Second, time.Millisecond)
	p.Enqueue(context.Background(), Promotion{Key: key("BBB"), Series: series(1), Source: model.TierStore})

	started := time.Now()
	p.Enqueue(context.Background(), Promotion{RunID: "r1", Key: key("CCC"), Series: series(1), Source: model.TierOrigin})
	assert.Less(t, time.Since(started), 500*time.Millisecond, "a full queue never blocks the caller for long")
	assert.Equal(t, uint64(1), p.Stats().Dropped)
	assert.Zero(t, remote.puts.Load(), "dropped job writes nothing")

	close(local.block)
	p.Flush()
	assert.True(t, local.has("AAA"))
	assert.True(t, local.has("BBB"))
	assert.False(t, local.has("CCC"))
	assert.Equal(t, uint64(2), p.Stats().Completed)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.failures, 1)
	assert.Equal(t, "CCC", rec.failures[0].Symbol)
	assert.Equal(t, string(model.TierStore), rec.failures[0].Tier)
	assert.Contains(t, rec.failures[0].Error, "promotion queue full")
}

func TestPromoter_EnqueueAfterCloseDrops(t *testing.T) {
	local, remote := newFakeLocal(), newFakeStore()
	p := NewPromoter(local, remote, recorder.NewNoopRecorder(), quietLogger(), 1, 1)
	p.Close()

	key, _ := model.MakeKey("AAA", jan1, jan31)
	p.Enqueue(context.Background(), Promotion{Key: key, Series: series(1), Source: model.TierOrigin})
	p.Flush()

	assert.False(t, local.has("AAA"))
	assert.False(t, remote.has("AAA"))
	assert.Equal(t, uint64(1), p.Stats().Dropped)
	assert.Zero(t, p.Stats().Completed)
}

func TestGetSeries_EndToEnd(t *testing.T) {
	ctx := context.Background()
	logger := quietLogger()

	local, err := localcache.Open(localcache.Config{Dir: t.TempDir()}, logger)
	require.NoError(t, err)
	remote, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "tier2.db"), logger)
	require.NoError(t, err)
	defer remote.Close()

	aaaKey, err := model.MakeKey("AAA", jan1, jan31)
	require.NoError(t, err)
	bbbKey, err := model.MakeKey("BBB", jan1, jan31)
	require.NoError(t, err)
	require.NoError(t, remote.Put(ctx, aaaKey, series(10)))

	origin := newFakeOrigin()
	origin.data["BBB"] = series(20)
	o := newTestOrchestrator(t, Config{}, local, remote, origin, nil)

	got, unresolved, err := o.GetSeries(ctx, []string{"AAA", "BBB"}, jan1, jan31)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
	assert.Equal(t, series(10), got["AAA"])
	assert.Equal(t, series(20), got["BBB"])
	o.Flush()

	s, ok := local.Get(aaaKey)
	require.True(t, ok)
	assert.Equal(t, series(10), s)
	s, ok = local.Get(bbbKey)
	require.True(t, ok)
	assert.Equal(t, series(20), s)

	s, found, err := remote.Get(ctx, bbbKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, series(20), s)
}
