// Package localcache is the fast, durable, process-local tier. Each entry is
// one JSON file on disk mirrored by an in-memory index; occupancy is the sum
// of the serialized file sizes.
package localcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"MarketCache/internal/model"
)

const (
	// DefaultBudgetBytes is the soft capacity budget of serialized entries.
	DefaultBudgetBytes int64 = 50 << 20
	// DefaultHighWater is the occupancy ratio above which a write sweeps first.
	DefaultHighWater = 0.80
	// DefaultMaxAge is the freshness window.
	DefaultMaxAge = 7 * 24 * time.Hour

	fileExt = ".json"
)

// Config controls a Store.
type Config struct {
	Dir         string
	BudgetBytes int64
	HighWater   float64
	MaxAge      time.Duration
	Now         func() time.Time
}

func (c *Config) applyDefaults() {
	if c.BudgetBytes <= 0 {
		c.BudgetBytes = DefaultBudgetBytes
	}
	if c.HighWater <= 0 || c.HighWater > 1 {
		c.HighWater = DefaultHighWater
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type record struct {
	entry *model.CacheEntry
	size  int64
	file  string
}

// Store is the Tier1 cache. Reads take a shared lock on the index only;
// Put, Sweep and Invalidate are serialized by a single writer lock.
type Store struct {
	cfg    Config
	logger *slog.Logger

	writeMu sync.Mutex

	mu        sync.RWMutex
	records   map[string]*record
	occupancy int64

	evictor *Evictor

	hits      atomic.Uint64
	misses    atomic.Uint64
	staleHits atomic.Uint64
	writeErrs atomic.Uint64
}

// Open creates the cache directory if needed and loads every entry in it.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	cfg.applyDefaults()
	if cfg.Dir == "" {
		return nil, fmt.Errorf("localcache: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	s := &Store{
		cfg:     cfg,
		logger:  logger,
		records: make(map[string]*record),
	}
	s.evictor = &Evictor{store: s}
	if err := s.load(); err != nil {
		return nil, err
	}
	logger.Info("tier1 cache opened", "dir", cfg.Dir, "entries", len(s.records),
		"occupancy_bytes", s.occupancy, "budget_bytes", cfg.BudgetBytes)
	return s, nil
}

func (s *Store) load() error {
	files, err := filepath.Glob(filepath.Join(s.cfg.Dir, "*"+fileExt))
	if err != nil {
		return fmt.Errorf("list cache dir: %w", err)
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read cache entry %s: %w", file, err)
		}
		var entry model.CacheEntry
		err = json.Unmarshal(data, &entry)
		if err == nil {
			err = entry.RestoreKey()
		}
		if err != nil {
			s.logger.Warn("dropping unreadable cache entry", "file", file, "err", err)
			_ = os.Remove(file)
			continue
		}
		id := entry.Key.String()
		s.records[id] = &record{entry: &entry, size: int64(len(data)), file: file}
		s.occupancy += int64(len(data))
	}
	return nil
}

// Get returns a copy of the cached series for key when present and fresh.
// A stale entry is a miss but stays on disk until the next sweep.
func (s *Store) Get(key model.CacheKey) (model.Series, bool) {
	s.mu.RLock()
	rec, ok := s.records[key.String()]
	s.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		return nil, false
	}
	if rec.entry.IsStale(s.cfg.Now(), s.cfg.MaxAge) {
		s.staleHits.Add(1)
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return rec.entry.Series.Clone(), true
}

// Put replaces the entry for key with fetchedAt = now. If the write would
// push occupancy over the high-water mark a staleness sweep runs first. The
// budget is soft: an entry that still does not fit is written anyway.
// A failed write returns an error wrapping model.ErrCacheWriteFailed and
// leaves the previous entry intact.
func (s *Store) Put(key model.CacheKey, series model.Series) error {
	entry := model.NewCacheEntry(key, series.Clone(), s.cfg.Now())
	data, err := json.Marshal(entry)
	if err != nil {
		s.writeErrs.Add(1)
		return fmt.Errorf("%w: encode %s: %v", model.ErrCacheWriteFailed, key, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	id := key.String()
	size := int64(len(data))
	if s.projected(id, size) > s.threshold() {
		s.evictor.sweepLocked()
		if after := s.projected(id, size); after > s.cfg.BudgetBytes {
			s.logger.Warn("tier1 over budget after sweep, writing anyway",
				"key", id, "projected_bytes", after, "budget_bytes", s.cfg.BudgetBytes)
		}
	}

	file := s.fileFor(id)
	if err := writeFileAtomic(file, data); err != nil {
		s.writeErrs.Add(1)
		return fmt.Errorf("%w: %s: %v", model.ErrCacheWriteFailed, key, err)
	}

	s.mu.Lock()
	if old, ok := s.records[id]; ok {
		s.occupancy -= old.size
	}
	s.records[id] = &record{entry: entry, size: size, file: file}
	s.occupancy += size
	s.mu.Unlock()
	return nil
}

// Invalidate removes every entry whose symbol matches pattern. A pattern
// ending in '*' matches by prefix; otherwise the symbol must be equal.
// It returns the number of entries removed.
func (s *Store) Invalidate(pattern string) int {
	match := func(sym string) bool { return sym == pattern }
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		match = func(sym string) bool { return strings.HasPrefix(sym, prefix) }
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	removed := s.removeLocked(func(r *record) bool { return match(r.entry.Key.Symbol) })
	if removed > 0 {
		s.logger.Info("tier1 entries invalidated", "pattern", pattern, "removed", removed)
	}
	return removed
}

// Evictor returns the staleness sweeper bound to this store.
func (s *Store) Evictor() *Evictor { return s.evictor }

// Sweep is shorthand for s.Evictor().Sweep().
func (s *Store) Sweep() SweepResult { return s.evictor.Sweep() }

// Stats is a point-in-time view of the cache.
type Stats struct {
	Entries        int
	OccupancyBytes int64
	BudgetBytes    int64
	Hits           uint64
	Misses         uint64
	StaleHits      uint64
	Evictions      uint64
	WriteFailures  uint64
}

// Stats returns current counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	entries, occ := len(s.records), s.occupancy
	s.mu.RUnlock()
	return Stats{
		Entries:        entries,
		OccupancyBytes: occ,
		BudgetBytes:    s.cfg.BudgetBytes,
		Hits:           s.hits.Load(),
		Misses:         s.misses.Load(),
		StaleHits:      s.staleHits.Load(),
		Evictions:      s.evictor.evictions.Load(),
		WriteFailures:  s.writeErrs.Load(),
	}
}

// Occupancy returns the sum of serialized entry sizes in bytes.
func (s *Store) Occupancy() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.occupancy
}

func (s *Store) threshold() int64 {
	return int64(float64(s.cfg.BudgetBytes) * s.cfg.HighWater)
}

func (s *Store) projected(id string, size int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.occupancy + size
	if old, ok := s.records[id]; ok {
		p -= old.size
	}
	return p
}

// removeLocked deletes matching records from disk and index.
// Must be called with writeMu held.
func (s *Store) removeLocked(match func(*record) bool) int {
	s.mu.RLock()
	var victims []string
	for id, r := range s.records {
		if match(r) {
			victims = append(victims, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range victims {
		s.mu.RLock()
		r := s.records[id]
		s.mu.RUnlock()
		if err := os.Remove(r.file); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove cache entry", "key", id, "err", err)
			continue
		}
		s.mu.Lock()
		delete(s.records, id)
		s.occupancy -= r.size
		s.mu.Unlock()
		removed++
	}
	return removed
}

func (s *Store) fileFor(id string) string {
	h := sha256.Sum256([]byte(id))
	return filepath.Join(s.cfg.Dir, hex.EncodeToString(h[:])+fileExt)
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path, so readers never see a partial entry.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".entry-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
