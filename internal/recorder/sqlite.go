package recorder

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists fetch history to a SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, logger *slog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboards can read while runs are being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite recorder opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fetch_runs (
			run_id       TEXT PRIMARY KEY,
			timestamp    INTEGER NOT NULL,
			duration_ms  INTEGER,
			range_start  TEXT,
			range_end    TEXT,
			requested    INTEGER,
			batches      INTEGER,
			tier1_hits   INTEGER,
			tier2_hits   INTEGER,
			tier3_hits   INTEGER,
			unresolved   INTEGER,
			unresolved_symbols TEXT,
			cancelled    INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_ts ON fetch_runs(timestamp)`,

		`CREATE TABLE IF NOT EXISTS promotion_failures (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			run_id    TEXT,
			symbol    TEXT,
			cache_key TEXT,
			tier      TEXT,
			error     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_promo_ts ON promotion_failures(timestamp)`,

		`CREATE TABLE IF NOT EXISTS sweeps (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       INTEGER NOT NULL,
			removed         INTEGER,
			freed_bytes     INTEGER,
			occupancy_bytes INTEGER,
			over_budget     INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sweeps_ts ON sweeps(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordRun(evt *RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO fetch_runs
		(run_id, timestamp, duration_ms, range_start, range_end, requested, batches,
		 tier1_hits, tier2_hits, tier3_hits, unresolved, unresolved_symbols, cancelled)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		evt.RunID, evt.StartedAt.Unix(), evt.Duration.Milliseconds(),
		evt.RangeStart.Format("2006-01-02"), evt.RangeEnd.Format("2006-01-02"),
		evt.Requested, evt.Batches, evt.Tier1Hits, evt.Tier2Hits, evt.Tier3Hits,
		len(evt.Unresolved), strings.Join(evt.Unresolved, ","), btoi(evt.Cancelled),
	)
	return err
}

func (r *SQLiteRecorder) RecordPromotionFailure(evt *PromotionFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO promotion_failures
		(timestamp, run_id, symbol, cache_key, tier, error)
		VALUES (?,?,?,?,?,?)`,
		time.Now().Unix(), evt.RunID, evt.Symbol, evt.Key, evt.Tier, evt.Error,
	)
	return err
}

func (r *SQLiteRecorder) RecordSweep(evt *SweepEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO sweeps
		(timestamp, removed, freed_bytes, occupancy_bytes, over_budget)
		VALUES (?,?,?,?,?)`,
		time.Now().Unix(), evt.Removed, evt.FreedBytes, evt.OccupancyBytes, btoi(evt.OverBudget),
	)
	return err
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info("closing sqlite recorder")
	return r.db.Close()
}
