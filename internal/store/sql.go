package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"MarketCache/internal/model"
)

// SQLStore persists bars in a relational database. Writes are serialized
// per store; reads go straight to the connection pool.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	mu      sync.Mutex
	now     func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open(SQLite.Driver, dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// WAL lets readers proceed while a promotion write is in flight.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set WAL mode")
	}
	return newSQLStore(ctx, db, SQLite, logger)
}

// NewPostgresStore connects to PostgreSQL and runs migrations.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open(Postgres.Driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return newSQLStore(ctx, db, Postgres, logger)
}

func newSQLStore(ctx context.Context, db *sql.DB, d Dialect, logger *slog.Logger) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, logger: logger, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	logger.Info("tier2 store opened", "dialect", d.Name)
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "exec %q", stmt[:40])
		}
	}
	return nil
}

// Get returns the bars of a captured range. A range that was never written
// under exactly this key is a miss, even when its days are all present.
func (s *SQLStore) Get(ctx context.Context, key model.CacheKey) (model.Series, bool, error) {
	p := s.dialect.Placeholder
	start, end := key.RangeStart.Format(model.DateLayout), key.RangeEnd.Format(model.DateLayout)

	var one int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM series_ranges WHERE symbol = %s AND range_start = %s AND range_end = %s`,
			p(1), p(2), p(3)),
		key.Symbol, start, end).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "lookup range %s", key)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT date, open, high, low, close, volume, extra FROM price_bars
			WHERE symbol = %s AND date >= %s AND date <= %s ORDER BY date`, p(1), p(2), p(3)),
		key.Symbol, start, end)
	if err != nil {
		return nil, false, errors.Wrapf(err, "query bars %s", key)
	}
	defer rows.Close()

	var series model.Series
	for rows.Next() {
		var (
			date  string
			extra sql.NullString
			b     model.Bar
		)
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &extra); err != nil {
			return nil, false, errors.Wrap(err, "scan bar")
		}
		if b.Date, err = time.Parse(model.DateLayout, date); err != nil {
			return nil, false, errors.Wrapf(err, "parse bar date %q", date)
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &b.Extra); err != nil {
				return nil, false, errors.Wrap(err, "decode extra fields")
			}
		}
		series = append(series, b)
	}
	if err := rows.Err(); err != nil {
		return nil, false, errors.Wrap(err, "iterate bars")
	}
	if len(series) == 0 {
		return nil, false, nil
	}
	return series, true, nil
}

// Put upserts every bar by (symbol, date) and records the captured range,
// all in one transaction.
func (s *SQLStore) Put(ctx context.Context, key model.CacheKey, series model.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	barStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO price_bars
		(symbol, date, open, high, low, close, volume, extra)
		VALUES (%s)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume, extra = excluded.extra`,
		s.dialect.placeholders(1, 8)))
	if err != nil {
		return errors.Wrap(err, "prepare bar upsert")
	}
	defer barStmt.Close()

	for _, b := range series {
		extra, err := encodeExtra(b.Extra)
		if err != nil {
			return errors.Wrapf(err, "encode extra %s %s", key.Symbol, b.Date.Format(model.DateLayout))
		}
		if _, err := barStmt.ExecContext(ctx, key.Symbol, b.Date.Format(model.DateLayout),
			b.Open, b.High, b.Low, b.Close, b.Volume, extra); err != nil {
			return errors.Wrapf(err, "upsert bar %s %s", key.Symbol, b.Date.Format(model.DateLayout))
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO series_ranges
		(symbol, range_start, range_end, fetched_at) VALUES (%s)
		ON CONFLICT (symbol, range_start, range_end) DO UPDATE SET fetched_at = excluded.fetched_at`,
		s.dialect.placeholders(1, 4)),
		key.Symbol, key.RangeStart.Format(model.DateLayout), key.RangeEnd.Format(model.DateLayout),
		s.now().Unix()); err != nil {
		return errors.Wrapf(err, "upsert range %s", key)
	}

	return errors.Wrap(tx.Commit(), "commit")
}

// Health pings the database.
func (s *SQLStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	s.logger.Info("closing tier2 store", "dialect", s.dialect.Name)
	return s.db.Close()
}

func encodeExtra(extra map[string]json.RawMessage) (sql.NullString, error) {
	if len(extra) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
