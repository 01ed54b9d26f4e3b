package store

import (
	"fmt"
	"strings"
)

// Dialect captures the differences between the SQL backends.
type Dialect struct {
	Name   string
	Driver string
	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	Migrations  []string
}

func (d Dialect) placeholders(from, count int) string {
	list := make([]string, 0, count)
	for i := 0; i < count; i++ {
		list = append(list, d.Placeholder(from+i))
	}
	return strings.Join(list, ", ")
}

// SQLite uses "?" parameters.
var SQLite = Dialect{
	Name:        "sqlite",
	Driver:      "sqlite",
	Placeholder: func(int) string { return "?" },
	Migrations: []string{
		`CREATE TABLE IF NOT EXISTS price_bars (
			symbol TEXT    NOT NULL,
			date   TEXT    NOT NULL,
			open   REAL,
			high   REAL,
			low    REAL,
			close  REAL,
			volume REAL,
			extra  TEXT,
			PRIMARY KEY (symbol, date)
		)`,
		`CREATE TABLE IF NOT EXISTS series_ranges (
			symbol      TEXT    NOT NULL,
			range_start TEXT    NOT NULL,
			range_end   TEXT    NOT NULL,
			fetched_at  INTEGER NOT NULL,
			PRIMARY KEY (symbol, range_start, range_end)
		)`,
	},
}

// Postgres uses "$n" parameters.
var Postgres = Dialect{
	Name:        "postgres",
	Driver:      "postgres",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Migrations: []string{
		`CREATE TABLE IF NOT EXISTS price_bars (
			symbol TEXT             NOT NULL,
			date   TEXT             NOT NULL,
			open   DOUBLE PRECISION,
			high   DOUBLE PRECISION,
			low    DOUBLE PRECISION,
			close  DOUBLE PRECISION,
			volume DOUBLE PRECISION,
			extra  TEXT,
			PRIMARY KEY (symbol, date)
		)`,
		`CREATE TABLE IF NOT EXISTS series_ranges (
			symbol      TEXT   NOT NULL,
			range_start TEXT   NOT NULL,
			range_end   TEXT   NOT NULL,
			fetched_at  BIGINT NOT NULL,
			PRIMARY KEY (symbol, range_start, range_end)
		)`,
	},
}
