package model

import (
	"fmt"
	"strings"
	"time"
)

// CacheKey identifies one (symbol, date-range) request.
type CacheKey struct {
	Symbol     string
	RangeStart time.Time
	RangeEnd   time.Time
}

// MakeKey builds the key for symbol over [start, end]. The bounds are
// checked as given, then truncated to UTC days, so requests for the same
// days yield equal keys.
func MakeKey(symbol string, start, end time.Time) (CacheKey, error) {
	if strings.TrimSpace(symbol) == "" {
		return CacheKey{}, fmt.Errorf("%w: empty symbol", ErrInvalidRequest)
	}
	if start.After(end) {
		return CacheKey{}, fmt.Errorf("%w: range start %s after end %s",
			ErrInvalidRequest, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return CacheKey{Symbol: symbol, RangeStart: Day(start), RangeEnd: Day(end)}, nil
}

// String returns the canonical form. The symbol is length-prefixed so a
// symbol containing ':' cannot alias another key.
func (k CacheKey) String() string {
	return fmt.Sprintf("%d:%s:%s:%s", len(k.Symbol), k.Symbol,
		k.RangeStart.Format(DateLayout), k.RangeEnd.Format(DateLayout))
}

// CacheEntry is a Tier1/Tier2 record. Entries are replaced wholesale.
type CacheEntry struct {
	Key       CacheKey  `json:"-"`
	Symbol    string    `json:"symbol"`
	Start     string    `json:"range_start"`
	End       string    `json:"range_end"`
	Series    Series    `json:"series"`
	FetchedAt time.Time `json:"fetched_at"`
}

// NewCacheEntry stamps series for key with fetchedAt.
func NewCacheEntry(key CacheKey, series Series, fetchedAt time.Time) *CacheEntry {
	return &CacheEntry{
		Key:       key,
		Symbol:    key.Symbol,
		Start:     key.RangeStart.Format(DateLayout),
		End:       key.RangeEnd.Format(DateLayout),
		Series:    series,
		FetchedAt: fetchedAt,
	}
}

// RestoreKey rebuilds Key from the serialized fields after decoding.
func (e *CacheEntry) RestoreKey() error {
	start, err := time.Parse(DateLayout, e.Start)
	if err != nil {
		return fmt.Errorf("parse range start: %w", err)
	}
	end, err := time.Parse(DateLayout, e.End)
	if err != nil {
		return fmt.Errorf("parse range end: %w", err)
	}
	key, err := MakeKey(e.Symbol, start, end)
	if err != nil {
		return err
	}
	e.Key = key
	return nil
}

// IsStale reports whether the entry is older than maxAge at now.
func (e *CacheEntry) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(e.FetchedAt) > maxAge
}
