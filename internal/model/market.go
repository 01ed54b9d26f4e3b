package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DateLayout is the wire format of a bar date.
const DateLayout = "2006-01-02"

// Bar represents a single daily candlestick bar.
// Extra holds any provider field outside the core OHLCV set; it is carried
// verbatim through every tier.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Extra  map[string]json.RawMessage
}

var coreFields = map[string]struct{}{
	"date": {}, "open": {}, "high": {}, "low": {}, "close": {}, "volume": {},
}

// MarshalJSON flattens Extra next to the core fields.
func (b Bar) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(coreFields)+len(b.Extra))
	for k, v := range b.Extra {
		if _, core := coreFields[k]; core {
			continue
		}
		out[k] = v
	}
	set := func(k string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", k, err)
		}
		out[k] = raw
		return nil
	}
	if err := set("date", b.Date.Format(DateLayout)); err != nil {
		return nil, err
	}
	for k, v := range map[string]float64{
		"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close, "volume": b.Volume,
	} {
		if err := set(k, v); err != nil {
			return nil, err
		}
	}
	// encoding/json sorts map keys, so output is deterministic.
	return json.Marshal(out)
}

// UnmarshalJSON reads the core fields and keeps every other field in Extra.
func (b *Bar) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var bar Bar
	if v, ok := raw["date"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("decode date: %w", err)
		}
		d, err := time.Parse(DateLayout, s)
		if err != nil {
			return fmt.Errorf("decode date: %w", err)
		}
		bar.Date = d
	}
	for k, dst := range map[string]*float64{
		"open": &bar.Open, "high": &bar.High, "low": &bar.Low, "close": &bar.Close, "volume": &bar.Volume,
	} {
		v, ok := raw[k]
		if !ok || bytes.Equal(v, []byte("null")) {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
	}
	for k, v := range raw {
		if _, core := coreFields[k]; core {
			continue
		}
		if bar.Extra == nil {
			bar.Extra = make(map[string]json.RawMessage)
		}
		bar.Extra[k] = append(json.RawMessage(nil), v...)
	}
	*b = bar
	return nil
}

// Series is a date-ascending, duplicate-free run of bars for one symbol.
type Series []Bar

// First returns the earliest bar date, or the zero time for an empty series.
func (s Series) First() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0].Date
}

// Last returns the latest bar date, or the zero time for an empty series.
func (s Series) Last() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Date
}

// Clone returns a deep copy of s, including every bar's Extra fields.
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	for i, b := range s {
		if b.Extra != nil {
			extra := make(map[string]json.RawMessage, len(b.Extra))
			for k, v := range b.Extra {
				extra[k] = append(json.RawMessage(nil), v...)
			}
			b.Extra = extra
		}
		out[i] = b
	}
	return out
}

// NormalizeSeries truncates dates to UTC days, sorts ascending and drops
// duplicate dates. The last bar seen for a date wins.
func NormalizeSeries(bars []Bar) Series {
	if len(bars) == 0 {
		return nil
	}
	byDate := make(map[time.Time]int, len(bars))
	out := make(Series, 0, len(bars))
	for _, b := range bars {
		b.Date = Day(b.Date)
		if i, ok := byDate[b.Date]; ok {
			out[i] = b
			continue
		}
		byDate[b.Date] = len(out)
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
