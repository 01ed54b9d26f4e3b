package origin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"MarketCache/internal/model"
)

// RESTOrigin fetches daily bars from a bearer-authenticated REST bar API:
//
//	GET {base}/api/v1/bars/daily?symbol=S&from=YYYY-MM-DD&to=YYYY-MM-DD
//
// The response is a JSON array of bars with a unix "timestamp" plus OHLCV
// fields. Any other field is kept in Bar.Extra.
type RESTOrigin struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewRESTOrigin creates a REST origin with optional proxy support.
func NewRESTOrigin(baseURL, apiKey, proxyURL string) *RESTOrigin {
	return &RESTOrigin{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  newHTTPClient(proxyURL),
	}
}

func (r *RESTOrigin) Name() string { return "rest" }

// restBar is one element of the API response. Fields outside the core set
// are collected separately so they survive into the series.
type restBar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	extra     map[string]json.RawMessage
}

var restCore = map[string]struct{}{
	"timestamp": {}, "open": {}, "high": {}, "low": {}, "close": {}, "volume": {},
}

func (b *restBar) UnmarshalJSON(data []byte) error {
	type plain restBar
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if _, core := restCore[k]; core {
			continue
		}
		if p.extra == nil {
			p.extra = make(map[string]json.RawMessage)
		}
		p.extra[k] = v
	}
	*b = restBar(p)
	return nil
}

// Fetch requests the daily bars between start and end inclusive.
func (r *RESTOrigin) Fetch(ctx context.Context, symbol string, start, end time.Time) (model.Series, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("from", model.Day(start).Format(model.DateLayout))
	q.Set("to", model.Day(end).Format(model.DateLayout))
	endpoint := fmt.Sprintf("%s/api/v1/bars/daily?%s", r.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fetchErr(symbol, "build request: %v", err)
	}
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fetchErr(symbol, "fetch bars: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fetchErr(symbol, "read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fetchErr(symbol, "fetch bars: status %d, body: %s", resp.StatusCode, truncate(body, 256))
	}

	var rows []restBar
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&rows); err != nil {
		return nil, fetchErr(symbol, "decode bars: %v", err)
	}
	bars := make([]model.Bar, len(rows))
	for i, rb := range rows {
		bars[i] = model.Bar{
			Date:   time.Unix(rb.Timestamp, 0),
			Open:   rb.Open,
			High:   rb.High,
			Low:    rb.Low,
			Close:  rb.Close,
			Volume: rb.Volume,
			Extra:  rb.extra,
		}
	}

	series := clip(model.NormalizeSeries(bars), start, end)
	if len(series) == 0 {
		return nil, fetchErr(symbol, "unknown symbol or no bars in range")
	}
	return series, nil
}
