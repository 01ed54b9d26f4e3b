// Package origin adapts slow external price sources (Tier3).
package origin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"MarketCache/internal/model"
)

// Origin fetches a daily series for symbol over [start, end]. Every error it
// returns wraps model.ErrOriginFetchFailed.
type Origin interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time) (model.Series, error)
	Name() string
}

// newHTTPClient returns a client with an optional proxy. The client timeout
// is a backstop; callers bound each fetch with a context deadline.
func newHTTPClient(proxyURL string) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Timeout:   60 * time.Second,
		Transport: transport,
	}
}

func fetchErr(symbol, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", model.ErrOriginFetchFailed, symbol, fmt.Sprintf(format, args...))
}

// clip keeps the bars within [start, end] (by day).
func clip(s model.Series, start, end time.Time) model.Series {
	start, end = model.Day(start), model.Day(end)
	out := s[:0]
	for _, b := range s {
		if b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
