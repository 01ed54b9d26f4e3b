package origin

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"MarketCache/internal/model"
)

// Limited throttles calls to an Origin with a token bucket shared by every
// caller in the process.
type Limited struct {
	next    Origin
	limiter *rate.Limiter
}

// NewLimited allows perSecond requests with the given burst. A non-positive
// rate disables limiting.
func NewLimited(next Origin, perSecond float64, burst int) *Limited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) Name() string { return l.next.Name() }

// Fetch waits for a token, then delegates. A context that ends while waiting
// is reported as an origin failure.
func (l *Limited) Fetch(ctx context.Context, symbol string, start, end time.Time) (model.Series, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fetchErr(symbol, "rate limit wait: %v", err)
	}
	return l.next.Fetch(ctx, symbol, start, end)
}
