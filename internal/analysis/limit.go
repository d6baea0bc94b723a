package analysis

import (
	"context"

	"golang.org/x/time/rate"

	"feedsweep/internal/ingest"
)

// Limited spaces calls to the wrapped summarizer with a token bucket.
type Limited struct {
	next    ingest.Summarizer
	limiter *rate.Limiter
}

// NewLimited allows perSecond calls with the given burst. A non-positive
// rate disables limiting.
func NewLimited(next ingest.Summarizer, perSecond float64, burst int) *Limited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Summarize waits for a token, then delegates.
func (l *Limited) Summarize(ctx context.Context, title, content string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.next.Summarize(ctx, title, content)
}
