package gdrive

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Drive's per-user quota is 10 requests per second.
const (
	pacePerSecond     = 8.0
	paceBurst         = 10
	defaultRetryAfter = time.Minute
)

// pacer spaces Drive calls and holds them all back after a 429.
type pacer struct {
	bucket *rate.Limiter

	mu         sync.Mutex
	pauseUntil time.Time
}

func newPacer(perSecond float64, burst int) *pacer {
	return &pacer{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (p *pacer) resumeAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauseUntil
}

// wait blocks for any pause, then for a bucket token.
func (p *pacer) wait(ctx context.Context) error {
	if d := time.Until(p.resumeAt()); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.bucket.Wait(ctx)
}

// pause holds calls for d, or defaultRetryAfter when d is not positive.
func (p *pacer) pause(d time.Duration) {
	if d <= 0 {
		d = defaultRetryAfter
	}
	p.mu.Lock()
	p.pauseUntil = time.Now().Add(d)
	p.mu.Unlock()
}

// ready reports whether a call could go out now, consuming a token if so.
func (p *pacer) ready() bool {
	return !time.Now().Before(p.resumeAt()) && p.bucket.Allow()
}
