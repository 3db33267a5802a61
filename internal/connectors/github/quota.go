package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/trellis/internal/core/domain"
)

// Quota headers sent with every API response.
const (
	headerQuotaLimit     = "X-RateLimit-Limit"
	headerQuotaRemaining = "X-RateLimit-Remaining"
	headerQuotaReset     = "X-RateLimit-Reset"
)

// QuotaReserve is the number of requests left unused in each quota window
// for other clients sharing the token.
const QuotaReserve = 50

// quota paces requests for one source with a token bucket and tracks the
// hourly quota GitHub reports in its response headers.
type quota struct {
	pace *rate.Limiter

	mu        sync.Mutex
	remaining int // -1 until a response carried the header
	limit     int
	resetAt   time.Time
}

func newQuota(rps float64, burst int) *quota {
	if rps <= 0 {
		rps = domain.DefaultRateLimit
	}
	if burst <= 0 {
		burst = domain.DefaultRateBurst
	}
	return &quota{
		pace:      rate.NewLimiter(rate.Limit(rps), burst),
		remaining: -1,
	}
}

// observe records the quota headers of a response.
func (q *quota) observe(resp *http.Response) {
	if resp == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if v, err := strconv.Atoi(resp.Header.Get(headerQuotaRemaining)); err == nil {
		q.remaining = v
	}
	if v, err := strconv.Atoi(resp.Header.Get(headerQuotaLimit)); err == nil {
		q.limit = v
	}
	if v, err := strconv.ParseInt(resp.Header.Get(headerQuotaReset), 10, 64); err == nil {
		q.resetAt = time.Unix(v, 0)
	}
}

// exhausted returns the quota state as a RateLimitError when only the
// reserve is left and the window has not reset yet.
func (q *quota) exhausted(now time.Time) *RateLimitError {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.remaining < 0 || q.remaining > QuotaReserve || !now.Before(q.resetAt) {
		return nil
	}
	return &RateLimitError{ResetAt: q.resetAt, Remaining: q.remaining, Limit: q.limit}
}

// wait paces the next request. With the quota exhausted it sleeps until the
// window resets when that is at most maxWait away, and otherwise returns the
// RateLimitError at once.
func (q *quota) wait(ctx context.Context, maxWait time.Duration) error {
	if err := q.pace.Wait(ctx); err != nil {
		return err
	}

	rlErr := q.exhausted(time.Now())
	if rlErr == nil {
		return nil
	}
	d := time.Until(rlErr.ResetAt)
	if d > maxWait {
		return rlErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
