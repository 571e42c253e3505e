// Package throttle rate-limits client invocations with a token bucket.
package throttle

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/wesleyorama2/fetchx/http"
)

// Throttle delays invocations at beforeActualFetch until a token is
// available. Invocations short-circuited earlier never take a token.
type Throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// New allows rps invocations per second with bursts of up to burst. A
// non-positive rps means unlimited.
func New(rps float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Throttle{limiter: rate.NewLimiter(limit, burst)}
}

// SetRate changes the limit and burst of a running throttle.
func (t *Throttle) SetRate(rps float64, burst int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	t.limiter.SetBurst(burst)
	t.limiter.SetLimit(limit)
}

// Limit returns the current rate in invocations per second.
func (t *Throttle) Limit() float64 {
	return float64(t.limiter.Limit())
}

// Hook waits for a token. Cancelling the invocation or its timeout firing
// aborts the wait with the context's error.
func (t *Throttle) Hook(ctx *http.Context) (http.Result, error) {
	if err := t.limiter.Wait(ctx.Context()); err != nil {
		return http.Result{}, err
	}
	return http.Continue(ctx), nil
}

// Attach registers the hook on c ahead of other beforeActualFetch hooks.
func (t *Throttle) Attach(c *http.Client) (http.HookID, error) {
	return c.On(http.BeforeActualFetch, t.Hook, true)
}
