package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateBudget tracks the GitHub REST rate limit reported on responses and
// holds requests back once it is spent. A Retry-After header puts the
// budget into a cooldown that every waiter honors.
type RateBudget struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	cooldown  time.Time
	probing   bool
	changed   chan struct{}
	now       func() time.Time
}

func NewRateBudget() *RateBudget {
	return &RateBudget{
		remaining: 5000,
		reset:     time.Now().Add(time.Hour),
		changed:   make(chan struct{}),
		now:       time.Now,
	}
}

func (b *RateBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Wait blocks until one request may be sent or ctx is done.
func (b *RateBudget) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()
		var until time.Time
		switch {
		case now.Before(b.cooldown):
			until = b.cooldown
		case b.remaining > 0:
			b.remaining--
			b.mu.Unlock()
			return nil
		case !now.Before(b.reset) && !b.probing:
			// The window has rolled over; let one request through to learn the new limit.
			b.probing = true
			b.mu.Unlock()
			return nil
		case now.Before(b.reset):
			until = b.reset
		}
		ch := b.changed
		b.mu.Unlock()

		if err := sleepUntil(ctx, now, until, ch); err != nil {
			return err
		}
	}
}

// sleepUntil waits for the deadline, a budget change, or ctx. A zero
// deadline waits only for a change.
func sleepUntil(ctx context.Context, now, until time.Time, changed <-chan struct{}) error {
	var fire <-chan time.Time
	if !until.IsZero() {
		timer := time.NewTimer(max(until.Sub(now), 0))
		defer timer.Stop()
		fire = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
	case <-fire:
	}
	return nil
}

// Observe updates the budget from a response's rate limit headers.
func (b *RateBudget) Observe(resp *http.Response) {
	if b == nil || resp == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	dirty := false
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		if until := b.now().Add(time.Duration(secs) * time.Second); until.After(b.cooldown) {
			b.cooldown = until
			dirty = true
		}
	}
	if n, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining")); err == nil && n >= 0 && n != b.remaining {
		b.remaining = n
		dirty = true
	}
	if unix, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil && unix > 0 {
		if reset := time.Unix(unix, 0); !reset.Equal(b.reset) {
			b.reset = reset
			dirty = true
		}
	}
	if dirty {
		b.probing = false
		close(b.changed)
		b.changed = make(chan struct{})
	}
}

type budgetRoundTripper struct {
	base   http.RoundTripper
	budget *RateBudget
}

func (t *budgetRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.budget.Wait(req.Context()); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	t.budget.Observe(resp)
	return resp, err
}
