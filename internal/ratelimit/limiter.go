// Package ratelimit implements fixed-window request accounting per principal.
// Every admitted call is counted in two windows, minute and hour, and a call
// is admitted only when both windows have budget left.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"verigate.io/internal/obs"
)

// WindowType is the accounting granularity of a rate window.
type WindowType string

const (
	WindowMinute WindowType = "minute"
	WindowHour   WindowType = "hour"
)

// Retention horizon for stale windows; anything older is dead weight.
const DefaultRetention = 24 * time.Hour

// ErrLimitExceeded is the sentinel wrapped by every denial.
var ErrLimitExceeded = errors.New("ratelimit: limit exceeded")

// Denial describes which window rejected the call.
type Denial struct {
	Window     WindowType
	Limit      int
	RetryAfter time.Duration
}

func (d *Denial) Error() string {
	return fmt.Sprintf("ratelimit: %s limit of %d exceeded", d.Window, d.Limit)
}

func (d *Denial) Unwrap() error { return ErrLimitExceeded }

// Store is the atomic counter contract. IncrWithin must check and increment
// in one step: when the stored count has already reached limit it returns
// allowed=false without incrementing, so a denied call never counts.
type Store interface {
	IncrWithin(ctx context.Context, principalID string, window WindowType, windowStart time.Time, limit int) (count int, allowed bool, err error)
	Decr(ctx context.Context, principalID string, window WindowType, windowStart time.Time) error
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// Limiter admits or rejects calls against per-principal minute and hour budgets.
type Limiter struct {
	store Store
	now   func() time.Time
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New constructs a Limiter over the given counter store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit counts the call against both windows and returns a *Denial error when
// either budget is exhausted. The minute window is checked first, so when both
// are at capacity the more restrictive violation is the one reported. A limit
// of zero or below means the window is not enforced.
func (l *Limiter) Admit(ctx context.Context, principalID string, perMinute, perHour int) error {
	now := l.now().UTC()

	minuteStart := now.Truncate(time.Minute)
	if perMinute > 0 {
		_, allowed, err := l.store.IncrWithin(ctx, principalID, WindowMinute, minuteStart, perMinute)
		if err != nil {
			return err
		}
		if !allowed {
			obs.ObserveRateLimitDenied(string(WindowMinute))
			return &Denial{
				Window:     WindowMinute,
				Limit:      perMinute,
				RetryAfter: minuteStart.Add(time.Minute).Sub(now),
			}
		}
	}

	hourStart := now.Truncate(time.Hour)
	if perHour > 0 {
		_, allowed, err := l.store.IncrWithin(ctx, principalID, WindowHour, hourStart, perHour)
		if err != nil {
			return err
		}
		if !allowed {
			// The minute increment above must not charge a denied call.
			if perMinute > 0 {
				_ = l.store.Decr(ctx, principalID, WindowMinute, minuteStart)
			}
			obs.ObserveRateLimitDenied(string(WindowHour))
			return &Denial{
				Window:     WindowHour,
				Limit:      perHour,
				RetryAfter: hourStart.Add(time.Hour).Sub(now),
			}
		}
	}
	return nil
}

// Sweep deletes windows older than the retention horizon.
func (l *Limiter) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return l.store.Purge(ctx, l.now().UTC().Add(-retention))
}

// StartSweeper runs Sweep on a ticker until the context is cancelled.
func (l *Limiter) StartSweeper(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := l.Sweep(ctx, retention); err != nil {
					obs.LogRequest(map[string]any{
						"level": "error", "msg": "rate window sweep failed", "error": err.Error(),
					})
				} else if n > 0 {
					obs.LogRequest(map[string]any{
						"level": "info", "msg": "rate windows purged", "count": n,
					})
				}
			}
		}
	}()
}
