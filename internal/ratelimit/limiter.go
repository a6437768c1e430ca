package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces outbound calls at least one interval apart, process wide.
//
// Each acquisition reserves the next free slot: scheduled = max(now, next),
// next = scheduled + interval. Slots are handed out in arrival order.
type Limiter struct {
	mu       sync.Mutex
	lim      *rate.Limiter
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		lim:      rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve books the next slot and returns the instant the caller may run.
func (l *Limiter) Reserve() time.Time {
	s := l.reserve()
	return s.at
}

type slot struct {
	at    time.Time
	delay time.Duration
	prev  time.Time
	r     *rate.Reservation
}

func (l *Limiter) reserve() slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	r := l.lim.ReserveN(now, 1)
	at := now.Add(r.DelayFrom(now))

	// rate.Limiter keeps tokens as float64, which can land a slot a
	// nanosecond early. The previous slot plus interval is the hard floor.
	if !l.last.IsZero() {
		if floor := l.last.Add(l.interval); at.Before(floor) {
			at = floor
		}
	}

	s := slot{at: at, delay: at.Sub(now), prev: l.last, r: r}
	l.last = at
	return s
}

// Wait blocks until the caller's slot comes up. It never fails except when
// ctx ends first, in which case the slot is handed back.
func (l *Limiter) Wait(ctx context.Context) error {
	s := l.reserve()
	if s.delay <= 0 {
		return nil
	}

	t := time.NewTimer(s.delay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		s.r.CancelAt(l.now())
		if l.last.Equal(s.at) {
			l.last = s.prev
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}
