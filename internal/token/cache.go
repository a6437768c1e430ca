package token

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long torrentapi honours a token.
const DefaultTTL = 15 * time.Minute

type State int

const (
	Empty State = iota
	Valid
	Expired
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return "empty"
	}
}

// Fetcher asks the upstream for a brand new token.
type Fetcher func(ctx context.Context) (string, error)

// Cache holds one upstream token and refreshes it when it goes stale.
// Only one refresh runs at a time; callers that queue behind it re-check
// freshness before fetching again.
type Cache struct {
	fetch Fetcher
	ttl   time.Duration
	now   func() time.Time

	// sem serializes refreshes and still lets waiters give up on ctx.
	sem chan struct{}

	mu       sync.RWMutex
	value    string
	issuedAt time.Time
	fetches  uint64
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func NewCache(fetch Fetcher, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		fetch: fetch,
		ttl:   ttl,
		now:   time.Now,
		sem:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a fresh token, fetching one first if the cache is empty or
// expired. A failed fetch leaves the cache as it was.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.fresh(); ok {
		return tok, nil
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-c.sem }()

	// Someone else may have refreshed while we queued.
	if tok, ok := c.fresh(); ok {
		return tok, nil
	}

	tok, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.value = tok
	c.issuedAt = c.now()
	c.fetches++
	c.mu.Unlock()

	return tok, nil
}

// Invalidate forgets the current token so the next Token call refreshes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = ""
	c.issuedAt = time.Time{}
}

// Current reports whether tok is still the cached token and within its TTL.
func (c *Cache) Current(tok string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return tok != "" && tok == c.value && c.stateLocked() == Valid
}

func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

// Fetches reports how many successful refreshes have happened.
func (c *Cache) Fetches() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetches
}

func (c *Cache) fresh() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stateLocked() != Valid {
		return "", false
	}
	return c.value, true
}

func (c *Cache) stateLocked() State {
	if c.value == "" {
		return Empty
	}
	if c.now().Sub(c.issuedAt) >= c.ttl {
		return Expired
	}
	return Valid
}
