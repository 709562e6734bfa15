package cache

import (
	"sync"
	"time"

	"vidproxy/work/types"
)

// ResolutionCache remembers extraction outcomes: successful results for the
// positive TTL and failures for the (shorter) negative TTL. All access goes
// through a single mutex; nothing is ever held across an extraction.
type ResolutionCache struct {
	mu             sync.Mutex
	positive       map[string]resolutionEntry
	negative       map[string]time.Time
	positiveTTL    time.Duration
	negativeTTL    time.Duration
	sweepThreshold int
	now            func() time.Time
}

type resolutionEntry struct {
	result   *types.ResolutionResult
	storedAt time.Time
}

// Outcome is the result of a cache lookup.
type Outcome int

const (
	Miss Outcome = iota
	Hit
	NegativeHit
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case NegativeHit:
		return "negative"
	default:
		return "miss"
	}
}

// NewResolutionCache creates a cache with the given lifetimes. An expiry
// sweep of positive entries runs on lookup once more than sweepThreshold
// entries are held.
func NewResolutionCache(positiveTTL, negativeTTL time.Duration, sweepThreshold int) *ResolutionCache {
	return &ResolutionCache{
		positive:       make(map[string]resolutionEntry),
		negative:       make(map[string]time.Time),
		positiveTTL:    positiveTTL,
		negativeTTL:    negativeTTL,
		sweepThreshold: sweepThreshold,
		now:            time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (c *ResolutionCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Lookup checks the cache for key. On Hit the result is returned; on
// NegativeHit and Miss it is nil. Expired entries encountered on the way are
// dropped.
//
// Parameters:
//   - key: ResolutionRequest.Key()
//
// Returns:
//   - *types.ResolutionResult: cached result on Hit
//   - Outcome: Hit, NegativeHit or Miss
func (c *ResolutionCache) Lookup(key string) (*types.ResolutionResult, Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if len(c.positive) > c.sweepThreshold {
		c.sweepLocked(now)
	}

	if entry, ok := c.positive[key]; ok {
		if now.Sub(entry.storedAt) < c.positiveTTL {
			return entry.result, Hit
		}
		delete(c.positive, key)
	}

	if storedAt, ok := c.negative[key]; ok {
		if now.Sub(storedAt) < c.negativeTTL {
			return nil, NegativeHit
		}
		delete(c.negative, key)
	}

	return nil, Miss
}

// Store records an outcome. A nil result is a failure and goes to the
// negative side; a success clears any failure recorded for the key.
func (c *ResolutionCache) Store(key string, result *types.ResolutionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if result == nil {
		c.negative[key] = now
		return
	}
	c.positive[key] = resolutionEntry{result: result, storedAt: now}
	delete(c.negative, key)
}

// sweepLocked drops expired entries from both maps. Caller holds c.mu.
func (c *ResolutionCache) sweepLocked(now time.Time) {
	for key, entry := range c.positive {
		if now.Sub(entry.storedAt) >= c.positiveTTL {
			delete(c.positive, key)
		}
	}
	for key, storedAt := range c.negative {
		if now.Sub(storedAt) >= c.negativeTTL {
			delete(c.negative, key)
		}
	}
}

// Len returns the number of positive and negative entries held, expired or not.
func (c *ResolutionCache) Len() (positive, negative int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.positive), len(c.negative)
}

// Clear drops everything.
func (c *ResolutionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positive = make(map[string]resolutionEntry)
	c.negative = make(map[string]time.Time)
}
