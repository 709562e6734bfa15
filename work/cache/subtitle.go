package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// SubtitleCache keeps converted WebVTT documents keyed by source URL.
type SubtitleCache struct {
	cache *ristretto.Cache[string, []byte]
	ttl   time.Duration
}

func NewSubtitleCache(maxBytes int64, ttl time.Duration) (*SubtitleCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create subtitle cache: %w", err)
	}

	return &SubtitleCache{cache: c, ttl: ttl}, nil
}

func (sc *SubtitleCache) Get(key string) ([]byte, bool) {
	return sc.cache.Get(key)
}

// Set stores value. Admission is asynchronous; call Wait to observe it.
func (sc *SubtitleCache) Set(key string, value []byte) bool {
	return sc.cache.SetWithTTL(key, value, int64(len(value)), sc.ttl)
}

// Wait blocks until pending Sets are applied.
func (sc *SubtitleCache) Wait() {
	sc.cache.Wait()
}

func (sc *SubtitleCache) Clear() {
	sc.cache.Clear()
}

func (sc *SubtitleCache) Close() {
	sc.cache.Close()
}
