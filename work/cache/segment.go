package cache

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
)

var extm3u = []byte("#EXTM3U")

// SegmentCache holds media segment bodies keyed by their upstream URL. It is
// bounded by total bytes and entries expire a fixed time after they were
// written. Reads never block on writers.
type SegmentCache struct {
	cache    *otter.Cache[string, []byte]
	maxBytes int64
	ttl      time.Duration
}

// NewSegmentCache creates a cache holding at most maxBytes of segment data,
// each entry living ttl after its write.
func NewSegmentCache(maxBytes int64, ttl time.Duration) (*SegmentCache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("segment cache size must be positive, got %d", maxBytes)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("segment cache ttl must be positive, got %s", ttl)
	}

	c, err := otter.New(&otter.Options[string, []byte]{
		MaximumWeight:    uint64(maxBytes),
		Weigher:          weighSegment,
		ExpiryCalculator: otter.ExpiryWriting[string, []byte](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("create segment cache: %w", err)
	}

	return &SegmentCache{cache: c, maxBytes: maxBytes, ttl: ttl}, nil
}

func weighSegment(key string, value []byte) uint32 {
	w := int64(len(key)) + int64(len(value))
	if w > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(w)
}

// Get returns the cached body for key. The slice is shared and must not be
// modified.
func (sc *SegmentCache) Get(key string) ([]byte, bool) {
	return sc.cache.GetIfPresent(key)
}

// Set stores a copy of data under key. Empty bodies and anything that looks
// like a playlist are refused; playlists change between fetches.
func (sc *SegmentCache) Set(key string, data []byte) bool {
	if len(data) == 0 || IsManifest(key, data) {
		return false
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	sc.cache.Set(key, owned)
	return true
}

// IsManifest reports whether key or data identify HLS playlist content.
func IsManifest(key string, data []byte) bool {
	if strings.Contains(strings.ToLower(key), ".m3u8") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n\ufeff"), extm3u)
}

// Invalidate removes a single entry.
func (sc *SegmentCache) Invalidate(key string) {
	sc.cache.Invalidate(key)
}

// Clear drops every entry.
func (sc *SegmentCache) Clear() {
	sc.cache.InvalidateAll()
}

// Len is the approximate number of entries held.
func (sc *SegmentCache) Len() int {
	return sc.cache.EstimatedSize()
}

// Bytes is the approximate total weight held.
func (sc *SegmentCache) Bytes() uint64 {
	return sc.cache.WeightedSize()
}

// MaxBytes is the configured bound.
func (sc *SegmentCache) MaxBytes() int64 {
	return sc.maxBytes
}
