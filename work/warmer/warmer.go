package warmer

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"vidproxy/work/buffer"
	"vidproxy/work/client"
	"vidproxy/work/config"
	"vidproxy/work/logger"
	"vidproxy/work/metrics"
	"vidproxy/work/utils"
)

const (
	fetchTimeout = 30 * time.Second
	// tracked URLs per worker; enough to cover several refreshes of a live window
	trackerPerWorker = 64
)

// SegmentStore is the cache the warmer fills.
type SegmentStore interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte) bool
}

// Stats is a snapshot for the admin API.
type Stats struct {
	Enabled bool `json:"enabled"`
	Running int  `json:"running"`
	Workers int  `json:"workers"`
	Tracked int  `json:"tracked"`
	Hosts   int  `json:"hosts"`
}

// Warmer fetches upcoming segments of force-proxied playlists into the
// segment cache ahead of the player asking for them.
type Warmer struct {
	cfg      *config.Config
	client   *client.HeaderSettingClient
	store    SegmentStore
	buffers  *buffer.BufferPool
	pool     *ants.Pool
	limiters *xsync.MapOf[string, ratelimit.Limiter]
	tracker  *SegmentTracker
	inflight sync.WaitGroup

	segments    int
	ratePerHost int
	maxBytes    int64
}

// New builds a warmer sized from cfg.Prefetch.
func New(cfg *config.Config, hc *client.HeaderSettingClient, store SegmentStore, buffers *buffer.BufferPool) (*Warmer, error) {
	pool, err := ants.NewPool(cfg.Prefetch.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	if buffers == nil {
		buffers = buffer.NewBufferPool()
	}

	return &Warmer{
		cfg:         cfg,
		client:      hc,
		store:       store,
		buffers:     buffers,
		pool:        pool,
		limiters:    xsync.NewMapOf[string, ratelimit.Limiter](),
		tracker:     NewSegmentTracker(cfg.Prefetch.Workers * trackerPerWorker),
		segments:    cfg.Prefetch.Segments,
		ratePerHost: cfg.Prefetch.RatePerHost,
		maxBytes:    cfg.Proxy.MaxSegmentSize,
	}, nil
}

// Select picks the segments worth warming: the head of a VOD playlist, or
// the tail of a live window where the player joins.
func (w *Warmer) Select(segments []string, isLive bool) []string {
	n := w.segments
	if n <= 0 || len(segments) == 0 {
		return nil
	}
	if n > len(segments) {
		n = len(segments)
	}
	if isLive {
		return segments[len(segments)-n:]
	}
	return segments[:n]
}

// Warm queues background fetches for the selected segments and returns how
// many were queued. It never blocks: when the pool is saturated the rest
// are dropped.
//
// Parameters:
//   - segments: absolute segment URLs in playlist order
//   - isLive: whether the playlist is a live window
//   - opts: upstream headers to fetch with
//
// Returns:
//   - int: number of fetches submitted
func (w *Warmer) Warm(segments []string, isLive bool, opts client.Options) int {
	opts.Range = ""
	queued := 0

	for _, seg := range w.Select(segments, isLive) {
		if _, cached := w.store.Get(seg); cached {
			continue
		}
		if !w.tracker.MarkIfNew(seg) {
			continue
		}

		target := seg
		w.inflight.Add(1)
		err := w.pool.Submit(func() {
			defer w.inflight.Done()
			w.fetch(target, opts)
		})
		if err != nil {
			w.inflight.Done()
			w.tracker.Forget(target)
			metrics.Prefetches.WithLabelValues("dropped").Inc()
			if !errors.Is(err, ants.ErrPoolOverload) {
				logger.Warn("{warmer - Warm} submit failed: %v", err)
			}
			continue
		}
		queued++
	}

	if queued > 0 {
		logger.Debug("{warmer - Warm} queued %d of %d segments (live=%t)", queued, len(segments), isLive)
	}
	return queued
}

func (w *Warmer) fetch(target string, opts client.Options) {
	w.limiterFor(target).Take()

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	resp, err := w.client.Get(ctx, target, opts)
	if err != nil {
		w.tracker.Forget(target)
		metrics.Prefetches.WithLabelValues("error").Inc()
		logger.Debug("{warmer - fetch} %s: %v", utils.LogURL(w.cfg, target), err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.tracker.Forget(target)
		metrics.Prefetches.WithLabelValues("upstream_error").Inc()
		logger.Debug("{warmer - fetch} %s returned %d", utils.LogURL(w.cfg, target), resp.StatusCode)
		return
	}

	data, err := w.buffers.ReadAll(resp.Body, w.maxBytes)
	if err != nil {
		w.tracker.Forget(target)
		metrics.Prefetches.WithLabelValues("error").Inc()
		logger.Debug("{warmer - fetch} reading %s: %v", utils.LogURL(w.cfg, target), err)
		return
	}

	if !w.store.Set(target, data) {
		metrics.Prefetches.WithLabelValues("rejected").Inc()
		return
	}
	metrics.Prefetches.WithLabelValues("stored").Inc()
}

func (w *Warmer) limiterFor(target string) ratelimit.Limiter {
	host := target
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		host = u.Host
	}
	limiter, _ := w.limiters.LoadOrCompute(host, func() ratelimit.Limiter {
		if w.ratePerHost <= 0 {
			return ratelimit.NewUnlimited()
		}
		return ratelimit.New(w.ratePerHost)
	})
	return limiter
}

// Wait blocks until every queued fetch has finished.
func (w *Warmer) Wait() {
	w.inflight.Wait()
}

// Stats reports pool and tracker usage.
func (w *Warmer) Stats() Stats {
	return Stats{
		Enabled: w.cfg.Prefetch.Enabled,
		Running: w.pool.Running(),
		Workers: w.pool.Cap(),
		Tracked: w.tracker.Size(),
		Hosts:   w.limiters.Size(),
	}
}

// Close waits up to timeout for in-flight fetches and releases the pool.
func (w *Warmer) Close(timeout time.Duration) error {
	return w.pool.ReleaseTimeout(timeout)
}
