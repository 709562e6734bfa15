package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProxyRequests counts /proxy/video requests by how they ended: "streamed",
// "manifest", "segment", "cache_hit", "head", "upstream_error", "bad_request"
// or "proxy_error".
var ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidproxy_requests_total",
	Help: "Proxy requests by outcome",
}, []string{"outcome"})

// ActiveStreams tracks progressive responses currently being copied to clients.
var ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "vidproxy_active_streams",
	Help: "Number of responses currently streaming",
})

// BytesTransferred counts body bytes written to clients, by response kind.
var BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidproxy_bytes_transferred_total",
	Help: "Total bytes written to clients",
}, []string{"kind"})

// UpstreamErrors counts upstream responses with status >= 400.
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidproxy_upstream_errors_total",
	Help: "Upstream error responses by status code",
}, []string{"status"})

// CacheLookups counts cache lookups by cache ("segment", "resolution",
// "subtitle") and result ("hit", "miss", "negative").
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidproxy_cache_lookups_total",
	Help: "Cache lookups by cache and result",
}, []string{"cache", "result"})

// Resolutions counts extractor runs by outcome.
var Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidproxy_resolutions_total",
	Help: "Extraction attempts by outcome",
}, []string{"outcome"})

// ResolutionDuration observes wall time of extractor runs.
var ResolutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "vidproxy_resolution_duration_seconds",
	Help:    "Extractor run time",
	Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 25, 30},
})

// Prefetches counts background segment warm-ups by outcome.
var Prefetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vidproxy_prefetch_total",
	Help: "Segment prefetch attempts by outcome",
}, []string{"outcome"})
