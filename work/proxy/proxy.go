package proxy

import (
	"context"
	"net/url"
	"strings"

	"vidproxy/work/buffer"
	"vidproxy/work/cache"
	"vidproxy/work/client"
	"vidproxy/work/config"
	"vidproxy/work/parser"
	"vidproxy/work/types"
)

// Resolver turns a page URL into a playable stream URL. A nil result means
// the URL should be fetched as given.
type Resolver interface {
	Resolve(ctx context.Context, req types.ResolutionRequest) *types.ResolutionResult
}

// SegmentStore holds raw segment bytes keyed by absolute URL.
type SegmentStore interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte) bool
}

// Prefetcher warms upcoming segments of a force-proxied playlist.
type Prefetcher interface {
	Warm(segments []string, isLive bool, opts client.Options) int
}

// StreamProxy is the proxy orchestrator: it resolves, fetches, classifies,
// rewrites and forwards media for browser clients.
type StreamProxy struct {
	Config     *config.Config
	HttpClient *client.HeaderSettingClient
	Resolver   Resolver
	Segments   SegmentStore
	Subtitles  *cache.SubtitleCache
	Prefetcher Prefetcher
	BufferPool *buffer.BufferPool
	Classifier *parser.LivenessClassifier
}

// New wires a StreamProxy. subtitles and prefetcher may be nil.
//
// Parameters:
//   - cfg: application configuration
//   - httpClient: shared upstream client
//   - resolver: extraction resolver consulted for page URLs
//   - segments: segment byte cache
//   - subtitles: converted subtitle cache
//   - prefetcher: segment warmer for force-proxied playlists
//   - bufferPool: pool for whole-body reads
//
// Returns:
//   - *StreamProxy: ready to serve
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, resolver Resolver, segments SegmentStore,
	subtitles *cache.SubtitleCache, prefetcher Prefetcher, bufferPool *buffer.BufferPool) *StreamProxy {

	if bufferPool == nil {
		bufferPool = buffer.NewBufferPool()
	}

	return &StreamProxy{
		Config:     cfg,
		HttpClient: httpClient,
		Resolver:   resolver,
		Segments:   segments,
		Subtitles:  subtitles,
		Prefetcher: prefetcher,
		BufferPool: bufferPool,
		Classifier: parser.NewLivenessClassifier(parser.WindowHeuristic{
			MaxSegments: cfg.Liveness.WindowSegments,
			Slack:       cfg.Liveness.WindowSlack,
		}),
	}
}

// decodeTarget validates a url query value. Values that arrive encoded
// twice are unwrapped once more.
func decodeTarget(raw string) (string, bool) {
	raw = unwrapEncoded(strings.TrimSpace(raw))
	if raw == "" {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return raw, true
}

// unwrapEncoded unescapes s when it is a percent-encoded absolute URL.
func unwrapEncoded(s string) string {
	if s == "" || hasHTTPScheme(s) {
		return s
	}
	if un, err := url.QueryUnescape(s); err == nil && hasHTTPScheme(un) {
		return un
	}
	return s
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// encodeHeaderValue percent-encodes free text for a response header.
func encodeHeaderValue(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
