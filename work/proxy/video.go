package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"vidproxy/work/buffer"
	"vidproxy/work/client"
	"vidproxy/work/logger"
	"vidproxy/work/metrics"
	"vidproxy/work/middleware"
	"vidproxy/work/parser"
	"vidproxy/work/types"
	"vidproxy/work/utils"
)

const (
	// ResolvedByExtractor marks results produced by the yt-dlp resolver.
	ResolvedByExtractor = "ytdlp"

	segmentCacheControl = "public, max-age=30"
	sniffLen            = 512
)

// upstream headers copied onto every response when present
var passthroughHeaders = []string{
	"Content-Range",
	"Accept-Ranges",
	"Etag",
	"Cache-Control",
	"Content-Disposition",
	"Content-Length",
}

// videoRequest is the validated query of a /proxy/video call.
type videoRequest struct {
	id         string
	target     string
	referer    string
	userAgent  string
	title      string
	subtitle   string
	forceProxy bool
	rangeHdr   string
	head       bool
}

// HandleVideo serves GET and HEAD /proxy/video.
//
// The pipeline runs strictly in order: validate, resolve, segment cache,
// upstream fetch, then one of manifest rewrite, segment capture or chunked
// streaming. Every response carries the media CORS headers.
func (sp *StreamProxy) HandleVideo(w http.ResponseWriter, r *http.Request) {
	middleware.SetMediaCORS(w.Header())

	vr, ok := parseVideoRequest(r)
	if !ok {
		metrics.ProxyRequests.WithLabelValues("bad_request").Inc()
		writeText(w, http.StatusBadRequest, "Bad Request: missing or invalid url parameter")
		return
	}

	logger.Debug("{proxy/video - HandleVideo} [%s] %s %s", vr.id, r.Method, utils.LogURL(sp.Config, vr.target))

	res := sp.resolve(r.Context(), vr)

	if parser.IsSegmentURL(res.URL) && vr.rangeHdr == "" && sp.Segments != nil {
		if data, hit := sp.Segments.Get(res.URL); hit {
			metrics.CacheLookups.WithLabelValues("segment", "hit").Inc()
			sp.writeCachedSegment(w, vr, res, data)
			return
		}
		metrics.CacheLookups.WithLabelValues("segment", "miss").Inc()
	}

	opts := client.Options{UserAgent: res.UserAgent, Referer: res.Referer, Range: vr.rangeHdr}
	req, err := sp.HttpClient.NewRequest(r.Context(), res.URL, opts)
	if err != nil {
		logger.Error("{proxy/video - HandleVideo} [%s] building request: %v", vr.id, err)
		metrics.ProxyRequests.WithLabelValues("proxy_error").Inc()
		writeText(w, http.StatusBadGateway, "Proxy Error: could not build upstream request")
		return
	}

	resp, err := sp.HttpClient.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			logger.Debug("{proxy/video - HandleVideo} [%s] client went away before upstream answered", vr.id)
			return
		}
		logger.Warn("{proxy/video - HandleVideo} [%s] upstream request failed for %s: %v", vr.id, utils.LogURL(sp.Config, res.URL), err)
		metrics.ProxyRequests.WithLabelValues("proxy_error").Inc()
		writeText(w, http.StatusBadGateway, "Proxy Error: upstream unreachable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		logger.Warn("{proxy/video - HandleVideo} [%s] upstream returned %d for %s", vr.id, resp.StatusCode, utils.LogURL(sp.Config, res.URL))
		metrics.UpstreamErrors.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
		metrics.ProxyRequests.WithLabelValues("upstream_error").Inc()
		writeText(w, resp.StatusCode, "Upstream Error: "+strconv.Itoa(resp.StatusCode))
		return
	}

	// relative playlist entries resolve against where we actually ended up
	finalURL := res.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	isHLS := parser.IsHLSURL(res.URL) || parser.IsHLSContentType(resp.Header.Get("Content-Type"))

	switch {
	case vr.head:
		sp.serveHead(r.Context(), w, vr, res, resp, finalURL, isHLS, opts)
	case isHLS:
		sp.serveManifest(r.Context(), w, vr, res, resp, finalURL, opts)
	case parser.IsSegmentURL(res.URL) && resp.ContentLength <= sp.Config.Proxy.MaxSegmentSize:
		sp.serveSegment(w, vr, res, resp)
	default:
		sp.serveStream(w, vr, res, resp)
	}
}

func parseVideoRequest(r *http.Request) (videoRequest, bool) {
	q := r.URL.Query()

	target, ok := decodeTarget(q.Get("url"))
	if !ok {
		return videoRequest{}, false
	}

	return videoRequest{
		id:         uuid.NewString()[:8],
		target:     target,
		referer:    unwrapEncoded(q.Get("referer")),
		userAgent:  q.Get("user_agent"),
		title:      q.Get("title"),
		subtitle:   q.Get("subtitle_url"),
		forceProxy: q.Get("force_proxy") == "1",
		rangeHdr:   r.Header.Get("Range"),
		head:       r.Method == http.MethodHead,
	}, true
}

// resolve runs the extractor for page URLs. Values the caller supplied
// always win over extracted ones; a failed extraction leaves the request
// pointing at the original URL.
func (sp *StreamProxy) resolve(ctx context.Context, vr videoRequest) types.Resolution {
	res := types.Resolution{
		OriginalURL: vr.target,
		URL:         vr.target,
		UserAgent:   vr.userAgent,
		Referer:     vr.referer,
		Title:       vr.title,
		Subtitle:    vr.subtitle,
	}

	if sp.Resolver == nil || !parser.NeedsResolution(vr.target) {
		return res
	}

	result := sp.Resolver.Resolve(ctx, types.ResolutionRequest{
		URL:       vr.target,
		UserAgent: vr.userAgent,
		Referer:   vr.referer,
	})
	if result == nil || result.StreamURL == "" {
		logger.Debug("{proxy/video - resolve} [%s] not resolved, fetching as given", vr.id)
		return res
	}

	res.URL = result.StreamURL
	if res.UserAgent == "" {
		res.UserAgent = result.Header("user-agent")
	}
	if res.Referer == "" {
		res.Referer = result.Header("referer")
	}
	if res.Referer == "" {
		res.Referer = vr.target
	}
	if res.Title == "" {
		res.Title = result.Title
	}
	res.Format = result.Format
	res.Duration = result.Duration
	res.Resolved = true
	res.ResolvedBy = ResolvedByExtractor

	return res.WithLiveness(result.IsLive)
}

// classify returns the liveness of a playlist. A master playlist with no
// signal of its own is judged by its first variant, fetched once.
func (sp *StreamProxy) classify(ctx context.Context, content []byte, baseURL string, opts client.Options) (isLive bool, hasSignal bool) {
	isLive, hasSignal = sp.Classifier.Classify(content)
	if hasSignal || !parser.IsMaster(content) {
		return isLive, hasSignal
	}

	variant, ok := parser.ExtractFirstVariant(baseURL, content)
	if !ok {
		return false, false
	}

	opts.Range = ""
	resp, err := sp.HttpClient.Get(ctx, variant, opts)
	if err != nil {
		logger.Debug("{proxy/video - classify} variant fetch failed: %v", err)
		return false, false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return false, false
	}

	body, err := sp.BufferPool.ReadAll(resp.Body, sp.Config.Proxy.MaxManifestSize)
	if err != nil {
		return false, false
	}
	return sp.Classifier.Classify(body)
}

func (sp *StreamProxy) classifyInto(ctx context.Context, res types.Resolution, content []byte, baseURL string, opts client.Options) types.Resolution {
	isLive, hasSignal := sp.classify(ctx, content, baseURL, opts)
	if hasSignal {
		return res.WithLiveness(isLive)
	}
	if _, known := res.Liveness(); !known {
		return res.WithLiveness(false)
	}
	return res
}

func (sp *StreamProxy) serveHead(ctx context.Context, w http.ResponseWriter, vr videoRequest, res types.Resolution,
	resp *http.Response, finalURL string, isHLS bool, opts client.Options) {

	detected := ""
	if isHLS {
		detected = parser.ContentTypeHLS
		body, err := sp.BufferPool.ReadAll(resp.Body, sp.Config.Proxy.MaxManifestSize)
		if err != nil {
			logger.Warn("{proxy/video - serveHead} [%s] reading playlist: %v", vr.id, err)
		} else {
			res = sp.classifyInto(ctx, res, body, finalURL, opts)
		}
	} else if _, known := res.Liveness(); !known {
		res = res.WithLiveness(false)
	}

	sp.setResponseHeaders(w.Header(), resp.Header, res, detected)
	metrics.ProxyRequests.WithLabelValues("head").Inc()
	w.WriteHeader(resp.StatusCode)
}

func (sp *StreamProxy) serveManifest(ctx context.Context, w http.ResponseWriter, vr videoRequest, res types.Resolution,
	resp *http.Response, finalURL string, opts client.Options) {

	body, err := sp.BufferPool.ReadAll(resp.Body, sp.Config.Proxy.MaxManifestSize)
	if err != nil {
		sp.readFailed(w, vr, "playlist", err)
		return
	}

	res = sp.classifyInto(ctx, res, body, finalURL, opts)
	isLive, _ := res.Liveness()

	rewritten := parser.RewriteManifest(body, finalURL, parser.RewriteOptions{
		Referer:    res.Referer,
		UserAgent:  res.UserAgent,
		ForceProxy: vr.forceProxy,
	})

	if vr.forceProxy && sp.Prefetcher != nil && sp.Config.Prefetch.Enabled && !parser.IsMaster(body) {
		sp.Prefetcher.Warm(parser.SegmentURIs(body, finalURL), isLive, opts)
	}

	h := w.Header()
	sp.setResponseHeaders(h, resp.Header, res, parser.ContentTypeHLS)
	h.Set("Content-Length", strconv.Itoa(len(rewritten)))
	w.WriteHeader(resp.StatusCode)

	n, err := w.Write(rewritten)
	metrics.BytesTransferred.WithLabelValues("manifest").Add(float64(n))
	metrics.ProxyRequests.WithLabelValues("manifest").Inc()
	if err != nil {
		logger.Debug("{proxy/video - serveManifest} [%s] write: %v", vr.id, err)
	}
}

func (sp *StreamProxy) serveSegment(w http.ResponseWriter, vr videoRequest, res types.Resolution, resp *http.Response) {
	body, err := sp.BufferPool.ReadAll(resp.Body, sp.Config.Proxy.MaxSegmentSize)
	if err != nil {
		sp.readFailed(w, vr, "segment", err)
		return
	}

	// partial content must never stand in for the whole segment
	if resp.StatusCode == http.StatusOK && vr.rangeHdr == "" && sp.Segments != nil {
		sp.Segments.Set(res.URL, body)
	}

	h := w.Header()
	sp.setResponseHeaders(h, resp.Header, res, "")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(resp.StatusCode)

	n, err := w.Write(body)
	metrics.BytesTransferred.WithLabelValues("segment").Add(float64(n))
	metrics.ProxyRequests.WithLabelValues("segment").Inc()
	if err != nil {
		logger.Debug("{proxy/video - serveSegment} [%s] write: %v", vr.id, err)
	}
}

func (sp *StreamProxy) writeCachedSegment(w http.ResponseWriter, vr videoRequest, res types.Resolution, data []byte) {
	h := w.Header()
	setResolutionHeaders(h, res)
	h.Set("Content-Type", parser.SegmentContentType(res.URL))
	h.Set("Cache-Control", segmentCacheControl)
	h.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)

	metrics.ProxyRequests.WithLabelValues("cache_hit").Inc()
	if vr.head {
		return
	}
	n, _ := w.Write(data)
	metrics.BytesTransferred.WithLabelValues("segment").Add(float64(n))
}

// serveStream copies a progressive body to the client in fixed-size chunks.
// The first bytes are inspected before any header is written so a playlist
// served with the wrong type is still labelled as one.
func (sp *StreamProxy) serveStream(w http.ResponseWriter, vr videoRequest, res types.Resolution, resp *http.Response) {
	chunk := make([]byte, sp.Config.Proxy.ChunkSize)

	first, err := io.ReadAtLeast(resp.Body, chunk, min(sniffLen, len(chunk)))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		sp.readFailed(w, vr, "stream", err)
		return
	}

	h := w.Header()
	sp.setResponseHeaders(h, resp.Header, res, sniffContentType(chunk[:first], res.URL, resp.Header.Get("Content-Type")))
	if _, known := res.Liveness(); !known {
		h.Set(types.HeaderResolvedIsLive, "false")
	}
	w.WriteHeader(resp.StatusCode)

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	flusher, _ := w.(http.Flusher)
	written := int64(0)
	defer func() {
		metrics.BytesTransferred.WithLabelValues("stream").Add(float64(written))
		metrics.ProxyRequests.WithLabelValues("streamed").Inc()
		logger.Debug("{proxy/video - serveStream} [%s] done, %s sent", vr.id, utils.FormatBytes(written))
	}()

	n := first
	for {
		if n > 0 {
			wn, werr := w.Write(chunk[:n])
			written += int64(wn)
			if werr != nil {
				logger.Debug("{proxy/video - serveStream} [%s] client write: %v", vr.id, werr)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				logger.Warn("{proxy/video - serveStream} [%s] upstream read: %v", vr.id, err)
			}
			return
		}
		n, err = resp.Body.Read(chunk)
	}
}

// sniffContentType picks the streamed Content-Type. A body that opens with
// #EXTM3U is a playlist whatever upstream claimed.
func sniffContentType(head []byte, target, upstream string) string {
	if parser.IsHLS(head[:min(len(head), 100)]) {
		return parser.ContentTypeHLS
	}
	if upstream != "" {
		return upstream
	}
	if ct, ok := parser.ContentTypeFromURL(target); ok {
		return ct
	}
	if len(head) > 0 {
		if mt := mimetype.Detect(head); !mt.Is("application/octet-stream") && !mt.Is("text/plain") {
			return mt.String()
		}
	}
	return parser.DefaultContentType
}

func (sp *StreamProxy) readFailed(w http.ResponseWriter, vr videoRequest, what string, err error) {
	metrics.ProxyRequests.WithLabelValues("proxy_error").Inc()
	if errors.Is(err, buffer.ErrTooLarge) {
		logger.Warn("{proxy/video - readFailed} [%s] %s exceeds read limit", vr.id, what)
		writeText(w, http.StatusBadGateway, "Proxy Error: upstream "+what+" too large")
		return
	}
	logger.Warn("{proxy/video - readFailed} [%s] reading %s: %v", vr.id, what, err)
	writeText(w, http.StatusBadGateway, "Proxy Error: upstream read failed")
}

// setResponseHeaders builds the outgoing header set from the upstream
// response. detected overrides the Content-Type when non-empty.
func (sp *StreamProxy) setResponseHeaders(h http.Header, upstream http.Header, res types.Resolution, detected string) {
	middleware.SetMediaCORS(h)

	if detected != "" {
		h.Set("Content-Type", detected)
	} else {
		h.Set("Content-Type", parser.ContentTypeFor(res.URL, upstream.Get("Content-Type")))
	}

	for _, name := range passthroughHeaders {
		if v := upstream.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	if h.Get("Accept-Ranges") == "" {
		h.Set("Accept-Ranges", "bytes")
	}

	setResolutionHeaders(h, res)
}

func setResolutionHeaders(h http.Header, res types.Resolution) {
	if res.URL != res.OriginalURL {
		h.Set(types.HeaderResolvedURL, res.URL)
	}
	if res.UserAgent != "" {
		h.Set(types.HeaderResolvedUserAgent, res.UserAgent)
	}
	if res.Referer != "" {
		h.Set(types.HeaderResolvedReferer, res.Referer)
	}
	if res.Title != "" {
		h.Set(types.HeaderResolvedTitle, encodeHeaderValue(res.Title))
	}
	if res.Subtitle != "" {
		h.Set(types.HeaderResolvedSubtitle, encodeHeaderValue(res.Subtitle))
	}
	if res.Format != "" {
		h.Set(types.HeaderResolvedFormat, string(res.Format))
	}
	if res.Resolved {
		h.Set(types.HeaderResolvedDuration, types.FormatDuration(res.Duration))
		h.Set(types.HeaderResolvedBy, res.ResolvedBy)
		h.Set(types.HeaderResolved, "true")
	}
	if isLive, known := res.Liveness(); known {
		h.Set(types.HeaderResolvedIsLive, strconv.FormatBool(isLive))
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
