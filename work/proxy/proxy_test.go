package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidproxy/work/cache"
	"vidproxy/work/client"
	"vidproxy/work/config"
	"vidproxy/work/parser"
	"vidproxy/work/types"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	return b, ok
}

func (m *memStore) Set(key string, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return true
}

type fakeResolver struct {
	mu     sync.Mutex
	result *types.ResolutionResult
	calls  []types.ResolutionRequest
}

func (f *fakeResolver) Resolve(_ context.Context, req types.ResolutionRequest) *types.ResolutionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.result
}

type fakePrefetcher struct {
	mu       sync.Mutex
	segments []string
	isLive   bool
	opts     client.Options
}

func (f *fakePrefetcher) Warm(segments []string, isLive bool, opts client.Options) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = segments
	f.isLive = isLive
	f.opts = opts
	return len(segments)
}

// upstream is an origin server that counts requests per path.
type upstream struct {
	*httptest.Server
	hits sync.Map
	last atomic.Value
}

func newUpstream(t *testing.T, h http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := u.hits.LoadOrStore(r.URL.Path, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		u.last.Store(r.Header.Clone())
		h(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) Hits(path string) int32 {
	n, ok := u.hits.Load(path)
	if !ok {
		return 0
	}
	return n.(*atomic.Int32).Load()
}

func (u *upstream) LastHeader() http.Header {
	h, _ := u.last.Load().(http.Header)
	return h
}

func newTestProxy(t *testing.T, resolver Resolver) (*StreamProxy, *memStore) {
	t.Helper()
	cfg := config.Default()

	subs, err := cache.NewSubtitleCache(1<<20, time.Minute)
	require.NoError(t, err)
	t.Cleanup(subs.Close)

	store := newMemStore()
	return New(cfg, client.NewHeaderSettingClient(cfg), resolver, store, subs, nil, nil), store
}

func proxyRequest(sp *StreamProxy, method string, q url.Values, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/proxy/video?"+q.Encode(), nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	sp.HandleVideo(rec, req)
	return rec
}

func TestHandleVideoRejectsBadURL(t *testing.T) {
	sp, _ := newTestProxy(t, nil)

	for _, raw := range []string{"", "ftp://example.com/a.mp4", "not a url", "https://"} {
		rec := proxyRequest(sp, http.MethodGet, url.Values{"url": {raw}}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, raw)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestSegmentCacheHitSkipsUpstream(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("from origin"))
	})
	sp, store := newTestProxy(t, nil)
	segURL := origin.URL + "/stream/segment001.ts"
	store.Set(segURL, []byte("cached bytes"))

	rec := proxyRequest(sp, http.MethodGet, url.Values{"url": {segURL}}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cached bytes", rec.Body.String())
	assert.Equal(t, "video/MP2T", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=30", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), types.HeaderResolvedIsLive)
	assert.Zero(t, origin.Hits("/stream/segment001.ts"))
}

func TestSegmentMissPopulatesCache(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write([]byte("segment payload"))
	})
	sp, store := newTestProxy(t, nil)
	segURL := origin.URL + "/a/seg-7.ts"

	first := proxyRequest(sp, http.MethodGet, url.Values{"url": {segURL}}, nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "segment payload", first.Body.String())
	assert.Equal(t, "15", first.Header().Get("Content-Length"))

	cached, ok := store.Get(segURL)
	require.True(t, ok)
	assert.Equal(t, "segment payload", string(cached))

	second := proxyRequest(sp, http.MethodGet, url.Values{"url": {segURL}}, nil)
	assert.Equal(t, "segment payload", second.Body.String())
	assert.EqualValues(t, 1, origin.Hits("/a/seg-7.ts"))
}

func TestRangeRequestBypassesSegmentCache(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-3/10")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("abcd"))
	})
	sp, store := newTestProxy(t, nil)
	segURL := origin.URL + "/seg-1.m4s"
	store.Set(segURL, []byte("whole segment"))

	rec := proxyRequest(sp, http.MethodGet, url.Values{"url": {segURL}}, http.Header{"Range": {"bytes=0-3"}})

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "abcd", rec.Body.String())
	assert.Equal(t, "bytes 0-3/10", rec.Header().Get("Content-Range"))
	assert.Equal(t, "bytes=0-3", origin.LastHeader().Get("Range"))

	cached, _ := store.Get(segURL)
	assert.Equal(t, "whole segment", string(cached), "partial content must not replace the cached segment")
}

func TestManifestIsRewritten(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		switch r.URL.Path {
		case "/vod/master.m3u8":
			_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nlow/index.m3u8\n")
		case "/vod/low/index.m3u8":
			_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n#EXTINF:6,\nseg-1.ts\n#EXT-X-ENDLIST\n")
		default:
			http.NotFound(w, r)
		}
	})
	sp, _ := newTestProxy(t, nil)

	rec := proxyRequest(sp, http.MethodGet, url.Values{"url": {origin.URL + "/vod/master.m3u8"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "/proxy/video?url="+url.QueryEscape(origin.URL+"/vod/low/index.m3u8"))
	assert.Equal(t, parser.ContentTypeHLS, rec.Header().Get("Content-Type"))
	assert.Equal(t, len(body), atoi(t, rec.Header().Get("Content-Length")))
	// one variant hop found the ENDLIST
	assert.Equal(t, "false", rec.Header().Get(types.HeaderResolvedIsLive))

	rec = proxyRequest(sp, http.MethodGet, url.Values{"url": {origin.URL + "/vod/low/index.m3u8"}}, nil)
	body = rec.Body.String()
	assert.Contains(t, body, "\n"+origin.URL+"/vod/low/seg-1.ts\n")
	assert.Contains(t, body, `URI="/proxy/video?url=`+url.QueryEscape(origin.URL+"/vod/low/key.bin")+`"`)
}

func TestForceProxyRoutesSegmentsAndPrefetches(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:10\n#EXTINF:4,\nseg-10.ts\n#EXTINF:4,\nseg-11.ts\n")
	})
	sp, _ := newTestProxy(t, nil)
	sp.Config.Prefetch.Enabled = true
	pf := &fakePrefetcher{}
	sp.Prefetcher = pf

	rec := proxyRequest(sp, http.MethodGet, url.Values{
		"url":         {origin.URL + "/live/index.m3u8"},
		"force_proxy": {"1"},
		"user_agent":  {"Player/2"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	seg := origin.URL + "/live/seg-10.ts"
	assert.Contains(t, rec.Body.String(), "/proxy/video?url="+url.QueryEscape(seg)+"&user_agent=Player%2F2&force_proxy=1")
	assert.Equal(t, "true", rec.Header().Get(types.HeaderResolvedIsLive))

	pf.mu.Lock()
	defer pf.mu.Unlock()
	assert.Equal(t, []string{seg, origin.URL + "/live/seg-11.ts"}, pf.segments)
	assert.True(t, pf.isLive)
	assert.Equal(t, "Player/2", pf.opts.UserAgent)
}

func TestHeadClassifiesThroughVariant(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/m/master.m3u8":
			_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nlow.m3u8\n")
		case "/m/low.m3u8":
			_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:42\n#EXTINF:2,\na.ts\n")
		}
	})
	sp, _ := newTestProxy(t, nil)

	rec := proxyRequest(sp, http.MethodHead, url.Values{"url": {origin.URL + "/m/master.m3u8"}}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())
	assert.Equal(t, "true", rec.Header().Get(types.HeaderResolvedIsLive))
	assert.Equal(t, parser.ContentTypeHLS, rec.Header().Get("Content-Type"))
	assert.EqualValues(t, 1, origin.Hits("/m/low.m3u8"))
}

func TestHeadProgressiveReportsNotLive(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/webm")
		w.Header().Set("Content-Length", "1234")
	})
	sp, _ := newTestProxy(t, nil)

	rec := proxyRequest(sp, http.MethodHead, url.Values{"url": {origin.URL + "/movie.webm"}}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())
	assert.Equal(t, "false", rec.Header().Get(types.HeaderResolvedIsLive))

	// a liveness the extractor reported is kept
	resolver := &fakeResolver{result: &types.ResolutionResult{StreamURL: origin.URL + "/movie.webm", IsLive: true, Format: types.FormatWebM}}
	sp, _ = newTestProxy(t, resolver)

	rec = proxyRequest(sp, http.MethodHead, url.Values{"url": {"https://site.example/watch?v=1"}}, nil)

	assert.Equal(t, "true", rec.Header().Get(types.HeaderResolvedIsLive))
}

func TestUpstreamErrorIsMirrored(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "secret upstream detail", http.StatusForbidden)
	})
	sp, _ := newTestProxy(t, nil)

	rec := proxyRequest(sp, http.MethodGet, url.Values{"url": {origin.URL + "/v.mp4"}}, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Upstream Error: 403", rec.Body.String())
}

func TestUnreachableUpstreamIs502(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	target := origin.URL + "/v.mp4"
	origin.Close()
	sp, _ := newTestProxy(t, nil)

	rec := proxyRequest(sp, http.MethodGet, url.Values{"url": {target}}, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Proxy Error"))
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestProgressiveIsStreamed(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 20_000)
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/webm")
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(payload)
	})
	sp, _ := newTestProxy(t, nil)

	rec := proxyRequest(sp, http.MethodGet, url.Values{"url": {origin.URL + "/movie.webm"}, "referer": {"https://site.example/"}}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.Equal(payload, rec.Body.Bytes()))
	assert.Equal(t, "video/webm", rec.Header().Get("Content-Type"))
	assert.Equal(t, `"v1"`, rec.Header().Get("Etag"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "false", rec.Header().Get(types.HeaderResolvedIsLive))
	assert.True(t, rec.Flushed)

	h := origin.LastHeader()
	assert.Equal(t, "https://site.example/", h.Get("Referer"))
	assert.Equal(t, "identity", h.Get("Accept-Encoding"))
	assert.Equal(t, config.DefaultUserAgent, h.Get("User-Agent"))
}

func TestStreamEndsOnUpstreamReadError(t *testing.T) {
	sent := bytes.Repeat([]byte("x"), 64<<10)
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		conn, bufrw, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = bufrw.WriteString("HTTP/1.1 200 OK\r\nContent-Type: video/webm\r\nContent-Length: 1000000\r\n\r\n")
		_, _ = bufrw.Write(sent)
		_ = bufrw.Flush()
	})
	sp, _ := newTestProxy(t, nil)

	rec := proxyRequest(sp, http.MethodGet, url.Values{"url": {origin.URL + "/movie.webm"}}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, len(sent), rec.Body.Len())
	assert.True(t, bytes.Equal(sent, rec.Body.Bytes()))
}

// cancelOnWrite cancels the client request once the first bytes reach it.
type cancelOnWrite struct {
	*httptest.ResponseRecorder
	once   sync.Once
	cancel context.CancelFunc
}

func (c *cancelOnWrite) Write(b []byte) (int, error) {
	n, err := c.ResponseRecorder.Write(b)
	c.once.Do(c.cancel)
	return n, err
}

func TestClientDisconnectCancelsUpstream(t *testing.T) {
	originDone := make(chan struct{})
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/webm")
		w.Header().Set("Content-Length", "10000000")
		_, _ = w.Write(bytes.Repeat([]byte("y"), 4096))
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
			close(originDone)
		case <-time.After(5 * time.Second):
		}
	})
	sp, _ := newTestProxy(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := url.Values{"url": {origin.URL + "/movie.webm"}}
	req := httptest.NewRequest(http.MethodGet, "/proxy/video?"+q.Encode(), nil).WithContext(ctx)
	w := &cancelOnWrite{ResponseRecorder: httptest.NewRecorder(), cancel: cancel}

	finished := make(chan struct{})
	go func() {
		sp.HandleVideo(w, req)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("handler kept streaming after the client went away")
	}
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Less(t, w.Body.Len(), 10000000)

	select {
	case <-originDone:
	case <-time.After(5 * time.Second):
		t.Fatal("origin request was not cancelled")
	}
}

func TestStreamSniffsMislabelledPlaylist(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "\n#EXTM3U\n#EXTINF:4,\nhttps://cdn.example/a.ts\n")
	})
	sp, _ := newTestProxy(t, nil)

	rec := proxyRequest(sp, http.MethodGet, url.Values{"url": {origin.URL + "/get/stream"}}, nil)

	assert.Equal(t, parser.ContentTypeHLS, rec.Header().Get("Content-Type"))
	assert.Equal(t, "\n#EXTM3U\n#EXTINF:4,\nhttps://cdn.example/a.ts\n", rec.Body.String())
}

func TestSniffContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	assert.Equal(t, parser.ContentTypeHLS, sniffContentType([]byte("#EXTM3U\n"), "https://a/x", "video/mp4"))
	assert.Equal(t, "video/mp4", sniffContentType([]byte("...."), "https://a/x", "video/mp4"))
	assert.Equal(t, "video/x-matroska", sniffContentType([]byte("...."), "https://a/x.mkv", ""))
	assert.Equal(t, "image/png", sniffContentType(png, "https://a/x", ""))
	assert.Equal(t, parser.DefaultContentType, sniffContentType([]byte("plain words"), "https://a/x", ""))
}

func TestResolutionHeaders(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = io.WriteString(w, "mp4 bytes")
	})
	res := &fakeResolver{result: &types.ResolutionResult{
		Title:          "A b/c",
		StreamURL:      origin.URL + "/v/file.mp4",
		Duration:       61.5,
		Format:         types.FormatMP4,
		RequestHeaders: map[string]string{"user-agent": "Extracted/1"},
	}}
	sp, _ := newTestProxy(t, res)
	page := "https://www.youtube.com/watch?v=abc"

	rec := proxyRequest(sp, http.MethodGet, url.Values{"url": {page}, "subtitle_url": {"https://s/x.srt"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	h := rec.Header()
	assert.Equal(t, origin.URL+"/v/file.mp4", h.Get(types.HeaderResolvedURL))
	assert.Equal(t, "Extracted/1", h.Get(types.HeaderResolvedUserAgent))
	assert.Equal(t, page, h.Get(types.HeaderResolvedReferer))
	assert.Equal(t, "A%20b%2Fc", h.Get(types.HeaderResolvedTitle))
	assert.Equal(t, "https%3A%2F%2Fs%2Fx.srt", h.Get(types.HeaderResolvedSubtitle))
	assert.Equal(t, "mp4", h.Get(types.HeaderResolvedFormat))
	assert.Equal(t, "61.5", h.Get(types.HeaderResolvedDuration))
	assert.Equal(t, "false", h.Get(types.HeaderResolvedIsLive))
	assert.Equal(t, "ytdlp", h.Get(types.HeaderResolvedBy))
	assert.Equal(t, "true", h.Get(types.HeaderResolved))

	up := origin.LastHeader()
	assert.Equal(t, "Extracted/1", up.Get("User-Agent"))
	assert.Equal(t, page, up.Get("Referer"))
}

func TestCallerValuesWinOverResolved(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "x")
	})
	res := &fakeResolver{result: &types.ResolutionResult{
		Title:          "Extracted",
		StreamURL:      origin.URL + "/v.mp4",
		Format:         types.FormatMP4,
		RequestHeaders: map[string]string{"user-agent": "Extracted/1", "referer": "https://extracted/"},
	}}
	sp, _ := newTestProxy(t, res)

	rec := proxyRequest(sp, http.MethodGet, url.Values{
		"url":        {"https://vimeo.com/1"},
		"title":      {"Mine"},
		"user_agent": {"Caller/1"},
		"referer":    {"https://caller/"},
	}, nil)

	assert.Equal(t, "Mine", rec.Header().Get(types.HeaderResolvedTitle))
	assert.Equal(t, "Caller/1", origin.LastHeader().Get("User-Agent"))
	assert.Equal(t, "https://caller/", origin.LastHeader().Get("Referer"))

	require.Len(t, res.calls, 1)
	assert.Equal(t, types.ResolutionRequest{URL: "https://vimeo.com/1", UserAgent: "Caller/1", Referer: "https://caller/"}, res.calls[0])
}

func TestFailedResolutionFallsBackToOriginalURL(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = io.WriteString(w, "raw")
	})
	res := &fakeResolver{}
	sp, _ := newTestProxy(t, res)

	rec := proxyRequest(sp, http.MethodGet, url.Values{"url": {origin.URL + "/watch?v=1"}}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "raw", rec.Body.String())
	assert.Len(t, res.calls, 1)
	assert.Empty(t, rec.Header().Get(types.HeaderResolved))
	assert.Empty(t, rec.Header().Get(types.HeaderResolvedURL))
}

func TestDirectMediaSkipsResolution(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-ENDLIST\n")
	})
	res := &fakeResolver{}
	sp, _ := newTestProxy(t, res)

	proxyRequest(sp, http.MethodGet, url.Values{"url": {origin.URL + "/x/index.m3u8"}}, nil)
	proxyRequest(sp, http.MethodGet, url.Values{"url": {origin.URL + "/x/clip.mp4"}}, nil)

	assert.Empty(t, res.calls)
}

func TestDoubleEncodedTarget(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	sp, _ := newTestProxy(t, nil)

	rec := proxyRequest(sp, http.MethodGet, url.Values{"url": {url.QueryEscape(origin.URL + "/a.mp4")}}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, origin.Hits("/a.mp4"))
}

func TestHandleSubtitleConvertsAndCaches(t *testing.T) {
	origin := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-subrip")
		_, _ = io.WriteString(w, "\xef\xbb\xbf1\r\n00:00:01,000 --> 00:00:02,500\r\nHello, world\r\n")
	})
	sp, _ := newTestProxy(t, nil)
	target := origin.URL + "/subs/en.srt"

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/proxy/subtitle?url="+url.QueryEscape(target), nil)
		rec := httptest.NewRecorder()
		sp.HandleSubtitle(rec, req)
		return rec
	}

	rec := get()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, parser.ContentTypeVTT, rec.Header().Get("Content-Type"))
	assert.Equal(t, "WEBVTT\n\n1\n00:00:01.000 --> 00:00:02.500\nHello, world\n", rec.Body.String())

	sp.Subtitles.Wait()
	rec = get()
	assert.Equal(t, "WEBVTT\n\n1\n00:00:01.000 --> 00:00:02.500\nHello, world\n", rec.Body.String())
	assert.EqualValues(t, 1, origin.Hits("/subs/en.srt"))
}

func TestExtract(t *testing.T) {
	sp, _ := newTestProxy(t, &fakeResolver{})

	got := sp.Extract(context.Background(), "https://cdn.example/live/index.m3u8", "", "")
	assert.False(t, got.Resolved)
	assert.Equal(t, ResolvedByFallback, got.ResolvedBy)
	assert.Equal(t, types.FormatHLS, got.Format)
	assert.Equal(t, "Video", got.Title)
	assert.Equal(t, "https://cdn.example/live/index.m3u8", got.StreamURL)

	sp.Resolver = &fakeResolver{result: &types.ResolutionResult{Title: "T", StreamURL: "https://cdn/x.webm", Format: types.FormatWebM, IsLive: true}}
	got = sp.Extract(context.Background(), "https://vimeo.com/1", "", "")
	assert.True(t, got.Resolved)
	assert.Equal(t, ResolvedByExtractor, got.ResolvedBy)
	assert.Equal(t, "https://cdn/x.webm", got.StreamURL)
	assert.True(t, got.IsLive)
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, c := range s {
		require.True(t, c >= '0' && c <= '9', s)
		n = n*10 + int(c-'0')
	}
	return n
}
