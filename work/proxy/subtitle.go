package proxy

import (
	"bytes"
	"net/http"
	"strconv"

	"vidproxy/work/client"
	"vidproxy/work/logger"
	"vidproxy/work/metrics"
	"vidproxy/work/middleware"
	"vidproxy/work/parser"
	"vidproxy/work/utils"
)

const subtitleCacheControl = "public, max-age=600"

// HandleSubtitle serves GET /proxy/subtitle: the subtitle at url is fetched
// with the caller's referer and user agent and returned as WebVTT.
func (sp *StreamProxy) HandleSubtitle(w http.ResponseWriter, r *http.Request) {
	middleware.SetMediaCORS(w.Header())

	q := r.URL.Query()
	target, ok := decodeTarget(q.Get("url"))
	if !ok {
		writeText(w, http.StatusBadRequest, "Bad Request: missing or invalid url parameter")
		return
	}

	if sp.Subtitles != nil {
		if doc, hit := sp.Subtitles.Get(target); hit {
			metrics.CacheLookups.WithLabelValues("subtitle", "hit").Inc()
			writeSubtitle(w, r, parser.ContentTypeVTT, doc)
			return
		}
		metrics.CacheLookups.WithLabelValues("subtitle", "miss").Inc()
	}

	opts := client.Options{
		UserAgent: q.Get("user_agent"),
		Referer:   unwrapEncoded(q.Get("referer")),
	}
	resp, err := sp.HttpClient.Get(r.Context(), target, opts)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		logger.Warn("{proxy/subtitle - HandleSubtitle} fetching %s: %v", utils.LogURL(sp.Config, target), err)
		writeText(w, http.StatusBadGateway, "Proxy Error: upstream unreachable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		metrics.UpstreamErrors.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
		writeText(w, resp.StatusCode, "Upstream Error: "+strconv.Itoa(resp.StatusCode))
		return
	}

	body, err := sp.BufferPool.ReadAll(resp.Body, sp.Config.Proxy.MaxManifestSize)
	if err != nil {
		logger.Warn("{proxy/subtitle - HandleSubtitle} reading %s: %v", utils.LogURL(sp.Config, target), err)
		writeText(w, http.StatusBadGateway, "Proxy Error: upstream read failed")
		return
	}

	upstreamType := resp.Header.Get("Content-Type")
	doc := parser.ProcessSubtitle(body, upstreamType, target)

	if !bytes.HasPrefix(doc, []byte("WEBVTT")) {
		// not something we know how to convert; hand it over untouched
		writeSubtitle(w, r, parser.ContentTypeFor(target, upstreamType), doc)
		return
	}

	if sp.Subtitles != nil {
		sp.Subtitles.Set(target, doc)
	}
	writeSubtitle(w, r, parser.ContentTypeVTT, doc)
}

func writeSubtitle(w http.ResponseWriter, r *http.Request, contentType string, doc []byte) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", subtitleCacheControl)
	h.Set("Content-Length", strconv.Itoa(len(doc)))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	n, _ := w.Write(doc)
	metrics.BytesTransferred.WithLabelValues("subtitle").Add(float64(n))
}
