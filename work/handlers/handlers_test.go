package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidproxy/work/client"
	"vidproxy/work/config"
	"vidproxy/work/proxy"
	"vidproxy/work/types"
)

type staticResolver struct{ result *types.ResolutionResult }

func (s staticResolver) Resolve(context.Context, types.ResolutionRequest) *types.ResolutionResult {
	return s.result
}

func newProxy(r proxy.Resolver) *proxy.StreamProxy {
	cfg := config.Default()
	return proxy.New(cfg, client.NewHeaderSettingClient(cfg), r, nil, nil, nil, nil)
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) proxy.ExtractResult {
	t.Helper()
	var body struct {
		Result proxy.ExtractResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Result
}

func TestHandleExtractFallback(t *testing.T) {
	h := HandleExtract(newProxy(staticResolver{}))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ytdlp-extract?url=https%3A%2F%2Fexample.com%2Fpage", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeResult(t, rec)
	assert.False(t, got.Resolved)
	assert.Equal(t, "fallback", got.ResolvedBy)
	assert.Equal(t, types.FormatMP4, got.Format)
	assert.Equal(t, "https://example.com/page", got.StreamURL)
}

func TestHandleExtractResolved(t *testing.T) {
	h := HandleExtract(newProxy(staticResolver{result: &types.ResolutionResult{
		Title: "Clip", StreamURL: "https://cdn/x.m3u8", Format: types.FormatHLS, Duration: 10,
	}}))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ytdlp-extract?url=https://vimeo.com/1", nil))

	got := decodeResult(t, rec)
	assert.True(t, got.Resolved)
	assert.Equal(t, "ytdlp", got.ResolvedBy)
	assert.Equal(t, "Clip", got.Title)
	assert.Equal(t, types.FormatHLS, got.Format)
}

func TestHandleExtractMissingURL(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleExtract(newProxy(nil))(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ytdlp-extract", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleVideoDelegates(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleVideo(newProxy(nil))(rec, httptest.NewRequest(http.MethodGet, "/proxy/video", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
