package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"vidproxy/work/logger"
	"vidproxy/work/proxy"
)

// HandleVideo serves GET and HEAD /proxy/video.
func HandleVideo(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.HandleVideo(w, r)
	}
}

// HandleSubtitle serves GET /proxy/subtitle.
func HandleSubtitle(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sp.HandleSubtitle(w, r)
	}
}

// HandleExtract serves GET /api/v1/ytdlp-extract. Unresolvable URLs still
// answer 200 with a fallback result.
func HandleExtract(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		q := r.URL.Query()
		target := strings.TrimSpace(q.Get("url"))
		if target == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "url parameter required"})
			return
		}

		result := sp.Extract(r.Context(), target, q.Get("user_agent"), q.Get("referer"))
		if err := json.NewEncoder(w).Encode(map[string]any{"result": result}); err != nil {
			logger.Error("{handlers - HandleExtract} failed to encode result: %v", err)
		}
	}
}

// HandleHealth is the liveness probe.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
