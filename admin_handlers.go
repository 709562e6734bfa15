package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"vidproxy/work/cache"
	"vidproxy/work/logger"
	"vidproxy/work/middleware"
	"vidproxy/work/proxy"
	"vidproxy/work/utils"
	"vidproxy/work/warmer"
)

// StatsResponse is the payload of GET /api/v1/stats.
type StatsResponse struct {
	Version     string        `json:"version"`
	Uptime      string        `json:"uptime"`
	MemoryUsage string        `json:"memoryUsage"`
	Goroutines  int           `json:"goroutines"`
	Resolutions int           `json:"resolutionEntries"`
	Failures    int           `json:"failedResolutionEntries"`
	Segments    SegmentStats  `json:"segmentCache"`
	Prefetch    *warmer.Stats `json:"prefetch,omitempty"`
	Extractor   string        `json:"extractor"`
	Debug       bool          `json:"debug"`
	Obfuscation bool          `json:"urlObfuscation"`
}

// SegmentStats describes segment cache occupancy.
type SegmentStats struct {
	Entries  int    `json:"entries"`
	Size     string `json:"size"`
	Capacity string `json:"capacity"`
}

// LogEntry is one line of the admin activity log.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// adminState holds what the admin API reports on and clears.
type adminState struct {
	proxy       *proxy.StreamProxy
	resolutions *cache.ResolutionCache
	segments    *cache.SegmentCache
	subtitles   *cache.SubtitleCache
	warmer      *warmer.Warmer
}

var (
	adminStartTime = time.Now()

	logMu      sync.Mutex
	logEntries = make([]LogEntry, 0, maxLogEntries)
)

const maxLogEntries = 1000

// setupAdminRoutes registers the operational JSON API.
//
// Parameters:
//   - router: configured mux router for route registration
//   - state: caches and proxy the API reports on
func setupAdminRoutes(router *mux.Router, state *adminState) {
	router.HandleFunc("/api/v1/stats", middleware.APICORS(middleware.GzipMiddleware(handleGetStats(state)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/v1/cache", middleware.APICORS(handleClearCaches(state))).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/v1/logs", middleware.APICORS(middleware.GzipMiddleware(handleGetLogs))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/v1/logs", middleware.APICORS(handleClearLogs)).Methods("DELETE", "OPTIONS")

	// everything the process logs (resolutions, upstream errors, cache
	// actions) lands in the activity log
	logger.SetHook(addLogEntry)
	logger.Info("{admin - setupAdminRoutes} admin API initialized")
}

// handleGetStats reports uptime, memory and cache occupancy.
func handleGetStats(state *adminState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		cfg := state.proxy.Config
		stats := StatsResponse{
			Version:     Version,
			Uptime:      formatDuration(time.Since(adminStartTime)),
			MemoryUsage: utils.FormatBytes(int64(m.Alloc)),
			Goroutines:  runtime.NumGoroutine(),
			Extractor:   cfg.Extractor.Binary,
			Debug:       cfg.Debug,
			Obfuscation: cfg.ObfuscateUrls,
		}
		if state.resolutions != nil {
			stats.Resolutions, stats.Failures = state.resolutions.Len()
		}
		if state.segments != nil {
			stats.Segments = SegmentStats{
				Entries:  state.segments.Len(),
				Size:     utils.FormatBytes(int64(state.segments.Bytes())),
				Capacity: utils.FormatBytes(state.segments.MaxBytes()),
			}
		}
		if state.warmer != nil {
			ws := state.warmer.Stats()
			stats.Prefetch = &ws
		}

		if err := json.NewEncoder(w).Encode(stats); err != nil {
			logger.Error("{admin - handleGetStats} failed to encode stats: %v", err)
			http.Error(w, "Failed to encode stats", http.StatusInternalServerError)
		}
	}
}

// handleClearCaches drops every resolution, segment and subtitle entry.
func handleClearCaches(state *adminState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if state.resolutions != nil {
			state.resolutions.Clear()
		}
		if state.segments != nil {
			state.segments.Clear()
		}
		if state.subtitles != nil {
			state.subtitles.Clear()
		}

		logger.Info("{admin - handleClearCaches} caches cleared")

		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	}
}

func handleGetLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	logMu.Lock()
	snapshot := append([]LogEntry(nil), logEntries...)
	logMu.Unlock()

	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		http.Error(w, "Failed to encode logs", http.StatusInternalServerError)
	}
}

func handleClearLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	logMu.Lock()
	logEntries = logEntries[:0]
	logMu.Unlock()
	logger.Info("{admin - handleClearLogs} log entries cleared")

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

// addLogEntry appends to the admin log, keeping the newest maxLogEntries.
func addLogEntry(level, message string) {
	entry := LogEntry{
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		Level:     level,
		Message:   message,
	}

	logMu.Lock()
	defer logMu.Unlock()
	logEntries = append(logEntries, entry)
	if len(logEntries) > maxLogEntries {
		logEntries = logEntries[len(logEntries)-maxLogEntries:]
	}
}

// formatDuration converts time.Duration to human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
