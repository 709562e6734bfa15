package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vidproxy/work/buffer"
	"vidproxy/work/cache"
	"vidproxy/work/client"
	"vidproxy/work/config"
	"vidproxy/work/handlers"
	"vidproxy/work/logger"
	"vidproxy/work/middleware"
	"vidproxy/work/proxy"
	"vidproxy/work/resolver"
	"vidproxy/work/utils"
	"vidproxy/work/warmer"
)

var (
	Version = "v0.1.0" // default version
)

const shutdownTimeout = 10 * time.Second

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// Set up logging
	logger.Configure(cfg.Log.Level, logger.FileOptions{
		Filename:   cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logger.Close()

	bufferPool := buffer.NewBufferPool()
	httpClient := client.NewHeaderSettingClient(cfg)

	// caches live for the whole process and are shared by every request
	resolutionCache := cache.NewResolutionCache(cfg.Extractor.CacheTTL, cfg.Extractor.NegativeTTL, cfg.Extractor.SweepThreshold)

	segmentCache, err := cache.NewSegmentCache(cfg.SegmentCache.MaxSize, cfg.SegmentCache.TTL)
	if err != nil {
		logger.Error("{main - main} %v", err)
		os.Exit(1)
	}

	subtitleCache, err := cache.NewSubtitleCache(cfg.SubtitleCache.MaxSize, cfg.SubtitleCache.TTL)
	if err != nil {
		logger.Error("{main - main} %v", err)
		os.Exit(1)
	}
	defer subtitleCache.Close()

	ytdlp, err := resolver.New(cfg, resolutionCache, nil)
	if err != nil {
		logger.Error("{main - main} failed to build resolver: %v", err)
		os.Exit(1)
	}

	var prefetcher proxy.Prefetcher
	var segmentWarmer *warmer.Warmer
	if cfg.Prefetch.Enabled {
		segmentWarmer, err = warmer.New(cfg, httpClient, segmentCache, bufferPool)
		if err != nil {
			logger.Error("{main - main} failed to create prefetch pool: %v", err)
			os.Exit(1)
		}
		defer segmentWarmer.Close(shutdownTimeout)
		prefetcher = segmentWarmer
	}

	// Create proxy instance
	proxyInstance := proxy.New(cfg, httpClient, ytdlp, segmentCache, subtitleCache, prefetcher, bufferPool)

	// Setup HTTP routes
	router := mux.NewRouter()

	router.HandleFunc("/proxy/video", middleware.MediaCORS(handlers.HandleVideo(proxyInstance))).Methods("GET", "HEAD", "OPTIONS")
	router.HandleFunc("/proxy/subtitle", middleware.MediaCORS(handlers.HandleSubtitle(proxyInstance))).Methods("GET", "HEAD", "OPTIONS")
	router.HandleFunc("/api/v1/ytdlp-extract", middleware.APICORS(middleware.GzipMiddleware(handlers.HandleExtract(proxyInstance)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/health", handlers.HandleHealth).Methods("GET")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, &adminState{
		proxy:       proxyInstance,
		resolutions: resolutionCache,
		segments:    segmentCache,
		subtitles:   subtitleCache,
		warmer:      segmentWarmer,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	// show info
	logger.Info("Starting vidproxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen: %s", addr)
	logger.Info("  - Extractor: %s (timeout %s, cache %s / %s)", cfg.Extractor.Binary, cfg.Extractor.Timeout, cfg.Extractor.CacheTTL, cfg.Extractor.NegativeTTL)
	logger.Info("  - Segment Cache: %s for %s", utils.FormatBytes(cfg.SegmentCache.MaxSize), cfg.SegmentCache.TTL)
	logger.Info("  - Subtitle Cache: %s for %s", utils.FormatBytes(cfg.SubtitleCache.MaxSize), cfg.SubtitleCache.TTL)
	logger.Info("  - Chunk Size: %s", utils.FormatBytes(int64(cfg.Proxy.ChunkSize)))
	logger.Info("  - Live Window: %d segments, %.1fs slack", cfg.Liveness.WindowSegments, cfg.Liveness.WindowSlack)
	logger.Info("  - Prefetch: %v", cfg.Prefetch.Enabled)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("{main - main} shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("{main - main} shutdown: %v", err)
		}
	}()

	// fire us up
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("{main - main} server failed to start: %v", err)
		os.Exit(1)
	}
}
