package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"vidproxy/work/cache"
	"vidproxy/work/config"
	"vidproxy/work/logger"
	"vidproxy/work/metrics"
	"vidproxy/work/types"
	"vidproxy/work/utils"
)

const maxDescriptionRunes = 200

// YTDLP resolves page URLs to stream URLs by running yt-dlp. Outcomes are
// cached in the injected ResolutionCache; failures never surface as errors.
type YTDLP struct {
	binary        string
	timeout       time.Duration
	socketTimeout int
	cache         *cache.ResolutionCache
	matcher       *SignatureMatcher
	runner        Runner
	cfg           *config.Config
}

// New builds a resolver from cfg. runner may be nil, in which case the real
// binary is executed.
func New(cfg *config.Config, resolutionCache *cache.ResolutionCache, runner Runner) (*YTDLP, error) {
	matcher, err := NewSignatureMatcher(cfg.Extractor.Signatures, cfg.Extractor.MatchAll)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		runner = ExecRunner{}
	}

	return &YTDLP{
		binary:        cfg.Extractor.Binary,
		timeout:       cfg.Extractor.Timeout,
		socketTimeout: cfg.Extractor.SocketTimeout,
		cache:         resolutionCache,
		matcher:       matcher,
		runner:        runner,
		cfg:           cfg,
	}, nil
}

// Resolve returns the extraction result for req, or nil when the URL is not
// supported, the extraction failed, or a recent failure is still cached.
//
// Parameters:
//   - ctx: request context; a cancelled request is not recorded as a failure
//   - req: URL plus the user agent and referer to extract with
//
// Returns:
//   - *types.ResolutionResult: shared, read-only result or nil
func (y *YTDLP) Resolve(ctx context.Context, req types.ResolutionRequest) *types.ResolutionResult {
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return nil
	}
	if !y.matcher.CanHandle(req.URL) {
		return nil
	}

	key := req.Key()
	result, outcome := y.cache.Lookup(key)
	metrics.CacheLookups.WithLabelValues("resolution", outcome.String()).Inc()
	switch outcome {
	case cache.Hit:
		return result
	case cache.NegativeHit:
		logger.Debug("{resolver - Resolve} recent failure cached for %s", utils.LogURL(y.cfg, req.URL))
		return nil
	}

	started := time.Now()
	result, err := y.extract(ctx, req)
	metrics.ResolutionDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			metrics.Resolutions.WithLabelValues("cancelled").Inc()
			return nil
		}
		metrics.Resolutions.WithLabelValues("failed").Inc()
		logger.Warn("{resolver - Resolve} extraction failed for %s: %v", utils.LogURL(y.cfg, req.URL), err)
		y.cache.Store(key, nil)
		return nil
	}

	metrics.Resolutions.WithLabelValues("resolved").Inc()
	logger.Info("{resolver - Resolve} resolved %s (%s, %s)", utils.LogURL(y.cfg, req.URL), result.Format, time.Since(started).Round(time.Millisecond))
	y.cache.Store(key, result)
	return result
}

// Args builds the yt-dlp command line for req.
func (y *YTDLP) Args(req types.ResolutionRequest) []string {
	args := []string{
		"--no-warnings",
		"--no-playlist",
		"--socket-timeout", strconv.Itoa(y.socketTimeout),
		"-j",
		"-f", "best/all",
		// progressive https before hls
		"--format-sort", "proto:https",
	}
	if req.UserAgent != "" {
		args = append(args, "--user-agent="+req.UserAgent)
	}
	if req.Referer != "" {
		args = append(args, "--referer="+req.Referer)
	}
	return append(args, req.URL)
}

func (y *YTDLP) extract(ctx context.Context, req types.ResolutionRequest) (*types.ResolutionResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	out, err := y.runner.Run(runCtx, y.binary, y.Args(req)...)
	if err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			return nil, fmt.Errorf("%s not found in PATH: %w", y.binary, err)
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return nil, fmt.Errorf("timed out after %s", y.timeout)
		}
		return nil, err
	}

	return ParseInfo(out)
}

// ytdlpInfo is the subset of yt-dlp's -j output we use.
type ytdlpInfo struct {
	Title       *string           `json:"title"`
	URL         string            `json:"url"`
	Duration    *float64          `json:"duration"`
	IsLive      *bool             `json:"is_live"`
	Thumbnail   string            `json:"thumbnail"`
	Ext         string            `json:"ext"`
	Protocol    string            `json:"protocol"`
	Uploader    string            `json:"uploader"`
	Description string            `json:"description"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

// ParseInfo converts yt-dlp JSON output into a ResolutionResult.
func ParseInfo(out []byte) (*types.ResolutionResult, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp output: %w", err)
	}
	if info.URL == "" {
		return nil, errors.New("yt-dlp output has no stream url")
	}

	result := &types.ResolutionResult{
		Title:       "Video",
		StreamURL:   info.URL,
		Thumbnail:   info.Thumbnail,
		Format:      detectFormat(info),
		Uploader:    info.Uploader,
		Description: truncateRunes(info.Description, maxDescriptionRunes),
	}
	if info.Title != nil {
		result.Title = *info.Title
	}
	if info.Duration != nil {
		result.Duration = *info.Duration
	}
	if info.IsLive != nil {
		result.IsLive = *info.IsLive
	}
	if len(info.HTTPHeaders) > 0 {
		result.RequestHeaders = make(map[string]string, len(info.HTTPHeaders))
		for k, v := range info.HTTPHeaders {
			result.RequestHeaders[strings.ToLower(k)] = v
		}
	}

	return result, nil
}

func detectFormat(info ytdlpInfo) types.Format {
	if strings.Contains(strings.ToLower(info.URL), "m3u8") || strings.HasPrefix(info.Protocol, "m3u8") {
		return types.FormatHLS
	}
	ext := info.Ext
	if ext == "" {
		ext = "mp4"
	}
	return types.FormatFromExtension(ext)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
