package proxy

import (
	"context"
	"strings"

	"vidproxy/work/types"
)

// ResolvedByFallback marks an extraction answer that just echoes the input.
const ResolvedByFallback = "fallback"

// ExtractResult is the JSON shape of the extraction API.
type ExtractResult struct {
	Title       string       `json:"title"`
	StreamURL   string       `json:"stream_url"`
	Duration    float64      `json:"duration"`
	IsLive      bool         `json:"is_live"`
	Thumbnail   string       `json:"thumbnail,omitempty"`
	Format      types.Format `json:"format"`
	Uploader    string       `json:"uploader,omitempty"`
	Description string       `json:"description,omitempty"`
	Resolved    bool         `json:"resolved"`
	ResolvedBy  string       `json:"resolved_by"`
}

// Extract resolves target for API callers. When the extractor cannot help,
// the original URL comes back as the stream with a format guessed from it.
func (sp *StreamProxy) Extract(ctx context.Context, target, userAgent, referer string) ExtractResult {
	var result *types.ResolutionResult
	if sp.Resolver != nil {
		result = sp.Resolver.Resolve(ctx, types.ResolutionRequest{URL: target, UserAgent: userAgent, Referer: referer})
	}

	if result == nil || result.StreamURL == "" {
		format := types.FormatMP4
		if strings.Contains(strings.ToLower(target), ".m3u8") {
			format = types.FormatHLS
		}
		return ExtractResult{
			Title:      "Video",
			StreamURL:  target,
			Format:     format,
			ResolvedBy: ResolvedByFallback,
		}
	}

	return ExtractResult{
		Title:       result.Title,
		StreamURL:   result.StreamURL,
		Duration:    result.Duration,
		IsLive:      result.IsLive,
		Thumbnail:   result.Thumbnail,
		Format:      result.Format,
		Uploader:    result.Uploader,
		Description: result.Description,
		Resolved:    true,
		ResolvedBy:  ResolvedByExtractor,
	}
}
