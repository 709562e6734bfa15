package parser

import (
	"net/url"
	"path"
	"strings"
)

// ContentTypeHLS is the playlist media type handed to browsers.
const ContentTypeHLS = "application/vnd.apple.mpegurl"

// DefaultContentType is used when neither upstream nor the URL tell us more.
const DefaultContentType = "video/mp4"

// contentTypes is checked in order; the first extension found anywhere in
// the lower-cased URL wins.
var contentTypes = []struct {
	ext         string
	contentType string
}{
	{".m3u8", ContentTypeHLS},
	{".ts", "video/mp2t"},
	{".mp4", "video/mp4"},
	{".webm", "video/webm"},
	{".mkv", "video/x-matroska"},
	{".avi", "video/x-msvideo"},
	{".mov", "video/quicktime"},
	{".flv", "video/x-flv"},
	{".wmv", "video/x-ms-wmv"},
	{".m4s", "video/iso.segment"},
}

var (
	segmentIndicators = []string{".ts", ".m4s", ".mp4", ".aac", "seg-", "chunk-", "fragment", ".png", ".jpg", ".jpeg"}
	hlsIndicators     = []string{".m3u8", "/m.php", "/l.php", "/ld.php", "master.txt", "embed/sheila"}
	directExtensions  = []string{".m3u8", ".mp4", ".webm", ".mkv", ".avi", ".mov", ".flv", ".wmv", ".ts", ".m4s"}
)

// IsSegmentURL reports whether u looks like an HLS media segment (or a
// disguised one). Anything mentioning .m3u8 is a playlist, never a segment.
func IsSegmentURL(u string) bool {
	lower := strings.ToLower(u)
	if strings.Contains(lower, ".m3u8") {
		return false
	}
	return containsAny(lower, segmentIndicators)
}

// IsHLSURL reports whether u matches a known HLS delivery pattern.
func IsHLSURL(u string) bool {
	return containsAny(u, hlsIndicators)
}

// IsDirectMediaURL reports whether a media or playlist extension appears
// anywhere in the URL, query included, so no extraction is needed to play
// it (get.php?file=movie.webm counts).
func IsDirectMediaURL(u string) bool {
	return containsAny(strings.ToLower(u), directExtensions)
}

// NeedsResolution reports whether u should go through the extractor before
// being fetched.
func NeedsResolution(u string) bool {
	return !IsSegmentURL(u) && !IsHLSURL(u) && !IsDirectMediaURL(u)
}

// IsHLSContentType reports whether a Content-Type header names a playlist.
func IsHLSContentType(ct string) bool {
	lower := strings.ToLower(ct)
	return strings.Contains(lower, "mpegurl") || strings.Contains(lower, "m3u8")
}

// ContentTypeFor picks the response Content-Type: the upstream value if
// present, else one derived from the URL, else DefaultContentType.
func ContentTypeFor(u, upstream string) string {
	if upstream != "" {
		return upstream
	}
	if ct, ok := ContentTypeFromURL(u); ok {
		return ct
	}
	return DefaultContentType
}

// ContentTypeFromURL derives a media type from an extension in the URL.
func ContentTypeFromURL(u string) (string, bool) {
	lower := strings.ToLower(u)
	for _, entry := range contentTypes {
		if strings.Contains(lower, entry.ext) {
			return entry.contentType, true
		}
	}
	return "", false
}

// SegmentContentType is the type served for cached segment bytes.
func SegmentContentType(u string) string {
	if strings.HasSuffix(strings.ToLower(urlPath(u)), ".ts") {
		return "video/MP2T"
	}
	return "video/iso.segment"
}

// urlPath returns the path component of u, or u itself if it doesn't parse.
func urlPath(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Path == "" {
		return u
	}
	return path.Clean(parsed.Path)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
