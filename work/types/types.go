package types

import (
	"strconv"
	"strings"
)

// Format is the delivery format reported for a resolved stream.
type Format string

const (
	FormatHLS  Format = "hls"
	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
	FormatMKV  Format = "mkv"
	FormatAVI  Format = "avi"
	FormatMOV  Format = "mov"
	FormatFLV  Format = "flv"
	FormatWMV  Format = "wmv"
)

var progressiveFormats = map[string]Format{
	"mp4":  FormatMP4,
	"webm": FormatWebM,
	"mkv":  FormatMKV,
	"avi":  FormatAVI,
	"mov":  FormatMOV,
	"flv":  FormatFLV,
	"wmv":  FormatWMV,
}

// FormatFromExtension maps a container extension (with or without the dot)
// to a Format, falling back to mp4.
func FormatFromExtension(ext string) Format {
	if f, ok := progressiveFormats[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return f
	}
	return FormatMP4
}

// ResolutionRequest identifies one extraction attempt. Two requests with the
// same fields share a cache entry.
type ResolutionRequest struct {
	URL       string
	UserAgent string
	Referer   string
}

// Key is the cache key for the request.
func (r ResolutionRequest) Key() string {
	return r.URL + "|" + r.UserAgent + "|" + r.Referer
}

// ResolutionResult is what a successful extraction produced. It is never
// modified after creation and may be shared between callers.
type ResolutionResult struct {
	Title          string            `json:"title"`
	StreamURL      string            `json:"stream_url"`
	Duration       float64           `json:"duration"`
	IsLive         bool              `json:"is_live"`
	Thumbnail      string            `json:"thumbnail,omitempty"`
	Format         Format            `json:"format"`
	Uploader       string            `json:"uploader,omitempty"`
	Description    string            `json:"description,omitempty"`
	RequestHeaders map[string]string `json:"http_headers,omitempty"`
}

// Header returns a request header recorded by the extractor. Keys are stored
// lower-cased.
func (r *ResolutionResult) Header(name string) string {
	if r == nil || r.RequestHeaders == nil {
		return ""
	}
	return r.RequestHeaders[strings.ToLower(name)]
}

// ManifestClassification is computed per fetch and never cached.
type ManifestClassification struct {
	IsHLS         bool
	IsMaster      bool
	IsLive        bool
	HasLiveSignal bool
}

// Resolution carries what the orchestrator learned about a request as it
// moves through its stages. Values are copied between stages, never shared.
type Resolution struct {
	OriginalURL string
	URL         string // the URL actually fetched
	UserAgent   string
	Referer     string
	Title       string
	Subtitle    string
	Format      Format
	Duration    float64
	Resolved    bool
	ResolvedBy  string

	// liveness is unknown until a manifest has been classified
	liveKnown bool
	isLive    bool
}

// WithLiveness returns a copy carrying a liveness verdict.
func (r Resolution) WithLiveness(isLive bool) Resolution {
	r.liveKnown = true
	r.isLive = isLive
	return r
}

// Liveness reports the verdict and whether one was recorded.
func (r Resolution) Liveness() (isLive bool, known bool) {
	return r.isLive, r.liveKnown
}

// Response header names exposed to browser clients.
const (
	HeaderResolvedURL       = "X-Resolved-Url"
	HeaderResolvedUserAgent = "X-Resolved-User-Agent"
	HeaderResolvedReferer   = "X-Resolved-Referer"
	HeaderResolvedTitle     = "X-Resolved-Title"
	HeaderResolvedSubtitle  = "X-Resolved-Subtitle"
	HeaderResolvedFormat    = "X-Resolved-Format"
	HeaderResolvedDuration  = "X-Resolved-Duration"
	HeaderResolvedIsLive    = "X-Resolved-Is-Live"
	HeaderResolvedBy        = "X-Resolved-By"
	HeaderResolved          = "X-Resolved"
)

// ExposedHeaders is the Access-Control-Expose-Headers whitelist.
var ExposedHeaders = []string{
	HeaderResolvedURL,
	HeaderResolvedUserAgent,
	HeaderResolvedReferer,
	HeaderResolvedTitle,
	HeaderResolvedSubtitle,
	HeaderResolvedFormat,
	HeaderResolvedDuration,
	HeaderResolvedIsLive,
	HeaderResolvedBy,
	HeaderResolved,
}

// FormatDuration renders seconds the way the X-Resolved-Duration header
// carries them.
func FormatDuration(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
