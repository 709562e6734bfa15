package parser

import (
	"bytes"
	"strings"

	"github.com/grafana/regexp"
)

// ContentTypeVTT is served for every processed subtitle.
const ContentTypeVTT = "text/vtt; charset=utf-8"

var (
	utf8BOM     = []byte("\xef\xbb\xbf")
	vttHeader   = []byte("WEBVTT")
	srtTimecode = regexp.MustCompile(`(\d{1,2}:\d{2}:\d{2}),(\d{3})`)
)

// ProcessSubtitle normalises a subtitle document to WebVTT. The BOM is
// stripped, VTT is passed through (with a header added if missing) and SRT
// is converted by rewriting its timecodes. Anything else is returned as is.
func ProcessSubtitle(content []byte, contentType, sourceURL string) []byte {
	content = bytes.TrimPrefix(content, utf8BOM)

	if strings.Contains(strings.ToLower(contentType), "text/vtt") || bytes.HasPrefix(content, vttHeader) {
		return withVTTHeader(content)
	}

	if isSRT(content, contentType, sourceURL) {
		content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
		content = srtTimecode.ReplaceAll(content, []byte("$1.$2"))
		return withVTTHeader(content)
	}

	return content
}

func isSRT(content []byte, contentType, sourceURL string) bool {
	if strings.EqualFold(contentType, "application/x-subrip") {
		return true
	}
	if p := strings.ToLower(urlPath(sourceURL)); strings.HasSuffix(p, ".srt") {
		return true
	}
	trimmed := bytes.TrimSpace(content)
	return bytes.HasPrefix(trimmed, []byte("1\r\n")) || bytes.HasPrefix(trimmed, []byte("1\n"))
}

func withVTTHeader(content []byte) []byte {
	if bytes.HasPrefix(content, vttHeader) {
		return content
	}
	out := make([]byte, 0, len(content)+8)
	out = append(out, "WEBVTT\n\n"...)
	return append(out, content...)
}
