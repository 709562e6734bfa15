package parser

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"vidproxy/work/types"
)

// Verdict is a single liveness rule's opinion.
type Verdict int

const (
	// NoSignal means the rule has nothing to say; the next rule is consulted.
	NoSignal Verdict = iota
	Live
	NotLive
)

// Manifest is a playlist prepared once for rule evaluation.
type Manifest struct {
	Raw   []byte
	Text  string // trimmed, invalid UTF-8 dropped
	Upper string
}

// NewManifest prepares content for classification. ok is false when the
// content is not an HLS playlist at all.
func NewManifest(content []byte) (m *Manifest, ok bool) {
	text := strings.TrimSpace(strings.ToValidUTF8(string(content), ""))
	if !strings.HasPrefix(text, "#EXTM3U") {
		return nil, false
	}
	return &Manifest{Raw: content, Text: text, Upper: strings.ToUpper(text)}, true
}

// LivenessRule inspects a manifest and returns a verdict.
type LivenessRule struct {
	Name  string
	Check func(m *Manifest) Verdict
}

// WindowHeuristic describes the short rolling window that marks a live
// playlist without explicit tags: at most MaxSegments segments whose total
// duration fits in MaxSegments target durations plus Slack seconds.
type WindowHeuristic struct {
	MaxSegments int
	Slack       float64
}

// DefaultWindow is the heuristic used when none is configured.
var DefaultWindow = WindowHeuristic{MaxSegments: 6, Slack: 0.5}

// VODMarkerRule: an end tag or VOD playlist type decides "not live".
var VODMarkerRule = LivenessRule{
	Name: "vod-marker",
	Check: func(m *Manifest) Verdict {
		if strings.Contains(m.Upper, "#EXT-X-ENDLIST") || strings.Contains(m.Upper, "#EXT-X-PLAYLIST-TYPE:VOD") {
			return NotLive
		}
		return NoSignal
	},
}

// LivePlaylistTypeRule: EVENT or LIVE playlist types are live.
var LivePlaylistTypeRule = LivenessRule{
	Name: "live-playlist-type",
	Check: func(m *Manifest) Verdict {
		if strings.Contains(m.Upper, "#EXT-X-PLAYLIST-TYPE:EVENT") || strings.Contains(m.Upper, "#EXT-X-PLAYLIST-TYPE:LIVE") {
			return Live
		}
		return NoSignal
	},
}

// ProgramDateTimeRule: wall-clock stamped segments are live.
var ProgramDateTimeRule = LivenessRule{
	Name:  "program-date-time",
	Check: tagRule("#EXT-X-PROGRAM-DATE-TIME"),
}

// LowLatencyRule: LL-HLS tags only appear in live playlists.
var LowLatencyRule = LivenessRule{
	Name:  "low-latency",
	Check: tagRule("#EXT-X-SERVER-CONTROL", "#EXT-X-PART", "#EXT-X-SKIP"),
}

// MediaSequenceRule: a media sequence number is taken as a sliding window.
var MediaSequenceRule = LivenessRule{
	Name:  "media-sequence",
	Check: tagRule("#EXT-X-MEDIA-SEQUENCE"),
}

// ShortWindowRule builds the rolling-window heuristic rule.
func ShortWindowRule(w WindowHeuristic) LivenessRule {
	return LivenessRule{
		Name: "short-window",
		Check: func(m *Manifest) Verdict {
			target, count, total := windowStats(m)
			if target <= 0 || count <= 0 {
				return NoSignal
			}
			if count <= w.MaxSegments && total <= target*float64(w.MaxSegments)+w.Slack {
				return Live
			}
			return NoSignal
		},
	}
}

func tagRule(tags ...string) func(m *Manifest) Verdict {
	return func(m *Manifest) Verdict {
		for _, tag := range tags {
			if strings.Contains(m.Upper, tag) {
				return Live
			}
		}
		return NoSignal
	}
}

// LivenessClassifier evaluates rules in order; the first decisive verdict wins.
type LivenessClassifier struct {
	Rules []LivenessRule
}

// NewLivenessClassifier returns the standard rule chain with the given
// window heuristic as its last rule.
func NewLivenessClassifier(w WindowHeuristic) *LivenessClassifier {
	return &LivenessClassifier{
		Rules: []LivenessRule{
			VODMarkerRule,
			LivePlaylistTypeRule,
			ProgramDateTimeRule,
			LowLatencyRule,
			MediaSequenceRule,
			ShortWindowRule(w),
		},
	}
}

var defaultClassifier = NewLivenessClassifier(DefaultWindow)

// Classify returns (isLive, hasSignal). Content that isn't a playlist, or
// that no rule has an opinion about, is (false, false).
func (lc *LivenessClassifier) Classify(content []byte) (isLive bool, hasSignal bool) {
	m, ok := NewManifest(content)
	if !ok {
		return false, false
	}
	for _, rule := range lc.Rules {
		switch rule.Check(m) {
		case Live:
			return true, true
		case NotLive:
			return false, true
		}
	}
	return false, false
}

// ClassifyLiveness runs the default rule chain.
func ClassifyLiveness(content []byte) (isLive bool, hasSignal bool) {
	return defaultClassifier.Classify(content)
}

// IsHLS reports whether content starts with the #EXTM3U header.
func IsHLS(content []byte) bool {
	_, ok := NewManifest(content)
	return ok
}

// IsMaster reports whether content is a master playlist.
func IsMaster(content []byte) bool {
	m, ok := NewManifest(content)
	return ok && strings.Contains(m.Upper, "#EXT-X-STREAM-INF")
}

// ClassifyManifest builds the full classification of content.
func (lc *LivenessClassifier) ClassifyManifest(content []byte) types.ManifestClassification {
	m, ok := NewManifest(content)
	if !ok {
		return types.ManifestClassification{}
	}
	isLive, signal := lc.Classify(content)
	return types.ManifestClassification{
		IsHLS:         true,
		IsMaster:      strings.Contains(m.Upper, "#EXT-X-STREAM-INF"),
		IsLive:        isLive,
		HasLiveSignal: signal,
	}
}

// ExtractFirstVariant returns the first variant URI of a master playlist,
// resolved against baseURL. ok is false when there is none.
func ExtractFirstVariant(baseURL string, content []byte) (string, bool) {
	m, ok := NewManifest(content)
	if !ok {
		return "", false
	}

	expectURI := false
	scanner := bufio.NewScanner(strings.NewReader(m.Text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			expectURI = true
		case strings.HasPrefix(line, "#"):
			continue
		case expectURI:
			return ResolveURI(baseURL, line), true
		}
	}
	return "", false
}

// windowStats returns the declared target duration, segment count and
// summed segment duration. grafov/m3u8 counts segments for well-formed media
// playlists and a plain line scan covers the rest. The target always comes
// from the #EXT-X-TARGETDURATION line as declared; the decoder raises its
// copy to the longest segment.
func windowStats(m *Manifest) (target float64, count int, total float64) {
	target, count, total = scanWindowStats(m.Text)

	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(m.Text), false)
	if err != nil || listType != m3u8.MEDIA {
		return target, count, total
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return target, count, total
	}

	decodedCount, decodedTotal := 0, 0.0
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		decodedCount++
		decodedTotal += seg.Duration
	}
	if decodedCount > 0 {
		return target, decodedCount, decodedTotal
	}
	return target, count, total
}

func scanWindowStats(text string) (target float64, count int, total float64) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if v, err := strconv.ParseFloat(strings.TrimSpace(line[len("#EXT-X-TARGETDURATION:"):]), 64); err == nil {
				target = v
			}
		case strings.HasPrefix(line, "#EXTINF:"):
			val := line[len("#EXTINF:"):]
			if i := strings.IndexByte(val, ','); i >= 0 {
				val = val[:i]
			}
			if v, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				total += v
				count++
			}
		}
	}
	return target, count, total
}
