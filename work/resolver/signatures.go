package resolver

import (
	"fmt"
	"strings"

	"github.com/grafana/regexp"

	"vidproxy/work/logger"
)

// DefaultSignatures are URL patterns the extractor is known to handle. They
// form a cheap pre-filter so obviously unsupported pages never cost a
// subprocess.
var DefaultSignatures = []string{
	`(?i)^https?://(www\.|m\.|music\.)?youtube\.com/`,
	`(?i)^https?://youtu\.be/`,
	`(?i)^https?://(www\.|player\.)?vimeo\.com/`,
	`(?i)^https?://(www\.)?dailymotion\.com/`,
	`(?i)^https?://dai\.ly/`,
	`(?i)^https?://(www\.|m\.|clips\.)?twitch\.tv/`,
	`(?i)^https?://(www\.|mobile\.)?(twitter|x)\.com/[^/]+/status/`,
	`(?i)^https?://(www\.|vm\.|m\.)?tiktok\.com/`,
	`(?i)^https?://(www\.|m\.|web\.)?facebook\.com/`,
	`(?i)^https?://fb\.watch/`,
	`(?i)^https?://(www\.)?instagram\.com/(p|reel|tv)/`,
	`(?i)^https?://(www\.|old\.)?reddit\.com/r/[^/]+/comments/`,
	`(?i)^https?://(www\.)?streamable\.com/`,
	`(?i)^https?://(www\.)?soundcloud\.com/`,
	`(?i)^https?://(www\.)?(ok\.ru|odnoklassniki\.ru)/video`,
	`(?i)^https?://(www\.|m\.)?vk\.com/video`,
	`(?i)^https?://(www\.)?rumble\.com/`,
	`(?i)^https?://(www\.)?bilibili\.com/video/`,
	`(?i)^https?://(www\.)?kick\.com/`,
	// generic watch/embed/video pages
	`(?i)^https?://[^/]+/(watch|embed|video|videos|v|e)(/|\?|$)`,
}

// SignatureMatcher decides whether a URL is worth handing to the extractor.
type SignatureMatcher struct {
	patterns []*regexp.Regexp
	matchAll bool
}

// NewSignatureMatcher compiles DefaultSignatures plus extra. Invalid extra
// patterns are logged and skipped. With matchAll every http(s) URL passes.
func NewSignatureMatcher(extra []string, matchAll bool) (*SignatureMatcher, error) {
	sm := &SignatureMatcher{matchAll: matchAll}

	for _, p := range DefaultSignatures {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile default signature %q: %w", p, err)
		}
		sm.patterns = append(sm.patterns, re)
	}

	for _, p := range extra {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Error("{resolver/signatures - NewSignatureMatcher} skipping invalid signature %q: %v", p, err)
			continue
		}
		sm.patterns = append(sm.patterns, re)
	}

	return sm, nil
}

// CanHandle reports whether rawURL matches any signature.
func (sm *SignatureMatcher) CanHandle(rawURL string) bool {
	if sm.matchAll {
		return true
	}
	for _, re := range sm.patterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// Len is the number of compiled patterns.
func (sm *SignatureMatcher) Len() int {
	return len(sm.patterns)
}
