package parser

import (
	"bytes"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/grafana/regexp"
)

// ProxyPath is the local route media is proxied through.
const ProxyPath = "/proxy/video"

var uriAttr = regexp.MustCompile(`URI="([^"]+)"`)

// RewriteOptions carries the request context copied into proxy-routed URIs.
type RewriteOptions struct {
	Referer    string
	UserAgent  string
	ForceProxy bool
}

// RewriteManifest rewrites every URI in an HLS playlist so the browser can
// follow it. Playlists, keys and other non-segment resources are routed
// back through ProxyPath; segments point straight at the origin unless
// ForceProxy is set. Content that is not a UTF-8 playlist is returned
// unchanged.
//
// Parameters:
//   - content: playlist body
//   - baseURL: URL the playlist was fetched from, for relative references
//   - opts: referer/user agent to forward and the force-proxy flag
//
// Returns:
//   - []byte: rewritten playlist
func RewriteManifest(content []byte, baseURL string, opts RewriteOptions) []byte {
	if !utf8.Valid(content) {
		return content
	}
	if !bytes.HasPrefix(bytes.TrimSpace(content), []byte("#EXTM3U")) {
		return content
	}

	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.Contains(line, `URI="`):
			lines[i] = uriAttr.ReplaceAllStringFunc(line, func(attr string) string {
				uri := uriAttr.FindStringSubmatch(attr)[1]
				return `URI="` + rewriteURI(uri, baseURL, opts) + `"`
			})

		case trimmed != "" && !strings.HasPrefix(trimmed, "#"):
			lines[i] = rewriteURI(trimmed, baseURL, opts)
		}
	}

	return []byte(strings.Join(lines, "\n"))
}

// rewriteURI applies the routing policy to one reference.
func rewriteURI(uri, baseURL string, opts RewriteOptions) string {
	if IsProxyRoute(uri) {
		return uri
	}

	absolute := ResolveURI(baseURL, uri)
	if !opts.ForceProxy && IsSegmentURL(absolute) {
		return absolute
	}
	return ProxyURL(absolute, opts)
}

// ProxyURL builds the local proxy route for target.
func ProxyURL(target string, opts RewriteOptions) string {
	var sb strings.Builder
	sb.WriteString(ProxyPath)
	sb.WriteString("?url=")
	sb.WriteString(url.QueryEscape(target))
	if opts.Referer != "" {
		sb.WriteString("&referer=")
		sb.WriteString(url.QueryEscape(opts.Referer))
	}
	if opts.UserAgent != "" {
		sb.WriteString("&user_agent=")
		sb.WriteString(url.QueryEscape(opts.UserAgent))
	}
	if opts.ForceProxy {
		sb.WriteString("&force_proxy=1")
	}
	return sb.String()
}

// IsProxyRoute reports whether uri already points at the local proxy.
func IsProxyRoute(uri string) bool {
	return strings.HasPrefix(uri, ProxyPath+"?")
}

// ResolveURI makes ref absolute against base. Absolute http(s) references
// are returned byte for byte; protocol-relative ones take base's scheme.
func ResolveURI(base, ref string) string {
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ref
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}

	if strings.HasPrefix(ref, "//") {
		scheme := baseURL.Scheme
		if scheme == "" {
			scheme = "https"
		}
		return scheme + ":" + ref
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// SegmentURIs lists the segment-class media URIs of a playlist in order,
// resolved against baseURL. Proxy routes are unwrapped to their target.
func SegmentURIs(content []byte, baseURL string) []string {
	m, ok := NewManifest(content)
	if !ok {
		return nil
	}

	var out []string
	for _, line := range strings.Split(m.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		target := line
		if IsProxyRoute(line) {
			if inner, ok := ProxyTarget(line); ok {
				target = inner
			}
		} else {
			target = ResolveURI(baseURL, line)
		}
		if IsSegmentURL(target) {
			out = append(out, target)
		}
	}
	return out
}

// ProxyTarget extracts the url parameter from a proxy route.
func ProxyTarget(route string) (string, bool) {
	u, err := url.Parse(route)
	if err != nil {
		return "", false
	}
	target := u.Query().Get("url")
	return target, target != ""
}
