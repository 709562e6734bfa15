package client

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"vidproxy/work/config"
)

// HeaderSettingClient wraps http.Client and stamps every outbound media
// request with the headers origins expect from a browser player.
type HeaderSettingClient struct {
	Client           *http.Client
	defaultUserAgent string
}

// Options are the per-request header inputs. Empty values fall back to
// defaults (user agent) or are omitted (referer, range).
type Options struct {
	UserAgent string
	Referer   string
	Range     string
}

// NewHeaderSettingClient builds the shared upstream client. There is no
// overall timeout because progressive bodies stream for as long as the
// client keeps reading. Certificate verification follows
// cfg.Proxy.InsecureSkipVerify; media hosts with broken chains are common.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	dialer := &net.Dialer{
		Timeout:   cfg.Proxy.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: cfg.Proxy.ResponseHeaderTimeout,
		DisableCompression:    true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Proxy.InsecureSkipVerify, //nolint:gosec
		},
	}

	return &HeaderSettingClient{
		Client:           &http.Client{Transport: transport},
		defaultUserAgent: cfg.Proxy.DefaultUserAgent,
	}
}

// NewRequest builds a GET with the upstream header set applied.
func (hsc *HeaderSettingClient) NewRequest(ctx context.Context, target string, opts Options) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	hsc.setHeaders(req, opts)
	return req, nil
}

// Get is NewRequest followed by Do.
func (hsc *HeaderSettingClient) Get(ctx context.Context, target string, opts Options) (*http.Response, error) {
	req, err := hsc.NewRequest(ctx, target, opts)
	if err != nil {
		return nil, err
	}
	return hsc.Do(req)
}

func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	return hsc.Client.Do(req)
}

// UserAgentFor returns ua, or the configured default when ua is empty.
func (hsc *HeaderSettingClient) UserAgentFor(ua string) string {
	if ua != "" {
		return ua
	}
	return hsc.defaultUserAgent
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request, opts Options) {
	req.Header.Set("Accept", "*/*")
	// identity keeps byte offsets stable for range requests
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("User-Agent", hsc.UserAgentFor(opts.UserAgent))

	if opts.Referer != "" {
		req.Header.Set("Referer", opts.Referer)
	}
	if opts.Range != "" {
		req.Header.Set("Range", opts.Range)
	}
}
