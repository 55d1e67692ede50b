package artifact

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"photobooth/internal/domain"
)

// ProxyPath is the service route that relays remote images. Store requests
// that point at it are unwrapped to the upstream URL.
const ProxyPath = "/proxy-image"

// maxUnwrap bounds nested proxy URLs.
const maxUnwrap = 3

const maxRedirects = 5

// SourcePolicy decides which remote URLs the service may download from.
type SourcePolicy struct {
	hosts map[string]struct{}
}

// NewSourcePolicy allows exactly the given hosts (case-insensitive, no ports).
// An empty list allows nothing.
func NewSourcePolicy(hosts []string) *SourcePolicy {
	p := &SourcePolicy{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			p.hosts[h] = struct{}{}
		}
	}
	return p
}

// Allowed reports whether host (with or without port) is allowlisted.
func (p *SourcePolicy) Allowed(host string) bool {
	if p == nil {
		return false
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	_, ok := p.hosts[host]
	return ok
}

// Resolve parses raw, unwraps proxy URLs and checks the upstream host. The
// returned URL is always absolute http(s).
func (p *SourcePolicy) Resolve(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	for i := 0; i < maxUnwrap && u.Path == ProxyPath; i++ {
		inner := u.Query().Get("url")
		if inner == "" {
			return nil, fmt.Errorf("proxy url without upstream: %s", raw)
		}
		if u, err = url.Parse(inner); err != nil {
			return nil, fmt.Errorf("parse upstream url: %w", err)
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", domain.ErrHostNotAllowed, u.Scheme)
	}
	if !p.Allowed(u.Hostname()) {
		return nil, fmt.Errorf("%w: %s", domain.ErrHostNotAllowed, u.Hostname())
	}
	return u, nil
}

// CheckRedirect applies the policy to every redirect hop. It has the
// signature of http.Client.CheckRedirect.
func (p *SourcePolicy) CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: redirect to scheme %q", domain.ErrHostNotAllowed, req.URL.Scheme)
	}
	if !p.Allowed(req.URL.Hostname()) {
		return fmt.Errorf("%w: redirect to %s", domain.ErrHostNotAllowed, req.URL.Hostname())
	}
	return nil
}

// Client returns a copy of base whose redirects are checked against the
// policy. A nil base yields a client with default settings.
func (p *SourcePolicy) Client(base *http.Client) *http.Client {
	c := &http.Client{}
	if base != nil {
		*c = *base
	}
	c.CheckRedirect = p.CheckRedirect
	return c
}
