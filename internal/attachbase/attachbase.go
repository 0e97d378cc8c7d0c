// Package attachbase decides whether the current request is being
// served from the separate attachment origin. Attachments carry
// untrusted user content, so several response-header rules key off this
// decision.
package attachbase

import (
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Placeholder token in the attachment_base template, substituted with
// the bug id (or a digits wildcard when no id is known).
const bugIDToken = "%bugid%"

type Matcher struct {
	template string
	proxies  []*net.IPNet
}

// New builds a Matcher from the attachment-base template and the
// inbound proxy list (IPs or CIDRs). An empty template matches nothing.
func New(template string, inboundProxies []string) *Matcher {
	m := &Matcher{template: template}
	for _, entry := range inboundProxies {
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			m.proxies = append(m.proxies, ipnet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			m.proxies = append(m.proxies, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}
	return m
}

// Enabled reports whether an attachment base is configured at all.
func (m *Matcher) Enabled() bool {
	return m.template != ""
}

// Matches reports whether the request's effective URL is under the
// attachment base for the given bug id. An empty bugID matches any
// numeric id.
func (m *Matcher) Matches(r *http.Request, bugID string) bool {
	if m.template == "" {
		return false
	}
	pattern := m.pattern(bugID)
	return pattern.MatchString(m.EffectiveURL(r))
}

func (m *Matcher) pattern(bugID string) *regexp.Regexp {
	sub := regexp.QuoteMeta(bugID)
	if bugID == "" {
		sub = `\d+`
	}
	quoted := regexp.QuoteMeta(m.template)
	quoted = strings.ReplaceAll(quoted, regexp.QuoteMeta(bugIDToken), sub)
	return regexp.MustCompile("^" + quoted)
}

// URLFor is the attachment origin base URL for one bug, for building
// redirects onto the attachment origin.
func (m *Matcher) URLFor(bugID string) string {
	return strings.ReplaceAll(m.template, bugIDToken, bugID)
}

// EffectiveURL is the URL the client actually requested. When the
// connection comes from a configured inbound proxy, scheme and
// host/path are reconstructed from the forwarded headers, because the
// proxy terminates the real client connection and the direct values
// describe the proxy's leg only. Anything else gets the directly
// observed values, so a spoofed header from an untrusted peer is
// ignored.
func (m *Matcher) EffectiveURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	uri := r.URL.RequestURI()

	if m.fromTrustedProxy(r) {
		if proto := headerFirst(r, "X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		if fwd := headerFirst(r, "X-Forwarded-Uri"); fwd != "" {
			if u, err := url.Parse(fwd); err == nil {
				if u.Host != "" {
					host = u.Host
					uri = u.RequestURI()
				} else {
					uri = fwd
				}
			}
		}
		if xh := headerFirst(r, "X-Forwarded-Host"); xh != "" {
			host = xh
		}
	}

	return scheme + "://" + host + uri
}

func (m *Matcher) fromTrustedProxy(r *http.Request) bool {
	if len(m.proxies) == 0 {
		return false
	}
	hostPart, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		hostPart = r.RemoteAddr
	}
	ip := net.ParseIP(hostPart)
	if ip == nil {
		return false
	}
	for _, ipnet := range m.proxies {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

func headerFirst(r *http.Request, name string) string {
	v := r.Header.Get(name)
	if v == "" {
		return ""
	}
	parts := strings.Split(v, ",")
	return strings.TrimSpace(parts[0])
}
