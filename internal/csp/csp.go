// Package csp builds the Content-Security-Policy header for a single
// request. A Policy is created at most once per request and its nonce,
// once generated, stays fixed for the life of the request.
package csp

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"
)

const (
	// NonceSource is the placeholder a directive value carries when it
	// wants a per-request nonce substituted in.
	NonceSource = "'nonce'"

	HeaderName = "Content-Security-Policy"
)

// Default directive set. script-src and style-src keep unsafe-inline
// because the legacy templates still carry inline fragments.
func defaults() map[string][]string {
	return map[string][]string{
		"default-src": {"'self'"},
		"script-src":  {"'self'", "'unsafe-inline'", "'unsafe-eval'"},
		"style-src":   {"'self'", "'unsafe-inline'"},
	}
}

// Policy is one request's CSP. Zero value is not usable; construct with
// New.
type Policy struct {
	directives map[string][]string
	disabled   bool
	nonce      string
}

// Override replaces or removes a default directive.
type Override struct {
	Directive string
	// Sources replaces the directive's source list. A nil slice removes
	// the directive entirely rather than leaving the default.
	Sources []string
}

func New(overrides ...Override) *Policy {
	p := &Policy{directives: defaults()}
	for _, o := range overrides {
		if o.Sources == nil {
			delete(p.directives, o.Directive)
			continue
		}
		cp := make([]string, len(o.Sources))
		copy(cp, o.Sources)
		p.directives[o.Directive] = cp
	}
	return p
}

// Disabled returns a policy that renders no header and produces an
// empty nonce.
func Disabled() *Policy {
	return &Policy{disabled: true}
}

// Nonce returns the per-request nonce when an active directive carries
// the nonce source, generating it on first use. It returns "" when the
// policy is disabled or no directive requested one, rather than
// failing.
func (p *Policy) Nonce() string {
	if p.disabled || !p.wantsNonce() {
		return ""
	}
	if p.nonce == "" {
		var b [18]byte
		if _, err := rand.Read(b[:]); err != nil {
			return ""
		}
		p.nonce = base64.StdEncoding.EncodeToString(b[:])
	}
	return p.nonce
}

func (p *Policy) wantsNonce() bool {
	for _, sources := range p.directives {
		for _, src := range sources {
			if src == NonceSource {
				return true
			}
		}
	}
	return false
}

// HeaderValue renders the directive list, substituting the nonce source
// placeholder. Directives are emitted in sorted order so the header is
// deterministic.
func (p *Policy) HeaderValue() string {
	if p.disabled || len(p.directives) == 0 {
		return ""
	}

	names := make([]string, 0, len(p.directives))
	for name := range p.directives {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		for _, src := range p.directives[name] {
			if src == NonceSource {
				src = "'nonce-" + p.Nonce() + "'"
			}
			b.WriteByte(' ')
			b.WriteString(src)
		}
	}
	return b.String()
}

// Apply merges the policy into an outgoing header set.
func (p *Policy) Apply(h http.Header) {
	if v := p.HeaderValue(); v != "" {
		h.Set(HeaderName, v)
	}
}
