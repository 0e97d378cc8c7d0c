// Package secheaders computes the protective response headers every
// response carries, and the exceptions the attachment origin gets.
package secheaders

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kmercer/bugtrack-web/internal/attachbase"
	"github.com/kmercer/bugtrack-web/internal/cfg"
	"github.com/kmercer/bugtrack-web/internal/hooks"
	"github.com/kmercer/bugtrack-web/internal/session"
	"github.com/kmercer/bugtrack-web/internal/webreq"
)

// Policy carries the process-wide settings the header computation needs.
type Policy struct {
	STSMode       string // cfg.STSOff / STSThisDomain / STSIncludeSubdomains
	STSMaxAge     int
	SSLConfigured bool
	DisableCSP    bool

	Auth         session.Authorizer
	AttachOrigin *attachbase.Matcher
	Hooks        *hooks.Registry

	// OnMarkerCookie, when set, observes marker cookie issuance.
	OnMarkerCookie func()
}

// Apply completes the outgoing header set for one exchange. It runs
// from the exchange's prepare hook, so the cookie queue is still open.
func (p *Policy) Apply(ex *webreq.Exchange) {
	h := ex.Header()
	r := ex.Request()

	setCharset(h)

	onAttachOrigin := p.AttachOrigin != nil && p.AttachOrigin.Matches(r, "")

	p.queueLoginMarker(ex)

	// HSTS only makes sense on a TLS connection, and the attachment
	// origin opts out so per-bug wildcard hosts don't pin the policy.
	if r.TLS != nil && !onAttachOrigin && p.STSMode != cfg.STSOff && p.STSMode != "" {
		v := "max-age=" + strconv.Itoa(p.STSMaxAge)
		if p.STSMode == cfg.STSIncludeSubdomains {
			v += "; includeSubDomains"
		}
		h.Set("Strict-Transport-Security", v)
	}

	// Clickjacking protection for the main origin. The attachment
	// origin serves untrusted content and skips frame-origin headers.
	if !onAttachOrigin {
		h.Set("X-Frame-Options", "SAMEORIGIN")
	}

	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("X-Content-Type-Options", "nosniff")

	if !p.DisableCSP {
		ex.CSP().Apply(h)
	}

	// Last-chance mutation point for extensions.
	if p.Hooks != nil {
		p.Hooks.RunHeaderHooks(hooks.CGIHeaders, h, r)
	}
}

// queueLoginMarker hands anonymous visitors the anti-fixation marker
// cookie so a later login can prove the form was served to this
// browser.
func (p *Policy) queueLoginMarker(ex *webreq.Exchange) {
	if p.Auth == nil || p.Auth.UserID(ex.Request().Context()) != 0 || !p.Auth.CanLogin() {
		return
	}
	if _, err := ex.Request().Cookie(session.MarkerCookie); err == nil {
		return
	}
	for _, c := range ex.QueuedCookies() {
		if c.Name == session.MarkerCookie {
			return
		}
	}
	err := ex.SendCookie(&http.Cookie{
		Name:     session.MarkerCookie,
		Value:    uuid.NewString(),
		HttpOnly: true,
		Secure:   p.SSLConfigured,
	})
	if err == nil && p.OnMarkerCookie != nil {
		p.OnMarkerCookie()
	}
}

func setCharset(h http.Header) {
	ct := h.Get("Content-Type")
	switch {
	case ct == "":
		h.Set("Content-Type", "text/html; charset=UTF-8")
	case strings.HasPrefix(ct, "text/") && !strings.Contains(strings.ToLower(ct), "charset="):
		// Binary types keep their declared type untouched.
		h.Set("Content-Type", ct+"; charset=UTF-8")
	}
}
