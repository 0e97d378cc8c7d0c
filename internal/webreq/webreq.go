// Package webreq wraps one HTTP exchange: it validates the low-level
// parse of the request, exposes the merged parameter set, queues
// outgoing cookies, and gates header emission so status and headers are
// sent exactly once per request.
package webreq

import (
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kmercer/bugtrack-web/internal/csp"
	"github.com/kmercer/bugtrack-web/internal/params"
	"github.com/kmercer/bugtrack-web/internal/xerrors"
)

var initOnce sync.Once

// InitProcess installs process-wide request-handling policy. Ignoring
// SIGPIPE means a client disconnect mid-write surfaces as a write error
// on that one request instead of killing the worker in the middle of a
// transactional write. Idempotent, safe to call from every bootstrap
// path.
func InitProcess() {
	initOnce.Do(func() {
		signal.Ignore(syscall.SIGPIPE)
		_ = os.Stdout.Sync()
	})
}

// Options carries the per-process pieces an Exchange needs.
type Options struct {
	// CookiePath and CookieDomain are derived once from the configured
	// base URL (cfg.App.CookieDefaults), not per cookie.
	CookiePath   string
	CookieDomain string

	// SecureCookies marks every queued cookie Secure (site serves ssl).
	SecureCookies bool

	// CSP builds this request's policy on first access. Nil means CSP
	// is disabled for the response.
	CSP func() *csp.Policy

	// PrepareHeaders runs exactly once, just before the status line is
	// written, with the outgoing header set still mutable and the
	// cookie queue still open. The security header policy and the
	// cgi_headers hook plug in here.
	PrepareHeaders func(ex *Exchange)
}

// Exchange is the per-request wrapper. It lives for exactly one HTTP
// exchange and is never shared across requests.
type Exchange struct {
	w    http.ResponseWriter
	r    *http.Request
	opts Options

	params      *params.Set
	cookies     []*http.Cookie
	headersSent bool
	preparing   bool

	cspOnce sync.Once
	cspObj  *csp.Policy
}

// New parses the request and builds its Exchange. A parse failure is
// fatal: the wrapper cannot safely continue because everything
// downstream depends on the parameter set.
func New(w http.ResponseWriter, r *http.Request, opts Options) (*Exchange, error) {
	if err := r.ParseForm(); err != nil {
		return nil, xerrors.Wrap(err, "malformed request")
	}

	var set *params.Set
	if r.Method == http.MethodPost {
		// POST merges body and URL parameters (body first) so combined
		// login-form submissions see both.
		set = params.Merge(r.PostForm, r.URL.Query())
	} else {
		set = params.FromValues(r.URL.Query())
	}

	return &Exchange{w: w, r: r, opts: opts, params: set}, nil
}

func (ex *Exchange) Request() *http.Request    { return ex.r }
func (ex *Exchange) Params() *params.Set       { return ex.params }
func (ex *Exchange) Header() http.Header       { return ex.w.Header() }
func (ex *Exchange) HeadersSent() bool         { return ex.headersSent }
func (ex *Exchange) QueuedCookies() []*http.Cookie {
	out := make([]*http.Cookie, len(ex.cookies))
	copy(out, ex.cookies)
	return out
}

// CSP returns this request's Content-Security-Policy object, creating
// it on first access. It is never recreated within the same request.
func (ex *Exchange) CSP() *csp.Policy {
	ex.cspOnce.Do(func() {
		if ex.opts.CSP != nil {
			ex.cspObj = ex.opts.CSP()
		} else {
			ex.cspObj = csp.Disabled()
		}
	})
	return ex.cspObj
}

// SendCookie queues an outgoing cookie; the queue is drained into
// Set-Cookie headers when headers are emitted. A cookie with no value
// and no past expiry is a programming error, not a deletion.
func (ex *Exchange) SendCookie(c *http.Cookie) error {
	if c == nil || c.Name == "" {
		return xerrors.New("send cookie: missing name")
	}
	if c.Value == "" && !isDeletion(c) {
		return xerrors.Newf("cookie %q sent with no value", c.Name)
	}
	if ex.headersSent {
		return xerrors.Newf("cookie %q sent after headers", c.Name)
	}

	if c.Path == "" {
		c.Path = ex.opts.CookiePath
	}
	if c.Domain == "" {
		c.Domain = ex.opts.CookieDomain
	}
	if ex.opts.SecureCookies {
		c.Secure = true
	}

	ex.cookies = append(ex.cookies, c)
	return nil
}

// RemoveCookie queues a deletion instruction for the named cookie.
func (ex *Exchange) RemoveCookie(name string) error {
	return ex.SendCookie(&http.Cookie{
		Name:    name,
		Value:   "X",
		Expires: time.Unix(0, 0),
		MaxAge:  -1,
	})
}

func isDeletion(c *http.Cookie) bool {
	return c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(time.Now()))
}

// WriteHeaders emits the status line and all accumulated headers,
// draining the cookie queue exactly once. Calling it twice within one
// request is a programming error.
func (ex *Exchange) WriteHeaders(status int) error {
	if ex.headersSent {
		return xerrors.New("headers already sent")
	}

	// The prepare hook may still queue cookies, so the sent flag flips
	// only after it ran.
	if ex.opts.PrepareHeaders != nil && !ex.preparing {
		ex.preparing = true
		ex.opts.PrepareHeaders(ex)
	}
	ex.headersSent = true

	for _, c := range ex.cookies {
		http.SetCookie(ex.w, c)
	}
	ex.w.WriteHeader(status)
	return nil
}

// Write sends body bytes, emitting default headers first if the caller
// has not done so.
func (ex *Exchange) Write(p []byte) (int, error) {
	if !ex.headersSent {
		if err := ex.WriteHeaders(http.StatusOK); err != nil {
			return 0, err
		}
	}
	return ex.w.Write(p)
}

// Redirect emits a terminal redirect response. Request handling must
// stop after this call; no body is produced.
func (ex *Exchange) Redirect(location string, status int) error {
	ex.w.Header().Set("Location", location)
	return ex.WriteHeaders(status)
}
