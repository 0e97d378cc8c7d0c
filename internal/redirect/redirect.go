// Package redirect decides, per request, whether a search URL gets
// rewritten to its shortened list-id form and whether the request
// should bounce to https, the canonical host, or a path-info-free URL.
package redirect

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kmercer/bugtrack-web/internal/cfg"
	"github.com/kmercer/bugtrack-web/internal/hooks"
	"github.com/kmercer/bugtrack-web/internal/log"
	"github.com/kmercer/bugtrack-web/internal/pathutil"
	"github.com/kmercer/bugtrack-web/internal/searchhist"
	"github.com/kmercer/bugtrack-web/internal/session"
	"github.com/kmercer/bugtrack-web/internal/webreq"
	"github.com/kmercer/bugtrack-web/internal/xerrors"
)

// Action is the terminal outcome of a redirect decision.
type Action int

const (
	ActionNone Action = iota
	ActionShortened
	ActionHTTPS
	ActionCanonicalHost
	ActionStripPathInfo
)

func (a Action) String() string {
	switch a {
	case ActionShortened:
		return "shortened"
	case ActionHTTPS:
		return "https"
	case ActionCanonicalHost:
		return "canonical_host"
	case ActionStripPathInfo:
		return "strip_path_info"
	default:
		return "none"
	}
}

// Decision is what the caller must do. Action == ActionNone means keep
// handling the request; anything else is terminal: emit the redirect
// and stop.
type Decision struct {
	Action   Action
	Location string
	Status   int
}

// Marker parameter a browser sends when re-fetching a previous list;
// such requests are never canonicalized.
const regetParam = "regetlist"

// Scripts allowed to carry extra path segments. Extensions contribute
// more through the path_info_whitelist hook.
var pathInfoAllowed = map[string]bool{
	"/rest": true,
}

type Engine struct {
	Config cfg.App
	Auth   session.Authorizer
	Store  searchhist.Store
	Hooks  *hooks.Registry
	Logger log.Logger

	// OnRedirect and OnPlaceholder, when set, observe terminal
	// decisions and reserved list ids (metrics).
	OnRedirect    func(action Action)
	OnPlaceholder func()
}

// CanonicalizeSearch cleans the search parameters and, when possible,
// rewrites the URL to the shortened list-id form. The parameter
// mutation happens in place on the exchange even when no redirect is
// issued, so the caller always sees the cleaned set.
func (e *Engine) CanonicalizeSearch(ctx context.Context, ex *webreq.Exchange) (Decision, error) {
	p := ex.Params()
	r := ex.Request()

	// Nothing to shorten, or an explicit re-fetch of an old list.
	if p.Len() == 0 || p.Has(regetParam) {
		return Decision{}, nil
	}

	userID := e.Auth.UserID(ctx)
	if userID == 0 && r.Method != http.MethodPost {
		return Decision{}, nil
	}

	// An owned, still-live list id means the URL is already canonical.
	if userID != 0 && p.Has("list_id") {
		if id, err := strconv.ParseInt(p.First("list_id"), 10, 64); err == nil {
			if e.Store.Exists(ctx, userID, id) {
				return Decision{}, nil
			}
		}
	}

	// Cleaning strips no_redirect along with the other no-op params, so
	// the caller's suppression request has to be read first.
	noRedirect := p.Has("no_redirect")

	p.CleanSearch()

	if userID != 0 && p.Len() > 0 {
		id, err := e.Store.CreatePlaceholder(ctx, userID, p.Canonicalize())
		if err != nil {
			return Decision{}, xerrors.Wrap(err, "create search placeholder")
		}
		if e.OnPlaceholder != nil {
			e.OnPlaceholder()
		}
		p.Set("list_id", strconv.FormatInt(id, 10))
	}

	// The caller asked to rewrite client-side instead. The param itself
	// is gone already, cleaning drops it with the other no-ops.
	if noRedirect {
		return Decision{}, nil
	}

	target := e.searchURL(r.URL.Path, p.Values())
	if r.Method == http.MethodPost && len(target) >= e.Config.MaxRedirectURILen {
		// Some clients drop overlong redirected URIs; let the POST
		// render in place.
		return Decision{}, nil
	}

	return e.decide(ctx, Decision{
		Action:   ActionShortened,
		Location: target,
		Status:   http.StatusMovedPermanently,
	}), nil
}

// EnforceBase applies the per-request origin rules that are independent
// of search shortening: https upgrade, canonical host, and stray
// path-info. attachServing exempts raw attachment bytes from the
// upgrade and host rewrites, since those legitimately leave through a
// different (possibly plain-http) origin.
func (e *Engine) EnforceBase(ctx context.Context, ex *webreq.Exchange, attachServing bool) Decision {
	r := ex.Request()

	if e.Config.SSLRedirect && r.TLS == nil && !attachServing {
		if loc, ok := rebase(e.Config.SSLBase, r); ok {
			return e.decide(ctx, Decision{Action: ActionHTTPS, Location: loc, Status: http.StatusMovedPermanently})
		}
	}

	if base, err := url.Parse(e.Config.URLBase); err == nil && base.Host != "" && !attachServing {
		if !strings.EqualFold(r.Host, base.Host) {
			if loc, ok := rebase(e.Config.URLBase, r); ok {
				return e.decide(ctx, Decision{Action: ActionCanonicalHost, Location: loc, Status: http.StatusMovedPermanently})
			}
		}
	}

	script, pathInfo := pathutil.SplitScript(r.URL.Path)
	if pathInfo != "" && !e.pathInfoAllowed(script) {
		u := *r.URL
		u.Path = script
		return e.decide(ctx, Decision{Action: ActionStripPathInfo, Location: u.RequestURI(), Status: http.StatusFound})
	}

	return Decision{}
}

func (e *Engine) pathInfoAllowed(script string) bool {
	if pathInfoAllowed[script] {
		return true
	}
	if e.Hooks != nil {
		for _, s := range e.Hooks.PathInfoExceptions() {
			if s == script {
				return true
			}
		}
	}
	return false
}

func (e *Engine) decide(ctx context.Context, d Decision) Decision {
	if e.OnRedirect != nil && d.Action != ActionNone {
		e.OnRedirect(d.Action)
	}
	if e.Logger != nil && d.Action != ActionNone {
		e.Logger.Debug(ctx, "redirect decision", "action", d.Action.String(), "location", d.Location)
	}
	return d
}

// searchURL builds the canonical-base URL for the cleaned query.
func (e *Engine) searchURL(path string, q url.Values) string {
	base := strings.TrimSuffix(e.Config.URLBase, "/")
	target := base + path
	if enc := q.Encode(); enc != "" {
		target += "?" + enc
	}
	return target
}

// rebase keeps the request's path and query but swaps scheme/host for
// the configured base.
func rebase(baseURL string, r *http.Request) (string, bool) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return "", false
	}
	u := *r.URL
	u.Scheme = base.Scheme
	u.Host = base.Host
	return u.String(), true
}
