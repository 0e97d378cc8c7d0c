// Package hooks is the extension mutation-point registry. Extensions
// register callbacks against named points at startup; core code invokes
// the point with a mutable argument and every registered callback runs
// in registration order.
package hooks

import (
	"net/http"
	"sync"
)

// Point names used by the request mediation layer.
const (
	// CGIHeaders runs just before response headers are written, with
	// the assembled header set as a mutable parameter.
	CGIHeaders = "cgi_headers"

	// PathInfoWhitelist lets extensions exempt additional scripts from
	// the stray path-info redirect.
	PathInfoWhitelist = "path_info_whitelist"
)

// HeaderHook receives the outgoing header set for last-chance mutation.
type HeaderHook func(h http.Header, r *http.Request)

// Registry holds named hook callbacks. Registration happens during
// bootstrap; invocation is read-only afterwards, the mutex only guards
// against racy extension init.
type Registry struct {
	mu          sync.RWMutex
	headerHooks map[string][]HeaderHook
	pathScripts []string
}

func NewRegistry() *Registry {
	return &Registry{headerHooks: make(map[string][]HeaderHook)}
}

// RegisterHeaderHook attaches fn to a header-mutation point such as
// CGIHeaders.
func (rg *Registry) RegisterHeaderHook(point string, fn HeaderHook) {
	if fn == nil {
		return
	}
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.headerHooks[point] = append(rg.headerHooks[point], fn)
}

// RunHeaderHooks invokes every callback registered at point.
func (rg *Registry) RunHeaderHooks(point string, h http.Header, r *http.Request) {
	rg.mu.RLock()
	fns := rg.headerHooks[point]
	rg.mu.RUnlock()
	for _, fn := range fns {
		fn(h, r)
	}
}

// AddPathInfoException whitelists a script name (e.g. "/importer.cgi")
// for the stray path-info check.
func (rg *Registry) AddPathInfoException(script string) {
	if script == "" {
		return
	}
	rg.mu.Lock()
	defer rg.mu.Unlock()
	rg.pathScripts = append(rg.pathScripts, script)
}

// PathInfoExceptions returns the extension-contributed scripts that may
// carry extra path segments.
func (rg *Registry) PathInfoExceptions() []string {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	out := make([]string, len(rg.pathScripts))
	copy(out, rg.pathScripts)
	return out
}
