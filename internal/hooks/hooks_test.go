package hooks

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRunHeaderHooks_InRegistrationOrder(t *testing.T) {
	rg := NewRegistry()
	rg.RegisterHeaderHook(CGIHeaders, func(h http.Header, r *http.Request) {
		h.Set("X-Extension", "first")
	})
	rg.RegisterHeaderHook(CGIHeaders, func(h http.Header, r *http.Request) {
		h.Set("X-Extension", "second")
	})

	h := http.Header{}
	rg.RunHeaderHooks(CGIHeaders, h, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if got := h.Get("X-Extension"); got != "second" {
		t.Fatalf("X-Extension = %q, want %q (later hook wins)", got, "second")
	}
}

func TestRunHeaderHooks_UnknownPointIsNoop(t *testing.T) {
	rg := NewRegistry()
	h := http.Header{}
	rg.RunHeaderHooks("nonexistent", h, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if len(h) != 0 {
		t.Fatalf("headers mutated by empty point: %v", h)
	}
}

func TestPathInfoExceptions(t *testing.T) {
	rg := NewRegistry()
	if got := rg.PathInfoExceptions(); len(got) != 0 {
		t.Fatalf("fresh registry has exceptions: %v", got)
	}

	rg.AddPathInfoException("/importer.cgi")
	rg.AddPathInfoException("")

	got := rg.PathInfoExceptions()
	if len(got) != 1 || got[0] != "/importer.cgi" {
		t.Fatalf("PathInfoExceptions() = %v, want [/importer.cgi]", got)
	}
}
