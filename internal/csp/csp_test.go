package csp

import (
	"net/http"
	"strings"
	"testing"
)

func TestHeaderValue_Defaults(t *testing.T) {
	p := New()
	got := p.HeaderValue()

	want := "default-src 'self'; script-src 'self' 'unsafe-inline' 'unsafe-eval'; style-src 'self' 'unsafe-inline'"
	if got != want {
		t.Fatalf("HeaderValue() = %q, want %q", got, want)
	}
}

func TestOverride_ReplacesDirective(t *testing.T) {
	p := New(Override{Directive: "script-src", Sources: []string{"'self'"}})

	got := p.HeaderValue()
	if !strings.Contains(got+";", "script-src 'self';") {
		t.Fatalf("script-src not replaced: %q", got)
	}
	if strings.Contains(got, "unsafe-eval") {
		t.Fatalf("default script-src sources leaked through override: %q", got)
	}
}

func TestOverride_NilSourcesRemovesDirective(t *testing.T) {
	p := New(Override{Directive: "style-src", Sources: nil})

	if got := p.HeaderValue(); strings.Contains(got, "style-src") {
		t.Fatalf("style-src should be removed entirely, got %q", got)
	}
}

func TestNonce_StablePerPolicy(t *testing.T) {
	p := New(Override{Directive: "script-src", Sources: []string{"'self'", NonceSource}})

	n1 := p.Nonce()
	if n1 == "" {
		t.Fatal("expected a nonce when a directive carries the nonce source")
	}
	if n2 := p.Nonce(); n2 != n1 {
		t.Fatalf("nonce changed within one request: %q then %q", n1, n2)
	}
	if got := p.HeaderValue(); !strings.Contains(got, "'nonce-"+n1+"'") {
		t.Fatalf("rendered header missing nonce source: %q", got)
	}
}

func TestNonce_EmptyWhenUnused(t *testing.T) {
	if got := New().Nonce(); got != "" {
		t.Fatalf("Nonce() = %q, want empty when no directive requests one", got)
	}
	if got := Disabled().Nonce(); got != "" {
		t.Fatalf("Disabled().Nonce() = %q, want empty", got)
	}
}

func TestApply(t *testing.T) {
	h := http.Header{}
	New().Apply(h)
	if h.Get(HeaderName) == "" {
		t.Fatal("Apply did not set the CSP header")
	}

	h2 := http.Header{}
	Disabled().Apply(h2)
	if got := h2.Get(HeaderName); got != "" {
		t.Fatalf("disabled policy set header %q", got)
	}
}
