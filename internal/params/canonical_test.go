package params

import (
	"net/url"
	"testing"
)

func TestCanonicalize_OrderIndependent(t *testing.T) {
	a := New()
	a.Set("product", "Widget")
	a.Set("component", "UI")
	a.Set("resolution", "---")

	b := New()
	b.Set("resolution", "---")
	b.Set("product", "Widget")
	b.Set("component", "UI")

	if got, want := a.Canonicalize(), b.Canonicalize(); got != want {
		t.Fatalf("canonical forms differ: %q vs %q", got, want)
	}
	if got, want := a.Canonicalize(), "component=UI&product=Widget&resolution=---"; got != want {
		t.Fatalf("Canonicalize() = %q, want %q", got, want)
	}
}

func TestCanonicalize_ExcludesNames(t *testing.T) {
	s := New()
	s.Set("product", "Widget")
	s.Set("ctype", "csv")

	got := s.Canonicalize("ctype")
	if got != "product=Widget" {
		t.Fatalf("Canonicalize(ctype) = %q, want %q", got, "product=Widget")
	}
}

func TestCanonicalize_SkipsLegacyChartTriples(t *testing.T) {
	s := New()
	s.Set("field0-0-0", "product")
	s.Set("type0-0-0", "equals")
	s.Set("value0-0-0", "Widget")
	s.Set("bug_status", "NEW")

	if got, want := s.Canonicalize(), "bug_status=NEW"; got != want {
		t.Fatalf("Canonicalize() = %q, want %q", got, want)
	}
}

func TestCanonicalize_SkipsEmptyValues(t *testing.T) {
	s := New()
	s.Set("product", "")
	s.Add("bug_status", "NEW")
	s.Add("bug_status", "")
	s.Add("bug_status", "ASSIGNED")

	if got, want := s.Canonicalize(), "bug_status=NEW&bug_status=ASSIGNED"; got != want {
		t.Fatalf("Canonicalize() = %q, want %q", got, want)
	}
}

func TestCanonicalize_PercentEncodes(t *testing.T) {
	s := New()
	s.Set("short_desc", "crash on save & exit")

	got := s.Canonicalize()
	want := "short_desc=" + url.QueryEscape("crash on save & exit")
	if got != want {
		t.Fatalf("Canonicalize() = %q, want %q", got, want)
	}
}

func TestMerge_BodyValuesWin(t *testing.T) {
	body := url.Values{"Bugzilla_login": {"alice"}}
	query := url.Values{"Bugzilla_login": {"stale"}, "target": {"buglist.cgi"}}

	s := Merge(body, query)
	if got := s.First("Bugzilla_login"); got != "alice" {
		t.Fatalf("First(Bugzilla_login) = %q, want alice", got)
	}
	if got := s.All("Bugzilla_login"); len(got) != 2 {
		t.Fatalf("All(Bugzilla_login) = %v, want both values retained", got)
	}
	if got := s.First("target"); got != "buglist.cgi" {
		t.Fatalf("First(target) = %q, want buglist.cgi", got)
	}
}
