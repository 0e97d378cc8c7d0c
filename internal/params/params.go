// Package params holds the multi-value request parameter set and the
// normalization rules applied to search URLs before they are saved or
// redirected.
package params

import (
	"net/url"
	"sort"
)

// Set is a multi-value parameter map. Unlike url.Values it exposes
// explicit first-value and all-values accessors so call sites never
// have to remember which index convention applies.
type Set struct {
	m map[string][]string
}

func New() *Set {
	return &Set{m: make(map[string][]string)}
}

// FromValues builds a Set from parsed url.Values.
func FromValues(v url.Values) *Set {
	s := New()
	for k, vals := range v {
		cp := make([]string, len(vals))
		copy(cp, vals)
		s.m[k] = cp
	}
	return s
}

// Merge builds a Set from two value maps. Values in primary sort ahead
// of values in secondary for the same name (first value wins), which is
// how POST body params are combined with URL params on login-style
// submissions.
func Merge(primary, secondary url.Values) *Set {
	s := FromValues(primary)
	for k, vals := range secondary {
		s.m[k] = append(s.m[k], vals...)
	}
	return s
}

// First returns the first value for name, or "" when absent.
func (s *Set) First(name string) string {
	if vals := s.m[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// All returns all values for name in insertion order.
func (s *Set) All(name string) []string {
	return s.m[name]
}

func (s *Set) Has(name string) bool {
	_, ok := s.m[name]
	return ok
}

func (s *Set) Set(name, value string) {
	s.m[name] = []string{value}
}

func (s *Set) Add(name, value string) {
	s.m[name] = append(s.m[name], value)
}

func (s *Set) Delete(name string) {
	delete(s.m, name)
}

func (s *Set) Len() int {
	return len(s.m)
}

// Names returns all parameter names in lexicographic order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.m))
	for k := range s.m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (s *Set) Clone() *Set {
	out := New()
	for k, vals := range s.m {
		cp := make([]string, len(vals))
		copy(cp, vals)
		out.m[k] = cp
	}
	return out
}

// Values converts back to url.Values, e.g. for building a redirect URL.
func (s *Set) Values() url.Values {
	v := make(url.Values, len(s.m))
	for k, vals := range s.m {
		cp := make([]string, len(vals))
		copy(cp, vals)
		v[k] = cp
	}
	return v
}
