package params

import (
	"net/url"
	"regexp"
	"strings"
)

// Legacy boolean-chart triples (field0-0-0 / type0-0-0 / value0-0-0)
// are redundant with the modern chart encoding carried elsewhere in the
// URL, so they never participate in the canonical form.
var legacyChartRe = regexp.MustCompile(`^(field|type|value)(\d+)-(\d+)-(\d+)$`)

// Canonicalize produces a deterministic, minimal serialization of the
// set, used as the stable identity of a saved search. Two logically
// identical sets always canonicalize to byte-identical strings
// regardless of original parameter order.
func (s *Set) Canonicalize(exclude ...string) string {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	var parts []string
	for _, name := range s.Names() {
		if skip[name] || legacyChartRe.MatchString(name) {
			continue
		}
		for _, val := range s.m[name] {
			if val == "" {
				continue
			}
			parts = append(parts, url.QueryEscape(name)+"="+url.QueryEscape(val))
		}
	}
	return strings.Join(parts, "&")
}
