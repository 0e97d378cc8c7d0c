// Package etag validates conditional-request headers against a known
// resource tag.
package etag

import "strings"

// Match reports whether the If-None-Match header value names the valid
// tag. Candidates are split on whitespace and commas and have one layer
// of surrounding quotes stripped, so both strong and W/"..." weak forms
// compare by their inner value. The wildcard * matches anything. An
// empty header means no match: the caller should regenerate the
// resource.
func Match(validTag, ifNoneMatch string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.FieldsFunc(ifNoneMatch, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	}) {
		candidate = strings.TrimPrefix(candidate, "W/")
		candidate = strings.Trim(candidate, `"`)
		if candidate == validTag || candidate == "*" {
			return true
		}
	}
	return false
}
