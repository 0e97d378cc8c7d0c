package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// SplitScript splits a request path into the script name (the first
// path segment, e.g. "/buglist.cgi" or "/rest") and any trailing
// path-info ("/bug/42"). The root path has an empty script and no
// path-info.
func SplitScript(p string) (script, pathInfo string) {
	trimmed := strings.TrimPrefix(p, "/")
	if trimmed == "" {
		return "/", ""
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return "/" + trimmed[:i], trimmed[i:]
	}
	return "/" + trimmed, ""
}
