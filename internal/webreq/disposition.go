package webreq

import (
	"fmt"
	"regexp"
	"time"
)

// Characters that would let a filename break out of the quoted
// Content-Disposition parameter.
var unsafeFilenameRe = regexp.MustCompile(`[\s\\"]+`)

// ContentDisposition builds a download header value of the form
// `<type>; filename="<prefix>-<YYYY-MM-DD>.<ext>"`, neutralizing
// whitespace, backslashes, and quotes in the caller-supplied parts.
func ContentDisposition(dispType, prefix, ext string, now time.Time) string {
	name := fmt.Sprintf("%s-%s.%s",
		SafeFilename(prefix),
		now.Format("2006-01-02"),
		SafeFilename(ext),
	)
	return fmt.Sprintf(`%s; filename="%s"`, dispType, name)
}

// SafeFilename collapses runs of quote-breaking characters to a single
// underscore so the result can sit inside a quoted filename parameter.
func SafeFilename(s string) string {
	return unsafeFilenameRe.ReplaceAllString(s, "_")
}
