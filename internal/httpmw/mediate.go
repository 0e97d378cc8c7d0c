package httpmw

import (
	"net/http"

	"github.com/kmercer/bugtrack-web/internal/log"
	"github.com/kmercer/bugtrack-web/internal/pathutil"
	"github.com/kmercer/bugtrack-web/internal/webreq"
)

// Mediate wraps every request in a webreq.Exchange built with the
// site-wide options (cookie defaults, CSP factory, security header
// policy via PrepareHeaders) and exposes it through the request
// context. Handlers that write through the exchange get the full
// protective header set and the queued cookies; a request whose form
// data fails to parse is rejected here, before any handler runs.
func Mediate(logger log.Logger, opts webreq.Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Dot segments never survive a well-behaved client; anything
			// carrying them is probing for traversal.
			if pathutil.HasDotSegments(r.URL.Path) {
				logger.Warn(r.Context(), "rejecting dot-segment path", "path", r.URL.Path)
				http.Error(w, "Bad Request", http.StatusBadRequest)
				return
			}

			ex, err := webreq.New(w, r, opts)
			if err != nil {
				logger.Warn(r.Context(), "rejecting malformed request",
					"method", r.Method, "path", r.URL.Path, "error", err.Error())
				http.Error(w, "Bad Request", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r.WithContext(webreq.NewContext(r.Context(), ex)))
		})
	}
}
