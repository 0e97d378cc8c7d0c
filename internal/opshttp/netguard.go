package opshttp

import (
	"net"
	"net/http"

	"github.com/kmercer/bugtrack-web/internal/log"
)

// requireNonPublicNetwork rejects requests whose peer address is not
// loopback, RFC1918 private, or link-local. The admin listener is only
// reachable from internal monitoring infrastructure; this guards
// against a misconfigured security group or load balancer target.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			L.Warn(r.Context(), "ops request with unparseable remote addr rejected")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		ip := net.ParseIP(host)
		// IsPrivate/IsLoopback see through IPv4-mapped IPv6 addresses,
		// so ::ffff:10.0.0.1 passes and ::ffff:8.8.8.8 does not.
		if ip == nil || !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()) {
			L.Warn(r.Context(), "ops request from public network rejected", "remote", host)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
