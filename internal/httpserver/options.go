package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kmercer/bugtrack-web/internal/health"
	"github.com/kmercer/bugtrack-web/internal/httpmw"
	"github.com/kmercer/bugtrack-web/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // Optional callback when a panic is recovered (metrics)
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	MediateMW    func(http.Handler) http.Handler // webreq exchange + protective headers
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe

	Buglist    http.Handler
	Attachment http.Handler
	APIRoutes  func(chi.Router) // extra routes, e.g. /rest
}
