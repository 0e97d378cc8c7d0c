package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kmercer/bugtrack-web/internal/attachbase"
	"github.com/kmercer/bugtrack-web/internal/attachment"
	"github.com/kmercer/bugtrack-web/internal/buglist"
	"github.com/kmercer/bugtrack-web/internal/cfg"
	"github.com/kmercer/bugtrack-web/internal/csp"
	"github.com/kmercer/bugtrack-web/internal/health"
	"github.com/kmercer/bugtrack-web/internal/hooks"
	"github.com/kmercer/bugtrack-web/internal/httpmw"
	"github.com/kmercer/bugtrack-web/internal/httpserver"
	"github.com/kmercer/bugtrack-web/internal/log"
	"github.com/kmercer/bugtrack-web/internal/metrics"
	"github.com/kmercer/bugtrack-web/internal/opshttp"
	"github.com/kmercer/bugtrack-web/internal/otelx"
	"github.com/kmercer/bugtrack-web/internal/prof"
	"github.com/kmercer/bugtrack-web/internal/ratelimit"
	"github.com/kmercer/bugtrack-web/internal/redirect"
	"github.com/kmercer/bugtrack-web/internal/searchhist"
	"github.com/kmercer/bugtrack-web/internal/secheaders"
	"github.com/kmercer/bugtrack-web/internal/session"
	v "github.com/kmercer/bugtrack-web/internal/version"
	"github.com/kmercer/bugtrack-web/internal/webreq"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Process-level request hygiene (SIGPIPE, stdout flush) before any
	// request handling starts.
	webreq.InitProcess()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix BUGTRACK_ and validate
	cfg.FillFromEnv(flag.CommandLine, "BUGTRACK_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	// validate config
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           v.Version,
		Commit:            v.Commit,
		BuildId:           v.BuildId,
		Level:             lvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"include_error_links", conf.IncludeErrorLinks,
		"max_error_links", conf.MaxErrorLinks,
		"urlbase", conf.URLBase,
		"sslbase", conf.SSLBase,
		"ssl_redirect", conf.SSLRedirect,
		"attachment_base", conf.AttachmentBase,
		"inbound_proxies", conf.InboundProxies,
		"strict_transport_security", conf.StrictTransportSecurity,
		"sts_max_age", conf.STSMaxAge,
		"max_redirect_uri_len", conf.MaxRedirectURILen,
		"disable_csp", conf.DisableCSP,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		AuthToken:     "",
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics / admin listener
	var m *metrics.ServerMetrics = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	// Session collaborator. The real authorization subsystem plugs in
	// here; until then every visitor is anonymous with login allowed,
	// which keeps the marker-cookie path live.
	var auth session.Authorizer = session.Anonymous{}

	// Extension hooks (cgi_headers, path-info exceptions). Deployments
	// with local extensions register them here before the servers start.
	registry := hooks.NewRegistry()

	proxies := cfg.SplitProxies(conf.InboundProxies)
	attachOrigin := attachbase.New(conf.AttachmentBase, proxies)

	// Placeholder list ids live in process memory. The pruner in the
	// real search-history backend uses the same horizon, so an expired
	// placeholder behaves exactly like a pruned row.
	histStore := searchhist.NewMemory(24 * time.Hour)

	engine := &redirect.Engine{
		Config: conf,
		Auth:   auth,
		Store:  histStore,
		Hooks:  registry,
		Logger: L,
		OnRedirect: func(a redirect.Action) {
			m.IncRedirect(a.String())
		},
		OnPlaceholder: m.IncPlaceholderCreated,
	}

	policy := &secheaders.Policy{
		STSMode:        conf.StrictTransportSecurity,
		STSMaxAge:      conf.STSMaxAge,
		SSLConfigured:  conf.SSLConfigured(),
		DisableCSP:     conf.DisableCSP,
		Auth:           auth,
		AttachOrigin:   attachOrigin,
		Hooks:          registry,
		OnMarkerCookie: m.IncMarkerCookie,
	}

	cookiePath, cookieDomain := conf.CookieDefaults()
	reqOpts := webreq.Options{
		CookiePath:     cookiePath,
		CookieDomain:   cookieDomain,
		SecureCookies:  conf.SSLConfigured(),
		PrepareHeaders: policy.Apply,
	}
	if !conf.DisableCSP {
		reqOpts.CSP = func() *csp.Policy { return csp.New() }
	}

	buglistHandler := &buglist.Handler{
		Engine:    engine,
		Store:     histStore,
		Auth:      auth,
		Logger:    L,
		OnETagHit: m.IncETagHit,
	}

	// Attachment bodies are in-process until the storage backend is
	// wired in; the origin-isolation and redirect rules are complete.
	attachmentHandler := &attachment.Handler{
		Base:   attachOrigin,
		Engine: engine,
		Store:  attachment.MemStore{},
		Logger: L,
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// readiness is just the shutdown gate: the mediation layer has no
	// content to preload, it is ready as soon as it listens
	readiness := health.All(gate.Probe())

	// Setup rate limiter middleware
	limiter := ratelimit.New(ctx,
		// increment prometheus counter on each denied request
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	// With inbound proxies configured we sit behind exactly one
	// trusted hop (the load balancer); otherwise peer addresses are
	// already client addresses.
	clientIPOpts := httpmw.ClientIPOptions{}
	if len(proxies) > 0 {
		clientIPOpts.TrustedHops = 1
	}

	// start public http server
	siteHTTPStop, err := httpserver.Start(
		ctx,
		httpserver.Options{
			Port:         conf.HTTPPort,
			Health:       health.Fixed(true, ""),
			Readiness:    readiness,
			Buglist:      buglistHandler,
			Attachment:   attachmentHandler,
			MediateMW:    httpmw.Mediate(L, reqOpts),
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
			MetricsMW:    m.Middleware,
			RateLimitMW:  limiter.Middleware,
			ClientIPOpts: clientIPOpts,
			Logger:       L,
		},
	)

	if err != nil {
		L.Error(ctx, err, "failed to start site http listener port")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks, pprof and any future admin APIs
	// sg restricts inbound to internal monitoring infrastructure
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic there
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal so we dont exit
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// wait for ctrl+c / sigterm
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// will make sleep time tunable in the future
	L.Info(context.Background(), "sleeping 60s for in-flight and load balancer health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(60 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
