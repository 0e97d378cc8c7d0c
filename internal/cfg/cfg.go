package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/kmercer/bugtrack-web/internal/log"
)

// Strict-Transport-Security policy values.
const (
	STSOff               = "off"
	STSThisDomain        = "this_domain"
	STSIncludeSubdomains = "include_subdomains"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// Site identity and redirect policy.
	URLBase        string
	SSLBase        string
	AttachmentBase string
	SSLRedirect    bool

	// Reverse proxies whose forwarded headers we trust, comma separated
	// IPs or CIDRs. Empty means forwarded headers are ignored.
	InboundProxies string

	// off | this_domain | include_subdomains
	StrictTransportSecurity string
	STSMaxAge               int

	// POST redirects above this absolute-URL length are suppressed
	// because some clients drop overlong redirected URIs.
	MaxRedirectURILen int

	DisableCSP bool
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.URLBase, "urlbase", "http://localhost:8080/", "canonical base URL of the site")
	fs.StringVar(&c.SSLBase, "sslbase", "", "https base URL, empty disables ssl redirects")
	fs.StringVar(&c.AttachmentBase, "attachment-base", "", "attachment origin template, %bugid% substituted per bug")
	fs.BoolVar(&c.SSLRedirect, "ssl-redirect", false, "redirect plain-http requests to sslbase")
	fs.StringVar(&c.InboundProxies, "inbound-proxies", "", "comma separated proxy IPs/CIDRs whose X-Forwarded-* headers are trusted")
	fs.StringVar(&c.StrictTransportSecurity, "strict-transport-security", STSOff, "off|this_domain|include_subdomains")
	fs.IntVar(&c.STSMaxAge, "sts-max-age", 31536000, "Strict-Transport-Security max-age seconds")
	fs.IntVar(&c.MaxRedirectURILen, "max-redirect-uri-len", 8000, "suppress POST redirects when the target URL is at or above this length")
	fs.BoolVar(&c.DisableCSP, "disable-csp", false, "do not emit Content-Security-Policy headers")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Base URLs
	if u, err := url.Parse(c.URLBase); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("URLBASE must be an absolute URL (got %q)", c.URLBase))
	}
	if c.SSLBase != "" {
		u, err := url.Parse(c.SSLBase)
		if err != nil || u == nil || u.Scheme != "https" || u.Host == "" {
			errs = append(errs, fmt.Errorf("SSLBASE must be an absolute https URL (got %q)", c.SSLBase))
		}
	}
	if c.SSLRedirect && c.SSLBase == "" {
		errs = append(errs, fmt.Errorf("SSL_REDIRECT requires SSLBASE"))
	}
	if c.AttachmentBase != "" {
		probe := strings.ReplaceAll(c.AttachmentBase, "%bugid%", "0")
		if u, err := url.Parse(probe); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("ATTACHMENT_BASE must be an absolute URL template (got %q)", c.AttachmentBase))
		}
	}

	switch c.StrictTransportSecurity {
	case STSOff, STSThisDomain, STSIncludeSubdomains:
	default:
		errs = append(errs, fmt.Errorf("STRICT_TRANSPORT_SECURITY must be off|this_domain|include_subdomains (got %q)", c.StrictTransportSecurity))
	}
	if c.STSMaxAge < 0 {
		errs = append(errs, fmt.Errorf("STS_MAX_AGE must be >= 0 (got %d)", c.STSMaxAge))
	}

	if c.MaxRedirectURILen < 1 {
		errs = append(errs, fmt.Errorf("MAX_REDIRECT_URI_LEN must be >= 1 (got %d)", c.MaxRedirectURILen))
	}

	// Proxy list entries must parse as IP or CIDR.
	for _, entry := range SplitProxies(c.InboundProxies) {
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		if net.ParseIP(entry) != nil {
			continue
		}
		errs = append(errs, fmt.Errorf("INBOUND_PROXIES entry %q is not an IP or CIDR", entry))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SplitProxies breaks the inbound-proxies setting into trimmed entries.
func SplitProxies(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CookieDefaults derives the path and domain every outgoing cookie uses
// from the configured base URL. Derived once per process, not per
// cookie.
func (c App) CookieDefaults() (path, domain string) {
	u, err := url.Parse(c.URLBase)
	if err != nil {
		return "/", ""
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return path, u.Hostname()
}

// SSLConfigured reports whether the site serves https at all.
func (c App) SSLConfigured() bool {
	return c.SSLBase != ""
}
