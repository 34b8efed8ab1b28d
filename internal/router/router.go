// Package router is the HTTP entry point. It resolves the request hostname
// to a supervised project or a static mapping, triggers on-demand starts,
// and forwards requests to the backend once a port is known.
package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"

	"devgate/internal/config"
	"devgate/internal/metrics"
	"devgate/internal/ratelimit"
	"devgate/internal/supervisor"
)

// Router implements http.Handler for both the HTTP and HTTPS listeners.
type Router struct {
	registry *config.Registry
	sup      *supervisor.Supervisor
	limiter  *ratelimit.Limiter
	log      *slog.Logger

	mu        sync.Mutex
	startErrs map[string]error
}

func New(reg *config.Registry, sup *supervisor.Supervisor, limiter *ratelimit.Limiter, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		registry:  reg,
		sup:       sup,
		limiter:   limiter,
		log:       log,
		startErrs: make(map[string]error),
	}
}

// Hostname strips a port suffix from a Host header value. IPv6 literals
// keep their bracket form intact.
func Hostname(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return hostport
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := Hostname(r.Host)

	if proj, ok := rt.resolveProject(host); ok {
		rt.serveManaged(w, r, proj)
		return
	}
	if port, ok := rt.registry.Mapping(host); ok {
		rt.serveDirect(w, r, host, port)
		return
	}
	rt.serveUnknown(w, host)
}

// resolveProject matches the hostname against the configured projects,
// either exactly or with the reserved TLD appended (so a project with
// domain "app" answers at "app.test").
func (rt *Router) resolveProject(host string) (config.Project, bool) {
	if proj, ok := rt.registry.Project(host); ok {
		return proj, true
	}
	tld := rt.registry.Server().ReservedTLD
	if tld != "" && strings.HasSuffix(host, tld) {
		if proj, ok := rt.registry.Project(strings.TrimSuffix(host, tld)); ok {
			return proj, true
		}
	}
	return config.Project{}, false
}

func (rt *Router) serveManaged(w http.ResponseWriter, r *http.Request, proj config.Project) {
	if !rt.limiter.Allow(proj.Domain) {
		metrics.IncRateLimited(proj.Domain)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	snap, ok := rt.sup.Get(proj.Domain)
	if ok && snap.Live() && snap.PID != 0 && !rt.sup.PIDAlive(snap.PID) {
		ok = false
	}

	if ok {
		switch snap.State {
		case supervisor.StateRunning, supervisor.StateManual:
			rt.sup.UpdateLastAccess(proj.Domain)
			rt.forward(w, r, snap.Port)
			return
		case supervisor.StateStarting:
			rt.serveInterim(w, proj.Domain)
			return
		}
	}

	// absent, stopped, stopping, or the recorded pid is gone
	if err := rt.takeStartErr(proj.Domain); err != nil {
		rt.serveStartFailed(w, proj.Domain, err)
		return
	}
	rt.triggerStart(proj.Domain)
	rt.serveInterim(w, proj.Domain)
}

func (rt *Router) serveDirect(w http.ResponseWriter, r *http.Request, host string, port int) {
	if !rt.limiter.Allow(host) {
		metrics.IncRateLimited(host)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	rt.forward(w, r, port)
}

// triggerStart launches the backend in the background. The triggering
// request is answered with the interim page, never the proxied response.
func (rt *Router) triggerStart(domain string) {
	go func() {
		err := rt.sup.Start(context.Background(), domain, supervisor.StartOptions{})
		if err != nil && !errors.Is(err, supervisor.ErrAlreadyActive) && !errors.Is(err, supervisor.ErrStartInFlight) {
			rt.log.Error("on-demand start failed", "domain", domain, "error", err)
			rt.mu.Lock()
			rt.startErrs[domain] = err
			rt.mu.Unlock()
		}
	}()
}

// takeStartErr returns and clears the last recorded start failure for
// domain, so the request after a 503 re-triggers a start attempt.
func (rt *Router) takeStartErr(domain string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	err := rt.startErrs[domain]
	delete(rt.startErrs, domain)
	return err
}

func (rt *Router) forward(w http.ResponseWriter, r *http.Request, port int) {
	host := Hostname(r.Host)
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Header.Set("X-Forwarded-Host", r.Host)
			req.Header.Set("X-Forwarded-Proto", proto)
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			metrics.IncProxyError(host)
			rt.log.Warn("backend unreachable", "host", req.Host, "target", target.Host, "error", err)
			http.Error(w, "backend unreachable", http.StatusBadGateway)
		},
	}
	metrics.IncProxied(host)
	proxy.ServeHTTP(w, r)
}

func (rt *Router) serveInterim(w http.ResponseWriter, domain string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, interimPage, html.EscapeString(domain))
}

func (rt *Router) serveStartFailed(w http.ResponseWriter, domain string, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, startFailedPage, html.EscapeString(domain), html.EscapeString(err.Error()))
}

func (rt *Router) serveUnknown(w http.ResponseWriter, host string) {
	var b strings.Builder
	for _, d := range rt.registry.Domains() {
		fmt.Fprintf(&b, "<li><a href=\"http://%s/\">%s</a></li>\n", html.EscapeString(d), html.EscapeString(d))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, unknownPage, html.EscapeString(host), b.String())
}

const interimPage = `<!DOCTYPE html>
<html>
<head>
<meta http-equiv="refresh" content="2">
<title>Starting %[1]s</title>
<style>body{font-family:sans-serif;margin:4em auto;max-width:30em;text-align:center;color:#333}</style>
</head>
<body>
<h1>Starting %[1]s&hellip;</h1>
<p>This page refreshes automatically until the backend is ready.</p>
</body>
</html>
`

const startFailedPage = `<!DOCTYPE html>
<html>
<head>
<title>Start failed</title>
<style>body{font-family:sans-serif;margin:4em auto;max-width:40em;color:#333}pre{background:#f5f5f5;padding:1em;overflow:auto}</style>
</head>
<body>
<h1>%s failed to start</h1>
<pre>%s</pre>
<p>Reload to try again.</p>
</body>
</html>
`

const unknownPage = `<!DOCTYPE html>
<html>
<head>
<title>Unknown domain</title>
<style>body{font-family:sans-serif;margin:4em auto;max-width:30em;color:#333}</style>
</head>
<body>
<h1>No project configured for %s</h1>
<p>Configured domains:</p>
<ul>
%s</ul>
</body>
</html>
`
