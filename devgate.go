package devgate

import (
	"context"
	"net/http"

	"devgate/internal/config"
	"devgate/internal/ratelimit"
	"devgate/internal/router"
	"devgate/internal/server"
	"devgate/internal/store"
	"devgate/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Project = config.Project

type Mapping = config.Mapping

type FileConfig = config.FileConfig

type Snapshot = supervisor.Snapshot

type StartOptions = supervisor.StartOptions

// LoadConfig parses and validates a TOML config file.
func LoadConfig(path string) (*FileConfig, error) { return config.Load(path) }

// Gate bundles the registry, supervisor, rate limiter and request router
// into one embeddable unit. It provides a stable public API; the daemon in
// cmd/devgate wires the same internals with listeners and signal handling.
type Gate struct {
	registry *config.Registry
	sup      *supervisor.Supervisor
	rtr      *router.Router
	st       store.Store
}

func New(fc *FileConfig) (*Gate, error) {
	reg := config.NewRegistry(fc)
	st, err := store.New(fc.Store)
	if err != nil {
		return nil, err
	}
	sup := supervisor.New(reg, fc.Log.LogSetup(), st, nil, supervisor.Options{
		PortRangeFrom: fc.Server.PortRangeFrom,
		PortRangeTo:   fc.Server.PortRangeTo,
	})
	lim := ratelimit.New(fc.RateLimit.Window, fc.RateLimit.Threshold)
	return &Gate{
		registry: reg,
		sup:      sup,
		rtr:      router.New(reg, sup, lim, nil),
		st:       st,
	}, nil
}

// Handler returns the hostname-routing entry point for an HTTP listener.
func (g *Gate) Handler() http.Handler { return g.rtr }

// AdminHandler returns the admin API mounted at basePath.
func (g *Gate) AdminHandler(basePath string) http.Handler {
	return server.NewRouter(g.sup, g.registry, nil, basePath).Handler()
}

func (g *Gate) Start(ctx context.Context, domain string, opts StartOptions) error {
	return g.sup.Start(ctx, domain, opts)
}

func (g *Gate) Stop(ctx context.Context, domain string, force bool) (bool, error) {
	return g.sup.Stop(ctx, domain, force)
}

func (g *Gate) Restart(ctx context.Context, domain string, opts StartOptions) error {
	return g.sup.Restart(ctx, domain, opts)
}

func (g *Gate) Status(domain string) (Snapshot, bool) { return g.sup.Get(domain) }

func (g *Gate) StatusAll() []Snapshot { return g.sup.All() }

// Reload swaps in a new config, usually after re-running LoadConfig.
func (g *Gate) Reload(fc *FileConfig) { g.registry.Swap(fc) }

// Close force-stops every backend and releases the store.
func (g *Gate) Close() error {
	g.sup.Cleanup()
	if g.st != nil {
		return g.st.Close()
	}
	return nil
}
