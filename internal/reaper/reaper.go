// Package reaper evicts backends that have not served a request within
// their idle timeout. Manually started backends are left alone.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"devgate/internal/config"
	"devgate/internal/metrics"
	"devgate/internal/supervisor"
)

// DefaultSweepInterval is how often the reaper scans the process table.
const DefaultSweepInterval = 30 * time.Second

// Reaper periodically stops idle managed backends.
type Reaper struct {
	sup      *supervisor.Supervisor
	registry *config.Registry
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func New(sup *supervisor.Supervisor, reg *config.Registry, interval time.Duration, log *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{
		sup:      sup,
		registry: reg,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep stops every managed backend whose last access is older than its
// configured idle timeout. A failure to stop one backend does not keep the
// rest from being examined.
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.now()
	for _, snap := range r.sup.All() {
		if snap.State != supervisor.StateRunning || snap.Mode != supervisor.ModeManaged {
			continue
		}
		proj, ok := r.registry.Project(snap.Domain)
		if !ok {
			continue
		}
		idle := proj.IdleTimeout
		if idle <= 0 {
			continue
		}
		last := snap.LastAccess
		if last.IsZero() {
			last = snap.ReadyAt
		}
		if now.Sub(last) < idle {
			continue
		}
		r.log.Info("evicting idle backend", "domain", snap.Domain, "idle", now.Sub(last).Round(time.Second))
		if _, err := r.sup.Stop(ctx, snap.Domain, false); err != nil {
			r.log.Warn("idle eviction failed", "domain", snap.Domain, "error", err)
			continue
		}
		metrics.IncIdleEviction(snap.Domain)
	}
}
