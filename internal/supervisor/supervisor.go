package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"devgate/internal/config"
	"devgate/internal/logger"
	"devgate/internal/metrics"
	"devgate/internal/netprobe"
	"devgate/internal/readiness"
	"devgate/internal/store"
)

var (
	// ErrUnknownDomain is returned for domains with no configured project.
	ErrUnknownDomain = errors.New("unknown domain")
	// ErrAlreadyActive is returned when a start is requested for a domain
	// whose record is not stopped.
	ErrAlreadyActive = errors.New("already active")
	// ErrStartInFlight is returned when a stop is requested while a start
	// attempt is still running.
	ErrStartInFlight = errors.New("start in flight")
)

// Options bound every suspension point in the supervisor.
type Options struct {
	PortRangeFrom int
	PortRangeTo   int
	ReadyTimeout  time.Duration // spawn to readiness
	StopGrace     time.Duration // SIGTERM to SIGKILL escalation
	KillWait      time.Duration // post-SIGKILL reap wait, best effort
	SettleDelay   time.Duration // between stop and start on restart
	RetainStopped time.Duration // how long a stopped record stays visible

	// PassthroughDelay is how long a passthrough backend is assumed to need
	// before it accepts connections. Must not exceed ReadyTimeout.
	PassthroughDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.PortRangeFrom == 0 && o.PortRangeTo == 0 {
		o.PortRangeFrom = config.DefaultPortRangeFrom
		o.PortRangeTo = config.DefaultPortRangeTo
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 30 * time.Second
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 10 * time.Second
	}
	if o.KillWait <= 0 {
		o.KillWait = 2 * time.Second
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 500 * time.Millisecond
	}
	if o.RetainStopped <= 0 {
		o.RetainStopped = 30 * time.Second
	}
	if o.PassthroughDelay <= 0 {
		o.PassthroughDelay = readiness.DefaultDelay
	}
	return o
}

// StartOptions modify a single start attempt.
type StartOptions struct {
	// Manual marks the backend exempt from idle eviction.
	Manual bool
}

type startAttempt struct {
	done chan struct{}
	err  error
}

// Supervisor owns the process table. It is the only component that mutates
// records; the router and reaper go through its methods.
type Supervisor struct {
	mu       sync.Mutex
	records  map[string]*record
	inflight map[string]*startAttempt

	registry *config.Registry
	logCfg   logger.Config
	st       store.Store
	log      *slog.Logger
	opts     Options
}

func New(reg *config.Registry, logCfg logger.Config, st store.Store, log *slog.Logger, opts Options) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		records:  make(map[string]*record),
		inflight: make(map[string]*startAttempt),
		registry: reg,
		logCfg:   logCfg,
		st:       st,
		log:      log,
		opts:     opts.withDefaults(),
	}
}

// Start brings up the backend for domain. A concurrent Start for the same
// domain joins the in-flight attempt instead of spawning a second process.
// Rejected with ErrAlreadyActive when a live record exists.
func (s *Supervisor) Start(ctx context.Context, domain string, opts StartOptions) error {
	proj, ok := s.registry.Project(domain)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}

	s.mu.Lock()
	if att := s.inflight[domain]; att != nil {
		s.mu.Unlock()
		select {
		case <-att.done:
			return att.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if rec := s.records[domain]; rec != nil && rec.state != StateStopped {
		// a live-looking record whose process is gone is stale (the exit
		// watcher has not finalized it yet); treat it as absent
		stale := false
		switch rec.state {
		case StateRunning, StateManual:
			stale = !pidAlive(rec.pid)
		case StateStopping:
			stale = rec.proc != nil && rec.proc.exited()
		}
		if stale {
			delete(s.records, domain)
		} else {
			state := rec.state
			s.mu.Unlock()
			return fmt.Errorf("%w: %s is %s", ErrAlreadyActive, domain, state)
		}
	}
	att := &startAttempt{done: make(chan struct{})}
	s.inflight[domain] = att
	now := time.Now()
	rec := &record{
		domain:     domain,
		state:      StateStarting,
		mode:       ModeManaged,
		startedAt:  now,
		lastAccess: now,
	}
	if opts.Manual {
		rec.mode = ModeManual
	}
	s.records[domain] = rec
	s.mu.Unlock()

	err := s.doStart(ctx, proj, rec, opts)

	s.mu.Lock()
	delete(s.inflight, domain)
	if err != nil && s.records[domain] == rec {
		delete(s.records, domain)
	}
	s.mu.Unlock()

	if err != nil {
		metrics.IncStartFailure(domain)
		s.log.Error("start failed", "domain", domain, "error", err)
		s.persistDelete(domain)
	} else {
		s.persist(rec)
	}
	att.err = err
	close(att.done)
	return err
}

func (s *Supervisor) doStart(ctx context.Context, proj config.Project, rec *record, opts StartOptions) error {
	port, err := s.allocatePort(proj)
	if err != nil {
		return err
	}

	var (
		det     readiness.Detector
		out     io.Writer
		errOut  io.Writer
		closers []io.Closer
	)
	if proj.Passthrough {
		det = readiness.DelayDetector{Delay: s.opts.PassthroughDelay}
	} else {
		od := readiness.NewOutputDetector()
		det = od
		outFile, errFile := s.logCfg.Writers(proj.Domain)
		if outFile != nil {
			out = io.MultiWriter(od, outFile)
			errOut = io.MultiWriter(od, errFile)
			closers = append(closers, outFile, errFile)
		} else {
			out, errOut = od, od
		}
	}

	p, err := spawn(proj, port, out, errOut, closers...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	rec.proc = p
	rec.pid = p.pid()
	rec.port = port
	s.mu.Unlock()
	s.log.Info("spawned backend", "domain", proj.Domain, "pid", rec.pid, "port", port, "detector", det.Describe())

	if err := det.Await(ctx, s.opts.ReadyTimeout, p.exitCh); err != nil {
		if !p.exited() {
			p.kill()
			p.awaitExit(s.opts.KillWait)
		}
		return fmt.Errorf("start %s (command %q in %s): %w", proj.Domain, proj.Command, proj.Root, err)
	}

	now := time.Now()
	s.mu.Lock()
	rec.state = StateRunning
	if opts.Manual {
		rec.state = StateManual
	}
	rec.readyAt = now
	rec.lastAccess = now
	s.mu.Unlock()

	metrics.IncStart(proj.Domain)
	metrics.ObserveStartDuration(proj.Domain, now.Sub(rec.startedAt).Seconds())
	s.updateRunningGauge()
	s.log.Info("backend ready", "domain", proj.Domain, "port", port, "took", now.Sub(rec.startedAt))

	go s.watchExit(rec, p)
	return nil
}

func (s *Supervisor) allocatePort(proj config.Project) (int, error) {
	fixed, isFixed, err := proj.FixedPort()
	if err != nil {
		return 0, err
	}
	if isFixed {
		if err := netprobe.Validate(fixed); err != nil {
			return 0, fmt.Errorf("project %s: %w", proj.Domain, err)
		}
		return fixed, nil
	}
	port, err := netprobe.FindAvailable(s.opts.PortRangeFrom, s.opts.PortRangeTo)
	if err != nil {
		return 0, fmt.Errorf("project %s: %w", proj.Domain, err)
	}
	return port, nil
}

// watchExit finalizes the record once the monitor has reaped the process.
// This is the only transition into StateStopped.
func (s *Supervisor) watchExit(rec *record, p *proc) {
	<-p.waitDone

	s.mu.Lock()
	unexpected := rec.state == StateRunning || rec.state == StateManual
	rec.state = StateStopped
	rec.stoppedAt = time.Now()
	if p.exit.Signal != "" {
		rec.exitSignal = p.exit.Signal
		rec.exitCode = nil
	} else {
		code := p.exit.Code
		rec.exitCode = &code
	}
	if p.exitErr != nil {
		rec.err = p.exitErr.Error()
	}
	domain := rec.domain
	s.mu.Unlock()

	if unexpected {
		s.log.Warn("backend exited unexpectedly", "domain", domain, "exit", p.exit.String())
	} else {
		s.log.Info("backend stopped", "domain", domain, "exit", p.exit.String())
	}
	metrics.IncStop(domain)
	s.updateRunningGauge()
	s.persist(rec)

	// keep the stopped record visible for a while so late diagnostics can
	// be inspected, then drop it from the live table
	time.AfterFunc(s.opts.RetainStopped, func() { s.removeIfStopped(rec) })
}

func (s *Supervisor) removeIfStopped(rec *record) {
	s.mu.Lock()
	remove := s.records[rec.domain] == rec && rec.state == StateStopped
	if remove {
		delete(s.records, rec.domain)
	}
	s.mu.Unlock()
	if remove {
		s.persistDelete(rec.domain)
	}
}

// Stop shuts down the backend for domain. Returns false when there is
// nothing to stop; stopping an already stopped domain is not an error.
func (s *Supervisor) Stop(ctx context.Context, domain string, force bool) (bool, error) {
	s.mu.Lock()
	rec := s.records[domain]
	if rec == nil || rec.state == StateStopped {
		s.mu.Unlock()
		return false, nil
	}
	if rec.state == StateStarting {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrStartInFlight, domain)
	}
	p := rec.proc
	alreadyStopping := rec.state == StateStopping
	rec.state = StateStopping
	s.mu.Unlock()

	if alreadyStopping {
		// another caller owns the escalation; just wait for the exit
		p.awaitExit(s.opts.StopGrace + s.opts.KillWait)
		return true, nil
	}

	s.persist(rec)
	s.log.Info("stopping backend", "domain", domain, "force", force)
	if force {
		p.kill()
		p.awaitExit(s.opts.KillWait)
		return true, nil
	}
	p.signalStop()
	if !p.awaitExit(s.opts.StopGrace) {
		s.log.Warn("grace window elapsed, killing", "domain", domain)
		p.kill()
		p.awaitExit(s.opts.KillWait)
	}
	return true, nil
}

// Restart stops the backend gracefully, waits for the OS to release the
// port, and starts it again.
func (s *Supervisor) Restart(ctx context.Context, domain string, opts StartOptions) error {
	stopped, err := s.Stop(ctx, domain, false)
	if err != nil {
		return err
	}
	if stopped {
		time.Sleep(s.opts.SettleDelay)
	}
	return s.Start(ctx, domain, opts)
}

// UpdateLastAccess bumps the access timestamp used by the idle reaper.
// Monotonically non-decreasing; no state change.
func (s *Supervisor) UpdateLastAccess(domain string) {
	s.mu.Lock()
	if rec := s.records[domain]; rec != nil && rec.state != StateStopped {
		if now := time.Now(); now.After(rec.lastAccess) {
			rec.lastAccess = now
		}
	}
	s.mu.Unlock()
}

// Get returns a copy of the record for domain.
func (s *Supervisor) Get(domain string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[domain]
	if rec == nil {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

// All returns copies of every record, sorted by domain.
func (s *Supervisor) All() []Snapshot {
	s.mu.Lock()
	out := make([]Snapshot, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.snapshot())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// PIDAlive probes whether a recorded pid still refers to a live process.
func (s *Supervisor) PIDAlive(pid int) bool { return pidAlive(pid) }

// Cleanup force-stops every live backend, including ones whose start is
// still in flight. Called on daemon shutdown.
func (s *Supervisor) Cleanup() {
	s.mu.Lock()
	domains := make([]string, 0, len(s.records))
	var attempts []*startAttempt
	for d, rec := range s.records {
		switch rec.state {
		case StateStopped:
		case StateStarting:
			// Stop rejects in-flight starts, so kill the spawned child
			// directly; the attempt sees the exit, fails, and removes
			// the record
			if rec.proc != nil {
				rec.proc.kill()
			}
			if att := s.inflight[d]; att != nil {
				attempts = append(attempts, att)
			}
		default:
			domains = append(domains, d)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range domains {
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			if _, err := s.Stop(context.Background(), domain, true); err != nil {
				s.log.Warn("cleanup stop failed", "domain", domain, "error", err)
			}
		}(d)
	}
	for _, att := range attempts {
		wg.Add(1)
		go func(att *startAttempt) {
			defer wg.Done()
			<-att.done
		}(att)
	}
	wg.Wait()
}

// PersistLoop writes the live table to the store at interval until ctx is
// cancelled. Persistence is a side effect; failures are logged and ignored.
func (s *Supervisor) PersistLoop(ctx context.Context, interval time.Duration) {
	if s.st == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.persistAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) persistAll(ctx context.Context) {
	for _, snap := range s.All() {
		if err := s.st.UpsertRecord(ctx, snapshotRecord(snap)); err != nil {
			s.log.Warn("persist failed", "domain", snap.Domain, "error", err)
			return
		}
	}
}

func (s *Supervisor) persist(rec *record) {
	if s.st == nil {
		return
	}
	s.mu.Lock()
	snap := rec.snapshot()
	s.mu.Unlock()
	if err := s.st.UpsertRecord(context.Background(), snapshotRecord(snap)); err != nil {
		s.log.Warn("persist failed", "domain", snap.Domain, "error", err)
	}
}

func (s *Supervisor) persistDelete(domain string) {
	if s.st == nil {
		return
	}
	if err := s.st.DeleteRecord(context.Background(), domain); err != nil {
		s.log.Warn("persist delete failed", "domain", domain, "error", err)
	}
}

func snapshotRecord(snap Snapshot) store.Record {
	return store.FromSnapshot(snap.Domain, snap.PID, snap.Port,
		string(snap.State), string(snap.Mode),
		snap.StartedAt, snap.ReadyAt, snap.LastAccess, snap.StoppedAt,
		snap.ExitCode, snap.ExitSignal, snap.Error)
}

func (s *Supervisor) updateRunningGauge() {
	s.mu.Lock()
	n := 0
	for _, rec := range s.records {
		switch rec.state {
		case StateRunning, StateManual:
			n++
		}
	}
	s.mu.Unlock()
	metrics.SetRunning(n)
}
