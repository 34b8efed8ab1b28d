package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"devgate/internal/config"
	"devgate/internal/logger"
	"devgate/internal/readiness"
)

func testSupervisor(t *testing.T, opts Options, projects ...config.Project) *Supervisor {
	t.Helper()
	fc := &config.FileConfig{Projects: projects}
	reg := config.NewRegistry(fc)
	if opts.PortRangeFrom == 0 {
		opts.PortRangeFrom = 43000
		opts.PortRangeTo = 43099
	}
	s := New(reg, logger.Config{}, nil, nil, opts)
	t.Cleanup(s.Cleanup)
	return s
}

func project(domain, command string) config.Project {
	return config.Project{
		Domain:      domain,
		Port:        config.PortAuto,
		IdleTimeout: time.Minute,
		Command:     command,
	}
}

func waitForState(t *testing.T, s *Supervisor, domain string, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if snap, ok := s.Get(domain); ok && snap.State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap, ok := s.Get(domain)
	t.Fatalf("domain %s never reached %s (current: %+v, present=%v)", domain, want, snap, ok)
}

func TestStartAndStop(t *testing.T) {
	s := testSupervisor(t, Options{StopGrace: 2 * time.Second},
		project("app.test", "echo listening on :$PORT && sleep 60"))

	if err := s.Start(context.Background(), "app.test", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, ok := s.Get("app.test")
	if !ok {
		t.Fatal("no record after Start")
	}
	if snap.State != StateRunning {
		t.Fatalf("state = %s, want running", snap.State)
	}
	if snap.PID == 0 || snap.Port < 43000 || snap.Port > 43099 {
		t.Fatalf("pid/port not recorded: %+v", snap)
	}
	if snap.ReadyAt.IsZero() {
		t.Fatal("readyAt not stamped")
	}

	stopped, err := s.Stop(context.Background(), "app.test", false)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stopped {
		t.Fatal("Stop reported nothing to stop")
	}
	waitForState(t, s, "app.test", StateStopped, 2*time.Second)

	// idempotent stop on a stopped record
	stopped, err = s.Stop(context.Background(), "app.test", false)
	if err != nil || stopped {
		t.Fatalf("second Stop = (%v, %v), want (false, nil)", stopped, err)
	}
}

func TestStartUnknownDomain(t *testing.T) {
	s := testSupervisor(t, Options{})
	err := s.Start(context.Background(), "ghost.test", StartOptions{})
	if !errors.Is(err, ErrUnknownDomain) {
		t.Fatalf("expected ErrUnknownDomain, got %v", err)
	}
}

func TestStartAlreadyActive(t *testing.T) {
	s := testSupervisor(t, Options{},
		project("app.test", "echo listening on :$PORT && sleep 60"))
	if err := s.Start(context.Background(), "app.test", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := s.Start(context.Background(), "app.test", StartOptions{})
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
}

func TestConcurrentFirstAccessSpawnsOnce(t *testing.T) {
	s := testSupervisor(t, Options{},
		project("app.test", "echo listening on :$PORT && sleep 60"))

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Start(context.Background(), "app.test", StartOptions{})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		// a caller scheduled after the attempt resolved sees the live record
		if err != nil && !errors.Is(err, ErrAlreadyActive) {
			t.Fatalf("concurrent Start %d: %v", i, err)
		}
	}
	all := s.All()
	if len(all) != 1 {
		t.Fatalf("records = %d, want exactly one", len(all))
	}
	if all[0].State != StateRunning || all[0].PID == 0 {
		t.Fatalf("unexpected record: %+v", all[0])
	}
}

func TestReadinessTimeoutBoundsStart(t *testing.T) {
	s := testSupervisor(t, Options{ReadyTimeout: 300 * time.Millisecond},
		project("app.test", "sleep 60"))

	start := time.Now()
	err := s.Start(context.Background(), "app.test", StartOptions{})
	if !errors.Is(err, readiness.ErrTimeout) {
		t.Fatalf("expected readiness timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("start took %v, not bounded by the readiness timeout", elapsed)
	}
	if _, ok := s.Get("app.test"); ok {
		t.Fatal("failed start left a dangling record")
	}
}

func TestExitBeforeReady(t *testing.T) {
	s := testSupervisor(t, Options{}, project("app.test", "exit 3;"))

	err := s.Start(context.Background(), "app.test", StartOptions{})
	var ee *readiness.ExitedError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitedError, got %v", err)
	}
	if ee.Exit.Code != 3 {
		t.Fatalf("exit code = %d, want 3", ee.Exit.Code)
	}
	if _, ok := s.Get("app.test"); ok {
		t.Fatal("failed start left a dangling record")
	}
}

func TestSpawnFailureCarriesContext(t *testing.T) {
	p := project("app.test", "/definitely-not-a-real-binary")
	p.Root = t.TempDir()
	s := testSupervisor(t, Options{}, p)

	err := s.Start(context.Background(), "app.test", StartOptions{})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if !strings.Contains(err.Error(), "/definitely-not-a-real-binary") {
		t.Fatalf("error lacks command context: %v", err)
	}
	if !strings.Contains(err.Error(), p.Root) {
		t.Fatalf("error lacks workdir context: %v", err)
	}
}

func TestUnexpectedExitCaptured(t *testing.T) {
	s := testSupervisor(t, Options{RetainStopped: 300 * time.Millisecond},
		project("app.test", "echo ready on :$PORT; sleep 0.2; exit 7"))

	if err := s.Start(context.Background(), "app.test", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, s, "app.test", StateStopped, 3*time.Second)
	snap, _ := s.Get("app.test")
	if snap.ExitCode == nil || *snap.ExitCode != 7 {
		t.Fatalf("exit code not captured: %+v", snap)
	}
	if snap.StoppedAt.IsZero() {
		t.Fatal("stoppedAt not stamped")
	}

	// the stopped record is retained briefly, then removed
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Get("app.test"); !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("stopped record never removed after retention window")
}

func TestManualMode(t *testing.T) {
	s := testSupervisor(t, Options{},
		project("app.test", "echo listening on :$PORT && sleep 60"))

	if err := s.Start(context.Background(), "app.test", StartOptions{Manual: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, _ := s.Get("app.test")
	if snap.State != StateManual || snap.Mode != ModeManual {
		t.Fatalf("state/mode = %s/%s, want manual/manual", snap.State, snap.Mode)
	}
}

func TestPassthroughReadinessByDelay(t *testing.T) {
	p := project("app.test", "sleep 60")
	p.Passthrough = true
	s := testSupervisor(t, Options{ReadyTimeout: 2 * time.Second, PassthroughDelay: 50 * time.Millisecond}, p)

	if err := s.Start(context.Background(), "app.test", StartOptions{}); err != nil {
		t.Fatalf("Start in passthrough mode: %v", err)
	}
	snap, _ := s.Get("app.test")
	if snap.State != StateRunning {
		t.Fatalf("state = %s, want running", snap.State)
	}
}

func TestPassthroughTimeoutBeforeDelay(t *testing.T) {
	p := project("app.test", "sleep 60")
	p.Passthrough = true
	s := testSupervisor(t, Options{ReadyTimeout: 50 * time.Millisecond, PassthroughDelay: 5 * time.Second}, p)

	err := s.Start(context.Background(), "app.test", StartOptions{})
	if !errors.Is(err, readiness.ErrTimeout) {
		t.Fatalf("expected readiness timeout, got %v", err)
	}
	if _, ok := s.Get("app.test"); ok {
		t.Fatal("record left behind after failed passthrough start")
	}
}

func TestUpdateLastAccess(t *testing.T) {
	s := testSupervisor(t, Options{},
		project("app.test", "echo listening on :$PORT && sleep 60"))
	if err := s.Start(context.Background(), "app.test", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before, _ := s.Get("app.test")
	time.Sleep(10 * time.Millisecond)
	s.UpdateLastAccess("app.test")
	after, _ := s.Get("app.test")
	if !after.LastAccess.After(before.LastAccess) {
		t.Fatalf("lastAccess not bumped: %v -> %v", before.LastAccess, after.LastAccess)
	}

	// unknown domains are ignored
	s.UpdateLastAccess("ghost.test")
}

func TestRestart(t *testing.T) {
	s := testSupervisor(t, Options{StopGrace: 2 * time.Second, SettleDelay: 50 * time.Millisecond},
		project("app.test", "echo listening on :$PORT && sleep 60"))

	if err := s.Start(context.Background(), "app.test", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, _ := s.Get("app.test")

	if err := s.Restart(context.Background(), "app.test", StartOptions{}); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	second, _ := s.Get("app.test")
	if second.State != StateRunning {
		t.Fatalf("state after restart = %s", second.State)
	}
	if second.PID == first.PID {
		t.Fatalf("restart reused pid %d", first.PID)
	}
}

func TestCleanupStopsEverything(t *testing.T) {
	s := testSupervisor(t, Options{},
		project("a.test", "echo listening on :$PORT && sleep 60"),
		project("b.test", "echo listening on :$PORT && sleep 60"))

	for _, d := range []string{"a.test", "b.test"} {
		if err := s.Start(context.Background(), d, StartOptions{}); err != nil {
			t.Fatalf("Start %s: %v", d, err)
		}
	}
	pids := make([]int, 0, 2)
	for _, snap := range s.All() {
		pids = append(pids, snap.PID)
	}

	s.Cleanup()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		alive := false
		for _, pid := range pids {
			if pidAlive(pid) {
				alive = true
			}
		}
		if !alive {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("cleanup left processes running")
}

func TestCleanupReapsInFlightStart(t *testing.T) {
	s := testSupervisor(t, Options{ReadyTimeout: 30 * time.Second},
		project("app.test", "sleep 60"))

	startErr := make(chan error, 1)
	go func() { startErr <- s.Start(context.Background(), "app.test", StartOptions{}) }()

	var pid int
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := s.Get("app.test"); ok && snap.State == StateStarting && snap.PID != 0 {
			pid = snap.PID
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if pid == 0 {
		t.Fatal("backend never reached starting with a recorded pid")
	}

	s.Cleanup()

	select {
	case err := <-startErr:
		if err == nil {
			t.Fatal("Start succeeded despite cleanup")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start still in flight after Cleanup returned")
	}
	if pidAlive(pid) {
		t.Fatalf("backend pid %d still alive after Cleanup", pid)
	}
	if snap, ok := s.Get("app.test"); ok {
		t.Fatalf("record left behind after failed start: %+v", snap)
	}
}
