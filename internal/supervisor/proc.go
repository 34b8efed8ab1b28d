package supervisor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"devgate/internal/config"
	"devgate/internal/readiness"
)

// PortEnvVar is the environment variable carrying the allocated port into
// the spawned backend.
const PortEnvVar = "PORT"

// proc wraps one spawned backend process. The exit monitor goroutine is
// attached inside spawn, before any caller can await readiness, so an
// immediate crash is always observed.
type proc struct {
	cmd      *exec.Cmd
	waitDone chan struct{}            // closed when cmd.Wait returns
	exitCh   chan readiness.ExitInfo  // buffered; consumed by the readiness detector
	closers  []io.Closer

	exit    readiness.ExitInfo // valid after waitDone is closed
	exitErr error
}

// buildCommand constructs the *exec.Cmd for a project's dev command. An
// explicit Args list is executed directly; otherwise the command string is
// split, falling back to /bin/sh -c when shell metacharacters are present.
func buildCommand(p config.Project) (*exec.Cmd, error) {
	cmdStr := strings.TrimSpace(p.Command)
	if cmdStr == "" {
		return nil, fmt.Errorf("project %s: empty command", p.Domain)
	}
	if len(p.Args) > 0 {
		// #nosec G204 -- operator-configured dev command
		return exec.Command(cmdStr, p.Args...), nil
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr), nil
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...), nil
}

// spawn starts the project's command with the allocated port injected into
// its environment. stdout/stderr go to out/errOut when non-nil (captured
// mode) or to the daemon's own streams (passthrough). closers are shut when
// the process exits.
func spawn(p config.Project, port int, out, errOut io.Writer, closers ...io.Closer) (*proc, error) {
	cmd, err := buildCommand(p)
	if err != nil {
		return nil, err
	}
	if p.Root != "" {
		cmd.Dir = p.Root
	}
	env := append(os.Environ(), p.Env...)
	env = append(env, PortEnvVar+"="+strconv.Itoa(port))
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if out != nil {
		cmd.Stdout = out
	} else {
		cmd.Stdout = os.Stdout
	}
	if errOut != nil {
		cmd.Stderr = errOut
	} else {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, fmt.Errorf("spawn %q in %s: %w", p.Command, workdir(cmd), err)
	}

	pr := &proc{
		cmd:      cmd,
		waitDone: make(chan struct{}),
		exitCh:   make(chan readiness.ExitInfo, 1),
		closers:  closers,
	}
	go pr.monitor()
	return pr, nil
}

func workdir(cmd *exec.Cmd) string {
	if cmd.Dir != "" {
		return cmd.Dir
	}
	wd, _ := os.Getwd()
	return wd
}

// monitor reaps the process and publishes exit information. It is the only
// goroutine that calls cmd.Wait.
func (p *proc) monitor() {
	err := p.cmd.Wait()
	p.exit = exitInfo(p.cmd, err)
	p.exitErr = err
	for _, c := range p.closers {
		_ = c.Close()
	}
	p.exitCh <- p.exit
	close(p.waitDone)
}

func exitInfo(cmd *exec.Cmd, err error) readiness.ExitInfo {
	if st := cmd.ProcessState; st != nil {
		if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return readiness.ExitInfo{Code: -1, Signal: ws.Signal().String()}
		}
		return readiness.ExitInfo{Code: st.ExitCode()}
	}
	if err != nil {
		return readiness.ExitInfo{Code: -1}
	}
	return readiness.ExitInfo{}
}

func (p *proc) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// signalStop sends SIGTERM to the whole process group.
func (p *proc) signalStop() {
	if pid := p.pid(); pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGTERM)
	}
}

// kill sends SIGKILL to the whole process group.
func (p *proc) kill() {
	if pid := p.pid(); pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}

// awaitExit blocks until the monitor has reaped the process or d elapses.
func (p *proc) awaitExit(d time.Duration) bool {
	if d <= 0 {
		<-p.waitDone
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.waitDone:
		return true
	case <-t.C:
		return false
	}
}

func (p *proc) exited() bool {
	select {
	case <-p.waitDone:
		return true
	default:
		return false
	}
}

// pidAlive probes a pid without touching os/exec internals. Used by the
// router's liveness check against recorded pids.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// isZombie reports whether /proc/<pid>/status shows state Z. A quickly
// exiting child stays a zombie until reaped; treat that as not alive.
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
