package supervisor

import (
	"time"
)

// State is the lifecycle state of a supervised backend.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateManual   State = "manual"
	StateStopping State = "stopping"
)

// Mode controls idle eviction. Manual backends are started interactively and
// persist until explicitly stopped.
type Mode string

const (
	ModeManaged Mode = "managed"
	ModeManual  Mode = "manual"
)

// record is the supervisor-owned bookkeeping for one domain. All fields are
// guarded by the supervisor mutex; callers only ever see Snapshot copies.
type record struct {
	domain string
	proc   *proc
	pid    int
	port   int
	state  State
	mode   Mode

	startedAt  time.Time
	readyAt    time.Time
	lastAccess time.Time
	stoppedAt  time.Time

	exitCode   *int
	exitSignal string
	err        string
}

// Snapshot is an externally consumable copy of a record.
type Snapshot struct {
	Domain     string     `json:"domain"`
	PID        int        `json:"pid"`
	Port       int        `json:"port"`
	State      State      `json:"state"`
	Mode       Mode       `json:"mode"`
	StartedAt  time.Time  `json:"started_at,omitzero"`
	ReadyAt    time.Time  `json:"ready_at,omitzero"`
	LastAccess time.Time  `json:"last_access,omitzero"`
	StoppedAt  time.Time  `json:"stopped_at,omitzero"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	ExitSignal string     `json:"exit_signal,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		Domain:     r.domain,
		PID:        r.pid,
		Port:       r.port,
		State:      r.state,
		Mode:       r.mode,
		StartedAt:  r.startedAt,
		ReadyAt:    r.readyAt,
		LastAccess: r.lastAccess,
		StoppedAt:  r.stoppedAt,
		ExitCode:   r.exitCode,
		ExitSignal: r.exitSignal,
		Error:      r.err,
	}
}

// Live reports whether the snapshot holds (or is acquiring) a process.
func (s Snapshot) Live() bool {
	switch s.State {
	case StateStarting, StateRunning, StateManual, StateStopping:
		return true
	default:
		return false
	}
}
