package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ExitInfo carries termination details observed by the spawn monitor.
type ExitInfo struct {
	Code   int
	Signal string
}

func (e ExitInfo) String() string {
	if e.Signal != "" {
		return "signal " + e.Signal
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// ErrTimeout is returned when a backend never signals readiness within the
// configured window.
var ErrTimeout = errors.New("readiness timeout")

// ExitedError is returned when the backend terminates before it ever became
// ready.
type ExitedError struct {
	Exit ExitInfo
}

func (e *ExitedError) Error() string {
	return "process exited before ready (" + e.Exit.String() + ")"
}

// Detector is a strategy that decides when a freshly spawned backend is able
// to accept connections. The exited channel must be wired at spawn time,
// before Await is called, so an immediate crash is never missed.
type Detector interface {
	// Await blocks until readiness, an exit, the timeout, or ctx cancellation.
	Await(ctx context.Context, timeout time.Duration, exited <-chan ExitInfo) error
	// Describe returns a human-readable description of the strategy.
	Describe() string
}

// DelayDetector assumes readiness after a fixed delay. Used when backend
// output is passed through to the operator's terminal and cannot be scanned.
type DelayDetector struct {
	Delay time.Duration
}

const DefaultDelay = 5 * time.Second

func (d DelayDetector) Await(ctx context.Context, timeout time.Duration, exited <-chan ExitInfo) error {
	delay := d.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	var deadline <-chan time.Time
	if timeout > 0 && timeout < delay {
		dt := time.NewTimer(timeout)
		defer dt.Stop()
		deadline = dt.C
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-deadline:
		return ErrTimeout
	case ei := <-exited:
		return &ExitedError{Exit: ei}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d DelayDetector) Describe() string { return "delay" }
