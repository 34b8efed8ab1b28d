package netprobe

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	// ErrNoPortsAvailable is returned when every candidate in the scanned
	// range is already bound.
	ErrNoPortsAvailable = errors.New("no ports available in range")
	// ErrPortInUse is returned when a fixed port requested by a project is
	// already bound by another process.
	ErrPortInUse = errors.New("port in use")
)

// FindAvailable scans [start, end] sequentially and returns the first port
// that accepts a throwaway bind on the loopback interface. Candidates are
// probed one at a time; the listener is closed before the port is returned,
// so the result is best-effort against the OS (the spawned process may still
// lose the race).
func FindAvailable(start, end int) (int, error) {
	if start < 1 || end > 65535 || start > end {
		return 0, fmt.Errorf("invalid port range %d-%d", start, end)
	}
	for p := start; p <= end; p++ {
		if bindProbe(p) == nil {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w (%d-%d)", ErrNoPortsAvailable, start, end)
}

// Validate checks that a fixed port can be bound right now.
func Validate(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	if err := bindProbe(port); err != nil {
		return fmt.Errorf("%w: %d", ErrPortInUse, port)
	}
	return nil
}

func bindProbe(port int) error {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return l.Close()
}
