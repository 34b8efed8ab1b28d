package readiness

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// DefaultSignatures are the phrases dev servers commonly print once they are
// accepting connections. Matching is case-insensitive.
var DefaultSignatures = []string{
	"listening on",
	"listening at",
	"ready on",
	"ready in",
	"running at",
	"running on",
	"server started",
	"started server",
	"accepting connections",
}

// OutputDetector scans captured stdout/stderr chunks for ready signatures.
// It implements io.Writer so it can be teed into the backend's output pipes;
// the first match closes the ready channel and later writes are passed
// through untouched.
type OutputDetector struct {
	mu      sync.Mutex
	sigs    [][]byte
	tail    []byte
	maxSig  int
	matched bool
	ready   chan struct{}
}

// NewOutputDetector builds a detector over the given signatures, falling
// back to DefaultSignatures when none are provided.
func NewOutputDetector(signatures ...string) *OutputDetector {
	if len(signatures) == 0 {
		signatures = DefaultSignatures
	}
	d := &OutputDetector{ready: make(chan struct{})}
	for _, s := range signatures {
		b := bytes.ToLower([]byte(s))
		if len(b) == 0 {
			continue
		}
		d.sigs = append(d.sigs, b)
		if len(b) > d.maxSig {
			d.maxSig = len(b)
		}
	}
	return d
}

// Write scans a chunk against the signature set. A signature split across two
// chunks is still found: the previous chunk's tail is kept for overlap.
func (d *OutputDetector) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.matched {
		return len(p), nil
	}
	buf := append(append([]byte{}, d.tail...), bytes.ToLower(p)...)
	for _, sig := range d.sigs {
		if bytes.Contains(buf, sig) {
			d.matched = true
			close(d.ready)
			d.tail = nil
			return len(p), nil
		}
	}
	if keep := d.maxSig - 1; len(buf) > keep {
		buf = buf[len(buf)-keep:]
	}
	d.tail = buf
	return len(p), nil
}

// Matched reports whether a ready signature has been seen.
func (d *OutputDetector) Matched() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.matched
}

// Ready returns a channel closed on the first signature match.
func (d *OutputDetector) Ready() <-chan struct{} { return d.ready }

func (d *OutputDetector) Await(ctx context.Context, timeout time.Duration, exited <-chan ExitInfo) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-d.ready:
		return nil
	case ei := <-exited:
		return &ExitedError{Exit: ei}
	case <-timer:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *OutputDetector) Describe() string { return "output-scan" }
