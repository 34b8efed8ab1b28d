package readiness

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOutputDetectorMatchesSignature(t *testing.T) {
	d := NewOutputDetector()
	_, _ = d.Write([]byte("webpack compiled\n"))
	if d.Matched() {
		t.Fatal("matched before any signature")
	}
	_, _ = d.Write([]byte("Listening on http://localhost:3000\n"))
	if !d.Matched() {
		t.Fatal("expected match on 'Listening on'")
	}
}

func TestOutputDetectorCaseInsensitive(t *testing.T) {
	d := NewOutputDetector("Ready In")
	_, _ = d.Write([]byte("  VITE v5  ready in 312 ms\n"))
	if !d.Matched() {
		t.Fatal("expected case-insensitive match")
	}
}

func TestOutputDetectorSplitAcrossChunks(t *testing.T) {
	d := NewOutputDetector()
	_, _ = d.Write([]byte("server listen"))
	_, _ = d.Write([]byte("ing on port 8080\n"))
	if !d.Matched() {
		t.Fatal("expected match across chunk boundary")
	}
}

func TestOutputDetectorAwaitReady(t *testing.T) {
	d := NewOutputDetector()
	exited := make(chan ExitInfo, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = d.Write([]byte("ready on :4000\n"))
	}()
	if err := d.Await(context.Background(), time.Second, exited); err != nil {
		t.Fatalf("Await: %v", err)
	}
}

func TestOutputDetectorAwaitTimeout(t *testing.T) {
	d := NewOutputDetector()
	exited := make(chan ExitInfo, 1)
	start := time.Now()
	err := d.Await(context.Background(), 50*time.Millisecond, exited)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Await did not respect the timeout bound")
	}
}

func TestOutputDetectorAwaitExit(t *testing.T) {
	d := NewOutputDetector()
	exited := make(chan ExitInfo, 1)
	exited <- ExitInfo{Code: 127}
	err := d.Await(context.Background(), time.Second, exited)
	var ee *ExitedError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitedError, got %v", err)
	}
	if ee.Exit.Code != 127 {
		t.Fatalf("exit code = %d, want 127", ee.Exit.Code)
	}
}

func TestDelayDetectorResolvesAfterDelay(t *testing.T) {
	d := DelayDetector{Delay: 30 * time.Millisecond}
	exited := make(chan ExitInfo, 1)
	if err := d.Await(context.Background(), time.Second, exited); err != nil {
		t.Fatalf("Await: %v", err)
	}
}

func TestDelayDetectorTimeoutShorterThanDelay(t *testing.T) {
	d := DelayDetector{Delay: 5 * time.Second}
	exited := make(chan ExitInfo, 1)
	start := time.Now()
	err := d.Await(context.Background(), 50*time.Millisecond, exited)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Await did not respect the timeout bound")
	}
}

func TestDelayDetectorFailsOnExit(t *testing.T) {
	d := DelayDetector{Delay: time.Second}
	exited := make(chan ExitInfo, 1)
	exited <- ExitInfo{Signal: "killed"}
	err := d.Await(context.Background(), time.Second, exited)
	var ee *ExitedError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitedError, got %v", err)
	}
}

func TestDelayDetectorCancel(t *testing.T) {
	d := DelayDetector{Delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Await(ctx, time.Second, make(chan ExitInfo)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
