package netprobe

import (
	"errors"
	"net"
	"strconv"
	"testing"
)

func TestFindAvailableReturnsFreePort(t *testing.T) {
	p, err := FindAvailable(20000, 20100)
	if err != nil {
		t.Fatalf("FindAvailable: %v", err)
	}
	if p < 20000 || p > 20100 {
		t.Fatalf("port %d outside requested range", p)
	}
	// the returned port must actually be bindable
	l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(p))
	if err != nil {
		t.Fatalf("returned port %d not bindable: %v", p, err)
	}
	_ = l.Close()
}

func TestFindAvailableSkipsOccupied(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = l.Close() }()
	busy := l.Addr().(*net.TCPAddr).Port

	p, err := FindAvailable(busy, busy+50)
	if err != nil {
		t.Fatalf("FindAvailable: %v", err)
	}
	if p == busy {
		t.Fatalf("returned occupied port %d", busy)
	}
}

func TestFindAvailableExhausted(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = l.Close() }()
	busy := l.Addr().(*net.TCPAddr).Port

	_, err = FindAvailable(busy, busy)
	if !errors.Is(err, ErrNoPortsAvailable) {
		t.Fatalf("expected ErrNoPortsAvailable, got %v", err)
	}
}

func TestFindAvailableRejectsBadRange(t *testing.T) {
	if _, err := FindAvailable(100, 50); err == nil {
		t.Fatal("expected error for inverted range")
	}
	if _, err := FindAvailable(0, 100); err == nil {
		t.Fatal("expected error for port 0 start")
	}
}

func TestValidate(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	busy := l.Addr().(*net.TCPAddr).Port

	if err := Validate(busy); !errors.Is(err, ErrPortInUse) {
		t.Fatalf("expected ErrPortInUse for bound port, got %v", err)
	}
	_ = l.Close()
	if err := Validate(busy); err != nil {
		t.Fatalf("expected released port to validate, got %v", err)
	}
}
