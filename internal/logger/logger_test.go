package logger

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWritersWithDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}
	out, errW := cfg.Writers("app.test")
	if out == nil || errW == nil {
		t.Fatal("expected writers when Dir is set")
	}
	if _, err := out.Write([]byte("hello-out\n")); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	if _, err := errW.Write([]byte("hello-err\n")); err != nil {
		t.Fatalf("write stderr: %v", err)
	}
	_ = out.Close()
	_ = errW.Close()

	for _, name := range []string{"app.test.stdout.log", "app.test.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
}

func TestWritersWithoutDir(t *testing.T) {
	out, errW := Config{}.Writers("app.test")
	if out != nil || errW != nil {
		t.Fatal("expected nil writers without Dir")
	}
}
