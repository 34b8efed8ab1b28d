package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"devgate/internal/config"
)

func writeConfig(t *testing.T, path, domain string) {
	t.Helper()
	body := fmt.Sprintf(`[[projects]]
domain = %q
root = %q
command = "sleep 60"
`, domain, t.TempDir())
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReloadSwapsRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devgate.toml")
	writeConfig(t, path, "one.test")

	fc, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	reg := config.NewRegistry(fc)

	var reloaded *config.FileConfig
	w := New(path, reg, 0, nil, func(fc *config.FileConfig) { reloaded = fc })

	writeConfig(t, path, "two.test")
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := reg.Project("two.test"); !ok {
		t.Fatal("registry missing new project after reload")
	}
	if _, ok := reg.Project("one.test"); ok {
		t.Fatal("registry kept removed project after reload")
	}
	if reloaded == nil || len(reloaded.Projects) != 1 {
		t.Fatal("onReload callback not invoked with new config")
	}
}

func TestReloadKeepsOldConfigOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devgate.toml")
	writeConfig(t, path, "one.test")

	fc, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	reg := config.NewRegistry(fc)
	w := New(path, reg, 0, nil, nil)

	if err := os.WriteFile(path, []byte("[[projects]]\ndomain = \"broken.test\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.Reload(); err == nil {
		t.Fatal("expected reload error for config without command")
	}
	if _, ok := reg.Project("one.test"); !ok {
		t.Fatal("failed reload clobbered the previous config")
	}
}

func TestRunReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devgate.toml")
	writeConfig(t, path, "one.test")

	fc, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	reg := config.NewRegistry(fc)
	w := New(path, reg, 50*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// give the watch time to attach before writing
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, "two.test")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Project("two.test"); ok {
			cancel()
			<-done
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher never picked up the config change")
}
