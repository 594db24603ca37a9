package layout

import (
	"os"
	"path/filepath"
	"testing"
)

func TestServiceLayoutPaths(t *testing.T) {
	sl := ServiceLayout{Root: "/srv/all/foo"}

	cases := map[string]string{
		"RunPath":      sl.RunPath(),
		"LogPath":      sl.LogPath(),
		"PriorityPath": sl.PriorityPath(),
	}
	want := map[string]string{
		"RunPath":      "/srv/all/foo/run",
		"LogPath":      "/srv/all/foo/log",
		"PriorityPath": "/srv/all/foo/priority",
	}
	for k, got := range cases {
		if got != want[k] {
			t.Errorf("%s = %q, want %q", k, got, want[k])
		}
	}

	if sl.LockPath() != "/srv/all/foo/monitor/lock" {
		t.Errorf("LockPath = %q", sl.LockPath())
	}
	if sl.ControlPath() != "/srv/all/foo/monitor/control" {
		t.Errorf("ControlPath = %q", sl.ControlPath())
	}
}

func TestBaseHelpers(t *testing.T) {
	b := Base("/srv")
	if b.ActiveDir() != "/srv/active" {
		t.Errorf("ActiveDir = %q", b.ActiveDir())
	}
	if b.ServiceDir("foo") != "/srv/all/foo" {
		t.Errorf("ServiceDir = %q", b.ServiceDir("foo"))
	}
	if b.ActiveLink("1-foo") != "/srv/active/1-foo" {
		t.Errorf("ActiveLink = %q", b.ActiveLink("1-foo"))
	}
}

func TestReadPriority(t *testing.T) {
	dir := t.TempDir()

	if _, ok := ReadPriority(dir); ok {
		t.Fatal("expected ok=false when priority file is absent")
	}

	if err := os.WriteFile(filepath.Join(dir, FilePriority), []byte("42\n"), 0640); err != nil {
		t.Fatal(err)
	}
	name, ok := ReadPriority(dir)
	if !ok || name != "42" {
		t.Fatalf("ReadPriority = %q, %v; want 42, true", name, ok)
	}

	if err := os.WriteFile(filepath.Join(dir, FilePriority), []byte("not-a-number"), 0640); err != nil {
		t.Fatal(err)
	}
	if _, ok := ReadPriority(dir); ok {
		t.Fatal("expected ok=false for a non-numeric priority file")
	}
}

func TestEnsureDirIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "monitor")
	if err := EnsureDir(dir, PermDirMonitor); err != nil {
		t.Fatalf("first EnsureDir: %v", err)
	}
	if err := EnsureDir(dir, PermDirMonitor); err != nil {
		t.Fatalf("second EnsureDir (already exists): %v", err)
	}
}
