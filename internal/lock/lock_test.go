package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquire_WritesOwnPID(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	data, err := os.ReadFile(filepath.Join(dir, "overseer.pid"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) == "" {
		t.Error("empty pid file")
	}
}

func TestAcquire_SecondAcquireFails(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	// The holder is this test process, which is certainly alive.
	if _, err := Acquire(dir); !errors.Is(err, ErrHeld) {
		t.Errorf("second acquire = %v, want ErrHeld", err)
	}
}

func TestAcquire_ReclaimsStaleFile(t *testing.T) {
	dir := t.TempDir()
	// A PID far beyond pid_max cannot belong to a live process.
	if err := os.WriteFile(filepath.Join(dir, "overseer.pid"), []byte("999999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("stale lock not reclaimed: %v", err)
	}
	l.Release()
}

func TestAcquire_ReclaimsGarbageFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "overseer.pid"), []byte("not a pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("garbage lock not reclaimed: %v", err)
	}
	l.Release()
}

func TestRelease_Twice(t *testing.T) {
	l, err := Acquire(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second release: %v", err)
	}
}
