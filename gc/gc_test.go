package gc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/patchkeep/patchkeep/lock/flock"
)

func TestRunRemovesStaleStagingDirs(t *testing.T) {
	cache := t.TempDir()
	staleDir := filepath.Join(cache, "staging-abc123")
	freshDir := filepath.Join(cache, "staging-def456")
	os.MkdirAll(staleDir, 0o750)
	os.MkdirAll(freshDir, 0o750)
	past := time.Now().Add(-time.Hour)
	os.Chtimes(staleDir, past, past)

	lockPath := filepath.Join(cache, "lock")
	o := New(Module{
		Locker:   flock.New(lockPath, "gc"),
		LockPath: lockPath,
		CacheDir: cache,
		MinAge:   time.Minute,
	})
	if err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Fatalf("expected stale staging dir to be removed")
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Fatalf("expected fresh staging dir to survive: %v", err)
	}
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	cache := t.TempDir()
	lockPath := filepath.Join(cache, "lock")
	holder := flock.New(lockPath, "apply:deadbeef")
	ok, err := holder.TryLock(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected to acquire lock: %v %v", ok, err)
	}
	defer holder.Unlock(context.Background()) //nolint:errcheck

	if info, ok := flock.ReadInfo(lockPath); !ok || info.Label != "apply:deadbeef" {
		t.Fatalf("expected ReadInfo to report the holder's label, got %+v %v", info, ok)
	}

	staleDir := filepath.Join(cache, "staging-abc")
	os.MkdirAll(staleDir, 0o750)
	past := time.Now().Add(-time.Hour)
	os.Chtimes(staleDir, past, past)

	o := New(Module{Locker: flock.New(lockPath, "gc"), LockPath: lockPath, CacheDir: cache, MinAge: time.Minute})
	if err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(staleDir); err != nil {
		t.Fatalf("expected staging dir to survive while lock is held: %v", err)
	}
}
