// Package gc reclaims staging areas orphaned by a process that crashed or
// was killed mid-release, so the cache directory does not grow without
// bound across repeated apply attempts. The lock-read-collect shape is the
// teacher's generic multi-module GC split down to the one module this
// domain needs.
package gc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/patchkeep/patchkeep/fsutil"
	"github.com/patchkeep/patchkeep/lock"
	"github.com/patchkeep/patchkeep/lock/flock"
	"github.com/patchkeep/patchkeep/staging"
)

// Snapshot is the set of staging directories found under the cache root at
// the moment the lock was held.
type Snapshot struct {
	CacheDir string
	Dirs     []string // basenames
}

// Module describes the one garbage-collectible resource kind this engine
// has: orphaned staging areas. Locker is the same install-root lock an
// in-progress apply holds, so GC only ever touches a staging area once no
// apply is using it.
type Module struct {
	Locker lock.Locker
	// LockPath is the same path Locker guards, used only to look up the
	// flock.Info a holder recorded on acquisition when TryLock reports the
	// lock is held, so the skip message names what's running instead of
	// just that something is.
	LockPath string
	CacheDir string
	// MinAge is how long a staging directory must have gone untouched
	// before GC considers it orphaned rather than a peer's in-flight
	// release (a release application can legitimately hold a staging area
	// open for longer than an instant while fetching payloads).
	MinAge time.Duration
}

// Orchestrator runs a GC cycle for the registered Module.
type Orchestrator struct {
	module Module
}

// New creates an Orchestrator sweeping m's cache directory.
func New(m Module) *Orchestrator {
	return &Orchestrator{module: m}
}

// Run executes one GC cycle: TryLock → list stale staging dirs → remove
// them → Unlock. Returns nil without doing anything if the lock is
// currently held (an apply is in progress; GC retries on the next run).
func (o *Orchestrator) Run(ctx context.Context) error {
	logger := log.WithFunc("gc.Run")
	m := o.module

	ok, err := m.Locker.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("gc: acquire lock: %w", err)
	}
	if !ok {
		if info, found := flock.ReadInfo(m.LockPath); found {
			logger.Infof(ctx, "skip: install root is locked by pid %d (%s) since %s",
				info.PID, info.Label, info.AcquiredAt.Format(time.RFC3339))
		} else {
			logger.Infof(ctx, "skip: install root is locked, an apply may be in progress")
		}
		return nil
	}
	defer m.Locker.Unlock(ctx) //nolint:errcheck

	snap, err := readSnapshot(m.CacheDir)
	if err != nil {
		return fmt.Errorf("gc: read cache dir: %w", err)
	}

	var errs []string
	removed := 0
	for _, name := range snap.Dirs {
		full := filepath.Join(snap.CacheDir, name)
		stale, err := isStale(full, m.MinAge)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if !stale {
			continue
		}
		if err := fsutil.RemoveDirectoryRecursive(full); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		removed++
		logger.Infof(ctx, "removed orphaned staging area: %s", name)
	}
	if removed > 0 {
		logger.Infof(ctx, "gc removed %d orphaned staging area(s)", removed)
	}
	if len(errs) > 0 {
		return fmt.Errorf("gc errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func readSnapshot(cacheDir string) (Snapshot, error) {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{CacheDir: cacheDir}, nil
		}
		return Snapshot{}, err
	}
	snap := Snapshot{CacheDir: cacheDir}
	for _, e := range entries {
		if e.IsDir() && staging.IsStagingDir(e.Name()) {
			snap.Dirs = append(snap.Dirs, e.Name())
		}
	}
	return snap, nil
}

func isStale(dir string, minAge time.Duration) (bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return false, err
	}
	return time.Since(info.ModTime()) >= minAge, nil
}
