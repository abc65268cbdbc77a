// Package flock implements lock.Locker with a real file lock, so that two
// patch engine processes pointed at the same install root serialize their
// apply/gc cycles instead of racing each other's staging areas. Unlike a
// bare mutual-exclusion primitive, it also records who is holding the lock
// and why — the engine is a batch CLI that can be invoked repeatedly by cron
// or a launcher, and "gc skipped: install root is locked" is far less useful
// to an operator than "gc skipped: apply of release <checksum> has been
// running since <time>, pid <pid>".
package flock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/patchkeep/patchkeep/lock"
)

const retryDelay = 100 * time.Millisecond

// compile-time interface check.
var _ lock.Locker = (*Lock)(nil)

// Info describes who currently holds an install-root lock. It is written
// to a sidecar file next to the lock path while the lock is held, so a
// caller that lost a TryLock race (gc deferring to an in-progress apply, a
// second apply attempt) can report what is actually running instead of a
// bare "locked".
type Info struct {
	PID        int       `json:"pid"`
	Label      string    `json:"label"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock guards a single install root, combining:
//   - In-process exclusion via a size-1 buffered channel. A goroutine acquires
//     the in-process token by sending to ch; it releases by receiving from ch.
//     Using a channel (rather than sync.Mutex) enables context-aware blocking in
//     Lock() and non-blocking short-circuit in TryLock() without any syscall.
//   - Cross-process exclusion via flock(2) with a fresh fd on every acquisition,
//     so a second patch engine process guarding the same install root blocks
//     (or, via TryLock, backs off) rather than racing a staged release's
//     commit or an orphan-sweeping gc cycle against it.
type Lock struct {
	path  string
	label string
	ch    chan struct{}
	// fl is the active flock fd, non-nil while the lock is held.
	fl *flock.Flock
}

// New creates a Lock for path. label identifies the kind of work that will
// hold it (e.g. "apply:<release-checksum>", "gc") and is recorded in Info
// while held, so ReadInfo callers can report what's in progress rather than
// just that the lock is taken.
func New(path, label string) *Lock {
	return &Lock{path: path, label: label, ch: make(chan struct{}, 1)}
}

func infoPath(lockPath string) string { return lockPath + ".info" }

// Lock acquires the lock, blocking until available or ctx is cancelled.
func (l *Lock) Lock(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquire lock %s: %w", l.path, ctx.Err())
	}
	ok, err := l.commitFlock(func(fl *flock.Flock) (bool, error) {
		return fl.TryLockContext(ctx, retryDelay)
	})
	if err != nil {
		return fmt.Errorf("acquire flock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("acquire flock %s: %w", l.path, ctx.Err())
	}
	return nil
}

// TryLock attempts a non-blocking acquisition.
// Returns (false, nil) if the lock is currently held by another caller.
func (l *Lock) TryLock(_ context.Context) (bool, error) {
	select {
	case l.ch <- struct{}{}:
	default:
		return false, nil
	}
	return l.commitFlock(func(fl *flock.Flock) (bool, error) {
		return fl.TryLock()
	})
}

// Unlock releases the lock and removes the Info sidecar recorded on
// acquisition.
func (l *Lock) Unlock(_ context.Context) error {
	var err error
	if l.fl != nil {
		err = l.fl.Unlock()
		l.fl = nil
		_ = os.Remove(infoPath(l.path))
	}
	select {
	case <-l.ch:
	default:
	}
	if err != nil {
		return fmt.Errorf("release flock %s: %w", l.path, err)
	}
	return nil
}

// commitFlock opens a fresh flock fd, runs acquire, and either stores the fd
// and writes Info (on success) or releases the channel token (on failure) so
// Unlock is always called in a balanced pair with Lock/TryLock.
func (l *Lock) commitFlock(acquire func(*flock.Flock) (bool, error)) (bool, error) {
	fl := flock.New(l.path)
	locked, err := acquire(fl)
	if err != nil {
		<-l.ch
		return false, err
	}
	if !locked {
		<-l.ch
		return false, nil
	}
	l.fl = fl
	l.writeInfo()
	return true, nil
}

func (l *Lock) writeInfo() {
	body, err := json.Marshal(Info{PID: os.Getpid(), Label: l.label, AcquiredAt: time.Now()})
	if err != nil {
		return
	}
	// Best effort: a failure to record who's holding the lock must not
	// block acquisition, it only degrades a future ReadInfo's diagnostic.
	_ = os.WriteFile(infoPath(l.path), body, 0o644)
}

// ReadInfo reads the holder Info recorded alongside lockPath, if any. A
// caller that failed a TryLock (gc.Run, a second apply attempt) uses this to
// report what's currently in progress.
func ReadInfo(lockPath string) (Info, bool) {
	body, err := os.ReadFile(infoPath(lockPath)) //nolint:gosec // lock path is engine-controlled
	if err != nil {
		return Info{}, false
	}
	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return Info{}, false
	}
	return info, true
}
