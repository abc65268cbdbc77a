package operation

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/patchkeep/patchkeep/digest"
	"github.com/patchkeep/patchkeep/fsutil"
)

// Update replaces the content of an existing file at Dest. The destination
// must currently match PreChecksum (guarding against applying an update to
// a tree that isn't in the expected predecessor state); the new payload
// must match Checksum. The pre-update content is backed up into the
// staging area so Rollback can restore it after a Commit.
type Update struct {
	Deps

	Src         string
	Checksum    digest.Digest
	Dest        string // root-relative
	PreChecksum digest.Digest
	Executable  bool

	stagedPath string
	backupPath string
	destAbs    string
	committed  bool
}

func NewUpdate(d Deps, src string, checksum digest.Digest, dest string, preChecksum digest.Digest, executable bool) *Update {
	return &Update{Deps: d, Src: src, Checksum: checksum, Dest: dest, PreChecksum: preChecksum, Executable: executable}
}

func (u *Update) String() string { return fmt.Sprintf("update %s", u.Dest) }

func (u *Update) Stage(ctx context.Context) (StageResult, error) {
	u.destAbs = filepath.Join(u.Manager.RootPath(), u.Dest)
	if !fsutil.Exists(u.destAbs) {
		return FileMissing, fmt.Errorf("update: destination does not exist: %s", u.Dest)
	}

	current := u.Hasher.File(u.destAbs)
	if !current.Equal(u.PreChecksum) {
		return IntegrityMismatch, fmt.Errorf("update: destination %s digest is %s, expected %s before update", u.Dest, current, u.PreChecksum)
	}

	body, err := u.Manager.Get(ctx, u.Src)
	if err != nil {
		return UnreachableSource, err
	}
	got := u.Hasher.Bytes(body)
	if !got.Equal(u.Checksum) {
		return IntegrityMismatch, fmt.Errorf("update: payload digest mismatch for %s: got %s, want %s", u.Dest, got, u.Checksum)
	}

	u.backupPath = filepath.Join(u.StagingDir, "backup-"+sanitize(u.Dest))
	if err := fsutil.CopyFile(u.destAbs, u.backupPath); err != nil {
		return InternalError, err
	}

	u.stagedPath = filepath.Join(u.StagingDir, "new-"+sanitize(u.Dest))
	if err := writeFile(u.stagedPath, body); err != nil {
		return InternalError, err
	}
	if u.Executable {
		if err := fsutil.MakeExecutable(u.stagedPath); err != nil {
			return InternalError, err
		}
	}
	if !fsutil.IsWritable(u.destAbs) {
		return UnwritableDestination, fmt.Errorf("update: destination not writable: %s", u.Dest)
	}
	return OK, nil
}

func (u *Update) Commit() error {
	if err := fsutil.Replace(u.stagedPath, u.destAbs); err != nil {
		return err
	}
	u.committed = true
	return nil
}

func (u *Update) Rollback() error {
	if u.committed {
		if err := fsutil.Replace(u.backupPath, u.destAbs); err != nil {
			return err
		}
		u.committed = false
		return nil
	}
	if u.stagedPath != "" {
		_ = fsutil.RemoveFile(u.stagedPath)
	}
	return nil
}
