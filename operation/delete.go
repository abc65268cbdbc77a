package operation

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/patchkeep/patchkeep/digest"
	"github.com/patchkeep/patchkeep/fsutil"
)

// Delete removes an existing file at Dest. The file must match PreChecksum
// before removal; its content is backed up into the staging area so
// Rollback can restore it after a Commit.
type Delete struct {
	Deps

	Dest        string
	PreChecksum digest.Digest

	destAbs, backupPath string
	committed           bool
}

func NewDelete(d Deps, dest string, preChecksum digest.Digest) *Delete {
	return &Delete{Deps: d, Dest: dest, PreChecksum: preChecksum}
}

func (del *Delete) String() string { return fmt.Sprintf("delete %s", del.Dest) }

func (del *Delete) Stage(ctx context.Context) (StageResult, error) {
	del.destAbs = filepath.Join(del.Manager.RootPath(), del.Dest)
	if !fsutil.Exists(del.destAbs) {
		return FileMissing, fmt.Errorf("delete: target does not exist: %s", del.Dest)
	}
	current := del.Hasher.File(del.destAbs)
	if !current.Equal(del.PreChecksum) {
		return IntegrityMismatch, fmt.Errorf("delete: target %s digest is %s, expected %s", del.Dest, current, del.PreChecksum)
	}
	del.backupPath = filepath.Join(del.StagingDir, "backup-"+sanitize(del.Dest))
	if err := fsutil.CopyFile(del.destAbs, del.backupPath); err != nil {
		return InternalError, err
	}
	return OK, nil
}

func (del *Delete) Commit() error {
	if err := fsutil.RemoveFile(del.destAbs); err != nil {
		return err
	}
	del.committed = true
	return nil
}

func (del *Delete) Rollback() error {
	if !del.committed {
		return nil
	}
	if err := fsutil.CopyFile(del.backupPath, del.destAbs); err != nil {
		return err
	}
	del.committed = false
	return nil
}
