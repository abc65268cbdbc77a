package operation

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/patchkeep/patchkeep/fsutil"
)

// Rename moves an existing file from Src to Dest within the install root.
// Both paths are root-relative. The source must exist and the destination
// must not.
type Rename struct {
	Deps

	Src  string
	Dest string

	srcAbs, destAbs string
	committed       bool
}

func NewRename(d Deps, src, dest string) *Rename {
	return &Rename{Deps: d, Src: src, Dest: dest}
}

func (r *Rename) String() string { return fmt.Sprintf("rename %s -> %s", r.Src, r.Dest) }

func (r *Rename) Stage(ctx context.Context) (StageResult, error) {
	r.srcAbs = filepath.Join(r.Manager.RootPath(), r.Src)
	r.destAbs = filepath.Join(r.Manager.RootPath(), r.Dest)

	if !fsutil.Exists(r.srcAbs) {
		return FileMissing, fmt.Errorf("rename: source does not exist: %s", r.Src)
	}
	if fsutil.Exists(r.destAbs) {
		return FileExists, fmt.Errorf("rename: destination already exists: %s", r.Dest)
	}
	if !fsutil.IsWritable(filepath.Dir(r.destAbs)) {
		return UnwritableDestination, fmt.Errorf("rename: destination directory not writable: %s", filepath.Dir(r.Dest))
	}
	return OK, nil
}

func (r *Rename) Commit() error {
	if err := fsutil.Move(r.srcAbs, r.destAbs); err != nil {
		return err
	}
	r.committed = true
	return nil
}

func (r *Rename) Rollback() error {
	if !r.committed {
		return nil
	}
	if err := fsutil.Move(r.destAbs, r.srcAbs); err != nil {
		return err
	}
	r.committed = false
	return nil
}
