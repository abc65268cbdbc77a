package operation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/patchkeep/patchkeep/digest"
	"github.com/patchkeep/patchkeep/fsutil"
)

// Create writes a brand-new file at Dest, which must not already exist.
// The payload is fetched from Src (a URI resolved by the resource.Manager),
// verified against Checksum, staged to a scratch file, and only renamed
// into place on Commit.
type Create struct {
	Deps

	Src        string
	Checksum   digest.Digest
	Dest       string // root-relative
	Executable bool

	stagedPath string
	destAbs    string
	committed  bool
}

func NewCreate(d Deps, src string, checksum digest.Digest, dest string, executable bool) *Create {
	return &Create{Deps: d, Src: src, Checksum: checksum, Dest: dest, Executable: executable}
}

func (c *Create) String() string { return fmt.Sprintf("create %s", c.Dest) }

func (c *Create) Stage(ctx context.Context) (StageResult, error) {
	c.destAbs = filepath.Join(c.Manager.RootPath(), c.Dest)
	if fsutil.Exists(c.destAbs) {
		return FileExists, fmt.Errorf("create: destination already exists: %s", c.Dest)
	}

	body, err := c.Manager.Get(ctx, c.Src)
	if err != nil {
		return UnreachableSource, err
	}

	got := c.Hasher.Bytes(body)
	if !got.Equal(c.Checksum) {
		return IntegrityMismatch, fmt.Errorf("create: payload digest mismatch for %s: got %s, want %s", c.Dest, got, c.Checksum)
	}

	c.stagedPath = filepath.Join(c.StagingDir, "new-"+sanitize(c.Dest))
	if err := fsutil.EnsureDirectory(filepath.Dir(c.stagedPath)); err != nil {
		return InternalError, err
	}
	if err := writeFile(c.stagedPath, body); err != nil {
		return InternalError, err
	}
	if c.Executable {
		if err := fsutil.MakeExecutable(c.stagedPath); err != nil {
			return InternalError, err
		}
	}
	if !fsutil.IsWritable(filepath.Dir(c.destAbs)) {
		return UnwritableDestination, fmt.Errorf("create: destination directory not writable: %s", filepath.Dir(c.Dest))
	}
	return OK, nil
}

func (c *Create) Commit() error {
	if err := fsutil.Move(c.stagedPath, c.destAbs); err != nil {
		return err
	}
	c.committed = true
	return nil
}

func (c *Create) Rollback() error {
	if c.committed {
		if err := fsutil.RemoveFile(c.destAbs); err != nil {
			return err
		}
		c.committed = false
		return nil
	}
	if c.stagedPath != "" {
		return fsutil.RemoveFile(c.stagedPath)
	}
	return nil
}

func sanitize(relPath string) string {
	return strings.ReplaceAll(relPath, string(filepath.Separator), "_")
}

func writeFile(path string, body []byte) error {
	if err := fsutil.EnsureDirectory(filepath.Dir(path)); err != nil {
		return err
	}
	return fsutil.WriteNewFile(path, body)
}
