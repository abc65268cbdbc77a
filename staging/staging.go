// Package staging manages the scratch directory a Patcher uses while
// applying a single release: every Operation's downloaded payloads and
// backup copies live there until the release either commits fully (the
// area is then discarded) or fails and rolls back (discarded after).
package staging

import (
	"path/filepath"
	"strings"

	"github.com/patchkeep/patchkeep/digest"
	"github.com/patchkeep/patchkeep/fsutil"
	"github.com/patchkeep/patchkeep/resource"
)

// dirPrefix marks a directory under the cache root as a StagingArea, so a
// crash-recovery sweep (see package gc) can recognize and reclaim orphans
// left behind by a process that died mid-release.
const dirPrefix = "staging-"

// Area is one release's scratch space: Manager.CachePath()/staging-<checksum>,
// with the checksum cut to its first 32 characters.
type Area struct {
	manager resource.Manager
	path    string
}

// Open creates (or reopens) the staging area for the release identified by
// checksum.
func Open(manager resource.Manager, checksum digest.Digest) (*Area, error) {
	dir := filepath.Join(manager.CachePath(), dirPrefix+sanitizeChecksum(checksum))
	if err := fsutil.EnsureDirectory(dir); err != nil {
		return nil, err
	}
	return &Area{manager: manager, path: dir}, nil
}

// Path returns the staging area's directory.
func (a *Area) Path() string { return a.path }

// Discard removes the staging area and everything in it. Safe to call
// whether the release committed, rolled back, or never got that far.
func (a *Area) Discard() error {
	return fsutil.RemoveDirectoryRecursive(a.path)
}

func sanitizeChecksum(d digest.Digest) string {
	s := string(d)
	if len(s) > 32 {
		s = s[:32]
	}
	if s == "" {
		return "unknown"
	}
	return s
}

// IsStagingDir reports whether name (a directory basename, not a full
// path) looks like a staging area left by this package.
func IsStagingDir(name string) bool {
	return strings.HasPrefix(name, dirPrefix)
}
