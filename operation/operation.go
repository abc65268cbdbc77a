// Package operation implements the four executable operation kinds a
// release manifest can declare — Create, Update, Rename, Delete — each as
// a Stage/Commit/Rollback triple. Staging downloads and verifies without
// touching the install tree; Commit performs the one filesystem mutation
// that makes the change visible; Rollback undoes a Commit (or a partial
// Stage) so a failed release leaves the tree exactly as it found it.
package operation

import (
	"context"

	"github.com/patchkeep/patchkeep/digest"
	"github.com/patchkeep/patchkeep/resource"
)

// StageResult classifies the outcome of a Stage call. Only OK permits the
// Patcher to proceed to Commit; every other value aborts the release and
// triggers rollback of everything staged (and committed) so far.
type StageResult int

const (
	// OK means staging succeeded and the operation is ready to commit.
	OK StageResult = iota
	// FileExists means an operation that requires an absent destination
	// (Create, Rename's target) found one already present.
	FileExists
	// FileMissing means an operation that requires a present source
	// (Rename's source, Update/Delete's destination) found none.
	FileMissing
	// IntegrityMismatch means a file's digest did not match the manifest's
	// declared checksum — either the fetched payload or the pre-existing
	// destination being updated/deleted.
	IntegrityMismatch
	// UnwritableDestination means the destination path (or its parent) is
	// not writable.
	UnwritableDestination
	// UnreachableSource means the payload could not be fetched.
	UnreachableSource
	// InternalError means an unexpected local I/O failure occurred.
	InternalError
)

func (r StageResult) String() string {
	switch r {
	case OK:
		return "OK"
	case FileExists:
		return "FileExists"
	case FileMissing:
		return "FileMissing"
	case IntegrityMismatch:
		return "IntegrityMismatch"
	case UnwritableDestination:
		return "UnwritableDestination"
	case UnreachableSource:
		return "UnreachableSource"
	case InternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Operation is one reversible step of a release. Implementations must
// satisfy: Commit is only ever called after a Stage that returned OK;
// Rollback is safe to call after Stage alone, after Stage+Commit, or not
// at all (a no-op Rollback on a never-staged Operation must not panic).
type Operation interface {
	// Stage prepares the operation without mutating the install tree:
	// fetching and verifying payloads, checking preconditions.
	Stage(ctx context.Context) (StageResult, error)
	// Commit performs the operation's single filesystem mutation. Only
	// called when Stage returned OK.
	Commit() error
	// Rollback undoes whatever Stage and, if reached, Commit did.
	Rollback() error
	// String names the operation for logging.
	String() string
}

// Deps bundles the collaborators every concrete Operation needs: a
// resource.Manager to reach payloads and the install tree, and a
// digest.Hasher to verify content against manifest-declared checksums.
type Deps struct {
	Manager    resource.Manager
	Hasher     *digest.Hasher
	StagingDir string
}
