// Package patcher implements the engine that drives a release chain:
// identifying the installed version from a set of well-known files,
// checking for a newer release, and applying the next release's
// operations as a single all-or-nothing step. Fetch and verify happen
// before any commit; the staging directory is cleaned up only after the
// outcome is final.
package patcher

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/projecteru2/core/log"

	"github.com/patchkeep/patchkeep/digest"
	"github.com/patchkeep/patchkeep/manifest"
	"github.com/patchkeep/patchkeep/operation"
	"github.com/patchkeep/patchkeep/perr"
	"github.com/patchkeep/patchkeep/resource"
	"github.com/patchkeep/patchkeep/staging"
)

// State names where a Patcher sits in its lifecycle. Concurrent calls into
// a single Patcher are not supported; callers serialize access (typically
// via the install-root flock in package lock).
type State int

const (
	StateIdle State = iota
	StateStaging
	StateCommitting
	StateRollingBack
	StateApplied
	StateReverted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStaging:
		return "Staging"
	case StateCommitting:
		return "Committing"
	case StateRollingBack:
		return "RollingBack"
	case StateApplied:
		return "Applied"
	case StateReverted:
		return "Reverted"
	default:
		return "Unknown"
	}
}

// Patcher drives identification and sequential application of a release
// chain against a single install tree.
type Patcher struct {
	manager resource.Manager
	hasher  *digest.Hasher

	mu      sync.Mutex
	state   State
	vm      *manifest.VersionManifest
	current digest.Digest // installed version, valid once identified
}

// New constructs a Patcher over manager using hasher to verify and identify
// content. manager.RootPath/CachePath are used as-is; callers are
// responsible for creating them (see fsutil.EnsureDirectory, config.EnsureDirs).
func New(manager resource.Manager, hasher *digest.Hasher) *Patcher {
	return &Patcher{manager: manager, hasher: hasher, state: StateIdle}
}

// State reports the Patcher's current lifecycle state.
func (p *Patcher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Version returns the currently installed version's digest. Valid only
// after a successful Identify.
func (p *Patcher) Version() digest.Digest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Identify fetches the version manifest from manifestURI, then computes the
// installed version by hashing every file the identity map names and
// matching the result against the manifest's release chain.
func (p *Patcher) Identify(ctx context.Context, manifestURI string) error {
	logger := log.WithFunc("patcher.Identify")

	body, err := p.manager.Get(ctx, manifestURI)
	if err != nil {
		return err
	}
	vm, err := manifest.ParseVersionManifest(body)
	if err != nil {
		return err
	}
	for _, r := range vm.Releases {
		if r.Tag == "" {
			logger.Warnf(ctx, "release %s has no tag attribute", r.Checksum)
		}
	}

	digests, err := hashIdentityFiles(ctx, p.manager, p.hasher, vm.Identity)
	if err != nil {
		return err
	}
	for i := range vm.Identity {
		vm.Identity[i].Digest = digests[i]
	}
	installed := combineIdentityDigests(p.hasher, digests)

	matched := false
	for _, r := range vm.Releases {
		if r.Checksum.Equal(installed) {
			matched = true
			break
		}
	}
	if !matched {
		return perr.IntegrityViolation(fmt.Sprintf("installed version %s does not match any release in the chain", installed))
	}

	p.mu.Lock()
	p.vm = vm
	p.current = installed
	p.state = StateIdle
	p.mu.Unlock()

	logger.Infof(ctx, "identified installed version %s (%d releases known)", installed, len(vm.Releases))
	return nil
}

// hashIdentityFiles computes the digest of every identity-map file
// concurrently (golang.org/x/sync/errgroup, bounded by NumCPU) while
// preserving declared order in the returned slice: results[i] is always
// the digest of entries[i], regardless of completion order.
func hashIdentityFiles(ctx context.Context, manager resource.Manager, hasher *digest.Hasher, entries []manifest.IdentityEntry) ([]digest.Digest, error) {
	results := make([]digest.Digest, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, e := range entries {
		idx, path := i, e.Path
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			if !manager.IsReadable(path) {
				return perr.IntegrityViolation("identity file missing or unreadable: " + path)
			}
			body, err := manager.LoadFile(path)
			if err != nil {
				return perr.IntegrityViolation("identity file unreadable: " + path)
			}
			results[idx] = hasher.Bytes(body)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// combineIdentityDigests folds the per-file digests into a single
// InstalledVersion digest: hash(concat(identity_entry_digests in manifest
// order)), per spec.md §3 — the raw digest strings only, no path or
// separator, matching original_source/src/patcher.cpp's `checksums +=
// id->checksum`.
func combineIdentityDigests(hasher *digest.Hasher, digests []digest.Digest) digest.Digest {
	var sb strings.Builder
	for _, d := range digests {
		sb.WriteString(string(d))
	}
	return hasher.Bytes([]byte(sb.String()))
}

// IsUpdateAvailable reports whether a release newer than the installed
// version exists in the chain. Requires a prior successful Identify.
func (p *Patcher) IsUpdateAvailable() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vm == nil {
		return false, perr.InvalidState("IsUpdateAvailable called before Identify")
	}
	idx := releaseIndex(p.vm, p.current)
	if idx < 0 {
		return false, perr.IntegrityViolation("installed version no longer matches the release chain")
	}
	return idx < len(p.vm.Releases)-1, nil
}

func releaseIndex(vm *manifest.VersionManifest, v digest.Digest) int {
	for i, r := range vm.Releases {
		if r.Checksum.Equal(v) {
			return i
		}
	}
	return -1
}

// ApplyNextUpdate applies exactly the one release immediately following the
// installed version — never the whole remaining chain — per the chain's
// declared order. It returns (true, nil) on a successful application,
// (false, nil) when already up to date, and a non-nil error (with the
// install tree left exactly as found) for any failure.
func (p *Patcher) ApplyNextUpdate(ctx context.Context) (bool, error) {
	logger := log.WithFunc("patcher.ApplyNextUpdate")

	p.mu.Lock()
	if p.vm == nil {
		p.mu.Unlock()
		return false, perr.InvalidState("ApplyNextUpdate called before Identify")
	}
	idx := releaseIndex(p.vm, p.current)
	if idx < 0 {
		p.mu.Unlock()
		return false, perr.IntegrityViolation("installed version no longer matches the release chain")
	}
	if idx >= len(p.vm.Releases)-1 {
		p.mu.Unlock()
		return false, nil
	}
	next := p.vm.Releases[idx+1]
	vm := p.vm
	p.state = StateStaging
	p.mu.Unlock()

	logger.Infof(ctx, "applying release %s", next.Checksum)

	area, err := staging.Open(p.manager, next.Checksum)
	if err != nil {
		p.setState(StateIdle)
		return false, err
	}
	defer area.Discard() //nolint:errcheck

	body, err := p.manager.Get(ctx, next.URI)
	if err != nil {
		p.setState(StateIdle)
		return false, err
	}
	rm, err := manifest.ParseReleaseManifest(body)
	if err != nil {
		p.setState(StateIdle)
		return false, err
	}

	ops := make([]operation.Operation, 0, len(rm.Operations))
	deps := operation.Deps{Manager: p.manager, Hasher: p.hasher, StagingDir: area.Path()}
	for _, spec := range rm.Operations {
		ops = append(ops, build(deps, spec))
	}

	staged := 0
	for _, op := range ops {
		// Cancellation is honored between operations while staging: no
		// payload has been fetched for op yet, so aborting here costs
		// nothing already in flight.
		if ctx.Err() != nil {
			logger.Infof(ctx, "cancellation observed before staging %s, rolling back release %s", op, next.Checksum)
			p.rollback(ctx, ops[:staged])
			p.setState(StateIdle)
			return false, fmt.Errorf("apply cancelled: %w", ctx.Err())
		}
		res, stageErr := op.Stage(ctx)
		if res != operation.OK {
			logger.Infof(ctx, "staging %s failed: %s", op, res)
			p.rollback(ctx, ops[:staged])
			p.setState(StateIdle)
			return false, perr.Newf(stageErrKind(res), "staging %s: %s", op, res)
		}
		if stageErr != nil {
			p.rollback(ctx, ops[:staged])
			p.setState(StateIdle)
			return false, stageErr
		}
		staged++
	}

	p.setState(StateCommitting)
	committed := 0
	for _, op := range ops {
		if err := op.Commit(); err != nil {
			logger.Infof(ctx, "commit of %s failed, rolling back release %s", op, next.Checksum)
			p.rollback(ctx, ops[:committed+1]) // include the operation that failed to commit
			p.setState(StateIdle)
			return false, perr.Wrap(perr.KindInternal, "commit failed for "+op.String(), err)
		}
		committed++
		// A single commit's atomicity is never interrupted, but once it
		// returns we honor cancellation before starting the next one.
		if ctx.Err() != nil {
			logger.Infof(ctx, "cancellation observed after committing %s, rolling back release %s", op, next.Checksum)
			p.rollback(ctx, ops[:committed])
			p.setState(StateIdle)
			return false, fmt.Errorf("apply cancelled: %w", ctx.Err())
		}
	}

	newVersion, err := p.recomputeVersion(ctx, vm)
	if err != nil {
		// The tree now reflects the new release but we could not verify it;
		// surface the rehash error rather than silently trusting next.Checksum.
		p.setState(StateIdle)
		return false, err
	}
	if !newVersion.Equal(next.Checksum) {
		p.setState(StateIdle)
		return false, perr.IntegrityViolation(fmt.Sprintf("post-commit identity %s does not match declared release checksum %s", newVersion, next.Checksum))
	}

	p.mu.Lock()
	p.current = newVersion
	p.state = StateApplied
	p.mu.Unlock()

	logger.Infof(ctx, "release %s applied, installed version now %s", next.Checksum, newVersion)
	return true, nil
}

// rollback undoes ops in reverse order. It always runs to completion: a
// failure undoing one operation is logged, not returned, so every
// remaining operation still gets its chance to roll back.
func (p *Patcher) rollback(ctx context.Context, ops []operation.Operation) {
	logger := log.WithFunc("patcher.rollback")
	p.setState(StateRollingBack)
	for i := len(ops) - 1; i >= 0; i-- {
		if err := ops[i].Rollback(); err != nil {
			logger.Warnf(ctx, "rollback of %s failed: %v", ops[i], err)
		}
	}
	p.setState(StateReverted)
}

func (p *Patcher) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Patcher) recomputeVersion(ctx context.Context, vm *manifest.VersionManifest) (digest.Digest, error) {
	digests, err := hashIdentityFiles(ctx, p.manager, p.hasher, vm.Identity)
	if err != nil {
		return digest.Empty, err
	}
	return combineIdentityDigests(p.hasher, digests), nil
}

func stageErrKind(res operation.StageResult) perr.Kind {
	switch res {
	case operation.IntegrityMismatch:
		return perr.KindIntegrityViolation
	case operation.FileExists, operation.FileMissing, operation.UnwritableDestination, operation.UnreachableSource:
		return perr.KindInvalidState
	default:
		return perr.KindInternal
	}
}

func build(deps operation.Deps, spec manifest.OperationSpec) operation.Operation {
	switch spec.Kind {
	case manifest.KindCreate:
		return operation.NewCreate(deps, spec.SrcURI, spec.SrcChecksum, spec.DstPath, spec.Executable)
	case manifest.KindUpdate:
		return operation.NewUpdate(deps, spec.SrcURI, spec.SrcChecksum, spec.DstPath, spec.PreChecksum, spec.Executable)
	case manifest.KindRename:
		return operation.NewRename(deps, spec.From, spec.To)
	case manifest.KindDelete:
		return operation.NewDelete(deps, spec.DstPath, spec.PreChecksum)
	default:
		panic("patcher: unknown operation kind")
	}
}
