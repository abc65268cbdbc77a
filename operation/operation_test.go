package operation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/patchkeep/patchkeep/digest"
	"github.com/patchkeep/patchkeep/resource"
)

func newDeps(t *testing.T) (Deps, *resource.Fake) {
	t.Helper()
	root := t.TempDir()
	cache := t.TempDir()
	fake := resource.NewFake(root, cache)
	hasher := digest.New(digest.SHA256())
	staging := filepath.Join(cache, "stage")
	if err := os.MkdirAll(staging, 0o750); err != nil {
		t.Fatal(err)
	}
	return Deps{Manager: fake, Hasher: hasher, StagingDir: staging}, fake
}

func TestCreateStageCommit(t *testing.T) {
	deps, fake := newDeps(t)
	hasher := deps.Hasher
	payload := []byte("hello world")
	fake.Remotes["payloads/a"] = string(payload)

	op := NewCreate(deps, "payloads/a", hasher.Bytes(payload), "bin/app", true)
	res, err := op.Stage(context.Background())
	if err != nil || res != OK {
		t.Fatalf("stage: %v %v", res, err)
	}
	if err := op.Commit(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(deps.Manager.RootPath(), "bin/app"))
	if err != nil || string(got) != "hello world" {
		t.Fatalf("unexpected committed content: %v %q", err, got)
	}
	info, _ := os.Stat(filepath.Join(deps.Manager.RootPath(), "bin/app"))
	if info.Mode()&0o111 == 0 {
		t.Fatalf("expected executable bit set")
	}
}

func TestCreateStageFailsIfDestinationExists(t *testing.T) {
	deps, fake := newDeps(t)
	os.MkdirAll(filepath.Join(deps.Manager.RootPath(), "bin"), 0o750)
	os.WriteFile(filepath.Join(deps.Manager.RootPath(), "bin/app"), []byte("existing"), 0o644)
	fake.Remotes["payloads/a"] = "new"

	op := NewCreate(deps, "payloads/a", deps.Hasher.Bytes([]byte("new")), "bin/app", false)
	res, err := op.Stage(context.Background())
	if res != FileExists || err == nil {
		t.Fatalf("expected FileExists, got %v %v", res, err)
	}
}

func TestCreateStageDetectsIntegrityMismatch(t *testing.T) {
	deps, fake := newDeps(t)
	fake.Remotes["payloads/a"] = "actual content"

	op := NewCreate(deps, "payloads/a", digest.Digest("deadbeef"), "bin/app", false)
	res, err := op.Stage(context.Background())
	if res != IntegrityMismatch || err == nil {
		t.Fatalf("expected IntegrityMismatch, got %v %v", res, err)
	}
}

func TestCreateRollbackAfterCommitRemovesDestination(t *testing.T) {
	deps, fake := newDeps(t)
	payload := []byte("payload")
	fake.Remotes["payloads/a"] = string(payload)

	op := NewCreate(deps, "payloads/a", deps.Hasher.Bytes(payload), "bin/app", false)
	if res, err := op.Stage(context.Background()); res != OK || err != nil {
		t.Fatalf("stage: %v %v", res, err)
	}
	if err := op.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := op.Rollback(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(deps.Manager.RootPath(), "bin/app")); !os.IsNotExist(err) {
		t.Fatalf("expected destination removed after rollback")
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	deps, fake := newDeps(t)
	root := deps.Manager.RootPath()
	os.WriteFile(filepath.Join(root, "lib.dat"), []byte("v1"), 0o644)
	fake.Remotes["payloads/v2"] = "v2"

	op := NewUpdate(deps, "payloads/v2", deps.Hasher.Bytes([]byte("v2")), "lib.dat", deps.Hasher.Bytes([]byte("v1")), false)
	res, err := op.Stage(context.Background())
	if res != OK || err != nil {
		t.Fatalf("stage: %v %v", res, err)
	}
	if err := op.Commit(); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(filepath.Join(root, "lib.dat"))
	if string(got) != "v2" {
		t.Fatalf("expected v2 after commit, got %q", got)
	}
	if err := op.Rollback(); err != nil {
		t.Fatal(err)
	}
	got, _ = os.ReadFile(filepath.Join(root, "lib.dat"))
	if string(got) != "v1" {
		t.Fatalf("expected v1 restored after rollback, got %q", got)
	}
}

func TestUpdateStageRejectsWrongPreChecksum(t *testing.T) {
	deps, fake := newDeps(t)
	root := deps.Manager.RootPath()
	os.WriteFile(filepath.Join(root, "lib.dat"), []byte("unexpected"), 0o644)
	fake.Remotes["payloads/v2"] = "v2"

	op := NewUpdate(deps, "payloads/v2", deps.Hasher.Bytes([]byte("v2")), "lib.dat", digest.Digest("wrongchecksum"), false)
	res, err := op.Stage(context.Background())
	if res != IntegrityMismatch || err == nil {
		t.Fatalf("expected IntegrityMismatch, got %v %v", res, err)
	}
}

func TestRenameRoundTrip(t *testing.T) {
	deps, _ := newDeps(t)
	root := deps.Manager.RootPath()
	os.WriteFile(filepath.Join(root, "old.txt"), []byte("x"), 0o644)

	op := NewRename(deps, "old.txt", "new.txt")
	if res, err := op.Stage(context.Background()); res != OK || err != nil {
		t.Fatalf("stage: %v %v", res, err)
	}
	if err := op.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "new.txt")); err != nil {
		t.Fatalf("expected renamed file present: %v", err)
	}
	if err := op.Rollback(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "old.txt")); err != nil {
		t.Fatalf("expected rollback to restore original path: %v", err)
	}
}

func TestDeleteRoundTrip(t *testing.T) {
	deps, _ := newDeps(t)
	root := deps.Manager.RootPath()
	os.WriteFile(filepath.Join(root, "gone.txt"), []byte("bye"), 0o644)

	op := NewDelete(deps, "gone.txt", deps.Hasher.Bytes([]byte("bye")))
	if res, err := op.Stage(context.Background()); res != OK || err != nil {
		t.Fatalf("stage: %v %v", res, err)
	}
	if err := op.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "gone.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected file removed after commit")
	}
	if err := op.Rollback(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(root, "gone.txt"))
	if err != nil || string(got) != "bye" {
		t.Fatalf("expected rollback to restore content, got %v %q", err, got)
	}
}

func TestDeleteStageMissingTarget(t *testing.T) {
	deps, _ := newDeps(t)
	op := NewDelete(deps, "absent.txt", digest.Digest("whatever"))
	res, err := op.Stage(context.Background())
	if res != FileMissing || err == nil {
		t.Fatalf("expected FileMissing, got %v %v", res, err)
	}
}
