package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDirectoryIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	if err := EnsureDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if err := EnsureDirectory(dir); err != nil {
		t.Fatalf("second call should be idempotent: %v", err)
	}
	if !IsReadable(dir) {
		t.Fatalf("expected directory to be readable")
	}
}

func TestIsReadableMissingFile(t *testing.T) {
	if IsReadable(filepath.Join(t.TempDir(), "nope")) {
		t.Fatalf("missing file should not be readable")
	}
}

func TestMoveFailsIfDestinationExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	os.WriteFile(src, []byte("a"), 0o644)
	os.WriteFile(dst, []byte("b"), 0o644)
	if err := Move(src, dst); err == nil {
		t.Fatalf("expected error when destination exists")
	}
}

func TestMoveFailsIfSourceMissing(t *testing.T) {
	dir := t.TempDir()
	if err := Move(filepath.Join(dir, "nope"), filepath.Join(dir, "dst")); err == nil {
		t.Fatalf("expected error when source missing")
	}
}

func TestMoveSucceeds(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "nested", "dst")
	os.WriteFile(src, []byte("payload"), 0o644)
	if err := Move(src, dst); err != nil {
		t.Fatal(err)
	}
	if IsReadable(src) {
		t.Fatalf("source should be gone after move")
	}
	data, err := LoadFile(dst)
	if err != nil || string(data) != "payload" {
		t.Fatalf("destination content wrong: %v %q", err, data)
	}
}

func TestReplaceOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	os.WriteFile(src, []byte("new"), 0o644)
	os.WriteFile(dst, []byte("old"), 0o644)
	if err := Replace(src, dst); err != nil {
		t.Fatal(err)
	}
	data, _ := LoadFile(dst)
	if string(data) != "new" {
		t.Fatalf("expected overwritten content, got %q", data)
	}
}

func TestCopyFilePreservesSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "backup", "src.bak")
	os.WriteFile(src, []byte("keep me"), 0o644)
	if err := CopyFile(src, dst); err != nil {
		t.Fatal(err)
	}
	if !IsReadable(src) {
		t.Fatalf("source should still exist after copy")
	}
	data, _ := LoadFile(dst)
	if string(data) != "keep me" {
		t.Fatalf("copy content mismatch: %q", data)
	}
}

func TestMakeExecutableSetsBits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bin")
	os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644)
	if err := MakeExecutable(path); err != nil {
		t.Fatal(err)
	}
	info, _ := os.Stat(path)
	if info.Mode()&0o111 == 0 {
		t.Fatalf("expected execute bits set, got %v", info.Mode())
	}
}

func TestWriteNewFileFailsIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := WriteNewFile(path, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := WriteNewFile(path, []byte("b")); err == nil {
		t.Fatalf("expected error writing over an existing file")
	}
}

func TestRemoveFileMissingIsNotError(t *testing.T) {
	if err := RemoveFile(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Fatalf("removing a missing file should not error: %v", err)
	}
}
