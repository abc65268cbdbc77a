package resource

import (
	"context"
	"testing"

	"github.com/patchkeep/patchkeep/perr"
)

func TestFakeGetBySuffix(t *testing.T) {
	f := NewFake(t.TempDir(), t.TempDir())
	f.Remotes["releases/1.xml"] = "<manifest/>"
	body, err := f.Get(context.Background(), "https://updates.example.com/releases/1.xml")
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "<manifest/>" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestFakeGetUnknownIsInvalidResource(t *testing.T) {
	f := NewFake(t.TempDir(), t.TempDir())
	_, err := f.Get(context.Background(), "nope.xml")
	if !perr.Is(err, perr.KindInvalidResource) {
		t.Fatalf("expected InvalidResource, got %v", err)
	}
}

func TestFakeLoadFileAndIsReadable(t *testing.T) {
	f := NewFake(t.TempDir(), t.TempDir())
	f.Local["bin/app"] = "payload"
	if !f.IsReadable("bin/app") {
		t.Fatalf("expected bin/app to be readable")
	}
	body, err := f.LoadFile("bin/app")
	if err != nil || string(body) != "payload" {
		t.Fatalf("unexpected: %v %q", err, body)
	}
	if f.IsReadable("missing") {
		t.Fatalf("missing file should not be readable")
	}
}

func TestFakeCreateTempDirectoryIsUnique(t *testing.T) {
	f := NewFake(t.TempDir(), t.TempDir())
	a, err := f.CreateTempDirectory("stage")
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.CreateTempDirectory("stage")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("expected distinct staging directories, got %s twice", a)
	}
}
