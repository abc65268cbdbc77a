package manifest

import (
	"testing"

	"github.com/patchkeep/patchkeep/perr"
)

const sampleVersionManifest = `<?xml version="1.0"?>
<manifest>
  <identity>
    <file>bin/app</file>
    <file>lib/core.dat</file>
  </identity>
  <release checksum="aaa" initial="true"/>
  <release checksum="bbb" uri="releases/bbb.xml" tag="1.1.0"/>
  <release checksum="ccc" uri="releases/ccc.xml"/>
</manifest>`

func TestParseVersionManifestOrdersReleasesAndMarksInitial(t *testing.T) {
	vm, err := ParseVersionManifest([]byte(sampleVersionManifest))
	if err != nil {
		t.Fatal(err)
	}
	if len(vm.Identity) != 2 || vm.Identity[0].Path != "bin/app" {
		t.Fatalf("unexpected identity map: %+v", vm.Identity)
	}
	if len(vm.Releases) != 3 {
		t.Fatalf("expected 3 releases, got %d", len(vm.Releases))
	}
	if !vm.Releases[0].Initial || vm.Releases[0].URI != "" {
		t.Fatalf("first release should be the initial marker: %+v", vm.Releases[0])
	}
	if vm.Releases[1].Tag != "1.1.0" {
		t.Fatalf("expected tag to survive parsing, got %q", vm.Releases[1].Tag)
	}
}

func TestParseVersionManifestRejectsMultipleInitial(t *testing.T) {
	doc := `<manifest><identity><file>a</file></identity>
	  <release checksum="a" initial="true"/>
	  <release checksum="b" initial="true"/></manifest>`
	_, err := ParseVersionManifest([]byte(doc))
	if !perr.Is(err, perr.KindInvalidManifest) {
		t.Fatalf("expected InvalidManifest, got %v", err)
	}
}

func TestParseVersionManifestRejectsMissingURIOnNonInitial(t *testing.T) {
	doc := `<manifest><identity><file>a</file></identity>
	  <release checksum="a" initial="true"/>
	  <release checksum="b"/></manifest>`
	_, err := ParseVersionManifest([]byte(doc))
	if !perr.Is(err, perr.KindMissingAttribute) {
		t.Fatalf("expected MissingAttribute, got %v", err)
	}
}

func TestParseVersionManifestRejectsPathEscape(t *testing.T) {
	doc := `<manifest><identity><file>../../etc/passwd</file></identity>
	  <release checksum="a" initial="true"/></manifest>`
	_, err := ParseVersionManifest([]byte(doc))
	if !perr.Is(err, perr.KindInvalidManifest) {
		t.Fatalf("expected InvalidManifest for path escape, got %v", err)
	}
}

const sampleReleaseManifest = `<?xml version="1.0"?>
<manifest>
  <release>
    <create>
      <source checksum="c1" size="128">payloads/new.dat</source>
      <destination executable="true">bin/tool</destination>
    </create>
    <update>
      <source checksum="c2" size="64">payloads/patch.dat</source>
      <destination checksum="old1">lib/core.dat</destination>
    </update>
    <rename>
      <source>bin/tool</source>
      <destination>bin/tool.new</destination>
    </rename>
    <delete>
      <source checksum="old2">lib/unused.dat</source>
    </delete>
  </release>
</manifest>`

func TestParseReleaseManifestPreservesOrder(t *testing.T) {
	rm, err := ParseReleaseManifest([]byte(sampleReleaseManifest))
	if err != nil {
		t.Fatal(err)
	}
	if len(rm.Operations) != 4 {
		t.Fatalf("expected 4 operations, got %d", len(rm.Operations))
	}
	kinds := []OperationKind{KindCreate, KindUpdate, KindRename, KindDelete}
	for i, want := range kinds {
		if rm.Operations[i].Kind != want {
			t.Fatalf("operation %d: kind = %v, want %v", i, rm.Operations[i].Kind, want)
		}
	}
	create := rm.Operations[0]
	if !create.Executable || create.DstPath != "bin/tool" || create.SrcSize != 128 {
		t.Fatalf("create operation malformed: %+v", create)
	}
	rename := rm.Operations[2]
	if rename.From != "bin/tool" || rename.To != "bin/tool.new" {
		t.Fatalf("rename operation malformed: %+v", rename)
	}
}

func TestParseReleaseManifestRequiresSourceChecksum(t *testing.T) {
	doc := `<manifest><release><create>
	  <source size="1">payloads/x</source>
	  <destination>bin/x</destination>
	</create></release></manifest>`
	_, err := ParseReleaseManifest([]byte(doc))
	if !perr.Is(err, perr.KindMissingAttribute) {
		t.Fatalf("expected MissingAttribute, got %v", err)
	}
}

func TestParseReleaseManifestRejectsUnknownOperation(t *testing.T) {
	doc := `<manifest><release><transmute/></release></manifest>`
	_, err := ParseReleaseManifest([]byte(doc))
	if !perr.Is(err, perr.KindInvalidManifest) {
		t.Fatalf("expected InvalidManifest for unknown node, got %v", err)
	}
}

func TestParseReleaseManifestRejectsDestinationPathEscape(t *testing.T) {
	doc := `<manifest><release><create>
	  <source checksum="c1" size="1">payloads/x</source>
	  <destination>../outside</destination>
	</create></release></manifest>`
	_, err := ParseReleaseManifest([]byte(doc))
	if !perr.Is(err, perr.KindInvalidManifest) {
		t.Fatalf("expected InvalidManifest for path escape, got %v", err)
	}
}
