// Package manifest parses the version manifest and per-release manifests
// from the wire format described in spec.md §6 into immutable in-memory
// values. The parser is strict about required structure and forgiving only
// for explicitly optional attributes (tag, executable).
package manifest

import (
	"encoding/xml"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/patchkeep/patchkeep/digest"
	"github.com/patchkeep/patchkeep/perr"
)

// IdentityEntry is a template naming a file whose digest contributes to the
// InstalledVersion. Digest is populated later, during Patcher.Identify.
type IdentityEntry struct {
	Path   string
	Digest digest.Digest
}

// ReleaseDescriptor is one entry in the release chain.
type ReleaseDescriptor struct {
	Checksum digest.Digest
	URI      string // empty iff Initial
	Tag      string // optional
	Initial  bool
}

// VersionManifest is the identity map plus the ordered release chain,
// oldest to newest.
type VersionManifest struct {
	Identity []IdentityEntry
	Releases []ReleaseDescriptor
}

// OperationKind tags the variant of an OperationSpec.
type OperationKind int

const (
	KindCreate OperationKind = iota
	KindUpdate
	KindRename
	KindDelete
)

// OperationSpec is the parsed, inert description of one operation in a
// release manifest. The operation package turns these into executable
// Operations with stage/commit/rollback behavior.
type OperationSpec struct {
	Kind OperationKind

	// Create, Update
	SrcChecksum digest.Digest
	SrcSize     uint64
	SrcURI      string
	Executable  bool

	// Create, Update, Delete
	DstPath string

	// Update, Delete
	PreChecksum digest.Digest

	// Rename
	From string
	To   string
}

// ReleaseManifest is the ordered sequence of operations that transforms the
// install tree from the predecessor release to this one.
type ReleaseManifest struct {
	Operations []OperationSpec
}

// --- wire format ---

type xmlVersionManifest struct {
	XMLName  xml.Name `xml:"manifest"`
	Identity struct {
		Files []string `xml:"file"`
	} `xml:"identity"`
	Releases []xmlRelease `xml:"release"`
}

type xmlRelease struct {
	Checksum string `xml:"checksum,attr"`
	URI      string `xml:"uri,attr"`
	Tag      string `xml:"tag,attr"`
	Initial  string `xml:"initial,attr"`
}

type xmlReleaseManifest struct {
	XMLName xml.Name     `xml:"manifest"`
	Release xmlOperation `xml:"release"`
}

// xmlOperation captures all four operation element kinds in declaration
// order. encoding/xml can't preserve ordering across distinct element
// names with a []T per name, so we decode the release node's raw children
// with a generic walker instead — see parseReleaseOperations.
type xmlOperation struct {
	InnerXML []byte `xml:",innerxml"`
}

type xmlSource struct {
	Checksum   string `xml:"checksum,attr"`
	Size       string `xml:"size,attr"`
	Text       string `xml:",chardata"`
}

type xmlDestination struct {
	Checksum   string `xml:"checksum,attr"`
	Executable string `xml:"executable,attr"`
	Text       string `xml:",chardata"`
}

type xmlCreateUpdate struct {
	Source      xmlSource      `xml:"source"`
	Destination xmlDestination `xml:"destination"`
}

type xmlRename struct {
	Source      string `xml:"source"`
	Destination string `xml:"destination"`
}

type xmlDelete struct {
	Source xmlSource `xml:"source"`
}

// ParseVersionManifest parses the document fetched from the configured
// manifest URL.
func ParseVersionManifest(data []byte) (*VersionManifest, error) {
	var raw xmlVersionManifest
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, perr.Wrap(perr.KindInvalidManifest, "version manifest could not be parsed", err)
	}

	if len(raw.Identity.Files) == 0 {
		return nil, perr.InvalidManifest("identity map is either missing or has no entries")
	}

	vm := &VersionManifest{}
	for _, f := range raw.Identity.Files {
		p, err := cleanRelPath(f)
		if err != nil {
			return nil, err
		}
		vm.Identity = append(vm.Identity, IdentityEntry{Path: p})
	}

	if len(raw.Releases) == 0 {
		return nil, perr.InvalidManifest("version manifest has no <release> entries")
	}

	seen := make(map[digest.Digest]bool, len(raw.Releases))
	initialCount := 0
	for _, r := range raw.Releases {
		if r.Checksum == "" {
			return nil, perr.MissingAttribute("version-manifest", "release", "checksum")
		}
		initial := r.Initial == "true"
		if !initial && r.URI == "" {
			return nil, perr.MissingAttribute("version-manifest", "release", "uri")
		}
		if initial && r.URI != "" {
			return nil, perr.InvalidManifest("initial release must not have a uri: " + r.Checksum)
		}
		cs := digest.Digest(r.Checksum)
		if seen[cs] {
			return nil, perr.InvalidManifest("duplicate release checksum in chain: " + r.Checksum)
		}
		seen[cs] = true
		if initial {
			initialCount++
		}
		vm.Releases = append(vm.Releases, ReleaseDescriptor{
			Checksum: cs,
			URI:      r.URI,
			Tag:      r.Tag,
			Initial:  initial,
		})
	}
	if initialCount != 1 {
		return nil, perr.InvalidManifest("exactly one release must have initial=\"true\"")
	}

	return vm, nil
}

// ParseReleaseManifest parses a single release's operation list.
func ParseReleaseManifest(data []byte) (*ReleaseManifest, error) {
	var raw xmlReleaseManifest
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, perr.Wrap(perr.KindInvalidManifest, "release manifest could not be parsed", err)
	}
	ops, err := parseReleaseOperations(raw.Release.InnerXML)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, perr.InvalidManifest("release manifest has no operations")
	}
	return &ReleaseManifest{Operations: ops}, nil
}

// parseReleaseOperations walks the <release> node's children in document
// order so operation ordering (significant per spec.md §4.6) survives
// decoding; encoding/xml's struct-tag decoding alone can't express "a mixed
// sequence of four different element names, order preserved".
func parseReleaseOperations(innerXML []byte) ([]OperationSpec, error) {
	dec := xml.NewDecoder(strings.NewReader("<release>" + string(innerXML) + "</release>"))
	var ops []OperationSpec
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "create":
			var el xmlCreateUpdate
			if err := dec.DecodeElement(&el, &start); err != nil {
				return nil, perr.Wrap(perr.KindInvalidManifest, "malformed <create>", err)
			}
			op, err := buildCreate(el)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		case "update":
			var el xmlCreateUpdate
			if err := dec.DecodeElement(&el, &start); err != nil {
				return nil, perr.Wrap(perr.KindInvalidManifest, "malformed <update>", err)
			}
			op, err := buildUpdate(el)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		case "rename":
			var el xmlRename
			if err := dec.DecodeElement(&el, &start); err != nil {
				return nil, perr.Wrap(perr.KindInvalidManifest, "malformed <rename>", err)
			}
			op, err := buildRename(el)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		case "delete":
			var el xmlDelete
			if err := dec.DecodeElement(&el, &start); err != nil {
				return nil, perr.Wrap(perr.KindInvalidManifest, "malformed <delete>", err)
			}
			op, err := buildDelete(el)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		default:
			return nil, perr.InvalidManifest("unrecognized operation node: <" + start.Name.Local + ">")
		}
	}
	return ops, nil
}

func buildCreate(el xmlCreateUpdate) (OperationSpec, error) {
	if el.Source.Checksum == "" {
		return OperationSpec{}, perr.MissingAttribute("create", "source", "checksum")
	}
	if el.Source.Size == "" {
		return OperationSpec{}, perr.MissingAttribute("create", "source", "size")
	}
	size, err := strconv.ParseUint(strings.TrimSpace(el.Source.Size), 10, 64)
	if err != nil {
		return OperationSpec{}, perr.InvalidManifest("create: malformed size attribute: " + el.Source.Size)
	}
	dst, err := cleanRelPath(el.Destination.Text)
	if err != nil {
		return OperationSpec{}, err
	}
	return OperationSpec{
		Kind:        KindCreate,
		SrcChecksum: digest.Digest(el.Source.Checksum),
		SrcSize:     size,
		SrcURI:      strings.TrimSpace(el.Source.Text),
		DstPath:     dst,
		Executable:  el.Destination.Executable == "true",
	}, nil
}

func buildUpdate(el xmlCreateUpdate) (OperationSpec, error) {
	if el.Source.Checksum == "" {
		return OperationSpec{}, perr.MissingAttribute("update", "source", "checksum")
	}
	if el.Source.Size == "" {
		return OperationSpec{}, perr.MissingAttribute("update", "source", "size")
	}
	if el.Destination.Checksum == "" {
		return OperationSpec{}, perr.MissingAttribute("update", "destination", "checksum")
	}
	size, err := strconv.ParseUint(strings.TrimSpace(el.Source.Size), 10, 64)
	if err != nil {
		return OperationSpec{}, perr.InvalidManifest("update: malformed size attribute: " + el.Source.Size)
	}
	dst, err := cleanRelPath(el.Destination.Text)
	if err != nil {
		return OperationSpec{}, err
	}
	return OperationSpec{
		Kind:        KindUpdate,
		SrcChecksum: digest.Digest(el.Source.Checksum),
		SrcSize:     size,
		SrcURI:      strings.TrimSpace(el.Source.Text),
		DstPath:     dst,
		PreChecksum: digest.Digest(el.Destination.Checksum),
		Executable:  el.Destination.Executable == "true",
	}, nil
}

func buildRename(el xmlRename) (OperationSpec, error) {
	if strings.TrimSpace(el.Source) == "" {
		return OperationSpec{}, perr.MissingNode("rename", "rename", "source")
	}
	if strings.TrimSpace(el.Destination) == "" {
		return OperationSpec{}, perr.MissingNode("rename", "rename", "destination")
	}
	from, err := cleanRelPath(el.Source)
	if err != nil {
		return OperationSpec{}, err
	}
	to, err := cleanRelPath(el.Destination)
	if err != nil {
		return OperationSpec{}, err
	}
	return OperationSpec{Kind: KindRename, From: from, To: to}, nil
}

func buildDelete(el xmlDelete) (OperationSpec, error) {
	if el.Source.Checksum == "" {
		return OperationSpec{}, perr.MissingAttribute("delete", "source", "checksum")
	}
	path, err := cleanRelPath(el.Source.Text)
	if err != nil {
		return OperationSpec{}, err
	}
	return OperationSpec{
		Kind:        KindDelete,
		DstPath:     path,
		PreChecksum: digest.Digest(el.Source.Checksum),
	}, nil
}

// cleanRelPath normalizes a manifest-declared path and rejects anything
// that would resolve outside the install root (spec.md §6: "All paths
// outside root that appear in any manifest are rejected").
func cleanRelPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", perr.InvalidManifest("empty path in manifest")
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", perr.InvalidManifest("path escapes install root: " + p)
	}
	return clean, nil
}
