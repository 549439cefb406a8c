// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"fmt"
	"io"
)

// ObjectKind identifies one of the four object variants stored in the
// object store.
type ObjectKind uint8

const (
	KindBlob ObjectKind = iota
	KindTree
	KindPackage
	KindSpec
)

// String renders the kind's on-disk file extension.
func (k ObjectKind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	case KindPackage:
		return "pkg"
	case KindSpec:
		return "spec"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseObjectKind parses a file-extension tag back into an ObjectKind.
func ParseObjectKind(s string) (ObjectKind, error) {
	switch s {
	case "blob":
		return KindBlob, nil
	case "tree":
		return KindTree, nil
	case "pkg":
		return KindPackage, nil
	case "spec":
		return KindSpec, nil
	default:
		return 0, fmt.Errorf("%w: unknown object kind %q", ErrParse, s)
	}
}

// blobTag and execTag are the domain-separation prefixes hashed ahead of a
// blob's content, so a non-executable and executable blob with identical
// bytes get different IDs.
const (
	blobTag = "blob:"
	execTag = "exec:"
	treeTag = "tree:"
	pkgTag  = "pkg:"
	specTag = "spec:"
)

// Object is implemented by every object variant. ObjectId recomputes the
// content hash; Kind reports which variant this is.
type Object interface {
	ObjectId() ObjectId
	Kind() ObjectKind
}

// Blob is an immutable byte sequence plus an executable bit. It is backed
// either by an in-memory byte slice (NewBlob) or by a reader opener such as
// a stored object file or a PagedBuffer (NewBlobFromReader); both present
// the same stream through Open.
type Blob struct {
	IsExecutable bool
	open         func() (io.ReadCloser, error)
	size         int64
	data         []byte // set when the blob is small enough to hold inline
}

// NewBlob constructs an in-memory Blob from data.
func NewBlob(data []byte, isExecutable bool) *Blob {
	return &Blob{IsExecutable: isExecutable, data: data, size: int64(len(data))}
}

// NewBlobFromReader constructs a Blob backed by a lazily-opened reader, for
// content too large to hold as a single byte slice. open must return a fresh
// reader on every call since the blob may be read more than once (e.g. to
// hash it, then to persist it).
func NewBlobFromReader(open func() (io.ReadCloser, error), size int64, isExecutable bool) *Blob {
	return &Blob{IsExecutable: isExecutable, open: open, size: size}
}

// Size returns the blob's content length in bytes.
func (b *Blob) Size() int64 {
	return b.size
}

// Open returns a fresh reader over the blob's content.
func (b *Blob) Open() (io.ReadCloser, error) {
	if b.open != nil {
		return b.open()
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Kind implements Object.
func (b *Blob) Kind() ObjectKind { return KindBlob }

// header returns the domain-separation tag for this blob's executable bit.
func (b *Blob) header() []byte {
	if b.IsExecutable {
		return []byte(execTag)
	}
	return []byte(blobTag)
}

// ObjectId implements Object by streaming the blob through a HashWriter.
// For large blobs this avoids holding two copies of the content in memory.
func (b *Blob) ObjectId() ObjectId {
	r, err := b.Open()
	if err != nil {
		return ZeroID
	}
	defer r.Close()

	hw := NewHashWriter(io.Discard, b.header())
	_, _ = io.Copy(hw, r)
	return hw.ObjectId()
}

// EntryKind tags the variant of a Tree entry.
type EntryKind string

const (
	EntryTree    EntryKind = "Tree"
	EntryBlob    EntryKind = "Blob"
	EntrySymlink EntryKind = "Symlink"
)

// Entry is one named child of a Tree: a subdirectory, a file, or a symlink.
type Entry struct {
	Type   EntryKind `json:"type"`
	ID     ObjectId  `json:"id,omitempty"`
	Target string    `json:"target,omitempty"`
}

// TreeEntry constructs a Tree-kind Entry referencing another Tree.
func TreeEntry(id ObjectId) Entry { return Entry{Type: EntryTree, ID: id} }

// BlobEntry constructs a Blob-kind Entry referencing a Blob.
func BlobEntry(id ObjectId) Entry { return Entry{Type: EntryBlob, ID: id} }

// SymlinkEntry constructs a Symlink-kind Entry with a verbatim target path.
func SymlinkEntry(target string) Entry { return Entry{Type: EntrySymlink, Target: target} }

// Tree is an ordered mapping from entry name to Entry. Serialization always
// sorts by name, so two Trees with the same entries hash identically
// regardless of construction order.
type Tree struct {
	Entries map[string]Entry `json:"entries"`
}

// NewTree constructs an empty Tree.
func NewTree() *Tree {
	return &Tree{Entries: make(map[string]Entry)}
}

// Kind implements Object.
func (t *Tree) Kind() ObjectKind { return KindTree }

// ObjectId implements Object: H("tree:" || canonical_json(t)).
func (t *Tree) ObjectId() ObjectId {
	body, err := canonicalJSON(t)
	if err != nil {
		panic(fmt.Sprintf("store: tree is not JSON-encodable: %v", err))
	}
	h := NewHasher()
	h.Update([]byte(treeTag))
	h.Update(body)
	return h.Finish()
}

// References returns the (id, kind) pairs this tree directly points to:
// subtrees and blobs, but not symlinks (which carry no object reference).
func (t *Tree) References() []NodeRef {
	refs := make([]NodeRef, 0, len(t.Entries))
	for _, e := range t.Entries {
		switch e.Type {
		case EntryTree:
			refs = append(refs, NodeRef{ID: e.ID, Kind: KindTree})
		case EntryBlob:
			refs = append(refs, NodeRef{ID: e.ID, Kind: KindBlob})
		}
	}
	return refs
}

// Package is a named, platform-tagged unit referencing a root Tree, a set of
// runtime Package dependencies, and a map of self-referential placeholder
// patch offsets.
type Package struct {
	Name           string                `json:"name"`
	System         Platform              `json:"system"`
	References     []ObjectId            `json:"references"`
	SelfReferences map[ObjectId][]uint64 `json:"self_references"`
	Tree           ObjectId              `json:"tree"`
}

// NewPackage constructs a Package, normalizing nil slices/maps to empty so
// canonical JSON always includes "references": [] rather than null.
func NewPackage(name string, system Platform, tree ObjectId, references []ObjectId, selfReferences map[ObjectId][]uint64) *Package {
	if references == nil {
		references = []ObjectId{}
	}
	if selfReferences == nil {
		selfReferences = map[ObjectId][]uint64{}
	}
	return &Package{Name: name, System: system, References: references, SelfReferences: selfReferences, Tree: tree}
}

// Kind implements Object.
func (p *Package) Kind() ObjectKind { return KindPackage }

// ObjectId implements Object: H("pkg:" || canonical_json(p)). Object does
// not allow ObjectId to return an error, and a well-typed Package always
// encodes, so a canonicalJSON failure here means the type itself is broken.
// That is a programmer error, not something to mask as a bogus hash.
func (p *Package) ObjectId() ObjectId {
	body, err := canonicalJSON(p)
	if err != nil {
		panic(fmt.Sprintf("store: package is not JSON-encodable: %v", err))
	}
	h := NewHasher()
	h.Update([]byte(pkgTag))
	h.Update(body)
	return h.Finish()
}

// InstallName returns the "<name>-<id>" directory name used under
// packages/.
func (p *Package) InstallName() string {
	return FormatInstallName(p.Name, p.ObjectId())
}

// FormatInstallName renders the "<name>-<id>" install directory name.
func FormatInstallName(name string, id ObjectId) string {
	return name + "-" + id.String()
}

// ParseInstallName splits an install name back into (name, id) by the
// rightmost '-', since names themselves may contain '-'.
func ParseInstallName(installName string) (name string, id ObjectId, err error) {
	if len(installName) < StrLength+1 {
		return "", ZeroID, fmt.Errorf("%w: install name %q too short", ErrParse, installName)
	}
	split := len(installName) - StrLength - 1
	if installName[split] != '-' {
		return "", ZeroID, fmt.Errorf("%w: install name %q missing '-' separator", ErrParse, installName)
	}
	name = installName[:split]
	id, err = ParseObjectId(installName[split+1:])
	if err != nil {
		return "", ZeroID, fmt.Errorf("%w: install name %q: %v", ErrParse, installName, err)
	}
	return name, id, nil
}

// Spec is a build recipe: inputs and their IDs, build steps, and a target
// platform. The build executor over a Spec is out of scope for this store
// (matches the unimplemented build pipeline in the original source); Spec
// exists so it can be inserted, fetched, and packed like any other object.
type Spec struct {
	Name         string              `json:"name"`
	Version      string              `json:"version"`
	Dependencies []ObjectId          `json:"dependencies"`
	Target       *Platform           `json:"target,omitempty"`
	Inputs       map[string]ObjectId `json:"inputs"`
	BuildSteps   []string            `json:"build_steps"`
}

// Kind implements Object.
func (s *Spec) Kind() ObjectKind { return KindSpec }

// ObjectId implements Object: H("spec:" || canonical_json(s)).
func (s *Spec) ObjectId() ObjectId {
	body, err := canonicalJSON(s)
	if err != nil {
		panic(fmt.Sprintf("store: spec is not JSON-encodable: %v", err))
	}
	h := NewHasher()
	h.Update([]byte(specTag))
	h.Update(body)
	return h.Finish()
}

// NodeRef names a single object in the reference graph by ID and kind; the
// closure engine and pack format both operate on these.
type NodeRef struct {
	ID   ObjectId
	Kind ObjectKind
}

func (n NodeRef) String() string {
	return fmt.Sprintf("%s:%s", n.Kind, n.ID)
}
