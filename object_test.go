// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import "testing"

func TestBlobIdentityIsContentAndExecutableBit(t *testing.T) {
	a := NewBlob([]byte("hello"), false)
	b := NewBlob([]byte("hello"), false)
	if a.ObjectId() != b.ObjectId() {
		t.Fatalf("identical content/executable-bit blobs must hash equal")
	}

	exec := NewBlob([]byte("hello"), true)
	if exec.ObjectId() == a.ObjectId() {
		t.Fatalf("executable and non-executable blobs with the same bytes must hash differently")
	}
}

func TestTreeHashIsOrderIndependent(t *testing.T) {
	blobID := NewBlob([]byte("x"), false).ObjectId()

	t1 := NewTree()
	t1.Entries["a"] = BlobEntry(blobID)
	t1.Entries["b"] = SymlinkEntry("../elsewhere")

	t2 := NewTree()
	t2.Entries["b"] = SymlinkEntry("../elsewhere")
	t2.Entries["a"] = BlobEntry(blobID)

	if t1.ObjectId() != t2.ObjectId() {
		t.Fatalf("tree hash must not depend on entry insertion order")
	}
}

func TestTreeReferencesExcludeSymlinks(t *testing.T) {
	blobID := NewBlob([]byte("x"), false).ObjectId()
	treeID := NewTree().ObjectId()

	tr := NewTree()
	tr.Entries["blob"] = BlobEntry(blobID)
	tr.Entries["tree"] = TreeEntry(treeID)
	tr.Entries["link"] = SymlinkEntry("/nowhere")

	refs := tr.References()
	if len(refs) != 2 {
		t.Fatalf("References() = %v, want 2 entries (symlinks excluded)", refs)
	}
}

func TestPackageInstallNameRoundTrip(t *testing.T) {
	pkg := NewPackage("hello", Platform{Arch: ArchX86_64, OS: OSLinux, Env: EnvGnu}, ZeroID, nil, nil)
	installName := pkg.InstallName()

	name, id, err := ParseInstallName(installName)
	if err != nil {
		t.Fatalf("ParseInstallName: %v", err)
	}
	if name != "hello" || id != pkg.ObjectId() {
		t.Fatalf("ParseInstallName(%q) = (%q, %v), want (%q, %v)", installName, name, id, "hello", pkg.ObjectId())
	}
}

func TestPackageInstallNameWithHyphenatedName(t *testing.T) {
	pkg := NewPackage("lib-foo-bar", Platform{Arch: ArchI686, OS: OSDarwin}, ZeroID, nil, nil)
	name, _, err := ParseInstallName(pkg.InstallName())
	if err != nil {
		t.Fatalf("ParseInstallName: %v", err)
	}
	if name != "lib-foo-bar" {
		t.Fatalf("name = %q, want %q", name, "lib-foo-bar")
	}
}

func TestNewPackageNormalizesNilFields(t *testing.T) {
	pkg := NewPackage("x", Platform{Arch: ArchX86_64, OS: OSLinux, Env: EnvMusl}, ZeroID, nil, nil)
	if pkg.References == nil || pkg.SelfReferences == nil {
		t.Fatalf("NewPackage must normalize nil slices/maps to empty")
	}
}
