// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"os"
	"path/filepath"
	"testing"
)

func testPlatform() Platform {
	return Platform{Arch: ArchX86_64, OS: OSLinux, Env: EnvGnu}
}

func TestInstantiateMaterializesTreeAndHardLinksBlobs(t *testing.T) {
	st := openTestStore(t)

	blobID, err := st.InsertObject(NewBlob([]byte("payload"), false))
	if err != nil {
		t.Fatalf("InsertObject blob: %v", err)
	}
	tree := NewTree()
	tree.Entries["file.txt"] = BlobEntry(blobID)
	treeID, err := st.InsertObject(tree)
	if err != nil {
		t.Fatalf("InsertObject tree: %v", err)
	}

	pkg := NewPackage("greeter", testPlatform(), treeID, nil, nil)
	if _, err := st.InsertObject(pkg); err != nil {
		t.Fatalf("InsertObject pkg: %v", err)
	}

	dest := filepath.Join(st.Root(), "packages", pkg.InstallName(), "file.txt")
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("installed file missing: %v", err)
	}
	if !info.ModTime().Equal(epoch) {
		t.Fatalf("installed file mtime = %v, want epoch", info.ModTime())
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}

	srcPath := st.cfg.objectPath(blobID, KindBlob)
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		t.Fatalf("Stat source blob: %v", err)
	}
	if !os.SameFile(info, srcInfo) {
		t.Fatalf("installed blob is not hard-linked to the stored blob")
	}
}

func TestInstantiateIsNoopWhenAlreadyInstalled(t *testing.T) {
	st := openTestStore(t)

	treeID, err := st.InsertObject(NewTree())
	if err != nil {
		t.Fatalf("InsertObject tree: %v", err)
	}
	pkg := NewPackage("empty", testPlatform(), treeID, nil, nil)
	target := st.cfg.packagePath(pkg)

	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	marker := filepath.Join(target, "sentinel")
	if err := os.WriteFile(marker, []byte("keep me"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := st.Instantiate(st, pkg); err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("Instantiate must not touch an already-installed package dir: %v", err)
	}
}

func TestInstantiateFailsOnMissingPackageReference(t *testing.T) {
	st := openTestStore(t)

	treeID, err := st.InsertObject(NewTree())
	if err != nil {
		t.Fatalf("InsertObject tree: %v", err)
	}
	unknown := NewPackage("dependency", testPlatform(), treeID, nil, nil).ObjectId()
	pkg := &Package{
		Name:       "dependent",
		System:     testPlatform(),
		Tree:       treeID,
		References: []ObjectId{unknown},
	}

	if err := st.Instantiate(st, pkg); err == nil {
		t.Fatalf("Instantiate with a missing referenced package should fail")
	}
}

func TestWriteBlobEntryPatchesSelfReferences(t *testing.T) {
	st := openTestStore(t)

	placeholder := FormatInstallName("selfref", ZeroID)
	content := []byte("path=" + placeholder + "/lib")
	offset := uint64(len("path="))

	blob := NewBlob(content, false)
	blobID, err := st.InsertObject(blob)
	if err != nil {
		t.Fatalf("InsertObject blob: %v", err)
	}

	tree := NewTree()
	tree.Entries["config"] = BlobEntry(blobID)
	treeID, err := st.InsertObject(tree)
	if err != nil {
		t.Fatalf("InsertObject tree: %v", err)
	}

	pkg := NewPackage("selfref", testPlatform(), treeID, nil, map[ObjectId][]uint64{blobID: {offset}})
	if _, err := st.InsertObject(pkg); err != nil {
		t.Fatalf("InsertObject pkg: %v", err)
	}

	dest := filepath.Join(st.cfg.packagePath(pkg), "config")
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	want := "path=" + pkg.InstallName() + "/lib"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	srcPath := st.cfg.objectPath(blobID, KindBlob)
	srcInfo, _ := os.Stat(srcPath)
	destInfo, _ := os.Stat(dest)
	if os.SameFile(srcInfo, destInfo) {
		t.Fatalf("self-referential blob must be copied, not hard-linked")
	}
}
