// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import "testing"

func TestCopyClosureTransfersMissingObjects(t *testing.T) {
	src := openTestStore(t)
	dst := openTestStore(t)

	blobID, err := src.InsertObject(NewBlob([]byte("payload"), false))
	if err != nil {
		t.Fatalf("InsertObject blob: %v", err)
	}
	tree := NewTree()
	tree.Entries["file.txt"] = BlobEntry(blobID)
	treeID, err := src.InsertObject(tree)
	if err != nil {
		t.Fatalf("InsertObject tree: %v", err)
	}
	dep := NewPackage("dep", testPlatform(), treeID, nil, nil)
	if _, err := src.InsertObject(dep); err != nil {
		t.Fatalf("InsertObject dep: %v", err)
	}

	leafTreeID, err := src.InsertObject(NewTree())
	if err != nil {
		t.Fatalf("InsertObject leaf tree: %v", err)
	}
	root := NewPackage("root", testPlatform(), leafTreeID, []ObjectId{dep.ObjectId()}, nil)
	if _, err := src.InsertObject(root); err != nil {
		t.Fatalf("InsertObject root: %v", err)
	}

	delta, err := CopyClosure(NewLocalSource(src), AsDestination(dst), []ObjectId{root.ObjectId()}, nil)
	if err != nil {
		t.Fatalf("CopyClosure: %v", err)
	}
	if delta.NumPresent != 0 {
		t.Fatalf("NumPresent = %d, want 0 (destination started empty)", delta.NumPresent)
	}

	k := KindPackage
	if !dst.ContainsObject(root.ObjectId(), &k) {
		t.Fatalf("destination is missing the root package after copy")
	}
	if !dst.ContainsObject(dep.ObjectId(), &k) {
		t.Fatalf("destination is missing the dependency package after copy")
	}
	blobKind := KindBlob
	if !dst.ContainsObject(blobID, &blobKind) {
		t.Fatalf("destination is missing the blob after copy")
	}

	got, err := GetBlob(dst, blobID)
	if err != nil {
		t.Fatalf("GetBlob on destination: %v", err)
	}
	r, err := got.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
}

func TestCopyClosureIsNoopWhenAlreadyPresent(t *testing.T) {
	src := openTestStore(t)
	dst := openTestStore(t)

	treeID, err := src.InsertObject(NewTree())
	if err != nil {
		t.Fatalf("InsertObject tree: %v", err)
	}
	pkg := NewPackage("already-there", testPlatform(), treeID, nil, nil)
	if _, err := src.InsertObject(pkg); err != nil {
		t.Fatalf("InsertObject pkg: %v", err)
	}
	if _, err := dst.InsertObject(pkg); err != nil {
		t.Fatalf("InsertObject pkg into dst: %v", err)
	}

	delta, err := CopyClosure(NewLocalSource(src), AsDestination(dst), []ObjectId{pkg.ObjectId()}, nil)
	if err != nil {
		t.Fatalf("CopyClosure: %v", err)
	}
	if delta.NumPresent != 1 {
		t.Fatalf("NumPresent = %d, want 1", delta.NumPresent)
	}
	if len(delta.Missing) != 0 {
		t.Fatalf("Missing = %+v, want empty", delta.Missing)
	}
}
