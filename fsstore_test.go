// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"io"
	"testing"
)

func openTestStore(t *testing.T) *FSBackend {
	t.Helper()
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func TestInsertAndGetBlobRoundTrip(t *testing.T) {
	st := openTestStore(t)

	blob := NewBlob([]byte("hello world"), false)
	id, err := st.InsertObject(blob)
	if err != nil {
		t.Fatalf("InsertObject: %v", err)
	}
	if id != blob.ObjectId() {
		t.Fatalf("InsertObject returned %v, want %v", id, blob.ObjectId())
	}

	got, err := GetBlob(st, id)
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	r, err := got.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("got %q, want %q", data, "hello world")
	}
}

func TestInsertObjectIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	blob := NewBlob([]byte("dedup me"), false)

	id1, err := st.InsertObject(blob)
	if err != nil {
		t.Fatalf("first InsertObject: %v", err)
	}
	id2, err := st.InsertObject(NewBlob([]byte("dedup me"), false))
	if err != nil {
		t.Fatalf("second InsertObject: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("identical content must dedupe to the same id: %v != %v", id1, id2)
	}
}

func TestGetBlobFailsOnWrongKind(t *testing.T) {
	st := openTestStore(t)
	tree := NewTree()
	id, err := st.InsertObject(tree)
	if err != nil {
		t.Fatalf("InsertObject: %v", err)
	}

	if _, err := GetBlob(st, id); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("GetBlob on a tree id: err = %v, want ErrTypeMismatch", err)
	}
}

func TestContainsAndObjectSize(t *testing.T) {
	st := openTestStore(t)
	blob := NewBlob([]byte("twelve bytes"), false)
	id, err := st.InsertObject(blob)
	if err != nil {
		t.Fatalf("InsertObject: %v", err)
	}

	k := KindBlob
	if !st.ContainsObject(id, &k) {
		t.Fatalf("ContainsObject(blob) = false, want true")
	}
	if st.ContainsObject(ZeroID, &k) {
		t.Fatalf("ContainsObject(zero id) = true, want false")
	}

	size, err := st.ObjectSize(id, &k)
	if err != nil {
		t.Fatalf("ObjectSize: %v", err)
	}
	if size != int64(len("twelve bytes")) {
		t.Fatalf("ObjectSize = %d, want %d", size, len("twelve bytes"))
	}
}

func TestGetObjectProbesAllKindsWhenUnspecified(t *testing.T) {
	st := openTestStore(t)
	tree := NewTree()
	id, err := st.InsertObject(tree)
	if err != nil {
		t.Fatalf("InsertObject: %v", err)
	}

	obj, err := st.GetObject(id, nil)
	if err != nil {
		t.Fatalf("GetObject(nil kind): %v", err)
	}
	if obj.Kind() != KindTree {
		t.Fatalf("GetObject returned kind %v, want KindTree", obj.Kind())
	}
}

func TestInsertPackageFailsWithMissingReferences(t *testing.T) {
	st := openTestStore(t)
	blobID, err := st.InsertObject(NewBlob([]byte("payload"), false))
	if err != nil {
		t.Fatalf("InsertObject blob: %v", err)
	}
	tree := NewTree()
	tree.Entries["f"] = BlobEntry(blobID)
	treeID, err := st.InsertObject(tree)
	if err != nil {
		t.Fatalf("InsertObject tree: %v", err)
	}

	pkg := NewPackage("needs-dep", Platform{Arch: ArchX86_64, OS: OSLinux, Env: EnvGnu}, treeID, []ObjectId{ZeroID}, nil)
	if _, err := st.InsertObject(pkg); !errors.Is(err, ErrReference) {
		t.Fatalf("InsertObject with a missing reference: err = %v, want ErrReference", err)
	}
}
