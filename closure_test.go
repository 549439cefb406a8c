// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"testing"
)

func TestClosureOrdersDependenciesBeforeRoot(t *testing.T) {
	st := openTestStore(t)

	leafBlob, err := st.InsertObject(NewBlob([]byte("leaf"), false))
	if err != nil {
		t.Fatalf("InsertObject: %v", err)
	}
	tree := NewTree()
	tree.Entries["leaf"] = BlobEntry(leafBlob)
	treeID, err := st.InsertObject(tree)
	if err != nil {
		t.Fatalf("InsertObject tree: %v", err)
	}
	pkg := NewPackage("root", testPlatform(), treeID, nil, nil)
	if _, err := st.InsertObject(pkg); err != nil {
		t.Fatalf("InsertObject pkg: %v", err)
	}

	roots := []NodeRef{{ID: pkg.ObjectId(), Kind: KindPackage}}
	order, err := Closure(roots, FullChildren(st))
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}

	if len(order) != 3 {
		t.Fatalf("Closure returned %d nodes, want 3", len(order))
	}
	if order[0].Kind != KindPackage || order[0].ID != pkg.ObjectId() {
		t.Fatalf("Closure must return roots-first: got %+v first", order[0])
	}

	deps := ReverseNodeRefs(order)
	if deps[0].ID != leafBlob || deps[len(deps)-1].ID != pkg.ObjectId() {
		t.Fatalf("ReverseNodeRefs must put the deepest dependency first: %+v", deps)
	}
}

func TestClosureDetectsCycles(t *testing.T) {
	a := NodeRef{ID: ObjectId{1}, Kind: KindTree}
	b := NodeRef{ID: ObjectId{2}, Kind: KindTree}

	getChildren := func(node NodeRef) (Include, error) {
		switch node.ID {
		case a.ID:
			return IncludeYes([]NodeRef{b}), nil
		case b.ID:
			return IncludeYes([]NodeRef{a}), nil
		default:
			return IncludeNo(), nil
		}
	}

	if _, err := Closure([]NodeRef{a}, getChildren); !errors.Is(err, ErrCycle) {
		t.Fatalf("Closure over a cycle: err = %v, want ErrCycle", err)
	}
}

func TestDeltaChildrenPrunesPresentNodes(t *testing.T) {
	src := openTestStore(t)
	dst := openTestStore(t)

	blobID, err := src.InsertObject(NewBlob([]byte("shared"), false))
	if err != nil {
		t.Fatalf("InsertObject: %v", err)
	}
	if _, err := dst.InsertObject(NewBlob([]byte("shared"), false)); err != nil {
		t.Fatalf("InsertObject dst: %v", err)
	}

	tree := NewTree()
	tree.Entries["shared"] = BlobEntry(blobID)
	treeID, err := src.InsertObject(tree)
	if err != nil {
		t.Fatalf("InsertObject tree: %v", err)
	}

	roots := []NodeRef{{ID: treeID, Kind: KindTree}}
	missing, err := Closure(roots, DeltaChildren(src, dst))
	if err != nil {
		t.Fatalf("Closure: %v", err)
	}

	if len(missing) != 1 || missing[0].ID != treeID {
		t.Fatalf("missing = %+v, want just the tree (blob already present in dst)", missing)
	}
}
