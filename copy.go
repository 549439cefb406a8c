// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"io"

	"github.com/ebkalderon/storepack/pack"
)

// Delta describes what a destination is missing relative to a set of root
// packages: how many of the requested packages it already has, and the
// dependencies-first ordered list of objects it needs.
type Delta struct {
	NumPresent int
	Missing    []NodeRef
}

// Destination is the receiving end of a store-to-store copy: it can report
// what it already has and accept a pack stream of everything it doesn't.
type Destination interface {
	Contains(id ObjectId, kind *ObjectKind) bool
	RecvPack(r io.Reader, progress chan<- pack.Progress) error
}

// Source is the sending end of a store-to-store copy: it can compute what a
// destination is missing and stream exactly that.
type Source interface {
	FindMissing(dst Destination, pkgIDs []ObjectId) (Delta, error)
	SendPack(w io.Writer, missing []NodeRef) error
}

// destinationObjects adapts a Destination's Contains method to the Objects
// surface DeltaChildren needs, without requiring a full Objects
// implementation over the wire.
type destinationObjects struct {
	dst Destination
}

func (d destinationObjects) ContainsObject(id ObjectId, kind *ObjectKind) bool {
	return d.dst.Contains(id, kind)
}
func (d destinationObjects) InsertObject(Object) (ObjectId, error) { panic("destinationObjects is read-only") }
func (d destinationObjects) GetObject(ObjectId, *ObjectKind) (Object, error) {
	panic("destinationObjects is read-only")
}
func (d destinationObjects) ObjectSize(ObjectId, *ObjectKind) (int64, error) {
	panic("destinationObjects is read-only")
}

// localSource is a Source backed directly by an in-process object store,
// used when both endpoints of a copy live in the same process (or when one
// side has already been bridged across the network by the client/server
// layer in §10.4).
type localSource struct {
	objs Objects
}

// NewLocalSource wraps objs as a Source.
func NewLocalSource(objs Objects) Source {
	return &localSource{objs: objs}
}

// FindMissing implements Source. It runs the delta closure in two phases,
// matching §4.6: first over the requested Package roots, to learn which
// packages the destination lacks, then over the trees reachable from the
// missing packages, since presence of a Package does not imply presence of
// everything it references.
func (s *localSource) FindMissing(dst Destination, pkgIDs []ObjectId) (Delta, error) {
	dstObjs := destinationObjects{dst: dst}

	pkgRoots := make([]NodeRef, len(pkgIDs))
	for i, id := range pkgIDs {
		pkgRoots[i] = NodeRef{ID: id, Kind: KindPackage}
	}

	deltaChildren := DeltaChildren(s.objs, dstObjs)
	packagesOnly := func(node NodeRef) (Include, error) {
		inc, err := deltaChildren(node)
		if err != nil || !inc.ok {
			return inc, err
		}
		var pkgs []NodeRef
		for _, child := range inc.children {
			if child.Kind == KindPackage {
				pkgs = append(pkgs, child)
			}
		}
		return IncludeYes(pkgs), nil
	}
	missingPkgs, err := Closure(pkgRoots, packagesOnly)
	if err != nil {
		return Delta{}, err
	}

	numPresent := 0
	for _, id := range pkgIDs {
		k := KindPackage
		if dst.Contains(id, &k) {
			numPresent++
		}
	}

	treeRoots := make([]NodeRef, 0, len(missingPkgs))
	for _, node := range missingPkgs {
		if node.Kind != KindPackage {
			continue
		}
		pkg, err := GetPackage(s.objs, node.ID)
		if err != nil {
			return Delta{}, err
		}
		treeRoots = append(treeRoots, NodeRef{ID: pkg.Tree, Kind: KindTree})
	}

	missingObjects, err := Closure(treeRoots, DeltaChildren(s.objs, dstObjs))
	if err != nil {
		return Delta{}, err
	}

	// Closure returns roots-first; the pack stream and Delta.Missing both
	// want dependencies-first, so reverse each phase before concatenating.
	// Tree/blob objects are dependencies of the packages that reference
	// them, so the object phase goes first overall.
	all := append(ReverseNodeRefs(missingObjects), ReverseNodeRefs(missingPkgs)...)
	return Delta{NumPresent: numPresent, Missing: all}, nil
}

// SendPack implements Source.
func (s *localSource) SendPack(w io.Writer, missing []NodeRef) error {
	return WritePack(w, s.objs, missing)
}

func countKind(nodes []NodeRef, kind ObjectKind) int {
	n := 0
	for _, node := range nodes {
		if node.Kind == kind {
			n++
		}
	}
	return n
}

// AsDestination adapts objs into a Destination for use with CopyClosure,
// receiving packs by inserting into objs directly.
func AsDestination(objs Objects) Destination {
	return fsDestination{objs}
}

type fsDestination struct {
	objs Objects
}

func (d fsDestination) Contains(id ObjectId, kind *ObjectKind) bool {
	return d.objs.ContainsObject(id, kind)
}

func (d fsDestination) RecvPack(r io.Reader, progress chan<- pack.Progress) error {
	return RecvPack(r, d.objs, progress)
}

// CopyClosure runs the full §4.8 protocol in-process: compute what dst is
// missing for the given package roots, then stream exactly that from src to
// dst.
func CopyClosure(src Source, dst Destination, pkgIDs []ObjectId, progress chan<- pack.Progress) (Delta, error) {
	delta, err := src.FindMissing(dst, pkgIDs)
	if err != nil {
		return Delta{}, err
	}
	if len(delta.Missing) == 0 {
		return delta, nil
	}

	r, w := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.SendPack(w, delta.Missing)
		w.Close()
	}()

	if err := dst.RecvPack(r, progress); err != nil {
		r.CloseWithError(err)
		<-errCh
		return delta, err
	}
	if err := <-errCh; err != nil {
		return delta, err
	}
	return delta, nil
}
