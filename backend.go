// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import "errors"

// Objects is the content-addressed object persistence surface: insert,
// fetch, and probe objects by ID, optionally narrowed by kind.
type Objects interface {
	// InsertObject persists obj and returns its ID. Idempotent: inserting
	// the same content twice returns the same ID and performs no extra
	// work the second time.
	InsertObject(obj Object) (ObjectId, error)

	// GetObject fetches the object with the given ID. If kind is non-nil,
	// only that kind's file is considered; otherwise all kinds are probed.
	GetObject(id ObjectId, kind *ObjectKind) (Object, error)

	// ContainsObject reports whether id is present, optionally narrowed by
	// kind.
	ContainsObject(id ObjectId, kind *ObjectKind) bool

	// ObjectSize returns the size in bytes of the object's on-disk
	// representation.
	ObjectSize(id ObjectId, kind *ObjectKind) (int64, error)
}

// GetBlob fetches id as a Blob, failing with ErrTypeMismatch if it is some
// other kind.
func GetBlob(o Objects, id ObjectId) (*Blob, error) {
	k := KindBlob
	obj, err := o.GetObject(id, &k)
	if err != nil {
		if errors.Is(err, ErrNotFound) && o.ContainsObject(id, nil) {
			return nil, typeMismatchf(id.String(), "%s is not a blob object", id)
		}
		return nil, err
	}
	blob, ok := obj.(*Blob)
	if !ok {
		return nil, typeMismatchf(id.String(), "%s is not a blob object", id)
	}
	return blob, nil
}

// GetTree fetches id as a Tree, failing with ErrTypeMismatch if it is some
// other kind.
func GetTree(o Objects, id ObjectId) (*Tree, error) {
	k := KindTree
	obj, err := o.GetObject(id, &k)
	if err != nil {
		if errors.Is(err, ErrNotFound) && o.ContainsObject(id, nil) {
			return nil, typeMismatchf(id.String(), "%s is not a tree object", id)
		}
		return nil, err
	}
	tree, ok := obj.(*Tree)
	if !ok {
		return nil, typeMismatchf(id.String(), "%s is not a tree object", id)
	}
	return tree, nil
}

// GetPackage fetches id as a Package, failing with ErrTypeMismatch if it is
// some other kind.
func GetPackage(o Objects, id ObjectId) (*Package, error) {
	k := KindPackage
	obj, err := o.GetObject(id, &k)
	if err != nil {
		if errors.Is(err, ErrNotFound) && o.ContainsObject(id, nil) {
			return nil, typeMismatchf(id.String(), "%s is not a package object", id)
		}
		return nil, err
	}
	pkg, ok := obj.(*Package)
	if !ok {
		return nil, typeMismatchf(id.String(), "%s is not a package object", id)
	}
	return pkg, nil
}

// GetSpec fetches id as a Spec, failing with ErrTypeMismatch if it is some
// other kind.
func GetSpec(o Objects, id ObjectId) (*Spec, error) {
	k := KindSpec
	obj, err := o.GetObject(id, &k)
	if err != nil {
		if errors.Is(err, ErrNotFound) && o.ContainsObject(id, nil) {
			return nil, typeMismatchf(id.String(), "%s is not a spec object", id)
		}
		return nil, err
	}
	spec, ok := obj.(*Spec)
	if !ok {
		return nil, typeMismatchf(id.String(), "%s is not a spec object", id)
	}
	return spec, nil
}

// Packages is the package-directory materialization surface.
type Packages interface {
	// Path returns the on-disk install path for a package, whether or not
	// it has been instantiated yet.
	Path(pkg *Package) string

	// Contains reports whether pkg has already been instantiated.
	Contains(pkg *Package) bool

	// Instantiate materializes pkg's tree into its install directory. A
	// no-op if already instantiated. Every Package referenced by
	// pkg.References must already be installed.
	Instantiate(objs Objects, pkg *Package) error
}

// Backend combines Objects and Packages behind a single store handle, plus
// lifecycle operations for opening a store root.
type Backend interface {
	Objects
	Packages
}
