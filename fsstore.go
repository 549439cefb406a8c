// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// modeReadOnly and modeExecutable are the fixed permissions every object and
// installed blob carries; see invariant 5.
const (
	modeReadOnly   os.FileMode = 0o444
	modeExecutable os.FileMode = 0o544
)

// FSBackend is the on-disk Backend implementation: objects under
// <root>/objects/<2-hex>/<62-hex>.<ext>, packages under
// <root>/packages/<name>-<id>/.
type FSBackend struct {
	cfg *Config

	// mu is reserved for in-process bookkeeping; no operation currently
	// takes it, and filesystem operations never do. All on-disk atomicity
	// is rename-based.
	mu sync.Mutex
}

// Open creates (if necessary) and returns a handle to the store rooted at
// root.
func Open(root string, opts ...Option) (*FSBackend, error) {
	cfg := defaultConfig(root)
	for _, opt := range opts {
		opt(cfg)
	}
	for _, dir := range []string{cfg.root, cfg.objectsDir(), cfg.packagesDir(), cfg.tempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: open %s: %w", root, err)
		}
	}
	return &FSBackend{cfg: cfg}, nil
}

// Init is an alias for Open kept for parity with the CLI's "init" verb. Like
// Open, it creates the store root's directories if they are missing and
// otherwise opens the existing store.
func Init(root string, opts ...Option) (*FSBackend, error) { return Open(root, opts...) }

func (c *Config) objectsDir() string  { return filepath.Join(c.root, "objects") }
func (c *Config) packagesDir() string { return filepath.Join(c.root, "packages") }

func (c *Config) objectPath(id ObjectId, kind ObjectKind) string {
	shard, rest := id.PathSegments()
	return filepath.Join(c.objectsDir(), shard, rest+"."+kind.String())
}

func (c *Config) packagePath(pkg *Package) string {
	return filepath.Join(c.packagesDir(), pkg.InstallName())
}

// Root returns the store's root directory.
func (s *FSBackend) Root() string { return s.cfg.root }

// InsertObject implements Objects.
func (s *FSBackend) InsertObject(obj Object) (ObjectId, error) {
	id := obj.ObjectId()
	path := s.cfg.objectPath(id, obj.Kind())

	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	if pkg, ok := obj.(*Package); ok {
		if err := s.Instantiate(s, pkg); err != nil {
			return ZeroID, err
		}
	}

	if err := s.ensureShardDir(id); err != nil {
		return ZeroID, err
	}

	switch o := obj.(type) {
	case *Blob:
		if err := s.writeBlob(path, o); err != nil {
			return ZeroID, err
		}
	default:
		body, err := canonicalJSON(obj)
		if err != nil {
			return ZeroID, fmt.Errorf("%w: marshal %s: %v", ErrStructural, id, err)
		}
		if err := s.writeTempThenRename(path, modeReadOnly, func(w io.Writer) error {
			_, err := w.Write(body)
			return err
		}); err != nil {
			return ZeroID, err
		}
	}

	return id, nil
}

func (s *FSBackend) writeBlob(path string, b *Blob) error {
	mode := modeReadOnly
	if b.IsExecutable {
		mode = modeExecutable
	}
	return s.writeTempThenRename(path, mode, func(w io.Writer) error {
		r, err := b.Open()
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = io.Copy(w, r)
		return err
	})
}

// writeTempThenRename writes content via fill into a fresh temp file in the
// store's temp dir, sets mode and a zeroed mtime, then renames it into
// place.
func (s *FSBackend) writeTempThenRename(dest string, mode os.FileMode, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(s.cfg.tempDir, "obj-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write %s: %w", dest, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: fsync %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := finalizeFile(tmpName, dest, mode); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// ensureShardDir creates the two-hex shard directory containing id's object
// file, tolerating a race with another writer creating the same directory.
func (s *FSBackend) ensureShardDir(id ObjectId) error {
	shard, _ := id.PathSegments()
	dir := filepath.Join(s.cfg.objectsDir(), shard)
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("store: create shard dir %s: %w", dir, err)
	}
	return nil
}

// GetObject implements Objects.
func (s *FSBackend) GetObject(id ObjectId, kind *ObjectKind) (Object, error) {
	if kind != nil {
		return s.getObjectOfKind(id, *kind)
	}
	for _, k := range []ObjectKind{KindBlob, KindTree, KindPackage, KindSpec} {
		if obj, err := s.getObjectOfKind(id, k); err == nil {
			return obj, nil
		}
	}
	return nil, notFoundf(id.String(), "object %s not found under any kind", id)
}

func (s *FSBackend) getObjectOfKind(id ObjectId, kind ObjectKind) (Object, error) {
	path := s.cfg.objectPath(id, kind)
	info, err := os.Stat(path)
	if err != nil {
		return nil, notFoundf(id.String(), "%s object %s not found", kind, id)
	}

	switch kind {
	case KindBlob:
		isExec := info.Mode().Perm()&0o111 != 0
		return NewBlobFromReader(func() (io.ReadCloser, error) {
			return os.Open(path)
		}, info.Size(), isExec), nil
	case KindTree:
		var t Tree
		if err := readJSON(path, &t); err != nil {
			return nil, err
		}
		return &t, nil
	case KindPackage:
		var p Package
		if err := readJSON(path, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case KindSpec:
		var sp Spec
		if err := readJSON(path, &sp); err != nil {
			return nil, err
		}
		return &sp, nil
	default:
		return nil, fmt.Errorf("%w: unknown object kind %v", ErrParse, kind)
	}
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return notFoundf(path, "read object file: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIntegrity, path, err)
	}
	return nil
}

// ContainsObject implements Objects.
func (s *FSBackend) ContainsObject(id ObjectId, kind *ObjectKind) bool {
	if kind != nil {
		_, err := os.Stat(s.cfg.objectPath(id, *kind))
		return err == nil
	}
	for _, k := range []ObjectKind{KindBlob, KindTree, KindPackage, KindSpec} {
		if _, err := os.Stat(s.cfg.objectPath(id, k)); err == nil {
			return true
		}
	}
	return false
}

// ObjectSize implements Objects.
func (s *FSBackend) ObjectSize(id ObjectId, kind *ObjectKind) (int64, error) {
	if kind != nil {
		info, err := os.Stat(s.cfg.objectPath(id, *kind))
		if err != nil {
			return 0, notFoundf(id.String(), "%v", err)
		}
		return info.Size(), nil
	}
	for _, k := range []ObjectKind{KindBlob, KindTree, KindPackage, KindSpec} {
		if info, err := os.Stat(s.cfg.objectPath(id, k)); err == nil {
			return info.Size(), nil
		}
	}
	return 0, notFoundf(id.String(), "object not found under any kind")
}

// Path implements Packages.
func (s *FSBackend) Path(pkg *Package) string {
	return s.cfg.packagePath(pkg)
}

// Contains implements Packages.
func (s *FSBackend) Contains(pkg *Package) bool {
	_, err := os.Stat(s.cfg.packagePath(pkg))
	return err == nil
}
