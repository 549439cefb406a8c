// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// epoch is the zero mtime/atime every installed package entry carries.
var epoch = time.Unix(0, 0)

// Instantiate implements Packages: materialize pkg.Tree into
// packages/<install-name>/, hard-linking blobs and patching self-references.
// A no-op if the target directory already exists.
func (s *FSBackend) Instantiate(objs Objects, pkg *Package) error {
	target := s.cfg.packagePath(pkg)
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	for _, ref := range pkg.References {
		k := KindPackage
		if !objs.ContainsObject(ref, &k) {
			return fmt.Errorf("%w: package %s references missing package %s", ErrReference, pkg.InstallName(), ref)
		}
	}

	tree, err := GetTree(objs, pkg.Tree)
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp(s.cfg.tempDir, "pkg-*")
	if err != nil {
		return fmt.Errorf("store: create install temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := s.writeTree(objs, pkg, tree, tmp); err != nil {
		return err
	}
	if err := os.Chtimes(tmp, epoch, epoch); err != nil {
		return fmt.Errorf("store: set install dir mtime: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		if isENOTEMPTY(err) {
			// Another worker won the race to materialize the same
			// install-name; content-addressing guarantees the result
			// is byte-identical, so treat this as success.
			return nil
		}
		return fmt.Errorf("store: rename install dir into place: %w", err)
	}
	return nil
}

// writeTree recursively materializes tree's entries into dir.
func (s *FSBackend) writeTree(objs Objects, pkg *Package, tree *Tree, dir string) error {
	for name, entry := range tree.Entries {
		dest := filepath.Join(dir, name)
		switch entry.Type {
		case EntryTree:
			sub, err := GetTree(objs, entry.ID)
			if err != nil {
				return err
			}
			if err := os.Mkdir(dest, 0o755); err != nil {
				return fmt.Errorf("store: create dir %s: %w", dest, err)
			}
			if err := s.writeTree(objs, pkg, sub, dest); err != nil {
				return err
			}
			if err := os.Chtimes(dest, epoch, epoch); err != nil {
				return fmt.Errorf("store: set dir mtime %s: %w", dest, err)
			}
		case EntryBlob:
			if err := s.writeBlobEntry(objs, pkg, entry.ID, dest); err != nil {
				return err
			}
		case EntrySymlink:
			if err := os.Symlink(entry.Target, dest); err != nil {
				return fmt.Errorf("store: create symlink %s: %w", dest, err)
			}
			if err := os.Lchtimes(dest, epoch, epoch); err != nil {
				return fmt.Errorf("store: set symlink mtime %s: %w", dest, err)
			}
		default:
			return fmt.Errorf("%w: unknown tree entry type %q", ErrStructural, entry.Type)
		}
	}
	return nil
}

// writeBlobEntry places blob id at dest: a patched copy if id carries
// self-reference offsets on pkg, otherwise a hard link to the stored blob.
func (s *FSBackend) writeBlobEntry(objs Objects, pkg *Package, id ObjectId, dest string) error {
	offsets, selfRef := pkg.SelfReferences[id]

	k := KindBlob
	if !objs.ContainsObject(id, &k) {
		return notFoundf(id.String(), "blob object %s not found", id)
	}
	srcPath := s.cfg.objectPath(id, KindBlob)

	if !selfRef {
		if err := os.Link(srcPath, dest); err != nil {
			return fmt.Errorf("store: hard link blob %s: %w", id, err)
		}
		return nil
	}

	blob, err := GetBlob(objs, id)
	if err != nil {
		return err
	}
	mode := modeReadOnly
	if blob.IsExecutable {
		mode = modeExecutable
	}
	// Copy writable so the patch below can reopen it, then apply mode.
	if err := copyFile(srcPath, dest, 0o644); err != nil {
		return fmt.Errorf("store: copy self-referential blob %s: %w", id, err)
	}
	if err := patchSelfReferences(dest, pkg.InstallName(), offsets); err != nil {
		return err
	}
	if err := os.Chmod(dest, mode); err != nil {
		return fmt.Errorf("store: set blob mode %s: %w", dest, err)
	}
	if err := os.Chtimes(dest, epoch, epoch); err != nil {
		return fmt.Errorf("store: set blob mtime %s: %w", dest, err)
	}
	return nil
}

// patchSelfReferences overwrites, at each byte offset, the placeholder
// install name ("<name>-" + StrLength zero hex chars, written by
// RewriteSink during install-from-source) with installName. Both strings
// have the same length by construction, since the hex portion is always
// StrLength characters whether zero or a real hash.
func patchSelfReferences(path, installName string, offsets []uint64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("store: open %s for self-reference patch: %w", path, err)
	}
	defer f.Close()

	for _, off := range offsets {
		if _, err := f.WriteAt([]byte(installName), int64(off)); err != nil {
			return fmt.Errorf("store: patch self-reference at %d in %s: %w", off, path, err)
		}
	}
	return nil
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Chmod(mode); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
