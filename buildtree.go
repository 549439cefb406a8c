// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// BuildPackageFromSource walks outDir and converts it into a Package: the
// inverse of Instantiate. Every regular file becomes a Blob (with its
// executable bit preserved and, for ELF binaries, its RPATHs rewritten to be
// relative before hashing); every subdirectory becomes a Tree; every symlink
// whose canonical target lives inside outDir is rewritten to a path relative
// to the symlink itself so the package remains relocatable.
//
// Any occurrence of outDir's absolute path inside a file's bytes is replaced
// with the package's install name built from a zero ObjectId placeholder
// (§4.4); the byte offsets of those substitutions are recorded per-blob so
// Instantiate can patch them with the real install name once it is known.
// References detected by scanning the rewritten bytes (other packages'
// install names) become the constructed Package's References, and must be a
// subset of spec's declared dependencies when spec is non-nil.
func BuildPackageFromSource(objs Objects, tempDir, outDir, name string, system Platform, spec *Spec) (*Package, error) {
	if err := ValidatePackageName(name); err != nil {
		return nil, err
	}

	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return nil, fmt.Errorf("store: resolve source dir %s: %w", outDir, err)
	}
	info, err := os.Stat(absOut)
	if err != nil {
		return nil, fmt.Errorf("store: stat source dir %s: %w", absOut, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: source %s is not a directory", ErrStructural, absOut)
	}

	b := &treeBuilder{
		objs:        objs,
		tempDir:     tempDir,
		outRoot:     absOut,
		placeholder: FormatInstallName(name, ZeroID),
		selfRefs:    make(map[ObjectId][]uint64),
		refs:        make(map[ObjectId]struct{}),
	}

	treeID, err := b.buildTree(absOut)
	if err != nil {
		return nil, err
	}

	references := make([]ObjectId, 0, len(b.refs))
	for id := range b.refs {
		if !id.IsZero() {
			references = append(references, id)
		}
	}
	sort.Slice(references, func(i, j int) bool { return references[i].Less(references[j]) })

	if err := verifyDeclaredDependencies(references, spec); err != nil {
		return nil, err
	}

	pkg := NewPackage(name, system, treeID, references, b.selfRefs)
	if _, err := objs.InsertObject(pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

// verifyDeclaredDependencies fails unless every detected reference is among
// spec's declared dependencies; a nil spec skips the check (building a
// package with no accompanying build recipe).
func verifyDeclaredDependencies(references []ObjectId, spec *Spec) error {
	if spec == nil {
		return nil
	}
	declared := make(map[ObjectId]struct{}, len(spec.Dependencies))
	for _, id := range spec.Dependencies {
		declared[id] = struct{}{}
	}
	for _, ref := range references {
		if _, ok := declared[ref]; !ok {
			return fmt.Errorf("%w: detected reference %s is not among the spec's declared dependencies", ErrReference, ref)
		}
	}
	return nil
}

// BuildPackageFromSource is a convenience wrapper that captures outDir into
// s directly, using s's own temp directory for blob hashing buffers.
func (s *FSBackend) BuildPackageFromSource(outDir, name string, system Platform, spec *Spec) (*Package, error) {
	return BuildPackageFromSource(s, s.cfg.tempDir, outDir, name, system, spec)
}

// treeBuilder accumulates state while walking a source directory bottom-up.
type treeBuilder struct {
	objs        Objects
	tempDir     string
	outRoot     string
	placeholder string

	selfRefs map[ObjectId][]uint64
	refs     map[ObjectId]struct{}
}

// buildTree recursively inserts a Tree for absPath and returns its ObjectId.
func (b *treeBuilder) buildTree(absPath string) (ObjectId, error) {
	dirEntries, err := os.ReadDir(absPath)
	if err != nil {
		return ZeroID, fmt.Errorf("store: read dir %s: %w", absPath, err)
	}

	tree := NewTree()
	for _, de := range dirEntries {
		childAbs := filepath.Join(absPath, de.Name())

		info, err := os.Lstat(childAbs)
		if err != nil {
			return ZeroID, fmt.Errorf("store: lstat %s: %w", childAbs, err)
		}

		var entry Entry
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			entry, err = b.buildSymlinkEntry(childAbs)
		case info.IsDir():
			var id ObjectId
			id, err = b.buildTree(childAbs)
			if err == nil {
				entry = TreeEntry(id)
			}
		default:
			entry, err = b.buildBlobEntry(childAbs, info)
		}
		if err != nil {
			return ZeroID, err
		}
		tree.Entries[de.Name()] = entry
	}

	return b.objs.InsertObject(tree)
}

// buildSymlinkEntry reads the link at absPath. If its canonical target
// resolves inside outRoot, the stored target is rewritten relative to the
// symlink's own directory so the package stays relocatable; otherwise the
// target is stored verbatim.
func (b *treeBuilder) buildSymlinkEntry(absPath string) (Entry, error) {
	target, err := os.Readlink(absPath)
	if err != nil {
		return Entry{}, fmt.Errorf("store: readlink %s: %w", absPath, err)
	}

	linkDir := filepath.Dir(absPath)
	resolved := target
	if !filepath.IsAbs(target) {
		resolved = filepath.Join(linkDir, target)
	}

	if rel, err := filepath.Rel(b.outRoot, resolved); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		if relFromLink, err := filepath.Rel(linkDir, resolved); err == nil {
			return SymlinkEntry(relFromLink), nil
		}
	}
	return SymlinkEntry(target), nil
}

// buildBlobEntry hashes, rewrites, and inserts the regular file at absPath,
// recording any self-reference patch offsets and detected package
// references along the way.
func (b *treeBuilder) buildBlobEntry(absPath string, info fs.FileInfo) (Entry, error) {
	executable := info.Mode().Perm()&0o111 != 0

	if executable {
		if err := patchRPaths(absPath, b.outRoot); err != nil && !errors.Is(err, ErrUnimplemented) {
			return Entry{}, err
		}
	}

	src, err := os.Open(absPath)
	if err != nil {
		return Entry{}, fmt.Errorf("store: open %s: %w", absPath, err)
	}
	defer src.Close()

	buf := NewPagedBuffer(b.tempDir, 0)
	defer buf.Cleanup()

	tag := []byte(blobTag)
	if executable {
		tag = []byte(execTag)
	}

	hw := NewHashWriter(buf, tag)
	refSink := NewReferenceSink(hw)
	rewriteSink, err := NewRewriteSink(refSink, b.outRoot, b.placeholder)
	if err != nil {
		return Entry{}, err
	}

	if _, err := io.Copy(rewriteSink, src); err != nil {
		return Entry{}, fmt.Errorf("store: hash %s: %w", absPath, err)
	}
	_, offsets, err := rewriteSink.IntoInner()
	if err != nil {
		return Entry{}, err
	}
	_, detected := refSink.IntoInner()
	for id := range detected {
		b.refs[id] = struct{}{}
	}

	id := hw.ObjectId()
	if len(offsets) > 0 {
		b.selfRefs[id] = offsets
	}

	blob := NewBlobFromReader(func() (io.ReadCloser, error) {
		if _, err := buf.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return io.NopCloser(buf), nil
	}, info.Size(), executable)

	if _, err := b.objs.InsertObject(blob); err != nil {
		return Entry{}, fmt.Errorf("store: insert blob %s: %w", absPath, err)
	}

	return BlobEntry(id), nil
}
