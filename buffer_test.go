// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestPagedBufferStaysInMemoryBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	buf := NewPagedBuffer(dir, 1024)
	defer buf.Cleanup()

	if _, err := buf.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.spilled {
		t.Fatalf("buffer should not have spilled below threshold")
	}

	if _, err := buf.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got, err := io.ReadAll(buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestPagedBufferSpillsPastThreshold(t *testing.T) {
	dir := t.TempDir()
	buf := NewPagedBuffer(dir, 4)
	defer buf.Cleanup()

	if _, err := buf.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !buf.spilled {
		t.Fatalf("buffer should have spilled past threshold")
	}

	if _, err := buf.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got, err := io.ReadAll(buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestPagedBufferPersistSetsEpochMtimeAndMode(t *testing.T) {
	dir := t.TempDir()
	buf := NewPagedBuffer(dir, 0)

	if _, err := buf.Write([]byte("content")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	dest := filepath.Join(dir, "out")
	if err := buf.Persist(dest, 0o444); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o444 {
		t.Fatalf("mode = %v, want 0444", info.Mode().Perm())
	}
	if !info.ModTime().Equal(epoch) {
		t.Fatalf("mtime = %v, want epoch", info.ModTime())
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, []byte("content")) {
		t.Fatalf("got %q, want %q", got, "content")
	}
}

func TestPagedBufferCleanupRemovesSpillFile(t *testing.T) {
	dir := t.TempDir()
	buf := NewPagedBuffer(dir, 1)
	if _, err := buf.Write([]byte("overflow")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	name := buf.file.Name()

	if err := buf.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Fatalf("spill file %s should have been removed", name)
	}
}
