// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// elfMagic and machOMagics identify executable formats by their leading
// bytes, enough to route RPATH patching without a full format parser.
var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

var machOMagics = [][]byte{
	{0xfe, 0xed, 0xfa, 0xce}, // 32-bit big-endian
	{0xfe, 0xed, 0xfa, 0xcf}, // 64-bit big-endian
	{0xce, 0xfa, 0xed, 0xfe}, // 32-bit little-endian
	{0xcf, 0xfa, 0xed, 0xfe}, // 64-bit little-endian
	{0xca, 0xfe, 0xba, 0xbe}, // fat binary
}

// detectBinaryFormat peeks at the first 4 bytes of path.
func detectBinaryFormat(path string) (isELF, isMachO bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return false, false, err
	}
	defer f.Close()

	var head [4]byte
	n, err := f.Read(head[:])
	if n < 4 {
		return false, false, nil
	}
	_ = err

	if bytes.Equal(head[:], elfMagic) {
		return true, false, nil
	}
	for _, magic := range machOMagics {
		if bytes.Equal(head[:], magic) {
			return false, true, nil
		}
	}
	return false, false, nil
}

// patchRPaths rewrites every RPATH entry on path that starts with outDir to
// "$ORIGIN/<relative-to-outDir>", so the binary keeps resolving its runtime
// dependencies after outDir is replaced by its final install location.
// Mach-O binaries are not supported and return ErrUnimplemented.
func patchRPaths(path, outDir string) error {
	isELF, isMachO, err := detectBinaryFormat(path)
	if err != nil {
		return fmt.Errorf("store: detect binary format of %s: %w", path, err)
	}
	switch {
	case isELF:
		return patchELFRPaths(path, outDir)
	case isMachO:
		return fmt.Errorf("%w: Mach-O RPATH patching is not supported (%s)", ErrUnimplemented, path)
	default:
		return nil
	}
}

func patchELFRPaths(path, outDir string) error {
	out, err := exec.Command("patchelf", "--print-rpath", path).Output()
	if err != nil {
		return fmt.Errorf("store: patchelf --print-rpath %s: %w", path, err)
	}

	current := strings.TrimSpace(string(out))
	if current == "" {
		return nil
	}

	entries := strings.Split(current, ":")
	changed := false
	for i, entry := range entries {
		if !strings.HasPrefix(entry, outDir) {
			continue
		}
		rel, err := filepath.Rel(outDir, entry)
		if err != nil {
			return fmt.Errorf("store: compute relative rpath for %s: %w", entry, err)
		}
		entries[i] = filepath.Join("$ORIGIN", rel)
		changed = true
	}
	if !changed {
		return nil
	}

	newRPath := strings.Join(entries, ":")
	cmd := exec.Command("patchelf", "--force-rpath", "--set-rpath", newRPath, path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("store: patchelf --set-rpath %s: %w", path, err)
	}
	return nil
}
