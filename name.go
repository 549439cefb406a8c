// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import "fmt"

// MaxPackageNameLength is the longest permitted package name.
const MaxPackageNameLength = 191

// ValidatePackageName checks name against the package-name character class:
// non-empty, at most MaxPackageNameLength bytes, not starting with '.', and
// containing only ASCII alphanumerics plus '+', '-', '.', '_', '?', '='.
func ValidatePackageName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: package name must not be empty", ErrParse)
	}
	if len(name) > MaxPackageNameLength {
		return fmt.Errorf("%w: package name %q exceeds %d characters", ErrParse, name, MaxPackageNameLength)
	}
	if name[0] == '.' {
		return fmt.Errorf("%w: package name %q must not start with '.'", ErrParse, name)
	}
	for _, c := range name {
		if !isPackageNameChar(c) {
			return fmt.Errorf("%w: package name %q contains invalid character %q", ErrParse, name, c)
		}
	}
	return nil
}

// isPackageNameChar reports whether c is permitted in a package name:
// ASCII alphanumeric, or one of "+-._?=".
func isPackageNameChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '+', c == '-', c == '.', c == '_', c == '?', c == '=':
		return true
	default:
		return false
	}
}
