// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import "path/filepath"

// Config holds the tunables for an open store handle.
type Config struct {
	root            string
	tempDir         string
	spillThreshold  int64
	defaultPlatform Platform
}

// Option configures a Config. Construct one with Open.
type Option func(*Config)

func defaultConfig(root string) *Config {
	return &Config{
		root:           root,
		tempDir:        filepath.Join(root, ".tmp"),
		spillThreshold: DefaultSpillThreshold,
	}
}

// WithTempDir overrides the staging directory used for atomic renames. It
// must live on the same filesystem as root for rename-based atomicity to
// hold.
func WithTempDir(dir string) Option {
	return func(c *Config) { c.tempDir = dir }
}

// WithSpillThreshold records a paged-buffer spill threshold on the Config.
// The paged buffers BuildPackageFromSource creates do not read it; they
// always use DefaultSpillThreshold.
func WithSpillThreshold(n int64) Option {
	return func(c *Config) { c.spillThreshold = n }
}

// WithDefaultPlatform records a default platform on the Config. No
// operation in this package reads it; BuildPackageFromSource takes the
// platform as an explicit argument.
func WithDefaultPlatform(p Platform) Option {
	return func(c *Config) { c.defaultPlatform = p }
}
