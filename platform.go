// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"strings"
)

// Arch is a supported CPU architecture token in a platform triple.
type Arch string

const (
	ArchI686   Arch = "i686"
	ArchX86_64 Arch = "x86_64"
)

// OS is a supported operating system token in a platform triple.
type OS string

const (
	OSDarwin OS = "darwin"
	OSLinux  OS = "linux"
)

// Env is a supported libc environment token, required for linux and
// forbidden elsewhere.
type Env string

const (
	EnvGnu  Env = "gnu"
	EnvMusl Env = "musl"
)

// Platform is a target triple: <arch>-<os>[-<env>]. Env is required when OS
// is linux and must be empty otherwise.
type Platform struct {
	Arch Arch
	OS   OS
	Env  Env
}

// String renders the triple.
func (p Platform) String() string {
	if p.Env != "" {
		return fmt.Sprintf("%s-%s-%s", p.Arch, p.OS, p.Env)
	}
	return fmt.Sprintf("%s-%s", p.Arch, p.OS)
}

// MarshalJSON renders the platform as its triple string.
func (p Platform) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON parses a triple string into p.
func (p *Platform) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: platform must be a JSON string", ErrParse)
	}
	parsed, err := ParsePlatform(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePlatform parses a platform triple of the form <arch>-<os>[-<env>].
func ParsePlatform(s string) (Platform, error) {
	parts := strings.Split(s, "-")
	if len(parts) < 2 || len(parts) > 3 {
		return Platform{}, fmt.Errorf("%w: platform %q must have 2 or 3 '-'-separated components", ErrParse, s)
	}

	arch, err := parseArch(parts[0])
	if err != nil {
		return Platform{}, err
	}
	os, err := parseOS(parts[1])
	if err != nil {
		return Platform{}, err
	}

	var env Env
	if len(parts) == 3 {
		env, err = parseEnv(parts[2])
		if err != nil {
			return Platform{}, err
		}
	}

	if os == OSLinux && env == "" {
		return Platform{}, fmt.Errorf("%w: platform %q: linux requires an env component", ErrParse, s)
	}
	if os != OSLinux && env != "" {
		return Platform{}, fmt.Errorf("%w: platform %q: env is only valid for linux", ErrParse, s)
	}

	return Platform{Arch: arch, OS: os, Env: env}, nil
}

func parseArch(s string) (Arch, error) {
	switch Arch(s) {
	case ArchI686, ArchX86_64:
		return Arch(s), nil
	default:
		return "", fmt.Errorf("%w: unknown arch %q", ErrParse, s)
	}
}

func parseOS(s string) (OS, error) {
	switch OS(s) {
	case OSDarwin, OSLinux:
		return OS(s), nil
	default:
		return "", fmt.Errorf("%w: unknown os %q", ErrParse, s)
	}
}

func parseEnv(s string) (Env, error) {
	switch Env(s) {
	case EnvGnu, EnvMusl:
		return Env(s), nil
	default:
		return "", fmt.Errorf("%w: unknown env %q", ErrParse, s)
	}
}
