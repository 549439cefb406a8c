// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/zeebo/blake3"
)

// Size is the length in bytes of an ObjectId.
const Size = 32

// StrLength is the length of an ObjectId rendered as lowercase hex.
const StrLength = Size * 2

// ObjectId is a 256-bit BLAKE3 content digest. Ordering is lexicographic over
// the raw bytes, which makes ObjectId safe to use as a map key and a sort
// key.
type ObjectId [Size]byte

// ZeroID is the all-zero sentinel used as a placeholder for self-references
// before an object's final hash is known.
var ZeroID ObjectId

// IsZero reports whether id is the all-zero sentinel.
func (id ObjectId) IsZero() bool {
	return id == ZeroID
}

// String renders id as 64 lowercase hex characters.
func (id ObjectId) String() string {
	return hex.EncodeToString(id[:])
}

// Less reports whether id sorts before other, by raw byte value.
func (id ObjectId) Less(other ObjectId) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// PathSegments splits the hex encoding into a 2-char shard and a 62-char
// remainder, matching the on-disk objects/<2-hex>/<62-hex>.<ext> layout.
func (id ObjectId) PathSegments() (shard, rest string) {
	s := id.String()
	return s[:2], s[2:]
}

// MarshalJSON renders id as a JSON hex string.
func (id ObjectId) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON parses a JSON hex string into id.
func (id *ObjectId) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: object id must be a JSON string", ErrParse)
	}
	parsed, err := ParseObjectId(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalText renders id as hex, the form encoding/json requires of map
// keys (it consults TextMarshaler for key types it doesn't special-case).
func (id ObjectId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses a hex string into id, the counterpart MarshalText
// needs for json.Unmarshal to round-trip map[ObjectId]... keys.
func (id *ObjectId) UnmarshalText(data []byte) error {
	parsed, err := ParseObjectId(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseObjectId parses a 64-character lowercase hex string into an ObjectId.
func ParseObjectId(s string) (ObjectId, error) {
	var id ObjectId
	if len(s) != StrLength {
		return id, fmt.Errorf("%w: object id %q must be %d hex characters", ErrParse, s, StrLength)
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: object id %q: %v", ErrParse, s, err)
	}
	copy(id[:], decoded)
	return id, nil
}

// Hasher wraps a BLAKE3 hash and yields ObjectId values. The zero value is
// not usable; construct with NewHasher.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher creates a fresh content hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

// Update feeds bytes into the running hash and returns the receiver so calls
// can be chained.
func (h *Hasher) Update(p []byte) *Hasher {
	_, _ = h.h.Write(p)
	return h
}

// ParUpdate is equivalent to Update. BLAKE3's Go implementation already
// parallelizes internally above its SIMD chunk size, so no separate
// parallel code path is needed; the distinct name is kept so call sites
// that care about large inputs can say so.
func (h *Hasher) ParUpdate(p []byte) *Hasher {
	return h.Update(p)
}

// Finish returns the ObjectId of everything written so far.
func (h *Hasher) Finish() ObjectId {
	var id ObjectId
	sum := h.h.Sum(nil)
	copy(id[:], sum)
	return id
}

// HashWriter wraps an io.Writer, streaming every byte written to both the
// underlying sink and a running Hasher, so the object's ID can be computed
// without a second pass over the data.
type HashWriter struct {
	w      io.Writer
	hasher *Hasher
}

// NewHashWriter wraps w, optionally priming the hash with a header (the
// domain tag, e.g. "blob:" or "exec:").
func NewHashWriter(w io.Writer, header []byte) *HashWriter {
	hw := &HashWriter{w: w, hasher: NewHasher()}
	if len(header) > 0 {
		hw.hasher.Update(header)
	}
	return hw
}

// Write implements io.Writer, streaming p to both the sink and the hasher.
func (hw *HashWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.hasher.Update(p[:n])
	}
	return n, err
}

// ObjectId returns the running digest.
func (hw *HashWriter) ObjectId() ObjectId {
	return hw.hasher.Finish()
}

// IntoInner returns the wrapped writer.
func (hw *HashWriter) IntoInner() io.Writer {
	return hw.w
}

// compile-time assertion that blake3.Hasher satisfies hash.Hash, the
// interface this file's API is modeled after.
var _ hash.Hash = (*blake3.Hasher)(nil)
