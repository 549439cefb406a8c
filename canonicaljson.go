// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"encoding/json"
)

// canonicalJSON encodes v as JSON with map keys sorted, mirroring the
// teacher's EncodeMsgpack(v, SetSortMapKeys(true)) idiom but targeting JSON,
// since object identity in this store is defined over canonical JSON rather
// than msgpack. Go's encoding/json already sorts map[string]T keys when
// marshaling, and the Tree/Package/Spec field order is fixed by struct
// field order, so this wrapper exists to name the invariant at call sites
// and to strip the trailing newline json.Encoder would otherwise add.
func canonicalJSON(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
