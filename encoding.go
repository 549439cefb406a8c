// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeMsgpack encodes a value as msgpack with sorted map keys. Objects
// themselves are hashed and stored as canonical JSON (§4.3); this exists
// purely as an interop surface for out-of-repo tooling that consumes
// msgpack fixtures of a fetched object's JSON representation.
func EncodeMsgpack(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := msgpack.NewEncoder(buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMsgpackInto decodes msgpack data into the provided value.
func DecodeMsgpackInto(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// DumpMsgpack fetches id from objs and re-encodes its canonical JSON
// representation as msgpack, for the "storectl dump-msgpack" interop
// command.
func DumpMsgpack(objs Objects, id ObjectId, kind *ObjectKind) ([]byte, error) {
	obj, err := objs.GetObject(id, kind)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	switch o := obj.(type) {
	case *Blob:
		doc = map[string]any{
			"kind":          "blob",
			"id":            o.ObjectId().String(),
			"is_executable": o.IsExecutable,
			"size":          o.Size(),
		}
	default:
		body, err := canonicalJSON(obj)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, err
		}
	}

	return EncodeMsgpack(doc)
}
