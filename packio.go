// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ebkalderon/storepack/pack"
)

// objectPackKind maps an Object to the pack.Kind byte its entry header
// carries, folding the blob executable bit into the kind the way §4.7
// requires (0=Blob, 1=Exec).
func objectPackKind(obj Object) pack.Kind {
	switch o := obj.(type) {
	case *Blob:
		if o.IsExecutable {
			return pack.KindExec
		}
		return pack.KindBlob
	case *Tree:
		return pack.KindTree
	case *Package:
		return pack.KindPackage
	case *Spec:
		return pack.KindSpec
	default:
		return pack.KindBlob
	}
}

// WritePack streams the objects named by nodes, in the given order, onto w
// in pack format. Callers that want a dependencies-first destination order
// should pass nodes from a reversed Closure result.
func WritePack(w io.Writer, objs Objects, nodes []NodeRef) error {
	pw := pack.NewWriter(w)
	for _, node := range nodes {
		obj, err := objs.GetObject(node.ID, &node.Kind)
		if err != nil {
			return err
		}

		var body io.Reader
		var size int64
		if blob, ok := obj.(*Blob); ok {
			r, err := blob.Open()
			if err != nil {
				return err
			}
			defer r.Close()
			body = r
			size = blob.Size()
		} else {
			data, err := canonicalJSON(obj)
			if err != nil {
				return fmt.Errorf("%w: marshal %s for pack: %v", ErrStructural, node.ID, err)
			}
			body = bytes.NewReader(data)
			size = int64(len(data))
		}

		if err := pw.WriteEntry(node.ID, objectPackKind(obj), uint64(size), body); err != nil {
			return err
		}
	}
	return pw.Finish()
}

// RecvPack reads a pack stream from r, inserting every object it yields
// into dst in arrival order (which must be dependencies-first, so each
// Package's references are already present when it is inserted). If
// progress is non-nil, Begin/Read/Finished events are sent on it; the
// caller owns closing the channel.
func RecvPack(r io.Reader, dst Objects, progress chan<- pack.Progress) error {
	pr := pack.NewReader(r)
	var receivedBytes, numObjects uint64

	for {
		hdr, body, err := pr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIntegrity, err)
		}

		if progress != nil {
			progress <- pack.Progress{Kind: pack.EventBegin, ID: hdr.ID, EntryKind: hdr.Kind, Size: hdr.Size}
		}

		obj, n, err := decodePackEntry(hdr, body)
		if err != nil {
			return err
		}
		receivedBytes += uint64(n)
		numObjects++

		if progress != nil {
			progress <- pack.Progress{Kind: pack.EventRead, BytesRead: uint64(n)}
		}

		if _, err := dst.InsertObject(obj); err != nil {
			return err
		}
	}

	if progress != nil {
		progress <- pack.Progress{Kind: pack.EventFinished, ReceivedBytes: receivedBytes, NumObjects: numObjects}
	}
	return nil
}

// decodePackEntry reads hdr's body, reconstructs the corresponding Object,
// and verifies its recomputed ID matches hdr.ID.
func decodePackEntry(hdr pack.EntryHeader, body io.Reader) (Object, int64, error) {
	var declaredID ObjectId
	copy(declaredID[:], hdr.ID[:])

	switch hdr.Kind {
	case pack.KindBlob, pack.KindExec:
		data, err := io.ReadAll(io.LimitReader(body, int64(hdr.Size)))
		if err != nil {
			return nil, 0, fmt.Errorf("store: read pack blob body: %w", err)
		}
		blob := NewBlob(data, hdr.Kind == pack.KindExec)
		if blob.ObjectId() != declaredID {
			return nil, 0, fmt.Errorf("%w: blob %s hash mismatch", ErrIntegrity, declaredID)
		}
		return blob, int64(len(data)), nil

	case pack.KindTree:
		var t Tree
		data, err := decodeJSONEntry(body, hdr.Size, &t)
		if err != nil {
			return nil, 0, err
		}
		if t.ObjectId() != declaredID {
			return nil, 0, fmt.Errorf("%w: tree %s hash mismatch", ErrIntegrity, declaredID)
		}
		return &t, int64(len(data)), nil

	case pack.KindPackage:
		var p Package
		data, err := decodeJSONEntry(body, hdr.Size, &p)
		if err != nil {
			return nil, 0, err
		}
		if p.ObjectId() != declaredID {
			return nil, 0, fmt.Errorf("%w: package %s hash mismatch", ErrIntegrity, declaredID)
		}
		return &p, int64(len(data)), nil

	case pack.KindSpec:
		var s Spec
		data, err := decodeJSONEntry(body, hdr.Size, &s)
		if err != nil {
			return nil, 0, err
		}
		if s.ObjectId() != declaredID {
			return nil, 0, fmt.Errorf("%w: spec %s hash mismatch", ErrIntegrity, declaredID)
		}
		return &s, int64(len(data)), nil

	default:
		return nil, 0, fmt.Errorf("%w: unknown pack entry kind %d", ErrIntegrity, hdr.Kind)
	}
}

func decodeJSONEntry(body io.Reader, size uint64, v any) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, int64(size)))
	if err != nil {
		return nil, fmt.Errorf("store: read pack entry body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("%w: unmarshal pack entry: %v", ErrIntegrity, err)
	}
	return data, nil
}
