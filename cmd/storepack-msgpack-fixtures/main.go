// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	store "github.com/ebkalderon/storepack"
)

type Fixture struct {
	Name       string `json:"name"`
	PayloadHex string `json:"payload_hex"`
	Notes      string `json:"notes,omitempty"`
}

func main() {
	outDir := flag.String("out", "tests/fixtures", "output directory for fixtures")
	flag.Parse()

	fixtures := []Fixture{
		blobFixture(),
		treeFixture(),
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}

	for _, fixture := range fixtures {
		path := filepath.Join(*outDir, fixture.Name+".json")
		data, err := json.MarshalIndent(fixture, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal %s: %v\n", fixture.Name, err)
			os.Exit(1)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			os.Exit(1)
		}
	}
}

func blobFixture() Fixture {
	payload, err := store.EncodeMsgpack(map[string]any{
		"kind":          "blob",
		"id":            store.NewBlob([]byte("hello"), false).ObjectId().String(),
		"is_executable": false,
		"size":          5,
	})
	if err != nil {
		panic(err)
	}
	return Fixture{
		Name:       "msgpack_blob",
		PayloadHex: hex.EncodeToString(payload),
		Notes:      "DumpMsgpack shape for a non-executable 5-byte blob.",
	}
}

func treeFixture() Fixture {
	tree := store.NewTree()
	tree.Entries["foo.txt"] = store.BlobEntry(store.NewBlob([]byte("hello"), false).ObjectId())
	payload, err := store.EncodeMsgpack(map[string]any{
		"entries": map[string]any{
			"foo.txt": map[string]any{"type": "Blob", "id": tree.Entries["foo.txt"].ID.String()},
		},
	})
	if err != nil {
		panic(err)
	}
	return Fixture{
		Name:       "msgpack_tree",
		PayloadHex: hex.EncodeToString(payload),
		Notes:      "DumpMsgpack shape for a single-entry tree.",
	}
}
