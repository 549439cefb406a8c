// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package store implements a content-addressable package store: packages are
// stored as Merkle DAGs of immutable, hash-named objects on disk and
// materialized into usable directories by hard-linking and symlinking.
//
// # Object model
//
// Four object kinds make up the DAG: Blob (file content), Tree (directory
// listing), Package (a named, installable unit referencing a Tree and other
// Packages), and Spec (a build recipe). Every object's ID is the BLAKE3 hash
// of its content under a domain-separated tag, so identity equals content.
//
// # Basic usage
//
//	st, err := store.Open("/var/lib/store")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := st.InsertObject(store.NewBlob([]byte("hello"), false))
//	blob, err := store.GetBlob(st, id)
package store
