// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"testing"
)

func TestRewriteSinkRewritesPaths(t *testing.T) {
	var out bytes.Buffer
	pat := "/store/packages/.staging/hello-1.0.0-0000000000000000000000000000000000000000000000000000000000000000"
	rep := "/store/packages/hello-1.0.0-fd53fe2392dc260e9cf414a39aeb43641c10ab48a726c58e76d06a7fe443d660"

	sink, err := NewRewriteSink(&out, pat, rep)
	if err != nil {
		t.Fatalf("NewRewriteSink: %v", err)
	}

	chunks := []string{
		"teteoetjnjwougyr.jwjn./store",
		"/packages/.staging/hello-1.0",
		".0-0000000000000000000000000",
		"0000000000000000000000000000",
		"00000000000ett833\x00etjj,3#/s",
		"tore/packages/.staging/hello",
		"-1.0.0-000000000000000000000",
		"0000000000000000000000000000",
		"000000000000000etkte72tjto'q",
	}
	for _, c := range chunks {
		if _, err := sink.Write([]byte(c)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	w, offsets, err := sink.IntoInner()
	if err != nil {
		t.Fatalf("IntoInner: %v", err)
	}
	patched := w.(*bytes.Buffer).String()

	expected := "teteoetjnjwougyr.jwjn./store/packages/hello-1.0.0-fd53fe2392dc260e9c" +
		"f414a39aeb43641c10ab48a726c58e76d06a7fe443d660/////////ett833\x00etjj,3#/store/package" +
		"s/hello-1.0.0-fd53fe2392dc260e9cf414a39aeb43641c10ab48a726c58e76d06a7fe443d660//////" +
		"///etkte72tjto'q"

	if patched != expected {
		t.Fatalf("patched output mismatch:\n got: %q\nwant: %q", patched, expected)
	}

	expectedOffsets := []uint64{22, 137}
	if len(offsets) != len(expectedOffsets) {
		t.Fatalf("offsets = %v, want %v", offsets, expectedOffsets)
	}
	for i, off := range expectedOffsets {
		if offsets[i] != off {
			t.Fatalf("offsets = %v, want %v", offsets, expectedOffsets)
		}
	}
}

func TestReferenceSinkDetectsReferencesShortChunks(t *testing.T) {
	var out bytes.Buffer
	sink := NewReferenceSink(&out)

	chunks := []string{
		"heotnuhox/store",
		"/packages/hell",
		"o-1.0.0-fd53fe2392dc2",
		"60e9cf414a39aeb43",
		"641c10ab48a726c58e76",
		"d06a7fe443d660/bin/he",
		"llo8hzeyxhu",
	}
	for _, c := range chunks {
		if _, err := sink.Write([]byte(c)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	id, err := ParseObjectId("fd53fe2392dc260e9cf414a39aeb43641c10ab48a726c58e76d06a7fe443d660")
	if err != nil {
		t.Fatal(err)
	}

	_, refs := sink.IntoInner()
	if _, ok := refs[id]; !ok || len(refs) != 1 {
		t.Fatalf("refs = %v, want {%v}", refs, id)
	}
}

func TestReferenceSinkDetectsReferencesLongChunks(t *testing.T) {
	var out bytes.Buffer
	sink := NewReferenceSink(&out)

	long := "oetnkjbm\x00motnhqj/store/packages/hello-1.0.0-fd53fe2392dc260e9cf414a39aeb43" +
		"641c10ab48a726c58e76d06a7fe443d660oetetihoxonitbon/store/packages/hola-1.0.0-066d344" +
		"ef7a60d67e85c627a84ba01c14634bea93a414fc9e062cd2932ef35df84fuhjteetidbk/store/packag" +
		"es/nihao-1.0.0-4605fc3d0d20b641146b7932ef6e86e963af8c41"

	if _, err := sink.Write([]byte(long)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := sink.Write([]byte("da4cf470d73639aac4a22e5e748k\n0")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	id1, _ := ParseObjectId("fd53fe2392dc260e9cf414a39aeb43641c10ab48a726c58e76d06a7fe443d660")
	id2, _ := ParseObjectId("066d344ef7a60d67e85c627a84ba01c14634bea93a414fc9e062cd2932ef35df")
	id3, _ := ParseObjectId("4605fc3d0d20b641146b7932ef6e86e963af8c41da4cf470d73639aac4a22e5e")

	_, refs := sink.IntoInner()
	for _, id := range []ObjectId{id1, id2, id3} {
		if _, ok := refs[id]; !ok {
			t.Errorf("missing expected reference %v in %v", id, refs)
		}
	}
	if len(refs) != 3 {
		t.Fatalf("refs = %v, want 3 entries", refs)
	}
}
