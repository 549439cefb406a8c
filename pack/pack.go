// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package pack implements the binary, index-less, stream-friendly wire
// format used to ship a set of objects between two stores: an 11-byte
// header, then one 41-byte entry header plus raw/JSON payload per object,
// terminated by a 41-byte zero footer.
//
// This package knows nothing about the object model itself — an ID is a
// bare 32-byte digest and a kind is a bare byte — so that the store's
// object-hashing logic stays in the root package and this package stays
// reusable as pure framing.
package pack

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic is the fixed 10-byte string opening every pack stream.
const Magic = "store-pack"

// Version is the pack format version this package reads and writes.
const Version byte = 1

// IDSize is the length in bytes of an entry ID.
const IDSize = 32

// headerSize is len(Magic) + 1 version byte.
const headerSize = len(Magic) + 1

// entryHeaderSize is IDSize + 1 kind byte + 8 size bytes.
const entryHeaderSize = IDSize + 1 + 8

// Kind tags the type of object an entry carries.
type Kind byte

const (
	KindBlob Kind = iota
	KindExec
	KindTree
	KindPackage
	KindSpec
)

// ErrBadMagic is returned when a stream does not open with Magic.
var ErrBadMagic = errors.New("pack: bad magic")

// ErrUnsupportedVersion is returned when a stream declares a version this
// package does not understand.
var ErrUnsupportedVersion = errors.New("pack: unsupported version")

// ErrTrailingData is returned when bytes follow the null footer.
var ErrTrailingData = errors.New("pack: trailing data after footer")

// EntryHeader is the 41-byte header preceding every entry's payload.
type EntryHeader struct {
	ID   [IDSize]byte
	Kind Kind
	Size uint64
}

func (h EntryHeader) isFooter() bool {
	if h.Kind != 0 || h.Size != 0 {
		return false
	}
	for _, b := range h.ID {
		if b != 0 {
			return false
		}
	}
	return true
}

func (h EntryHeader) encode() []byte {
	buf := make([]byte, entryHeaderSize)
	copy(buf[:IDSize], h.ID[:])
	buf[IDSize] = byte(h.Kind)
	binary.BigEndian.PutUint64(buf[IDSize+1:], h.Size)
	return buf
}

func decodeEntryHeader(buf []byte) EntryHeader {
	var h EntryHeader
	copy(h.ID[:], buf[:IDSize])
	h.Kind = Kind(buf[IDSize])
	h.Size = binary.BigEndian.Uint64(buf[IDSize+1:])
	return h
}

// Writer streams entries onto an underlying io.Writer in pack format.
type Writer struct {
	w        io.Writer
	wroteHdr bool
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader emits the 11-byte stream header. It is called automatically
// by the first WriteEntry if omitted.
func (pw *Writer) WriteHeader() error {
	if pw.wroteHdr {
		return nil
	}
	buf := make([]byte, 0, headerSize)
	buf = append(buf, Magic...)
	buf = append(buf, Version)
	if _, err := pw.w.Write(buf); err != nil {
		return fmt.Errorf("pack: write header: %w", err)
	}
	pw.wroteHdr = true
	return nil
}

// WriteEntry writes one entry header followed by size bytes copied from
// body.
func (pw *Writer) WriteEntry(id [IDSize]byte, kind Kind, size uint64, body io.Reader) error {
	if err := pw.WriteHeader(); err != nil {
		return err
	}
	hdr := EntryHeader{ID: id, Kind: kind, Size: size}
	if _, err := pw.w.Write(hdr.encode()); err != nil {
		return fmt.Errorf("pack: write entry header: %w", err)
	}
	n, err := io.Copy(pw.w, body)
	if err != nil {
		return fmt.Errorf("pack: write entry body: %w", err)
	}
	if uint64(n) != size {
		return fmt.Errorf("pack: entry body short write: wrote %d, declared %d", n, size)
	}
	return nil
}

// Finish writes the null footer that terminates the stream.
func (pw *Writer) Finish() error {
	if err := pw.WriteHeader(); err != nil {
		return err
	}
	footer := EntryHeader{}.encode()
	if _, err := pw.w.Write(footer); err != nil {
		return fmt.Errorf("pack: write footer: %w", err)
	}
	return nil
}

// Reader parses a pack stream lazily, one entry at a time.
type Reader struct {
	r       io.Reader
	readHdr bool
	done    bool
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (pr *Reader) readStreamHeader() error {
	if pr.readHdr {
		return nil
	}
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(pr.r, buf); err != nil {
		return fmt.Errorf("pack: read header: %w", err)
	}
	if string(buf[:len(Magic)]) != Magic {
		return ErrBadMagic
	}
	if buf[len(Magic)] != Version {
		return ErrUnsupportedVersion
	}
	pr.readHdr = true
	return nil
}

// Next returns the next entry's header and a reader bounded to exactly its
// payload size. It returns io.EOF once the null footer has been consumed;
// any bytes after that are an ErrTrailingData.
func (pr *Reader) Next() (EntryHeader, io.Reader, error) {
	if pr.done {
		return EntryHeader{}, nil, io.EOF
	}
	if err := pr.readStreamHeader(); err != nil {
		return EntryHeader{}, nil, err
	}

	buf := make([]byte, entryHeaderSize)
	if _, err := io.ReadFull(pr.r, buf); err != nil {
		return EntryHeader{}, nil, fmt.Errorf("pack: read entry header: %w", err)
	}
	hdr := decodeEntryHeader(buf)
	if hdr.isFooter() {
		pr.done = true
		if extra, err := pr.r.Read(make([]byte, 1)); extra > 0 || (err != nil && err != io.EOF) {
			return EntryHeader{}, nil, ErrTrailingData
		}
		return EntryHeader{}, nil, io.EOF
	}

	return hdr, io.LimitReader(pr.r, int64(hdr.Size)), nil
}

// EventKind tags the variant of a Progress event.
type EventKind int

const (
	EventBegin EventKind = iota
	EventRead
	EventFinished
)

// Progress is one event emitted while a pack stream is read by the store
// package's RecvPack: Begin when an entry header is parsed, Read once an
// entry's body has been consumed, and Finished when the null footer is seen.
type Progress struct {
	Kind          EventKind
	ID            [IDSize]byte
	EntryKind     Kind
	Size          uint64
	BytesRead     uint64
	ReceivedBytes uint64
	NumObjects    uint64
}
