// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
)

// Server accepts connections speaking the framed protocol and serves
// FindMissing/SendPack/RecvPack against a Backend.
type Server struct {
	backend   Backend
	listener  net.Listener
	sessionID atomic.Uint64
}

// NewServer wraps backend behind a network-accessible Server.
func NewServer(backend Backend) *Server {
	return &Server{backend: backend}
}

// ListenAndServe accepts plain TCP connections on addr until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("store: listen %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

// ListenAndServeTLS accepts TLS connections on addr until ctx is cancelled.
func (s *Server) ListenAndServeTLS(ctx context.Context, addr string, cfg *tls.Config) error {
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("store: listen tls %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.listener = ln
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("store: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sessionID := s.sessionID.Add(1)
	clientTag, err := s.handleHello(conn, sessionID)
	if err != nil {
		slog.Error("[net] hello failed", "error", err, "addr", conn.RemoteAddr())
		return
	}
	slog.Info("[net] session established", "session_id", sessionID, "addr", conn.RemoteAddr(), "client_tag", clientTag)

	for {
		hdr := make([]byte, 16)
		if _, err := io.ReadFull(conn, hdr); err != nil {
			if err != io.EOF {
				slog.Error("[net] read frame header", "error", err, "session_id", sessionID)
			}
			return
		}
		length := binary.LittleEndian.Uint32(hdr[0:4])
		msgType := binary.LittleEndian.Uint16(hdr[4:6])
		reqID := binary.LittleEndian.Uint64(hdr[8:16])

		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			slog.Error("[net] read frame payload", "error", err, "session_id", sessionID)
			return
		}

		if err := s.dispatch(conn, sessionID, msgType, reqID, payload); err != nil {
			slog.Error("[net] dispatch failed", "error", err, "session_id", sessionID, "msg_type", msgType)
			return
		}
	}
}

func (s *Server) handleHello(conn net.Conn, sessionID uint64) (string, error) {
	hdr := make([]byte, 16)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return "", err
	}
	length := binary.LittleEndian.Uint32(hdr[0:4])
	msgType := binary.LittleEndian.Uint16(hdr[4:6])

	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return "", err
	}
	if msgType != msgHello {
		return "", fmt.Errorf("expected HELLO, got message type %d", msgType)
	}
	if len(payload) < 4 {
		return "", fmt.Errorf("%w: malformed hello", ErrInvalidResponse)
	}
	tagLen := binary.LittleEndian.Uint16(payload[2:4])
	clientTag := ""
	if int(4+tagLen) <= len(payload) {
		clientTag = string(payload[4 : 4+tagLen])
	}
	if clientTag == "" {
		clientTag = uuid.NewString()
	}

	resp := &bytes.Buffer{}
	_ = binary.Write(resp, binary.LittleEndian, sessionID)
	_ = binary.Write(resp, binary.LittleEndian, uint16(1))
	return clientTag, writeServerFrame(conn, msgHello, 0, resp.Bytes())
}

func (s *Server) dispatch(conn net.Conn, sessionID uint64, msgType uint16, reqID uint64, payload []byte) error {
	switch msgType {
	case msgFindMissing:
		return s.handleFindMissing(conn, reqID, payload)
	case msgSendPack:
		// Client is pushing: read a pack stream off the wire and insert it.
		return RecvPack(conn, s.backend, nil)
	case msgRecvPack:
		// Client is pulling: the request carries the exact (id, kind)
		// list it wants, normally the Missing field of a Delta it
		// obtained from a prior FindMissing call.
		nodes, err := decodeNodeRefList(payload)
		if err != nil {
			return writeServerError(conn, reqID, err)
		}
		return WritePack(conn, s.backend, nodes)
	default:
		return writeServerError(conn, reqID, fmt.Errorf("unknown message type %d", msgType))
	}
}

func (s *Server) handleFindMissing(conn net.Conn, reqID uint64, payload []byte) error {
	ids, err := decodeIDList(payload)
	if err != nil {
		return writeServerError(conn, reqID, err)
	}

	delta, err := NewLocalSource(s.backend).FindMissing(AsDestination(s.backend), ids)
	if err != nil {
		return writeServerError(conn, reqID, err)
	}

	resp := &bytes.Buffer{}
	_ = binary.Write(resp, binary.LittleEndian, uint32(delta.NumPresent))
	_ = binary.Write(resp, binary.LittleEndian, uint32(len(delta.Missing)))
	for _, node := range delta.Missing {
		resp.Write(node.ID[:])
		resp.WriteByte(byte(node.Kind))
	}
	return writeServerFrame(conn, msgFindMissing, reqID, resp.Bytes())
}

func decodeNodeRefList(payload []byte) ([]NodeRef, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: node list too short", ErrInvalidResponse)
	}
	n := binary.LittleEndian.Uint32(payload[0:4])
	const entrySize = Size + 1
	nodes := make([]NodeRef, 0, n)
	off := 4
	for i := uint32(0); i < n; i++ {
		if off+entrySize > len(payload) {
			return nil, fmt.Errorf("%w: node list truncated", ErrInvalidResponse)
		}
		var id ObjectId
		copy(id[:], payload[off:off+Size])
		kind := ObjectKind(payload[off+Size])
		nodes = append(nodes, NodeRef{ID: id, Kind: kind})
		off += entrySize
	}
	return nodes, nil
}

func decodeIDList(payload []byte) ([]ObjectId, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: id list too short", ErrInvalidResponse)
	}
	n := binary.LittleEndian.Uint32(payload[0:4])
	ids := make([]ObjectId, 0, n)
	off := 4
	for i := uint32(0); i < n; i++ {
		if off+Size > len(payload) {
			return nil, fmt.Errorf("%w: id list truncated", ErrInvalidResponse)
		}
		var id ObjectId
		copy(id[:], payload[off:off+Size])
		ids = append(ids, id)
		off += Size
	}
	return ids, nil
}

func writeServerFrame(conn net.Conn, msgType uint16, reqID uint64, payload []byte) error {
	header := &bytes.Buffer{}
	_ = binary.Write(header, binary.LittleEndian, uint32(len(payload)))
	_ = binary.Write(header, binary.LittleEndian, msgType)
	_ = binary.Write(header, binary.LittleEndian, uint16(0))
	_ = binary.Write(header, binary.LittleEndian, reqID)
	_, err := conn.Write(append(header.Bytes(), payload...))
	return err
}

func writeServerError(conn net.Conn, reqID uint64, err error) error {
	detail := err.Error()
	payload := &bytes.Buffer{}
	_ = binary.Write(payload, binary.LittleEndian, uint32(1))
	_ = binary.Write(payload, binary.LittleEndian, uint32(len(detail)))
	payload.WriteString(detail)
	return writeServerFrame(conn, msgError, reqID, payload.Bytes())
}
