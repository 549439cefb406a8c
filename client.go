// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Client for the store-to-store copy protocol (§4.8): a length-prefixed
// framed TCP(+TLS) protocol that carries a FindMissing request/response and
// a raw pack stream for SendPack/RecvPack.
//
//	client, err := store.Dial("localhost:7777")
//	// For production with TLS:
//	// client, err := store.DialTLS("your-host:7777")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	delta, err := client.FindMissing(context.Background(), pkgIDs)

package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ebkalderon/storepack/pack"
)

// Binary protocol message types.
const (
	msgHello       uint16 = 1
	msgFindMissing uint16 = 2
	msgSendPack    uint16 = 3
	msgRecvPack    uint16 = 4
	msgError       uint16 = 255
)

// Default timeouts.
const (
	DefaultDialTimeout    = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// Client handles the framed protocol's request/response side with a store
// server. Pack transfer (SendPack/RecvPack) switches the same connection
// into raw pack-stream framing for the remainder of an exchange.
type Client struct {
	conn      net.Conn
	mu        sync.Mutex
	reqID     atomic.Uint64
	timeout   time.Duration
	closed    bool
	sessionID uint64
	clientTag string
}

// Option configures client behavior.
type Option func(*clientOptions)

type clientOptions struct {
	dialTimeout    time.Duration
	requestTimeout time.Duration
	clientTag      string
}

// WithDialTimeout sets the connection timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.dialTimeout = d }
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.requestTimeout = d }
}

// WithClientTag sets the client identifier tag sent in the HELLO handshake.
// If unset, a random uuid is generated so server logs can still correlate a
// session to a single connecting process.
func WithClientTag(tag string) Option {
	return func(o *clientOptions) { o.clientTag = tag }
}

// Dial connects to a store server at addr using plain TCP.
func Dial(addr string, opts ...Option) (*Client, error) {
	options := newClientOptions(opts)
	conn, err := net.DialTimeout("tcp", addr, options.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("store dial: %w", err)
	}
	return newClient(conn, options)
}

// DialTLS connects to a store server at addr using TLS.
func DialTLS(addr string, opts ...Option) (*Client, error) {
	options := newClientOptions(opts)
	dialer := &net.Dialer{Timeout: options.dialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{})
	if err != nil {
		return nil, fmt.Errorf("store dial tls: %w", err)
	}
	return newClient(conn, options)
}

func newClientOptions(opts []Option) clientOptions {
	options := clientOptions{
		dialTimeout:    DefaultDialTimeout,
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.clientTag == "" {
		options.clientTag = uuid.NewString()
	}
	return options
}

func newClient(conn net.Conn, options clientOptions) (*Client, error) {
	client := &Client{
		conn:      conn,
		timeout:   options.requestTimeout,
		clientTag: options.clientTag,
	}
	if err := client.sendHello(options.clientTag); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store hello: %w", err)
	}
	return client, nil
}

// Close closes the connection to the server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// SessionID returns the session ID assigned by the server during HELLO.
func (c *Client) SessionID() uint64 { return c.sessionID }

// ClientTag returns the client tag used for this connection.
func (c *Client) ClientTag() string { return c.clientTag }

func (c *Client) sendHello(clientTag string) error {
	payload := &bytes.Buffer{}
	_ = binary.Write(payload, binary.LittleEndian, uint16(1)) // protocol version
	_ = binary.Write(payload, binary.LittleEndian, uint16(len(clientTag)))
	payload.WriteString(clientTag)

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	reqID := c.reqID.Add(1)
	if err := c.writeFrame(msgHello, reqID, payload.Bytes()); err != nil {
		return err
	}

	resp, err := c.readFrame()
	if err != nil {
		return err
	}
	if resp.msgType == msgError {
		return parseServerError(resp.payload)
	}
	if resp.msgType != msgHello {
		return fmt.Errorf("unexpected response type: %d", resp.msgType)
	}
	if len(resp.payload) >= 8 {
		c.sessionID = binary.LittleEndian.Uint64(resp.payload[0:8])
	}
	return nil
}

// FindMissing asks the server which of pkgIDs' closures it is missing.
func (c *Client) FindMissing(ctx context.Context, pkgIDs []ObjectId) (Delta, error) {
	payload := &bytes.Buffer{}
	_ = binary.Write(payload, binary.LittleEndian, uint32(len(pkgIDs)))
	for _, id := range pkgIDs {
		payload.Write(id[:])
	}

	resp, err := c.sendRequest(ctx, msgFindMissing, payload.Bytes())
	if err != nil {
		return Delta{}, fmt.Errorf("find missing: %w", err)
	}
	return decodeDeltaPayload(resp.payload)
}

func decodeDeltaPayload(payload []byte) (Delta, error) {
	if len(payload) < 8 {
		return Delta{}, fmt.Errorf("%w: find_missing response too short", ErrInvalidResponse)
	}
	numPresent := binary.LittleEndian.Uint32(payload[0:4])
	numMissing := binary.LittleEndian.Uint32(payload[4:8])

	const entrySize = Size + 1
	off := 8
	missing := make([]NodeRef, 0, numMissing)
	for i := uint32(0); i < numMissing; i++ {
		if off+entrySize > len(payload) {
			return Delta{}, fmt.Errorf("%w: find_missing response truncated", ErrInvalidResponse)
		}
		var id ObjectId
		copy(id[:], payload[off:off+Size])
		kind := ObjectKind(payload[off+Size])
		missing = append(missing, NodeRef{ID: id, Kind: kind})
		off += entrySize
	}
	return Delta{NumPresent: int(numPresent), Missing: missing}, nil
}

// SendPack switches the connection into raw pack-stream framing and writes
// the objects named by missing (dependencies-first) to the server as part
// of a client-initiated push.
func (c *Client) SendPack(ctx context.Context, objs Objects, missing []NodeRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}

	deadline := c.deadlineFor(ctx)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	reqID := c.reqID.Add(1)
	if err := c.writeFrame(msgSendPack, reqID, nil); err != nil {
		return err
	}
	return WritePack(c.conn, objs, missing)
}

// RecvPack asks the server to stream the objects named by missing (as
// returned by a prior FindMissing call) and inserts each into dst as it
// arrives.
func (c *Client) RecvPack(ctx context.Context, missing []NodeRef, dst Objects, progress chan<- pack.Progress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}

	deadline := c.deadlineFor(ctx)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	payload := &bytes.Buffer{}
	_ = binary.Write(payload, binary.LittleEndian, uint32(len(missing)))
	for _, node := range missing {
		payload.Write(node.ID[:])
		payload.WriteByte(byte(node.Kind))
	}

	reqID := c.reqID.Add(1)
	if err := c.writeFrame(msgRecvPack, reqID, payload.Bytes()); err != nil {
		return err
	}
	return RecvPack(c.conn, dst, progress)
}

func (c *Client) deadlineFor(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

// frame represents a binary protocol frame.
type frame struct {
	msgType uint16
	reqID   uint64
	payload []byte
}

func (c *Client) sendRequest(ctx context.Context, msgType uint16, payload []byte) (*frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	deadline := c.deadlineFor(ctx)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()

	reqID := c.reqID.Add(1)
	if err := c.writeFrame(msgType, reqID, payload); err != nil {
		return nil, err
	}

	resp, err := c.readFrame()
	if err != nil {
		return nil, err
	}
	if resp.msgType == msgError {
		return nil, parseServerError(resp.payload)
	}
	return resp, nil
}

func (c *Client) writeFrame(msgType uint16, reqID uint64, payload []byte) error {
	header := &bytes.Buffer{}
	_ = binary.Write(header, binary.LittleEndian, uint32(len(payload)))
	_ = binary.Write(header, binary.LittleEndian, msgType)
	_ = binary.Write(header, binary.LittleEndian, uint16(0)) // flags
	_ = binary.Write(header, binary.LittleEndian, reqID)

	_, err := c.conn.Write(append(header.Bytes(), payload...))
	return err
}

func (c *Client) readFrame() (*frame, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	msgType := binary.LittleEndian.Uint16(header[4:6])
	reqID := binary.LittleEndian.Uint64(header[8:16])

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return &frame{msgType: msgType, reqID: reqID, payload: payload}, nil
}

func parseServerError(payload []byte) error {
	if len(payload) < 8 {
		return &ServerError{Code: 0, Detail: "unknown error"}
	}
	code := binary.LittleEndian.Uint32(payload[0:4])
	detailLen := binary.LittleEndian.Uint32(payload[4:8])
	detail := ""
	if int(detailLen) <= len(payload)-8 {
		detail = string(payload[8 : 8+detailLen])
	}
	return &ServerError{Code: code, Detail: detail}
}
