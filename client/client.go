// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client implements the consumer side of UFDP. A Client holds one session with
// a provider node and fetches content through it one request at a time. Every block is
// checked against its ciphertext commitment, its decryption key proof and the content
// tree before it is handed out.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	pod "github.com/blinklabs-io/ursa-pod"
	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/blinklabs-io/ursa-pod/frame"
)

// TerminationError is returned when the server ends the session
type TerminationError = pod.TerminationError

var (
	ErrIO                = pod.ErrConnectionIO
	ErrUnknown           = errors.New("protocol violation")
	ErrIncomplete        = errors.New("content incomplete")
	ErrContentNotFound   = errors.New("content not found")
	ErrNoSecretKey       = errors.New("client has no secret key")
	ErrServerKeyMismatch = errors.New("server key does not match")
	ErrStreamActive      = errors.New("a content stream is already active")
	ErrSessionClosed     = errors.New("session closed")
)

// Client is one UFDP session with a provider node
type Client struct {
	config    Config
	conn      *pod.Connection
	logger    *slog.Logger
	publicKey crypto.ClientPublicKey

	serverKey    crypto.NodePublicKey
	lane         uint8
	epoch        uint64
	nonce        [32]byte
	laneBytes    uint64
	blockCounter uint64

	mutex  sync.Mutex
	active *ContentStream
	err    error
}

// New runs the handshake over conn and returns a Client ready to request content. The
// connection is closed if the handshake fails.
func New(conn io.ReadWriteCloser, options ...Option) (*Client, error) {
	cfg := NewConfig(options...)
	if cfg.SecretKey == nil {
		_ = conn.Close()
		return nil, ErrNoSecretKey
	}
	podConn, err := pod.NewConnection(
		pod.WithConnection(conn),
		pod.WithLogger(cfg.Logger.With("role", "client")),
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c := &Client{
		config:    cfg,
		conn:      podConn,
		logger:    podConn.Logger(),
		publicKey: cfg.SecretKey.PublicKey(),
	}
	if err := c.handshake(); err != nil {
		_ = podConn.Close()
		return nil, err
	}
	return c, nil
}

// Dial connects to a node and runs the handshake
func Dial(ctx context.Context, network string, address string, options ...Option) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", pod.ProtocolName, ErrIO, err)
	}
	return New(conn, options...)
}

func (c *Client) handshake() error {
	req := &frame.HandshakeRequest{
		Version:     frame.ProtocolVersion,
		Compression: uint8(c.config.Compression),
		Lane:        c.config.Lane,
		Pubkey:      c.publicKey,
	}
	if err := c.conn.WriteFrame(req); err != nil {
		return err
	}
	f, err := c.conn.ReadFrame(frame.MaskOf(frame.TagHandshakeResponse, frame.TagTerminationSignal))
	if err != nil {
		return c.readError(err)
	}
	if sig, ok := f.(*frame.TerminationSignal); ok {
		return pod.NewTerminationError(sig)
	}
	resp := f.(*frame.HandshakeResponse)
	serverKey, err := crypto.NodePublicKeyFromWire(resp.Pubkey)
	if err != nil {
		return fmt.Errorf("%s: server key: %w", pod.ProtocolName, err)
	}
	if c.config.ServerKey != nil && *c.config.ServerKey != serverKey {
		return fmt.Errorf("%s: %w: got %s", pod.ProtocolName, ErrServerKeyMismatch, serverKey)
	}
	if int(resp.Lane) >= frame.MaxLanes ||
		(c.config.Lane != frame.LaneNone && resp.Lane != c.config.Lane) {
		return fmt.Errorf("%s: %w: server assigned lane %d", pod.ProtocolName, ErrUnknown, resp.Lane)
	}
	c.serverKey = serverKey
	c.lane = resp.Lane
	c.epoch = resp.EpochNonce
	c.nonce = crypto.SessionNonce(c.epoch, c.lane, c.serverKey, c.publicKey)
	c.logger = c.logger.With("server", serverKey.String(), "lane", c.lane)
	if resp.Last != nil {
		ok := c.config.Suite.Acks.VerifyDeliveryAcknowledgment(
			c.publicKey,
			c.lane,
			c.nonce,
			c.serverKey,
			resp.Last.Bytes,
			resp.Last.Signature,
		)
		if !ok {
			err := fmt.Errorf("%s: %w: lane resumption data", pod.ProtocolName, crypto.ErrInvalidSignature)
			c.logger.Error("server sent a forged lane acknowledgment", "malicious", true, "error", err)
			return err
		}
		c.laneBytes = resp.Last.Bytes
	}
	c.logger.Debug(
		"handshake complete",
		"epoch", c.epoch,
		"resumed_bytes", c.laneBytes,
	)
	return nil
}

// ServerKey returns the public key of the node
func (c *Client) ServerKey() crypto.NodePublicKey {
	return c.serverKey
}

// Lane returns the lane the session runs on
func (c *Client) Lane() uint8 {
	return c.lane
}

// Epoch returns the current epoch of the session
func (c *Client) Epoch() uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.epoch
}

// LaneBytes returns the number of bytes acknowledged on the lane in the current epoch
func (c *Client) LaneBytes() uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.laneBytes
}

// Request fetches a whole content
func (c *Client) Request(ctx context.Context, hash [32]byte) (*ContentStream, error) {
	return c.request(ctx, hash, 0, 0, false, 0)
}

// RequestRange fetches chunks blocks of a content starting at block start
func (c *Client) RequestRange(ctx context.Context, hash [32]byte, start uint64, chunks uint16) (*ContentStream, error) {
	return c.request(ctx, hash, start, chunks, true, 0)
}

// RequestRangeWithLeaves is RequestRange for a content whose block count is known. The
// first block is then checked against the exact position of block start in the tree,
// which the root hash alone cannot pin down for a range that does not start at 0.
func (c *Client) RequestRangeWithLeaves(ctx context.Context, hash [32]byte, leaves int, start uint64, chunks uint16) (*ContentStream, error) {
	if leaves < 1 {
		return nil, fmt.Errorf("%s: invalid block count %d", pod.ProtocolName, leaves)
	}
	return c.request(ctx, hash, start, chunks, true, leaves)
}

// Fetch requests a whole content and copies it to w
func (c *Client) Fetch(ctx context.Context, hash [32]byte, w io.Writer) (int64, error) {
	stream, err := c.Request(ctx, hash)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, stream)
	if err != nil {
		_ = stream.Close()
		return n, err
	}
	return n, stream.Close()
}

func (c *Client) request(ctx context.Context, hash [32]byte, start uint64, chunks uint16, ranged bool, leaves int) (*ContentStream, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionClosed, c.err)
	}
	if c.active != nil {
		return nil, ErrStreamActive
	}
	var req frame.Frame
	if ranged {
		req = &frame.ContentRangeRequest{Hash: hash, ChunkStart: start, Chunks: chunks}
	} else {
		req = &frame.ContentRequest{Hash: hash}
	}
	if err := c.conn.WriteFrame(req); err != nil {
		c.err = err
		return nil, err
	}
	s := newContentStream(ctx, c, hash, start, chunks, ranged, leaves)
	c.active = s
	return s, nil
}

// release is called by a stream when it finishes. A request the server ended cleanly
// keeps the session usable, any other error closes it.
func (c *Client) release(s *ContentStream, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.active == s {
		c.active = nil
	}
	if err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, ErrContentNotFound) ||
		errors.Is(err, ErrIncomplete) {
		return
	}
	if c.err == nil {
		c.err = err
		_ = c.conn.Close()
	}
}

func (c *Client) updateEpoch(epoch uint64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.logger.Debug("epoch changed", "old_epoch", c.epoch, "epoch", epoch)
	c.epoch = epoch
	c.nonce = crypto.SessionNonce(epoch, c.lane, c.serverKey, c.publicKey)
	c.laneBytes = 0
}

// readError maps a read failure. Unexpected frames are reported to the server and a
// clean EOF in the middle of a session is unexpected.
func (c *Client) readError(err error) error {
	if errors.Is(err, frame.ErrUnexpectedFrame) {
		return c.terminate(err)
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w: %w", pod.ProtocolName, ErrIO, io.ErrUnexpectedEOF)
	}
	return err
}

// malicious logs a failed check on data sent by the server and terminates the session
func (c *Client) malicious(err error, args ...any) error {
	args = append(args, "malicious", true, "error", err)
	c.logger.Error("server failed verification", args...)
	return c.terminate(err)
}

// terminate sends a termination signal and returns err
func (c *Client) terminate(err error) error {
	reason := frame.ReasonUnknown
	if errors.Is(err, frame.ErrUnexpectedFrame) {
		reason = frame.ReasonUnexpectedFrame
	}
	sig := &frame.TerminationSignal{Reason: reason}
	if wErr := c.conn.WriteFrameTimeout(sig, c.config.TerminationTimeout); wErr != nil {
		c.logger.Debug("failed to send termination signal", "error", wErr)
	}
	return err
}

// Close ends the session
func (c *Client) Close() error {
	c.mutex.Lock()
	if c.err == nil {
		c.err = ErrSessionClosed
	}
	c.mutex.Unlock()
	return c.conn.Close()
}
