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

// Package pod implements the transport side of the Ursa File Delivery Protocol (UFDP).
//
// A UFDP session is a strictly sequential exchange of binary frames over a reliable
// byte stream. Content blocks travel as raw buffers whose lengths are announced by the
// preceding frame, so the connection switches its decoder into take mode for them.
//
// The client and server state machines live in the client and server packages. The
// frame, tree and crypto packages can be used on their own.
package pod

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/ursa-pod/frame"
)

// ProtocolName is used as a prefix for errors and in log attributes
const ProtocolName = "ufdp"

const (
	// DefaultReadSize is the size of each read from the underlying stream
	DefaultReadSize = 16 * 1024
	// DefaultChunkSize is the chunk hint used when collecting whole buffers
	DefaultChunkSize = 64 * 1024
)

var (
	ErrConnectionIO     = errors.New("connection i/o error")
	ErrConnectionClosed = errors.New("connection closed")
	ErrAlreadyConnected = errors.New("a connection was already established")
)

// The Connection type is a wrapper around a byte stream that reads and writes UFDP frames
type Connection struct {
	conn       io.ReadWriteCloser
	name       string
	logger     *slog.Logger
	readSize   int
	readBuf    []byte
	readErr    error
	decoder    *frame.Decoder
	writer     *bufio.Writer
	writeMutex sync.Mutex
	onceClose  sync.Once
	closeErr   error
	closed     atomic.Bool
}

// NewConnection returns a new Connection object with the specified options
func NewConnection(options ...ConnectionOptionFunc) (*Connection, error) {
	c := &Connection{
		readSize: DefaultReadSize,
		decoder:  frame.NewDecoder(),
	}
	// Apply provided options functions
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.readSize <= 0 {
		return nil, fmt.Errorf("%s: invalid read size: %d", ProtocolName, c.readSize)
	}
	if c.conn != nil {
		c.setupConnection()
	}
	return c, nil
}

// Dial will establish a connection using the specified protocol and address. These
// parameters are passed to the [net.Dial] func
func (c *Connection) Dial(proto string, address string) error {
	if c.conn != nil {
		return ErrAlreadyConnected
	}
	conn, err := net.Dial(proto, address)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", ProtocolName, ErrConnectionIO, err)
	}
	c.conn = conn
	c.setupConnection()
	return nil
}

func (c *Connection) setupConnection() {
	c.readBuf = make([]byte, c.readSize)
	c.writer = bufio.NewWriter(c.conn)
	c.logger = c.logger.With(
		"component", "network",
		"protocol", ProtocolName,
	)
	if c.name != "" {
		c.logger = c.logger.With("connection_id", c.name)
	}
	if nc, ok := c.conn.(net.Conn); ok && nc.RemoteAddr() != nil {
		c.logger.Debug(
			"connection established",
			"remote_addr", nc.RemoteAddr().String(),
		)
	}
}

// Name returns the name given to the connection with WithName
func (c *Connection) Name() string {
	return c.name
}

// Logger returns the connection logger, which carries the connection attributes
func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// ReadFrame blocks until a complete frame is available. A non-zero mask restricts the
// accepted tags, and any other frame fails with frame.ErrUnexpectedFrame as soon as its
// tag byte arrives.
func (c *Connection) ReadFrame(mask frame.TagMask) (frame.Frame, error) {
	if c.conn == nil {
		return nil, ErrConnectionClosed
	}
	c.decoder.SetMask(mask)
	for {
		f, err := c.decoder.Next()
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, frame.ErrNeedMoreData) {
			return nil, fmt.Errorf("%s: %w", ProtocolName, err)
		}
		if err := c.fill(); err != nil {
			return nil, err
		}
	}
}

// fill reads once from the stream into the decoder
func (c *Connection) fill() error {
	if c.readErr != nil {
		return c.translateReadError(c.readErr)
	}
	n, err := c.conn.Read(c.readBuf)
	if n > 0 {
		c.decoder.Feed(c.readBuf[:n])
		if err != nil {
			// Hand back the data first and report the error on the next fill
			c.readErr = err
		}
		return nil
	}
	if err == nil {
		return nil
	}
	return c.translateReadError(err)
}

func (c *Connection) translateReadError(err error) error {
	if errors.Is(err, io.EOF) {
		if c.decoder.Taking() > 0 || c.decoder.Buffered() > 0 {
			return fmt.Errorf("%s: %w", ProtocolName, frame.ErrUnexpectedEOF)
		}
		return io.EOF
	}
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return fmt.Errorf("%s: %w: %w", ProtocolName, ErrConnectionIO, err)
}

// ReadBuffer primes the decoder to take the next n bytes as Buffer frames of at most
// chunkHint bytes. The chunks are then returned by ReadFrame.
func (c *Connection) ReadBuffer(n uint64, chunkHint int) error {
	if err := c.decoder.Take(n, chunkHint); err != nil {
		return fmt.Errorf("%s: %w", ProtocolName, err)
	}
	return nil
}

// ReadBufferFull reads exactly n raw bytes into a single slice. A zero length returns an
// empty slice without touching the stream.
func (c *Connection) ReadBufferFull(n uint64) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if err := c.ReadBuffer(n, DefaultChunkSize); err != nil {
		return nil, err
	}
	ret := make([]byte, 0, n)
	for uint64(len(ret)) < n {
		f, err := c.ReadFrame(frame.MaskNone)
		if err != nil {
			return nil, err
		}
		buf, ok := f.(*frame.Buffer)
		if !ok {
			return nil, fmt.Errorf("%s: %w: %s", ProtocolName, frame.ErrUnexpectedFrame, f.Tag())
		}
		ret = append(ret, buf.Data...)
	}
	return ret, nil
}

// WriteFrame encodes and flushes a single frame. Buffer frames are written as raw bytes.
func (c *Connection) WriteFrame(f frame.Frame) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	if c.writer == nil {
		return ErrConnectionClosed
	}
	var err error
	if buf, ok := f.(*frame.Buffer); ok {
		_, err = c.writer.Write(buf.Data)
	} else {
		_, err = c.writer.Write(frame.Encode(f))
	}
	if err == nil {
		err = c.writer.Flush()
	}
	if err != nil {
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		return fmt.Errorf("%s: %w: %w", ProtocolName, ErrConnectionIO, err)
	}
	return nil
}

// SetWriteDeadline bounds the next writes when the underlying stream supports
// deadlines. It is a no-op otherwise.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	if dc, ok := c.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		return dc.SetWriteDeadline(t)
	}
	return nil
}

// WriteFrameTimeout writes a frame, giving up after timeout on streams that support
// deadlines. Termination signals are sent this way since the peer may not be reading.
func (c *Connection) WriteFrameTimeout(f frame.Frame, timeout time.Duration) error {
	if err := c.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%s: %w: %w", ProtocolName, ErrConnectionIO, err)
	}
	err := c.WriteFrame(f)
	_ = c.SetWriteDeadline(time.Time{})
	return err
}

// Close will shutdown the connection. It is safe to call more than once
func (c *Connection) Close() error {
	c.onceClose.Do(func() {
		c.closed.Store(true)
		if c.conn != nil {
			c.closeErr = c.conn.Close()
			c.logger.Debug("connection closed")
		}
	})
	return c.closeErr
}
