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

// Package server implements the provider side of UFDP. A Server accepts connections,
// runs the handshake and then serves content requests one block at a time, releasing
// each decryption key only after the client acknowledges the delivered bytes.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	pod "github.com/blinklabs-io/ursa-pod"
	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/google/uuid"
)

var (
	ErrNoNodeKey        = errors.New("server has no node key")
	ErrAlreadyServing   = errors.New("server is already serving")
	ErrInvalidChunkSize = errors.New("invalid chunk size")
)

// Server serves content from a Backend
type Server struct {
	config      Config
	backend     Backend
	logger      *slog.Logger
	lanes       *LaneManager
	connManager *ConnectionManager

	listenerMutex sync.Mutex
	listener      net.Listener
	serveDone     chan struct{}
	stopped       atomic.Bool
	wg            sync.WaitGroup
}

// NewServer returns a Server for the backend with the specified options
func NewServer(backend Backend, options ...Option) (*Server, error) {
	cfg := NewConfig(options...)
	if cfg.NodeKey == nil {
		return nil, ErrNoNodeKey
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, cfg.ChunkSize)
	}
	s := &Server{
		config:  cfg,
		backend: backend,
		logger:  cfg.Logger.With("role", "server"),
		lanes:   NewLaneManager(),
	}
	s.connManager = NewConnectionManager(ConnectionManagerConfig{
		MaxConnections: cfg.MaxConnections,
		ConnClosedFunc: s.connClosed,
	})
	return s, nil
}

func (s *Server) connClosed(connId uuid.UUID, err error) {
	if err != nil {
		s.logger.Debug(
			"connection closed with error",
			"connection_id", connId.String(),
			"error", err,
		)
		return
	}
	s.logger.Debug("connection closed", "connection_id", connId.String())
}

// PublicKey returns the node public key
func (s *Server) PublicKey() crypto.NodePublicKey {
	return s.config.NodeKey.PublicKey()
}

// Lanes returns the lane manager shared by every connection
func (s *Server) Lanes() *LaneManager {
	return s.lanes
}

// Connections returns the connection tracker
func (s *Server) Connections() *ConnectionManager {
	return s.connManager
}

// Serve accepts connections on the listener until the context is cancelled or Stop is
// called. Each connection is handled in its own goroutine, and Serve waits for them
// before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.listenerMutex.Lock()
	if s.listener != nil {
		s.listenerMutex.Unlock()
		return ErrAlreadyServing
	}
	if s.stopped.Load() {
		s.listenerMutex.Unlock()
		return ErrServerStopped
	}
	s.listener = listener
	s.serveDone = make(chan struct{})
	done := s.serveDone
	s.listenerMutex.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()
	defer close(done)
	defer s.wg.Wait()

	s.logger.Info(
		"listening for connections",
		"address", listener.Addr().String(),
		"pubkey", s.config.NodeKey.PublicKey().String(),
	)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || s.stopped.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("%s: accept: %w", pod.ProtocolName, err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.HandleConn(ctx, conn); err != nil {
				s.logger.Debug(
					"session ended with error",
					"remote_addr", conn.RemoteAddr().String(),
					"error", err,
				)
			}
		}()
	}
}

// HandleConn serves a single connection until the client disconnects, the session
// fails or the context is cancelled. The connection is closed on return.
func (s *Server) HandleConn(ctx context.Context, conn io.ReadWriteCloser) error {
	connId, err := uuid.NewV7()
	if err != nil {
		_ = conn.Close()
		return err
	}
	podConn, err := pod.NewConnection(
		pod.WithConnection(conn),
		pod.WithLogger(s.logger),
		pod.WithName(connId.String()),
	)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := s.connManager.AddConnection(connId, podConn); err != nil {
		podConn.Logger().Warn("rejecting connection", "error", err)
		_ = podConn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = podConn.Close()
	})
	sess := newSession(s, connId, podConn)
	err = sess.run()
	stop()
	_ = podConn.Close()
	s.connManager.RemoveConnection(connId, err)
	return err
}

// Stop closes the listener and every connection, then waits for Serve to return
func (s *Server) Stop() {
	s.stopped.Store(true)
	s.listenerMutex.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	done := s.serveDone
	s.listenerMutex.Unlock()
	s.connManager.CloseAll()
	if done != nil {
		<-done
	}
}
