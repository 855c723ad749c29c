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

package server_test

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	pod "github.com/blinklabs-io/ursa-pod"
	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/blinklabs-io/ursa-pod/frame"
	"github.com/blinklabs-io/ursa-pod/internal/test"
	"github.com/blinklabs-io/ursa-pod/server"
	"github.com/blinklabs-io/ursa-pod/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testBlockSize = 1024

type testEnv struct {
	nodeKey *crypto.NodeSecretKey
	store   *store.Store
	server  *server.Server
}

func newEnv(t *testing.T, opts ...server.Option) *testEnv {
	t.Helper()
	nodeKey := test.NodeKey(t, 0x11)
	st, err := store.New(
		store.WithNodeKey(nodeKey),
		store.WithBlockSize(testBlockSize),
		store.WithDefaultBalance(1<<20),
	)
	require.NoError(t, err)
	opts = append(
		[]server.Option{
			server.WithNodeKey(nodeKey),
			server.WithEpochSource(server.StaticEpoch(7)),
			server.WithTerminationTimeout(time.Second),
		},
		opts...,
	)
	srv, err := server.NewServer(st, opts...)
	require.NoError(t, err)
	return &testEnv{nodeKey: nodeKey, store: st, server: srv}
}

// startSession runs the server side of a pipe in a goroutine and returns the client end
func (e *testEnv) startSession(t *testing.T) (*pod.Connection, <-chan error) {
	t.Helper()
	a, b := net.Pipe()
	errChan := make(chan error, 1)
	go func() {
		errChan <- e.server.HandleConn(context.Background(), a)
	}()
	peer, err := pod.NewConnection(pod.WithConnection(b))
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })
	return peer, errChan
}

func handshake(t *testing.T, peer *pod.Connection, client *crypto.ClientSecretKey, lane uint8) frame.Frame {
	t.Helper()
	req := &frame.HandshakeRequest{
		Version: frame.ProtocolVersion,
		Lane:    lane,
		Pubkey:  client.PublicKey(),
	}
	require.NoError(t, peer.WriteFrame(req))
	f, err := peer.ReadFrame(frame.MaskOf(frame.TagHandshakeResponse, frame.TagTerminationSignal))
	require.NoError(t, err)
	return f
}

func TestHandshake(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t)
	peer, errChan := env.startSession(t)

	f := handshake(t, peer, test.ClientKey(t, 1), frame.LaneNone)
	resp, ok := f.(*frame.HandshakeResponse)
	require.True(t, ok)
	assert.Equal(t, uint8(0), resp.Lane)
	assert.Equal(t, uint64(7), resp.EpochNonce)
	assert.Equal(t, env.nodeKey.PublicKey().Wire(), resp.Pubkey)
	assert.Nil(t, resp.Last)

	conns := env.server.Connections().GetConnectionsByTags(server.ConnectionTagHandshaked)
	require.Len(t, conns, 1)
	assert.Equal(t, test.ClientKey(t, 1).PublicKey(), conns[0].Client)

	require.NoError(t, peer.Close())
	require.NoError(t, <-errChan)
	assert.Equal(t, 0, env.server.Connections().Count())
}

func TestHandshakeBadVersion(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t)
	peer, errChan := env.startSession(t)

	req := &frame.HandshakeRequest{Version: 3, Lane: frame.LaneNone, Pubkey: test.ClientKey(t, 1).PublicKey()}
	require.NoError(t, peer.WriteFrame(req))
	f, err := peer.ReadFrame(frame.MaskOf(frame.TagTerminationSignal))
	require.NoError(t, err)
	assert.Equal(t, frame.ReasonUnknown, f.(*frame.TerminationSignal).Reason)
	require.ErrorIs(t, <-errChan, server.ErrInvalidVersion)
}

func TestUnexpectedFrame(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t)
	peer, errChan := env.startSession(t)

	require.NoError(t, peer.WriteFrame(&frame.ContentRequest{}))
	f, err := peer.ReadFrame(frame.MaskOf(frame.TagTerminationSignal))
	require.NoError(t, err)
	assert.Equal(t, frame.ReasonUnexpectedFrame, f.(*frame.TerminationSignal).Reason)
	require.ErrorIs(t, <-errChan, frame.ErrUnexpectedFrame)
}

func TestLaneBusy(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t)
	client := test.ClientKey(t, 1)

	first, firstErr := env.startSession(t)
	_, ok := handshake(t, first, client, 3).(*frame.HandshakeResponse)
	require.True(t, ok)

	second, secondErr := env.startSession(t)
	sig, ok := handshake(t, second, client, 3).(*frame.TerminationSignal)
	require.True(t, ok)
	assert.Equal(t, frame.ReasonUnknown, sig.Reason)
	require.ErrorIs(t, <-secondErr, server.ErrLaneBusy)

	require.NoError(t, first.Close())
	require.NoError(t, <-firstErr)
}

func TestInvalidAcknowledgment(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, server.WithCompression(0))
	cid, err := env.store.Import(context.Background(), bytes.NewReader(test.RandomBytes(1, 2*testBlockSize)))
	require.NoError(t, err)
	client := test.ClientKey(t, 1)
	peer, errChan := env.startSession(t)
	resp, ok := handshake(t, peer, client, frame.LaneNone).(*frame.HandshakeResponse)
	require.True(t, ok)

	require.NoError(t, peer.WriteFrame(&frame.ContentRequest{Hash: cid}))
	f, err := peer.ReadFrame(frame.MaskOf(frame.TagContentResponse))
	require.NoError(t, err)
	content := f.(*frame.ContentResponse)
	assert.Equal(t, uint8(0), content.Compression)
	assert.Equal(t, uint64(testBlockSize), content.BlockLen)
	_, err = peer.ReadBufferFull(content.ProofLen)
	require.NoError(t, err)
	_, err = peer.ReadBufferFull(content.BlockLen)
	require.NoError(t, err)

	// Acknowledge fewer bytes than were delivered
	nonce := crypto.SessionNonce(resp.EpochNonce, resp.Lane, env.nodeKey.PublicKey(), client.PublicKey())
	ack, err := crypto.BlsEngine{}.GenerateDeliveryAcknowledgment(client, resp.Lane, nonce, env.nodeKey.PublicKey(), 1)
	require.NoError(t, err)
	require.NoError(t, peer.WriteFrame(&frame.DecryptionKeyRequest{Acknowledgment: ack}))
	f, err = peer.ReadFrame(frame.MaskOf(frame.TagTerminationSignal))
	require.NoError(t, err)
	assert.Equal(t, frame.ReasonUnknown, f.(*frame.TerminationSignal).Reason)
	require.ErrorIs(t, <-errChan, server.ErrInvalidAcknowledgment)
}

func TestUnknownContent(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t)
	peer, errChan := env.startSession(t)
	_, ok := handshake(t, peer, test.ClientKey(t, 1), frame.LaneNone).(*frame.HandshakeResponse)
	require.True(t, ok)

	require.NoError(t, peer.WriteFrame(&frame.ContentRequest{Hash: [32]byte{0xde, 0xad}}))
	f, err := peer.ReadFrame(frame.MaskOf(frame.TagEndOfRequestSignal))
	require.NoError(t, err)
	assert.IsType(t, &frame.EndOfRequestSignal{}, f)

	require.NoError(t, peer.WriteFrame(&frame.TerminationSignal{Reason: frame.ReasonUnknown}))
	var termErr *pod.TerminationError
	require.ErrorAs(t, <-errChan, &termErr)
	assert.Equal(t, frame.ReasonUnknown, termErr.Reason)
}

func TestMaxConnections(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, server.WithMaxConnections(1))
	peer, errChan := env.startSession(t)
	_, ok := handshake(t, peer, test.ClientKey(t, 1), frame.LaneNone).(*frame.HandshakeResponse)
	require.True(t, ok)

	a, b := net.Pipe()
	defer b.Close()
	err := env.server.HandleConn(context.Background(), a)
	require.ErrorIs(t, err, server.ErrTooManyConnections)

	require.NoError(t, peer.Close())
	require.NoError(t, <-errChan)
}

func TestServeAndStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- env.server.Serve(context.Background(), listener)
	}()

	peer, err := pod.NewConnection()
	require.NoError(t, err)
	require.NoError(t, peer.Dial("tcp", listener.Addr().String()))
	defer peer.Close()
	_, ok := handshake(t, peer, test.ClientKey(t, 1), frame.LaneNone).(*frame.HandshakeResponse)
	require.True(t, ok)

	env.server.Stop()
	require.NoError(t, <-serveErr)
	// The server closed the session
	_, err = peer.ReadFrame(frame.MaskNone)
	require.Error(t, err)
	require.ErrorIs(t, env.server.Serve(context.Background(), listener), server.ErrAlreadyServing)
}

func TestServeContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- env.server.Serve(ctx, listener)
	}()
	cancel()
	select {
	case err := <-serveErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewServerRequiresKey(t *testing.T) {
	_, err := server.NewServer(nil)
	require.ErrorIs(t, err, server.ErrNoNodeKey)
}
