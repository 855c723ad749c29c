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

package client_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinklabs-io/ursa-pod/client"
	"github.com/blinklabs-io/ursa-pod/compression"
	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/blinklabs-io/ursa-pod/frame"
	"github.com/blinklabs-io/ursa-pod/internal/test"
	"github.com/blinklabs-io/ursa-pod/server"
	"github.com/blinklabs-io/ursa-pod/store"
	"github.com/blinklabs-io/ursa-pod/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testBlockSize = 1024

// tamperBackend corrupts a block or hands out keys derived with the wrong node key
type tamperBackend struct {
	*store.Store
	corruptBlock int64
	wrongKey     *crypto.NodeSecretKey
}

func (b *tamperBackend) RawBlock(cid [32]byte, index uint64) ([]byte, error) {
	data, err := b.Store.RawBlock(cid, index)
	if err == nil && int64(index) == b.corruptBlock { // #nosec G115
		data[len(data)/2] ^= 0x01
	}
	return data, err
}

func (b *tamperBackend) DecryptionKey(req *crypto.RequestInfo) (crypto.SymmetricKey, uint64, error) {
	if b.wrongKey == nil {
		return b.Store.DecryptionKey(req)
	}
	key, err := crypto.Ed25519Engine{}.GenerateSymmetricKey(b.wrongKey, req.Hash())
	return key, req.BlockCounter, err
}

type testEnv struct {
	nodeKey   *crypto.NodeSecretKey
	clientKey *crypto.ClientSecretKey
	store     *store.Store
	backend   server.Backend
	server    *server.Server
	epoch     atomic.Uint64
}

func newEnv(t *testing.T, storeOpts []store.Option, serverOpts ...server.Option) *testEnv {
	t.Helper()
	env := &testEnv{
		nodeKey:   test.NodeKey(t, 0x21),
		clientKey: test.ClientKey(t, 0x42),
	}
	env.epoch.Store(1)
	storeOpts = append(
		[]store.Option{
			store.WithNodeKey(env.nodeKey),
			store.WithBlockSize(testBlockSize),
			store.WithDefaultBalance(1 << 30),
		},
		storeOpts...,
	)
	st, err := store.New(storeOpts...)
	require.NoError(t, err)
	env.store = st
	env.backend = st
	env.startServer(t, serverOpts...)
	return env
}

func (e *testEnv) startServer(t *testing.T, opts ...server.Option) {
	t.Helper()
	opts = append(
		[]server.Option{
			server.WithNodeKey(e.nodeKey),
			server.WithEpochSource(server.EpochFunc(e.epoch.Load)),
			server.WithTerminationTimeout(100 * time.Millisecond),
		},
		opts...,
	)
	srv, err := server.NewServer(e.backend, opts...)
	require.NoError(t, err)
	e.server = srv
}

func (e *testEnv) importContent(t *testing.T, data []byte) [32]byte {
	t.Helper()
	cid, err := e.store.Import(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	return cid
}

// connect starts a server session on one end of a pipe and a client on the other
func (e *testEnv) connect(t *testing.T, opts ...client.Option) (*client.Client, <-chan error) {
	t.Helper()
	a, b := net.Pipe()
	errChan := make(chan error, 1)
	go func() {
		errChan <- e.server.HandleConn(context.Background(), a)
	}()
	opts = append(
		[]client.Option{
			client.WithSecretKey(e.clientKey),
			client.WithTerminationTimeout(100 * time.Millisecond),
		},
		opts...,
	)
	c, err := client.New(b, opts...)
	require.NoError(t, err)
	return c, errChan
}

func TestFetch(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	content := test.RandomBytes(10, 10*testBlockSize)
	cid := env.importContent(t, content)

	c, errChan := env.connect(t, client.WithCompression(0))
	assert.Equal(t, env.nodeKey.PublicKey(), c.ServerKey())
	var buf bytes.Buffer
	n, err := c.Fetch(context.Background(), cid, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
	assert.Equal(t, content, buf.Bytes())
	assert.Equal(t, uint64(len(content)), c.LaneBytes())

	require.NoError(t, c.Close())
	require.NoError(t, <-errChan)

	batches, err := env.store.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	b := batches[0]
	assert.Equal(t, cid, b.Cid)
	assert.Equal(t, uint64(len(content)), b.Bytes)
	assert.True(t, crypto.BlsEngine{}.VerifyDeliveryAcknowledgment(
		env.clientKey.PublicKey(), b.Lane, b.SessionNonce, b.Server, b.Bytes, b.Acknowledgment,
	))
}

func TestFetchPartialBlock(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	for _, size := range []int{1, testBlockSize - 1, testBlockSize + 1, 7*testBlockSize + 13} {
		content := test.RandomBytes(int64(size), size)
		cid := env.importContent(t, content)
		c, errChan := env.connect(t)
		var buf bytes.Buffer
		_, err := c.Fetch(context.Background(), cid, &buf)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, content, buf.Bytes(), "size %d", size)
		require.NoError(t, c.Close())
		require.NoError(t, <-errChan)
	}
}

func TestMultipleRequests(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	first := test.RandomBytes(1, 3*testBlockSize)
	second := test.RandomBytes(2, 2*testBlockSize+5)
	firstCid := env.importContent(t, first)
	secondCid := env.importContent(t, second)

	c, errChan := env.connect(t, client.WithCompression(0))
	var buf bytes.Buffer
	_, err := c.Fetch(context.Background(), firstCid, &buf)
	require.NoError(t, err)
	assert.Equal(t, first, buf.Bytes())
	buf.Reset()
	_, err = c.Fetch(context.Background(), secondCid, &buf)
	require.NoError(t, err)
	assert.Equal(t, second, buf.Bytes())
	// The lane counter spans requests
	assert.Equal(t, uint64(len(first)+len(second)), c.LaneBytes())

	require.NoError(t, c.Close())
	require.NoError(t, <-errChan)
}

func TestRequestRange(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	content := test.RandomBytes(3, 10*testBlockSize)
	blocks := test.SplitBlocks(content, testBlockSize)
	cid := env.importContent(t, content)
	c, errChan := env.connect(t)

	stream, err := c.RequestRange(context.Background(), cid, 3, 4)
	require.NoError(t, err)
	for i := 3; i < 7; i++ {
		block, err := stream.Next()
		require.NoError(t, err)
		assert.Equal(t, blocks[i], block, "block %d", i)
	}
	_, err = stream.Next()
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, stream.Blocks())

	// A range past the end stops at the last block
	stream, err = c.RequestRange(context.Background(), cid, 8, 10)
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, content[8*testBlockSize:], data)

	// A range starting past the end is empty
	stream, err = c.RequestRange(context.Background(), cid, 10, 1)
	require.NoError(t, err)
	_, err = stream.Next()
	require.ErrorIs(t, err, client.ErrContentNotFound)

	require.NoError(t, c.Close())
	require.NoError(t, <-errChan)
}

// widenRange rewrites range requests on their way to the server so that it streams
// every block from the start index on
type widenRange struct {
	net.Conn
}

func (w widenRange) Write(p []byte) (int, error) {
	if len(p) == frame.ContentRangeRequestSize && p[0] == byte(frame.TagContentRangeRequest) {
		f, _, err := frame.Decode(p)
		if err != nil {
			return 0, err
		}
		req := f.(*frame.ContentRangeRequest)
		req.Chunks = 0xffff
		if _, err := w.Conn.Write(frame.Encode(req)); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	return w.Conn.Write(p)
}

func TestRequestRangeOverrun(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	content := test.RandomBytes(13, 10*testBlockSize)
	blocks := test.SplitBlocks(content, testBlockSize)
	cid := env.importContent(t, content)

	a, b := net.Pipe()
	errChan := make(chan error, 1)
	go func() {
		errChan <- env.server.HandleConn(context.Background(), a)
	}()
	c, err := client.New(
		widenRange{Conn: b},
		client.WithSecretKey(env.clientKey),
		client.WithTerminationTimeout(100*time.Millisecond),
		client.WithCompression(0),
	)
	require.NoError(t, err)

	stream, err := c.RequestRange(context.Background(), cid, 3, 2)
	require.NoError(t, err)
	for i := 3; i < 5; i++ {
		block, err := stream.Next()
		require.NoError(t, err)
		assert.Equal(t, blocks[i], block, "block %d", i)
	}
	_, err = stream.Next()
	require.ErrorIs(t, err, client.ErrUnknown)
	assert.Equal(t, 2, stream.Blocks())
	// Nothing past the range was acknowledged
	assert.Equal(t, uint64(2*testBlockSize), c.LaneBytes())
	require.NoError(t, c.Close())
	require.Error(t, <-errChan)
}

func TestRequestRangeWithLeaves(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	content := test.RandomBytes(14, 11*testBlockSize)
	blocks := test.SplitBlocks(content, testBlockSize)
	cid := env.importContent(t, content)
	c, errChan := env.connect(t)

	stream, err := c.RequestRangeWithLeaves(context.Background(), cid, len(blocks), 5, 3)
	require.NoError(t, err)
	for i := 5; i < 8; i++ {
		block, err := stream.Next()
		require.NoError(t, err)
		assert.Equal(t, blocks[i], block, "block %d", i)
	}
	_, err = stream.Next()
	require.ErrorIs(t, err, io.EOF)

	_, err = c.RequestRangeWithLeaves(context.Background(), cid, 0, 0, 1)
	require.Error(t, err)

	// A wrong block count puts block 5 somewhere else in the tree
	stream, err = c.RequestRangeWithLeaves(context.Background(), cid, len(blocks)+5, 5, 1)
	require.NoError(t, err)
	_, err = stream.Next()
	require.ErrorIs(t, err, tree.ErrVerificationFailed)
	require.Error(t, <-errChan)
	require.NoError(t, c.Close())
}

func TestStreamActive(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	cid := env.importContent(t, test.RandomBytes(4, 2*testBlockSize))
	c, errChan := env.connect(t)

	stream, err := c.Request(context.Background(), cid)
	require.NoError(t, err)
	_, err = c.Request(context.Background(), cid)
	require.ErrorIs(t, err, client.ErrStreamActive)
	_, err = io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	require.NoError(t, c.Close())
	require.NoError(t, <-errChan)
}

func TestCompression(t *testing.T) {
	defer goleak.VerifyNone(t)
	for _, alg := range []compression.Algorithm{compression.Snappy, compression.Gzip, compression.Lz4} {
		t.Run(alg.String(), func(t *testing.T) {
			env := newEnv(t, nil, server.WithCompression(compression.NewSet(alg)))
			content := test.CompressibleBytes(5*testBlockSize + 17)
			cid := env.importContent(t, content)
			c, errChan := env.connect(t)

			var buf bytes.Buffer
			_, err := c.Fetch(context.Background(), cid, &buf)
			require.NoError(t, err)
			assert.Equal(t, content, buf.Bytes())
			// Acknowledged bytes count what went over the wire
			assert.Less(t, c.LaneBytes(), uint64(len(content)))

			require.NoError(t, c.Close())
			require.NoError(t, <-errChan)
		})
	}
}

func TestCompressionIncompressible(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	content := test.RandomBytes(5, 4*testBlockSize)
	cid := env.importContent(t, content)
	c, errChan := env.connect(t, client.WithCompression(compression.All))

	var buf bytes.Buffer
	_, err := c.Fetch(context.Background(), cid, &buf)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())
	assert.Equal(t, uint64(len(content)), c.LaneBytes())

	require.NoError(t, c.Close())
	require.NoError(t, <-errChan)
}

func TestInsufficientBalance(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, []store.Option{store.WithDefaultBalance(2*testBlockSize + 100)})
	content := test.RandomBytes(6, 5*testBlockSize)
	blocks := test.SplitBlocks(content, testBlockSize)
	cid := env.importContent(t, content)
	c, errChan := env.connect(t, client.WithCompression(0))

	stream, err := c.Request(context.Background(), cid)
	require.NoError(t, err)
	for i := range 2 {
		block, err := stream.Next()
		require.NoError(t, err)
		assert.Equal(t, blocks[i], block)
	}
	_, err = stream.Next()
	var termErr *client.TerminationError
	require.ErrorAs(t, err, &termErr)
	assert.Equal(t, frame.ReasonInsufficientBalance, termErr.Reason)
	require.ErrorIs(t, <-errChan, server.ErrInsufficientBalance)

	// The session is over
	_, err = c.Request(context.Background(), cid)
	require.ErrorIs(t, err, client.ErrSessionClosed)
	require.NoError(t, c.Close())

	// The bytes that were delivered are still billed
	batches, err := env.store.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, uint64(2*testBlockSize), batches[0].Bytes)
}

func TestLaneResumption(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	content := test.RandomBytes(7, 2*testBlockSize)
	cid := env.importContent(t, content)

	c, errChan := env.connect(t, client.WithLane(5), client.WithCompression(0))
	assert.Equal(t, uint8(5), c.Lane())
	assert.Equal(t, uint64(0), c.LaneBytes())
	_, err := c.Fetch(context.Background(), cid, io.Discard)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, <-errChan)

	c, errChan = env.connect(t, client.WithLane(5), client.WithCompression(0))
	assert.Equal(t, uint64(len(content)), c.LaneBytes())
	_, err = c.Fetch(context.Background(), cid, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*len(content)), c.LaneBytes())
	require.NoError(t, c.Close())
	require.NoError(t, <-errChan)

	// Another lane starts from zero
	c, errChan = env.connect(t, client.WithLane(6))
	assert.Equal(t, uint64(0), c.LaneBytes())
	require.NoError(t, c.Close())
	require.NoError(t, <-errChan)

	snap := env.server.Lanes().Snapshot()
	for _, st := range snap {
		if st.Lane == 5 {
			assert.Equal(t, uint64(2*len(content)), st.Bytes)
			assert.False(t, st.InUse)
		}
	}
}

func TestEpochUpdate(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	content := test.RandomBytes(8, 3*testBlockSize)
	cid := env.importContent(t, content)
	c, errChan := env.connect(t, client.WithCompression(0))
	assert.Equal(t, uint64(1), c.Epoch())

	_, err := c.Fetch(context.Background(), cid, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(content)), c.LaneBytes())

	env.epoch.Store(2)
	var buf bytes.Buffer
	_, err = c.Fetch(context.Background(), cid, &buf)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())
	assert.Equal(t, uint64(2), c.Epoch())
	// The counter restarted with the new epoch
	assert.Equal(t, uint64(len(content)), c.LaneBytes())

	require.NoError(t, c.Close())
	require.NoError(t, <-errChan)

	batches, err := env.store.Batches()
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.NotEqual(t, batches[0].SessionNonce, batches[1].SessionNonce)
	assert.Equal(t, uint64(2), batches[1].Epoch)
}

func TestContentNotFound(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	content := test.RandomBytes(9, testBlockSize)
	cid := env.importContent(t, content)
	c, errChan := env.connect(t)

	_, err := c.Fetch(context.Background(), [32]byte{0x01}, io.Discard)
	require.ErrorIs(t, err, client.ErrContentNotFound)

	// The session is still usable
	var buf bytes.Buffer
	_, err = c.Fetch(context.Background(), cid, &buf)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())

	require.NoError(t, c.Close())
	require.NoError(t, <-errChan)
}

func TestTamperedBlock(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	content := test.RandomBytes(11, 5*testBlockSize)
	blocks := test.SplitBlocks(content, testBlockSize)
	cid := env.importContent(t, content)
	env.backend = &tamperBackend{Store: env.store, corruptBlock: 2}
	env.startServer(t)
	c, errChan := env.connect(t, client.WithCompression(0))

	stream, err := c.Request(context.Background(), cid)
	require.NoError(t, err)
	for i := range 2 {
		block, err := stream.Next()
		require.NoError(t, err)
		assert.Equal(t, blocks[i], block)
	}
	_, err = stream.Next()
	require.ErrorIs(t, err, tree.ErrVerificationFailed)
	assert.True(t, client.IsVerificationError(err))
	require.Error(t, <-errChan)
	require.NoError(t, c.Close())
}

func TestForgedDecryptionKey(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	cid := env.importContent(t, test.RandomBytes(12, 2*testBlockSize))
	env.backend = &tamperBackend{Store: env.store, corruptBlock: -1, wrongKey: test.NodeKey(t, 0x99)}
	env.startServer(t)
	c, errChan := env.connect(t)

	stream, err := c.Request(context.Background(), cid)
	require.NoError(t, err)
	_, err = stream.Next()
	require.ErrorIs(t, err, crypto.ErrCryptoVerification)
	assert.True(t, client.IsVerificationError(err))
	require.Error(t, <-errChan)
	require.NoError(t, c.Close())
}

func TestServerKeyPin(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	a, b := net.Pipe()
	errChan := make(chan error, 1)
	go func() {
		errChan <- env.server.HandleConn(context.Background(), a)
	}()
	_, err := client.New(
		b,
		client.WithSecretKey(env.clientKey),
		client.WithServerKey(test.NodeKey(t, 0x01).PublicKey()),
	)
	require.ErrorIs(t, err, client.ErrServerKeyMismatch)
	require.NoError(t, <-errChan)
}

func TestNoSecretKey(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	_, err := client.New(b)
	require.ErrorIs(t, err, client.ErrNoSecretKey)
}

func TestContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	cid := env.importContent(t, test.RandomBytes(13, 4*testBlockSize))
	c, errChan := env.connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := c.Request(ctx, cid)
	require.NoError(t, err)
	_, err = stream.Next()
	require.NoError(t, err)
	cancel()
	_, err = io.ReadAll(stream)
	require.ErrorIs(t, err, context.Canceled)
	require.Error(t, <-errChan)
	require.NoError(t, c.Close())
}

func TestTCP(t *testing.T) {
	defer goleak.VerifyNone(t)
	env := newEnv(t, nil)
	content := test.RandomBytes(14, 6*testBlockSize+3)
	cid := env.importContent(t, content)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- env.server.Serve(context.Background(), listener)
	}()

	c, err := client.Dial(
		context.Background(),
		"tcp",
		listener.Addr().String(),
		client.WithSecretKey(env.clientKey),
		client.WithServerKey(env.nodeKey.PublicKey()),
	)
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = c.Fetch(context.Background(), cid, &buf)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())
	require.NoError(t, c.Close())

	env.server.Stop()
	require.NoError(t, <-serveErr)
}

func TestTerminationErrorMessage(t *testing.T) {
	err := error(&client.TerminationError{Reason: frame.ReasonInsufficientBalance})
	var termErr *client.TerminationError
	require.True(t, errors.As(err, &termErr))
	assert.Contains(t, err.Error(), "InsufficientBalance")
}
