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

package pod_test

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	pod "github.com/blinklabs-io/ursa-pod"
	"github.com/blinklabs-io/ursa-pod/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newPipe(t *testing.T) (*pod.Connection, *pod.Connection) {
	t.Helper()
	a, b := net.Pipe()
	left, err := pod.NewConnection(pod.WithConnection(a), pod.WithName("left"))
	require.NoError(t, err)
	right, err := pod.NewConnection(pod.WithConnection(b), pod.WithName("right"), pod.WithReadSize(7))
	require.NoError(t, err)
	t.Cleanup(func() {
		left.Close()
		right.Close()
	})
	return left, right
}

// writeAsync writes frames from a goroutine, since net.Pipe writes block until read
func writeAsync(conn *pod.Connection, frames ...frame.Frame) <-chan error {
	errChan := make(chan error, 1)
	go func() {
		for _, f := range frames {
			if err := conn.WriteFrame(f); err != nil {
				errChan <- err
				return
			}
		}
		errChan <- nil
	}()
	return errChan
}

func TestConnectionFrames(t *testing.T) {
	defer goleak.VerifyNone(t)
	left, right := newPipe(t)

	req := &frame.HandshakeRequest{Version: 0, Compression: 0x09, Lane: frame.LaneNone}
	req.Pubkey[0] = 0xaa
	sig := &frame.TerminationSignal{Reason: frame.ReasonInsufficientBalance}
	errChan := writeAsync(left, req, sig)

	f, err := right.ReadFrame(frame.MaskOf(frame.TagHandshakeRequest))
	require.NoError(t, err)
	assert.Equal(t, req, f)
	f, err = right.ReadFrame(frame.MaskNone)
	require.NoError(t, err)
	assert.Equal(t, sig, f)
	require.NoError(t, <-errChan)
}

func TestConnectionMaskRejects(t *testing.T) {
	defer goleak.VerifyNone(t)
	left, right := newPipe(t)

	// Only the tag byte is sent, the body never arrives
	errChan := make(chan error, 1)
	go func() {
		errChan <- left.WriteFrame(&frame.Buffer{Data: []byte{byte(frame.TagContentRequest)}})
	}()
	_, err := right.ReadFrame(frame.MaskOf(frame.TagHandshakeRequest, frame.TagTerminationSignal))
	require.ErrorIs(t, err, frame.ErrUnexpectedFrame)
	require.NoError(t, <-errChan)
}

func TestConnectionReadBuffer(t *testing.T) {
	defer goleak.VerifyNone(t)
	left, right := newPipe(t)

	payload := bytes.Repeat([]byte("0123456789"), 1000)
	resp := &frame.ContentResponse{ProofLen: 0, BlockLen: uint64(len(payload))}
	errChan := writeAsync(left, resp, &frame.Buffer{Data: payload}, &frame.EndOfRequestSignal{})

	f, err := right.ReadFrame(frame.MaskOf(frame.TagContentResponse))
	require.NoError(t, err)
	got, ok := f.(*frame.ContentResponse)
	require.True(t, ok)
	require.NoError(t, right.ReadBuffer(got.BlockLen, 4096))
	var data []byte
	for uint64(len(data)) < got.BlockLen {
		f, err := right.ReadFrame(frame.MaskNone)
		require.NoError(t, err)
		buf, ok := f.(*frame.Buffer)
		require.True(t, ok)
		assert.LessOrEqual(t, len(buf.Data), 4096)
		data = append(data, buf.Data...)
	}
	assert.Equal(t, payload, data)
	f, err = right.ReadFrame(frame.MaskOf(frame.TagEndOfRequestSignal))
	require.NoError(t, err)
	assert.IsType(t, &frame.EndOfRequestSignal{}, f)
	require.NoError(t, <-errChan)
}

func TestConnectionReadBufferFull(t *testing.T) {
	defer goleak.VerifyNone(t)
	left, right := newPipe(t)

	payload := bytes.Repeat([]byte{0x5a}, 200000)
	errChan := writeAsync(left, &frame.Buffer{Data: payload})
	data, err := right.ReadBufferFull(uint64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	require.NoError(t, <-errChan)

	empty, err := right.ReadBufferFull(0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestConnectionUnexpectedEOF(t *testing.T) {
	defer goleak.VerifyNone(t)
	left, right := newPipe(t)

	errChan := make(chan error, 1)
	go func() {
		err := left.WriteFrame(&frame.Buffer{Data: make([]byte, 100)})
		left.Close()
		errChan <- err
	}()
	_, err := right.ReadBufferFull(200)
	require.ErrorIs(t, err, frame.ErrUnexpectedEOF)
	require.NoError(t, <-errChan)
}

func TestConnectionCleanEOF(t *testing.T) {
	defer goleak.VerifyNone(t)
	left, right := newPipe(t)

	require.NoError(t, left.Close())
	_, err := right.ReadFrame(frame.MaskNone)
	require.ErrorIs(t, err, io.EOF)
}

func TestConnectionCloseTwice(t *testing.T) {
	defer goleak.VerifyNone(t)
	left, _ := newPipe(t)
	require.NoError(t, left.Close())
	require.NoError(t, left.Close())
	err := left.WriteFrame(&frame.EndOfRequestSignal{})
	require.ErrorIs(t, err, pod.ErrConnectionClosed)
}

func TestConnectionInvalidReadSize(t *testing.T) {
	_, err := pod.NewConnection(pod.WithReadSize(0))
	require.Error(t, err)
}

func TestConnectionWriteFrameTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	left, _ := newPipe(t)
	// Nobody reads the other end
	err := left.WriteFrameTimeout(&frame.TerminationSignal{Reason: frame.ReasonUnknown}, 50*time.Millisecond)
	require.ErrorIs(t, err, pod.ErrConnectionIO)
}

func TestTerminationError(t *testing.T) {
	err := pod.NewTerminationError(&frame.TerminationSignal{Reason: frame.ReasonUnexpectedFrame})
	assert.Equal(t, frame.ReasonUnexpectedFrame, err.Reason)
	assert.Equal(t, "ufdp: session terminated by peer: UnexpectedFrame", err.Error())
}
