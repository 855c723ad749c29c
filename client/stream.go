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

package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	pod "github.com/blinklabs-io/ursa-pod"
	"github.com/blinklabs-io/ursa-pod/compression"
	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/blinklabs-io/ursa-pod/frame"
	"github.com/blinklabs-io/ursa-pod/tree"
)

var responseMask = frame.MaskOf(
	frame.TagContentResponse,
	frame.TagEndOfRequestSignal,
	frame.TagUpdateEpochSignal,
	frame.TagTerminationSignal,
)

var keyMask = frame.MaskOf(
	frame.TagDecryptionKeyResponse,
	frame.TagTerminationSignal,
)

// ContentStream yields the verified blocks of one request in order. It also implements
// io.Reader over the concatenated blocks.
type ContentStream struct {
	client   *Client
	ctx      context.Context
	stopCtx  func() bool
	cid      [32]byte
	start    uint64
	end      uint64
	ranged   bool
	verifier *tree.IncrementalVerifier
	blocks   int
	buf      []byte
	err      error
}

func newContentStream(ctx context.Context, c *Client, cid [32]byte, start uint64, chunks uint16, ranged bool, leaves int) *ContentStream {
	s := &ContentStream{
		client:   c,
		ctx:      ctx,
		cid:      cid,
		start:    start,
		end:      start + uint64(chunks),
		ranged:   ranged,
		verifier: tree.NewIncrementalVerifierWithLeaves(cid, int(start), leaves), // #nosec G115
	}
	// Cancelling the context aborts the session, since a block in flight cannot be
	// abandoned
	s.stopCtx = context.AfterFunc(ctx, func() {
		_ = c.conn.Close()
	})
	return s
}

// Blocks returns the number of blocks delivered so far
func (s *ContentStream) Blocks() int {
	return s.blocks
}

// Next returns the next verified block. It returns io.EOF once the request is complete.
func (s *ContentStream) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := s.ctx.Err(); err != nil {
		err = fmt.Errorf("%s: %w", pod.ProtocolName, err)
		s.finish(err)
		return nil, err
	}
	block, err := s.next()
	if err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%s: %w: %w", pod.ProtocolName, ctxErr, err)
		}
		s.finish(err)
		return nil, err
	}
	return block, nil
}

func (s *ContentStream) finish(err error) {
	s.err = err
	s.stopCtx()
	s.client.release(s, err)
}

// Read implements io.Reader
func (s *ContentStream) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		block, err := s.Next()
		if err != nil {
			return 0, err
		}
		s.buf = block
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Close abandons the stream. Closing a stream before the end of the content ends the
// session, since the server is still sending blocks.
func (s *ContentStream) Close() error {
	if s.err != nil {
		return nil
	}
	s.finish(fmt.Errorf("%s: %w: stream closed before the end of the content", pod.ProtocolName, ErrSessionClosed))
	return nil
}

func (s *ContentStream) next() ([]byte, error) {
	c := s.client
	for {
		f, err := c.conn.ReadFrame(responseMask)
		if err != nil {
			return nil, c.readError(err)
		}
		switch v := f.(type) {
		case *frame.UpdateEpochSignal:
			c.updateEpoch(v.EpochNonce)
		case *frame.TerminationSignal:
			c.logger.Debug("server terminated session", "reason", v.Reason.String())
			return nil, pod.NewTerminationError(v)
		case *frame.EndOfRequestSignal:
			return nil, s.complete()
		case *frame.ContentResponse:
			if s.ranged && uint64(s.verifier.Index()) >= s.end { // #nosec G115
				return nil, c.malicious(
					fmt.Errorf("%s: %w: block %d is past the requested range", pod.ProtocolName, ErrUnknown, s.verifier.Index()),
					"block", s.verifier.Index(),
				)
			}
			return s.readBlock(v)
		}
	}
}

// complete checks that the server delivered everything that was asked for
func (s *ContentStream) complete() error {
	if s.blocks == 0 {
		return fmt.Errorf("%s: %w", pod.ProtocolName, ErrContentNotFound)
	}
	done := s.verifier.IsDone()
	if s.ranged && uint64(s.verifier.Index()) == s.end {
		done = true
	}
	if !done {
		return fmt.Errorf(
			"%s: %w: received %d blocks from %d",
			pod.ProtocolName,
			ErrIncomplete,
			s.blocks,
			s.start,
		)
	}
	return io.EOF
}

func (s *ContentStream) readCiphertext(n uint64) ([]byte, error) {
	c := s.client
	if err := c.conn.ReadBuffer(n, c.config.ChunkSize); err != nil {
		return nil, err
	}
	ret := make([]byte, 0, n)
	for uint64(len(ret)) < n {
		f, err := c.conn.ReadFrame(frame.MaskNone)
		if err != nil {
			return nil, c.readError(err)
		}
		buf, ok := f.(*frame.Buffer)
		if !ok {
			return nil, c.terminate(fmt.Errorf("%s: %w: %s", pod.ProtocolName, frame.ErrUnexpectedFrame, f.Tag()))
		}
		ret = append(ret, buf.Data...)
	}
	return ret, nil
}

func (s *ContentStream) readBlock(resp *frame.ContentResponse) ([]byte, error) {
	c := s.client
	suite := c.config.Suite
	index := uint64(s.verifier.Index())
	alg := compression.Algorithm(resp.Compression)
	if alg != compression.None && !c.config.Compression.Contains(alg) {
		return nil, c.terminate(
			fmt.Errorf("%s: %w: server used %s compression", pod.ProtocolName, ErrUnknown, alg),
		)
	}
	if resp.ProofLen > 0 {
		proof, err := c.conn.ReadBufferFull(resp.ProofLen)
		if err != nil {
			return nil, c.readError(err)
		}
		if err := s.verifier.FeedProof(proof); err != nil {
			return nil, c.malicious(err, "block", index)
		}
	}
	ciphertext, err := s.readCiphertext(resp.BlockLen)
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	req := &crypto.RequestInfo{
		Cid:          s.cid,
		Server:       c.serverKey,
		Client:       c.publicKey,
		SessionNonce: c.nonce,
		BlockNumber:  index,
		BlockCounter: c.blockCounter,
	}
	lane := c.lane
	newBytes := c.laneBytes + resp.BlockLen
	c.mutex.Unlock()

	if !crypto.VerifyCiphertext(suite, c.serverKey, req, ciphertext, resp.Signature) {
		return nil, c.malicious(
			fmt.Errorf("%s: %w: ciphertext commitment", pod.ProtocolName, crypto.ErrInvalidSignature),
			"block", index,
		)
	}
	ack, err := suite.Acks.GenerateDeliveryAcknowledgment(
		c.config.SecretKey,
		lane,
		req.SessionNonce,
		c.serverKey,
		newBytes,
	)
	if err != nil {
		return nil, c.terminate(err)
	}
	if err := c.conn.WriteFrame(&frame.DecryptionKeyRequest{Acknowledgment: ack}); err != nil {
		return nil, err
	}
	f, err := c.conn.ReadFrame(keyMask)
	if err != nil {
		return nil, c.readError(err)
	}
	if sig, ok := f.(*frame.TerminationSignal); ok {
		c.logger.Debug("server terminated session", "reason", sig.Reason.String())
		return nil, pod.NewTerminationError(sig)
	}
	keyResp := f.(*frame.DecryptionKeyResponse)
	key, err := crypto.SymmetricKeyFromWire(keyResp.Key, keyResp.Challenge, keyResp.Response)
	if err != nil {
		return nil, c.malicious(err, "block", index)
	}
	cipherKey, err := suite.Keys.VerifySymmetricKey(c.serverKey, req.Hash(), key)
	if err != nil {
		return nil, c.malicious(err, "block", index)
	}
	c.mutex.Lock()
	c.laneBytes = newBytes
	c.blockCounter++
	c.mutex.Unlock()

	if err := crypto.DecryptCiphertext(suite, cipherKey, ciphertext); err != nil {
		return nil, c.terminate(err)
	}
	block := ciphertext
	if alg != compression.None {
		block, err = compression.Decompress(alg, ciphertext, c.config.MaxBlockSize)
		if err != nil {
			return nil, c.malicious(err, "block", index, "compression", alg.String())
		}
	}
	if err := s.verifier.Verify(block); err != nil {
		return nil, c.malicious(err, "block", index)
	}
	s.blocks++
	c.logger.Debug(
		"received block",
		"block", index,
		"bytes", resp.BlockLen,
		"compression", alg.String(),
	)
	return block, nil
}

// IsVerificationError reports whether err means the server sent data that failed a
// cryptographic check
func IsVerificationError(err error) bool {
	return errors.Is(err, tree.ErrVerificationFailed) ||
		errors.Is(err, tree.ErrInvalidProof) ||
		errors.Is(err, crypto.ErrCryptoVerification)
}
