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

package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	pod "github.com/blinklabs-io/ursa-pod"
	"github.com/blinklabs-io/ursa-pod/compression"
	"github.com/blinklabs-io/ursa-pod/contentid"
	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/blinklabs-io/ursa-pod/frame"
	"github.com/blinklabs-io/ursa-pod/tree"
	"github.com/google/uuid"
)

var (
	ErrInvalidVersion        = errors.New("unsupported protocol version")
	ErrInvalidAcknowledgment = errors.New("invalid delivery acknowledgment")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrBlockCountMismatch    = errors.New("backend block count does not match tree")
)

var (
	requestMask = frame.MaskOf(
		frame.TagContentRequest,
		frame.TagContentRangeRequest,
		frame.TagTerminationSignal,
	)
	ackMask = frame.MaskOf(
		frame.TagDecryptionKeyRequest,
		frame.TagTerminationSignal,
	)
)

// session is the server side of one connection
type session struct {
	server  *Server
	id      uuid.UUID
	conn    *pod.Connection
	logger  *slog.Logger
	nodeKey *crypto.NodeSecretKey
	pubkey  crypto.NodePublicKey

	client       crypto.ClientPublicKey
	lane         uint8
	epoch        uint64
	nonce        [32]byte
	compression  compression.Algorithm
	laneBytes    uint64
	blockCounter uint64
}

func newSession(s *Server, id uuid.UUID, conn *pod.Connection) *session {
	return &session{
		server:  s,
		id:      id,
		conn:    conn,
		logger:  conn.Logger(),
		nodeKey: s.config.NodeKey,
		pubkey:  s.config.NodeKey.PublicKey(),
	}
}

func (s *session) run() error {
	if err := s.handshake(); err != nil {
		return err
	}
	defer s.server.lanes.Release(s.client, s.lane)
	for {
		f, err := s.conn.ReadFrame(requestMask)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("client disconnected")
				return nil
			}
			return s.fail(err)
		}
		switch req := f.(type) {
		case *frame.ContentRequest:
			if err = s.checkEpoch(); err == nil {
				err = s.deliver(req.Hash, 0, 0, false)
			}
		case *frame.ContentRangeRequest:
			if err = s.checkEpoch(); err == nil {
				err = s.deliver(req.Hash, req.ChunkStart, req.Chunks, true)
			}
		case *frame.TerminationSignal:
			s.logger.Debug("client terminated session", "reason", req.Reason.String())
			return pod.NewTerminationError(req)
		}
		if err != nil {
			return err
		}
	}
}

func (s *session) handshake() error {
	f, err := s.conn.ReadFrame(frame.MaskOf(frame.TagHandshakeRequest))
	if err != nil {
		return s.fail(err)
	}
	req := f.(*frame.HandshakeRequest)
	if req.Version != frame.ProtocolVersion {
		return s.terminate(
			frame.ReasonUnknown,
			fmt.Errorf("%w: %d", ErrInvalidVersion, req.Version),
		)
	}
	client := crypto.ClientPublicKey(req.Pubkey)
	if err := client.Validate(); err != nil {
		return s.terminate(frame.ReasonUnknown, err)
	}
	epoch := s.server.config.EpochSource.Epoch()
	state, err := s.server.lanes.Acquire(client, req.Lane, epoch)
	if err != nil {
		return s.terminate(frame.ReasonUnknown, err)
	}
	s.client = client
	s.lane = state.Lane
	s.epoch = epoch
	s.nonce = crypto.SessionNonce(epoch, s.lane, s.pubkey, client)
	s.laneBytes = state.Bytes
	s.compression = compression.Set(req.Compression).
		Negotiate(s.server.config.Compression).
		Preferred()
	s.logger = s.logger.With("client", client.String(), "lane", s.lane)
	s.server.connManager.SetPeer(s.id, client, s.lane)

	resp := &frame.HandshakeResponse{
		Lane:       s.lane,
		EpochNonce: epoch,
		Pubkey:     s.pubkey.Wire(),
	}
	if state.HasAcknowledgment {
		resp.Last = &frame.LastLaneData{
			Bytes:     state.Bytes,
			Signature: state.Acknowledgment,
		}
	}
	if err := s.conn.WriteFrame(resp); err != nil {
		s.server.lanes.Release(client, s.lane)
		return err
	}
	s.logger.Debug(
		"handshake complete",
		"epoch", epoch,
		"compression", s.compression.String(),
		"resumed_bytes", s.laneBytes,
	)
	return nil
}

// checkEpoch moves the session to the current epoch before a request is served
func (s *session) checkEpoch() error {
	epoch := s.server.config.EpochSource.Epoch()
	if epoch == s.epoch {
		return nil
	}
	if err := s.conn.WriteFrame(&frame.UpdateEpochSignal{EpochNonce: epoch}); err != nil {
		return err
	}
	s.logger.Debug("epoch changed", "old_epoch", s.epoch, "epoch", epoch)
	s.epoch = epoch
	s.nonce = crypto.SessionNonce(epoch, s.lane, s.pubkey, s.client)
	s.laneBytes = 0
	s.server.lanes.Reset(s.client, s.lane, epoch)
	return nil
}

// deliver serves one request. chunks is only used for ranges
func (s *session) deliver(cid [32]byte, start uint64, chunks uint16, ranged bool) error {
	logger := s.logger.With("cid", contentid.Format(cid))
	t, err := s.server.backend.GetTree(cid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Debug("content not found")
			return s.conn.WriteFrame(&frame.EndOfRequestSignal{})
		}
		return s.terminate(frame.ReasonUnknown, fmt.Errorf("get tree: %w", err))
	}
	leaves := uint64(t.Leaves())
	end := leaves
	if ranged {
		end = min(start+uint64(chunks), leaves)
	}
	if start >= end {
		logger.Debug("empty range", "start", start, "chunks", chunks, "blocks", leaves)
		return s.conn.WriteFrame(&frame.EndOfRequestSignal{})
	}
	balance, err := s.server.backend.GetBalance(s.client)
	if err != nil {
		return s.terminate(frame.ReasonUnknown, fmt.Errorf("get balance: %w", err))
	}
	s.server.connManager.AddTags(s.id, ConnectionTagDelivering)
	defer s.server.connManager.RemoveTags(s.id, ConnectionTagDelivering)
	logger.Debug("serving content", "start", start, "end", end, "balance", balance)

	var lastAck *crypto.Acknowledgment
	saveBatch := func() error {
		if lastAck == nil {
			return nil
		}
		return s.server.backend.SaveBatch(Batch{
			Client:         s.client,
			Server:         s.pubkey,
			Lane:           s.lane,
			Epoch:          s.epoch,
			SessionNonce:   s.nonce,
			Cid:            cid,
			Bytes:          s.laneBytes,
			Acknowledgment: *lastAck,
		})
	}
	for idx := start; idx < end; idx++ {
		block, err := s.server.backend.RawBlock(cid, idx)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				err = fmt.Errorf("%w: block %d of %d: %w", ErrBlockCountMismatch, idx, leaves, err)
			}
			return s.terminate(frame.ReasonUnknown, err)
		}
		payload, alg := s.compress(block)
		if s.laneBytes+uint64(len(payload)) > balance {
			if err := saveBatch(); err != nil {
				logger.Error("failed to save batch", "error", err)
			}
			return s.terminate(
				frame.ReasonInsufficientBalance,
				fmt.Errorf("%w: %d of %d bytes used", ErrInsufficientBalance, s.laneBytes, balance),
			)
		}
		ack, err := s.deliverBlock(t, cid, start, idx, payload, alg)
		if err != nil {
			if sErr := saveBatch(); sErr != nil {
				logger.Error("failed to save batch", "error", sErr)
			}
			return err
		}
		lastAck = &ack
	}
	if err := saveBatch(); err != nil {
		return s.terminate(frame.ReasonUnknown, fmt.Errorf("save batch: %w", err))
	}
	logger.Debug("request complete", "lane_bytes", s.laneBytes)
	return s.conn.WriteFrame(&frame.EndOfRequestSignal{})
}

func (s *session) compress(block []byte) ([]byte, compression.Algorithm) {
	if s.compression == compression.None {
		return block, compression.None
	}
	out, err := compression.Compress(s.compression, block)
	if err != nil {
		if !errors.Is(err, compression.ErrIncompressible) {
			s.logger.Warn("compression failed", "algorithm", s.compression.String(), "error", err)
		}
		return block, compression.None
	}
	return out, s.compression
}

// deliverBlock sends one encrypted block and trades its key for an acknowledgment
func (s *session) deliverBlock(
	t *tree.Tree,
	cid [32]byte,
	start uint64,
	idx uint64,
	payload []byte,
	alg compression.Algorithm,
) (crypto.Acknowledgment, error) {
	suite := s.server.config.Suite
	req := &crypto.RequestInfo{
		Cid:          cid,
		Server:       s.pubkey,
		Client:       s.client,
		SessionNonce: s.nonce,
		BlockNumber:  idx,
		BlockCounter: s.blockCounter,
	}
	key, keyId, err := s.server.backend.DecryptionKey(req)
	if err != nil {
		return crypto.Acknowledgment{}, s.terminate(frame.ReasonUnknown, fmt.Errorf("decryption key: %w", err))
	}
	out := make([]byte, len(payload)+crypto.SignatureSize)
	if err := crypto.EncryptBlockWithKey(suite, s.nodeKey, key, req, payload, out); err != nil {
		return crypto.Acknowledgment{}, s.terminate(frame.ReasonUnknown, err)
	}
	ciphertext := out[:len(payload)]
	var proof *tree.ProofBuf
	if idx == start {
		proof = tree.NewProof(t, int(idx)) // #nosec G115
	} else {
		proof = tree.ResumeProof(t, int(idx)) // #nosec G115
	}
	resp := &frame.ContentResponse{
		Compression: uint8(alg),
		ProofLen:    uint64(proof.Len()),
		BlockLen:    uint64(len(ciphertext)),
	}
	copy(resp.Signature[:], out[len(payload):])
	if err := s.conn.WriteFrame(resp); err != nil {
		return crypto.Acknowledgment{}, err
	}
	if proof.Len() > 0 {
		if err := s.conn.WriteFrame(&frame.Buffer{Data: proof.Bytes()}); err != nil {
			return crypto.Acknowledgment{}, err
		}
	}
	chunkSize := s.server.config.ChunkSize
	for data := ciphertext; len(data) > 0; {
		n := min(chunkSize, len(data))
		if err := s.conn.WriteFrame(&frame.Buffer{Data: data[:n]}); err != nil {
			return crypto.Acknowledgment{}, err
		}
		data = data[n:]
	}

	f, err := s.conn.ReadFrame(ackMask)
	if err != nil {
		return crypto.Acknowledgment{}, s.fail(err)
	}
	var keyReq *frame.DecryptionKeyRequest
	switch v := f.(type) {
	case *frame.TerminationSignal:
		s.logger.Debug("client terminated session", "reason", v.Reason.String(), "block", idx)
		return crypto.Acknowledgment{}, pod.NewTerminationError(v)
	case *frame.DecryptionKeyRequest:
		keyReq = v
	}
	newBytes := s.laneBytes + uint64(len(ciphertext))
	ack := crypto.Acknowledgment(keyReq.Acknowledgment)
	if !suite.Acks.VerifyDeliveryAcknowledgment(s.client, s.lane, s.nonce, s.pubkey, newBytes, ack) {
		return crypto.Acknowledgment{}, s.terminate(
			frame.ReasonUnknown,
			fmt.Errorf("%w: block %d, %d bytes", ErrInvalidAcknowledgment, idx, newBytes),
		)
	}
	s.laneBytes = newBytes
	if err := s.server.lanes.Record(s.client, s.lane, newBytes, ack); err != nil {
		return crypto.Acknowledgment{}, s.terminate(frame.ReasonUnknown, err)
	}
	keyResp := &frame.DecryptionKeyResponse{
		Key:       key.Wire(),
		Challenge: key.Challenge,
		Response:  key.Response,
	}
	if err := s.conn.WriteFrame(keyResp); err != nil {
		return crypto.Acknowledgment{}, err
	}
	s.blockCounter++
	s.logger.Debug(
		"delivered block",
		"block", idx,
		"key_id", keyId,
		"bytes", len(ciphertext),
		"compression", alg.String(),
	)
	return ack, nil
}

// fail ends the session after a read error. Frames that could not be accepted are
// reported to the client, a broken stream just ends the session.
func (s *session) fail(err error) error {
	switch {
	case errors.Is(err, frame.ErrUnexpectedFrame):
		return s.terminate(frame.ReasonUnexpectedFrame, err)
	case errors.Is(err, pod.ErrConnectionIO),
		errors.Is(err, pod.ErrConnectionClosed),
		errors.Is(err, frame.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return err
	}
	return s.terminate(frame.ReasonUnknown, err)
}

// terminate sends a termination signal and returns err
func (s *session) terminate(reason frame.Reason, err error) error {
	s.logger.Debug("terminating session", "reason", reason.String(), "error", err)
	sig := &frame.TerminationSignal{Reason: reason}
	if wErr := s.conn.WriteFrameTimeout(sig, s.server.config.TerminationTimeout); wErr != nil {
		s.logger.Debug("failed to send termination signal", "error", wErr)
	}
	return err
}
