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

// Package frame implements the UFDP wire format: the frame types, their fixed size
// encodings and an incremental decoder that can switch into a raw payload mode for
// proof and block bytes.
package frame

import "fmt"

const (
	// NetworkName is the magic carried in every handshake request
	NetworkName = "URSA"

	// ProtocolVersion is the only version this implementation speaks
	ProtocolVersion uint8 = 0

	// MaxLanes is the number of lanes a single client may hold on a node
	MaxLanes = 24

	// LaneNone in a handshake request asks the server to pick a lane
	LaneNone uint8 = 0xff

	// BlockSize is the size of a content block before compression
	BlockSize = 256 * 1024

	// MaxBlockSize bounds the block length a content response may advertise
	MaxBlockSize = 4 * BlockSize

	// MaxProofSize fits 47 sibling hashes plus their 6 sign bytes
	MaxProofSize = 47*32 + 6
)

// Field sizes
const (
	HashSize            = 32
	ClientPublicKeySize = 48
	NodePublicKeySize   = 33
	ResponseSigSize     = 64
	AcknowledgmentSize  = 96
	KeyPointSize        = 33
	ScalarSize          = 32
)

// Encoded frame sizes, tag byte included
const (
	HandshakeRequestSize      = 56
	HandshakeResponseSize     = 44
	HandshakeResponseLastSize = HandshakeResponseSize + 8 + AcknowledgmentSize
	ContentRequestSize        = 33
	ContentRangeRequestSize   = 43
	ContentResponseSize       = 82
	DecryptionKeyRequestSize  = 97
	DecryptionKeyResponseSize = 1 + KeyPointSize + 2*ScalarSize
	UpdateEpochSignalSize     = 9
	EndOfRequestSignalSize    = 1
	TerminationSignalSize     = 2
)

// Marker bytes in the handshake response
const (
	lastLaneNone    uint8 = 0x00
	lastLanePresent uint8 = 0x80
)

// Frame is implemented by every UFDP frame
type Frame interface {
	Tag() Tag
}

// Reason explains a termination signal
type Reason uint8

const (
	ReasonUnexpectedFrame     Reason = 0x00
	ReasonInsufficientBalance Reason = 0x01
	ReasonUnknown             Reason = 0xff
)

// ReasonFromByte maps any unrecognised reason code to ReasonUnknown
func ReasonFromByte(b uint8) Reason {
	switch Reason(b) {
	case ReasonUnexpectedFrame, ReasonInsufficientBalance:
		return Reason(b)
	}
	return ReasonUnknown
}

func (r Reason) String() string {
	switch r {
	case ReasonUnexpectedFrame:
		return "UnexpectedFrame"
	case ReasonInsufficientBalance:
		return "InsufficientBalance"
	case ReasonUnknown:
		return "Unknown"
	}
	return fmt.Sprintf("Reason(0x%02x)", uint8(r))
}

type HandshakeRequest struct {
	Version     uint8
	Compression uint8
	// Lane is LaneNone when the client lets the server choose
	Lane   uint8
	Pubkey [ClientPublicKeySize]byte
}

func (*HandshakeRequest) Tag() Tag { return TagHandshakeRequest }

// LastLaneData is the most recent acknowledgment a lane saw before the client
// disconnected
type LastLaneData struct {
	Bytes     uint64
	Signature [AcknowledgmentSize]byte
}

type HandshakeResponse struct {
	Lane       uint8
	EpochNonce uint64
	Pubkey     [NodePublicKeySize]byte
	Last       *LastLaneData
}

func (*HandshakeResponse) Tag() Tag { return TagHandshakeResponse }

type ContentRequest struct {
	Hash [HashSize]byte
}

func (*ContentRequest) Tag() Tag { return TagContentRequest }

type ContentRangeRequest struct {
	Hash       [HashSize]byte
	ChunkStart uint64
	Chunks     uint16
}

func (*ContentRangeRequest) Tag() Tag { return TagContentRangeRequest }

type ContentResponse struct {
	Compression uint8
	ProofLen    uint64
	BlockLen    uint64
	Signature   [ResponseSigSize]byte
}

func (*ContentResponse) Tag() Tag { return TagContentResponse }

// Buffer carries raw proof or block bytes. It has no tag on the wire and is only
// produced by a decoder in take mode.
type Buffer struct {
	Data []byte
}

func (*Buffer) Tag() Tag { return TagBuffer }

type DecryptionKeyRequest struct {
	Acknowledgment [AcknowledgmentSize]byte
}

func (*DecryptionKeyRequest) Tag() Tag { return TagDecryptionKeyRequest }

// DecryptionKeyResponse carries the key point along with its DLE proof
type DecryptionKeyResponse struct {
	Key       [KeyPointSize]byte
	Challenge [ScalarSize]byte
	Response  [ScalarSize]byte
}

func (*DecryptionKeyResponse) Tag() Tag { return TagDecryptionKeyResponse }

type UpdateEpochSignal struct {
	EpochNonce uint64
}

func (*UpdateEpochSignal) Tag() Tag { return TagUpdateEpochSignal }

type EndOfRequestSignal struct{}

func (*EndOfRequestSignal) Tag() Tag { return TagEndOfRequestSignal }

type TerminationSignal struct {
	Reason Reason
}

func (*TerminationSignal) Tag() Tag { return TagTerminationSignal }
