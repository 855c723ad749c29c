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

package frame

import (
	"encoding/binary"
	"fmt"
)

// Decode parses a single tagged frame from the start of data. It returns the frame and
// the number of bytes consumed, or ErrNeedMoreData if data is incomplete.
func Decode(data []byte) (Frame, int, error) {
	return decodeTagged(data, MaskNone)
}

// Decoder parses frames incrementally from a growable buffer. Bytes are appended with
// Feed and frames are pulled with Next, so partial reads resume without re-parsing.
type Decoder struct {
	buf       []byte
	off       int
	mask      TagMask
	take      uint64
	chunkHint int
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends bytes read from the stream
func (d *Decoder) Feed(p []byte) {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes not yet consumed
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// SetMask restricts the tags accepted by the following calls to Next
func (d *Decoder) SetMask(mask TagMask) {
	d.mask = mask
}

// Take switches the decoder into take mode. The next n bytes are returned as Buffer
// frames of at most chunkHint bytes instead of being parsed as tagged frames.
func (d *Decoder) Take(n uint64, chunkHint int) error {
	if d.take > 0 {
		return ErrTakeModeActive
	}
	if n == 0 || chunkHint <= 0 {
		return ErrInvalidTakeRequest
	}
	d.take = n
	d.chunkHint = chunkHint
	return nil
}

// Taking returns the number of payload bytes still expected in take mode
func (d *Decoder) Taking() uint64 {
	return d.take
}

// Next returns the next complete frame
func (d *Decoder) Next() (Frame, error) {
	avail := d.buf[d.off:]
	if d.take > 0 {
		want := d.take
		if want > uint64(d.chunkHint) {
			want = uint64(d.chunkHint)
		}
		if uint64(len(avail)) < want {
			return nil, ErrNeedMoreData
		}
		data := make([]byte, want)
		copy(data, avail)
		d.off += int(want)
		d.take -= want
		return &Buffer{Data: data}, nil
	}
	f, n, err := decodeTagged(avail, d.mask)
	if err != nil {
		return nil, err
	}
	d.off += n
	return f, nil
}

func decodeTagged(data []byte, mask TagMask) (Frame, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrNeedMoreData
	}
	tag := Tag(data[0])
	size, ok := tag.Size()
	if !ok || tag == TagBuffer {
		return nil, 0, fmt.Errorf("%w: unknown tag 0x%02x", ErrUnexpectedFrame, data[0])
	}
	if !mask.Contains(tag) {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnexpectedFrame, tag)
	}
	if len(data) < size {
		return nil, 0, ErrNeedMoreData
	}
	switch tag {
	case TagHandshakeRequest:
		if string(data[1:5]) != NetworkName {
			return nil, 0, ErrInvalidMagic
		}
		f := &HandshakeRequest{
			Version:     data[5],
			Compression: data[6],
			Lane:        data[7],
		}
		if f.Lane != LaneNone && f.Lane >= MaxLanes {
			return nil, 0, ErrInvalidLane
		}
		copy(f.Pubkey[:], data[8:size])
		return f, size, nil
	case TagHandshakeResponse:
		f := &HandshakeResponse{
			Lane:       data[1],
			EpochNonce: binary.BigEndian.Uint64(data[2:10]),
		}
		if f.Lane >= MaxLanes {
			return nil, 0, ErrInvalidLane
		}
		copy(f.Pubkey[:], data[10:43])
		switch data[43] {
		case lastLaneNone:
			return f, size, nil
		case lastLanePresent:
			if len(data) < HandshakeResponseLastSize {
				return nil, 0, ErrNeedMoreData
			}
			f.Last = &LastLaneData{
				Bytes: binary.BigEndian.Uint64(data[44:52]),
			}
			copy(f.Last.Signature[:], data[52:HandshakeResponseLastSize])
			return f, HandshakeResponseLastSize, nil
		}
		return nil, 0, ErrInvalidMarker
	case TagContentRequest:
		f := &ContentRequest{}
		copy(f.Hash[:], data[1:size])
		return f, size, nil
	case TagContentRangeRequest:
		f := &ContentRangeRequest{
			ChunkStart: binary.BigEndian.Uint64(data[33:41]),
			Chunks:     binary.BigEndian.Uint16(data[41:43]),
		}
		copy(f.Hash[:], data[1:33])
		return f, size, nil
	case TagContentResponse:
		f := &ContentResponse{
			Compression: data[1],
			ProofLen:    binary.BigEndian.Uint64(data[2:10]),
			BlockLen:    binary.BigEndian.Uint64(data[10:18]),
		}
		switch {
		case f.ProofLen > MaxProofSize:
			return nil, 0, ErrProofTooLarge
		case f.BlockLen > MaxBlockSize:
			return nil, 0, ErrBlockTooLarge
		case f.BlockLen == 0:
			return nil, 0, ErrZeroLengthBlock
		}
		copy(f.Signature[:], data[18:size])
		return f, size, nil
	case TagDecryptionKeyRequest:
		f := &DecryptionKeyRequest{}
		copy(f.Acknowledgment[:], data[1:size])
		return f, size, nil
	case TagDecryptionKeyResponse:
		f := &DecryptionKeyResponse{}
		copy(f.Key[:], data[1:34])
		copy(f.Challenge[:], data[34:66])
		copy(f.Response[:], data[66:size])
		return f, size, nil
	case TagUpdateEpochSignal:
		return &UpdateEpochSignal{
			EpochNonce: binary.BigEndian.Uint64(data[1:size]),
		}, size, nil
	case TagEndOfRequestSignal:
		return &EndOfRequestSignal{}, size, nil
	case TagTerminationSignal:
		return &TerminationSignal{Reason: ReasonFromByte(data[1])}, size, nil
	}
	return nil, 0, fmt.Errorf("%w: unknown tag 0x%02x", ErrUnexpectedFrame, data[0])
}
