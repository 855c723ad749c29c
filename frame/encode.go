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

// Encode returns the wire representation of a frame
func Encode(f Frame) []byte {
	return AppendFrame(nil, f)
}

// AppendFrame appends the wire representation of a frame to dst
func AppendFrame(dst []byte, f Frame) []byte {
	switch v := f.(type) {
	case *Buffer:
		return append(dst, v.Data...)
	case *HandshakeRequest:
		dst = append(dst, byte(TagHandshakeRequest))
		dst = append(dst, NetworkName...)
		dst = append(dst, v.Version, v.Compression, v.Lane)
		return append(dst, v.Pubkey[:]...)
	case *HandshakeResponse:
		dst = append(dst, byte(TagHandshakeResponse), v.Lane)
		dst = binary.BigEndian.AppendUint64(dst, v.EpochNonce)
		dst = append(dst, v.Pubkey[:]...)
		if v.Last == nil {
			return append(dst, lastLaneNone)
		}
		dst = append(dst, lastLanePresent)
		dst = binary.BigEndian.AppendUint64(dst, v.Last.Bytes)
		return append(dst, v.Last.Signature[:]...)
	case *ContentRequest:
		dst = append(dst, byte(TagContentRequest))
		return append(dst, v.Hash[:]...)
	case *ContentRangeRequest:
		dst = append(dst, byte(TagContentRangeRequest))
		dst = append(dst, v.Hash[:]...)
		dst = binary.BigEndian.AppendUint64(dst, v.ChunkStart)
		return binary.BigEndian.AppendUint16(dst, v.Chunks)
	case *ContentResponse:
		dst = append(dst, byte(TagContentResponse), v.Compression)
		dst = binary.BigEndian.AppendUint64(dst, v.ProofLen)
		dst = binary.BigEndian.AppendUint64(dst, v.BlockLen)
		return append(dst, v.Signature[:]...)
	case *DecryptionKeyRequest:
		dst = append(dst, byte(TagDecryptionKeyRequest))
		return append(dst, v.Acknowledgment[:]...)
	case *DecryptionKeyResponse:
		dst = append(dst, byte(TagDecryptionKeyResponse))
		dst = append(dst, v.Key[:]...)
		dst = append(dst, v.Challenge[:]...)
		return append(dst, v.Response[:]...)
	case *UpdateEpochSignal:
		dst = append(dst, byte(TagUpdateEpochSignal))
		return binary.BigEndian.AppendUint64(dst, v.EpochNonce)
	case *EndOfRequestSignal:
		return append(dst, byte(TagEndOfRequestSignal))
	case *TerminationSignal:
		return append(dst, byte(TagTerminationSignal), byte(v.Reason))
	}
	panic(fmt.Sprintf("frame: cannot encode %T", f))
}
