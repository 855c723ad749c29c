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

import "fmt"

// Tag is the first byte of every tagged frame on the wire
type Tag uint8

// Response tags carry this bit
const IsResponseFlag Tag = 0x80

const (
	// TagBuffer is never sent on the wire. It marks payload bytes read in take mode
	TagBuffer Tag = 0x00

	TagHandshakeRequest      Tag = 0x01
	TagContentRequest        Tag = 0x02
	TagContentRangeRequest   Tag = 0x04
	TagDecryptionKeyRequest  Tag = 0x08
	TagHandshakeResponse     Tag = IsResponseFlag | 0x01
	TagContentResponse       Tag = IsResponseFlag | 0x02
	TagDecryptionKeyResponse Tag = IsResponseFlag | 0x08
	TagUpdateEpochSignal     Tag = IsResponseFlag | 0x10
	TagEndOfRequestSignal    Tag = IsResponseFlag | 0x20
	TagTerminationSignal     Tag = IsResponseFlag | 0x40
)

var tagNames = map[Tag]string{
	TagBuffer:                "Buffer",
	TagHandshakeRequest:      "HandshakeRequest",
	TagContentRequest:        "ContentRequest",
	TagContentRangeRequest:   "ContentRangeRequest",
	TagDecryptionKeyRequest:  "DecryptionKeyRequest",
	TagHandshakeResponse:     "HandshakeResponse",
	TagContentResponse:       "ContentResponse",
	TagDecryptionKeyResponse: "DecryptionKeyResponse",
	TagUpdateEpochSignal:     "UpdateEpochSignal",
	TagEndOfRequestSignal:    "EndOfRequestSignal",
	TagTerminationSignal:     "TerminationSignal",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(0x%02x)", uint8(t))
}

// IsResponse reports whether the tag belongs to a server to client frame
func (t Tag) IsResponse() bool {
	return t&IsResponseFlag != 0
}

// Size returns the encoded size of a fixed size frame, or the minimum size when the
// frame has an optional tail
func (t Tag) Size() (int, bool) {
	switch t {
	case TagHandshakeRequest:
		return HandshakeRequestSize, true
	case TagHandshakeResponse:
		return HandshakeResponseSize, true
	case TagContentRequest:
		return ContentRequestSize, true
	case TagContentRangeRequest:
		return ContentRangeRequestSize, true
	case TagContentResponse:
		return ContentResponseSize, true
	case TagDecryptionKeyRequest:
		return DecryptionKeyRequestSize, true
	case TagDecryptionKeyResponse:
		return DecryptionKeyResponseSize, true
	case TagUpdateEpochSignal:
		return UpdateEpochSignalSize, true
	case TagEndOfRequestSignal:
		return EndOfRequestSignalSize, true
	case TagTerminationSignal:
		return TerminationSignalSize, true
	}
	return 0, false
}

// TagMask is the set of frames a reader is willing to accept next. A zero mask accepts
// any frame.
//
// Request tags map to the low byte and response tags to the high byte, so every tag has
// its own bit.
type TagMask uint16

const (
	MaskNone TagMask = 0
	MaskAll  TagMask = 0xffff
)

// MaskOf builds a mask that accepts the given tags
func MaskOf(tags ...Tag) TagMask {
	var m TagMask
	for _, t := range tags {
		m |= t.maskBit()
	}
	return m
}

// Contains reports whether the mask accepts the tag
func (m TagMask) Contains(t Tag) bool {
	if m == MaskNone {
		return true
	}
	return m&t.maskBit() != 0
}

func (t Tag) maskBit() TagMask {
	if t.IsResponse() {
		return TagMask(t&^IsResponseFlag) << 8
	}
	return TagMask(t)
}
