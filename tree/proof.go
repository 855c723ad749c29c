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

package tree

import "fmt"

// Proof wire format
//
// Sibling hashes are written from the root towards the leaf in segments of one sign
// byte followed by up to 8 hashes. Bit i (least significant first) of the sign byte is
// set when hash i of the segment is a left sibling.
const (
	hashesPerSegment = 8
	segmentSize      = 1 + hashesPerSegment*HashSize
)

// ProofBuf is an encoded set of sibling hashes for one block
type ProofBuf struct {
	buf     []byte
	count   int
	signPos int
}

// NewProof returns every sibling on the path from the root to leaf start. It lets a
// fresh verifier check block start against the root.
func NewProof(t *Tree, start int) *ProofBuf {
	p := &ProofBuf{}
	for _, item := range Path(t, start) {
		p.push(item.Direction, t.Node(item.Index))
	}
	return p
}

// ResumeProof returns the siblings needed to verify leaf index when the verifier has
// already checked leaf index-1. Only the items below the last left sibling on the path
// are new; everything above it was sent with an earlier block. The result is empty when
// the leaf is a right child whose hash the verifier already holds.
func ResumeProof(t *Tree, index int) *ProofBuf {
	if index == 0 {
		panic("tree: cannot resume a proof at leaf 0")
	}
	path := Path(t, index)
	last := -1
	for i, item := range path {
		if item.Direction == Left {
			last = i
		}
	}
	p := &ProofBuf{}
	for _, item := range path[last+1:] {
		p.push(item.Direction, t.Node(item.Index))
	}
	return p
}

func (p *ProofBuf) push(dir Direction, h Hash) {
	pos := p.count % hashesPerSegment
	if pos == 0 {
		p.signPos = len(p.buf)
		p.buf = append(p.buf, 0)
	}
	if dir == Left {
		p.buf[p.signPos] |= 1 << pos
	}
	p.buf = append(p.buf, h[:]...)
	p.count++
}

// Bytes returns the encoded proof
func (p *ProofBuf) Bytes() []byte {
	return p.buf
}

// Len returns the encoded length in bytes
func (p *ProofBuf) Len() int {
	return len(p.buf)
}

// Count returns the number of sibling hashes in the proof
func (p *ProofBuf) Count() int {
	return p.count
}

// IsValidProofLen reports whether n bytes can be a well formed proof
func IsValidProofLen(n int) bool {
	if n < 0 {
		return false
	}
	rem := n % segmentSize
	if rem == 0 {
		return true
	}
	return rem > HashSize && (rem-1)%HashSize == 0
}

// Sibling is a decoded proof item
type Sibling struct {
	Direction Direction
	Hash      Hash
}

// DecodeProof parses the wire form of a proof
func DecodeProof(data []byte) ([]Sibling, error) {
	if !IsValidProofLen(len(data)) {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidProof, len(data))
	}
	var ret []Sibling
	for len(data) > 0 {
		sign := data[0]
		data = data[1:]
		for i := 0; i < hashesPerSegment && len(data) > 0; i++ {
			s := Sibling{Direction: Right}
			if sign&(1<<i) != 0 {
				s.Direction = Left
			}
			copy(s.Hash[:], data[:HashSize])
			data = data[HashSize:]
			ret = append(ret, s)
		}
	}
	return ret, nil
}
