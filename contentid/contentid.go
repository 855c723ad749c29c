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

// Package contentid renders content hashes as CIDv1 strings (raw codec, blake3
// multihash) and parses them back
package contentid

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// HashSize is the size of a content hash
const HashSize = 32

var ErrInvalidContentId = errors.New("invalid content id")

// Cid returns the CIDv1 for a content hash
func Cid(hash [HashSize]byte) (cid.Cid, error) {
	mh, err := multihash.Encode(hash[:], multihash.BLAKE3)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Format returns the string form of the CIDv1 for a content hash
func Format(hash [HashSize]byte) string {
	c, err := Cid(hash)
	if err != nil {
		// Encoding a 32-byte digest with a known code does not fail
		return hex.EncodeToString(hash[:])
	}
	return c.String()
}

// Parse accepts either a CID with a 32-byte blake3 multihash or a 64 character hex string
func Parse(s string) ([HashSize]byte, error) {
	var ret [HashSize]byte
	s = strings.TrimSpace(s)
	if len(s) == 2*HashSize {
		if data, err := hex.DecodeString(s); err == nil {
			copy(ret[:], data)
			return ret, nil
		}
	}
	c, err := cid.Decode(s)
	if err != nil {
		return ret, fmt.Errorf("%w: %w", ErrInvalidContentId, err)
	}
	return FromCid(c)
}

// FromCid extracts the content hash from a CID
func FromCid(c cid.Cid) ([HashSize]byte, error) {
	var ret [HashSize]byte
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return ret, fmt.Errorf("%w: %w", ErrInvalidContentId, err)
	}
	if decoded.Code != multihash.BLAKE3 {
		return ret, fmt.Errorf("%w: unsupported multihash 0x%x", ErrInvalidContentId, decoded.Code)
	}
	if len(decoded.Digest) != HashSize {
		return ret, fmt.Errorf("%w: digest length %d", ErrInvalidContentId, len(decoded.Digest))
	}
	copy(ret[:], decoded.Digest)
	return ret, nil
}
