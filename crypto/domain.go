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

package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// DomainContext is the key material every domain separator is derived from
const DomainContext = "FLEEK-NETWORK-UFDP"

// Domain separators used as Blake3 keys. Each one equals
// blake3.DeriveKey(name, DomainContext).
var (
	// HashRequestInfo compresses the raw bytes of a request info
	HashRequestInfo = mustDomain("4D85E693C2204AE36F69DE8664498AEFF5CA26DD350D9D01C81D818F589C3C8E")
	// HashToSymmetricKey turns a DLE key point into a cipher key
	HashToSymmetricKey = mustDomain("F9C8329F93E84FFE57AB9963D86B1F8369665FB741381671AF8B335C9F0907DA")
	// CiphertextDigest hashes a ciphertext
	CiphertextDigest = mustDomain("4D4B3F8801E1C8A92DD137E5A546EC8C6147357ADA43B399FB681E929C57ED9B")
	// CiphertextCommitment binds a ciphertext digest to a request before signing
	CiphertextCommitment = mustDomain("9EA73937117EE63FDFE7D69C8A02A189062A2686F36D4BDFD6DFAE2FA8A50442")

	HashToCurve            = DeriveDomain("HASH_TO_CURVE")
	DleNonce               = DeriveDomain("DLE_NONCE")
	DleChallenge           = DeriveDomain("DLE_CHALLENGE")
	DeliveryAcknowledgment = DeriveDomain("DELIVERY_ACKNOWLEDGMENT")
	SessionNonceDomain     = DeriveDomain("SESSION_NONCE")
)

// DeriveDomain derives a domain separator for name
func DeriveDomain(name string) [32]byte {
	var key [32]byte
	blake3.DeriveKey(name, []byte(DomainContext), key[:])
	return key
}

func mustDomain(s string) [32]byte {
	var key [32]byte
	data, err := hex.DecodeString(s)
	if err != nil || len(data) != len(key) {
		panic(fmt.Sprintf("invalid domain separator %q", s))
	}
	copy(key[:], data)
	return key
}

func newKeyedHasher(domain [32]byte) *blake3.Hasher {
	h, err := blake3.NewKeyed(domain[:])
	if err != nil {
		// Domain separators are always 32 bytes
		panic(fmt.Sprintf("unexpected error creating keyed blake3 hasher: %s", err))
	}
	return h
}

// KeyedHash hashes the concatenation of parts with Blake3 keyed by domain
func KeyedHash(domain [32]byte, parts ...[]byte) [32]byte {
	h := newKeyedHasher(domain)
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// keyedXOF fills out from the extendable output of a keyed hash
func keyedXOF(domain [32]byte, out []byte, parts ...[]byte) {
	h := newKeyedHasher(domain)
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	_, _ = h.Digest().Read(out)
}
