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
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"math/big"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcutil/base58"
	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"github.com/zeebo/blake3"
)

const (
	// SeedSize is the size of a node secret key
	SeedSize = 32

	NodePublicKeySize     = 32
	NodePublicKeyWireSize = 33
	ClientSecretKeySize   = fr.Bytes
	ClientPublicKeySize   = bls12381.SizeOfG1AffineCompressed
	AcknowledgmentSize    = bls12381.SizeOfG2AffineCompressed
	SignatureSize         = ed25519.SignatureSize
)

// CurveEd25519 prefixes ed25519 points in 33-byte wire fields
const CurveEd25519 byte = 0x01

// NodeSecretKey is the identity of a provider node. The same seed backs the ed25519
// signing key and the scalar used for DLE key derivation, so both share one public key.
type NodeSecretKey struct {
	seed      [SeedSize]byte
	scalar    *edwards25519.Scalar
	nonceSeed [32]byte
	signing   ed25519.PrivateKey
	public    NodePublicKey
}

// NewNodeSecretKey expands a 32-byte seed
func NewNodeSecretKey(seed []byte) (*NodeSecretKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes", ErrInvalidKey, SeedSize)
	}
	// #nosec G401 -- SHA-512 is the RFC 8032 ed25519 key expansion, not password hashing
	h := sha512.Sum512(seed)
	x := edwards25519.NewScalar()
	if _, err := x.SetBytesWithClamping(h[:32]); err != nil {
		return nil, err
	}
	sk := &NodeSecretKey{
		scalar:  x,
		signing: ed25519.NewKeyFromSeed(seed),
	}
	copy(sk.seed[:], seed)
	copy(sk.nonceSeed[:], h[32:])
	y := (&edwards25519.Point{}).ScalarBaseMult(x)
	copy(sk.public[:], y.Bytes())
	return sk, nil
}

// GenerateNodeSecretKey creates a random node key
func GenerateNodeSecretKey() (*NodeSecretKey, error) {
	var seed [SeedSize]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	return NewNodeSecretKey(seed[:])
}

// Seed returns the seed the key was created from
func (k *NodeSecretKey) Seed() []byte {
	ret := make([]byte, SeedSize)
	copy(ret, k.seed[:])
	return ret
}

func (k *NodeSecretKey) PublicKey() NodePublicKey {
	return k.public
}

// NodePublicKey is a compressed ed25519 point
type NodePublicKey [NodePublicKeySize]byte

// Wire returns the 33-byte form used in handshake responses
func (p NodePublicKey) Wire() [NodePublicKeyWireSize]byte {
	var ret [NodePublicKeyWireSize]byte
	ret[0] = CurveEd25519
	copy(ret[1:], p[:])
	return ret
}

func (p NodePublicKey) String() string {
	return base58.Encode(p[:])
}

func (p NodePublicKey) point() (*edwards25519.Point, error) {
	pt, err := (&edwards25519.Point{}).SetBytes(p[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if isSmallOrder(pt) {
		return nil, fmt.Errorf("%w: small order point", ErrInvalidKey)
	}
	return pt, nil
}

// NodePublicKeyFromWire parses the 33-byte wire form
func NodePublicKeyFromWire(data [NodePublicKeyWireSize]byte) (NodePublicKey, error) {
	var ret NodePublicKey
	if data[0] != CurveEd25519 {
		return ret, fmt.Errorf("%w: 0x%02x", ErrUnsupportedCurve, data[0])
	}
	copy(ret[:], data[1:])
	if _, err := ret.point(); err != nil {
		return NodePublicKey{}, err
	}
	return ret, nil
}

// ParseNodePublicKey decodes a base58 node public key
func ParseNodePublicKey(s string) (NodePublicKey, error) {
	var ret NodePublicKey
	data := base58.Decode(s)
	if len(data) != NodePublicKeySize {
		return ret, fmt.Errorf("%w: bad node public key length %d", ErrInvalidKey, len(data))
	}
	copy(ret[:], data)
	return ret, nil
}

func isSmallOrder(p *edwards25519.Point) bool {
	return (&edwards25519.Point{}).MultByCofactor(p).Equal(edwards25519.NewIdentityPoint()) == 1
}

// ClientSecretKey is a BLS12-381 secret scalar used to sign delivery acknowledgments
type ClientSecretKey struct {
	scalar fr.Element
	public ClientPublicKey
}

// NewClientSecretKey derives a secret scalar from arbitrary seed material
func NewClientSecretKey(seed []byte) (*ClientSecretKey, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("%w: seed must be at least 32 bytes", ErrInvalidKey)
	}
	wide := blake3.Sum512(seed)
	var s fr.Element
	s.SetBytes(wide[:])
	return newClientSecretKey(s)
}

// ClientSecretKeyFromBytes loads a canonical big-endian scalar as produced by Bytes
func ClientSecretKeyFromBytes(data []byte) (*ClientSecretKey, error) {
	if len(data) != ClientSecretKeySize {
		return nil, fmt.Errorf("%w: secret key must be %d bytes", ErrInvalidKey, ClientSecretKeySize)
	}
	var s fr.Element
	if err := s.SetBytesCanonical(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return newClientSecretKey(s)
}

// GenerateClientSecretKey creates a random client key
func GenerateClientSecretKey() (*ClientSecretKey, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	return NewClientSecretKey(seed[:])
}

func newClientSecretKey(s fr.Element) (*ClientSecretKey, error) {
	if s.IsZero() {
		return nil, errors.Join(ErrInvalidKey, errors.New("zero scalar"))
	}
	_, _, g1, _ := bls12381.Generators()
	var pk bls12381.G1Affine
	pk.ScalarMultiplication(&g1, s.BigInt(new(big.Int)))
	return &ClientSecretKey{
		scalar: s,
		public: ClientPublicKey(pk.Bytes()),
	}, nil
}

// Bytes returns the canonical big-endian scalar
func (k *ClientSecretKey) Bytes() []byte {
	b := k.scalar.Bytes()
	return b[:]
}

func (k *ClientSecretKey) PublicKey() ClientPublicKey {
	return k.public
}

// ClientPublicKey is a compressed G1 point
type ClientPublicKey [ClientPublicKeySize]byte

func (p ClientPublicKey) String() string {
	return base58.Encode(p[:])
}

func (p ClientPublicKey) point() (*bls12381.G1Affine, error) {
	var pt bls12381.G1Affine
	if _, err := pt.SetBytes(p[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if pt.IsInfinity() {
		return nil, fmt.Errorf("%w: point at infinity", ErrInvalidKey)
	}
	return &pt, nil
}

// Validate checks that the key decodes to a usable G1 point
func (p ClientPublicKey) Validate() error {
	_, err := p.point()
	return err
}
