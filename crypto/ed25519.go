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
	"fmt"

	"filippo.io/edwards25519"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

// SymmetricKey is a per-request key point together with a proof that it was derived as
// x*H(request) for the node's secret scalar x
type SymmetricKey struct {
	Point     [32]byte
	Challenge [32]byte
	Response  [32]byte
}

// Wire returns the 33-byte form of the key point
func (k SymmetricKey) Wire() [NodePublicKeyWireSize]byte {
	var ret [NodePublicKeyWireSize]byte
	ret[0] = CurveEd25519
	copy(ret[1:], k.Point[:])
	return ret
}

// SymmetricKeyFromWire rebuilds a key from its wire fields
func SymmetricKeyFromWire(point [NodePublicKeyWireSize]byte, challenge, response [32]byte) (SymmetricKey, error) {
	if point[0] != CurveEd25519 {
		return SymmetricKey{}, fmt.Errorf("%w: 0x%02x", ErrUnsupportedCurve, point[0])
	}
	k := SymmetricKey{Challenge: challenge, Response: response}
	copy(k.Point[:], point[1:])
	return k, nil
}

// CipherKey is the secret fed to a cipher engine
type CipherKey [32]byte

// CipherKey derives the cipher key from the key point without checking the proof. Only
// the party that produced the key should rely on this.
func (k SymmetricKey) CipherKey() CipherKey {
	return CipherKey(KeyedHash(HashToSymmetricKey, k.Point[:]))
}

// KeyEngine derives request bound symmetric keys and signs ciphertext commitments
type KeyEngine interface {
	GenerateSymmetricKey(sk *NodeSecretKey, requestInfoHash [32]byte) (SymmetricKey, error)
	VerifySymmetricKey(pk NodePublicKey, requestInfoHash [32]byte, key SymmetricKey) (CipherKey, error)
	SignCiphertext(sk *NodeSecretKey, ciphertextHash, requestInfoHash [32]byte) [SignatureSize]byte
	VerifyCiphertext(pk NodePublicKey, ciphertextHash, requestInfoHash [32]byte, sig [SignatureSize]byte) bool
}

// Ed25519Engine implements KeyEngine over edwards25519. The DLE proof is a
// Chaum-Pedersen proof that log_B(Y) == log_H(Gamma), where Y is the node public key,
// H is the request hashed to the curve and Gamma is the key point.
type Ed25519Engine struct{}

var _ KeyEngine = Ed25519Engine{}

func (Ed25519Engine) GenerateSymmetricKey(sk *NodeSecretKey, requestInfoHash [32]byte) (SymmetricKey, error) {
	h, err := hashToCurve(requestInfoHash)
	if err != nil {
		return SymmetricKey{}, err
	}
	y, err := sk.public.point()
	if err != nil {
		return SymmetricKey{}, err
	}
	gamma := (&edwards25519.Point{}).ScalarMult(sk.scalar, h)

	// Deterministic nonce from the secret half of the expanded key
	var nonce [64]byte
	keyedXOF(DleNonce, nonce[:], sk.nonceSeed[:], h.Bytes(), requestInfoHash[:])
	k, err := edwards25519.NewScalar().SetUniformBytes(nonce[:])
	if err != nil {
		return SymmetricKey{}, err
	}
	u := (&edwards25519.Point{}).ScalarBaseMult(k)
	v := (&edwards25519.Point{}).ScalarMult(k, h)

	c, err := dleChallenge(h, y, gamma, u, v)
	if err != nil {
		return SymmetricKey{}, err
	}
	// s = c*x + k
	s := edwards25519.NewScalar().MultiplyAdd(c, sk.scalar, k)

	var key SymmetricKey
	copy(key.Point[:], gamma.Bytes())
	copy(key.Challenge[:], c.Bytes())
	copy(key.Response[:], s.Bytes())
	return key, nil
}

func (Ed25519Engine) VerifySymmetricKey(pk NodePublicKey, requestInfoHash [32]byte, key SymmetricKey) (CipherKey, error) {
	y, err := pk.point()
	if err != nil {
		return CipherKey{}, err
	}
	gamma, err := (&edwards25519.Point{}).SetBytes(key.Point[:])
	if err != nil {
		return CipherKey{}, fmt.Errorf("%w: invalid key point: %w", ErrInvalidProof, err)
	}
	if isSmallOrder(gamma) {
		return CipherKey{}, fmt.Errorf("%w: small order key point", ErrInvalidProof)
	}
	c, err := edwards25519.NewScalar().SetCanonicalBytes(key.Challenge[:])
	if err != nil {
		return CipherKey{}, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(key.Response[:])
	if err != nil {
		return CipherKey{}, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	h, err := hashToCurve(requestInfoHash)
	if err != nil {
		return CipherKey{}, err
	}
	negC := edwards25519.NewScalar().Negate(c)
	// U = s*B - c*Y
	u := (&edwards25519.Point{}).VarTimeDoubleScalarBaseMult(negC, y, s)
	// V = s*H - c*Gamma
	v := (&edwards25519.Point{}).Add(
		(&edwards25519.Point{}).ScalarMult(s, h),
		(&edwards25519.Point{}).ScalarMult(negC, gamma),
	)
	expected, err := dleChallenge(h, y, gamma, u, v)
	if err != nil {
		return CipherKey{}, err
	}
	if expected.Equal(c) != 1 {
		return CipherKey{}, ErrInvalidProof
	}
	return key.CipherKey(), nil
}

func (Ed25519Engine) SignCiphertext(sk *NodeSecretKey, ciphertextHash, requestInfoHash [32]byte) [SignatureSize]byte {
	msg := KeyedHash(CiphertextCommitment, ciphertextHash[:], requestInfoHash[:])
	var ret [SignatureSize]byte
	copy(ret[:], ed25519.Sign(sk.signing, msg[:]))
	return ret
}

func (Ed25519Engine) VerifyCiphertext(pk NodePublicKey, ciphertextHash, requestInfoHash [32]byte, sig [SignatureSize]byte) bool {
	msg := KeyedHash(CiphertextCommitment, ciphertextHash[:], requestInfoHash[:])
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg[:], sig[:])
}

func dleChallenge(points ...*edwards25519.Point) (*edwards25519.Scalar, error) {
	parts := make([][]byte, len(points))
	for i, p := range points {
		parts[i] = p.Bytes()
	}
	var wide [64]byte
	keyedXOF(DleChallenge, wide[:], parts...)
	return edwards25519.NewScalar().SetUniformBytes(wide[:])
}
