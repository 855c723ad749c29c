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
	"encoding/binary"
	"fmt"
	"math/big"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
)

// BlsDST is the hash-to-curve domain separation tag for delivery acknowledgments
var BlsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// Acknowledgment is a compressed G2 signature
type Acknowledgment [AcknowledgmentSize]byte

// AckEngine signs and checks delivery acknowledgments
type AckEngine interface {
	GenerateDeliveryAcknowledgment(
		sk *ClientSecretKey,
		lane uint8,
		sessionNonce [32]byte,
		counterparty NodePublicKey,
		bytes uint64,
	) (Acknowledgment, error)
	VerifyDeliveryAcknowledgment(
		pk ClientPublicKey,
		lane uint8,
		sessionNonce [32]byte,
		counterparty NodePublicKey,
		bytes uint64,
		sig Acknowledgment,
	) bool
	AggregateAcknowledgments(sigs []Acknowledgment) (Acknowledgment, error)
}

// AcknowledgmentMessage is the digest a client signs to attest that bytes were delivered
// by counterparty on a lane of a session
func AcknowledgmentMessage(lane uint8, sessionNonce [32]byte, counterparty NodePublicKey, bytes uint64) [32]byte {
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], bytes)
	return KeyedHash(
		DeliveryAcknowledgment,
		[]byte{lane},
		sessionNonce[:],
		counterparty[:],
		count[:],
	)
}

// BlsEngine implements AckEngine on BLS12-381 with public keys in G1 and signatures in
// G2
type BlsEngine struct{}

var _ AckEngine = BlsEngine{}

func (BlsEngine) GenerateDeliveryAcknowledgment(
	sk *ClientSecretKey,
	lane uint8,
	sessionNonce [32]byte,
	counterparty NodePublicKey,
	bytes uint64,
) (Acknowledgment, error) {
	msg := AcknowledgmentMessage(lane, sessionNonce, counterparty, bytes)
	h, err := bls12381.HashToG2(msg[:], BlsDST)
	if err != nil {
		return Acknowledgment{}, err
	}
	var sig bls12381.G2Affine
	sig.ScalarMultiplication(&h, sk.scalar.BigInt(new(big.Int)))
	return Acknowledgment(sig.Bytes()), nil
}

func (e BlsEngine) VerifyDeliveryAcknowledgment(
	pk ClientPublicKey,
	lane uint8,
	sessionNonce [32]byte,
	counterparty NodePublicKey,
	bytes uint64,
	sig Acknowledgment,
) bool {
	msg := AcknowledgmentMessage(lane, sessionNonce, counterparty, bytes)
	return e.VerifyAggregate([]ClientPublicKey{pk}, [][32]byte{msg}, sig) == nil
}

// AggregateAcknowledgments adds signatures together so a whole batch can be settled
// with one pairing check
func (BlsEngine) AggregateAcknowledgments(sigs []Acknowledgment) (Acknowledgment, error) {
	if len(sigs) == 0 {
		return Acknowledgment{}, ErrNoSignatures
	}
	var acc bls12381.G2Jac
	for i, s := range sigs {
		var p bls12381.G2Affine
		if _, err := p.SetBytes(s[:]); err != nil {
			return Acknowledgment{}, fmt.Errorf("%w: signature %d: %w", ErrInvalidSignature, i, err)
		}
		var j bls12381.G2Jac
		j.FromAffine(&p)
		if i == 0 {
			acc.Set(&j)
		} else {
			acc.AddAssign(&j)
		}
	}
	var out bls12381.G2Affine
	out.FromJacobian(&acc)
	return Acknowledgment(out.Bytes()), nil
}

// VerifyAggregate checks an aggregated signature over one message per public key
func (BlsEngine) VerifyAggregate(pks []ClientPublicKey, msgs [][32]byte, sig Acknowledgment) error {
	if len(pks) == 0 || len(pks) != len(msgs) {
		return fmt.Errorf("%w: %d keys for %d messages", ErrLengthMismatch, len(pks), len(msgs))
	}
	var s bls12381.G2Affine
	if _, err := s.SetBytes(sig[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	_, _, g1, _ := bls12381.Generators()
	var negG1 bls12381.G1Affine
	negG1.Neg(&g1)
	g1s := make([]bls12381.G1Affine, 0, len(pks)+1)
	g2s := make([]bls12381.G2Affine, 0, len(pks)+1)
	for i, pk := range pks {
		p, err := pk.point()
		if err != nil {
			return err
		}
		h, err := bls12381.HashToG2(msgs[i][:], BlsDST)
		if err != nil {
			return err
		}
		g1s = append(g1s, *p)
		g2s = append(g2s, h)
	}
	g1s = append(g1s, negG1)
	g2s = append(g2s, s)
	ok, err := bls12381.PairingCheck(g1s, g2s)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}
