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
	"filippo.io/edwards25519/field"
)

const curve25519A = 486662

// hashToCurve maps a request info hash to a point in the prime order subgroup using
// Elligator2 followed by cofactor clearing
func hashToCurve(requestInfoHash [32]byte) (*edwards25519.Point, error) {
	var r [32]byte
	keyedXOF(HashToCurve, r[:], requestInfoHash[:])
	r[31] &= 0x7f
	p, err := elligator2(r[:])
	if err != nil {
		return nil, fmt.Errorf("hash to curve: %w", err)
	}
	return p, nil
}

// elligator2 maps 32 uniform bytes to an edwards25519 point and multiplies the result by
// the cofactor
func elligator2(r []byte) (*edwards25519.Point, error) {
	s := make([]byte, 32)
	copy(s, r)
	xSign := s[31] & 0x80
	s[31] &= 0x7f

	one := new(field.Element).One()
	a := new(field.Element).Mult32(one, curve25519A)

	// rr2 = 1 / (2r^2 + 1)
	rr2 := &field.Element{}
	// SetBytes always succeeds; it reduces any 32 bytes mod p
	_, _ = rr2.SetBytes(s)
	rr2.Square(rr2)
	rr2.Add(rr2, rr2)
	rr2.Add(rr2, one)
	rr2.Invert(rr2)

	// x = -A / (2r^2 + 1)
	x := new(field.Element).Mult32(rr2, curve25519A)
	x.Negate(x)

	// e = x^3 + A*x^2 + x
	x2 := new(field.Element).Multiply(x, x)
	x3 := new(field.Element).Multiply(x, x2)
	e := new(field.Element).Add(x3, x)
	x2.Mult32(x2, curve25519A)
	e.Add(x2, e)

	e = legendre(e)
	eIsNotMinus1 := int(e.Bytes()[1]&1) ^ 1
	negx := new(field.Element).Negate(x)
	x.Select(x, negx, eIsNotMinus1)
	x2.Zero()
	x2.Select(x2, a, eIsNotMinus1)
	x.Subtract(x, x2)

	// Montgomery u to Edwards y = (u - 1) / (u + 1)
	xPlusOne := new(field.Element).Add(x, one)
	xMinusOne := new(field.Element).Subtract(x, one)
	y := new(field.Element).Multiply(xMinusOne, new(field.Element).Invert(xPlusOne))
	s = y.Bytes()
	s[31] |= xSign

	p, err := (&edwards25519.Point{}).SetBytes(s)
	if err != nil {
		return nil, err
	}
	return p.MultByCofactor(p), nil
}

// legendre computes z^((p-1)/2), which is 1 for squares and -1 otherwise
func legendre(z *field.Element) *field.Element {
	t0 := new(field.Element).Square(z)
	t1 := new(field.Element).Multiply(t0, z)
	t0.Square(t1)
	t2 := new(field.Element).Square(t0)
	t2.Square(t2)
	t2.Multiply(t2, t0)
	t1.Multiply(t2, z)
	t2.Square(t1)
	squareN(t2, 4)
	t1.Multiply(t2, t1)
	t2.Square(t1)
	squareN(t2, 9)
	t2.Multiply(t2, t1)
	t3 := new(field.Element).Square(t2)
	squareN(t3, 19)
	t2.Multiply(t3, t2)
	t2.Square(t2)
	squareN(t2, 9)
	t1.Multiply(t2, t1)
	t2.Square(t1)
	squareN(t2, 49)
	t2.Multiply(t2, t1)
	t3.Square(t2)
	squareN(t3, 99)
	t2.Multiply(t3, t2)
	t2.Square(t2)
	squareN(t2, 49)
	t1.Multiply(t2, t1)
	t1.Square(t1)
	squareN(t1, 3)
	return new(field.Element).Multiply(t1, t0)
}

func squareN(z *field.Element, n int) {
	for i := 0; i < n; i++ {
		z.Square(z)
	}
}
