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
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// Mode selects the direction of a cipher operation
type Mode int

const (
	Encrypt Mode = iota
	Decrypt
)

func (m Mode) String() string {
	if m == Encrypt {
		return "encrypt"
	}
	return "decrypt"
}

// CipherEngine is a symmetric stream cipher keyed by a per-request cipher key
type CipherEngine interface {
	// ApplyCipher reads len(in) bytes from in and writes the same number to out
	ApplyCipher(mode Mode, key CipherKey, in, out []byte) error
	// ApplyCipherInPlace uses buf as both input and output
	ApplyCipherInPlace(mode Mode, key CipherKey, buf []byte) error
}

// AesCtrEngine is AES-128 in counter mode. The first half of the cipher key is the AES
// key and the second half the initial counter block.
type AesCtrEngine struct{}

var _ CipherEngine = AesCtrEngine{}

func (AesCtrEngine) ApplyCipher(_ Mode, key CipherKey, in, out []byte) error {
	if len(in) != len(out) {
		return fmt.Errorf("%w: input %d, output %d", ErrLengthMismatch, len(in), len(out))
	}
	block, err := aes.NewCipher(key[:16])
	if err != nil {
		return err
	}
	cipher.NewCTR(block, key[16:]).XORKeyStream(out, in)
	return nil
}

func (e AesCtrEngine) ApplyCipherInPlace(mode Mode, key CipherKey, buf []byte) error {
	return e.ApplyCipher(mode, key, buf, buf)
}

// ChaCha20Engine uses the whole cipher key. Every cipher key is bound to a single
// request, so the nonce is fixed at zero.
type ChaCha20Engine struct{}

var _ CipherEngine = ChaCha20Engine{}

func (ChaCha20Engine) ApplyCipher(_ Mode, key CipherKey, in, out []byte) error {
	if len(in) != len(out) {
		return fmt.Errorf("%w: input %d, output %d", ErrLengthMismatch, len(in), len(out))
	}
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return err
	}
	c.XORKeyStream(out, in)
	return nil
}

func (e ChaCha20Engine) ApplyCipherInPlace(mode Mode, key CipherKey, buf []byte) error {
	return e.ApplyCipher(mode, key, buf, buf)
}
