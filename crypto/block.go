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

import "fmt"

// Suite bundles the engines used by a session. Alternative backends are chosen when the
// suite is built and the protocol code never sees the concrete types.
type Suite struct {
	Keys   KeyEngine
	Cipher CipherEngine
	Acks   AckEngine
}

// DefaultSuite is ed25519 DLE keys, AES-128-CTR and BLS12-381 acknowledgments
func DefaultSuite() Suite {
	return Suite{
		Keys:   Ed25519Engine{},
		Cipher: AesCtrEngine{},
		Acks:   BlsEngine{},
	}
}

// CiphertextHash returns the digest of a ciphertext that gets signed
func CiphertextHash(ciphertext []byte) [32]byte {
	return KeyedHash(CiphertextDigest, ciphertext)
}

// EncryptBlock derives the symmetric key for req, encrypts in into out and appends the
// commitment signature. out must be exactly len(in)+SignatureSize bytes.
func EncryptBlock(suite Suite, sk *NodeSecretKey, req *RequestInfo, in, out []byte) (SymmetricKey, error) {
	key, err := suite.Keys.GenerateSymmetricKey(sk, req.Hash())
	if err != nil {
		return SymmetricKey{}, err
	}
	if err := EncryptBlockWithKey(suite, sk, key, req, in, out); err != nil {
		return SymmetricKey{}, err
	}
	return key, nil
}

// EncryptBlockWithKey is EncryptBlock with a key that has already been derived for req
func EncryptBlockWithKey(suite Suite, sk *NodeSecretKey, key SymmetricKey, req *RequestInfo, in, out []byte) error {
	if len(out) != len(in)+SignatureSize {
		return fmt.Errorf("%w: output must be %d bytes, got %d", ErrLengthMismatch, len(in)+SignatureSize, len(out))
	}
	ciphertext := out[:len(in)]
	if err := suite.Cipher.ApplyCipher(Encrypt, key.CipherKey(), in, ciphertext); err != nil {
		return err
	}
	sig := suite.Keys.SignCiphertext(sk, CiphertextHash(ciphertext), req.Hash())
	copy(out[len(in):], sig[:])
	return nil
}

// DecryptBlock reverses EncryptBlock. in is ciphertext followed by the signature and out
// must be len(in)-SignatureSize bytes. The signature is not checked here.
func DecryptBlock(suite Suite, key CipherKey, in, out []byte) error {
	if len(in) < SignatureSize || len(out) != len(in)-SignatureSize {
		return fmt.Errorf("%w: input %d, output %d", ErrLengthMismatch, len(in), len(out))
	}
	return suite.Cipher.ApplyCipher(Decrypt, key, in[:len(out)], out)
}

// DecryptCiphertext decrypts a bare ciphertext in place
func DecryptCiphertext(suite Suite, key CipherKey, buf []byte) error {
	return suite.Cipher.ApplyCipherInPlace(Decrypt, key, buf)
}

// VerifyCiphertext lets anyone holding the node public key check the commitment on a
// delivered ciphertext
func VerifyCiphertext(suite Suite, pk NodePublicKey, req *RequestInfo, ciphertext []byte, sig [SignatureSize]byte) bool {
	return suite.Keys.VerifyCiphertext(pk, CiphertextHash(ciphertext), req.Hash(), sig)
}
