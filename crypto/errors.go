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

import "errors"

// ErrCryptoVerification is the parent of every error caused by a counterparty sending
// data that fails a cryptographic check
var ErrCryptoVerification = errors.New("cryptographic verification failed")

var (
	ErrInvalidProof     = errors.Join(ErrCryptoVerification, errors.New("invalid DLE proof"))
	ErrInvalidSignature = errors.Join(ErrCryptoVerification, errors.New("invalid signature"))
)

var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrUnsupportedCurve = errors.New("unsupported curve")
	ErrLengthMismatch   = errors.New("buffer length mismatch")
	ErrNoSignatures     = errors.New("no signatures to aggregate")
)
