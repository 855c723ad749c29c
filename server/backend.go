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

package server

import (
	"errors"

	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/blinklabs-io/ursa-pod/tree"
)

// ErrNotFound is returned by a Backend when a block or tree does not exist. Running past
// the last block of a content ends the delivery.
var ErrNotFound = errors.New("not found")

// Backend supplies content, keys and balances to the server. Implementations must be
// safe for concurrent use, since every connection calls into the same Backend.
type Backend interface {
	// RawBlock returns block index of content cid
	RawBlock(cid [32]byte, index uint64) ([]byte, error)
	// GetTree returns the merkle tree of content cid
	GetTree(cid [32]byte) (*tree.Tree, error)
	// DecryptionKey derives the symmetric key for a request and returns it along with an
	// id for logging
	DecryptionKey(req *crypto.RequestInfo) (crypto.SymmetricKey, uint64, error)
	// GetBalance returns the number of bytes a client may receive per lane and epoch
	GetBalance(client crypto.ClientPublicKey) (uint64, error)
	// SaveBatch stores the acknowledgment that closes a request
	SaveBatch(batch Batch) error
}

// Batch is the latest delivery acknowledgment of a lane at the end of a request. The
// acknowledgment covers every byte delivered on the lane during the session, so only
// the last batch of a session needs to be settled.
type Batch struct {
	Client         crypto.ClientPublicKey
	Server         crypto.NodePublicKey
	Lane           uint8
	Epoch          uint64
	SessionNonce   [32]byte
	Cid            [32]byte
	Bytes          uint64
	Acknowledgment crypto.Acknowledgment
}

// Message returns the digest the client signed for the batch
func (b *Batch) Message() [32]byte {
	return crypto.AcknowledgmentMessage(b.Lane, b.SessionNonce, b.Server, b.Bytes)
}

// EpochSource reports the current epoch nonce
type EpochSource interface {
	Epoch() uint64
}

// EpochFunc adapts a function to an EpochSource
type EpochFunc func() uint64

func (f EpochFunc) Epoch() uint64 {
	return f()
}

// StaticEpoch is an EpochSource that never changes
type StaticEpoch uint64

func (e StaticEpoch) Epoch() uint64 {
	return uint64(e)
}
