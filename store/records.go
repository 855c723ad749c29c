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

package store

import (
	"github.com/blinklabs-io/ursa-pod/cbor"
	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/blinklabs-io/ursa-pod/server"
	"github.com/blinklabs-io/ursa-pod/tree"
)

// Key prefixes
var (
	prefixBlock   = []byte("b/")
	prefixTree    = []byte("t/")
	prefixBalance = []byte("a/")
	prefixBatch   = []byte("s/")
)

func makeKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	ret := make([]byte, 0, size)
	ret = append(ret, prefix...)
	for _, p := range parts {
		ret = append(ret, p...)
	}
	return ret
}

// Blocks are keyed by their leaf hash, so identical blocks are stored once
func blockKey(leaf tree.Hash) []byte {
	return makeKey(prefixBlock, leaf[:])
}

func treeKey(cid [32]byte) []byte {
	return makeKey(prefixTree, cid[:])
}

func balanceKey(client crypto.ClientPublicKey) []byte {
	return makeKey(prefixBalance, client[:])
}

// treeRecord is the stored form of a content tree
type treeRecord struct {
	cbor.StructAsArray
	Size  uint64
	Nodes []tree.Hash
}

// BatchRecord is the stored form of a server.Batch. It keeps the original CBOR so
// batches can be exported without re-encoding.
type BatchRecord struct {
	cbor.DecodeStoreCbor
	cbor.StructAsArray
	Client         crypto.ClientPublicKey
	Server         crypto.NodePublicKey
	Lane           uint8
	Epoch          uint64
	SessionNonce   [32]byte
	Cid            [32]byte
	Bytes          uint64
	Acknowledgment crypto.Acknowledgment
}

func (r *BatchRecord) UnmarshalCBOR(data []byte) error {
	return r.UnmarshalCborGeneric(data, r)
}

func newBatchRecord(b server.Batch) *BatchRecord {
	return &BatchRecord{
		Client:         b.Client,
		Server:         b.Server,
		Lane:           b.Lane,
		Epoch:          b.Epoch,
		SessionNonce:   b.SessionNonce,
		Cid:            b.Cid,
		Bytes:          b.Bytes,
		Acknowledgment: b.Acknowledgment,
	}
}

// Batch returns the record as a server.Batch
func (r *BatchRecord) Batch() server.Batch {
	return server.Batch{
		Client:         r.Client,
		Server:         r.Server,
		Lane:           r.Lane,
		Epoch:          r.Epoch,
		SessionNonce:   r.SessionNonce,
		Cid:            r.Cid,
		Bytes:          r.Bytes,
		Acknowledgment: r.Acknowledgment,
	}
}
