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

// Package tree implements the Blake3 Merkle tree used to verify content blocks.
//
// The tree is stored as a flat array of 32-byte nodes in postorder: both children of a
// node always come before it and the root is the last element. Leaf k lives at index
// 2k - popcount(k), and a tree over n leaves has 2n - 1 nodes. The left subtree of any
// node covers the largest power of two strictly less than the node's leaf count.
//
// Leaves are plain Blake3 hashes of the block. Parents are not Blake3(left || right):
// they are Blake3 in keyed mode over left || right, with the key derived by
// blake3.DeriveKey from the context "TREE_NODE" and the material "FLEEK-NETWORK-UFDP"
// (see NodeKey). A parent can therefore never be mistaken for a leaf, and tools that
// rebuild a root with unkeyed parents will not match the content id.
package tree

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/zeebo/blake3"
)

const HashSize = 32

type Hash = [HashSize]byte

const (
	domainContext = "FLEEK-NETWORK-UFDP"
	nodeDomain    = "TREE_NODE"
)

var (
	ErrEmptyTree          = errors.New("tree has no leaves")
	ErrInvalidTree        = errors.New("invalid tree node count")
	ErrInvalidProof       = errors.New("invalid proof encoding")
	ErrVerificationFailed = errors.New("merkle verification failed")
	ErrVerifierDone       = errors.New("all blocks have been verified")
)

var nodeKey = func() [HashSize]byte {
	var key [HashSize]byte
	blake3.DeriveKey(nodeDomain, []byte(domainContext), key[:])
	return key
}()

// NodeKey returns the domain separator used when hashing parent nodes
func NodeKey() [HashSize]byte {
	return nodeKey
}

// HashBlock returns the leaf hash of a content block
func HashBlock(block []byte) Hash {
	return blake3.Sum256(block)
}

// nodeHasher reuses one keyed hasher for many parent computations
type nodeHasher struct {
	h *blake3.Hasher
}

func newNodeHasher() nodeHasher {
	h, err := blake3.NewKeyed(nodeKey[:])
	if err != nil {
		// The key is always 32 bytes
		panic(fmt.Sprintf("unexpected error creating keyed blake3 hasher: %s", err))
	}
	return nodeHasher{h: h}
}

func (n nodeHasher) parent(left, right *Hash) Hash {
	var out Hash
	n.h.Reset()
	_, _ = n.h.Write(left[:])
	_, _ = n.h.Write(right[:])
	n.h.Sum(out[:0])
	return out
}

// HashParent returns the hash of an internal node
func HashParent(left, right Hash) Hash {
	return newNodeHasher().parent(&left, &right)
}

// Tree is a finalized Merkle tree
type Tree struct {
	nodes []Hash
}

// FromNodes wraps an existing postorder node array
func FromNodes(nodes []Hash) (*Tree, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyTree
	}
	if len(nodes)%2 == 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTree, len(nodes))
	}
	return &Tree{nodes: nodes}, nil
}

// Build hashes the blocks and constructs the tree recursively in a single pass
func Build(blocks [][]byte) (*Tree, error) {
	if len(blocks) == 0 {
		return nil, ErrEmptyTree
	}
	leaves := make([]Hash, len(blocks))
	for i, block := range blocks {
		leaves[i] = HashBlock(block)
	}
	return BuildFromLeaves(leaves)
}

// BuildFromLeaves constructs the tree over already hashed leaves
func BuildFromLeaves(leaves []Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	nodes := make([]Hash, 0, 2*len(leaves)-1)
	nodes, _ = buildSubtree(newNodeHasher(), nodes, leaves)
	return &Tree{nodes: nodes}, nil
}

func buildSubtree(h nodeHasher, nodes []Hash, leaves []Hash) ([]Hash, Hash) {
	if len(leaves) == 1 {
		return append(nodes, leaves[0]), leaves[0]
	}
	split := leftSize(len(leaves))
	nodes, left := buildSubtree(h, nodes, leaves[:split])
	nodes, right := buildSubtree(h, nodes, leaves[split:])
	parent := h.parent(&left, &right)
	return append(nodes, parent), parent
}

// Root returns the root hash, which doubles as the content identifier
func (t *Tree) Root() Hash {
	return t.nodes[len(t.nodes)-1]
}

// Len returns the number of nodes
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Leaves returns the number of leaves (blocks)
func (t *Tree) Leaves() int {
	return (len(t.nodes) + 1) / 2
}

// Node returns the node at array index i
func (t *Tree) Node(i int) Hash {
	return t.nodes[i]
}

// Leaf returns the hash of block k
func (t *Tree) Leaf(k int) Hash {
	return t.nodes[LeafIndex(k)]
}

// Nodes returns the underlying node array. It must not be modified.
func (t *Tree) Nodes() []Hash {
	return t.nodes
}

// LeafIndex returns the array index of leaf k
func LeafIndex(k int) int {
	return 2*k - bits.OnesCount(uint(k))
}

// leftSize returns the largest power of two strictly less than n, for n >= 2
func leftSize(n int) int {
	return 1 << (bits.Len(uint(n-1)) - 1)
}
