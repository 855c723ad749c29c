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

package tree

// Builder constructs a tree online, one leaf at a time, without knowing the final
// number of blocks.
//
// After the n-th leaf is added, a subtree at level L is complete exactly when n is
// divisible by 2^(L+1), so the builder merges the top of its stack trailing_zeros(n)
// times. Finalize merges whatever is left from right to left. Nodes are appended in
// postorder as they are produced.
type Builder struct {
	nodes  []Hash
	stack  []int
	leaves int
	hasher nodeHasher
}

func NewBuilder() *Builder {
	return &Builder{
		hasher: newNodeHasher(),
	}
}

// Add hashes a block and appends it as the next leaf
func (b *Builder) Add(block []byte) {
	b.AddHash(HashBlock(block))
}

// AddHash appends an already hashed leaf
func (b *Builder) AddHash(leaf Hash) {
	b.nodes = append(b.nodes, leaf)
	b.stack = append(b.stack, len(b.nodes)-1)
	b.leaves++
	for n := b.leaves; n&1 == 0; n >>= 1 {
		b.merge()
	}
}

// Leaves returns the number of leaves added so far
func (b *Builder) Leaves() int {
	return b.leaves
}

func (b *Builder) merge() {
	right := b.stack[len(b.stack)-1]
	left := b.stack[len(b.stack)-2]
	b.stack = b.stack[:len(b.stack)-2]
	b.nodes = append(b.nodes, b.hasher.parent(&b.nodes[left], &b.nodes[right]))
	b.stack = append(b.stack, len(b.nodes)-1)
}

// Finalize completes the tree. The builder must not be used afterwards.
func (b *Builder) Finalize() (*Tree, error) {
	if b.leaves == 0 {
		return nil, ErrEmptyTree
	}
	for len(b.stack) > 1 {
		b.merge()
	}
	t := &Tree{nodes: b.nodes}
	b.nodes = nil
	b.stack = nil
	return t, nil
}
