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

import (
	"fmt"
	"math/bits"
)

// IncrementalVerifier checks a run of consecutive blocks against a known root.
//
// The stack holds the subtrees that have been authenticated but not yet descended into,
// deepest on top. It starts out holding only the root. Each verified block pops the
// subtree it belonged to and pushes the right siblings from its proof, which are
// exactly the subtrees covering the blocks that follow. The subtree on top therefore
// always starts at the next index, and verification of the whole tree is complete when
// the stack is empty.
//
// Every proof must describe the path to the next index, not just some path that hashes
// up to the subtree on top. Once the root has been descended, the next leaf is the
// leftmost leaf of the top subtree, so a proof carrying a left sibling is rejected.
// When the leaf count of the tree is known the depth and every direction are checked
// exactly. Without it the first proof of a verifier anchored past leaf 0 is only
// checked for a shape that leaf can have in a tree of some size.
//
// Any failure is terminal.
type IncrementalVerifier struct {
	root    Hash
	index   int
	stack   []subtree
	pending []Sibling
	// descended is set once the root has been popped
	descended bool
	failed    bool
	hasher    nodeHasher
}

// subtree is an authenticated node awaiting verification of its leaves. A zero leaf
// count means the size is not known.
type subtree struct {
	hash   Hash
	leaves int
}

// pathStep is the expected side and size of one sibling on a path
type pathStep struct {
	direction Direction
	leaves    int
}

// NewIncrementalVerifier anchors a verifier at root. The first proof fed to it must be
// a NewProof for leaf start.
func NewIncrementalVerifier(root Hash, start int) *IncrementalVerifier {
	return NewIncrementalVerifierWithLeaves(root, start, 0)
}

// NewIncrementalVerifierWithLeaves anchors a verifier at the root of a tree with the
// given number of leaves. Every proof is then checked against the exact shape of the
// tree. A leaf count of 0 behaves like NewIncrementalVerifier.
func NewIncrementalVerifierWithLeaves(root Hash, start int, leaves int) *IncrementalVerifier {
	v := &IncrementalVerifier{
		root:   root,
		index:  start,
		stack:  []subtree{{hash: root, leaves: max(leaves, 0)}},
		hasher: newNodeHasher(),
	}
	if start < 0 || (leaves > 0 && start >= leaves) {
		v.failed = true
	}
	return v
}

// FeedProof decodes sibling hashes for the next block
func (v *IncrementalVerifier) FeedProof(data []byte) error {
	if v.failed {
		return ErrVerificationFailed
	}
	siblings, err := DecodeProof(data)
	if err != nil {
		v.failed = true
		return err
	}
	v.pending = append(v.pending, siblings...)
	return nil
}

// Verify hashes a block and checks it as the next leaf
func (v *IncrementalVerifier) Verify(block []byte) error {
	return v.VerifyHash(HashBlock(block))
}

// VerifyHash checks an already hashed leaf as the next block
func (v *IncrementalVerifier) VerifyHash(leaf Hash) error {
	if v.failed {
		return ErrVerificationFailed
	}
	if len(v.stack) == 0 {
		v.failed = true
		return ErrVerifierDone
	}
	top := v.stack[len(v.stack)-1]
	// Only the root can be entered somewhere other than its leftmost leaf
	target := 0
	if !v.descended {
		target = v.index
	}
	steps, err := v.checkShape(top, target)
	if err != nil {
		v.failed = true
		return err
	}
	cur := leaf
	for i := len(v.pending) - 1; i >= 0; i-- {
		s := &v.pending[i]
		if s.Direction == Left {
			cur = v.hasher.parent(&s.Hash, &cur)
		} else {
			cur = v.hasher.parent(&cur, &s.Hash)
		}
	}
	if cur != top.hash {
		v.failed = true
		return fmt.Errorf("%w: block %d", ErrVerificationFailed, v.index)
	}
	v.stack = v.stack[:len(v.stack)-1]
	for i, s := range v.pending {
		if s.Direction == Right {
			next := subtree{hash: s.Hash}
			if steps != nil {
				next.leaves = steps[i].leaves
			}
			v.stack = append(v.stack, next)
		}
	}
	v.pending = v.pending[:0]
	v.descended = true
	v.index++
	return nil
}

// checkShape compares the pending sibling directions with the path to leaf target of
// the top subtree. It returns the expected steps when the subtree size is known.
func (v *IncrementalVerifier) checkShape(top subtree, target int) ([]pathStep, error) {
	if top.leaves > 0 {
		steps := expectedPath(target, top.leaves)
		if len(steps) != len(v.pending) {
			return nil, fmt.Errorf(
				"%w: block %d: proof has %d siblings, wanted %d",
				ErrVerificationFailed,
				v.index,
				len(v.pending),
				len(steps),
			)
		}
		for i, step := range steps {
			if v.pending[i].Direction != step.direction {
				return nil, fmt.Errorf(
					"%w: block %d: sibling %d is %s, wanted %s",
					ErrVerificationFailed,
					v.index,
					i,
					v.pending[i].Direction,
					step.direction,
				)
			}
		}
		return steps, nil
	}
	if !plausiblePath(v.pending, target) {
		return nil, fmt.Errorf("%w: block %d: proof does not lead to this block", ErrVerificationFailed, v.index)
	}
	return nil, nil
}

// expectedPath lists the siblings from the root of a tree with the given number of
// leaves down to leaf target
func expectedPath(target, leaves int) []pathStep {
	var steps []pathStep
	for leaves > 1 {
		lsize := leftSize(leaves)
		if target < lsize {
			steps = append(steps, pathStep{direction: Right, leaves: leaves - lsize})
			leaves = lsize
			continue
		}
		steps = append(steps, pathStep{direction: Left, leaves: lsize})
		target -= lsize
		leaves -= lsize
	}
	return steps
}

// plausiblePath reports whether the sibling directions can be the path to leaf target
// in a tree of some size. Left siblings above the first right sibling are the
// full subtrees on the right spine and must account for the high bits of target. Below
// the first right sibling the path runs through a full subtree of 2^r leaves and
// spells out the low r bits of target, most significant first.
func plausiblePath(siblings []Sibling, target int) bool {
	t := uint(target) // #nosec G115
	first := len(siblings)
	for i, s := range siblings {
		if s.Direction == Right {
			first = i
			break
		}
	}
	if first == len(siblings) {
		return bits.OnesCount(t) == len(siblings)
	}
	r := len(siblings) - first - 1
	if r >= bits.UintSize {
		return false
	}
	if t&(1<<r) != 0 || bits.OnesCount(t>>(r+1)) != first {
		return false
	}
	for j, s := range siblings[first+1:] {
		set := t&(1<<(r-1-j)) != 0
		if set != (s.Direction == Left) {
			return false
		}
	}
	return true
}

// IsDone reports whether every block through the last leaf has been verified
func (v *IncrementalVerifier) IsDone() bool {
	return !v.failed && len(v.stack) == 0
}

// Index returns the index of the next block to verify
func (v *IncrementalVerifier) Index() int {
	return v.index
}

// Root returns the root the verifier is anchored at
func (v *IncrementalVerifier) Root() Hash {
	return v.root
}

// Failed reports whether the verifier hit a mismatch
func (v *IncrementalVerifier) Failed() bool {
	return v.failed
}
