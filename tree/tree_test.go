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
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

const maxTestLeaves = 2048

func testBlock(i int) []byte {
	block := make([]byte, 64+i%37)
	binary.BigEndian.PutUint64(block, uint64(i))
	for j := 8; j < len(block); j++ {
		block[j] = byte(i + j)
	}
	return block
}

func testLeaves(n int) []Hash {
	leaves := make([]Hash, n)
	for i := range leaves {
		leaves[i] = HashBlock(testBlock(i))
	}
	return leaves
}

func buildIncremental(leaves []Hash) (*Tree, error) {
	b := NewBuilder()
	for _, leaf := range leaves {
		b.AddHash(leaf)
	}
	return b.Finalize()
}

func TestLeafIndex(t *testing.T) {
	expected := []int{0, 1, 3, 4, 7, 8, 10, 11, 15}
	for k, want := range expected {
		if got := LeafIndex(k); got != want {
			t.Fatalf("leaf %d: got index %d, wanted %d", k, got, want)
		}
	}
}

func TestLeftSize(t *testing.T) {
	tests := map[int]int{2: 1, 3: 2, 4: 2, 5: 4, 6: 4, 7: 4, 8: 4, 9: 8, 1024: 512, 1025: 1024}
	for n, want := range tests {
		assert.Equal(t, want, leftSize(n), "leaf count %d", n)
	}
}

func TestShape(t *testing.T) {
	leaves := testLeaves(5)
	tr, err := BuildFromLeaves(leaves)
	require.NoError(t, err)
	require.Equal(t, 9, tr.Len())
	require.Equal(t, 5, tr.Leaves())
	for k := range leaves {
		assert.Equal(t, leaves[k], tr.Leaf(k))
	}
	p01 := HashParent(leaves[0], leaves[1])
	p23 := HashParent(leaves[2], leaves[3])
	p0123 := HashParent(p01, p23)
	assert.Equal(t, p01, tr.Node(2))
	assert.Equal(t, p23, tr.Node(5))
	assert.Equal(t, p0123, tr.Node(6))
	assert.Equal(t, HashParent(p0123, leaves[4]), tr.Root())
}

func TestParentIsDomainSeparated(t *testing.T) {
	a := HashBlock([]byte("a"))
	b := HashBlock([]byte("b"))
	concat := append(a[:], b[:]...)
	assert.NotEqual(t, HashBlock(concat), HashParent(a, b))
}

func TestBuilderDeterminism(t *testing.T) {
	for n := 1; n <= 300; n++ {
		blocks := make([][]byte, n)
		b := NewBuilder()
		for i := range blocks {
			blocks[i] = testBlock(i)
			b.Add(blocks[i])
		}
		incremental, err := b.Finalize()
		require.NoError(t, err)
		onePass, err := Build(blocks)
		require.NoError(t, err)
		require.Equal(t, onePass.Nodes(), incremental.Nodes(), "leaf count %d", n)
		require.Equal(t, 2*n-1, incremental.Len())
	}
}

func TestParentHashIsKeyed(t *testing.T) {
	leaves := testLeaves(2)
	var key [HashSize]byte
	blake3.DeriveKey("TREE_NODE", []byte("FLEEK-NETWORK-UFDP"), key[:])
	assert.Equal(t, key, NodeKey())

	joined := append(append([]byte(nil), leaves[0][:]...), leaves[1][:]...)
	h, err := blake3.NewKeyed(key[:])
	require.NoError(t, err)
	_, _ = h.Write(joined)
	var want Hash
	h.Sum(want[:0])

	got := HashParent(leaves[0], leaves[1])
	assert.Equal(t, want, got)
	assert.NotEqual(t, Hash(blake3.Sum256(joined)), got)
	tr, err := BuildFromLeaves(leaves)
	require.NoError(t, err)
	assert.Equal(t, want, tr.Root())
}

func TestEmptyTree(t *testing.T) {
	_, err := NewBuilder().Finalize()
	assert.ErrorIs(t, err, ErrEmptyTree)
	_, err = Build(nil)
	assert.ErrorIs(t, err, ErrEmptyTree)
	_, err = FromNodes(make([]Hash, 4))
	assert.ErrorIs(t, err, ErrInvalidTree)
}

func TestProofCorrectness(t *testing.T) {
	all := testLeaves(maxTestLeaves)
	for n := 1; n <= maxTestLeaves; n++ {
		tr, err := buildIncremental(all[:n])
		require.NoError(t, err)
		step := 1
		if testing.Short() && n > 64 {
			step = n/16 + 1
		}
		for s := 0; s < n; s += step {
			v := NewIncrementalVerifier(tr.Root(), s)
			if err := v.FeedProof(NewProof(tr, s).Bytes()); err != nil {
				t.Fatalf("n=%d s=%d: feed proof failed: %s", n, s, err)
			}
			if err := v.VerifyHash(all[s]); err != nil {
				t.Fatalf("n=%d s=%d: verify failed: %s", n, s, err)
			}
			if v.IsDone() != (s == n-1) {
				t.Fatalf("n=%d s=%d: unexpected IsDone %v", n, s, v.IsDone())
			}
		}
	}
}

func TestProofBlockContent(t *testing.T) {
	for n := 1; n <= 64; n++ {
		blocks := make([][]byte, n)
		for i := range blocks {
			blocks[i] = testBlock(i)
		}
		tr, err := Build(blocks)
		require.NoError(t, err)
		for s := 0; s < n; s++ {
			v := NewIncrementalVerifier(tr.Root(), s)
			require.NoError(t, v.FeedProof(NewProof(tr, s).Bytes()))
			require.NoError(t, v.Verify(blocks[s]), "n=%d s=%d", n, s)
		}
	}
}

func TestResumeCorrectness(t *testing.T) {
	all := testLeaves(maxTestLeaves)
	check := func(tr *Tree, n, s int) {
		v := NewIncrementalVerifier(tr.Root(), s)
		if err := v.FeedProof(NewProof(tr, s).Bytes()); err != nil {
			t.Fatalf("n=%d s=%d: feed proof failed: %s", n, s, err)
		}
		if err := v.VerifyHash(all[s]); err != nil {
			t.Fatalf("n=%d s=%d: verify failed: %s", n, s, err)
		}
		for i := s + 1; i < n; i++ {
			if v.IsDone() {
				t.Fatalf("n=%d s=%d: done before leaf %d", n, s, i)
			}
			if err := v.FeedProof(ResumeProof(tr, i).Bytes()); err != nil {
				t.Fatalf("n=%d s=%d i=%d: feed proof failed: %s", n, s, i, err)
			}
			if err := v.VerifyHash(all[i]); err != nil {
				t.Fatalf("n=%d s=%d i=%d: verify failed: %s", n, s, i, err)
			}
		}
		if !v.IsDone() {
			t.Fatalf("n=%d s=%d: not done after last leaf", n, s)
		}
		if v.Index() != n {
			t.Fatalf("n=%d s=%d: got index %d, wanted %d", n, s, v.Index(), n)
		}
	}
	for n := 1; n <= 130; n++ {
		tr, err := buildIncremental(all[:n])
		require.NoError(t, err)
		for s := 0; s < n; s++ {
			check(tr, n, s)
		}
	}
	if testing.Short() {
		return
	}
	for _, n := range []int{255, 256, 257, 1000, 1023, 1024, 1025, maxTestLeaves} {
		tr, err := buildIncremental(all[:n])
		require.NoError(t, err)
		for _, s := range []int{0, 1, n / 3, n / 2, n - 2, n - 1} {
			if s >= 0 && s < n {
				check(tr, n, s)
			}
		}
	}
}

func TestResumeProofIsAmortizedConstant(t *testing.T) {
	tr, err := buildIncremental(testLeaves(1024))
	require.NoError(t, err)
	total := 0
	for i := 1; i < tr.Leaves(); i++ {
		total += ResumeProof(tr, i).Count()
	}
	// Every right sibling is sent exactly once across the whole run
	assert.Less(t, total, 2*tr.Leaves())
}

func TestResumeProofEmptyForRightChild(t *testing.T) {
	tr, err := buildIncremental(testLeaves(8))
	require.NoError(t, err)
	assert.Equal(t, 0, ResumeProof(tr, 1).Len())
	assert.Equal(t, 0, ResumeProof(tr, 7).Len())
	assert.Equal(t, 2, ResumeProof(tr, 4).Count())
}

func TestVerifyRejectsTamperedBlock(t *testing.T) {
	blocks := make([][]byte, 20)
	for i := range blocks {
		blocks[i] = testBlock(i)
	}
	tr, err := Build(blocks)
	require.NoError(t, err)
	for s := 0; s < len(blocks); s++ {
		for _, pos := range []int{0, len(blocks[s]) / 2, len(blocks[s]) - 1} {
			tampered := append([]byte(nil), blocks[s]...)
			tampered[pos] ^= 0x01
			v := NewIncrementalVerifier(tr.Root(), s)
			require.NoError(t, v.FeedProof(NewProof(tr, s).Bytes()))
			err := v.Verify(tampered)
			require.ErrorIs(t, err, ErrVerificationFailed, "s=%d pos=%d", s, pos)
			// Failure is terminal, even for the correct block
			require.ErrorIs(t, v.Verify(blocks[s]), ErrVerificationFailed)
			require.False(t, v.IsDone())
		}
	}
}

func TestVerifyRejectsTamperedSibling(t *testing.T) {
	leaves := testLeaves(37)
	tr, err := BuildFromLeaves(leaves)
	require.NoError(t, err)
	for s := 0; s < len(leaves); s++ {
		proof := NewProof(tr, s).Bytes()
		// Flip one byte inside every hash of the proof
		for off := 0; off < len(proof); off++ {
			if off%segmentSize == 0 {
				continue
			}
			tampered := append([]byte(nil), proof...)
			tampered[off] ^= 0x80
			v := NewIncrementalVerifier(tr.Root(), s)
			require.NoError(t, v.FeedProof(tampered))
			require.ErrorIs(t, v.VerifyHash(leaves[s]), ErrVerificationFailed, "s=%d off=%d", s, off)
		}
	}
}

func TestVerifyRejectsFlippedSide(t *testing.T) {
	leaves := testLeaves(16)
	tr, err := BuildFromLeaves(leaves)
	require.NoError(t, err)
	proof := NewProof(tr, 5).Bytes()
	proof[0] ^= 0x01
	v := NewIncrementalVerifier(tr.Root(), 5)
	require.NoError(t, v.FeedProof(proof))
	require.ErrorIs(t, v.VerifyHash(leaves[5]), ErrVerificationFailed)
}

func TestVerifyRejectsTamperedResume(t *testing.T) {
	leaves := testLeaves(64)
	tr, err := BuildFromLeaves(leaves)
	require.NoError(t, err)
	v := NewIncrementalVerifier(tr.Root(), 0)
	require.NoError(t, v.FeedProof(NewProof(tr, 0).Bytes()))
	require.NoError(t, v.VerifyHash(leaves[0]))
	require.NoError(t, v.FeedProof(ResumeProof(tr, 1).Bytes()))
	require.NoError(t, v.VerifyHash(leaves[1]))
	resume := ResumeProof(tr, 2).Bytes()
	require.NotEmpty(t, resume)
	resume[len(resume)-1] ^= 0xff
	require.NoError(t, v.FeedProof(resume))
	require.ErrorIs(t, v.VerifyHash(leaves[2]), ErrVerificationFailed)
}

func TestVerifyRejectsSkippedBlock(t *testing.T) {
	leaves := testLeaves(4)
	tr, err := BuildFromLeaves(leaves)
	require.NoError(t, err)
	for _, known := range []int{0, len(leaves)} {
		v := NewIncrementalVerifierWithLeaves(tr.Root(), 0, known)
		require.NoError(t, v.FeedProof(NewProof(tr, 0).Bytes()))
		require.NoError(t, v.VerifyHash(leaves[0]))
		require.NoError(t, v.FeedProof(ResumeProof(tr, 1).Bytes()))
		require.NoError(t, v.VerifyHash(leaves[1]))
		// Block 2 as the left sibling makes block 3 hash up to the (2,3) subtree
		skip := &ProofBuf{}
		skip.push(Left, tr.Node(LeafIndex(2)))
		require.NoError(t, v.FeedProof(skip.Bytes()))
		require.ErrorIs(t, v.VerifyHash(leaves[3]), ErrVerificationFailed, "leaves=%d", known)
		assert.Equal(t, 2, v.Index())
		assert.False(t, v.IsDone())
	}
}

func TestVerifyRejectsWrongStart(t *testing.T) {
	for _, n := range []int{4, 8, 13} {
		leaves := testLeaves(n)
		tr, err := BuildFromLeaves(leaves)
		require.NoError(t, err)
		v := NewIncrementalVerifier(tr.Root(), 3)
		require.NoError(t, v.FeedProof(NewProof(tr, 0).Bytes()))
		require.ErrorIs(t, v.VerifyHash(leaves[0]), ErrVerificationFailed, "n=%d", n)
		assert.Equal(t, 3, v.Index())
	}
}

func TestVerifyWithLeavesRejectsOtherLeaf(t *testing.T) {
	all := testLeaves(24)
	for n := 2; n <= len(all); n++ {
		tr, err := BuildFromLeaves(all[:n])
		require.NoError(t, err)
		for s := 0; s < n; s++ {
			for k := 0; k < n; k++ {
				if k == s {
					continue
				}
				v := NewIncrementalVerifierWithLeaves(tr.Root(), s, n)
				require.NoError(t, v.FeedProof(NewProof(tr, k).Bytes()))
				require.ErrorIs(t, v.VerifyHash(all[k]), ErrVerificationFailed, "n=%d s=%d k=%d", n, s, k)
			}
		}
	}
}

func TestVerifyWithLeavesResume(t *testing.T) {
	all := testLeaves(130)
	for n := 1; n <= len(all); n++ {
		tr, err := BuildFromLeaves(all[:n])
		require.NoError(t, err)
		for s := 0; s < n; s++ {
			v := NewIncrementalVerifierWithLeaves(tr.Root(), s, n)
			if err := v.FeedProof(NewProof(tr, s).Bytes()); err != nil {
				t.Fatalf("n=%d s=%d: feed proof failed: %s", n, s, err)
			}
			if err := v.VerifyHash(all[s]); err != nil {
				t.Fatalf("n=%d s=%d: verify failed: %s", n, s, err)
			}
			for i := s + 1; i < n; i++ {
				if err := v.FeedProof(ResumeProof(tr, i).Bytes()); err != nil {
					t.Fatalf("n=%d s=%d i=%d: feed proof failed: %s", n, s, i, err)
				}
				if err := v.VerifyHash(all[i]); err != nil {
					t.Fatalf("n=%d s=%d i=%d: verify failed: %s", n, s, i, err)
				}
			}
			if !v.IsDone() {
				t.Fatalf("n=%d s=%d: not done after last leaf", n, s)
			}
		}
	}
}

func TestVerifyWithLeavesStartOutOfRange(t *testing.T) {
	leaves := testLeaves(5)
	tr, err := BuildFromLeaves(leaves)
	require.NoError(t, err)
	v := NewIncrementalVerifierWithLeaves(tr.Root(), 5, 5)
	assert.True(t, v.Failed())
	require.ErrorIs(t, v.VerifyHash(leaves[4]), ErrVerificationFailed)
}

func TestVerifyWrongRoot(t *testing.T) {
	leaves := testLeaves(10)
	tr, err := BuildFromLeaves(leaves)
	require.NoError(t, err)
	other, err := BuildFromLeaves(testLeaves(11))
	require.NoError(t, err)
	v := NewIncrementalVerifier(other.Root(), 0)
	require.NoError(t, v.FeedProof(NewProof(tr, 0).Bytes()))
	require.ErrorIs(t, v.VerifyHash(leaves[0]), ErrVerificationFailed)
}

func TestVerifierPastEnd(t *testing.T) {
	leaves := testLeaves(1)
	tr, err := BuildFromLeaves(leaves)
	require.NoError(t, err)
	v := NewIncrementalVerifier(tr.Root(), 0)
	require.Equal(t, 0, NewProof(tr, 0).Len())
	require.NoError(t, v.VerifyHash(leaves[0]))
	require.True(t, v.IsDone())
	require.ErrorIs(t, v.VerifyHash(leaves[0]), ErrVerifierDone)
}

func TestProofLength(t *testing.T) {
	valid := []int{0, 33, 65, 257, 257 + 33, 2 * 257, maxTestProofSize}
	for _, n := range valid {
		assert.True(t, IsValidProofLen(n), "length %d", n)
	}
	invalid := []int{1, 32, 34, 64, 256, 258, 257 + 32}
	for _, n := range invalid {
		assert.False(t, IsValidProofLen(n), "length %d", n)
	}
	v := NewIncrementalVerifier(Hash{}, 0)
	err := v.FeedProof(make([]byte, 34))
	assert.True(t, errors.Is(err, ErrInvalidProof))
	assert.ErrorIs(t, v.FeedProof(nil), ErrVerificationFailed)
}

// 47 hashes and their sign bytes
const maxTestProofSize = 47*32 + 6

func TestProofEncoding(t *testing.T) {
	leaves := testLeaves(1 << 10)
	tr, err := BuildFromLeaves(leaves)
	require.NoError(t, err)
	// Leaf 0 only has right siblings, leaf n-1 only has left siblings
	first := NewProof(tr, 0)
	last := NewProof(tr, len(leaves)-1)
	require.Equal(t, 10, first.Count())
	require.Equal(t, segmentSize+1+2*HashSize, first.Len())
	assert.Equal(t, byte(0x00), first.Bytes()[0])
	assert.Equal(t, byte(0xff), last.Bytes()[0])
	assert.Equal(t, byte(0x03), last.Bytes()[segmentSize])
	siblings, err := DecodeProof(last.Bytes())
	require.NoError(t, err)
	require.Len(t, siblings, 10)
	for _, s := range siblings {
		assert.Equal(t, Left, s.Direction)
	}
}
