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

package pipeline

import (
	"sync"
	"time"

	"github.com/blinklabs-io/ursa-pod/tree"
)

// BlockItem represents a content block as it moves through the pipeline.
// It is thread-safe and tracks the processing state at each stage.
type BlockItem struct {
	// Immutable fields (set at construction, never modified)
	index      uint64
	data       []byte
	receivedAt time.Time

	// Mutable fields protected by mutex
	mu sync.RWMutex

	// Hash stage results
	hash         tree.Hash
	hashed       bool
	hashError    error
	hashDuration time.Duration

	// Apply stage results
	applied    bool
	applyError error
}

// NewBlockItem creates a new BlockItem. The pipeline owns data from this point on,
// so callers must not reuse the slice.
func NewBlockItem(index uint64, data []byte) *BlockItem {
	return &BlockItem{
		index:      index,
		data:       data,
		receivedAt: time.Now(),
	}
}

// Index returns the position of the block in the content
func (b *BlockItem) Index() uint64 {
	return b.index
}

// Data returns the block bytes. The returned slice should not be modified.
func (b *BlockItem) Data() []byte {
	return b.data
}

// ReceivedAt returns the time when this block was submitted.
func (b *BlockItem) ReceivedAt() time.Time {
	return b.receivedAt
}

// Hash returns the leaf hash. It is only meaningful once IsHashed returns true
func (b *BlockItem) Hash() tree.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hash
}

// SetHash records the leaf hash and clears any previous hash error
func (b *BlockItem) SetHash(hash tree.Hash, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hash = hash
	b.hashed = true
	b.hashError = nil
	b.hashDuration = duration
}

// SetHashError records a failure in the hash stage
func (b *BlockItem) SetHashError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hashed = false
	b.hashError = err
}

// IsHashed returns true if the block was hashed successfully
func (b *BlockItem) IsHashed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hashed
}

// HashError returns the hash stage error, if any
func (b *BlockItem) HashError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hashError
}

// HashDuration returns the time spent hashing the block
func (b *BlockItem) HashDuration() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hashDuration
}

// SetApplied records the result of the apply stage
func (b *BlockItem) SetApplied(applied bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applied = applied
	b.applyError = err
}

// IsApplied returns true if the block was applied successfully
func (b *BlockItem) IsApplied() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.applied
}

// ApplyError returns the apply stage error, if any
func (b *BlockItem) ApplyError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.applyError
}
