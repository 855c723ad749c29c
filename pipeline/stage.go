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

// Package pipeline provides a concurrent block processing pipeline for content import.
// Blocks are hashed in parallel and applied in index order.
package pipeline

import (
	"context"
	"time"

	"github.com/blinklabs-io/ursa-pod/tree"
)

// Stage represents a processing stage in the block pipeline.
type Stage interface {
	// Name returns the name of the stage for logging and metrics.
	Name() string
	// Process processes a single block item. Returns an error if processing fails.
	Process(ctx context.Context, item *BlockItem) error
}

// HashStage computes the tree leaf hash of each block
type HashStage struct{}

func NewHashStage() *HashStage {
	return &HashStage{}
}

// Name returns the stage name.
func (s *HashStage) Name() string {
	return "hash"
}

// Process hashes the item data and stores the result in the item
func (s *HashStage) Process(ctx context.Context, item *BlockItem) error {
	select {
	case <-ctx.Done():
		item.SetHashError(ctx.Err())
		return ctx.Err()
	default:
	}
	start := time.Now()
	hash := tree.HashBlock(item.Data())
	item.SetHash(hash, time.Since(start))
	return nil
}

// PipelineStats contains statistics about pipeline performance.
type PipelineStats struct {
	// BlocksSubmitted is the total number of blocks submitted to the pipeline.
	BlocksSubmitted uint64
	// BlocksHashed is the total number of blocks successfully hashed.
	BlocksHashed uint64
	// BytesHashed is the total size of the hashed blocks.
	BytesHashed uint64
	// BlocksApplied is the total number of blocks successfully applied.
	BlocksApplied uint64
	// BytesApplied is the total size of the applied blocks.
	BytesApplied uint64
	// HashErrors is the total number of hash errors.
	HashErrors uint64
	// ApplyErrors is the total number of apply errors.
	ApplyErrors uint64

	// StartTime is when the pipeline was started.
	StartTime time.Time
	// LastBlockTime is the time the last block was applied.
	LastBlockTime time.Time
}
