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
	"sync/atomic"
	"time"
)

// PipelineMetrics tracks metrics for the entire pipeline.
// Uses atomic counters for thread-safe operation.
type PipelineMetrics struct {
	// Counters (atomic)
	blocksSubmitted atomic.Uint64
	blocksHashed    atomic.Uint64
	bytesHashed     atomic.Uint64
	blocksApplied   atomic.Uint64
	bytesApplied    atomic.Uint64
	hashErrors      atomic.Uint64
	applyErrors     atomic.Uint64

	// Timing
	mu            sync.RWMutex
	lastBlockTime time.Time
	startTime     time.Time
}

// NewPipelineMetrics creates a new PipelineMetrics.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		startTime: time.Now(),
	}
}

// RecordSubmit increments the submitted counter.
func (m *PipelineMetrics) RecordSubmit() {
	m.blocksSubmitted.Add(1)
}

// RecordHash records a hash result for a block of size bytes
func (m *PipelineMetrics) RecordHash(size uint64, err error) {
	if err != nil {
		m.hashErrors.Add(1)
		return
	}
	m.blocksHashed.Add(1)
	m.bytesHashed.Add(size)
}

// RecordApply records an apply result.
func (m *PipelineMetrics) RecordApply(size uint64, err error) {
	if err != nil {
		m.applyErrors.Add(1)
		return
	}
	m.blocksApplied.Add(1)
	m.bytesApplied.Add(size)
	m.mu.Lock()
	m.lastBlockTime = time.Now()
	m.mu.Unlock()
}

// Stats returns a snapshot of the current metrics.
func (m *PipelineMetrics) Stats() PipelineStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return PipelineStats{
		BlocksSubmitted: m.blocksSubmitted.Load(),
		BlocksHashed:    m.blocksHashed.Load(),
		BytesHashed:     m.bytesHashed.Load(),
		BlocksApplied:   m.blocksApplied.Load(),
		BytesApplied:    m.bytesApplied.Load(),
		HashErrors:      m.hashErrors.Load(),
		ApplyErrors:     m.applyErrors.Load(),
		StartTime:       m.startTime,
		LastBlockTime:   m.lastBlockTime,
	}
}
