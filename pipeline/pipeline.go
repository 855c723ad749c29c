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
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/blinklabs-io/ursa-pod/tree"
)

// ErrPipelineStopped is returned when trying to submit to a stopped pipeline.
var ErrPipelineStopped = errors.New("pipeline is stopped")

// ErrPipelineNotStarted is returned when trying to use a pipeline that hasn't been started.
var ErrPipelineNotStarted = errors.New("pipeline not started")

// BlockPipeline hashes submitted blocks on a pool of workers and hands them to the
// apply function in submission order.
type BlockPipeline struct {
	config PipelineConfig

	hashStage  *HashStage
	applyStage *ApplyStage
	hashPool   *StageWorkerPool
	applyRun   *ApplyStageRunner

	submitChan chan *BlockItem
	hashedChan chan *BlockItem

	metrics *PipelineMetrics

	nextIndex uint64
	ctx       context.Context
	cancel    context.CancelFunc
	started   atomic.Bool
	stopped   atomic.Bool
	mu        sync.Mutex   // protects Start/Stop
	submitMu  sync.RWMutex // protects Submit against concurrent Stop
	errMu     sync.Mutex
	err       error
}

// NewBlockPipeline creates a new BlockPipeline using functional options.
//
// Example:
//
//	p := NewBlockPipeline(
//	    WithHashWorkers(4),
//	    WithApplyFunc(myApplyFunc),
//	)
func NewBlockPipeline(opts ...PipelineOption) *BlockPipeline {
	config := DefaultPipelineConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &BlockPipeline{
		config:  config,
		metrics: NewPipelineMetrics(),
	}
}

// Start starts the pipeline processing.
func (p *BlockPipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped.Load() {
		return ErrPipelineStopped
	}
	if p.started.Load() {
		return nil // Already started
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.submitChan = make(chan *BlockItem, p.config.BufferSize)
	p.hashedChan = make(chan *BlockItem, p.config.BufferSize)

	p.hashStage = NewHashStage()
	p.applyStage = NewApplyStage(p.config.ApplyFunc, p.config.MaxPendingBlocks)
	p.hashPool = NewStageWorkerPool(StageWorkerPoolConfig{
		Stage:         p.hashStage,
		NumWorkers:    p.config.HashWorkers,
		Input:         p.submitChan,
		Output:        p.hashedChan,
		RecordMetrics: HashMetricsRecorder(p.metrics),
	})
	p.applyRun = NewApplyStageRunner(p.applyStage, p.hashedChan, p.fail)
	p.applyRun.SetMetrics(p.metrics)

	// p.ctx is derived from the passed ctx via context.WithCancel above
	p.hashPool.Start(p.ctx) //nolint:contextcheck
	p.applyRun.Start(p.ctx) //nolint:contextcheck

	p.started.Store(true)
	return nil
}

// fail records the first error and cancels the pipeline
func (p *BlockPipeline) fail(err error) {
	p.errMu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.errMu.Unlock()
	p.cancel()
}

// Err returns the first hash or apply error
func (p *BlockPipeline) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Submit submits the next block. Blocks are numbered in submission order.
// The context allows callers to handle timeouts or cancellations when the
// pipeline is full and applying backpressure.
func (p *BlockPipeline) Submit(ctx context.Context, data []byte) error {
	if !p.started.Load() {
		return ErrPipelineNotStarted
	}

	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.stopped.Load() {
		return ErrPipelineStopped
	}

	item := NewBlockItem(atomic.AddUint64(&p.nextIndex, 1)-1, data)
	select {
	case p.submitChan <- item:
		p.metrics.RecordSubmit()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		if err := p.Err(); err != nil {
			return err
		}
		return ErrPipelineStopped
	}
}

// Close stops accepting blocks and waits until every submitted block has been
// applied. It returns the first hash or apply error.
func (p *BlockPipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started.Load() {
		return ErrPipelineNotStarted
	}
	if p.stopped.Load() {
		return p.Err()
	}

	p.submitMu.Lock()
	p.stopped.Store(true)
	close(p.submitChan)
	p.submitMu.Unlock()

	p.hashPool.Stop()
	close(p.hashedChan)
	p.applyRun.Stop()
	p.cancel()

	if err := p.Err(); err != nil {
		return err
	}
	// The parent context may have been cancelled before everything was applied
	if p.applyStage.NextIndex() != atomic.LoadUint64(&p.nextIndex) {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		return ErrPipelineStopped
	}
	return nil
}

// Stop cancels the pipeline without waiting for submitted blocks to be applied.
func (p *BlockPipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started.Load() || p.stopped.Load() {
		return nil
	}

	// Cancel first to unblock any Submit() calls waiting on channel send
	p.cancel()

	p.submitMu.Lock()
	p.stopped.Store(true)
	close(p.submitChan)
	p.submitMu.Unlock()

	p.hashPool.Stop()
	close(p.hashedChan)
	p.applyRun.Stop()
	return nil
}

// Stats returns the current pipeline statistics.
func (p *BlockPipeline) Stats() PipelineStats {
	return p.metrics.Stats()
}

// HashBlocks hashes blocks on the given number of workers and returns the leaf hashes
// in order
func HashBlocks(ctx context.Context, blocks [][]byte, workers int) ([]tree.Hash, error) {
	hashes := make([]tree.Hash, 0, len(blocks))
	p := NewBlockPipeline(
		WithHashWorkers(workers),
		WithApplyFunc(func(item *BlockItem) error {
			hashes = append(hashes, item.Hash())
			return nil
		}),
	)
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	for _, block := range blocks {
		if err := p.Submit(ctx, block); err != nil {
			_ = p.Stop()
			return nil, err
		}
	}
	if err := p.Close(); err != nil {
		return nil, err
	}
	return hashes, nil
}
