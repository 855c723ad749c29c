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
)

// ErrNilStage is raised as a panic when a worker pool is created without a stage
var ErrNilStage = errors.New("pipeline: stage must not be nil")

// MetricsRecorder is called once for every item a stage finished with
type MetricsRecorder func(item *BlockItem, err error)

// StageWorkerPool fans blocks out to several workers running the same stage. It
// counts the blocks and block bytes the stage got through, which is the hash rate of
// an import. An item a worker is holding when the context ends is never forwarded:
// it is marked failed with the context error and counted as cancelled.
type StageWorkerPool struct {
	stage      Stage
	numWorkers int
	input      <-chan *BlockItem
	output     chan<- *BlockItem
	record     MetricsRecorder
	wg         sync.WaitGroup
	started    atomic.Bool

	blocks    atomic.Uint64
	bytes     atomic.Uint64
	cancelled atomic.Uint64
}

// StageWorkerPoolConfig holds configuration for creating a StageWorkerPool.
type StageWorkerPoolConfig struct {
	// Stage is required
	Stage Stage
	// NumWorkers defaults to 1
	NumWorkers int
	Input      <-chan *BlockItem
	Output     chan<- *BlockItem
	// RecordMetrics may be nil. It is not called for cancelled items.
	RecordMetrics MetricsRecorder
}

// NewStageWorkerPool panics with ErrNilStage when config.Stage is nil
func NewStageWorkerPool(config StageWorkerPoolConfig) *StageWorkerPool {
	if config.Stage == nil {
		panic(ErrNilStage)
	}
	return &StageWorkerPool{
		stage:      config.Stage,
		numWorkers: max(config.NumWorkers, 1),
		input:      config.Input,
		output:     config.Output,
		record:     config.RecordMetrics,
	}
}

// Start launches the workers. Later calls do nothing.
func (p *StageWorkerPool) Start(ctx context.Context) {
	if p.started.Swap(true) {
		return
	}
	p.wg.Add(p.numWorkers)
	for range p.numWorkers {
		go p.worker(ctx)
	}
}

// Stop waits for the workers, which exit when the input channel is closed or the
// context is cancelled
func (p *StageWorkerPool) Stop() {
	p.wg.Wait()
}

// Blocks returns the number of items the stage processed without error
func (p *StageWorkerPool) Blocks() uint64 {
	return p.blocks.Load()
}

// Bytes returns the total data size of the items counted by Blocks
func (p *StageWorkerPool) Bytes() uint64 {
	return p.bytes.Load()
}

// Cancelled returns the number of items dropped because the context ended
func (p *StageWorkerPool) Cancelled() uint64 {
	return p.cancelled.Load()
}

func (p *StageWorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.input:
			if !ok {
				return
			}
			if !p.process(ctx, item) {
				return
			}
		}
	}
}

// process runs the stage on one item and hands it on. Items that failed for another
// reason are still forwarded, carrying their error. It returns false when the context
// ended while the item was held.
func (p *StageWorkerPool) process(ctx context.Context, item *BlockItem) bool {
	err := p.stage.Process(ctx, item)
	if ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err())) {
		p.abandon(ctx, item)
		return false
	}
	if err == nil {
		p.blocks.Add(1)
		p.bytes.Add(uint64(len(item.Data())))
	}
	if p.record != nil {
		p.record(item, err)
	}
	select {
	case p.output <- item:
		return true
	case <-ctx.Done():
		p.abandon(ctx, item)
		return false
	}
}

func (p *StageWorkerPool) abandon(ctx context.Context, item *BlockItem) {
	item.SetHashError(ctx.Err())
	p.cancelled.Add(1)
}

// HashMetricsRecorder feeds hash stage results into metrics
func HashMetricsRecorder(metrics *PipelineMetrics) MetricsRecorder {
	if metrics == nil {
		return nil
	}
	return func(item *BlockItem, err error) {
		metrics.RecordHash(uint64(len(item.Data())), err)
	}
}
