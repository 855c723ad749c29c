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
)

// ErrPendingLimitExceeded is returned when the apply stage's pending buffer is full.
var ErrPendingLimitExceeded = errors.New("pipeline: pending block limit exceeded")

// ApplyFunc is a function that applies a hashed block to some state.
// It is called in index order.
type ApplyFunc func(*BlockItem) error

// ApplyStage buffers hashed blocks and applies them in index order. Once an item fails
// to hash or apply, no later item is applied.
//
// ProcessWithStatus must be called from a single goroutine to guarantee ordered
// execution of ApplyFunc. The ApplyStageRunner provides this guarantee.
type ApplyStage struct {
	applyFunc  ApplyFunc
	maxPending int
	mu         sync.Mutex
	// pending holds out-of-order items waiting to be applied
	pending   map[uint64]*BlockItem
	nextIndex uint64
	err       error
}

// NewApplyStage creates a new ApplyStage with the given apply function.
// maxPending limits the number of out-of-order blocks that can be buffered.
// Use 0 for unlimited.
func NewApplyStage(applyFunc ApplyFunc, maxPending int) *ApplyStage {
	return &ApplyStage{
		applyFunc:  applyFunc,
		maxPending: maxPending,
		pending:    make(map[uint64]*BlockItem),
	}
}

// Name returns the stage name.
func (s *ApplyStage) Name() string {
	return "apply"
}

// Process buffers the item and applies any items that are now in order.
func (s *ApplyStage) Process(ctx context.Context, item *BlockItem) error {
	_, err := s.ProcessWithStatus(ctx, item)
	return err
}

// ProcessWithStatus processes an item and returns all items that were applied as a
// result, in order. An out of order item is buffered and the returned slice is nil.
// The returned error is the first hash or apply failure.
func (s *ApplyStage) ProcessWithStatus(ctx context.Context, item *BlockItem) ([]*BlockItem, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.pending[item.Index()] = item
	if s.maxPending > 0 && len(s.pending) > s.maxPending {
		return nil, ErrPendingLimitExceeded
	}
	var processed []*BlockItem
	for {
		next, ok := s.pending[s.nextIndex]
		if !ok {
			return processed, nil
		}
		delete(s.pending, s.nextIndex)
		s.nextIndex++
		if err := next.HashError(); err != nil {
			s.err = err
			return processed, err
		}
		var err error
		if s.applyFunc != nil {
			err = s.applyFunc(next)
		}
		next.SetApplied(err == nil, err)
		if err != nil {
			s.err = err
			return processed, err
		}
		processed = append(processed, next)
	}
}

// PendingCount returns the number of items waiting to be applied.
func (s *ApplyStage) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// NextIndex returns the index of the next block to be applied
func (s *ApplyStage) NextIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIndex
}

// ApplyStageRunner runs the apply stage as a single goroutine.
type ApplyStageRunner struct {
	stage   *ApplyStage
	input   <-chan *BlockItem
	onError func(error)
	metrics *PipelineMetrics
	done    chan struct{}
	running bool
	mu      sync.Mutex
}

// NewApplyStageRunner creates a new runner for the apply stage. onError is called once
// with the first failure.
func NewApplyStageRunner(stage *ApplyStage, input <-chan *BlockItem, onError func(error)) *ApplyStageRunner {
	return &ApplyStageRunner{
		stage:   stage,
		input:   input,
		onError: onError,
		done:    make(chan struct{}),
	}
}

// SetMetrics sets the metrics collector for the runner.
// Must be called before Start() to avoid data races.
func (r *ApplyStageRunner) SetMetrics(metrics *PipelineMetrics) {
	r.metrics = metrics
}

// Start starts the apply stage runner.
func (r *ApplyStageRunner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.run(ctx)
}

// Stop waits for the runner to complete. The runner exits when the context passed to
// Start is cancelled or the input channel is closed.
func (r *ApplyStageRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	done := r.done
	r.mu.Unlock()

	<-done
}

func (r *ApplyStageRunner) run(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.running = false
		close(r.done)
		r.mu.Unlock()
	}()

	failed := false
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-r.input:
			if !ok {
				return
			}
			// Keep draining after a failure so upstream workers never block
			if failed {
				continue
			}
			processed, err := r.stage.ProcessWithStatus(ctx, item)
			if r.metrics != nil {
				for _, p := range processed {
					r.metrics.RecordApply(uint64(len(p.Data())), nil)
				}
			}
			if err != nil {
				failed = true
				if r.metrics != nil {
					r.metrics.RecordApply(0, err)
				}
				if r.onError != nil {
					r.onError(err)
				}
			}
		}
	}
}
