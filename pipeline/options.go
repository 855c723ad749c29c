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

import "runtime"

// DefaultMaxPendingBlocks is the default limit for out-of-order blocks buffered in the
// apply stage. At the default block size this is 256 MiB of content.
const DefaultMaxPendingBlocks = 1024

// PipelineConfig holds configuration for a BlockPipeline.
type PipelineConfig struct {
	// HashWorkers is the number of parallel hash workers.
	HashWorkers int
	// BufferSize is the buffer size for inter-stage channels.
	BufferSize int
	// MaxPendingBlocks limits out-of-order blocks buffered in the apply stage.
	MaxPendingBlocks int
	// ApplyFunc is the function called to apply blocks in order.
	ApplyFunc ApplyFunc
}

// DefaultPipelineConfig returns a PipelineConfig with sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		HashWorkers:      max(runtime.NumCPU()/2, 2),
		BufferSize:       64,
		MaxPendingBlocks: DefaultMaxPendingBlocks,
	}
}

// PipelineOption is a functional option for configuring a BlockPipeline.
type PipelineOption func(*PipelineConfig)

// WithConfig applies a complete PipelineConfig, replacing all default values.
// Options applied after WithConfig will still override the config values.
func WithConfig(config PipelineConfig) PipelineOption {
	return func(c *PipelineConfig) {
		*c = config
	}
}

// WithHashWorkers sets the number of hash workers.
func WithHashWorkers(n int) PipelineOption {
	return func(c *PipelineConfig) {
		if n > 0 {
			c.HashWorkers = n
		}
	}
}

// WithBufferSize sets the buffer size for inter-stage channels.
func WithBufferSize(size int) PipelineOption {
	return func(c *PipelineConfig) {
		if size > 0 {
			c.BufferSize = size
		}
	}
}

// WithMaxPendingBlocks sets the limit for out-of-order blocks in the apply stage.
func WithMaxPendingBlocks(n int) PipelineOption {
	return func(c *PipelineConfig) {
		if n > 0 {
			c.MaxPendingBlocks = n
		}
	}
}

// WithApplyFunc sets the function that receives hashed blocks in index order.
func WithApplyFunc(fn ApplyFunc) PipelineOption {
	return func(c *PipelineConfig) {
		c.ApplyFunc = fn
	}
}
