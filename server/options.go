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

package server

import (
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/ursa-pod/compression"
	"github.com/blinklabs-io/ursa-pod/crypto"
)

const (
	DefaultChunkSize          = 64 * 1024
	DefaultTerminationTimeout = 5 * time.Second
)

// Config contains the server configuration
type Config struct {
	NodeKey            *crypto.NodeSecretKey
	Logger             *slog.Logger
	Suite              crypto.Suite
	Compression        compression.Set
	EpochSource        EpochSource
	ChunkSize          int
	MaxConnections     int
	TerminationTimeout time.Duration
}

// Option is a function that modifies a Config
type Option func(*Config)

// NewConfig returns a Config with default values, applying any provided options
func NewConfig(options ...Option) Config {
	c := Config{
		Suite:              crypto.DefaultSuite(),
		Compression:        compression.All,
		EpochSource:        StaticEpoch(0),
		ChunkSize:          DefaultChunkSize,
		TerminationTimeout: DefaultTerminationTimeout,
	}
	for _, option := range options {
		option(&c)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// WithNodeKey specifies the node identity. It is required
func WithNodeKey(sk *crypto.NodeSecretKey) Option {
	return func(c *Config) {
		c.NodeKey = sk
	}
}

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithSuite specifies the crypto engines
func WithSuite(suite crypto.Suite) Option {
	return func(c *Config) {
		c.Suite = suite
	}
}

// WithCompression specifies the compression algorithms the server is willing to use.
// An empty set disables compression
func WithCompression(set compression.Set) Option {
	return func(c *Config) {
		c.Compression = set
	}
}

// WithEpochSource specifies where the current epoch comes from
func WithEpochSource(source EpochSource) Option {
	return func(c *Config) {
		c.EpochSource = source
	}
}

// WithChunkSize specifies the maximum size of each write of block data
func WithChunkSize(size int) Option {
	return func(c *Config) {
		c.ChunkSize = size
	}
}

// WithMaxConnections limits the number of concurrent connections. Zero means no limit
func WithMaxConnections(n int) Option {
	return func(c *Config) {
		c.MaxConnections = n
	}
}

// WithTerminationTimeout bounds how long the server waits to deliver a termination
// signal to a peer that is not reading
func WithTerminationTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.TerminationTimeout = timeout
	}
}
