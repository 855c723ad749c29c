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

package client

import (
	"io"
	"log/slog"
	"time"

	pod "github.com/blinklabs-io/ursa-pod"
	"github.com/blinklabs-io/ursa-pod/compression"
	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/blinklabs-io/ursa-pod/frame"
)

const DefaultTerminationTimeout = 5 * time.Second

// Config contains the client configuration
type Config struct {
	SecretKey          *crypto.ClientSecretKey
	Logger             *slog.Logger
	Suite              crypto.Suite
	Compression        compression.Set
	Lane               uint8
	ServerKey          *crypto.NodePublicKey
	ChunkSize          int
	MaxBlockSize       int
	TerminationTimeout time.Duration
}

// Option is a function that modifies a Config
type Option func(*Config)

// NewConfig returns a Config with default values, applying any provided options
func NewConfig(options ...Option) Config {
	c := Config{
		Suite:              crypto.DefaultSuite(),
		Compression:        compression.All,
		Lane:               frame.LaneNone,
		ChunkSize:          pod.DefaultChunkSize,
		MaxBlockSize:       frame.MaxBlockSize,
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

// WithSecretKey specifies the client identity used to acknowledge deliveries. It is
// required
func WithSecretKey(sk *crypto.ClientSecretKey) Option {
	return func(c *Config) {
		c.SecretKey = sk
	}
}

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithSuite specifies the crypto engines. They must match the server's
func WithSuite(suite crypto.Suite) Option {
	return func(c *Config) {
		c.Suite = suite
	}
}

// WithCompression specifies the compression algorithms offered to the server
func WithCompression(set compression.Set) Option {
	return func(c *Config) {
		c.Compression = set
	}
}

// WithLane requests a specific lane, which resumes its byte counter within an epoch
func WithLane(lane uint8) Option {
	return func(c *Config) {
		c.Lane = lane
	}
}

// WithServerKey pins the node public key expected in the handshake
func WithServerKey(pk crypto.NodePublicKey) Option {
	return func(c *Config) {
		c.ServerKey = &pk
	}
}

// WithChunkSize specifies the size of the chunks block data is read in
func WithChunkSize(size int) Option {
	return func(c *Config) {
		c.ChunkSize = size
	}
}

// WithMaxBlockSize bounds the size of a decompressed block
func WithMaxBlockSize(size int) Option {
	return func(c *Config) {
		c.MaxBlockSize = size
	}
}

// WithTerminationTimeout bounds how long the client waits to deliver a termination
// signal to a server that is not reading
func WithTerminationTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.TerminationTimeout = timeout
	}
}
