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

package store

import (
	"io"
	"log/slog"

	"github.com/blinklabs-io/ursa-pod/crypto"
)

// Option is a function that modifies the Store config
type Option func(*Store)

// WithKV specifies the key/value engine. An in-memory KV is used when none is given
func WithKV(kv KV) Option {
	return func(s *Store) {
		s.kv = kv
	}
}

// WithNodeKey specifies the node key used to derive decryption keys
func WithNodeKey(sk *crypto.NodeSecretKey) Option {
	return func(s *Store) {
		s.nodeKey = sk
	}
}

// WithSuite specifies the crypto engines
func WithSuite(suite crypto.Suite) Option {
	return func(s *Store) {
		s.suite = suite
	}
}

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithHashWorkers specifies the number of workers hashing blocks during an import
func WithHashWorkers(workers int) Option {
	return func(s *Store) {
		s.hashWorkers = workers
	}
}

// WithBlockSize specifies the size imported content is split into
func WithBlockSize(size int) Option {
	return func(s *Store) {
		s.blockSize = size
	}
}

// WithDefaultBalance specifies the balance of clients that have never been credited
func WithDefaultBalance(balance uint64) Option {
	return func(s *Store) {
		s.defaultBalance = balance
	}
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
