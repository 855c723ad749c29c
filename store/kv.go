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

// Package store is a content store for UFDP providers. It splits imported content into
// blocks, keeps the merkle tree for each content id and records client balances and
// delivery acknowledgments. Store implements server.Backend.
package store

import "errors"

// ErrKeyNotFound is returned by a KV when a key does not exist
var ErrKeyNotFound = errors.New("key not found")

// KV is the key/value engine under a Store. Implementations must be safe for concurrent
// use and must not retain the slices passed to them.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key []byte, value []byte) error
	Delete(key []byte) error
	// Scan calls fn for every key with the given prefix in key order. Returning an error
	// from fn stops the scan and returns that error.
	Scan(prefix []byte, fn func(key []byte, value []byte) error) error
	Close() error
}

// prefixUpperBound returns the smallest key greater than every key with the prefix, or
// nil when there is none
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
