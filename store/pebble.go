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
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleKV is a KV on disk backed by Pebble
type PebbleKV struct {
	db *pebble.DB
}

var _ KV = (*PebbleKV)(nil)

// OpenPebble opens or creates a Pebble database in the directory at path
func OpenPebble(path string) (*PebbleKV, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble database %s: %w", path, err)
	}
	return &PebbleKV{db: db}, nil
}

func (p *PebbleKV) Get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	// The returned slice is only valid until the closer is closed
	ret := make([]byte, len(val))
	copy(ret, val)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (p *PebbleKV) Set(key []byte, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

// SetMany writes several keys in a single batch
func (p *PebbleKV) SetMany(keys [][]byte, values [][]byte) error {
	if len(keys) != len(values) {
		return fmt.Errorf("key and value counts differ: %d != %d", len(keys), len(values))
	}
	batch := p.db.NewBatch()
	defer batch.Close()
	for i := range keys {
		if err := batch.Set(keys[i], values[i], nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (p *PebbleKV) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleKV) Scan(prefix []byte, fn func(key []byte, value []byte) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		val := make([]byte, len(iter.Value()))
		copy(val, iter.Value())
		if err := fn(key, val); err != nil {
			_ = iter.Close()
			return err
		}
	}
	return iter.Close()
}

func (p *PebbleKV) Close() error {
	return p.db.Close()
}
