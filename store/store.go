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
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/blinklabs-io/ursa-pod/cbor"
	"github.com/blinklabs-io/ursa-pod/contentid"
	"github.com/blinklabs-io/ursa-pod/crypto"
	"github.com/blinklabs-io/ursa-pod/frame"
	"github.com/blinklabs-io/ursa-pod/pipeline"
	"github.com/blinklabs-io/ursa-pod/server"
	"github.com/blinklabs-io/ursa-pod/tree"
	"github.com/google/uuid"
)

var (
	ErrNoNodeKey        = errors.New("store has no node key")
	ErrInvalidBlockSize = errors.New("invalid block size")
	ErrCorruptRecord    = errors.New("corrupt record")
)

// Store keeps content blocks and trees, client balances and delivery batches in a KV
type Store struct {
	kv             KV
	nodeKey        *crypto.NodeSecretKey
	suite          crypto.Suite
	logger         *slog.Logger
	hashWorkers    int
	blockSize      int
	defaultBalance uint64

	treesMutex   sync.RWMutex
	trees        map[[32]byte]*tree.Tree
	balanceMutex sync.Mutex
}

var _ server.Backend = (*Store)(nil)

// New returns a Store with the specified options
func New(opts ...Option) (*Store, error) {
	s := &Store{
		suite:       crypto.DefaultSuite(),
		hashWorkers: runtime.NumCPU(),
		blockSize:   frame.BlockSize,
		trees:       make(map[[32]byte]*tree.Tree),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.blockSize <= 0 || s.blockSize > frame.MaxBlockSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockSize, s.blockSize)
	}
	if s.hashWorkers <= 0 {
		s.hashWorkers = 1
	}
	if s.kv == nil {
		s.kv = NewMemoryKV()
	}
	if s.logger == nil {
		s.logger = defaultLogger()
	}
	s.logger = s.logger.With("component", "store")
	return s, nil
}

// Close closes the underlying KV
func (s *Store) Close() error {
	return s.kv.Close()
}

// Import splits r into blocks, hashes them on the worker pool and stores the blocks
// along with their tree. It returns the content id, which is the tree root.
func (s *Store) Import(ctx context.Context, r io.Reader) ([32]byte, error) {
	builder := tree.NewBuilder()
	var size uint64
	p := pipeline.NewBlockPipeline(
		pipeline.WithHashWorkers(s.hashWorkers),
		pipeline.WithApplyFunc(func(item *pipeline.BlockItem) error {
			leaf := item.Hash()
			if err := s.kv.Set(blockKey(leaf), item.Data()); err != nil {
				return fmt.Errorf("store block %d: %w", item.Index(), err)
			}
			builder.AddHash(leaf)
			size += uint64(len(item.Data()))
			return nil
		}),
	)
	if err := p.Start(ctx); err != nil {
		return [32]byte{}, err
	}
	for {
		buf := make([]byte, s.blockSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if err := p.Submit(ctx, buf[:n]); err != nil {
				_ = p.Stop()
				return [32]byte{}, fmt.Errorf("import: %w", err)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			_ = p.Stop()
			return [32]byte{}, fmt.Errorf("import: read: %w", err)
		}
	}
	if err := p.Close(); err != nil {
		return [32]byte{}, fmt.Errorf("import: %w", err)
	}
	t, err := builder.Finalize()
	if err != nil {
		return [32]byte{}, fmt.Errorf("import: %w", err)
	}
	data, err := cbor.Encode(&treeRecord{Size: size, Nodes: t.Nodes()})
	if err != nil {
		return [32]byte{}, fmt.Errorf("import: encode tree: %w", err)
	}
	cid := t.Root()
	if err := s.kv.Set(treeKey(cid), data); err != nil {
		return [32]byte{}, fmt.Errorf("import: store tree: %w", err)
	}
	s.treesMutex.Lock()
	s.trees[cid] = t
	s.treesMutex.Unlock()
	stats := p.Stats()
	s.logger.Debug(
		"imported content",
		"cid", contentid.Format(cid),
		"blocks", t.Leaves(),
		"bytes", size,
		"hashed_bytes", stats.BytesHashed,
		"duration", stats.LastBlockTime.Sub(stats.StartTime),
	)
	return cid, nil
}

func (s *Store) loadTree(cid [32]byte) (*tree.Tree, uint64, error) {
	data, err := s.kv.Get(treeKey(cid))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, 0, server.ErrNotFound
		}
		return nil, 0, err
	}
	var rec treeRecord
	if _, err := cbor.Decode(data, &rec); err != nil {
		return nil, 0, fmt.Errorf("%w: tree %x: %w", ErrCorruptRecord, cid, err)
	}
	t, err := tree.FromNodes(rec.Nodes)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: tree %x: %w", ErrCorruptRecord, cid, err)
	}
	if t.Root() != cid {
		return nil, 0, fmt.Errorf("%w: tree %x has root %x", ErrCorruptRecord, cid, t.Root())
	}
	return t, rec.Size, nil
}

// GetTree returns the tree of a content, loading it from the KV on first use
func (s *Store) GetTree(cid [32]byte) (*tree.Tree, error) {
	s.treesMutex.RLock()
	t, ok := s.trees[cid]
	s.treesMutex.RUnlock()
	if ok {
		return t, nil
	}
	t, _, err := s.loadTree(cid)
	if err != nil {
		return nil, err
	}
	s.treesMutex.Lock()
	s.trees[cid] = t
	s.treesMutex.Unlock()
	return t, nil
}

// ContentSize returns the number of bytes imported for a content
func (s *Store) ContentSize(cid [32]byte) (uint64, error) {
	_, size, err := s.loadTree(cid)
	return size, err
}

// Contents lists the ids of every stored content
func (s *Store) Contents() ([][32]byte, error) {
	var ret [][32]byte
	err := s.kv.Scan(prefixTree, func(key []byte, _ []byte) error {
		if len(key) != len(prefixTree)+32 {
			return fmt.Errorf("%w: tree key %x", ErrCorruptRecord, key)
		}
		var cid [32]byte
		copy(cid[:], key[len(prefixTree):])
		ret = append(ret, cid)
		return nil
	})
	return ret, err
}

// RawBlock returns block index of a content
func (s *Store) RawBlock(cid [32]byte, index uint64) ([]byte, error) {
	t, err := s.GetTree(cid)
	if err != nil {
		return nil, err
	}
	if index >= uint64(t.Leaves()) {
		return nil, server.ErrNotFound
	}
	data, err := s.kv.Get(blockKey(t.Leaf(int(index))))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: block %d of %x", server.ErrNotFound, index, cid)
		}
		return nil, err
	}
	return data, nil
}

// DecryptionKey derives the DLE key for a request with the node key
func (s *Store) DecryptionKey(req *crypto.RequestInfo) (crypto.SymmetricKey, uint64, error) {
	if s.nodeKey == nil {
		return crypto.SymmetricKey{}, 0, ErrNoNodeKey
	}
	key, err := s.suite.Keys.GenerateSymmetricKey(s.nodeKey, req.Hash())
	if err != nil {
		return crypto.SymmetricKey{}, 0, err
	}
	return key, req.BlockCounter, nil
}

// GetBalance returns the balance of a client, or the default balance when the client
// has never been credited
func (s *Store) GetBalance(client crypto.ClientPublicKey) (uint64, error) {
	data, err := s.kv.Get(balanceKey(client))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return s.defaultBalance, nil
		}
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: balance of %s", ErrCorruptRecord, client)
	}
	return binary.BigEndian.Uint64(data), nil
}

// SetBalance replaces the balance of a client
func (s *Store) SetBalance(client crypto.ClientPublicKey, balance uint64) error {
	s.balanceMutex.Lock()
	defer s.balanceMutex.Unlock()
	return s.setBalance(client, balance)
}

func (s *Store) setBalance(client crypto.ClientPublicKey, balance uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], balance)
	return s.kv.Set(balanceKey(client), buf[:])
}

// Credit adds to the balance of a client and returns the new balance. The balance
// saturates instead of overflowing.
func (s *Store) Credit(client crypto.ClientPublicKey, amount uint64) (uint64, error) {
	s.balanceMutex.Lock()
	defer s.balanceMutex.Unlock()
	balance, err := s.GetBalance(client)
	if err != nil {
		return 0, err
	}
	if balance > math.MaxUint64-amount {
		balance = math.MaxUint64
	} else {
		balance += amount
	}
	if err := s.setBalance(client, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// SaveBatch stores a batch under a time ordered key
func (s *Store) SaveBatch(batch server.Batch) error {
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	data, err := cbor.Encode(newBatchRecord(batch))
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	if err := s.kv.Set(makeKey(prefixBatch, id[:]), data); err != nil {
		return fmt.Errorf("store batch: %w", err)
	}
	s.logger.Debug(
		"saved batch",
		"client", batch.Client.String(),
		"lane", batch.Lane,
		"epoch", batch.Epoch,
		"bytes", batch.Bytes,
	)
	return nil
}

// BatchRecords returns every stored batch in the order it was saved
func (s *Store) BatchRecords() ([]*BatchRecord, error) {
	var ret []*BatchRecord
	err := s.kv.Scan(prefixBatch, func(key []byte, value []byte) error {
		rec := &BatchRecord{}
		if _, err := cbor.Decode(value, rec); err != nil {
			return fmt.Errorf("%w: batch %x: %w", ErrCorruptRecord, key, err)
		}
		ret = append(ret, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Batches returns every stored batch in the order it was saved
func (s *Store) Batches() ([]server.Batch, error) {
	recs, err := s.BatchRecords()
	if err != nil {
		return nil, err
	}
	ret := make([]server.Batch, 0, len(recs))
	for _, rec := range recs {
		ret = append(ret, rec.Batch())
	}
	return ret, nil
}

type laneSession struct {
	client crypto.ClientPublicKey
	lane   uint8
	nonce  [32]byte
}

// AggregateBatches aggregates the acknowledgments of the stored batches into a single
// signature. Acknowledgments are cumulative, so only the largest batch of each lane and
// session is kept. The kept batches are returned in the order of the signature.
func (s *Store) AggregateBatches() (crypto.Acknowledgment, []server.Batch, error) {
	batches, err := s.Batches()
	if err != nil {
		return crypto.Acknowledgment{}, nil, err
	}
	latest := make(map[laneSession]int)
	var kept []server.Batch
	for _, b := range batches {
		key := laneSession{client: b.Client, lane: b.Lane, nonce: b.SessionNonce}
		if idx, ok := latest[key]; ok {
			if b.Bytes > kept[idx].Bytes {
				kept[idx] = b
			}
			continue
		}
		latest[key] = len(kept)
		kept = append(kept, b)
	}
	sigs := make([]crypto.Acknowledgment, 0, len(kept))
	for _, b := range kept {
		sigs = append(sigs, b.Acknowledgment)
	}
	agg, err := s.suite.Acks.AggregateAcknowledgments(sigs)
	if err != nil {
		return crypto.Acknowledgment{}, nil, err
	}
	return agg, kept, nil
}

// ExportBatches writes every stored batch record to w as a single CBOR array
func (s *Store) ExportBatches(w io.Writer) error {
	recs, err := s.BatchRecords()
	if err != nil {
		return err
	}
	raw := make([]cbor.RawMessage, 0, len(recs))
	for _, rec := range recs {
		raw = append(raw, cbor.RawMessage(rec.Cbor()))
	}
	data, err := cbor.Encode(raw)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
