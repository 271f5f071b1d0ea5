// Package indexer implements the per-tree persistent index of §4.D: the
// two-column-family key-value contract, event-driven ingest of deposit,
// transfer/withdraw, and nullifier events, nullifier-aware spendable-set
// queries, and Merkle-path reconstruction for transaction building.
package indexer

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/veil-protocol/veil/pkg/common"
	"github.com/veil-protocol/veil/pkg/types"
)

// LeafKey identifies a single slot in either column family.
type LeafKey struct {
	Tree  uint64
	Index uint64
}

// IndexedUTXO is the subset of a decrypted UTXO's plaintext fields worth
// persisting: spend_sk/view_sk are not stored per record, since a single
// indexer process serves one keyring (§5's "process-wide keyring").
type IndexedUTXO struct {
	TokenID types.Hash
	Random  [32]byte
	Nonce   [32]byte
	Amount  uint64
	Memo    string
}

// EncodeIndexedUTXO serializes an IndexedUTXO the same way internal/wire
// frames every other record: fixed fields first, then a u32 LE
// length-prefixed memo.
func EncodeIndexedUTXO(u IndexedUTXO) []byte {
	buf := make([]byte, 0, 32+32+32+8+4+len(u.Memo))
	buf = append(buf, u.TokenID.Bytes()...)
	buf = append(buf, u.Random[:]...)
	buf = append(buf, u.Nonce[:]...)
	var amount [8]byte
	binary.LittleEndian.PutUint64(amount[:], u.Amount)
	buf = append(buf, amount[:]...)
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(u.Memo)))
	buf = append(buf, length[:]...)
	buf = append(buf, u.Memo...)
	return buf
}

// DecodeIndexedUTXO parses the encoding EncodeIndexedUTXO produces.
func DecodeIndexedUTXO(data []byte) (IndexedUTXO, error) {
	const minLen = 32 + 32 + 32 + 8 + 4
	if len(data) < minLen {
		return IndexedUTXO{}, fmt.Errorf("%w: indexed utxo record too short", common.ErrSerialization)
	}
	var u IndexedUTXO
	off := 0
	copy(u.TokenID[:], data[off:off+32])
	off += 32
	copy(u.Random[:], data[off:off+32])
	off += 32
	copy(u.Nonce[:], data[off:off+32])
	off += 32
	u.Amount = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	memoLen := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	if off+int(memoLen) > len(data) {
		return IndexedUTXO{}, fmt.Errorf("%w: indexed utxo memo length out of range", common.ErrSerialization)
	}
	u.Memo = string(data[off : off+int(memoLen)])
	return u, nil
}

// Store is the key-value contract of §4.D: two column families, keyed by
// (tree, leaf_index), plus a global nullifier set (the wire-level
// NullifierEvent carries no tree_number, so nullifiers are tracked
// without tree scoping, matching §6's event encoding literally).
type Store interface {
	InsertLeaf(tree, index uint64, hash types.Hash) error
	InsertUTXO(tree, index uint64, utxo IndexedUTXO) error
	GetLeaf(tree, index uint64) (types.Hash, bool, error)
	GetUTXO(tree, index uint64) (IndexedUTXO, bool, error)
	IterateTree(tree uint64) (map[uint64]types.Hash, error)
	IterateTreeRange(tree uint64, start, end uint64) (map[uint64]types.Hash, error)
	AllUTXOs() (map[LeafKey]IndexedUTXO, error)
	AddNullifier(nullifier types.Hash) error
	Nullifiers() (map[types.Hash]bool, error)
	Close() error
}

// MemStore is an in-memory Store, the default backend and the one used
// by tests; a production deployment wires PostgresStore instead.
type MemStore struct {
	mu         sync.RWMutex
	leaves     map[LeafKey]types.Hash
	utxos      map[LeafKey]IndexedUTXO
	nullifiers map[types.Hash]bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		leaves:     make(map[LeafKey]types.Hash),
		utxos:      make(map[LeafKey]IndexedUTXO),
		nullifiers: make(map[types.Hash]bool),
	}
}

func (s *MemStore) InsertLeaf(tree, index uint64, hash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves[LeafKey{Tree: tree, Index: index}] = hash
	return nil
}

func (s *MemStore) InsertUTXO(tree, index uint64, utxo IndexedUTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utxos[LeafKey{Tree: tree, Index: index}] = utxo
	return nil
}

func (s *MemStore) GetLeaf(tree, index uint64) (types.Hash, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.leaves[LeafKey{Tree: tree, Index: index}]
	return h, ok, nil
}

func (s *MemStore) GetUTXO(tree, index uint64) (IndexedUTXO, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.utxos[LeafKey{Tree: tree, Index: index}]
	return u, ok, nil
}

func (s *MemStore) IterateTree(tree uint64) (map[uint64]types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]types.Hash)
	for k, v := range s.leaves {
		if k.Tree == tree {
			out[k.Index] = v
		}
	}
	return out, nil
}

func (s *MemStore) IterateTreeRange(tree uint64, start, end uint64) (map[uint64]types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]types.Hash)
	for k, v := range s.leaves {
		if k.Tree == tree && k.Index >= start && k.Index <= end {
			out[k.Index] = v
		}
	}
	return out, nil
}

func (s *MemStore) AllUTXOs() (map[LeafKey]IndexedUTXO, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[LeafKey]IndexedUTXO, len(s.utxos))
	for k, v := range s.utxos {
		out[k] = v
	}
	return out, nil
}

func (s *MemStore) AddNullifier(nullifier types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nullifiers[nullifier] = true
	return nil
}

func (s *MemStore) Nullifiers() (map[types.Hash]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.Hash]bool, len(s.nullifiers))
	for k, v := range s.nullifiers {
		out[k] = v
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }

// sortedLeafKeys returns m's keys in the canonical ascending
// (tree, index) order §4.D requires for deterministic replay.
func sortedLeafKeys(m map[LeafKey]IndexedUTXO) []LeafKey {
	keys := make([]LeafKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Tree != keys[j].Tree {
			return keys[i].Tree < keys[j].Tree
		}
		return keys[i].Index < keys[j].Index
	})
	return keys
}
