package indexer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/veil-protocol/veil/internal/crypto"
	"github.com/veil-protocol/veil/internal/merkle"
	"github.com/veil-protocol/veil/internal/utxo"
	"github.com/veil-protocol/veil/internal/wire"
	"github.com/veil-protocol/veil/pkg/common"
	"github.com/veil-protocol/veil/pkg/types"
)

// Mode is the tagged union of §9's "Dynamic dispatch over storage
// backends" design note: the engine is built with or without Merkle
// indexing, and every operation that touches the merkle family switches
// on Mode exhaustively rather than reaching for backend subtyping.
type Mode int

const (
	ModeMerkleEnabled Mode = iota
	ModeMerkleDisabled
)

// IngestStats are the trial-decryption counters §9 calls for: treat
// decryption failure as an expected branch and make it observable.
type IngestStats struct {
	Tried            uint64
	Decrypted        uint64
	RejectedMismatch uint64
	RejectedDecrypt  uint64
}

// Keyring is the minimal set of secrets the engine needs to trial-decrypt
// incoming ciphertexts. It is supplied by internal/keyring at process
// start and never logged.
type Keyring struct {
	SpendSK   []byte
	ViewSK    []byte
	DepositSK []byte
}

// Engine is the indexer state engine of §4.D. It owns the readers-writer
// lock over Store described in §5: writers are exclusively the ingest
// methods below, readers are exclusively the query methods.
type Engine struct {
	mu    sync.RWMutex
	mode  Mode
	store Store
	keys  Keyring
	stats IngestStats
}

// NewEngine wires a Store and keyring into a ready-to-ingest Engine.
func NewEngine(store Store, mode Mode, keys Keyring) *Engine {
	return &Engine{store: store, mode: mode, keys: keys}
}

// Stats returns a snapshot of the ingest counters.
func (e *Engine) Stats() IngestStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// requireMerkle exhaustively matches Mode; disabled mode surfaces
// FeatureDisabled to any caller that needs the merkle family.
func (e *Engine) requireMerkle() error {
	switch e.mode {
	case ModeMerkleEnabled:
		return nil
	case ModeMerkleDisabled:
		return fmt.Errorf("%w: indexer built without merkle indexing", common.ErrFeatureDisabled)
	default:
		return fmt.Errorf("%w: unknown indexer mode %d", common.ErrCrypto, e.mode)
	}
}

// commitmentFromPreCommitment recomputes the deposit's commitment
// directly from its public pre_commitment fields (utxo_pk is already
// given, unlike the peer-addressed case where only master_pk is known).
func commitmentFromPreCommitment(pc wire.PreCommitment) (types.Hash, error) {
	return crypto.Poseidon(pc.UtxoPK.Bytes(), pc.TokenID.Bytes(), common.Uint64LEBytes(pc.Amount))
}

// IngestDeposit applies a DepositEvent per §4.D.1: the leaf is always
// recorded (insert_leaf does not verify hash validity, per §4.D), then
// the engine trial-decrypts with the local keyring and persists the
// UTXO only on success. A lock is held only for this single event's
// application, per §5.
func (e *Engine) IngestDeposit(ev wire.DepositEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireMerkle(); err != nil {
		return err
	}
	if _, present, err := e.store.GetLeaf(ev.TreeNumber, ev.StartPosition); err != nil {
		return err
	} else if present {
		return fmt.Errorf("%w: tree %d leaf %d already occupied", common.ErrDuplicateLeaf, ev.TreeNumber, ev.StartPosition)
	}

	leafHash, err := commitmentFromPreCommitment(ev.PreCommitment)
	if err != nil {
		return err
	}
	if err := e.store.InsertLeaf(ev.TreeNumber, ev.StartPosition, leafHash); err != nil {
		return err
	}

	e.stats.Tried++
	decrypted, err := utxo.DecryptDeposit(&ev.ShieldCipherText, e.keys.DepositSK, e.keys.SpendSK, e.keys.ViewSK,
		ev.PreCommitment.TokenID, ev.PreCommitment.Amount, leafHash)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrDecryptFailed):
			e.stats.RejectedDecrypt++
			return nil
		case errors.Is(err, common.ErrCommitmentMismatch):
			e.stats.RejectedMismatch++
			return nil
		default:
			return err
		}
	}

	e.stats.Decrypted++
	return e.store.InsertUTXO(ev.TreeNumber, ev.StartPosition, IndexedUTXO{
		TokenID: ev.PreCommitment.TokenID,
		Random:  decrypted.Random,
		Nonce:   decrypted.Nonce,
		Amount:  decrypted.Amount,
		Memo:    decrypted.Memo,
	})
}

// IngestTransaction applies a TransactionEvent (transfer or withdraw)
// per §4.D.2: every commitment in the batch is written regardless of
// ownership, and each ciphertext is trial-decrypted; only ciphertexts
// whose recomputed commitment matches the corresponding leaf are kept.
func (e *Engine) IngestTransaction(ev wire.TransactionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireMerkle(); err != nil {
		return err
	}
	if len(ev.Commitments) != len(ev.CommitmentCipherTexts) {
		return fmt.Errorf("%w: transaction event has %d commitments but %d ciphertexts",
			common.ErrSerialization, len(ev.Commitments), len(ev.CommitmentCipherTexts))
	}

	for i, commitment := range ev.Commitments {
		index := ev.StartPosition + uint64(i)
		if _, present, err := e.store.GetLeaf(ev.TreeNumber, index); err != nil {
			return err
		} else if present {
			return fmt.Errorf("%w: tree %d leaf %d already occupied", common.ErrDuplicateLeaf, ev.TreeNumber, index)
		}
		if err := e.store.InsertLeaf(ev.TreeNumber, index, commitment); err != nil {
			return err
		}

		e.stats.Tried++
		decrypted, err := utxo.Decrypt(&ev.CommitmentCipherTexts[i], e.keys.ViewSK, e.keys.SpendSK, commitment)
		if err != nil {
			switch {
			case errors.Is(err, common.ErrDecryptFailed):
				e.stats.RejectedDecrypt++
			case errors.Is(err, common.ErrCommitmentMismatch):
				e.stats.RejectedMismatch++
			default:
				return err
			}
			continue
		}

		e.stats.Decrypted++
		if err := e.store.InsertUTXO(ev.TreeNumber, index, IndexedUTXO{
			TokenID: decrypted.TokenID,
			Random:  decrypted.Random,
			Nonce:   decrypted.Nonce,
			Amount:  decrypted.Amount,
			Memo:    decrypted.Memo,
		}); err != nil {
			return err
		}
	}
	return nil
}

// IngestNullifiers applies a NullifierEvent per §4.D.3.
func (e *Engine) IngestNullifiers(ev wire.NullifierEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, n := range ev.Nullifiers {
		if err := e.store.AddNullifier(n); err != nil {
			return err
		}
	}
	return nil
}

// Spendable implements §4.D's spendable-set query: accumulate UTXOs of
// tokenID on tree whose nullifier has not been observed in
// authoritativeNullifiers, until the running sum reaches targetAmount.
// Iteration is ascending (tree, index), the canonical deterministic
// order §4.D calls for.
func (e *Engine) Spendable(tree uint64, tokenID types.Hash, targetAmount uint64, authoritativeNullifiers map[types.Hash]bool) (map[uint64]IndexedUTXO, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	all, err := e.store.AllUTXOs()
	if err != nil {
		return nil, err
	}

	nullifyingKey, err := crypto.Poseidon(e.keys.ViewSK)
	if err != nil {
		return nil, err
	}

	result := make(map[uint64]IndexedUTXO)
	var sum uint64
	for _, key := range sortedLeafKeys(all) {
		if key.Tree != tree {
			continue
		}
		u := all[key]
		if u.TokenID != tokenID {
			continue
		}
		nullifier, err := crypto.Poseidon(nullifyingKey.Bytes(), common.Uint64LEBytes(key.Index))
		if err != nil {
			return nil, err
		}
		if authoritativeNullifiers[nullifier] {
			continue
		}
		result[key.Index] = u
		sum += u.Amount
		if sum >= targetAmount {
			break
		}
	}
	return result, nil
}

// rebuildTree reconstructs a fresh tree from the persisted leaves for
// tree at the given depth. Caller must hold at least a read lock.
func (e *Engine) rebuildTree(tree uint64, depth int) (*merkle.Tree, map[uint64]types.Hash, error) {
	leaves, err := e.store.IterateTree(tree)
	if err != nil {
		return nil, nil, err
	}

	maxIndex := uint64(0)
	for idx := range leaves {
		if idx+1 > maxIndex {
			maxIndex = idx + 1
		}
	}

	t, err := merkle.New(depth, tree)
	if err != nil {
		return nil, nil, err
	}
	batch := make([]types.Hash, maxIndex)
	for i := uint64(0); i < maxIndex; i++ {
		batch[i] = leaves[i]
	}
	if len(batch) > 0 {
		if _, err := t.Insert(batch); err != nil {
			return nil, nil, err
		}
	}
	return t, leaves, nil
}

// CurrentRoot rebuilds tree from the persisted leaves and returns its
// root, serving §6's `GET /root` with no authoritative root to compare
// against — the indexer itself is the source of truth for this query.
func (e *Engine) CurrentRoot(tree uint64, depth int) (types.Hash, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.requireMerkle(); err != nil {
		return types.Hash{}, err
	}
	t, _, err := e.rebuildTree(tree, depth)
	if err != nil {
		return types.Hash{}, err
	}
	return t.Root(), nil
}

// OwnedUTXOs returns every UTXO the engine has successfully decrypted
// for tree, keyed by leaf index, serving §6's `GET /leafs`.
func (e *Engine) OwnedUTXOs(tree uint64) (map[uint64]IndexedUTXO, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	all, err := e.store.AllUTXOs()
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]IndexedUTXO)
	for key, u := range all {
		if key.Tree == tree {
			out[key.Index] = u
		}
	}
	return out, nil
}

// Balances sums every owned, non-nullified UTXO on tree by token,
// serving §6's `POST /balances`. It reuses Spendable's nullifier check
// rather than the authoritative nullifier set the settlement layer
// would supply, since the HTTP API has only the engine's own observed
// nullifiers to filter against.
func (e *Engine) Balances(tree uint64) (map[types.Hash]uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	all, err := e.store.AllUTXOs()
	if err != nil {
		return nil, err
	}
	observed, err := e.store.Nullifiers()
	if err != nil {
		return nil, err
	}
	nullifyingKey, err := crypto.Poseidon(e.keys.ViewSK)
	if err != nil {
		return nil, err
	}

	balances := make(map[types.Hash]uint64)
	for key, u := range all {
		if key.Tree != tree {
			continue
		}
		nullifier, err := crypto.Poseidon(nullifyingKey.Bytes(), common.Uint64LEBytes(key.Index))
		if err != nil {
			return nil, err
		}
		if observed[nullifier] {
			continue
		}
		balances[u.TokenID] += u.Amount
	}
	return balances, nil
}

// MerklePaths implements §4.D's merkle_paths reconstruction: rebuild a
// fresh tree from the persisted leaves for tree, then generate a proof
// for each requested index. Fails with TreeMismatch if the reconstructed
// root diverges from the settlement layer's authoritative root.
func (e *Engine) MerklePaths(tree uint64, depth int, indices []uint64, authoritativeRoot types.Hash) (types.Hash, []*merkle.Proof, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.requireMerkle(); err != nil {
		return types.Hash{}, nil, err
	}

	t, leaves, err := e.rebuildTree(tree, depth)
	if err != nil {
		return types.Hash{}, nil, err
	}

	if t.Root() != authoritativeRoot {
		return types.Hash{}, nil, fmt.Errorf("%w: reconstructed root %x does not match authoritative root %x",
			common.ErrTreeMismatch, t.Root(), authoritativeRoot)
	}

	proofs := make([]*merkle.Proof, len(indices))
	for i, idx := range indices {
		leaf, ok := leaves[idx]
		if !ok {
			return types.Hash{}, nil, fmt.Errorf("%w: tree %d has no leaf at index %d", common.ErrLeafNotFound, tree, idx)
		}
		proof, err := t.GenerateProof(leaf)
		if err != nil {
			return types.Hash{}, nil, err
		}
		proofs[i] = proof
	}
	return t.Root(), proofs, nil
}
