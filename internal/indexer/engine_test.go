package indexer

import (
	"errors"
	"testing"

	"github.com/veil-protocol/veil/internal/crypto"
	"github.com/veil-protocol/veil/internal/utxo"
	"github.com/veil-protocol/veil/internal/wire"
	"github.com/veil-protocol/veil/pkg/common"
	"github.com/veil-protocol/veil/pkg/types"
)

func fillKey(b byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return k
}

func fillHash(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

// TestSpendableSetScenario is scenario S6 from §8: three UTXOs at leaves
// 0, 1, 2 of tree 1, same token_id, amounts {100, 200, 300}; nullifier(1)
// observed; spendable(tree=1, token, target=250) must return leaves 0
// and 2 summing to 400.
func TestSpendableSetScenario(t *testing.T) {
	spendSK := fillKey(0x01)
	viewSK := fillKey(0x02)
	depositSK := fillKey(0x03)
	tokenID := fillHash(0xAA)

	store := NewMemStore()
	engine := NewEngine(store, ModeMerkleEnabled, Keyring{SpendSK: spendSK, ViewSK: viewSK, DepositSK: depositSK})

	amounts := []uint64{100, 200, 300}
	for i, amount := range amounts {
		u, err := utxo.New(spendSK, viewSK, tokenID, fillBytes(byte(i+1)), fillBytes(byte(i+10)), amount, "")
		if err != nil {
			t.Fatalf("new utxo %d: %v", i, err)
		}
		if err := store.InsertLeaf(1, uint64(i), mustCommitment(t, u)); err != nil {
			t.Fatalf("insert leaf %d: %v", i, err)
		}
		if err := store.InsertUTXO(1, uint64(i), IndexedUTXO{
			TokenID: tokenID,
			Random:  u.Random,
			Nonce:   u.Nonce,
			Amount:  u.Amount,
		}); err != nil {
			t.Fatalf("insert utxo %d: %v", i, err)
		}
	}

	nullifyingKey, err := crypto.Poseidon(viewSK)
	if err != nil {
		t.Fatalf("nullifying key: %v", err)
	}
	nullifier1, err := crypto.Poseidon(nullifyingKey.Bytes(), common.Uint64LEBytes(1))
	if err != nil {
		t.Fatalf("nullifier: %v", err)
	}
	authoritative := map[types.Hash]bool{nullifier1: true}

	spendable, err := engine.Spendable(1, tokenID, 250, authoritative)
	if err != nil {
		t.Fatalf("spendable: %v", err)
	}

	if len(spendable) != 2 {
		t.Fatalf("expected 2 spendable utxos, got %d", len(spendable))
	}
	u0, ok := spendable[0]
	if !ok || u0.Amount != 100 {
		t.Fatalf("expected leaf 0 with amount 100, got %+v (present=%v)", u0, ok)
	}
	u2, ok := spendable[2]
	if !ok || u2.Amount != 300 {
		t.Fatalf("expected leaf 2 with amount 300, got %+v (present=%v)", u2, ok)
	}
	if _, excluded := spendable[1]; excluded {
		t.Fatalf("leaf 1 should have been excluded by its nullifier")
	}

	var sum uint64
	for _, u := range spendable {
		sum += u.Amount
	}
	if sum != 400 {
		t.Fatalf("expected summed amount 400, got %d", sum)
	}
}

func fillBytes(b byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func mustCommitment(t *testing.T, u *utxo.UTXO) types.Hash {
	t.Helper()
	c, err := u.Commitment()
	if err != nil {
		t.Fatalf("commitment: %v", err)
	}
	return c
}

func TestIngestDepositOwnerAndNonOwner(t *testing.T) {
	spendSK := fillKey(0x10)
	viewSK := fillKey(0x11)
	depositSK := fillKey(0x12)
	tokenID := fillHash(0xBB)

	store := NewMemStore()
	engine := NewEngine(store, ModeMerkleEnabled, Keyring{SpendSK: spendSK, ViewSK: viewSK, DepositSK: depositSK})

	random := fillBytes(0x20)
	nonce := fillBytes(0x21)
	u, err := utxo.New(spendSK, viewSK, tokenID, random, nonce, 200, "deposit memo")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	utxoPK, err := u.UtxoPK()
	if err != nil {
		t.Fatalf("utxo pk: %v", err)
	}
	depositCT, err := u.EncryptForDeposit(depositSK)
	if err != nil {
		t.Fatalf("encrypt for deposit: %v", err)
	}

	ev := wire.DepositEvent{
		PreCommitment: wire.PreCommitment{
			Amount:  200,
			TokenID: tokenID,
			UtxoPK:  utxoPK,
		},
		ShieldCipherText: *depositCT,
		TreeNumber:       5,
		StartPosition:    0,
	}

	if err := engine.IngestDeposit(ev); err != nil {
		t.Fatalf("ingest deposit: %v", err)
	}

	stats := engine.Stats()
	if stats.Decrypted != 1 || stats.Tried != 1 {
		t.Fatalf("expected 1 tried, 1 decrypted, got %+v", stats)
	}

	stored, present, err := store.GetUTXO(5, 0)
	if err != nil || !present {
		t.Fatalf("expected stored utxo at (5,0): present=%v err=%v", present, err)
	}
	if stored.Amount != 200 || stored.Memo != "deposit memo" {
		t.Fatalf("unexpected stored utxo: %+v", stored)
	}

	leaf, present, err := store.GetLeaf(5, 0)
	if err != nil || !present {
		t.Fatalf("expected stored leaf at (5,0)")
	}
	wantCommitment, err := u.Commitment()
	if err != nil {
		t.Fatalf("commitment: %v", err)
	}
	if leaf != wantCommitment {
		t.Fatalf("leaf mismatch: got %x want %x", leaf, wantCommitment)
	}

	// A second engine without the right deposit_sk must record the leaf
	// but absorb the decryption failure rather than erroring out.
	otherStore := NewMemStore()
	otherEngine := NewEngine(otherStore, ModeMerkleEnabled, Keyring{
		SpendSK:   fillKey(0x99),
		ViewSK:    fillKey(0x98),
		DepositSK: fillKey(0x97),
	})
	ev.TreeNumber = 6
	if err := otherEngine.IngestDeposit(ev); err != nil {
		t.Fatalf("ingest deposit for a non-owner should not error: %v", err)
	}
	if _, present, _ := otherStore.GetUTXO(6, 0); present {
		t.Fatalf("non-owner engine should not have stored a utxo")
	}
	if _, present, err := otherStore.GetLeaf(6, 0); err != nil || !present {
		t.Fatalf("non-owner engine should still record the leaf")
	}
	otherStats := otherEngine.Stats()
	if otherStats.RejectedDecrypt == 0 && otherStats.RejectedMismatch == 0 {
		t.Fatalf("expected a rejected trial decryption to be recorded, got %+v", otherStats)
	}
}

func TestIngestDuplicateLeafRejected(t *testing.T) {
	store := NewMemStore()
	engine := NewEngine(store, ModeMerkleEnabled, Keyring{SpendSK: fillKey(1), ViewSK: fillKey(2), DepositSK: fillKey(3)})

	if err := store.InsertLeaf(1, 0, fillHash(0x01)); err != nil {
		t.Fatalf("insert leaf: %v", err)
	}

	ev := wire.DepositEvent{
		PreCommitment: wire.PreCommitment{Amount: 1, TokenID: fillHash(0x01), UtxoPK: fillHash(0x01)},
		TreeNumber:    1,
		StartPosition: 0,
	}
	err := engine.IngestDeposit(ev)
	if !errors.Is(err, common.ErrDuplicateLeaf) {
		t.Fatalf("expected ErrDuplicateLeaf, got %v", err)
	}
}

func TestFeatureDisabledMode(t *testing.T) {
	store := NewMemStore()
	engine := NewEngine(store, ModeMerkleDisabled, Keyring{SpendSK: fillKey(1), ViewSK: fillKey(2), DepositSK: fillKey(3)})

	ev := wire.DepositEvent{PreCommitment: wire.PreCommitment{TokenID: fillHash(1), UtxoPK: fillHash(1)}}
	if err := engine.IngestDeposit(ev); !errors.Is(err, common.ErrFeatureDisabled) {
		t.Fatalf("expected ErrFeatureDisabled, got %v", err)
	}

	if _, _, err := engine.MerklePaths(1, 4, nil, types.Hash{}); !errors.Is(err, common.ErrFeatureDisabled) {
		t.Fatalf("expected ErrFeatureDisabled for merkle paths, got %v", err)
	}
}

func TestMerklePathsTreeMismatch(t *testing.T) {
	store := NewMemStore()
	engine := NewEngine(store, ModeMerkleEnabled, Keyring{SpendSK: fillKey(1), ViewSK: fillKey(2), DepositSK: fillKey(3)})

	if err := store.InsertLeaf(1, 0, fillHash(0x01)); err != nil {
		t.Fatalf("insert leaf: %v", err)
	}

	_, _, err := engine.MerklePaths(1, 4, []uint64{0}, fillHash(0xFF))
	if !errors.Is(err, common.ErrTreeMismatch) {
		t.Fatalf("expected ErrTreeMismatch, got %v", err)
	}
}
