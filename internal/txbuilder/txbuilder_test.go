package txbuilder

import (
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

// TestBuildTransferSingleInputOutput is scenario S3: single input (leaf
// 0, amount 200), single output (amount 200). The payload must contain
// exactly 1 nullifier, 1 commitment, 1 ciphertext, no change commitment,
// and nullifier[0] = Poseidon(Poseidon(view_sk) ‖ 0_le64).
func TestBuildTransferSingleInputOutput(t *testing.T) {
	spendSK := fillKey(0x01)
	viewSK := fillKey(0x02)
	tokenID := fillHash(0xAA)

	receiverSpendSK := fillKey(0x10)
	receiverViewSK := fillKey(0x11)
	receiverSpendPK, err := crypto.Ed25519PubKey(receiverSpendSK)
	if err != nil {
		t.Fatalf("receiver spend pk: %v", err)
	}
	receiverViewPK, err := crypto.Ed25519PubKey(receiverViewSK)
	if err != nil {
		t.Fatalf("receiver view pk: %v", err)
	}
	receiverMasterPK, err := crypto.Poseidon(receiverSpendPK.Bytes(), receiverViewPK.Bytes())
	if err != nil {
		t.Fatalf("receiver master pk: %v", err)
	}

	payload, err := BuildTransfer(
		tokenID,
		[]OutputSpec{{ReceiverMasterPK: receiverMasterPK, ReceiverViewPK: receiverViewPK, Amount: 200}},
		[]InputUTXO{{LeafIndex: 0, Amount: 200}},
		[]byte("proof"),
		fillHash(0xBB),
		1,
		spendSK, viewSK,
	)
	if err != nil {
		t.Fatalf("build transfer: %v", err)
	}

	req, err := wire.DecodeTransferRequest(payload)
	if err != nil {
		t.Fatalf("decode transfer request: %v", err)
	}

	if len(req.Nullifiers) != 1 || len(req.Commitments) != 1 || len(req.CommitmentCipherTexts) != 1 {
		t.Fatalf("expected exactly 1 nullifier/commitment/ciphertext, got %d/%d/%d",
			len(req.Nullifiers), len(req.Commitments), len(req.CommitmentCipherTexts))
	}

	nullifyingKey, err := crypto.Poseidon(viewSK)
	if err != nil {
		t.Fatalf("nullifying key: %v", err)
	}
	wantNullifier, err := crypto.Poseidon(nullifyingKey.Bytes(), common.Uint64LEBytes(0))
	if err != nil {
		t.Fatalf("want nullifier: %v", err)
	}
	if req.Nullifiers[0] != wantNullifier {
		t.Fatalf("nullifier[0] mismatch: got %x want %x", req.Nullifiers[0], wantNullifier)
	}
}

// TestBuildTransferWithChange is scenario S4: input amount 500, output
// amount 300. Builder emits 2 commitments and 2 ciphertexts; the change
// amount is 200 and decrypts under the sender's own keys.
func TestBuildTransferWithChange(t *testing.T) {
	spendSK := fillKey(0x03)
	viewSK := fillKey(0x04)
	tokenID := fillHash(0xCC)

	receiverViewSK := fillKey(0x20)
	receiverViewPK, err := crypto.Ed25519PubKey(receiverViewSK)
	if err != nil {
		t.Fatalf("receiver view pk: %v", err)
	}
	receiverMasterPK := fillHash(0x77)

	payload, err := BuildTransfer(
		tokenID,
		[]OutputSpec{{ReceiverMasterPK: receiverMasterPK, ReceiverViewPK: receiverViewPK, Amount: 300}},
		[]InputUTXO{{LeafIndex: 5, Amount: 500}},
		[]byte("proof"),
		fillHash(0xDD),
		2,
		spendSK, viewSK,
	)
	if err != nil {
		t.Fatalf("build transfer: %v", err)
	}

	req, err := wire.DecodeTransferRequest(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(req.Commitments) != 2 || len(req.CommitmentCipherTexts) != 2 {
		t.Fatalf("expected 2 commitments and 2 ciphertexts, got %d/%d", len(req.Commitments), len(req.CommitmentCipherTexts))
	}

	// The change output is the second entry; it must decrypt under the
	// sender's own keys to amount 200 and match its own commitment.
	changeCT := req.CommitmentCipherTexts[1]
	changeCommitment := req.Commitments[1]
	decrypted, err := utxo.Decrypt(&changeCT, viewSK, spendSK, changeCommitment)
	if err != nil {
		t.Fatalf("decrypt change output: %v", err)
	}
	if decrypted.Amount != 200 {
		t.Fatalf("expected change amount 200, got %d", decrypted.Amount)
	}
}

// TestBuildWithdrawWithoutChange is scenario S5: input amount 100,
// withdraw amount 100. insert_new_commitment must be false and the
// payload must contain 0 commitments.
func TestBuildWithdrawWithoutChange(t *testing.T) {
	spendSK := fillKey(0x05)
	viewSK := fillKey(0x06)
	tokenID := fillHash(0xEE)

	payload, insertNewCommitment, err := BuildWithdraw(
		tokenID,
		[]byte("proof"),
		100,
		[]InputUTXO{{LeafIndex: 0, Amount: 100}},
		fillHash(0xFA),
		3,
		spendSK, viewSK,
	)
	if err != nil {
		t.Fatalf("build withdraw: %v", err)
	}
	if insertNewCommitment {
		t.Fatalf("expected insert_new_commitment = false")
	}

	req, err := wire.DecodeWithdrawRequest(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(req.Commitments) != 0 || len(req.CommitmentCipherTexts) != 0 {
		t.Fatalf("expected 0 commitments/ciphertexts, got %d/%d", len(req.Commitments), len(req.CommitmentCipherTexts))
	}
}

func TestBuildWithdrawWithChangeSetsFlag(t *testing.T) {
	spendSK := fillKey(0x07)
	viewSK := fillKey(0x08)
	tokenID := fillHash(0x11)

	_, insertNewCommitment, err := BuildWithdraw(
		tokenID,
		[]byte("proof"),
		100,
		[]InputUTXO{{LeafIndex: 0, Amount: 150}},
		fillHash(0x22),
		4,
		spendSK, viewSK,
	)
	if err != nil {
		t.Fatalf("build withdraw: %v", err)
	}
	if !insertNewCommitment {
		t.Fatalf("expected insert_new_commitment = true when there is change")
	}
}

// TestBuildTransferInsufficientBalance covers §8 property 10.
func TestBuildTransferInsufficientBalance(t *testing.T) {
	spendSK := fillKey(0x09)
	viewSK := fillKey(0x0A)
	tokenID := fillHash(0x33)

	_, err := BuildTransfer(
		tokenID,
		[]OutputSpec{{ReceiverMasterPK: fillHash(0x44), ReceiverViewPK: types.PubKey(fillHash(0x55)), Amount: 1000}},
		[]InputUTXO{{LeafIndex: 0, Amount: 100}},
		[]byte("proof"),
		fillHash(0x66),
		5,
		spendSK, viewSK,
	)
	if err == nil {
		t.Fatalf("expected insufficient balance error")
	}
}

func TestBuildWithdrawInsufficientBalance(t *testing.T) {
	spendSK := fillKey(0x0B)
	viewSK := fillKey(0x0C)
	tokenID := fillHash(0x77)

	_, _, err := BuildWithdraw(
		tokenID,
		[]byte("proof"),
		1000,
		[]InputUTXO{{LeafIndex: 0, Amount: 100}},
		fillHash(0x88),
		6,
		spendSK, viewSK,
	)
	if err == nil {
		t.Fatalf("expected insufficient balance error")
	}
}

func TestBuildDepositPreCommitment(t *testing.T) {
	spendSK := fillKey(0x0D)
	viewSK := fillKey(0x0E)
	depositSK := fillKey(0x0F)
	tokenID := fillHash(0x99)

	payload, err := BuildDeposit(tokenID, 200, spendSK, viewSK, depositSK, "memo")
	if err != nil {
		t.Fatalf("build deposit: %v", err)
	}

	req, err := wire.DecodeDepositRequest(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.PreCommitment.Amount != 200 || req.PreCommitment.TokenID != tokenID {
		t.Fatalf("unexpected pre_commitment: %+v", req.PreCommitment)
	}
}
