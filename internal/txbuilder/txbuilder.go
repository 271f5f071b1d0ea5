// Package txbuilder implements §4.E's three payload constructors: the
// client-side assembly of a deposit, transfer, or withdraw request ready
// to hand to the settlement layer, including UTXO construction, balance
// checking, nullifier derivation, and the hybrid-encryption envelopes.
package txbuilder

import (
	"fmt"

	"github.com/veil-protocol/veil/internal/crypto"
	"github.com/veil-protocol/veil/internal/utxo"
	"github.com/veil-protocol/veil/internal/wire"
	"github.com/veil-protocol/veil/pkg/common"
	"github.com/veil-protocol/veil/pkg/types"
)

// InputUTXO is a spendable input selected by the caller, typically from
// indexer.Engine.Spendable, reduced to what a builder needs: its leaf
// index (for nullifier derivation) and its amount (for balance and
// change computation).
type InputUTXO struct {
	LeafIndex uint64
	Amount    uint64
}

// OutputSpec describes one recipient-addressed transfer output.
type OutputSpec struct {
	ReceiverMasterPK types.Hash
	ReceiverViewPK   types.PubKey
	Amount           uint64
	Memo             string
}

func freshRandomNonce() (random, nonce [32]byte, err error) {
	r, err := common.RandomBytes(32)
	if err != nil {
		return random, nonce, err
	}
	n, err := common.RandomBytes(32)
	if err != nil {
		return random, nonce, err
	}
	copy(random[:], r)
	copy(nonce[:], n)
	return random, nonce, nil
}

// BuildDeposit implements §4.E's build_deposit: construct an owner-held
// UTXO, derive its public pre_commitment, seal it into a self-addressed
// envelope, and encode the resulting DepositRequest.
func BuildDeposit(tokenID types.Hash, amount uint64, spendSK, viewSK, depositSK []byte, memo string) ([]byte, error) {
	random, nonce, err := freshRandomNonce()
	if err != nil {
		return nil, err
	}

	u, err := utxo.New(spendSK, viewSK, tokenID, random, nonce, amount, memo)
	if err != nil {
		return nil, err
	}

	utxoPK, err := u.UtxoPK()
	if err != nil {
		return nil, err
	}
	depositCT, err := u.EncryptForDeposit(depositSK)
	if err != nil {
		return nil, err
	}

	req := wire.DepositRequest{
		PreCommitment: wire.PreCommitment{
			Amount:  amount,
			TokenID: tokenID,
			UtxoPK:  utxoPK,
		},
		ShieldCipherText: *depositCT,
	}
	return wire.EncodeDepositRequest(req), nil
}

// BuildTransfer implements §4.E's build_transfer: checks sum_in >=
// sum_out, derives one nullifier per input, builds one recipient-
// addressed UTXO per output plus an optional change output back to the
// sender, and encodes the resulting TransferRequest. All outputs of a
// single transfer (including the change output, if any) share one
// random/nonce pair — spec.md is silent on whether build_transfer mints
// a fresh random per output, and original_source/indexer/src/
// api_handler/tx.rs's transfer handler generates exactly one
// random_out/nonce pair before its output loop and reuses it
// throughout, so that is the behavior this follows.
func BuildTransfer(tokenID types.Hash, outputs []OutputSpec, inputs []InputUTXO, proof []byte, merkleRoot types.Hash, treeNumber uint64, spendSK, viewSK []byte) ([]byte, error) {
	var sumIn, sumOut uint64
	for _, in := range inputs {
		sumIn += in.Amount
	}
	for _, out := range outputs {
		sumOut += out.Amount
	}
	if sumIn < sumOut {
		return nil, fmt.Errorf("%w: transfer needs %d but inputs total %d", common.ErrInsufficientBalance, sumOut, sumIn)
	}

	nullifyingKey, err := crypto.Poseidon(viewSK)
	if err != nil {
		return nil, err
	}
	nullifiers := make([]types.Hash, 0, len(inputs))
	for _, in := range inputs {
		n, err := crypto.Poseidon(nullifyingKey.Bytes(), common.Uint64LEBytes(in.LeafIndex))
		if err != nil {
			return nil, err
		}
		nullifiers = append(nullifiers, n)
	}

	random, nonce, err := freshRandomNonce()
	if err != nil {
		return nil, err
	}

	commitments := make([]types.Hash, 0, len(outputs)+1)
	cts := make([]wire.CommitmentCipherText, 0, len(outputs)+1)

	for _, out := range outputs {
		u := utxo.NewForRecipient(out.ReceiverMasterPK, out.ReceiverViewPK, tokenID, random, nonce, out.Amount, out.Memo)
		commitment, err := u.Commitment()
		if err != nil {
			return nil, err
		}
		ct, err := u.Encrypt(viewSK)
		if err != nil {
			return nil, err
		}
		commitments = append(commitments, commitment)
		cts = append(cts, *ct)
	}

	if sumIn > sumOut {
		change := sumIn - sumOut
		u, err := utxo.New(spendSK, viewSK, tokenID, random, nonce, change, "")
		if err != nil {
			return nil, err
		}
		commitment, err := u.Commitment()
		if err != nil {
			return nil, err
		}
		ct, err := u.Encrypt(viewSK)
		if err != nil {
			return nil, err
		}
		commitments = append(commitments, commitment)
		cts = append(cts, *ct)
	}

	req := wire.TransferRequest{
		Proof:                 proof,
		MerkleRoot:            merkleRoot,
		TreeNumber:            treeNumber,
		CommitmentCipherTexts: cts,
		Nullifiers:            nullifiers,
		Commitments:           commitments,
	}
	return wire.EncodeTransferRequest(req), nil
}

// BuildWithdraw implements §4.E's build_withdraw: checks sum_in >=
// amount, derives nullifiers, and — only if there is change — appends a
// sender-addressed change UTXO, reporting insert_new_commitment
// accordingly. Unlike original_source's withdraw handler, no extra
// commitment row is appended for the external withdrawal destination:
// spec.md's WithdrawRequest field list has one commitment per ciphertext
// in commitment_cipher_texts, and the original's unconditional extra
// `commiments.push(generate_utxo_hash(...))` for the receiver would
// leave that list one entry longer than commitment_cipher_texts with no
// corresponding envelope — spec.md is unambiguous on the wire shape here
// and takes precedence over the original's commitment/ciphertext
// mismatch.
func BuildWithdraw(tokenID types.Hash, proof []byte, amount uint64, inputs []InputUTXO, merkleRoot types.Hash, treeNumber uint64, spendSK, viewSK []byte) ([]byte, bool, error) {
	var sumIn uint64
	for _, in := range inputs {
		sumIn += in.Amount
	}
	if sumIn < amount {
		return nil, false, fmt.Errorf("%w: withdraw needs %d but inputs total %d", common.ErrInsufficientBalance, amount, sumIn)
	}

	nullifyingKey, err := crypto.Poseidon(viewSK)
	if err != nil {
		return nil, false, err
	}
	nullifiers := make([]types.Hash, 0, len(inputs))
	for _, in := range inputs {
		n, err := crypto.Poseidon(nullifyingKey.Bytes(), common.Uint64LEBytes(in.LeafIndex))
		if err != nil {
			return nil, false, err
		}
		nullifiers = append(nullifiers, n)
	}

	var commitments []types.Hash
	var cts []wire.CommitmentCipherText
	insertNewCommitment := false

	if sumIn > amount {
		change := sumIn - amount
		random, nonce, err := freshRandomNonce()
		if err != nil {
			return nil, false, err
		}
		u, err := utxo.New(spendSK, viewSK, tokenID, random, nonce, change, "")
		if err != nil {
			return nil, false, err
		}
		commitment, err := u.Commitment()
		if err != nil {
			return nil, false, err
		}
		ct, err := u.Encrypt(viewSK)
		if err != nil {
			return nil, false, err
		}
		commitments = append(commitments, commitment)
		cts = append(cts, *ct)
		insertNewCommitment = true
	}

	req := wire.WithdrawRequest{
		Proof:                 proof,
		MerkleRoot:            merkleRoot,
		TreeNumber:            treeNumber,
		Amount:                amount,
		TokenID:               tokenID,
		CommitmentCipherTexts: cts,
		Nullifiers:            nullifiers,
		Commitments:           commitments,
	}
	return wire.EncodeWithdrawRequest(req), insertNewCommitment, nil
}
