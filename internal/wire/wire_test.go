package wire

import (
	"bytes"
	"testing"

	"github.com/veil-protocol/veil/pkg/types"
)

func fillHash(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func fillPubKey(b byte) types.PubKey {
	var p types.PubKey
	for i := range p {
		p[i] = b
	}
	return p
}

func TestDepositRequestRoundTrip(t *testing.T) {
	req := DepositRequest{
		PreCommitment: PreCommitment{
			Amount:  200,
			TokenID: fillHash(0x01),
			UtxoPK:  fillHash(0x02),
		},
		ShieldCipherText: ShieldCipherText{
			ShieldKey: fillPubKey(0x03),
			Cipher:    []byte("ciphertext bytes"),
			Nonce:     [12]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		},
	}

	encoded := EncodeDepositRequest(req)
	decoded, err := DecodeDepositRequest(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.PreCommitment != req.PreCommitment {
		t.Fatalf("pre_commitment mismatch: got %+v want %+v", decoded.PreCommitment, req.PreCommitment)
	}
	if decoded.ShieldCipherText.ShieldKey != req.ShieldCipherText.ShieldKey {
		t.Fatalf("shield_key mismatch")
	}
	if !bytes.Equal(decoded.ShieldCipherText.Cipher, req.ShieldCipherText.Cipher) {
		t.Fatalf("cipher mismatch")
	}
	if decoded.ShieldCipherText.Nonce != req.ShieldCipherText.Nonce {
		t.Fatalf("nonce mismatch")
	}
}

func TestTransferRequestRoundTrip(t *testing.T) {
	req := TransferRequest{
		Proof:      []byte("a proof blob"),
		MerkleRoot: fillHash(0x09),
		TreeNumber: 7,
		CommitmentCipherTexts: []CommitmentCipherText{
			{
				BlindedSenderPK:   fillPubKey(0x10),
				Cipher:            []byte("c1"),
				BlindedReceiverPK: fillPubKey(0x11),
				Nonce:             [12]byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9},
				Memo:              []byte("memo one"),
			},
			{
				BlindedSenderPK:   fillPubKey(0x12),
				Cipher:            []byte("c2 longer payload"),
				BlindedReceiverPK: fillPubKey(0x13),
				Nonce:             [12]byte{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
				Memo:              nil,
			},
		},
		Nullifiers:  []types.Hash{fillHash(0x20), fillHash(0x21)},
		Commitments: []types.Hash{fillHash(0x30), fillHash(0x31)},
	}

	encoded := EncodeTransferRequest(req)
	decoded, err := DecodeTransferRequest(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.MerkleRoot != req.MerkleRoot || decoded.TreeNumber != req.TreeNumber {
		t.Fatalf("header mismatch")
	}
	if !bytes.Equal(decoded.Proof, req.Proof) {
		t.Fatalf("proof mismatch")
	}
	if len(decoded.CommitmentCipherTexts) != len(req.CommitmentCipherTexts) {
		t.Fatalf("cipher text count mismatch")
	}
	for i := range req.CommitmentCipherTexts {
		want := req.CommitmentCipherTexts[i]
		got := decoded.CommitmentCipherTexts[i]
		if got.BlindedSenderPK != want.BlindedSenderPK || got.BlindedReceiverPK != want.BlindedReceiverPK {
			t.Fatalf("ciphertext %d pubkey mismatch", i)
		}
		if !bytes.Equal(got.Cipher, want.Cipher) {
			t.Fatalf("ciphertext %d cipher mismatch", i)
		}
		if !bytes.Equal(got.Memo, want.Memo) {
			t.Fatalf("ciphertext %d memo mismatch: got %q want %q", i, got.Memo, want.Memo)
		}
	}
	if len(decoded.Nullifiers) != 2 || decoded.Nullifiers[0] != req.Nullifiers[0] {
		t.Fatalf("nullifiers mismatch")
	}
	if len(decoded.Commitments) != 2 || decoded.Commitments[1] != req.Commitments[1] {
		t.Fatalf("commitments mismatch")
	}
}

func TestWithdrawRequestRoundTrip(t *testing.T) {
	req := WithdrawRequest{
		Proof:                 []byte("withdraw proof"),
		MerkleRoot:            fillHash(0x40),
		TreeNumber:            3,
		Amount:                100,
		TokenID:               fillHash(0x41),
		CommitmentCipherTexts: nil,
		Nullifiers:            []types.Hash{fillHash(0x42)},
		Commitments:           nil,
	}

	encoded := EncodeWithdrawRequest(req)
	decoded, err := DecodeWithdrawRequest(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Amount != req.Amount || decoded.TokenID != req.TokenID {
		t.Fatalf("amount/token mismatch")
	}
	if len(decoded.CommitmentCipherTexts) != 0 {
		t.Fatalf("expected zero commitment ciphertexts, got %d", len(decoded.CommitmentCipherTexts))
	}
	if len(decoded.Commitments) != 0 {
		t.Fatalf("expected zero commitments")
	}
	if len(decoded.Nullifiers) != 1 || decoded.Nullifiers[0] != req.Nullifiers[0] {
		t.Fatalf("nullifiers mismatch")
	}
}

func TestDepositEventRoundTrip(t *testing.T) {
	ev := DepositEvent{
		PreCommitment: PreCommitment{
			Amount:  55,
			TokenID: fillHash(0x50),
			UtxoPK:  fillHash(0x51),
		},
		ShieldCipherText: ShieldCipherText{
			ShieldKey: fillPubKey(0x52),
			Cipher:    []byte("deposit cipher"),
			Nonce:     [12]byte{},
		},
		TreeNumber:    1,
		StartPosition: 42,
	}

	encoded := EncodeDepositEvent(ev)
	decoded, err := DecodeDepositEvent(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.TreeNumber != ev.TreeNumber || decoded.StartPosition != ev.StartPosition {
		t.Fatalf("position mismatch")
	}
	if decoded.PreCommitment != ev.PreCommitment {
		t.Fatalf("pre_commitment mismatch")
	}
}

func TestNullifierEventRoundTrip(t *testing.T) {
	ev := NullifierEvent{Nullifiers: []types.Hash{fillHash(0x60), fillHash(0x61), fillHash(0x62)}}
	encoded := EncodeNullifierEvent(ev)
	decoded, err := DecodeNullifierEvent(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Nullifiers) != 3 {
		t.Fatalf("expected 3 nullifiers, got %d", len(decoded.Nullifiers))
	}
	for i := range ev.Nullifiers {
		if decoded.Nullifiers[i] != ev.Nullifiers[i] {
			t.Fatalf("nullifier %d mismatch", i)
		}
	}
}

func TestUTXOPlaintextRoundTrip(t *testing.T) {
	p := UTXOPlaintext{
		MasterPK: fillHash(0x70),
		Random:   [32]byte{1, 2, 3},
		Amount:   9001,
		TokenID:  fillHash(0x71),
		Memo:     "hello shielded world",
	}
	encoded := EncodeUTXOPlaintext(p)
	decoded, err := DecodeUTXOPlaintext(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != p {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, p)
	}
}

func TestDepositPlaintextRoundTrip(t *testing.T) {
	p := DepositPlaintext{Random: [32]byte{9, 8, 7}, Memo: "UTXO 1"}
	encoded := EncodeDepositPlaintext(p)
	decoded, err := DecodeDepositPlaintext(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != p {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, p)
	}
}

func TestTagRequestRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3}
	tagged := TagRequest(TagTransfer, payload)
	tag, body, err := UntagRequest(tagged)
	if err != nil {
		t.Fatalf("untag: %v", err)
	}
	if tag != TagTransfer {
		t.Fatalf("expected tag %d, got %d", TagTransfer, tag)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("body mismatch")
	}
}

func TestDecodeTruncatedBufferErrors(t *testing.T) {
	if _, err := DecodeDepositRequest([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error decoding truncated buffer")
	}
}
