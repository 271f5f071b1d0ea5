// Package utxo implements the UTXO object of §4.B: the plaintext record
// that never leaves its owner's process, the public values derived from
// it (master/UTXO pubkey, commitment, nullifier), its spend-witness
// signature, and its two hybrid-encryption envelope formats.
package utxo

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/veil-protocol/veil/internal/crypto"
	"github.com/veil-protocol/veil/internal/wire"
	"github.com/veil-protocol/veil/pkg/common"
	"github.com/veil-protocol/veil/pkg/types"
)

// UTXO is the plaintext record of §3. SpendSK/ViewSK are empty for a
// recipient-side UTXO built by the sender during a transfer (the sender
// knows only the receiver's master pubkey and viewing pubkey); in that
// case ReceiverMasterPK and ReceiverViewPK carry what the sender does
// know, and every derived query uses them instead of re-deriving from a
// zero-filled secret. See §9's Open Question on generate_utxo_hash: a
// zero-filled spend_sk would miscompute master_pk, so send-side
// construction requires the receiver's master_pk and viewing pubkey as
// explicit inputs rather than pretending they can be derived locally.
type UTXO struct {
	SpendSK []byte // 32-byte Ed25519 seed; nil for recipient-side UTXOs
	ViewSK  []byte // 32-byte Ed25519 seed; nil for recipient-side UTXOs

	ReceiverMasterPK *types.Hash   // set only for recipient-side UTXOs
	ReceiverViewPK   *types.PubKey // set only for recipient-side UTXOs

	TokenID types.Hash
	Random  [32]byte
	Nonce   [32]byte
	Amount  uint64
	Memo    string
}

// New constructs an owner-held UTXO: the caller holds both spend_sk and
// view_sk, as is the case for a deposit or a change output.
func New(spendSK, viewSK []byte, tokenID types.Hash, random, nonce [32]byte, amount uint64, memo string) (*UTXO, error) {
	if len(spendSK) != 32 || len(viewSK) != 32 {
		return nil, fmt.Errorf("%w: utxo: spend_sk and view_sk must each be 32 bytes", common.ErrCrypto)
	}
	return &UTXO{
		SpendSK: spendSK,
		ViewSK:  viewSK,
		TokenID: tokenID,
		Random:  random,
		Nonce:   nonce,
		Amount:  amount,
		Memo:    memo,
	}, nil
}

// NewForRecipient constructs a recipient-addressed UTXO for the output
// side of a transfer: the sender knows only the receiver's master pubkey
// and viewing pubkey, not their secrets.
func NewForRecipient(receiverMasterPK types.Hash, receiverViewPK types.PubKey, tokenID types.Hash, random, nonce [32]byte, amount uint64, memo string) *UTXO {
	return &UTXO{
		ReceiverMasterPK: &receiverMasterPK,
		ReceiverViewPK:   &receiverViewPK,
		TokenID:          tokenID,
		Random:           random,
		Nonce:            nonce,
		Amount:           amount,
		Memo:             memo,
	}
}

// IsRecipientSide reports whether this UTXO was built without the
// owner's secrets.
func (u *UTXO) IsRecipientSide() bool { return u.ReceiverMasterPK != nil }

// NullifyingKey is Poseidon(view_sk); only defined for owner-held UTXOs.
func (u *UTXO) NullifyingKey() (types.Hash, error) {
	if u.IsRecipientSide() {
		return types.Hash{}, fmt.Errorf("%w: utxo: nullifying_key requires view_sk", common.ErrCrypto)
	}
	return crypto.Poseidon(u.ViewSK)
}

// SpendPK is ed25519_pk(spend_sk); only defined for owner-held UTXOs.
func (u *UTXO) SpendPK() (types.PubKey, error) {
	if u.IsRecipientSide() {
		return types.PubKey{}, fmt.Errorf("%w: utxo: spend_pk requires spend_sk", common.ErrCrypto)
	}
	return crypto.Ed25519PubKey(u.SpendSK)
}

// ViewPK is ed25519_pk(view_sk) for an owner-held UTXO, or the stored
// receiver viewing pubkey for a recipient-side UTXO.
func (u *UTXO) ViewPK() (types.PubKey, error) {
	if u.IsRecipientSide() {
		return *u.ReceiverViewPK, nil
	}
	return crypto.Ed25519PubKey(u.ViewSK)
}

// MasterPK is Poseidon(spend_pk ‖ view_pk) for an owner-held UTXO, or the
// stored receiver master pubkey for a recipient-side UTXO.
func (u *UTXO) MasterPK() (types.Hash, error) {
	if u.IsRecipientSide() {
		return *u.ReceiverMasterPK, nil
	}
	spendPK, err := u.SpendPK()
	if err != nil {
		return types.Hash{}, err
	}
	viewPK, err := u.ViewPK()
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Poseidon(spendPK.Bytes(), viewPK.Bytes())
}

// UtxoPK is Poseidon(master_pk ‖ random), the per-UTXO owner binding.
func (u *UTXO) UtxoPK() (types.Hash, error) {
	masterPK, err := u.MasterPK()
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Poseidon(masterPK.Bytes(), u.Random[:])
}

// Commitment is Poseidon(utxo_pk ‖ token_id ‖ amount_le64), the Merkle
// leaf value.
func (u *UTXO) Commitment() (types.Hash, error) {
	utxoPK, err := u.UtxoPK()
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Poseidon(utxoPK.Bytes(), u.TokenID.Bytes(), common.Uint64LEBytes(u.Amount))
}

// Nullifier is Poseidon(nullifying_key ‖ leaf_index_le64); only defined
// for owner-held UTXOs, since only the owner can derive nullifying_key.
func (u *UTXO) Nullifier(leafIndex uint64) (types.Hash, error) {
	nullifyingKey, err := u.NullifyingKey()
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Poseidon(nullifyingKey.Bytes(), common.Uint64LEBytes(leafIndex))
}

// GenerateUTXOHash computes a recipient-addressed commitment directly
// from the receiver's master pubkey, without constructing a UTXO value —
// the helper spec §4.B and §9 require so that send-side construction
// never routes through a zero-filled spend_sk.
func GenerateUTXOHash(random [32]byte, receiverMasterPK types.Hash, tokenID types.Hash, amount uint64) (types.Hash, error) {
	utxoPK, err := crypto.Poseidon(receiverMasterPK.Bytes(), random[:])
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Poseidon(utxoPK.Bytes(), tokenID.Bytes(), common.Uint64LEBytes(amount))
}

// Sign produces the spend-witness signature of §4.B: message =
// Poseidon(merkle_root ‖ params_hash ‖ nullifiers… ‖ output_hashes…),
// signed with Ed25519 under spend_sk.
func (u *UTXO) Sign(merkleRoot types.Hash, paramsHash []byte, nullifiers, outputHashes []types.Hash) (types.Signature, error) {
	if u.IsRecipientSide() {
		return types.Signature{}, fmt.Errorf("%w: utxo: sign requires spend_sk", common.ErrCrypto)
	}

	inputs := make([][]byte, 0, 2+len(nullifiers)+len(outputHashes))
	inputs = append(inputs, merkleRoot.Bytes(), paramsHash)
	for _, n := range nullifiers {
		inputs = append(inputs, n.Bytes())
	}
	for _, o := range outputHashes {
		inputs = append(inputs, o.Bytes())
	}

	message, err := crypto.Poseidon(inputs...)
	if err != nil {
		return types.Signature{}, err
	}
	return crypto.Sign(u.SpendSK, message.Bytes())
}

// Encrypt seals this UTXO into a peer-addressed CommitmentCipherText per
// §4.B's encryption algorithm. senderViewSK is the view_sk of the party
// producing the output (the depositor/sender), not the receiver.
func (u *UTXO) Encrypt(senderViewSK []byte) (*wire.CommitmentCipherText, error) {
	senderViewPK, err := crypto.Ed25519PubKey(senderViewSK)
	if err != nil {
		return nil, err
	}
	receiverViewPK, err := u.ViewPK()
	if err != nil {
		return nil, err
	}

	blindedSenderPK, blindedReceiverPK, err := crypto.BlindKeys(senderViewPK, receiverViewPK, u.Random[:])
	if err != nil {
		return nil, err
	}

	shared, err := crypto.ShareKey(senderViewSK, blindedReceiverPK)
	if err != nil {
		return nil, err
	}

	masterPK, err := u.MasterPK()
	if err != nil {
		return nil, err
	}
	plaintext := wire.EncodeUTXOPlaintext(wire.UTXOPlaintext{
		MasterPK: masterPK,
		Random:   u.Random,
		Amount:   u.Amount,
		TokenID:  u.TokenID,
		Memo:     u.Memo,
	})

	var nonce [12]byte
	copy(nonce[:], u.Nonce[:12])
	ciphertext, err := seal(shared.Bytes(), nonce, plaintext)
	if err != nil {
		return nil, err
	}

	return &wire.CommitmentCipherText{
		BlindedSenderPK:   blindedSenderPK,
		Cipher:            ciphertext,
		BlindedReceiverPK: blindedReceiverPK,
		Nonce:             nonce,
		Memo:              []byte(u.Memo),
	}, nil
}

// Decrypt opens a peer-addressed CommitmentCipherText using the
// receiver's own secrets, and validates it against observedLeaf (the
// commitment actually seen on-chain) per §4.B step 4. A decryption
// failure or mismatch is expected during trial decryption and is not
// fatal to the caller — both return typed sentinel errors meant to be
// silently absorbed by the ingest loop.
func Decrypt(ct *wire.CommitmentCipherText, myViewSK, mySpendSK []byte, observedLeaf types.Hash) (*UTXO, error) {
	shared, err := crypto.ShareKey(myViewSK, ct.BlindedSenderPK)
	if err != nil {
		return nil, err
	}

	plaintext, err := open(shared.Bytes(), ct.Nonce, ct.Cipher)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptFailed, err)
	}

	decoded, err := wire.DecodeUTXOPlaintext(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSerialization, err)
	}

	var nonce32 [32]byte
	copy(nonce32[:], ct.Nonce[:])
	u, err := New(mySpendSK, myViewSK, decoded.TokenID, decoded.Random, nonce32, decoded.Amount, decoded.Memo)
	if err != nil {
		return nil, err
	}

	commitment, err := u.Commitment()
	if err != nil {
		return nil, err
	}
	if commitment != observedLeaf {
		return nil, fmt.Errorf("%w: decrypted utxo commitment does not match observed leaf", common.ErrCommitmentMismatch)
	}
	return u, nil
}

// EncryptForDeposit seals this UTXO into a self-addressed
// ShieldCipherText per §4.B: the symmetric key and the shield_key are
// both functions of deposit_sk alone, since sender and receiver are the
// same party and no counterparty pubkey exchange is needed.
func (u *UTXO) EncryptForDeposit(depositSK []byte) (*wire.ShieldCipherText, error) {
	shieldKey, err := crypto.Ed25519PubKey(depositSK)
	if err != nil {
		return nil, err
	}
	shared := crypto.SHA256(depositSK)

	plaintext := wire.EncodeDepositPlaintext(wire.DepositPlaintext{Random: u.Random, Memo: u.Memo})

	var nonce [12]byte
	copy(nonce[:], u.Nonce[:12])
	ciphertext, err := seal(shared.Bytes(), nonce, plaintext)
	if err != nil {
		return nil, err
	}

	return &wire.ShieldCipherText{
		ShieldKey: shieldKey,
		Cipher:    ciphertext,
		Nonce:     nonce,
	}, nil
}

// DecryptDeposit opens a self-addressed ShieldCipherText. Since the
// depositor and the decrypter are the same party, this needs only
// deposit_sk; spend_sk/view_sk are supplied separately by the caller to
// build the resulting owner-held UTXO.
func DecryptDeposit(ct *wire.ShieldCipherText, depositSK, spendSK, viewSK []byte, tokenID types.Hash, amount uint64, observedLeaf types.Hash) (*UTXO, error) {
	shared := crypto.SHA256(depositSK)

	plaintext, err := open(shared.Bytes(), ct.Nonce, ct.Cipher)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptFailed, err)
	}

	decoded, err := wire.DecodeDepositPlaintext(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSerialization, err)
	}

	var nonce32 [32]byte
	copy(nonce32[:], ct.Nonce[:])
	u, err := New(spendSK, viewSK, tokenID, decoded.Random, nonce32, amount, decoded.Memo)
	if err != nil {
		return nil, err
	}

	commitment, err := u.Commitment()
	if err != nil {
		return nil, err
	}
	if commitment != observedLeaf {
		return nil, fmt.Errorf("%w: decrypted deposit commitment does not match observed leaf", common.ErrCommitmentMismatch)
	}
	return u, nil
}

func seal(key []byte, nonce [12]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aes: %v", common.ErrCrypto, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: gcm: %v", common.ErrCrypto, err)
	}
	return gcm.Seal(nil, nonce[:], plaintext, nil), nil
}

func open(key []byte, nonce [12]byte, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: aes: %v", common.ErrCrypto, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: gcm: %v", common.ErrCrypto, err)
	}
	return gcm.Open(nil, nonce[:], ciphertext, nil)
}
