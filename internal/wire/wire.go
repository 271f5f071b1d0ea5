// Package wire implements the canonical binary encodings of §6: the
// on-chain request payloads, the two ciphertext envelope formats, and the
// settlement-stream event records the indexer consumes. Every multi-byte
// integer is little-endian; every variable-length byte field (ciphertexts,
// proofs, memos) is a u32 LE length prefix followed by the raw bytes, and
// every vector is a u32 LE element count followed by its encoded
// elements, the same hand-rolled framing idiom the
// settlement-layer message codec uses.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/veil-protocol/veil/pkg/common"
	"github.com/veil-protocol/veil/pkg/types"
)

// Request variant tags, prefixed to a payload for settlement-layer dispatch.
const (
	TagDeposit    byte = 0x00
	TagTransfer   byte = 0x01
	TagWithdraw   byte = 0x02
	TagInitialize byte = 0x03
)

// PreCommitment is the public cleartext portion of a deposit.
type PreCommitment struct {
	Amount  uint64
	TokenID types.Hash
	UtxoPK  types.Hash
}

// ShieldCipherText is the self-addressed deposit envelope.
type ShieldCipherText struct {
	ShieldKey types.PubKey
	Cipher    []byte
	Nonce     [12]byte
}

// CommitmentCipherText is the peer-addressed transfer/withdraw envelope.
type CommitmentCipherText struct {
	BlindedSenderPK   types.PubKey
	Cipher            []byte
	BlindedReceiverPK types.PubKey
	Nonce             [12]byte
	Memo              []byte
}

// DepositRequest is PreCommitment ‖ ShieldCipherText.
type DepositRequest struct {
	PreCommitment    PreCommitment
	ShieldCipherText ShieldCipherText
}

// TransferRequest assembles a proof, the spent/produced hashes, and the
// ciphertexts addressed to every output.
type TransferRequest struct {
	Proof                 []byte
	MerkleRoot            types.Hash
	TreeNumber            uint64
	CommitmentCipherTexts []CommitmentCipherText
	Nullifiers            []types.Hash
	Commitments           []types.Hash
}

// WithdrawRequest is TransferRequest plus the public withdrawal amount and
// token.
type WithdrawRequest struct {
	Proof                 []byte
	MerkleRoot            types.Hash
	TreeNumber            uint64
	Amount                uint64
	TokenID               types.Hash
	CommitmentCipherTexts []CommitmentCipherText
	Nullifiers            []types.Hash
	Commitments           []types.Hash
}

// DepositEvent is observed by the indexer when a deposit lands on-chain.
type DepositEvent struct {
	PreCommitment    PreCommitment
	ShieldCipherText ShieldCipherText
	TreeNumber       uint64
	StartPosition    uint64
}

// TransactionEvent is observed for both transfers and withdrawals: a batch
// of new commitments with their ciphertexts, starting at StartPosition.
type TransactionEvent struct {
	Commitments           []types.Hash
	CommitmentCipherTexts []CommitmentCipherText
	TreeNumber            uint64
	StartPosition         uint64
}

// NullifierEvent is observed whenever spends land on-chain.
type NullifierEvent struct {
	Nullifiers []types.Hash
}

// UTXOPlaintext is the plaintext sealed inside a CommitmentCipherText per
// §4.B step 4: everything the receiver cannot already know.
type UTXOPlaintext struct {
	MasterPK types.Hash
	Random   [32]byte
	Amount   uint64
	TokenID  types.Hash
	Memo     string
}

// DepositPlaintext is the plaintext sealed inside a ShieldCipherText: only
// the fields not already public in the deposit's PreCommitment.
type DepositPlaintext struct {
	Random [32]byte
	Memo   string
}

// ---- encoder ----

type encoder struct {
	buf []byte
}

func (e *encoder) hash(h types.Hash)     { e.buf = append(e.buf, h.Bytes()...) }
func (e *encoder) pubkey(p types.PubKey) { e.buf = append(e.buf, p.Bytes()...) }
func (e *encoder) fixed(b []byte)        { e.buf = append(e.buf, b...) }

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) varBytes(b []byte) {
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(b)))
	e.buf = append(e.buf, length[:]...)
	e.buf = append(e.buf, b...)
}

func (e *encoder) varString(s string) { e.varBytes([]byte(s)) }

func (e *encoder) hashVec(hs []types.Hash) {
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(hs)))
	e.buf = append(e.buf, count[:]...)
	for _, h := range hs {
		e.hash(h)
	}
}

func (e *encoder) preCommitment(p PreCommitment) {
	e.u64(p.Amount)
	e.hash(p.TokenID)
	e.hash(p.UtxoPK)
}

func (e *encoder) shieldCipherText(s ShieldCipherText) {
	e.pubkey(s.ShieldKey)
	e.varBytes(s.Cipher)
	e.fixed(s.Nonce[:])
}

func (e *encoder) commitmentCipherText(c CommitmentCipherText) {
	e.pubkey(c.BlindedSenderPK)
	e.varBytes(c.Cipher)
	e.pubkey(c.BlindedReceiverPK)
	e.fixed(c.Nonce[:])
	e.varBytes(c.Memo)
}

func (e *encoder) commitmentCipherTextVec(cs []CommitmentCipherText) {
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(cs)))
	e.buf = append(e.buf, count[:]...)
	for _, c := range cs {
		e.commitmentCipherText(c)
	}
}

// EncodeDepositRequest serializes a DepositRequest per §6.
func EncodeDepositRequest(r DepositRequest) []byte {
	var e encoder
	e.preCommitment(r.PreCommitment)
	e.shieldCipherText(r.ShieldCipherText)
	return e.buf
}

// EncodeTransferRequest serializes a TransferRequest per §6.
func EncodeTransferRequest(r TransferRequest) []byte {
	var e encoder
	e.varBytes(r.Proof)
	e.hash(r.MerkleRoot)
	e.u64(r.TreeNumber)
	e.commitmentCipherTextVec(r.CommitmentCipherTexts)
	e.hashVec(r.Nullifiers)
	e.hashVec(r.Commitments)
	return e.buf
}

// EncodeWithdrawRequest serializes a WithdrawRequest per §6.
func EncodeWithdrawRequest(r WithdrawRequest) []byte {
	var e encoder
	e.varBytes(r.Proof)
	e.hash(r.MerkleRoot)
	e.u64(r.TreeNumber)
	e.u64(r.Amount)
	e.hash(r.TokenID)
	e.commitmentCipherTextVec(r.CommitmentCipherTexts)
	e.hashVec(r.Nullifiers)
	e.hashVec(r.Commitments)
	return e.buf
}

// EncodeDepositEvent serializes a DepositEvent.
func EncodeDepositEvent(ev DepositEvent) []byte {
	var e encoder
	e.preCommitment(ev.PreCommitment)
	e.shieldCipherText(ev.ShieldCipherText)
	e.u64(ev.TreeNumber)
	e.u64(ev.StartPosition)
	return e.buf
}

// EncodeTransactionEvent serializes a TransactionEvent.
func EncodeTransactionEvent(ev TransactionEvent) []byte {
	var e encoder
	e.hashVec(ev.Commitments)
	e.commitmentCipherTextVec(ev.CommitmentCipherTexts)
	e.u64(ev.TreeNumber)
	e.u64(ev.StartPosition)
	return e.buf
}

// EncodeNullifierEvent serializes a NullifierEvent.
func EncodeNullifierEvent(ev NullifierEvent) []byte {
	var e encoder
	e.hashVec(ev.Nullifiers)
	return e.buf
}

// EncodeUTXOPlaintext serializes the commitment-envelope plaintext.
func EncodeUTXOPlaintext(p UTXOPlaintext) []byte {
	var e encoder
	e.hash(p.MasterPK)
	e.fixed(p.Random[:])
	e.u64(p.Amount)
	e.hash(p.TokenID)
	e.varString(p.Memo)
	return e.buf
}

// EncodeDepositPlaintext serializes the deposit-envelope plaintext.
func EncodeDepositPlaintext(p DepositPlaintext) []byte {
	var e encoder
	e.fixed(p.Random[:])
	e.varString(p.Memo)
	return e.buf
}

// TagRequest prefixes payload with its one-byte settlement-dispatch tag.
func TagRequest(tag byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, tag)
	out = append(out, payload...)
	return out
}

// ---- decoder ----

type decoder struct {
	buf []byte
	pos int
}

func newDecoder(b []byte) *decoder { return &decoder{buf: b} }

func (d *decoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return fmt.Errorf("%w: wire: unexpected end of buffer, need %d bytes at offset %d, have %d total",
			common.ErrSerialization, n, d.pos, len(d.buf))
	}
	return nil
}

func (d *decoder) hash() (types.Hash, error) {
	if err := d.need(types.HashSize); err != nil {
		return types.Hash{}, err
	}
	var h types.Hash
	copy(h[:], d.buf[d.pos:d.pos+types.HashSize])
	d.pos += types.HashSize
	return h, nil
}

func (d *decoder) pubkey() (types.PubKey, error) {
	if err := d.need(types.PubKeySize); err != nil {
		return types.PubKey{}, err
	}
	var p types.PubKey
	copy(p[:], d.buf[d.pos:d.pos+types.PubKeySize])
	d.pos += types.PubKeySize
	return p, nil
}

func (d *decoder) fixed(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+n])
	d.pos += n
	return out, nil
}

func (d *decoder) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *decoder) varBytes() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	return d.fixed(int(n))
}

func (d *decoder) varString() (string, error) {
	b, err := d.varBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) hashVec() ([]types.Hash, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]types.Hash, n)
	for i := range out {
		out[i], err = d.hash()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) preCommitment() (PreCommitment, error) {
	var p PreCommitment
	var err error
	if p.Amount, err = d.u64(); err != nil {
		return p, err
	}
	if p.TokenID, err = d.hash(); err != nil {
		return p, err
	}
	if p.UtxoPK, err = d.hash(); err != nil {
		return p, err
	}
	return p, nil
}

func (d *decoder) shieldCipherText() (ShieldCipherText, error) {
	var s ShieldCipherText
	var err error
	if s.ShieldKey, err = d.pubkey(); err != nil {
		return s, err
	}
	if s.Cipher, err = d.varBytes(); err != nil {
		return s, err
	}
	nonce, err := d.fixed(12)
	if err != nil {
		return s, err
	}
	copy(s.Nonce[:], nonce)
	return s, nil
}

func (d *decoder) commitmentCipherText() (CommitmentCipherText, error) {
	var c CommitmentCipherText
	var err error
	if c.BlindedSenderPK, err = d.pubkey(); err != nil {
		return c, err
	}
	if c.Cipher, err = d.varBytes(); err != nil {
		return c, err
	}
	if c.BlindedReceiverPK, err = d.pubkey(); err != nil {
		return c, err
	}
	nonce, err := d.fixed(12)
	if err != nil {
		return c, err
	}
	copy(c.Nonce[:], nonce)
	if c.Memo, err = d.varBytes(); err != nil {
		return c, err
	}
	return c, nil
}

func (d *decoder) commitmentCipherTextVec() ([]CommitmentCipherText, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]CommitmentCipherText, n)
	for i := range out {
		out[i], err = d.commitmentCipherText()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DecodeDepositRequest parses a DepositRequest.
func DecodeDepositRequest(data []byte) (DepositRequest, error) {
	d := newDecoder(data)
	var r DepositRequest
	var err error
	if r.PreCommitment, err = d.preCommitment(); err != nil {
		return r, err
	}
	if r.ShieldCipherText, err = d.shieldCipherText(); err != nil {
		return r, err
	}
	return r, nil
}

// DecodeTransferRequest parses a TransferRequest.
func DecodeTransferRequest(data []byte) (TransferRequest, error) {
	d := newDecoder(data)
	var r TransferRequest
	var err error
	if r.Proof, err = d.varBytes(); err != nil {
		return r, err
	}
	if r.MerkleRoot, err = d.hash(); err != nil {
		return r, err
	}
	if r.TreeNumber, err = d.u64(); err != nil {
		return r, err
	}
	if r.CommitmentCipherTexts, err = d.commitmentCipherTextVec(); err != nil {
		return r, err
	}
	if r.Nullifiers, err = d.hashVec(); err != nil {
		return r, err
	}
	if r.Commitments, err = d.hashVec(); err != nil {
		return r, err
	}
	return r, nil
}

// DecodeWithdrawRequest parses a WithdrawRequest.
func DecodeWithdrawRequest(data []byte) (WithdrawRequest, error) {
	d := newDecoder(data)
	var r WithdrawRequest
	var err error
	if r.Proof, err = d.varBytes(); err != nil {
		return r, err
	}
	if r.MerkleRoot, err = d.hash(); err != nil {
		return r, err
	}
	if r.TreeNumber, err = d.u64(); err != nil {
		return r, err
	}
	if r.Amount, err = d.u64(); err != nil {
		return r, err
	}
	if r.TokenID, err = d.hash(); err != nil {
		return r, err
	}
	if r.CommitmentCipherTexts, err = d.commitmentCipherTextVec(); err != nil {
		return r, err
	}
	if r.Nullifiers, err = d.hashVec(); err != nil {
		return r, err
	}
	if r.Commitments, err = d.hashVec(); err != nil {
		return r, err
	}
	return r, nil
}

// DecodeDepositEvent parses a DepositEvent.
func DecodeDepositEvent(data []byte) (DepositEvent, error) {
	d := newDecoder(data)
	var ev DepositEvent
	var err error
	if ev.PreCommitment, err = d.preCommitment(); err != nil {
		return ev, err
	}
	if ev.ShieldCipherText, err = d.shieldCipherText(); err != nil {
		return ev, err
	}
	if ev.TreeNumber, err = d.u64(); err != nil {
		return ev, err
	}
	if ev.StartPosition, err = d.u64(); err != nil {
		return ev, err
	}
	return ev, nil
}

// DecodeTransactionEvent parses a TransactionEvent.
func DecodeTransactionEvent(data []byte) (TransactionEvent, error) {
	d := newDecoder(data)
	var ev TransactionEvent
	var err error
	if ev.Commitments, err = d.hashVec(); err != nil {
		return ev, err
	}
	if ev.CommitmentCipherTexts, err = d.commitmentCipherTextVec(); err != nil {
		return ev, err
	}
	if ev.TreeNumber, err = d.u64(); err != nil {
		return ev, err
	}
	if ev.StartPosition, err = d.u64(); err != nil {
		return ev, err
	}
	return ev, nil
}

// DecodeNullifierEvent parses a NullifierEvent.
func DecodeNullifierEvent(data []byte) (NullifierEvent, error) {
	d := newDecoder(data)
	var ev NullifierEvent
	var err error
	if ev.Nullifiers, err = d.hashVec(); err != nil {
		return ev, err
	}
	return ev, nil
}

// DecodeUTXOPlaintext parses a commitment-envelope plaintext.
func DecodeUTXOPlaintext(data []byte) (UTXOPlaintext, error) {
	d := newDecoder(data)
	var p UTXOPlaintext
	var err error
	if p.MasterPK, err = d.hash(); err != nil {
		return p, err
	}
	random, err := d.fixed(32)
	if err != nil {
		return p, err
	}
	copy(p.Random[:], random)
	if p.Amount, err = d.u64(); err != nil {
		return p, err
	}
	if p.TokenID, err = d.hash(); err != nil {
		return p, err
	}
	if p.Memo, err = d.varString(); err != nil {
		return p, err
	}
	return p, nil
}

// DecodeDepositPlaintext parses a deposit-envelope plaintext.
func DecodeDepositPlaintext(data []byte) (DepositPlaintext, error) {
	d := newDecoder(data)
	var p DepositPlaintext
	random, err := d.fixed(32)
	if err != nil {
		return p, err
	}
	copy(p.Random[:], random)
	if p.Memo, err = d.varString(); err != nil {
		return p, err
	}
	return p, nil
}

// UntagRequest splits a dispatch-tagged payload into its tag and body.
func UntagRequest(data []byte) (byte, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("%w: wire: empty tagged payload", common.ErrSerialization)
	}
	return data[0], data[1:], nil
}
