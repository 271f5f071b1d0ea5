// Package crypto implements the hash and key primitives the shielded pool
// is built on: Poseidon over BN254, FIPS SHA3-256, SHA-256, Ed25519 key
// derivation, and the ECDH-style pubkey-blinding scheme used to agree on a
// per-UTXO symmetric key without a prior handshake.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/sha3"

	"github.com/veil-protocol/veil/pkg/common"
	"github.com/veil-protocol/veil/pkg/types"
)

// Poseidon hashes inputs over the BN254 scalar field using the Bn254X5
// parameterization. Every input is left-padded to 32 bytes (high-order
// zeros) and interpreted as a big-endian field element; an input longer
// than 32 bytes is a programmer error, surfaced as ErrCrypto.
func Poseidon(inputs ...[]byte) (types.Hash, error) {
	elems := make([]*big.Int, len(inputs))
	for i, in := range inputs {
		if len(in) > types.HashSize {
			return types.Hash{}, fmt.Errorf("%w: poseidon input %d exceeds 32 bytes", common.ErrCrypto, i)
		}
		elems[i] = new(big.Int).SetBytes(in)
	}

	out, err := poseidon.Hash(elems)
	if err != nil {
		return types.Hash{}, fmt.Errorf("%w: poseidon: %v", common.ErrCrypto, err)
	}

	var h types.Hash
	b := out.Bytes()
	copy(h[types.HashSize-len(b):], b)
	return h, nil
}

// HashLeftRight is Poseidon(L, R) with both inputs required to already be
// exactly 32 bytes — the Merkle-tree node-combination function.
func HashLeftRight(left, right types.Hash) (types.Hash, error) {
	return Poseidon(left.Bytes(), right.Bytes())
}

// Keccak is SHA3-256 over the concatenation of inputs. The name follows
// the spec's vocabulary; this is the FIPS SHA-3 permutation, not the
// legacy Keccak padding.
func Keccak(inputs ...[]byte) types.Hash {
	h := sha3.New256()
	for _, in := range inputs {
		h.Write(in)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// SHA256 is SHA-256 over the concatenation of inputs.
func SHA256(inputs ...[]byte) types.Hash {
	h := sha256.New()
	for _, in := range inputs {
		h.Write(in)
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Ed25519PubKey derives the Ed25519 verifying key for a 32-byte seed.
func Ed25519PubKey(sk []byte) (types.PubKey, error) {
	if len(sk) != ed25519.SeedSize {
		return types.PubKey{}, fmt.Errorf("%w: ed25519 seed must be %d bytes, got %d", common.ErrCrypto, ed25519.SeedSize, len(sk))
	}
	priv := ed25519.NewKeyFromSeed(sk)
	pub := priv.Public().(ed25519.PublicKey)
	return types.PubKeyFromBytes(pub), nil
}

// Sign produces an Ed25519 signature of message under the seed sk.
func Sign(sk []byte, message []byte) (types.Signature, error) {
	if len(sk) != ed25519.SeedSize {
		return types.Signature{}, fmt.Errorf("%w: ed25519 seed must be %d bytes, got %d", common.ErrCrypto, ed25519.SeedSize, len(sk))
	}
	priv := ed25519.NewKeyFromSeed(sk)
	sig := ed25519.Sign(priv, message)
	var out types.Signature
	copy(out[:], sig)
	return out, nil
}

// Verify checks an Ed25519 signature under pk.
func Verify(pk types.PubKey, message []byte, sig types.Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pk.Bytes()), message, sig.Bytes())
}

// BlindKeys derives the per-UTXO blinded pubkey pair described in §4.B:
// both the sender's and the receiver's viewing pubkeys are multiplied by
// a scalar tied to the UTXO's random blinding factor, so that observers
// cannot link multiple ciphertexts to the same recipient. Both parties can
// recompute this pair given `random` and the counterparty's unblinded
// viewing pubkey.
func BlindKeys(senderViewPK, receiverViewPK types.PubKey, random []byte) (blindedSender, blindedReceiver types.PubKey, err error) {
	scalar := blindingScalar(random)

	blindedSenderBytes, err := blindPoint(senderViewPK.Bytes(), scalar)
	if err != nil {
		return types.PubKey{}, types.PubKey{}, err
	}
	blindedReceiverBytes, err := blindPoint(receiverViewPK.Bytes(), scalar)
	if err != nil {
		return types.PubKey{}, types.PubKey{}, err
	}

	return types.PubKeyFromBytes(blindedSenderBytes), types.PubKeyFromBytes(blindedReceiverBytes), nil
}

// ShareKey derives the 32-byte symmetric key shared between a party
// holding myViewSK and a counterparty whose blinded pubkey is
// counterpartyBlindedPK. Property required by §8.6:
// ShareKey(a_sk, blind(B_pk)) == ShareKey(b_sk, blind(A_pk)).
func ShareKey(myViewSK []byte, counterpartyBlindedPK types.PubKey) (types.Hash, error) {
	scalar, err := ed25519SeedToX25519Scalar(myViewSK)
	if err != nil {
		return types.Hash{}, err
	}

	// counterpartyBlindedPK is already a Montgomery u-coordinate (the
	// output of BlindKeys' X25519 scalar multiplication), not an
	// Ed25519-encoded point, so no edwards conversion happens here.
	shared, err := curve25519.X25519(scalar, counterpartyBlindedPK.Bytes())
	if err != nil {
		return types.Hash{}, fmt.Errorf("%w: x25519: %v", common.ErrCrypto, err)
	}

	var out types.Hash
	copy(out[:], shared)
	return out, nil
}

// blindingScalar derives a per-UTXO Curve25519 scalar from the UTXO's
// random blinding factor, shared by both blinded pubkeys so that
// BlindKeys is a deterministic pure function of (viewPK, random).
func blindingScalar(random []byte) []byte {
	digest := SHA256([]byte("veil-blind-keys"), random)
	scalar := make([]byte, 32)
	copy(scalar, digest.Bytes())
	clampScalar(scalar)
	return scalar
}

// blindPoint converts an Ed25519 verifying key to its Curve25519
// (Montgomery) representation and scalar-multiplies it by scalar,
// returning the result re-encoded as a 32-byte Montgomery u-coordinate.
func blindPoint(edwardsPK []byte, scalar []byte) ([]byte, error) {
	montgomery, err := edwardsToMontgomery(edwardsPK)
	if err != nil {
		return nil, err
	}
	out, err := curve25519.X25519(scalar, montgomery)
	if err != nil {
		return nil, fmt.Errorf("%w: blind point: %v", common.ErrCrypto, err)
	}
	return out, nil
}

// clampScalar applies the standard X25519 scalar clamp.
func clampScalar(s []byte) {
	s[0] &= 248
	s[31] &= 127
	s[31] |= 64
}

// ed25519SeedToX25519Scalar derives a clamped Curve25519 scalar from an
// Ed25519 seed the same way the reference Ed25519-to-X25519 conversion
// does: hash the seed, clamp the low half.
func ed25519SeedToX25519Scalar(seed []byte) ([]byte, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: ed25519 seed must be %d bytes, got %d", common.ErrCrypto, ed25519.SeedSize, len(seed))
	}
	digest := sha512.Sum512(seed)
	scalar := make([]byte, 32)
	copy(scalar, digest[:32])
	clampScalar(scalar)
	return scalar, nil
}
