// Package types defines the core value types shared across the shielded
// pool: fixed-size hashes and the 32-byte public-key identifiers derived
// from them.
package types

import "encoding/hex"

const (
	// HashSize is the size of a field element / Poseidon digest in bytes.
	HashSize = 32

	// PubKeySize is the size of an Ed25519 verifying key in bytes.
	PubKeySize = 32

	// SignatureSize is the size of an Ed25519 signature in bytes.
	SignatureSize = 64
)

// Hash is a 32-byte big-endian field element: a Poseidon digest, a
// SHA3-256/SHA-256 digest, or a Merkle root, depending on context.
type Hash [HashSize]byte

// PubKey is a 32-byte Ed25519 verifying key or a blinded pubkey sharing
// the same wire shape. master_pk and utxo_pk are Poseidon digests and use
// Hash.
type PubKey [PubKeySize]byte

// Signature is a 64-byte Ed25519 signature.
type Signature [SignatureSize]byte

// EmptyHash is the all-zero hash.
var EmptyHash = Hash{}

// IsEmpty reports whether h is the all-zero hash.
func (h Hash) IsEmpty() bool {
	return h == EmptyHash
}

// Bytes returns h as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// String returns the hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// HashFromBytes copies up to HashSize bytes of b into a new Hash,
// left-truncating b if it is longer and zero-padding on the left if it is
// shorter (so short big-endian integers land correctly).
func HashFromBytes(b []byte) Hash {
	var h Hash
	if len(b) >= HashSize {
		copy(h[:], b[len(b)-HashSize:])
		return h
	}
	copy(h[HashSize-len(b):], b)
	return h
}

// Bytes returns k as a byte slice.
func (k PubKey) Bytes() []byte {
	return k[:]
}

// String returns the hex encoding of k.
func (k PubKey) String() string {
	return hex.EncodeToString(k[:])
}

// PubKeyFromBytes copies up to PubKeySize bytes of b into a new PubKey.
func PubKeyFromBytes(b []byte) PubKey {
	var k PubKey
	if len(b) >= PubKeySize {
		copy(k[:], b[:PubKeySize])
		return k
	}
	copy(k[PubKeySize-len(b):], b)
	return k
}

// Bytes returns s as a byte slice.
func (s Signature) Bytes() []byte {
	return s[:]
}
