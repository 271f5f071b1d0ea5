// Package common provides shared byte/hex/time helpers used across the
// shielded pool packages.
package common

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"
)

// Error kinds from the error-handling design. Every package in this module
// wraps one of these with fmt.Errorf("%w: ...") rather than inventing new
// sentinels, so callers can classify failures with errors.Is.
var (
	// ErrCrypto is a non-recoverable hashing or signing failure.
	ErrCrypto = errors.New("crypto error")

	// ErrDecryptFailed is expected during trial decryption; callers that
	// trial-decrypt across many ciphertexts must treat it as a skip, not
	// a fatal error.
	ErrDecryptFailed = errors.New("decrypt failed")

	// ErrCommitmentMismatch means a decrypted UTXO's recomputed
	// commitment does not match the observed leaf.
	ErrCommitmentMismatch = errors.New("commitment mismatch")

	// ErrInsufficientBalance is surfaced to transaction-builder callers.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrCapacityExceeded means a Merkle tree is full.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrLeafNotFound is returned by generate_proof for an absent leaf.
	ErrLeafNotFound = errors.New("leaf not found")

	// ErrFeatureDisabled means the indexer was built without the merkle
	// column family.
	ErrFeatureDisabled = errors.New("feature disabled")

	// ErrTreeMismatch signals indexer divergence from the authoritative
	// root; the caller must resync.
	ErrTreeMismatch = errors.New("tree mismatch")

	// ErrTransport is an RPC/WebSocket failure; always retried with
	// backoff by the caller.
	ErrTransport = errors.New("transport error")

	// ErrSerialization is a wire encode/decode failure, fatal to the
	// individual request.
	ErrSerialization = errors.New("serialization error")

	// ErrIndexerDegraded is surfaced after N failed transport retries
	// within a window.
	ErrIndexerDegraded = errors.New("indexer degraded")

	// ErrDuplicateLeaf signals an out-of-order or repeated event for the
	// same (tree, start_position) — a producer bug per §5.
	ErrDuplicateLeaf = errors.New("duplicate leaf")

	// ErrNotFound is a generic point-lookup miss.
	ErrNotFound = errors.New("not found")
)

// HexToBytes converts a hex string (with an optional 0x prefix) to bytes.
func HexToBytes(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

// BytesToHex converts bytes to a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Now returns the current Unix timestamp in seconds.
func Now() uint64 {
	return uint64(time.Now().Unix())
}

// Uint64LEBytes encodes n as 8 little-endian bytes, matching the wire
// encodings in §6 (all multi-byte integers there are little-endian).
func Uint64LEBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

// BytesToUint64LE decodes 8 little-endian bytes into a uint64.
func BytesToUint64LE(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// IsZeroBytes reports whether every byte in b is zero.
func IsZeroBytes(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// CopyBytes returns a copy of b.
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// ConcatBytes concatenates multiple byte slices into one.
func ConcatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	result := make([]byte, 0, total)
	for _, s := range slices {
		result = append(result, s...)
	}
	return result
}
