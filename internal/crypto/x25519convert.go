package crypto

import (
	"fmt"
	"math/big"

	"github.com/veil-protocol/veil/pkg/common"
)

// fieldPrime is 2^255 - 19, the prime underlying both Curve25519 and
// Ed25519's base field.
var fieldPrime = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))

// edwardsToMontgomery converts a compressed Ed25519 point (the wire form of
// an Ed25519 verifying key) to its Curve25519 Montgomery u-coordinate,
// using the standard birational map u = (1+y)/(1-y). Only the y-coordinate
// is needed — the sign bit of x, which Ed25519 packs into the top bit of
// the encoding, does not affect u, so no point decompression beyond
// clearing that bit is required.
func edwardsToMontgomery(edPoint []byte) ([]byte, error) {
	if len(edPoint) != 32 {
		return nil, fmt.Errorf("%w: ed25519 point must be 32 bytes, got %d", common.ErrCrypto, len(edPoint))
	}

	le := make([]byte, 32)
	copy(le, edPoint)
	le[31] &= 0x7f // clear the sign bit; only y is used

	y := leBytesToBigInt(le)
	if y.Cmp(fieldPrime) >= 0 {
		return nil, fmt.Errorf("%w: invalid ed25519 point encoding", common.ErrCrypto)
	}

	one := big.NewInt(1)
	numerator := new(big.Int).Add(one, y)
	numerator.Mod(numerator, fieldPrime)

	denominator := new(big.Int).Sub(one, y)
	denominator.Mod(denominator, fieldPrime)
	if denominator.Sign() == 0 {
		return nil, fmt.Errorf("%w: point has no montgomery equivalent", common.ErrCrypto)
	}
	denominator.ModInverse(denominator, fieldPrime)

	u := numerator.Mul(numerator, denominator)
	u.Mod(u, fieldPrime)

	return bigIntToLEBytes(u, 32), nil
}

func leBytesToBigInt(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i, v := range b {
		be[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(be)
}

func bigIntToLEBytes(n *big.Int, size int) []byte {
	be := n.Bytes()
	out := make([]byte, size)
	for i, v := range be {
		out[len(be)-1-i] = v
	}
	return out
}
