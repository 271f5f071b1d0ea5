package zkproof

import (
	"testing"

	"github.com/veil-protocol/veil/pkg/types"
)

func hashFill(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func TestProveVerifyRoundTrip(t *testing.T) {
	prover, err := NewGnarkProver()
	if err != nil {
		t.Fatalf("new prover: %v", err)
	}

	root := hashFill(0x01)
	params := hashFill(0x02)
	witness := Witness{
		AmountsIn:  []uint64{100, 50},
		AmountsOut: []uint64{120, 30},
		MerkleRoot: root,
		ParamsHash: params,
	}

	proof, err := prover.Prove(witness)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	ok, err := prover.Verify(proof, PublicInputs{MerkleRoot: root, ParamsHash: params})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected a balanced witness to verify")
	}
}

func TestProveRejectsImbalance(t *testing.T) {
	prover, err := NewGnarkProver()
	if err != nil {
		t.Fatalf("new prover: %v", err)
	}

	witness := Witness{
		AmountsIn:  []uint64{100},
		AmountsOut: []uint64{99},
		MerkleRoot: hashFill(0x03),
		ParamsHash: hashFill(0x04),
	}

	if _, err := prover.Prove(witness); err == nil {
		t.Fatalf("expected proving an imbalanced witness to fail")
	}
}

func TestVerifyRejectsMismatchedPublicInputs(t *testing.T) {
	prover, err := NewGnarkProver()
	if err != nil {
		t.Fatalf("new prover: %v", err)
	}

	root := hashFill(0x05)
	params := hashFill(0x06)
	proof, err := prover.Prove(Witness{
		AmountsIn:  []uint64{42},
		AmountsOut: []uint64{42},
		MerkleRoot: root,
		ParamsHash: params,
	})
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	ok, err := prover.Verify(proof, PublicInputs{MerkleRoot: hashFill(0xFF), ParamsHash: params})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expected verification against a different merkle root to fail")
	}
}

func TestWitnessRejectsOversizedInputs(t *testing.T) {
	amounts := make([]uint64, MaxInputs+1)
	w := Witness{AmountsIn: amounts, AmountsOut: []uint64{1}}
	if _, err := w.assignment(); err == nil {
		t.Fatalf("expected an oversized witness to be rejected")
	}
}
