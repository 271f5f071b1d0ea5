// Package merkle implements the fixed-depth sparse Merkle tree of
// commitments: zero-subtree precomputation, O(N) batch insertion (the
// whole tree is recomputed level by level on every insert, which is cheap
// for the indexer's small batch sizes), and linear-scan proof generation.
package merkle

import (
	"fmt"

	"github.com/veil-protocol/veil/internal/crypto"
	"github.com/veil-protocol/veil/pkg/common"
	"github.com/veil-protocol/veil/pkg/types"
)

// ZeroValue is the fixed empty-leaf constant every implementation of this
// protocol must agree on: the big-endian 32-byte encoding of
// 0x30644E72E131A029B85045B68181585D2833E84879B970911A0111EA397FE69A.
var ZeroValue = types.Hash{
	0x30, 0x64, 0x4e, 0x72, 0xe1, 0x31, 0xa0, 0x29,
	0xb8, 0x50, 0x45, 0xb6, 0x81, 0x81, 0x58, 0x5d,
	0x28, 0x33, 0xe8, 0x48, 0x79, 0xb9, 0x70, 0x91,
	0x1a, 0x01, 0x11, 0xea, 0x39, 0x7f, 0xe6, 0x9a,
}

// Tree is a single-writer sparse Merkle tree of fixed depth. Readers that
// need a consistent snapshot should Clone it rather than share a pointer
// across goroutines — it carries no internal locking of its own, per §4.C.
type Tree struct {
	depth         int
	treeNumber    uint64
	nextLeafIndex uint64

	// zeros[l] is the empty-subtree root at level l; zeros[0] == ZeroValue.
	zeros []types.Hash

	// levels[l] holds the populated nodes at level l in left-to-right
	// order; levels[0] is the leaves in insertion order.
	levels [][]types.Hash
}

// Proof is a Merkle membership proof: the sibling hashes from the leaf up
// to (but not including) the root, paired with the leaf's index so a
// verifier knows the left/right order at each level.
type Proof struct {
	Index   uint64
	Element types.Hash
	Path    []types.Hash
	Root    types.Hash
}

// New creates an empty tree of the given depth. Capacity is 2^depth
// leaves.
func New(depth int, treeNumber uint64) (*Tree, error) {
	if depth < 1 {
		return nil, fmt.Errorf("%w: merkle tree depth must be >= 1, got %d", common.ErrCrypto, depth)
	}

	zeros := make([]types.Hash, depth)
	zeros[0] = ZeroValue

	levels := make([][]types.Hash, depth)
	levels[0] = []types.Hash{}

	current := ZeroValue
	for l := 1; l < depth; l++ {
		next, err := crypto.HashLeftRight(current, current)
		if err != nil {
			return nil, err
		}
		zeros[l] = next
		levels[l] = []types.Hash{next}
		current = next
	}

	return &Tree{
		depth:      depth,
		treeNumber: treeNumber,
		zeros:      zeros,
		levels:     levels,
	}, nil
}

// Depth returns the tree's fixed depth.
func (t *Tree) Depth() int { return t.depth }

// TreeNumber returns the tree's identifier.
func (t *Tree) TreeNumber() uint64 { return t.treeNumber }

// NextLeafIndex returns the index the next inserted leaf will receive.
func (t *Tree) NextLeafIndex() uint64 { return t.nextLeafIndex }

// Capacity returns 2^depth, the maximum number of leaves this tree holds.
func (t *Tree) Capacity() uint64 {
	return uint64(1) << uint(t.depth)
}

// Root returns the current tree root.
func (t *Tree) Root() types.Hash {
	return t.levels[t.depth-1][0]
}

// Insert appends a batch of leaves to the tree, recomputing every level
// above the leaves from scratch, and returns the index assigned to each
// leaf value. An empty batch is a no-op.
func (t *Tree) Insert(batch []types.Hash) (map[types.Hash]uint64, error) {
	if len(batch) == 0 {
		return map[types.Hash]uint64{}, nil
	}
	if t.nextLeafIndex+uint64(len(batch)) > t.Capacity() {
		return nil, fmt.Errorf("%w: tree %d has capacity %d, next index %d, batch size %d",
			common.ErrCapacityExceeded, t.treeNumber, t.Capacity(), t.nextLeafIndex, len(batch))
	}

	assigned := make(map[types.Hash]uint64, len(batch))
	for i, leaf := range batch {
		assigned[leaf] = t.nextLeafIndex + uint64(i)
		t.levels[0] = append(t.levels[0], leaf)
	}
	t.nextLeafIndex += uint64(len(batch))

	if err := t.rebuild(); err != nil {
		return nil, err
	}
	return assigned, nil
}

// rebuild recomputes every level above the leaves under the invariant of
// §3: odd terminal nodes pair with the level's zero value.
func (t *Tree) rebuild() error {
	for level := 0; level < t.depth-1; level++ {
		below := t.levels[level]
		above := make([]types.Hash, 0, (len(below)+1)/2)

		for pos := 0; pos < len(below); pos += 2 {
			left := below[pos]
			var right types.Hash
			if pos+1 < len(below) {
				right = below[pos+1]
			} else {
				right = t.zeros[level]
			}

			node, err := crypto.HashLeftRight(left, right)
			if err != nil {
				return err
			}
			above = append(above, node)
		}

		t.levels[level+1] = above
	}
	return nil
}

// GenerateProof locates element in the leaf level by linear scan and
// returns its sibling path up to the root.
func (t *Tree) GenerateProof(element types.Hash) (*Proof, error) {
	leaves := t.levels[0]
	index := -1
	for i, leaf := range leaves {
		if leaf == element {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: leaf not present in tree %d", common.ErrLeafNotFound, t.treeNumber)
	}

	path := make([]types.Hash, 0, t.depth-1)
	idx := index
	for level := 0; level < t.depth-1; level++ {
		nodes := t.levels[level]
		var sibling types.Hash
		if idx%2 == 0 {
			if idx+1 < len(nodes) {
				sibling = nodes[idx+1]
			} else {
				sibling = t.zeros[level]
			}
		} else {
			sibling = nodes[idx-1]
		}
		path = append(path, sibling)
		idx /= 2
	}

	return &Proof{
		Index:   uint64(index),
		Element: element,
		Path:    path,
		Root:    t.Root(),
	}, nil
}

// VerifyProof checks proof against root using the reference
// fold-up-the-path algorithm from §4.C.
func VerifyProof(proof *Proof, root types.Hash) (bool, error) {
	h := proof.Element
	i := proof.Index
	for _, sib := range proof.Path {
		var err error
		if i%2 == 0 {
			h, err = crypto.HashLeftRight(h, sib)
		} else {
			h, err = crypto.HashLeftRight(sib, h)
		}
		if err != nil {
			return false, err
		}
		i /= 2
	}
	return h == root, nil
}

// ContainsLeaf reports whether element is present at the leaf level.
func (t *Tree) ContainsLeaf(element types.Hash) bool {
	for _, leaf := range t.levels[0] {
		if leaf == element {
			return true
		}
	}
	return false
}

// Leaves returns a copy of the leaf level in insertion order.
func (t *Tree) Leaves() []types.Hash {
	out := make([]types.Hash, len(t.levels[0]))
	copy(out, t.levels[0])
	return out
}

// Clone returns a deep copy of the tree suitable for a reader snapshot.
func (t *Tree) Clone() *Tree {
	clone := &Tree{
		depth:         t.depth,
		treeNumber:    t.treeNumber,
		nextLeafIndex: t.nextLeafIndex,
		zeros:         append([]types.Hash(nil), t.zeros...),
		levels:        make([][]types.Hash, len(t.levels)),
	}
	for i, level := range t.levels {
		clone.levels[i] = append([]types.Hash(nil), level...)
	}
	return clone
}
