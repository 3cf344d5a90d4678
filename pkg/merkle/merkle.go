package merkle

import (
	"crypto/sha256"
	"fmt"
)

// HashLeaf returns SHA-256 of a document's bytes.
func HashLeaf(document []byte) (Hash, error) {
	if len(document) == 0 {
		return Hash{}, ErrInput
	}
	return sha256.Sum256(document), nil
}

// hashPair computes SHA-256(left || right) over the raw 32-byte digests.
func hashPair(left, right Hash) Hash {
	data := make([]byte, 2*HashSize)
	copy(data[:HashSize], left[:])
	copy(data[HashSize:], right[:])
	return sha256.Sum256(data)
}

// TreeBuilder accumulates leaves in insertion order and builds the tree once.
// It is not safe for concurrent use before Finalize; the tree it produces is.
type TreeBuilder struct {
	leaves []Hash
	tree   *MerkleTree
}

// NewTreeBuilder returns an empty builder.
func NewTreeBuilder() *TreeBuilder {
	return &TreeBuilder{leaves: make([]Hash, 0)}
}

// AddLeaf hashes a document and appends it as the next leaf.
func (b *TreeBuilder) AddLeaf(document []byte) error {
	if b.tree != nil {
		return ErrInvalidState
	}
	leaf, err := HashLeaf(document)
	if err != nil {
		return fmt.Errorf("leaf %d: %w", len(b.leaves), err)
	}
	b.leaves = append(b.leaves, leaf)
	return nil
}

// LeafCount returns the number of leaves added so far.
func (b *TreeBuilder) LeafCount() int {
	return len(b.leaves)
}

// IsFinalized reports whether Finalize has succeeded.
func (b *TreeBuilder) IsFinalized() bool {
	return b.tree != nil
}

// Finalize builds the tree and returns its root. Subsequent calls return the
// same root without rebuilding.
func (b *TreeBuilder) Finalize() (Hash, error) {
	if b.tree != nil {
		return b.tree.root, nil
	}
	tree, err := BuildMerkleTree(b.leaves)
	if err != nil {
		return Hash{}, err
	}
	b.tree = tree
	return tree.root, nil
}

// Tree returns the finalized tree.
func (b *TreeBuilder) Tree() (*MerkleTree, error) {
	if b.tree == nil {
		return nil, ErrNotFinalized
	}
	return b.tree, nil
}

// Root returns the merkle root.
func (b *TreeBuilder) Root() (Hash, error) {
	if b.tree == nil {
		return Hash{}, ErrNotFinalized
	}
	return b.tree.root, nil
}

// InclusionPath returns the path for the leaf at index.
func (b *TreeBuilder) InclusionPath(index int) (Path, error) {
	if b.tree == nil {
		return nil, ErrNotFinalized
	}
	return b.tree.InclusionPath(index)
}

// BuildMerkleTree creates a binary merkle tree from leaf hashes, keeping their order.
//
// If a level has an odd number of nodes the last node is promoted unchanged
// to the next level; it is never hashed with itself.
func BuildMerkleTree(leaves []Hash) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	leafCopy := make([]Hash, len(leaves))
	copy(leafCopy, leaves)

	// Build tree levels bottom-up
	levels := [][]Hash{leafCopy}
	currentLevel := leafCopy
	for len(currentLevel) > 1 {
		nextLevel := make([]Hash, 0, (len(currentLevel)+1)/2)

		for i := 0; i < len(currentLevel); i += 2 {
			if i+1 == len(currentLevel) {
				nextLevel = append(nextLevel, currentLevel[i])
				continue
			}
			nextLevel = append(nextLevel, hashPair(currentLevel[i], currentLevel[i+1]))
		}

		levels = append(levels, nextLevel)
		currentLevel = nextLevel
	}

	return &MerkleTree{
		leaves: leafCopy,
		root:   currentLevel[0],
		levels: levels,
	}, nil
}

// Root returns the merkle root.
func (mt *MerkleTree) Root() Hash {
	return mt.root
}

// LeafCount returns the number of leaves.
func (mt *MerkleTree) LeafCount() int {
	return len(mt.leaves)
}

// Leaf returns the leaf hash at index.
func (mt *MerkleTree) Leaf(index int) (Hash, error) {
	if index < 0 || index >= len(mt.leaves) {
		return Hash{}, fmt.Errorf("%w: %d (tree has %d leaves)", ErrIndexOutOfRange, index, len(mt.leaves))
	}
	return mt.leaves[index], nil
}

// Leaves returns a copy of the leaf hashes in insertion order.
func (mt *MerkleTree) Leaves() []Hash {
	out := make([]Hash, len(mt.leaves))
	copy(out, mt.leaves)
	return out
}

// InclusionPath returns the sibling hashes along the path from leaf to root.
func (mt *MerkleTree) InclusionPath(leafIndex int) (Path, error) {
	if leafIndex < 0 || leafIndex >= len(mt.leaves) {
		return nil, fmt.Errorf("%w: %d (tree has %d leaves)", ErrIndexOutOfRange, leafIndex, len(mt.leaves))
	}

	path := make(Path, 0, len(mt.levels)-1)
	index := leafIndex

	for level := 0; level < len(mt.levels)-1; level++ {
		currentLevel := mt.levels[level]

		if index%2 == 0 {
			// promoted node, nothing to hash with at this level
			if index+1 < len(currentLevel) {
				path = append(path, PathNode{Sibling: currentLevel[index+1], Direction: Right})
			}
		} else {
			path = append(path, PathNode{Sibling: currentLevel[index-1], Direction: Left})
		}

		index = index / 2
	}

	return path, nil
}

// ComputeRoot walks the path from leaf and returns the resulting root.
func ComputeRoot(leaf Hash, path Path) (Hash, error) {
	current := leaf
	for i, node := range path {
		switch node.Direction {
		case Left:
			current = hashPair(node.Sibling, current)
		case Right:
			current = hashPair(current, node.Sibling)
		default:
			return Hash{}, fmt.Errorf("path node %d has invalid direction %q", i, node.Direction)
		}
	}
	return current, nil
}

// VerifyPath reports whether walking path from leaf yields root.
func VerifyPath(leaf Hash, path Path, root Hash) bool {
	computed, err := ComputeRoot(leaf, path)
	if err != nil {
		return false
	}
	return computed == root
}
