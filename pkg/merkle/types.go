package merkle

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInput is returned for documents that cannot be hashed (nil or empty)
	ErrInput = errors.New("invalid document input")

	// ErrInvalidState is returned when leaves are added to a finalized tree
	ErrInvalidState = errors.New("merkle tree is already finalized")

	// ErrEmptyTree is returned when finalizing a tree without leaves
	ErrEmptyTree = errors.New("cannot build merkle tree from empty leaf set")

	// ErrNotFinalized is returned when reading the root or paths before Finalize
	ErrNotFinalized = errors.New("merkle tree is not finalized")

	// ErrIndexOutOfRange is returned for leaf indices outside [0, leafCount)
	ErrIndexOutOfRange = errors.New("leaf index out of range")
)

// HashSize is the size of a SHA-256 digest
const HashSize = 32

// Hash is a SHA-256 digest. Leaves, internal nodes and the root are all Hashes.
type Hash [HashSize]byte

// Hex returns the canonical lowercase hex form without 0x prefix.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

// HashFromHex parses a 64 character hex digest, with or without 0x prefix.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("hash must be %d hex chars, got %d", HashSize*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Direction tells on which side of the running hash a sibling sits.
type Direction string

const (
	// Left means the sibling is the left operand: SHA-256(sibling || current)
	Left Direction = "left"
	// Right means the sibling is the right operand: SHA-256(current || sibling)
	Right Direction = "right"
)

// PathNode is one step of an inclusion path.
type PathNode struct {
	Sibling   Hash
	Direction Direction
}

// Path is the ordered list of siblings from a leaf up to the root.
// path[0] is closest to the leaf.
type Path []PathNode

// MerkleTree is a finalized, immutable binary merkle tree.
// It is safe for concurrent readers.
type MerkleTree struct {
	// leaves contains the leaf hashes in insertion order
	leaves []Hash

	// root is the merkle root hash
	root Hash

	// levels stores all tree levels for proof generation
	// levels[0] = leaves, levels[len-1] = root
	levels [][]Hash
}
