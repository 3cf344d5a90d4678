// Package proof encodes, decodes and verifies the per-document inclusion
// proofs issued for an anchored batch.
//
// Encoding v1 of proofValue is a multibase base58btc string ('z' prefix)
// wrapping a CBOR map encoded with the core deterministic rules:
//
//	{
//	  "version":    1,
//	  "path":       [{"left": <hex>} | {"right": <hex>}, ...],
//	  "merkleRoot": <hex>,
//	  "targetHash": <hex>,
//	  "anchors":    ["blink:<ledger>:<network>:<txid>"]
//	}
//
// Path entries are ordered from the leaf up. "left" and "right" name the side
// the sibling sits on when it is hashed with the running value, so a verifier
// computes sha256(sibling||current) for "left" and sha256(current||sibling)
// for "right". All hashes are lowercase hex SHA-256 digests.
package proof

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/fxamacker/cbor/v2"
)

const (
	// CurrentVersion is the proofValue encoding version written by Encode
	CurrentVersion uint64 = 1

	multibaseBase58btc = 'z'
)

var (
	// ErrMalformedProof is returned for structurally invalid proof values
	ErrMalformedProof = errors.New("malformed proof")

	// ErrUnsupportedVersion is returned for proof values with an unknown encoding version
	ErrUnsupportedVersion = errors.New("unsupported proof encoding version")
)

// ProofValue is the decoded content of a proofValue string.
type ProofValue struct {
	Path       merkle.Path
	MerkleRoot merkle.Hash
	TargetHash merkle.Hash
	Anchor     types.AnchorReference
}

// EncodeInput carries everything needed to build one document's proof.
type EncodeInput struct {
	Path               merkle.Path
	MerkleRoot         merkle.Hash
	TargetHash         merkle.Hash
	Anchor             types.AnchorReference
	VerificationMethod string
}

type versionHeader struct {
	Version uint64 `cbor:"version"`
}

type wirePathNode struct {
	Left  string `cbor:"left,omitempty"`
	Right string `cbor:"right,omitempty"`
}

type wireProofV1 struct {
	Version    uint64         `cbor:"version"`
	Path       []wirePathNode `cbor:"path"`
	MerkleRoot string         `cbor:"merkleRoot"`
	TargetHash string         `cbor:"targetHash"`
	Anchors    []string       `cbor:"anchors"`
}

// Codec converts between ProofValues and their wire form.
// A Codec is safe for concurrent use.
type Codec struct {
	encMode cbor.EncMode
	now     func() time.Time
}

// CodecOption customizes a Codec.
type CodecOption func(*Codec)

// WithClock overrides the clock used for the created timestamp.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec using deterministic CBOR encoding.
func NewCodec(opts ...CodecOption) (*Codec, error) {
	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create cbor encoding mode: %w", err)
	}

	c := &Codec{
		encMode: encMode,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encode builds the proof object for one document. Apart from the created
// timestamp the result depends only on the input.
func (c *Codec) Encode(in *EncodeInput) (*types.Proof, error) {
	if in == nil {
		return nil, fmt.Errorf("encode input cannot be nil")
	}

	value, err := c.EncodeValue(&ProofValue{
		Path:       in.Path,
		MerkleRoot: in.MerkleRoot,
		TargetHash: in.TargetHash,
		Anchor:     in.Anchor,
	})
	if err != nil {
		return nil, err
	}

	return &types.Proof{
		Type:               types.ProofType,
		Created:            c.now().UTC().Format(time.RFC3339),
		ProofValue:         value,
		ProofPurpose:       types.ProofPurposeAssertion,
		VerificationMethod: in.VerificationMethod,
	}, nil
}

// EncodeValue produces the proofValue string.
func (c *Codec) EncodeValue(pv *ProofValue) (string, error) {
	blink, err := pv.Anchor.Blink()
	if err != nil {
		return "", fmt.Errorf("failed to encode anchor: %w", err)
	}

	wire := wireProofV1{
		Version:    CurrentVersion,
		Path:       make([]wirePathNode, 0, len(pv.Path)),
		MerkleRoot: pv.MerkleRoot.Hex(),
		TargetHash: pv.TargetHash.Hex(),
		Anchors:    []string{blink},
	}
	for i, node := range pv.Path {
		switch node.Direction {
		case merkle.Left:
			wire.Path = append(wire.Path, wirePathNode{Left: node.Sibling.Hex()})
		case merkle.Right:
			wire.Path = append(wire.Path, wirePathNode{Right: node.Sibling.Hex()})
		default:
			return "", fmt.Errorf("path node %d has invalid direction %q", i, node.Direction)
		}
	}

	raw, err := c.encMode.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("failed to cbor encode proof: %w", err)
	}

	return string(multibaseBase58btc) + base58.Encode(raw), nil
}

// Decode parses a proofValue string.
func (c *Codec) Decode(proofValue string) (*ProofValue, error) {
	if len(proofValue) < 2 || proofValue[0] != multibaseBase58btc {
		return nil, fmt.Errorf("%w: missing base58btc multibase prefix", ErrMalformedProof)
	}

	raw := base58.Decode(proofValue[1:])
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: invalid base58 payload", ErrMalformedProof)
	}

	var header versionHeader
	if err := cbor.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	switch header.Version {
	case 0:
		return nil, fmt.Errorf("%w: missing version", ErrMalformedProof)
	case CurrentVersion:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}

	var wire wireProofV1
	if err := cbor.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	return decodeV1(&wire)
}

func decodeV1(wire *wireProofV1) (*ProofValue, error) {
	root, err := merkle.HashFromHex(wire.MerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: merkleRoot: %v", ErrMalformedProof, err)
	}
	target, err := merkle.HashFromHex(wire.TargetHash)
	if err != nil {
		return nil, fmt.Errorf("%w: targetHash: %v", ErrMalformedProof, err)
	}

	if len(wire.Anchors) == 0 {
		return nil, fmt.Errorf("%w: no anchors", ErrMalformedProof)
	}
	anchor, err := types.ParseBlink(wire.Anchors[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}

	path := make(merkle.Path, 0, len(wire.Path))
	for i, node := range wire.Path {
		var (
			hexHash   string
			direction merkle.Direction
		)
		switch {
		case node.Left != "" && node.Right == "":
			hexHash, direction = node.Left, merkle.Left
		case node.Right != "" && node.Left == "":
			hexHash, direction = node.Right, merkle.Right
		default:
			return nil, fmt.Errorf("%w: path node %d must have exactly one of left or right", ErrMalformedProof, i)
		}

		sibling, err := merkle.HashFromHex(hexHash)
		if err != nil {
			return nil, fmt.Errorf("%w: path node %d: %v", ErrMalformedProof, i, err)
		}
		path = append(path, merkle.PathNode{Sibling: sibling, Direction: direction})
	}

	return &ProofValue{
		Path:       path,
		MerkleRoot: root,
		TargetHash: target,
		Anchor:     anchor,
	}, nil
}

// Verify checks the cryptographic inclusion of document in the proof's root.
// It does not consult the chain; see Verifier for that.
func (c *Codec) Verify(p *types.Proof, document []byte) (bool, error) {
	if p == nil {
		return false, fmt.Errorf("%w: nil proof", ErrMalformedProof)
	}
	if p.Type != types.ProofType {
		return false, fmt.Errorf("%w: unexpected proof type %q", ErrMalformedProof, p.Type)
	}

	pv, err := c.Decode(p.ProofValue)
	if err != nil {
		return false, err
	}
	return verifyValue(pv, document)
}

func verifyValue(pv *ProofValue, document []byte) (bool, error) {
	leaf, err := merkle.HashLeaf(document)
	if err != nil {
		return false, err
	}
	if leaf != pv.TargetHash {
		return false, nil
	}
	return merkle.VerifyPath(leaf, pv.Path, pv.MerkleRoot), nil
}
