package proof

import (
	"context"
	"fmt"
	"sync"

	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"go.uber.org/zap"
)

// AnchorChecker confirms that a transaction on its chain commits to a merkle root.
type AnchorChecker interface {
	CheckAnchor(ctx context.Context, anchor types.AnchorReference, root merkle.Hash) (bool, error)
}

// VerificationResult reports each stage of a proof verification.
type VerificationResult struct {
	PathValid     bool                  `json:"pathValid"`
	AnchorChecked bool                  `json:"anchorChecked"`
	AnchorValid   bool                  `json:"anchorValid"`
	Anchor        types.AnchorReference `json:"anchor"`
	MerkleRoot    string                `json:"merkleRoot"`
	TargetHash    string                `json:"targetHash"`
}

// Valid is true when the path holds and, if an anchor check ran, it passed.
func (r *VerificationResult) Valid() bool {
	return r.PathValid && (!r.AnchorChecked || r.AnchorValid)
}

// Verifier combines path verification with per-chain anchor checks.
type Verifier struct {
	codec  *Codec
	logger *zap.Logger

	mu       sync.RWMutex
	checkers map[types.Chain]AnchorChecker
}

// NewVerifier creates a verifier without any anchor checkers.
func NewVerifier(codec *Codec, logger *zap.Logger) *Verifier {
	return &Verifier{
		codec:    codec,
		logger:   logger,
		checkers: make(map[types.Chain]AnchorChecker),
	}
}

// RegisterAnchorChecker sets the checker used for proofs anchored on chain.
func (v *Verifier) RegisterAnchorChecker(chain types.Chain, checker AnchorChecker) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.checkers[chain] = checker
}

func (v *Verifier) checkerFor(chain types.Chain) (AnchorChecker, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.checkers[chain]
	return c, ok
}

// Verify decodes the proof, checks the document against it and, when a
// checker is registered for the anchor's chain, checks the anchor.
func (v *Verifier) Verify(ctx context.Context, p *types.Proof, document []byte) (*VerificationResult, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil proof", ErrMalformedProof)
	}
	if p.Type != types.ProofType {
		return nil, fmt.Errorf("%w: unexpected proof type %q", ErrMalformedProof, p.Type)
	}

	pv, err := v.codec.Decode(p.ProofValue)
	if err != nil {
		return nil, err
	}

	pathValid, err := verifyValue(pv, document)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{
		PathValid:  pathValid,
		Anchor:     pv.Anchor,
		MerkleRoot: pv.MerkleRoot.Hex(),
		TargetHash: pv.TargetHash.Hex(),
	}
	if !pathValid {
		v.logger.Sugar().Infow("Proof path does not match document", "targetHash", result.TargetHash)
		return result, nil
	}

	checker, ok := v.checkerFor(pv.Anchor.Chain)
	if !ok {
		v.logger.Sugar().Debugw("No anchor checker registered, skipping chain lookup", "chain", pv.Anchor.Chain)
		return result, nil
	}

	anchorValid, err := checker.CheckAnchor(ctx, pv.Anchor, pv.MerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to check anchor %s on %s: %w", pv.Anchor.TxID, pv.Anchor.Chain, err)
	}
	result.AnchorChecked = true
	result.AnchorValid = anchorValid

	v.logger.Sugar().Infow("Verified proof",
		"chain", pv.Anchor.Chain,
		"txid", pv.Anchor.TxID,
		"merkleRoot", result.MerkleRoot,
		"anchorValid", anchorValid,
	)
	return result, nil
}
