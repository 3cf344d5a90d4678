// Package issuer sequences one batch through tree construction, anchoring and
// proof generation.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"sync"

	"github.com/certanchor/cert-issuer-go/pkg/anchor"
	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/proof"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyIssued is returned when Issue is called a second time on the same Issuer.
	ErrAlreadyIssued = fmt.Errorf("batch already issued: %w", merkle.ErrInvalidState)

	// ErrNotAnchored is returned when proofs are requested before the root has been anchored.
	ErrNotAnchored = fmt.Errorf("batch root has not been anchored: %w", merkle.ErrInvalidState)

	// ErrAnchorMismatch is returned when proofs are requested for a transaction other than the batch's anchor.
	ErrAnchorMismatch = errors.New("anchor does not match the batch's anchoring transaction")
)

// IBatchHandler supplies a batch's documents and is told when it has been anchored.
type IBatchHandler interface {
	PrepareBatch(ctx context.Context) ([][]byte, error)
	FinishBatch(ctx context.Context, txid string, chain types.Chain) error
}

// Broadcaster is the subset of anchor.Broadcaster used by the Issuer.
type Broadcaster interface {
	Broadcast(ctx context.Context, req *anchor.BroadcastRequest) (*anchor.BroadcastResult, error)
}

// Issuer anchors exactly one batch.
type Issuer struct {
	batchHandler IBatchHandler
	broadcaster  Broadcaster
	codec        *proof.Codec
	mode         IssuanceMode
	logger       *zap.Logger

	builder *merkle.TreeBuilder

	mu     sync.Mutex
	issued bool
	anchor *types.AnchorReference
}

// NewIssuer creates an issuer for a single batch.
func NewIssuer(
	batchHandler IBatchHandler,
	broadcaster Broadcaster,
	codec *proof.Codec,
	mode IssuanceMode,
	logger *zap.Logger,
) (*Issuer, error) {
	if batchHandler == nil {
		return nil, fmt.Errorf("batch handler is required")
	}
	if broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("proof codec is required")
	}
	if mode == nil {
		mode = TransactionMode{}
	}
	return &Issuer{
		batchHandler: batchHandler,
		broadcaster:  broadcaster,
		codec:        codec,
		mode:         mode,
		logger:       logger,
		builder:      merkle.NewTreeBuilder(),
	}, nil
}

// Issue prepares the batch, builds its tree, anchors the root on chain and
// reports the txid to the batch handler. It returns the anchoring txid.
func (i *Issuer) Issue(ctx context.Context, chain types.Chain, recipient string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.issued {
		return "", ErrAlreadyIssued
	}
	i.issued = true

	docs, err := i.batchHandler.PrepareBatch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, doc := range docs {
		if err := i.builder.AddLeaf(doc); err != nil {
			return "", err
		}
	}
	root, err := i.builder.Finalize()
	if err != nil {
		return "", err
	}
	i.logger.Sugar().Infow("Built merkle tree", "leaves", i.builder.LeafCount(), "root", root.Hex())

	result, err := i.broadcaster.Broadcast(ctx, &anchor.BroadcastRequest{
		Chain:     chain,
		Root:      root,
		Recipient: recipient,
		Metadata:  i.mode.TransactionMetadata(),
	})
	if err != nil {
		return "", err
	}

	ref := result.Anchor
	i.anchor = &ref

	if err := i.batchHandler.FinishBatch(ctx, ref.TxID, ref.Chain); err != nil {
		return ref.TxID, fmt.Errorf("failed to finish batch for txid %s: %w", ref.TxID, err)
	}
	return ref.TxID, nil
}

// AnchorReference returns the batch's anchor once Issue has succeeded in broadcasting.
func (i *Issuer) AnchorReference() (types.AnchorReference, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.anchor == nil {
		return types.AnchorReference{}, false
	}
	return *i.anchor, true
}

// Root returns the batch root. It fails with merkle.ErrNotFinalized before Issue.
func (i *Issuer) Root() (merkle.Hash, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.builder.Root()
}

// anchoredTree snapshots the finalized tree and checks that txid and chain
// name the transaction Issue broadcast.
func (i *Issuer) anchoredTree(txid string, chain types.Chain) (*merkle.MerkleTree, types.AnchorReference, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.anchor == nil {
		return nil, types.AnchorReference{}, ErrNotAnchored
	}
	ref := *i.anchor
	if ref.Chain != chain || ref.TxID != txid {
		return nil, types.AnchorReference{}, fmt.Errorf("%w: requested %s on %s, anchored %s on %s",
			ErrAnchorMismatch, txid, chain, ref.TxID, ref.Chain)
	}
	tree, err := i.builder.Tree()
	if err != nil {
		return nil, types.AnchorReference{}, err
	}
	return tree, ref, nil
}

func (i *Issuer) proofAt(tree *merkle.MerkleTree, index int, ref types.AnchorReference, verificationMethod string) (*types.Proof, error) {
	path, err := tree.InclusionPath(index)
	if err != nil {
		return nil, err
	}
	leaf, err := tree.Leaf(index)
	if err != nil {
		return nil, err
	}

	p, err := i.codec.Encode(&proof.EncodeInput{
		Path:               path,
		MerkleRoot:         tree.Root(),
		TargetHash:         leaf,
		Anchor:             ref,
		VerificationMethod: verificationMethod,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode proof for leaf %d: %w", index, err)
	}
	i.mode.DecorateProof(p)
	return p, nil
}

// ProofGenerator returns a sequence yielding one proof per document in
// insertion order. The sequence can be ranged over any number of times.
// It fails with ErrNotAnchored until Issue has broadcast the root, and with
// ErrAnchorMismatch when txid and chain are not that broadcast's.
func (i *Issuer) ProofGenerator(txid string, chain types.Chain, verificationMethod string) (iter.Seq2[*types.Proof, error], error) {
	tree, ref, err := i.anchoredTree(txid, chain)
	if err != nil {
		return nil, err
	}

	return func(yield func(*types.Proof, error) bool) {
		for index := 0; index < tree.LeafCount(); index++ {
			p, err := i.proofAt(tree, index, ref, verificationMethod)
			if !yield(p, err) || err != nil {
				return
			}
		}
	}, nil
}

// GenerateProofs builds all proofs concurrently with up to workers goroutines.
// Results are in insertion order.
func (i *Issuer) GenerateProofs(ctx context.Context, txid string, chain types.Chain, verificationMethod string, workers int) ([]*types.Proof, error) {
	tree, ref, err := i.anchoredTree(txid, chain)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	proofs := make([]*types.Proof, tree.LeafCount())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for index := range proofs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := i.proofAt(tree, index, ref, verificationMethod)
			if err != nil {
				return err
			}
			proofs[index] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i.logger.Sugar().Infow("Generated proofs", "count", len(proofs), "txid", txid, "workers", workers)
	return proofs, nil
}
