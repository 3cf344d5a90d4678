package proof

import (
	"context"
	"errors"
	"testing"

	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubChecker struct {
	roots map[string]merkle.Hash
	err   error
	calls int
}

func (s *stubChecker) CheckAnchor(_ context.Context, anchor types.AnchorReference, root merkle.Hash) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	anchored, ok := s.roots[anchor.TxID]
	return ok && anchored == root, nil
}

func TestVerifierWithoutChecker(t *testing.T) {
	c := newTestCodec(t)
	v := NewVerifier(c, zaptest.NewLogger(t))
	docs := testDocuments(3)
	proofs := encodeAll(t, c, docs, types.AnchorReference{Chain: types.Chain_EthereumSepolia, TxID: "0x01"})

	result, err := v.Verify(context.Background(), proofs[1], docs[1])
	require.NoError(t, err)
	assert.True(t, result.PathValid)
	assert.False(t, result.AnchorChecked)
	assert.True(t, result.Valid())
	assert.Equal(t, types.Chain_EthereumSepolia, result.Anchor.Chain)
}

func TestVerifierChecksAnchor(t *testing.T) {
	c := newTestCodec(t)
	v := NewVerifier(c, zaptest.NewLogger(t))
	docs := testDocuments(4)
	root := buildTree(t, docs)
	merkleRoot, err := root.Root()
	require.NoError(t, err)

	anchor := types.AnchorReference{Chain: types.Chain_Mock, TxID: "tx-good"}
	proofs := encodeAll(t, c, docs, anchor)

	checker := &stubChecker{roots: map[string]merkle.Hash{"tx-good": merkleRoot}}
	v.RegisterAnchorChecker(types.Chain_Mock, checker)

	result, err := v.Verify(context.Background(), proofs[3], docs[3])
	require.NoError(t, err)
	assert.True(t, result.AnchorChecked)
	assert.True(t, result.AnchorValid)
	assert.True(t, result.Valid())
	assert.Equal(t, 1, checker.calls)

	// anchor exists but commits to a different root
	checker.roots["tx-good"] = merkle.Hash{}
	result, err = v.Verify(context.Background(), proofs[3], docs[3])
	require.NoError(t, err)
	assert.True(t, result.PathValid)
	assert.False(t, result.AnchorValid)
	assert.False(t, result.Valid())
}

func TestVerifierSkipsAnchorOnBadPath(t *testing.T) {
	c := newTestCodec(t)
	v := NewVerifier(c, zaptest.NewLogger(t))
	docs := testDocuments(2)
	proofs := encodeAll(t, c, docs, types.AnchorReference{Chain: types.Chain_Mock, TxID: "tx"})

	checker := &stubChecker{}
	v.RegisterAnchorChecker(types.Chain_Mock, checker)

	result, err := v.Verify(context.Background(), proofs[0], docs[1])
	require.NoError(t, err)
	assert.False(t, result.PathValid)
	assert.False(t, result.Valid())
	assert.Equal(t, 0, checker.calls)
}

func TestVerifierCheckerError(t *testing.T) {
	c := newTestCodec(t)
	v := NewVerifier(c, zaptest.NewLogger(t))
	docs := testDocuments(2)
	proofs := encodeAll(t, c, docs, types.AnchorReference{Chain: types.Chain_Mock, TxID: "tx"})

	rpcErr := errors.New("rpc unavailable")
	v.RegisterAnchorChecker(types.Chain_Mock, &stubChecker{err: rpcErr})

	_, err := v.Verify(context.Background(), proofs[0], docs[0])
	assert.ErrorIs(t, err, rpcErr)
}

func TestVerifierMalformed(t *testing.T) {
	c := newTestCodec(t)
	v := NewVerifier(c, zaptest.NewLogger(t))

	_, err := v.Verify(context.Background(), &types.Proof{Type: types.ProofType, ProofValue: "nope"}, []byte("doc"))
	assert.ErrorIs(t, err, ErrMalformedProof)
}
