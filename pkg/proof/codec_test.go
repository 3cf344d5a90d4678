package proof

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCodec(t *testing.T) *Codec {
	c, err := NewCodec(WithClock(func() time.Time { return fixedTime }))
	require.NoError(t, err)
	return c
}

func testDocuments(n int) [][]byte {
	docs := make([][]byte, n)
	for i := range docs {
		docs[i] = []byte(fmt.Sprintf(`{"recipient":"student-%d"}`, i))
	}
	return docs
}

func buildTree(t *testing.T, docs [][]byte) *merkle.TreeBuilder {
	b := merkle.NewTreeBuilder()
	for _, d := range docs {
		require.NoError(t, b.AddLeaf(d))
	}
	_, err := b.Finalize()
	require.NoError(t, err)
	return b
}

func encodeAll(t *testing.T, c *Codec, docs [][]byte, anchor types.AnchorReference) []*types.Proof {
	b := buildTree(t, docs)
	tree, err := b.Tree()
	require.NoError(t, err)

	proofs := make([]*types.Proof, len(docs))
	for i := range docs {
		path, err := tree.InclusionPath(i)
		require.NoError(t, err)
		leaf, err := tree.Leaf(i)
		require.NoError(t, err)

		proofs[i], err = c.Encode(&EncodeInput{
			Path:               path,
			MerkleRoot:         tree.Root(),
			TargetHash:         leaf,
			Anchor:             anchor,
			VerificationMethod: "did:example:issuer#key-1",
		})
		require.NoError(t, err)
	}
	return proofs
}

func rawProofValue(t *testing.T, v any) string {
	raw, err := cbor.Marshal(v)
	require.NoError(t, err)
	return "z" + base58.Encode(raw)
}

func TestEncodeProofFields(t *testing.T) {
	c := newTestCodec(t)
	anchor := types.AnchorReference{Chain: types.Chain_EthereumMainnet, TxID: "0xabc"}

	proofs := encodeAll(t, c, testDocuments(4), anchor)
	for _, p := range proofs {
		assert.Equal(t, types.ProofType, p.Type)
		assert.Equal(t, "2024-03-01T12:00:00Z", p.Created)
		assert.Equal(t, types.ProofPurposeAssertion, p.ProofPurpose)
		assert.Equal(t, "did:example:issuer#key-1", p.VerificationMethod)
		assert.True(t, strings.HasPrefix(p.ProofValue, "z"))
		assert.Empty(t, p.ENSName)
	}
}

func TestRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	anchor := types.AnchorReference{Chain: types.Chain_EthereumMainnet, TxID: "0xabc"}

	for _, n := range []int{1, 2, 3, 4, 5, 9} {
		t.Run(fmt.Sprintf("%d documents", n), func(t *testing.T) {
			docs := testDocuments(n)
			b := buildTree(t, docs)
			root, err := b.Root()
			require.NoError(t, err)

			proofs := encodeAll(t, c, docs, anchor)
			for i, p := range proofs {
				decoded, err := c.Decode(p.ProofValue)
				require.NoError(t, err)

				leaf, err := merkle.HashLeaf(docs[i])
				require.NoError(t, err)
				expectedPath, err := b.InclusionPath(i)
				require.NoError(t, err)

				assert.Equal(t, root, decoded.MerkleRoot)
				assert.Equal(t, leaf, decoded.TargetHash)
				assert.Equal(t, anchor, decoded.Anchor)
				assert.Equal(t, len(expectedPath), len(decoded.Path))
				for j := range expectedPath {
					assert.Equal(t, expectedPath[j], decoded.Path[j])
				}

				valid, err := c.Verify(p, docs[i])
				require.NoError(t, err)
				assert.True(t, valid, "proof %d should verify", i)
			}
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	c := newTestCodec(t)
	anchor := types.AnchorReference{Chain: types.Chain_HederaTestnet, TxID: "0.0.1234@1700000000.000000001"}
	docs := testDocuments(6)

	first := encodeAll(t, c, docs, anchor)
	second := encodeAll(t, c, docs, anchor)
	for i := range first {
		assert.Equal(t, first[i].ProofValue, second[i].ProofValue)
	}
}

func TestVerifyRejectsOtherDocument(t *testing.T) {
	c := newTestCodec(t)
	docs := testDocuments(4)
	proofs := encodeAll(t, c, docs, types.AnchorReference{Chain: types.Chain_Mock, TxID: "tx1"})

	valid, err := c.Verify(proofs[0], docs[1])
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = c.Verify(proofs[0], []byte("not a certificate"))
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = c.Verify(proofs[0], nil)
	assert.ErrorIs(t, err, merkle.ErrInput)
}

func TestVerifyRejectsTamperedPath(t *testing.T) {
	c := newTestCodec(t)
	docs := testDocuments(4)
	proofs := encodeAll(t, c, docs, types.AnchorReference{Chain: types.Chain_Mock, TxID: "tx1"})

	pv, err := c.Decode(proofs[2].ProofValue)
	require.NoError(t, err)
	pv.Path[0].Sibling[0] ^= 0x01

	tampered, err := c.EncodeValue(pv)
	require.NoError(t, err)

	p := *proofs[2]
	p.ProofValue = tampered
	valid, err := c.Verify(&p, docs[2])
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestDecodeMalformed(t *testing.T) {
	c := newTestCodec(t)
	validHex := strings.Repeat("ab", 32)

	testCases := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"missing multibase prefix", "abc"},
		{"wrong multibase prefix", "fabcdef"},
		{"invalid base58", "z0OIl"},
		{"not cbor", "z" + base58.Encode([]byte{0xff, 0xff, 0xff})},
		{"missing version", rawProofValue(t, map[string]any{"merkleRoot": validHex})},
		{"bad root hex", rawProofValue(t, map[string]any{
			"version": 1, "path": []any{}, "merkleRoot": "zz", "targetHash": validHex,
			"anchors": []string{"blink:eth:mainnet:0xabc"},
		})},
		{"no anchors", rawProofValue(t, map[string]any{
			"version": 1, "path": []any{}, "merkleRoot": validHex, "targetHash": validHex,
			"anchors": []string{},
		})},
		{"unknown anchor network", rawProofValue(t, map[string]any{
			"version": 1, "path": []any{}, "merkleRoot": validHex, "targetHash": validHex,
			"anchors": []string{"blink:btc:mainnet:abc"},
		})},
		{"path node with both sides", rawProofValue(t, map[string]any{
			"version": 1, "merkleRoot": validHex, "targetHash": validHex,
			"path":    []map[string]string{{"left": validHex, "right": validHex}},
			"anchors": []string{"blink:eth:mainnet:0xabc"},
		})},
		{"path node without sides", rawProofValue(t, map[string]any{
			"version": 1, "merkleRoot": validHex, "targetHash": validHex,
			"path":    []map[string]string{{}},
			"anchors": []string{"blink:eth:mainnet:0xabc"},
		})},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Decode(tc.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedProof)
		})
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	c := newTestCodec(t)
	value := rawProofValue(t, map[string]any{
		"version":    2,
		"path":       []any{},
		"merkleRoot": strings.Repeat("00", 32),
		"targetHash": strings.Repeat("00", 32),
		"anchors":    []string{"blink:eth:mainnet:0xabc"},
	})

	_, err := c.Decode(value)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.NotErrorIs(t, err, ErrMalformedProof)
}

func TestVerifyRejectsWrongType(t *testing.T) {
	c := newTestCodec(t)
	docs := testDocuments(2)
	proofs := encodeAll(t, c, docs, types.AnchorReference{Chain: types.Chain_Mock, TxID: "tx1"})

	p := *proofs[0]
	p.Type = "Ed25519Signature2020"
	_, err := c.Verify(&p, docs[0])
	assert.ErrorIs(t, err, ErrMalformedProof)

	_, err = c.Verify(nil, docs[0])
	assert.ErrorIs(t, err, ErrMalformedProof)
}

func TestEncodeRejectsUnknownChain(t *testing.T) {
	c := newTestCodec(t)
	_, err := c.EncodeValue(&ProofValue{Anchor: types.AnchorReference{Chain: "dogecoin", TxID: "x"}})
	require.Error(t, err)
}
