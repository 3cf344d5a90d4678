package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	"github.com/certanchor/cert-issuer-go/pkg/persistence/memory"
	"github.com/certanchor/cert-issuer-go/pkg/proof"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeUnsigned(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		content := fmt.Sprintf(`{"recipient":%q}`, name)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func newTestHandler(t *testing.T) (*DirectoryBatchHandler, persistence.IBatchPersistence, *DirectoryConfig) {
	t.Helper()
	cfg := &DirectoryConfig{
		UnsignedDir: t.TempDir(),
		OutputDir:   filepath.Join(t.TempDir(), "out"),
	}
	store := memory.NewMemoryPersistence(zaptest.NewLogger(t))
	t.Cleanup(func() { _ = store.Close() })

	h, err := NewDirectoryBatchHandler(cfg, store, zaptest.NewLogger(t))
	require.NoError(t, err)
	return h, store, cfg
}

// buildProofs makes real proofs for docs anchored at ref
func buildProofs(t *testing.T, docs [][]byte, ref types.AnchorReference) (merkle.Hash, []*types.Proof) {
	t.Helper()
	b := merkle.NewTreeBuilder()
	for _, doc := range docs {
		require.NoError(t, b.AddLeaf(doc))
	}
	root, err := b.Finalize()
	require.NoError(t, err)
	tree, err := b.Tree()
	require.NoError(t, err)

	codec, err := proof.NewCodec()
	require.NoError(t, err)

	proofs := make([]*types.Proof, len(docs))
	for i := range docs {
		path, err := tree.InclusionPath(i)
		require.NoError(t, err)
		leaf, err := tree.Leaf(i)
		require.NoError(t, err)
		proofs[i], err = codec.Encode(&proof.EncodeInput{
			Path:       path,
			MerkleRoot: root,
			TargetHash: leaf,
			Anchor:     ref,
		})
		require.NoError(t, err)
	}
	return root, proofs
}

func TestDirectoryBatchHandlerLifecycle(t *testing.T) {
	h, store, cfg := newTestHandler(t)
	writeUnsigned(t, cfg.UnsignedDir, "c.json", "a.json", "b.json")
	require.NoError(t, os.WriteFile(filepath.Join(cfg.UnsignedDir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(cfg.UnsignedDir, "sub.json"), 0o755))

	ctx := context.Background()
	docs, err := h.PrepareBatch(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, `{"recipient":"a.json"}`, string(docs[0]))
	assert.Equal(t, `{"recipient":"c.json"}`, string(docs[2]))

	batchID := h.BatchID()
	require.NotEmpty(t, batchID)
	record, err := store.LoadBatch(batchID)
	require.NoError(t, err)
	assert.Equal(t, persistence.BatchStatus_Prepared, record.Status)
	assert.Equal(t, []string{"a.json", "b.json", "c.json"}, record.DocumentNames)

	ref := types.AnchorReference{Chain: types.Chain_Mock, TxID: "0xfeed"}
	require.NoError(t, h.FinishBatch(ctx, ref.TxID, ref.Chain))

	record, err = store.LoadBatch(batchID)
	require.NoError(t, err)
	assert.Equal(t, persistence.BatchStatus_Anchored, record.Status)
	anchor, ok := record.Anchor()
	require.True(t, ok)
	assert.Equal(t, ref, anchor)

	root, proofs := buildProofs(t, docs, ref)
	require.NoError(t, h.CompleteBatch(ctx, root, proofs))

	record, err = store.LoadBatch(batchID)
	require.NoError(t, err)
	assert.Equal(t, persistence.BatchStatus_Completed, record.Status)
	assert.Equal(t, root.Hex(), record.MerkleRoot)

	// certificate copies are byte identical, proofs sit next to them
	codec, err := proof.NewCodec()
	require.NoError(t, err)
	for i, name := range record.DocumentNames {
		written, err := os.ReadFile(filepath.Join(cfg.OutputDir, name))
		require.NoError(t, err)
		assert.Equal(t, docs[i], written)

		proofJSON, err := os.ReadFile(filepath.Join(cfg.OutputDir, ProofFileName(name)))
		require.NoError(t, err)
		var p types.Proof
		require.NoError(t, json.Unmarshal(proofJSON, &p))

		valid, err := codec.Verify(&p, written)
		require.NoError(t, err)
		assert.True(t, valid, "proof for %s", name)
	}

	certs, err := store.ListCertificates(batchID)
	require.NoError(t, err)
	require.Len(t, certs, 3)
	leaf, err := merkle.HashLeaf(docs[1])
	require.NoError(t, err)
	assert.Equal(t, leaf.Hex(), certs[1].TargetHash)
	assert.Equal(t, "b.json", certs[1].Name)

	path, err := h.ArchiveProofs()
	require.NoError(t, err)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	archived, err := ReadProofArchive(f)
	require.NoError(t, err)
	assert.Equal(t, certs, archived)
}

func TestDirectoryBatchHandlerOrdering(t *testing.T) {
	h, _, _ := newTestHandler(t)

	_, err := h.PrepareBatch(context.Background())
	require.NoError(t, err)

	_, err = h.PrepareBatch(context.Background())
	assert.Error(t, err, "second prepare")

	err = h.CompleteBatch(context.Background(), merkle.Hash{}, nil)
	assert.Error(t, err, "complete before finish")

	_, err = h.ArchiveProofs()
	assert.Error(t, err)

	require.NoError(t, h.FinishBatch(context.Background(), "0x1", types.Chain_Mock))
	assert.Error(t, h.FinishBatch(context.Background(), "0x2", types.Chain_Mock))
}

func TestDirectoryBatchHandlerSkipsProofSidecars(t *testing.T) {
	h, _, cfg := newTestHandler(t)
	writeUnsigned(t, cfg.UnsignedDir, "alice.json", "bob.json", ProofFileName("alice.json"))

	docs, err := h.PrepareBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.JSONEq(t, `{"recipient":"alice.json"}`, string(docs[0]))
	assert.JSONEq(t, `{"recipient":"bob.json"}`, string(docs[1]))
}

func TestDirectoryBatchHandlerEmptyDir(t *testing.T) {
	h, _, _ := newTestHandler(t)

	docs, err := h.PrepareBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDirectoryBatchHandlerMissingDir(t *testing.T) {
	store := memory.NewMemoryPersistence(zaptest.NewLogger(t))
	h, err := NewDirectoryBatchHandler(&DirectoryConfig{
		UnsignedDir: filepath.Join(t.TempDir(), "missing"),
		OutputDir:   t.TempDir(),
	}, store, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = h.PrepareBatch(context.Background())
	assert.Error(t, err)

	_, err = NewDirectoryBatchHandler(&DirectoryConfig{}, store, zaptest.NewLogger(t))
	assert.Error(t, err)
	_, err = NewDirectoryBatchHandler(&DirectoryConfig{UnsignedDir: "a", OutputDir: "b"}, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestDirectoryBatchHandlerProofCountMismatch(t *testing.T) {
	h, _, cfg := newTestHandler(t)
	writeUnsigned(t, cfg.UnsignedDir, "a.json", "b.json")

	ctx := context.Background()
	docs, err := h.PrepareBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, h.FinishBatch(ctx, "0x1", types.Chain_Mock))

	root, proofs := buildProofs(t, docs, types.AnchorReference{Chain: types.Chain_Mock, TxID: "0x1"})
	err = h.CompleteBatch(ctx, root, proofs[:1])
	assert.Error(t, err)
}

func TestDirectoryBatchHandlerFailBatch(t *testing.T) {
	h, store, cfg := newTestHandler(t)
	assert.NoError(t, h.FailBatch(errors.New("ignored before prepare")))

	writeUnsigned(t, cfg.UnsignedDir, "a.json")
	h.now = func() time.Time { return time.Unix(10, 0) }
	_, err := h.PrepareBatch(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.FailBatch(errors.New("All attempts to broadcast failed")))
	record, err := store.LoadBatch(h.BatchID())
	require.NoError(t, err)
	assert.Equal(t, persistence.BatchStatus_Failed, record.Status)
	assert.Contains(t, record.Error, "broadcast failed")
	assert.Equal(t, time.Unix(10, 0).UnixNano(), record.CreatedAt)
}

func TestStaticBatchHandler(t *testing.T) {
	docs := [][]byte{[]byte("a"), []byte("b")}
	h := NewStaticBatchHandler(docs)
	docs[0][0] = 'z'

	prepared, err := h.PrepareBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", string(prepared[0]))

	_, ok := h.Anchor()
	assert.False(t, ok)

	require.NoError(t, h.FinishBatch(context.Background(), "0xabc", types.Chain_Mock))
	anchor, ok := h.Anchor()
	require.True(t, ok)
	assert.Equal(t, "0xabc", anchor.TxID)
	assert.Error(t, h.FinishBatch(context.Background(), "0xdef", types.Chain_Mock))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.PrepareBatch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProofFileName(t *testing.T) {
	assert.Equal(t, "alice.proof.json", ProofFileName("alice.json"))
}
