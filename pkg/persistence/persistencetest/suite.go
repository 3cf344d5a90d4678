// Package persistencetest holds the behaviour tests shared by every
// IBatchPersistence backend.
package persistencetest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) persistence.IBatchPersistence

func testBatch(id string, createdAt int64) *persistence.BatchRecord {
	return &persistence.BatchRecord{
		ID:            id,
		Status:        persistence.BatchStatus_Prepared,
		DocumentNames: []string{"a.json", "b.json"},
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func testCertificate(batchID string, index int) *persistence.CertificateRecord {
	return &persistence.CertificateRecord{
		BatchID:    batchID,
		Index:      index,
		Name:       fmt.Sprintf("cert-%d.json", index),
		TargetHash: fmt.Sprintf("%064x", index),
		Proof: &types.Proof{
			Type:               types.ProofType,
			Created:            "2024-01-01T00:00:00Z",
			ProofValue:         fmt.Sprintf("zproof%d", index),
			ProofPurpose:       types.ProofPurposeAssertion,
			VerificationMethod: "did:example:issuer#key-1",
		},
	}
}

// Run executes the shared suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveLoadBatch", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		batch := testBatch("batch-1", 100)
		require.NoError(t, store.SaveBatch(batch))

		loaded, err := store.LoadBatch("batch-1")
		require.NoError(t, err)
		assert.Equal(t, batch, loaded)

		// overwrite
		batch.Status = persistence.BatchStatus_Anchored
		batch.TxID = "0xabc"
		batch.Chain = types.Chain_EthereumSepolia
		require.NoError(t, store.SaveBatch(batch))

		loaded, err = store.LoadBatch("batch-1")
		require.NoError(t, err)
		assert.Equal(t, persistence.BatchStatus_Anchored, loaded.Status)
		assert.Equal(t, "0xabc", loaded.TxID)
	})

	t.Run("LoadMissingBatch", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		loaded, err := store.LoadBatch("missing")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("SaveInvalidRecords", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		assert.Error(t, store.SaveBatch(nil))
		assert.Error(t, store.SaveBatch(&persistence.BatchRecord{}))
		assert.Error(t, store.SaveCertificate(nil))
		assert.Error(t, store.SaveCertificate(&persistence.CertificateRecord{Index: 1}))
	})

	t.Run("ListBatchesSorted", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		empty, err := store.ListBatches()
		require.NoError(t, err)
		assert.Empty(t, empty)

		for _, b := range []*persistence.BatchRecord{
			testBatch("c", 300),
			testBatch("a", 100),
			testBatch("b", 200),
		} {
			require.NoError(t, store.SaveBatch(b))
		}

		batches, err := store.ListBatches()
		require.NoError(t, err)
		require.Len(t, batches, 3)
		assert.Equal(t, "a", batches[0].ID)
		assert.Equal(t, "b", batches[1].ID)
		assert.Equal(t, "c", batches[2].ID)
	})

	t.Run("CertificatesSortedByIndex", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.SaveBatch(testBatch("batch", 1)))
		for _, i := range []int{10, 2, 0, 1} {
			require.NoError(t, store.SaveCertificate(testCertificate("batch", i)))
		}
		require.NoError(t, store.SaveCertificate(testCertificate("other", 0)))

		certs, err := store.ListCertificates("batch")
		require.NoError(t, err)
		require.Len(t, certs, 4)
		for i, expected := range []int{0, 1, 2, 10} {
			assert.Equal(t, expected, certs[i].Index)
			assert.Equal(t, fmt.Sprintf("zproof%d", expected), certs[i].Proof.ProofValue)
		}

		none, err := store.ListCertificates("nope")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("DeleteBatchCascades", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.SaveBatch(testBatch("gone", 1)))
		require.NoError(t, store.SaveBatch(testBatch("kept", 2)))
		require.NoError(t, store.SaveCertificate(testCertificate("gone", 0)))
		require.NoError(t, store.SaveCertificate(testCertificate("kept", 0)))

		require.NoError(t, store.DeleteBatch("gone"))
		require.NoError(t, store.DeleteBatch("gone"))

		loaded, err := store.LoadBatch("gone")
		require.NoError(t, err)
		assert.Nil(t, loaded)

		certs, err := store.ListCertificates("gone")
		require.NoError(t, err)
		assert.Empty(t, certs)

		certs, err = store.ListCertificates("kept")
		require.NoError(t, err)
		assert.Len(t, certs, 1)
	})

	t.Run("ConcurrentWrites", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.SaveBatch(testBatch("concurrent", 1)))

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				errs <- store.SaveCertificate(testCertificate("concurrent", index))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		certs, err := store.ListCertificates("concurrent")
		require.NoError(t, err)
		assert.Len(t, certs, 20)
	})

	t.Run("HealthAndClose", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.HealthCheck())
		require.NoError(t, store.Close())
		require.NoError(t, store.Close())

		assert.Error(t, store.HealthCheck())
		assert.Error(t, store.SaveBatch(testBatch("late", 1)))
		_, err := store.LoadBatch("late")
		assert.Error(t, err)
		_, err = store.ListBatches()
		assert.Error(t, err)
		_, err = store.ListCertificates("late")
		assert.Error(t, err)
	})
}
