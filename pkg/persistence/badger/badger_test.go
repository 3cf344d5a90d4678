package badger

import (
	"testing"

	"github.com/certanchor/cert-issuer-go/pkg/logger"
	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	"github.com/certanchor/cert-issuer-go/pkg/persistence/persistencetest"
	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ensure BadgerPersistence implements IBatchPersistence
var _ persistence.IBatchPersistence = (*BadgerPersistence)(nil)

func TestBadgerPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.IBatchPersistence {
		testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
		bp, err := NewBadgerPersistence(t.TempDir(), testLogger)
		require.NoError(t, err)
		return bp
	})
}

// TestBadgerPersistence_Reopen checks data survives closing and reopening the database
func TestBadgerPersistence_Reopen(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	require.NoError(t, bp.SaveBatch(&persistence.BatchRecord{ID: "durable", Status: persistence.BatchStatus_Completed, CreatedAt: 1}))
	require.NoError(t, bp.SaveCertificate(&persistence.CertificateRecord{BatchID: "durable", Index: 0, Name: "a.json"}))
	require.NoError(t, bp.Close())

	bp, err = NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	batch, err := bp.LoadBatch("durable")
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, persistence.BatchStatus_Completed, batch.Status)

	certs, err := bp.ListCertificates("durable")
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "a.json", certs[0].Name)
}

func TestBadgerPersistence_SchemaMismatch(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	require.NoError(t, bp.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keySchemaVersion), []byte("v0"))
	}))
	require.NoError(t, bp.Close())

	_, err = NewBadgerPersistence(tmpDir, testLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}

func TestCertificateKeyOrdering(t *testing.T) {
	assert.Less(t, string(certificateKey("b", 2)), string(certificateKey("b", 10)))
	assert.Equal(t, "cert:b:0000000007", string(certificateKey("b", 7)))
}
