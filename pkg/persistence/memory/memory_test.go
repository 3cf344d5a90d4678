package memory

import (
	"testing"

	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	"github.com/certanchor/cert-issuer-go/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Ensure MemoryPersistence implements IBatchPersistence
var _ persistence.IBatchPersistence = (*MemoryPersistence)(nil)

func TestMemoryPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.IBatchPersistence {
		return NewMemoryPersistence(zaptest.NewLogger(t))
	})
}

// TestMemoryPersistence_ExternalMutation checks stored records are isolated from callers
func TestMemoryPersistence_ExternalMutation(t *testing.T) {
	store := NewMemoryPersistence(zaptest.NewLogger(t))
	defer func() { _ = store.Close() }()

	batch := &persistence.BatchRecord{ID: "b", DocumentNames: []string{"a.json"}}
	require.NoError(t, store.SaveBatch(batch))
	batch.DocumentNames[0] = "mutated.json"

	loaded, err := store.LoadBatch("b")
	require.NoError(t, err)
	assert.Equal(t, "a.json", loaded.DocumentNames[0])

	loaded.DocumentNames[0] = "mutated-again.json"
	reloaded, err := store.LoadBatch("b")
	require.NoError(t, err)
	assert.Equal(t, "a.json", reloaded.DocumentNames[0])
}
