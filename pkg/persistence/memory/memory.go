package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	"go.uber.org/zap"
)

// MemoryPersistence is an in-memory implementation of IBatchPersistence.
//
// All data is lost when the process exits, which is fine for one-shot CLI
// runs and tests. Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	batches map[string]*persistence.BatchRecord

	// batchID -> index -> certificate
	certificates map[string]map[int]*persistence.CertificateRecord

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
func NewMemoryPersistence(logger *zap.Logger) *MemoryPersistence {
	logger.Sugar().Warnw("Using in-memory persistence, batch records will be lost on exit")

	return &MemoryPersistence{
		batches:      make(map[string]*persistence.BatchRecord),
		certificates: make(map[string]map[int]*persistence.CertificateRecord),
	}
}

func (m *MemoryPersistence) SaveBatch(batch *persistence.BatchRecord) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.batches[batch.ID] = persistence.CopyBatchRecord(batch)
	return nil
}

func (m *MemoryPersistence) LoadBatch(id string) (*persistence.BatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	batch, exists := m.batches[id]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return persistence.CopyBatchRecord(batch), nil
}

func (m *MemoryPersistence) ListBatches() ([]*persistence.BatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	result := make([]*persistence.BatchRecord, 0, len(m.batches))
	for _, batch := range m.batches {
		result = append(result, persistence.CopyBatchRecord(batch))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt == result[j].CreatedAt {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt < result[j].CreatedAt
	})
	return result, nil
}

func (m *MemoryPersistence) DeleteBatch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	delete(m.batches, id)
	delete(m.certificates, id)
	return nil
}

func (m *MemoryPersistence) SaveCertificate(cert *persistence.CertificateRecord) error {
	if err := cert.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	certs, ok := m.certificates[cert.BatchID]
	if !ok {
		certs = make(map[int]*persistence.CertificateRecord)
		m.certificates[cert.BatchID] = certs
	}
	certs[cert.Index] = persistence.CopyCertificateRecord(cert)
	return nil
}

func (m *MemoryPersistence) ListCertificates(batchID string) ([]*persistence.CertificateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	certs := m.certificates[batchID]
	result := make([]*persistence.CertificateRecord, 0, len(certs))
	for _, cert := range certs {
		result = append(result, persistence.CopyCertificateRecord(cert))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Index < result[j].Index
	})
	return result, nil
}

// Close clears all data. Idempotent.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.batches = nil
	m.certificates = nil
	return nil
}

func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("health check failed: %w", persistence.ErrClosed)
	}
	return nil
}
