package persistence

// IBatchPersistence defines the interface for persisting issuance batches and
// the certificates issued in them. All implementations must be thread-safe.
//
// The interface supports:
// - Batch records (save, load, list, delete)
// - Per-certificate records holding the issued proof
// - Lifecycle management (close, health check)
type IBatchPersistence interface {
	// Batch Management

	// SaveBatch persists a batch record keyed by its ID, overwriting any existing record.
	SaveBatch(batch *BatchRecord) error

	// LoadBatch retrieves a batch by ID.
	// Returns nil if the batch doesn't exist, error only on storage failure.
	LoadBatch(id string) (*BatchRecord, error)

	// ListBatches returns all batches sorted by CreatedAt (ascending).
	// Returns empty slice if no batches exist, error only on storage failure.
	ListBatches() ([]*BatchRecord, error)

	// DeleteBatch removes a batch and all of its certificate records.
	// Idempotent - returns nil if the batch doesn't exist.
	DeleteBatch(id string) error

	// Certificate Management

	// SaveCertificate persists a certificate record keyed by batch ID and index.
	SaveCertificate(cert *CertificateRecord) error

	// ListCertificates returns the certificates of a batch sorted by index.
	// Returns empty slice if there are none, error only on storage failure.
	ListCertificates(batchID string) ([]*CertificateRecord, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
