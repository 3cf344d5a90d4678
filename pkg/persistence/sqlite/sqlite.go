// Package sqlite is a single-file IBatchPersistence using the pure Go
// modernc.org/sqlite driver, so the issuer binary stays CGO free.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	driverName           = "sqlite"
	databaseFile         = "certissuer.db"
	currentSchemaVersion = "v1"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metadata (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id         TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		data       BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS certificates (
		batch_id TEXT NOT NULL,
		idx      INTEGER NOT NULL,
		data     BLOB NOT NULL,
		PRIMARY KEY (batch_id, idx)
	)`,
}

// SQLitePersistence stores records as JSON blobs in a SQLite database.
type SQLitePersistence struct {
	db     *sql.DB
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewSQLitePersistence opens certissuer.db inside dataDir, creating the
// directory and schema when missing.
func NewSQLitePersistence(dataDir string, logger *zap.Logger) (*SQLitePersistence, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, databaseFile)

	db, err := sql.Open(driverName, path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %s: %w", path, err)
	}
	// a single connection serializes writers
	db.SetMaxOpenConns(1)

	sp := &SQLitePersistence{db: db, logger: logger}
	if err := sp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("SQLite persistence initialized", "path", path)
	return sp, nil
}

func (s *SQLitePersistence) initSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	var existingVersion string
	err = tx.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&existingVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.Exec(`INSERT INTO metadata (key, value) VALUES ('schema_version', ?)`, currentSchemaVersion); err != nil {
			return fmt.Errorf("failed to write schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case existingVersion != currentSchemaVersion:
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return tx.Commit()
}

func (s *SQLitePersistence) SaveBatch(batch *persistence.BatchRecord) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalBatchRecord(batch)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO batches (id, created_at, data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET created_at = excluded.created_at, data = excluded.data`,
		batch.ID, batch.CreatedAt, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save batch %s: %w", batch.ID, err)
	}
	return nil
}

func (s *SQLitePersistence) LoadBatch(id string) (*persistence.BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	var data []byte
	err := s.db.QueryRow(`SELECT data FROM batches WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", id, err)
	}
	return persistence.UnmarshalBatchRecord(data)
}

func (s *SQLitePersistence) ListBatches() ([]*persistence.BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	rows, err := s.db.Query(`SELECT id, data FROM batches ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	batches := make([]*persistence.BatchRecord, 0)
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		batch, err := persistence.UnmarshalBatchRecord(data)
		if err != nil {
			s.logger.Sugar().Warnw("Failed to unmarshal BatchRecord, skipping", "id", id, "error", err)
			continue
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func (s *SQLitePersistence) DeleteBatch(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM certificates WHERE batch_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete certificates of batch %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM batches WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete batch %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLitePersistence) SaveCertificate(cert *persistence.CertificateRecord) error {
	if err := cert.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalCertificateRecord(cert)
	if err != nil {
		return fmt.Errorf("failed to marshal CertificateRecord: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO certificates (batch_id, idx, data) VALUES (?, ?, ?)
		 ON CONFLICT(batch_id, idx) DO UPDATE SET data = excluded.data`,
		cert.BatchID, cert.Index, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save certificate %d of batch %s: %w", cert.Index, cert.BatchID, err)
	}
	return nil
}

func (s *SQLitePersistence) ListCertificates(batchID string) ([]*persistence.CertificateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	rows, err := s.db.Query(`SELECT idx, data FROM certificates WHERE batch_id = ? ORDER BY idx`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates for batch %s: %w", batchID, err)
	}
	defer func() { _ = rows.Close() }()

	certs := make([]*persistence.CertificateRecord, 0)
	for rows.Next() {
		var (
			index int
			data  []byte
		)
		if err := rows.Scan(&index, &data); err != nil {
			return nil, fmt.Errorf("failed to scan certificate row: %w", err)
		}
		cert, err := persistence.UnmarshalCertificateRecord(data)
		if err != nil {
			s.logger.Sugar().Warnw("Failed to unmarshal CertificateRecord, skipping", "batch", batchID, "index", index, "error", err)
			continue
		}
		certs = append(certs, cert)
	}
	return certs, rows.Err()
}

// Close closes the database. Idempotent.
func (s *SQLitePersistence) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close sqlite database: %w", err)
	}
	s.logger.Sugar().Info("SQLite persistence closed")
	return nil
}

func (s *SQLitePersistence) HealthCheck() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	var version string
	if err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	return nil
}
