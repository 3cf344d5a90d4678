package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// Key prefixes for namespacing
const (
	keyPrefixBatch       = "batch:"
	keyPrefixCertificate = "cert:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

func batchKey(id string) []byte {
	return []byte(keyPrefixBatch + id)
}

func certificatePrefix(batchID string) []byte {
	return []byte(keyPrefixCertificate + batchID + ":")
}

// Zero padded so that badger's lexical key order is index order
func certificateKey(batchID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d", keyPrefixCertificate, batchID, index))
}

// BadgerPersistence is a disk-backed IBatchPersistence using Badger.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence opens (or creates) the database at dataPath with
// SyncWrites enabled and starts a background value log GC goroutine.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = newBadgerLogger(logger)
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}
		return nil
	})
}

func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *BadgerPersistence) SaveBatch(batch *persistence.BatchRecord) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalBatchRecord(batch)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(batchKey(batch.ID), data)
	})
}

func (b *BadgerPersistence) LoadBatch(id string) (*persistence.BatchRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(batchKey(id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", id, err)
	}
	if data == nil {
		return nil, nil
	}
	return persistence.UnmarshalBatchRecord(data)
}

// scanPrefix calls fn with a copy of every value under prefix, in key order
func (b *BadgerPersistence) scanPrefix(prefix []byte, fn func(key string, value []byte)) error {
	return b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}
			fn(string(item.Key()), data)
		}
		return nil
	})
}

func (b *BadgerPersistence) ListBatches() ([]*persistence.BatchRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	batches := make([]*persistence.BatchRecord, 0)
	err := b.scanPrefix([]byte(keyPrefixBatch), func(key string, value []byte) {
		batch, err := persistence.UnmarshalBatchRecord(value)
		if err != nil {
			b.logger.Sugar().Warnw("Failed to unmarshal BatchRecord, skipping", "key", key, "error", err)
			return
		}
		batches = append(batches, batch)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	sort.Slice(batches, func(i, j int) bool {
		if batches[i].CreatedAt == batches[j].CreatedAt {
			return batches[i].ID < batches[j].ID
		}
		return batches[i].CreatedAt < batches[j].CreatedAt
	})
	return batches, nil
}

// DeleteBatch removes the batch and its certificates in one transaction
func (b *BadgerPersistence) DeleteBatch(id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = certificatePrefix(id)
		opts.PrefetchValues = false

		var keys [][]byte
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return txn.Delete(batchKey(id))
	})
}

func (b *BadgerPersistence) SaveCertificate(cert *persistence.CertificateRecord) error {
	if err := cert.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalCertificateRecord(cert)
	if err != nil {
		return fmt.Errorf("failed to marshal CertificateRecord: %w", err)
	}
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(certificateKey(cert.BatchID, cert.Index), data)
	})
}

func (b *BadgerPersistence) ListCertificates(batchID string) ([]*persistence.CertificateRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	certs := make([]*persistence.CertificateRecord, 0)
	err := b.scanPrefix(certificatePrefix(batchID), func(key string, value []byte) {
		cert, err := persistence.UnmarshalCertificateRecord(value)
		if err != nil {
			b.logger.Sugar().Warnw("Failed to unmarshal CertificateRecord, skipping", "key", key, "error", err)
			return
		}
		certs = append(certs, cert)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates for batch %s: %w", batchID, err)
	}
	return certs, nil
}

// Close stops the GC goroutine and closes the database. Idempotent.
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
