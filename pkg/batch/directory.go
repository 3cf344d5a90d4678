// Package batch supplies issuance batches and writes out the finished,
// proof-carrying certificates.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	certificateExt = ".json"
	proofSuffix    = ".proof.json"
)

// DirectoryConfig points the handler at its input and output directories
type DirectoryConfig struct {
	UnsignedDir string
	OutputDir   string
}

// DirectoryBatchHandler reads unsigned certificates from a directory and,
// once proofs exist, writes each certificate with a sidecar proof file.
// It handles a single batch.
type DirectoryBatchHandler struct {
	config *DirectoryConfig
	store  persistence.IBatchPersistence
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	batch *persistence.BatchRecord
	docs  [][]byte
}

// NewDirectoryBatchHandler creates a handler persisting batch progress to store.
func NewDirectoryBatchHandler(cfg *DirectoryConfig, store persistence.IBatchPersistence, logger *zap.Logger) (*DirectoryBatchHandler, error) {
	if cfg == nil || cfg.UnsignedDir == "" || cfg.OutputDir == "" {
		return nil, fmt.Errorf("unsigned and output directories are required")
	}
	if store == nil {
		return nil, fmt.Errorf("persistence store is required")
	}
	return &DirectoryBatchHandler{
		config: cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
	}, nil
}

// BatchID returns the id assigned by PrepareBatch, or "" before it.
func (d *DirectoryBatchHandler) BatchID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.batch == nil {
		return ""
	}
	return d.batch.ID
}

// PrepareBatch loads every *.json file of the unsigned directory in lexical
// file name order. That order is the leaf order of the batch.
func (d *DirectoryBatchHandler) PrepareBatch(ctx context.Context) ([][]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.batch != nil {
		return nil, fmt.Errorf("batch %s already prepared", d.batch.ID)
	}

	entries, err := os.ReadDir(d.config.UnsignedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read unsigned certificates directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), certificateExt) {
			continue
		}
		// proofs from an earlier run written next to their certificates
		if strings.HasSuffix(entry.Name(), proofSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	docs := make([][]byte, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(d.config.UnsignedDir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate %s: %w", name, err)
		}
		docs = append(docs, data)
	}

	now := d.now().UnixNano()
	record := &persistence.BatchRecord{
		ID:            uuid.NewString(),
		Status:        persistence.BatchStatus_Prepared,
		DocumentNames: names,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.store.SaveBatch(record); err != nil {
		return nil, fmt.Errorf("failed to save batch record: %w", err)
	}

	d.batch = record
	d.docs = docs

	d.logger.Sugar().Infow("Prepared batch",
		"batchId", record.ID,
		"certificates", len(docs),
		"dir", d.config.UnsignedDir,
	)
	return docs, nil
}

func (d *DirectoryBatchHandler) save(update func(b *persistence.BatchRecord)) error {
	next := persistence.CopyBatchRecord(d.batch)
	update(next)
	next.UpdatedAt = d.now().UnixNano()
	if err := d.store.SaveBatch(next); err != nil {
		return fmt.Errorf("failed to save batch %s: %w", next.ID, err)
	}
	d.batch = next
	return nil
}

// FinishBatch records the anchoring transaction.
func (d *DirectoryBatchHandler) FinishBatch(_ context.Context, txid string, chain types.Chain) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.batch == nil {
		return fmt.Errorf("no batch prepared")
	}
	if d.batch.Status != persistence.BatchStatus_Prepared {
		return fmt.Errorf("batch %s is %s, expected %s", d.batch.ID, d.batch.Status, persistence.BatchStatus_Prepared)
	}

	if err := d.save(func(b *persistence.BatchRecord) {
		b.Status = persistence.BatchStatus_Anchored
		b.Chain = chain
		b.TxID = txid
	}); err != nil {
		return err
	}

	d.logger.Sugar().Infow("Batch anchored", "batchId", d.batch.ID, "chain", chain, "txid", txid)
	return nil
}

// CompleteBatch writes every certificate and its proof to the output
// directory and records the proofs. proofs must be in leaf order.
func (d *DirectoryBatchHandler) CompleteBatch(ctx context.Context, root merkle.Hash, proofs []*types.Proof) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.batch == nil {
		return fmt.Errorf("no batch prepared")
	}
	if d.batch.Status != persistence.BatchStatus_Anchored {
		return fmt.Errorf("batch %s is %s, expected %s", d.batch.ID, d.batch.Status, persistence.BatchStatus_Anchored)
	}
	if len(proofs) != len(d.docs) {
		return fmt.Errorf("got %d proofs for %d certificates", len(proofs), len(d.docs))
	}

	if err := os.MkdirAll(d.config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for i, p := range proofs {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.batch.DocumentNames[i]

		leaf, err := merkle.HashLeaf(d.docs[i])
		if err != nil {
			return fmt.Errorf("certificate %s: %w", name, err)
		}
		if err := d.writeCertificate(name, d.docs[i], p); err != nil {
			return err
		}

		if err := d.store.SaveCertificate(&persistence.CertificateRecord{
			BatchID:    d.batch.ID,
			Index:      i,
			Name:       name,
			TargetHash: leaf.Hex(),
			Proof:      p,
		}); err != nil {
			return fmt.Errorf("failed to save certificate record %s: %w", name, err)
		}
	}

	if err := d.save(func(b *persistence.BatchRecord) {
		b.Status = persistence.BatchStatus_Completed
		b.MerkleRoot = root.Hex()
	}); err != nil {
		return err
	}

	d.logger.Sugar().Infow("Batch completed",
		"batchId", d.batch.ID,
		"certificates", len(proofs),
		"outputDir", d.config.OutputDir,
	)
	return nil
}

func (d *DirectoryBatchHandler) writeCertificate(name string, doc []byte, p *types.Proof) error {
	if err := os.WriteFile(filepath.Join(d.config.OutputDir, name), doc, 0o644); err != nil {
		return fmt.Errorf("failed to write certificate %s: %w", name, err)
	}

	proofJSON, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal proof for %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(d.config.OutputDir, ProofFileName(name)), proofJSON, 0o644); err != nil {
		return fmt.Errorf("failed to write proof for %s: %w", name, err)
	}
	return nil
}

// FailBatch marks the batch failed with the cause. A no-op before PrepareBatch.
func (d *DirectoryBatchHandler) FailBatch(cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.batch == nil || cause == nil {
		return nil
	}
	return d.save(func(b *persistence.BatchRecord) {
		b.Status = persistence.BatchStatus_Failed
		b.Error = cause.Error()
	})
}

// ProofFileName returns the sidecar proof file name for a certificate file.
func ProofFileName(certificateName string) string {
	return strings.TrimSuffix(certificateName, certificateExt) + proofSuffix
}
