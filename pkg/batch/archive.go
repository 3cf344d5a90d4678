package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/certanchor/cert-issuer-go/pkg/persistence"
	"github.com/ulikunitz/xz"
)

const archiveSuffix = ".proofs.jsonl.xz"

// WriteProofArchive writes certs as xz compressed JSON lines.
func WriteProofArchive(w io.Writer, certs []*persistence.CertificateRecord) error {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create xz writer: %w", err)
	}

	enc := json.NewEncoder(xw)
	for _, cert := range certs {
		if err := enc.Encode(cert); err != nil {
			_ = xw.Close()
			return fmt.Errorf("failed to encode certificate %d: %w", cert.Index, err)
		}
	}
	return xw.Close()
}

// ReadProofArchive is the inverse of WriteProofArchive.
func ReadProofArchive(r io.Reader) ([]*persistence.CertificateRecord, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xz stream: %w", err)
	}

	var certs []*persistence.CertificateRecord
	scanner := bufio.NewScanner(xr)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		cert, err := persistence.UnmarshalCertificateRecord(scanner.Bytes())
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proof archive: %w", err)
	}
	return certs, nil
}

// ArchiveProofs writes the completed batch's proofs to
// <outputDir>/<batchId>.proofs.jsonl.xz and returns the path.
func (d *DirectoryBatchHandler) ArchiveProofs() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.batch == nil || d.batch.Status != persistence.BatchStatus_Completed {
		return "", fmt.Errorf("only completed batches can be archived")
	}

	certs, err := d.store.ListCertificates(d.batch.ID)
	if err != nil {
		return "", err
	}

	path := filepath.Join(d.config.OutputDir, d.batch.ID+archiveSuffix)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	if err := WriteProofArchive(f, certs); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close archive: %w", err)
	}

	d.logger.Sugar().Infow("Archived proofs", "batchId", d.batch.ID, "path", path, "certificates", len(certs))
	return path, nil
}
