package persistence

import (
	"errors"
	"fmt"

	"github.com/certanchor/cert-issuer-go/pkg/types"
)

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("persistence layer is closed")

type BatchStatus string

const (
	BatchStatus_Prepared  BatchStatus = "prepared"
	BatchStatus_Anchored  BatchStatus = "anchored"
	BatchStatus_Completed BatchStatus = "completed"
	BatchStatus_Failed    BatchStatus = "failed"
)

// BatchRecord tracks one issuance run from preparation to finished certificates.
type BatchRecord struct {
	ID     string      `json:"id"`
	Status BatchStatus `json:"status"`

	// DocumentNames lists the source file of each document, in leaf order
	DocumentNames []string `json:"documentNames"`

	// Set once the root has been anchored
	MerkleRoot string      `json:"merkleRoot,omitempty"`
	Chain      types.Chain `json:"chain,omitempty"`
	TxID       string      `json:"txid,omitempty"`

	Error string `json:"error,omitempty"`

	// Unix nanoseconds
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Validate checks the fields every backend relies on.
func (b *BatchRecord) Validate() error {
	if b == nil {
		return fmt.Errorf("cannot save nil BatchRecord")
	}
	if b.ID == "" {
		return fmt.Errorf("batch ID cannot be empty")
	}
	return nil
}

// Anchor returns the batch's anchor reference, if it has been anchored.
func (b *BatchRecord) Anchor() (types.AnchorReference, bool) {
	if b.TxID == "" {
		return types.AnchorReference{}, false
	}
	return types.AnchorReference{Chain: b.Chain, TxID: b.TxID}, true
}

// CertificateRecord holds the proof issued for one document of a batch.
type CertificateRecord struct {
	BatchID    string       `json:"batchId"`
	Index      int          `json:"index"`
	Name       string       `json:"name"`
	TargetHash string       `json:"targetHash"`
	Proof      *types.Proof `json:"proof"`
}

func (c *CertificateRecord) Validate() error {
	if c == nil {
		return fmt.Errorf("cannot save nil CertificateRecord")
	}
	if c.BatchID == "" {
		return fmt.Errorf("certificate batch ID cannot be empty")
	}
	if c.Index < 0 {
		return fmt.Errorf("certificate index cannot be negative: %d", c.Index)
	}
	return nil
}
