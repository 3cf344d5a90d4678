package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalBatchRecord serializes a BatchRecord to JSON bytes.
func MarshalBatchRecord(b *BatchRecord) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("cannot marshal nil BatchRecord")
	}

	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal BatchRecord to JSON: %w", err)
	}
	return data, nil
}

// UnmarshalBatchRecord deserializes a BatchRecord from JSON bytes.
func UnmarshalBatchRecord(data []byte) (*BatchRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var b BatchRecord
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to BatchRecord: %w", err)
	}
	return &b, nil
}

// MarshalCertificateRecord serializes a CertificateRecord to JSON bytes.
func MarshalCertificateRecord(c *CertificateRecord) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("cannot marshal nil CertificateRecord")
	}
	return json.Marshal(c)
}

// UnmarshalCertificateRecord deserializes a CertificateRecord from JSON bytes.
func UnmarshalCertificateRecord(data []byte) (*CertificateRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var c CertificateRecord
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to CertificateRecord: %w", err)
	}
	return &c, nil
}

// CopyBatchRecord returns a deep copy of b.
func CopyBatchRecord(b *BatchRecord) *BatchRecord {
	if b == nil {
		return nil
	}
	c := *b
	if b.DocumentNames != nil {
		c.DocumentNames = append([]string(nil), b.DocumentNames...)
	}
	return &c
}

// CopyCertificateRecord returns a deep copy of c.
func CopyCertificateRecord(c *CertificateRecord) *CertificateRecord {
	if c == nil {
		return nil
	}
	out := *c
	if c.Proof != nil {
		p := *c.Proof
		out.Proof = &p
	}
	return &out
}
