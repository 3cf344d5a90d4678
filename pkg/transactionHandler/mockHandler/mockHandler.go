// Package mockHandler is an in-process chain for local runs and tests.
package mockHandler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/certanchor/cert-issuer-go/pkg/anchor"
	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"go.uber.org/zap"
)

var errSimulatedFailure = errors.New("simulated broadcast failure")

// MockHandler records every anchored root. The first FailFirst attempts fail
// with a retryable error.
type MockHandler struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	anchored  map[string]merkle.Hash
	logger    *zap.Logger
}

func NewMockHandler(failFirst int, logger *zap.Logger) *MockHandler {
	return &MockHandler{
		failFirst: failFirst,
		anchored:  make(map[string]merkle.Hash),
		logger:    logger,
	}
}

// TxID is the deterministic transaction id for an anchoring.
func TxID(recipient, metadata string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(recipient))
	h.Write([]byte{'|'})
	h.Write([]byte(metadata))
	h.Write([]byte{'|'})
	h.Write(payload)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func (m *MockHandler) IssueTransaction(ctx context.Context, recipient string, metadata string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(payload) != merkle.HashSize {
		return "", fmt.Errorf("payload must be a %d byte merkle root, got %d bytes", merkle.HashSize, len(payload))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls <= m.failFirst {
		m.logger.Sugar().Debugw("Mock chain failing attempt", "call", m.calls)
		return "", anchor.NewBroadcastError(types.Chain_Mock.String(), errSimulatedFailure)
	}

	txid := TxID(recipient, metadata, payload)
	m.anchored[txid] = merkle.Hash(payload)
	return txid, nil
}

// Calls returns how many times IssueTransaction reached the chain.
func (m *MockHandler) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// CheckAnchor implements proof.AnchorChecker for roots anchored by this handler.
func (m *MockHandler) CheckAnchor(_ context.Context, ref types.AnchorReference, root merkle.Hash) (bool, error) {
	if ref.Chain != types.Chain_Mock {
		return false, fmt.Errorf("chain %s is not the mock chain", ref.Chain)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	anchored, ok := m.anchored[ref.TxID]
	return ok && anchored == root, nil
}
