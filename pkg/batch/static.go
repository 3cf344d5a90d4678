package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/certanchor/cert-issuer-go/pkg/types"
)

// StaticBatchHandler serves a fixed set of in-memory documents.
type StaticBatchHandler struct {
	docs [][]byte

	mu     sync.Mutex
	anchor *types.AnchorReference
}

func NewStaticBatchHandler(docs [][]byte) *StaticBatchHandler {
	copied := make([][]byte, len(docs))
	for i, d := range docs {
		copied[i] = append([]byte(nil), d...)
	}
	return &StaticBatchHandler{docs: copied}
}

func (s *StaticBatchHandler) PrepareBatch(ctx context.Context) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.docs, nil
}

func (s *StaticBatchHandler) FinishBatch(_ context.Context, txid string, chain types.Chain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.anchor != nil {
		return fmt.Errorf("batch already finished with txid %s", s.anchor.TxID)
	}
	s.anchor = &types.AnchorReference{Chain: chain, TxID: txid}
	return nil
}

// Anchor returns the reference recorded by FinishBatch.
func (s *StaticBatchHandler) Anchor() (types.AnchorReference, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anchor == nil {
		return types.AnchorReference{}, false
	}
	return *s.anchor, true
}
