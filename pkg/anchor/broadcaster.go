// Package anchor submits merkle roots to a ledger through a TransactionHandler,
// retrying transient failures a bounded number of times.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// TransactionHandler submits a payload to a ledger and returns the transaction id.
// Retryable failures must be returned as *BroadcastError.
type TransactionHandler interface {
	IssueTransaction(ctx context.Context, recipient string, metadata string, payload []byte) (string, error)
}

// BroadcasterConfig bounds the retry loop.
type BroadcasterConfig struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int

	// InitialBackoff is the wait after the first failure. Zero disables waiting.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultBroadcasterConfig returns the retry bounds used by the CLI.
func DefaultBroadcasterConfig() *BroadcasterConfig {
	return &BroadcasterConfig{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

// BroadcastRequest describes one anchoring.
type BroadcastRequest struct {
	Chain     types.Chain
	Root      merkle.Hash
	Recipient string
	Metadata  string
}

// IssuanceAttempt records the outcome of one try. Err is nil for the successful one.
type IssuanceAttempt struct {
	Number int
	Err    error
}

// BroadcastResult is returned from a successful Broadcast.
type BroadcastResult struct {
	Anchor   types.AnchorReference
	Attempts []IssuanceAttempt
}

// Broadcaster anchors roots with at most one in-flight attempt at a time.
type Broadcaster struct {
	handler TransactionHandler
	config  *BroadcasterConfig
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster. A nil config uses DefaultBroadcasterConfig.
func NewBroadcaster(handler TransactionHandler, cfg *BroadcasterConfig, logger *zap.Logger) (*Broadcaster, error) {
	if handler == nil {
		return nil, fmt.Errorf("transaction handler is required")
	}
	if cfg == nil {
		cfg = DefaultBroadcasterConfig()
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff < 0 || cfg.MaxBackoff < 0 {
		return nil, fmt.Errorf("backoff durations cannot be negative")
	}
	return &Broadcaster{
		handler: handler,
		config:  cfg,
		logger:  logger,
	}, nil
}

func (b *Broadcaster) newBackOff() backoff.BackOff {
	if b.config.InitialBackoff == 0 {
		return &backoff.ZeroBackOff{}
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.config.InitialBackoff
	if b.config.MaxBackoff > 0 {
		eb.MaxInterval = b.config.MaxBackoff
	}
	eb.MaxElapsedTime = 0
	return eb
}

// Broadcast submits req.Root through the transaction handler. Failures wrapped
// in BroadcastError are retried up to MaxAttempts total attempts, after which
// ErrBroadcastExhausted is returned. Any other error is returned immediately.
func (b *Broadcaster) Broadcast(ctx context.Context, req *BroadcastRequest) (*BroadcastResult, error) {
	if req == nil {
		return nil, fmt.Errorf("broadcast request cannot be nil")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		attempts []IssuanceAttempt
		txid     string
	)

	operation := func() error {
		number := len(attempts) + 1
		id, err := b.handler.IssueTransaction(ctx, req.Recipient, req.Metadata, req.Root[:])
		attempts = append(attempts, IssuanceAttempt{Number: number, Err: err})
		if err == nil {
			txid = id
			return nil
		}
		if !IsBroadcastError(err) {
			return backoff.Permanent(err)
		}
		b.logger.Warn("Failed broadcast attempt",
			zap.Int("attempt", number),
			zap.Int("maxAttempts", b.config.MaxAttempts),
			zap.String("chain", req.Chain.String()),
			zap.Error(err),
		)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(b.newBackOff(), uint64(b.config.MaxAttempts-1)),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("broadcast cancelled after %d attempts: %w", len(attempts), err)
		}
		if !IsBroadcastError(err) {
			return nil, err
		}
		b.logger.Error("Broadcast attempts exhausted",
			zap.Int("attempts", len(attempts)),
			zap.String("chain", req.Chain.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrBroadcastExhausted, err)
	}

	anchor := types.AnchorReference{Chain: req.Chain, TxID: txid}
	b.logger.Sugar().Infow("Broadcast root",
		"chain", req.Chain,
		"txid", txid,
		"root", req.Root.Hex(),
		"attempts", len(attempts),
	)
	return &BroadcastResult{Anchor: anchor, Attempts: attempts}, nil
}
