// Package hederaHandler anchors merkle roots as Hedera Consensus Service topic messages.
package hederaHandler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/certanchor/cert-issuer-go/pkg/anchor"
	"github.com/certanchor/cert-issuer-go/pkg/config"
	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	hedera "github.com/hashgraph/hedera-sdk-go/v2"
	"go.uber.org/zap"
)

const transactionMemo = "cert-issuer merkle root"

// AnchorMessage is the JSON body submitted to the topic
type AnchorMessage struct {
	Root      string `json:"root"`
	Recipient string `json:"recipient"`
	Metadata  string `json:"metadata,omitempty"`
}

// MessageSubmitter executes a topic message transaction and returns its transaction id
type MessageSubmitter interface {
	Submit(ctx context.Context, tx *hedera.TopicMessageSubmitTransaction) (string, error)
}

// clientSubmitter executes against a live network and waits for consensus
type clientSubmitter struct {
	client *hedera.Client
}

func (s *clientSubmitter) Submit(ctx context.Context, tx *hedera.TopicMessageSubmitTransaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	response, err := tx.Execute(s.client)
	if err != nil {
		return "", fmt.Errorf("failed to execute message submit transaction: %w", err)
	}
	if _, err := response.GetReceipt(s.client); err != nil {
		return "", fmt.Errorf("failed to get message submit receipt: %w", err)
	}
	return response.TransactionID.String(), nil
}

// NewHederaClient returns an operator-configured client for the chain's network.
func NewHederaClient(chain types.Chain, cfg *config.HederaConfig) (*hedera.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("hedera config cannot be nil")
	}
	operatorID, err := hedera.AccountIDFromString(strings.TrimSpace(cfg.OperatorID))
	if err != nil {
		return nil, fmt.Errorf("invalid operator account ID: %w", err)
	}
	operatorKey, err := parsePrivateKey(cfg.OperatorKey)
	if err != nil {
		return nil, err
	}

	var client *hedera.Client
	switch chain {
	case types.Chain_HederaMainnet:
		client = hedera.ClientForMainnet()
	case types.Chain_HederaTestnet:
		client = hedera.ClientForTestnet()
	default:
		return nil, fmt.Errorf("chain %s is not a hedera chain", chain)
	}
	client.SetOperator(operatorID, operatorKey)
	return client, nil
}

func parsePrivateKey(raw string) (hedera.PrivateKey, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return hedera.PrivateKey{}, fmt.Errorf("private key cannot be empty")
	}
	if key, err := hedera.PrivateKeyFromStringEd25519(candidate); err == nil {
		return key, nil
	}
	if key, err := hedera.PrivateKeyFromStringECDSA(candidate); err == nil {
		return key, nil
	}
	key, err := hedera.PrivateKeyFromString(candidate)
	if err != nil {
		return hedera.PrivateKey{}, fmt.Errorf("failed to parse operator private key: %w", err)
	}
	return key, nil
}

type HederaHandler struct {
	chain     types.Chain
	submitter MessageSubmitter
	logger    *zap.Logger
}

// NewHederaHandler submits through a live client.
func NewHederaHandler(chain types.Chain, client *hedera.Client, logger *zap.Logger) (*HederaHandler, error) {
	if client == nil {
		return nil, fmt.Errorf("hedera client cannot be nil")
	}
	return NewHederaHandlerWithSubmitter(chain, &clientSubmitter{client: client}, logger)
}

func NewHederaHandlerWithSubmitter(chain types.Chain, submitter MessageSubmitter, logger *zap.Logger) (*HederaHandler, error) {
	if !chain.IsHedera() {
		return nil, fmt.Errorf("chain %s is not a hedera chain", chain)
	}
	if submitter == nil {
		return nil, fmt.Errorf("message submitter cannot be nil")
	}
	return &HederaHandler{chain: chain, submitter: submitter, logger: logger}, nil
}

// BuildSubmitMessageTx builds the topic message transaction for one anchoring.
// The recipient is the topic id.
func BuildSubmitMessageTx(recipient string, metadata string, root merkle.Hash) (*hedera.TopicMessageSubmitTransaction, error) {
	topicID, err := hedera.TopicIDFromString(strings.TrimSpace(recipient))
	if err != nil {
		return nil, fmt.Errorf("invalid topic ID: %w", err)
	}

	message, err := json.Marshal(AnchorMessage{
		Root:      hex.EncodeToString(root[:]),
		Recipient: topicID.String(),
		Metadata:  metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anchor message: %w", err)
	}

	return hedera.NewTopicMessageSubmitTransaction().
		SetTopicID(topicID).
		SetMessage(message).
		SetTransactionMemo(transactionMemo), nil
}

// IssueTransaction implements anchor.TransactionHandler.
func (h *HederaHandler) IssueTransaction(ctx context.Context, recipient string, metadata string, payload []byte) (string, error) {
	if len(payload) != merkle.HashSize {
		return "", fmt.Errorf("payload must be a %d byte merkle root, got %d bytes", merkle.HashSize, len(payload))
	}
	tx, err := BuildSubmitMessageTx(recipient, metadata, merkle.Hash(payload))
	if err != nil {
		return "", err
	}

	txid, err := h.submitter.Submit(ctx, tx)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", anchor.NewBroadcastError(h.chain.String(), err)
	}

	h.logger.Sugar().Infow("Submitted root to HCS topic",
		"chain", h.chain,
		"topic", recipient,
		"txid", txid,
	)
	return txid, nil
}
