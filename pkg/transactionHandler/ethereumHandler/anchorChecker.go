package ethereumHandler

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethereumTypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ChainReader is the read side of an ethereum client. *ethclient.Client implements it.
type ChainReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethereumTypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethereumTypes.Receipt, error)
}

// AnchorChecker confirms that a mined transaction commits to a merkle root.
type AnchorChecker struct {
	client ChainReader
	logger *zap.Logger
}

func NewAnchorChecker(client ChainReader, logger *zap.Logger) *AnchorChecker {
	return &AnchorChecker{client: client, logger: logger}
}

// CheckAnchor reports false for unknown, pending or failed transactions.
func (c *AnchorChecker) CheckAnchor(ctx context.Context, ref types.AnchorReference, root merkle.Hash) (bool, error) {
	if !ref.Chain.IsEthereum() {
		return false, fmt.Errorf("chain %s is not an ethereum chain", ref.Chain)
	}
	hash := common.HexToHash(ref.TxID)

	tx, pending, err := c.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get transaction %s: %w", ref.TxID, err)
	}
	if pending {
		c.logger.Sugar().Debugw("Anchor transaction still pending", "txid", ref.TxID)
		return false, nil
	}

	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("failed to get receipt %s: %w", ref.TxID, err)
	}
	if receipt.Status != ethereumTypes.ReceiptStatusSuccessful {
		return false, nil
	}

	return dataCommitsTo(tx.Data(), root), nil
}

// dataCommitsTo matches both raw root data and createCertificate calldata
func dataCommitsTo(data []byte, root merkle.Hash) bool {
	if bytes.Equal(data, root[:]) {
		return true
	}

	method := registryABI.Methods[createCertificateMethod]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return false
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 3 {
		return false
	}
	committed, ok := args[2].([32]byte)
	return ok && committed == root
}
