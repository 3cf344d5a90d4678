package transactionSigner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const defaultReceiptPollInterval = 2 * time.Second

var (
	fallbackGasTipCap = big.NewInt(1500000000) // 1.5 gwei
	baseFeeMultiplier = big.NewInt(2)
)

// digestSigner signs a 32 byte digest, returning [R || S || V] with V in {0, 1}
type digestSigner func(ctx context.Context, digest []byte) ([]byte, error)

// baseSigner holds the fee, nonce and receipt handling shared by all signers
type baseSigner struct {
	backend             EthBackend
	logger              *zap.Logger
	chainID             *big.Int
	fromAddress         common.Address
	sign                digestSigner
	receiptPollInterval time.Duration
}

func newBaseSigner(ctx context.Context, backend EthBackend, from common.Address, sign digestSigner, logger *zap.Logger) (*baseSigner, error) {
	if backend == nil {
		return nil, fmt.Errorf("ethereum backend cannot be nil")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return &baseSigner{
		backend:             backend,
		logger:              logger,
		chainID:             chainID,
		fromAddress:         from,
		sign:                sign,
		receiptPollInterval: defaultReceiptPollInterval,
	}, nil
}

// addGasBuffer adds 20% to an estimated gas limit
func addGasBuffer(gasLimit uint64) uint64 {
	return gasLimit + gasLimit/5
}

func (b *baseSigner) GetFromAddress() common.Address {
	return b.fromAddress
}

func (b *baseSigner) SignAndSendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil || tx.To() == nil {
		return nil, fmt.Errorf("transaction must have a recipient")
	}

	gasTipCap, err := b.backend.SuggestGasTipCap(ctx)
	if err != nil {
		// backend may not support eth_maxPriorityFeePerGas
		b.logger.Sugar().Warnw("SignAndSendTransaction: cannot get gasTipCap, using fallback", zap.Error(err))
		gasTipCap = fallbackGasTipCap
	}

	header, err := b.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	maxFeePerGas := new(big.Int).Add(new(big.Int).Mul(baseFee, baseFeeMultiplier), gasTipCap)

	gasLimit, err := b.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      b.fromAddress,
		To:        tx.To(),
		GasTipCap: gasTipCap,
		GasFeeCap: maxFeePerGas,
		Value:     tx.Value(),
		Data:      tx.Data(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	// always fetch, a template nonce of 0 is indistinguishable from "unset"
	nonce, err := b.backend.PendingNonceAt(ctx, b.fromAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: maxFeePerGas,
		Gas:       addGasBuffer(gasLimit),
		To:        tx.To(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	})

	signer := types.LatestSignerForChainID(b.chainID)
	sig, err := b.sign(ctx, signer.Hash(unsigned).Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	signedTx, err := unsigned.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}

	b.logger.Info("SignAndSendTransaction: sending transaction",
		zap.String("to", tx.To().Hex()),
		zap.String("maxPriorityFeePerGas", gasTipCap.String()),
		zap.String("maxFeePerGas", maxFeePerGas.String()),
		zap.Uint64("gasLimit", unsigned.Gas()),
		zap.Uint64("nonce", nonce),
	)

	if err := b.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	receipt, err := b.waitMined(ctx, signedTx.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction receipt: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		b.logger.Error("SignAndSendTransaction: transaction failed",
			zap.String("txHash", receipt.TxHash.Hex()),
			zap.Uint64("status", receipt.Status),
			zap.Uint64("gasUsed", receipt.GasUsed),
		)
		return nil, fmt.Errorf("%w: %s", ErrTransactionReverted, receipt.TxHash.Hex())
	}

	b.logger.Info("SignAndSendTransaction: transaction succeeded",
		zap.String("txHash", receipt.TxHash.Hex()),
		zap.Uint64("gasUsed", receipt.GasUsed),
	)
	return receipt, nil
}

func (b *baseSigner) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(b.receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := b.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			b.logger.Sugar().Debugw("Receipt lookup failed, retrying", "txHash", hash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
