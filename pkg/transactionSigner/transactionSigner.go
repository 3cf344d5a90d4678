package transactionSigner

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	internalAws "github.com/certanchor/cert-issuer-go/internal/aws"
	"github.com/certanchor/cert-issuer-go/pkg/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

var (
	// ErrSigning is returned when a transaction could not be signed. It is not transient.
	ErrSigning = errors.New("failed to sign transaction")

	// ErrTransactionReverted is returned when an anchoring transaction was mined but failed
	ErrTransactionReverted = errors.New("transaction reverted")
)

// ITransactionSigner provides methods for signing Ethereum transactions
type ITransactionSigner interface {
	// SignAndSendTransaction fills in nonce, fees and gas for the unsigned
	// template tx, signs it, sends it and waits for a successful receipt
	SignAndSendTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

	// GetFromAddress returns the address that will be used for signing
	GetFromAddress() common.Address
}

// EthBackend is the RPC surface needed to send transactions. *ethclient.Client implements it.
type EthBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// NewTransactionSigner builds the signer selected by cfg.Type.
func NewTransactionSigner(ctx context.Context, cfg *config.SignerConfig, backend EthBackend, logger *zap.Logger) (ITransactionSigner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("signer config cannot be nil")
	}

	switch cfg.Type {
	case config.SignerType_PrivateKey:
		if cfg.PrivateKey == "" {
			return nil, fmt.Errorf("private key cannot be empty")
		}
		return NewPrivateKeySigner(ctx, cfg.PrivateKey, backend, logger)
	case config.SignerType_AWSKMS:
		awsCfg, err := internalAws.LoadAWSConfig(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		if identity, err := internalAws.GetCallerIdentity(ctx, awsCfg); err != nil {
			logger.Sugar().Warnw("Could not determine AWS caller identity", "error", err)
		} else {
			logger.Sugar().Infow("Using AWS identity for KMS signing", "arn", identity)
		}
		return NewKMSSigner(ctx, kms.NewFromConfig(awsCfg), cfg.KMSKeyID, backend, logger)
	default:
		return nil, fmt.Errorf("unsupported signer type %q", cfg.Type)
	}
}
