// Package ethereumHandler anchors merkle roots on EVM chains, either as the
// data of a plain transaction or through a certificate registry contract.
package ethereumHandler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/certanchor/cert-issuer-go/pkg/anchor"
	"github.com/certanchor/cert-issuer-go/pkg/issuer"
	"github.com/certanchor/cert-issuer-go/pkg/merkle"
	"github.com/certanchor/cert-issuer-go/pkg/transactionSigner"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethereumTypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// CertificateRegistryABI is the registry entry point used in smart contract mode
const CertificateRegistryABI = `[{
	"type": "function",
	"name": "createCertificate",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "recipient", "type": "address"},
		{"name": "tokenURI", "type": "string"},
		{"name": "merkleRoot", "type": "bytes32"}
	],
	"outputs": [{"name": "", "type": "uint256"}]
}]`

const createCertificateMethod = "createCertificate"

var registryABI = mustParseABI(CertificateRegistryABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid registry ABI: %v", err))
	}
	return parsed
}

// ErrInvalidRecipient is returned for recipients that are not hex addresses
var ErrInvalidRecipient = errors.New("recipient is not a valid ethereum address")

type EthereumHandler struct {
	chain  types.Chain
	signer transactionSigner.ITransactionSigner
	mode   issuer.IssuanceMode
	logger *zap.Logger

	// attemptTimeout bounds one send-and-mine attempt, zero means unbounded
	attemptTimeout time.Duration
}

func NewEthereumHandler(chain types.Chain, signer transactionSigner.ITransactionSigner, mode issuer.IssuanceMode, logger *zap.Logger) (*EthereumHandler, error) {
	if !chain.IsEthereum() {
		return nil, fmt.Errorf("chain %s is not an ethereum chain", chain)
	}
	if signer == nil {
		return nil, fmt.Errorf("transaction signer cannot be nil")
	}
	if mode == nil {
		return nil, fmt.Errorf("issuance mode cannot be nil")
	}
	if sc, ok := mode.(issuer.SmartContractMode); ok && !common.IsHexAddress(sc.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", sc.ContractAddress)
	}
	return &EthereumHandler{
		chain:  chain,
		signer: signer,
		mode:   mode,
		logger: logger,
	}, nil
}

// WithAttemptTimeout bounds each IssueTransaction call. A timed out attempt is retryable.
func (h *EthereumHandler) WithAttemptTimeout(d time.Duration) *EthereumHandler {
	h.attemptTimeout = d
	return h
}

// ChecksumAddress validates recipient and returns its EIP-55 form.
func ChecksumAddress(recipient string) (common.Address, error) {
	if !common.IsHexAddress(recipient) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	return common.HexToAddress(recipient), nil
}

// BuildTransaction returns the unsigned template anchoring root to recipient.
func (h *EthereumHandler) BuildTransaction(recipient common.Address, metadata string, root merkle.Hash) (*ethereumTypes.Transaction, error) {
	switch m := h.mode.(type) {
	case issuer.TransactionMode:
		return ethereumTypes.NewTx(&ethereumTypes.DynamicFeeTx{
			To:    &recipient,
			Value: big.NewInt(0),
			Data:  root[:],
		}), nil
	case issuer.SmartContractMode:
		data, err := registryABI.Pack(createCertificateMethod, recipient, metadata, [32]byte(root))
		if err != nil {
			return nil, fmt.Errorf("failed to pack %s call: %w", createCertificateMethod, err)
		}
		contract := common.HexToAddress(m.ContractAddress)
		return ethereumTypes.NewTx(&ethereumTypes.DynamicFeeTx{
			To:    &contract,
			Value: big.NewInt(0),
			Data:  data,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported issuance mode %T", h.mode)
	}
}

// IssueTransaction implements anchor.TransactionHandler. Network failures are
// returned as *anchor.BroadcastError; bad input, signing failures and reverts are not.
func (h *EthereumHandler) IssueTransaction(ctx context.Context, recipient string, metadata string, payload []byte) (string, error) {
	to, err := ChecksumAddress(recipient)
	if err != nil {
		return "", err
	}
	if len(payload) != merkle.HashSize {
		return "", fmt.Errorf("payload must be a %d byte merkle root, got %d bytes", merkle.HashSize, len(payload))
	}
	root := merkle.Hash(payload)

	tx, err := h.BuildTransaction(to, metadata, root)
	if err != nil {
		return "", err
	}

	h.logger.Sugar().Infow("Anchoring merkle root",
		"chain", h.chain,
		"recipient", to.Hex(),
		"root", root.Hex(),
		"from", h.signer.GetFromAddress().Hex(),
	)

	attemptCtx := ctx
	if h.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, h.attemptTimeout)
		defer cancel()
	}

	receipt, err := h.signer.SignAndSendTransaction(attemptCtx, tx)
	if err != nil {
		if errors.Is(err, transactionSigner.ErrSigning) ||
			errors.Is(err, transactionSigner.ErrTransactionReverted) ||
			ctx.Err() != nil {
			return "", err
		}
		return "", anchor.NewBroadcastError(h.chain.String(), err)
	}

	return receipt.TxHash.Hex(), nil
}
