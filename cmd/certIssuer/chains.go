package main

import (
	"context"
	"fmt"

	"github.com/certanchor/cert-issuer-go/pkg/anchor"
	"github.com/certanchor/cert-issuer-go/pkg/config"
	"github.com/certanchor/cert-issuer-go/pkg/issuer"
	"github.com/certanchor/cert-issuer-go/pkg/proof"
	"github.com/certanchor/cert-issuer-go/pkg/transactionHandler/ethereumHandler"
	"github.com/certanchor/cert-issuer-go/pkg/transactionHandler/hederaHandler"
	"github.com/certanchor/cert-issuer-go/pkg/transactionHandler/mockHandler"
	"github.com/certanchor/cert-issuer-go/pkg/transactionSigner"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// dialEthereum connects to rpcURL and checks it serves the expected chain
func dialEthereum(ctx context.Context, chain types.Chain, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}

	expected, err := config.GetChainIdForChain(chain)
	if err != nil {
		client.Close()
		return nil, err
	}
	actual, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if actual.Uint64() != uint64(expected) {
		client.Close()
		return nil, fmt.Errorf("rpc %s serves chain id %s, expected %d for %s", rpcURL, actual, expected, chain)
	}
	return client, nil
}

// newTransactionHandler builds the handler for cfg.Chain. The returned func releases its connections.
func newTransactionHandler(
	ctx context.Context,
	cfg *config.IssuerConfig,
	mode issuer.IssuanceMode,
	l *zap.Logger,
) (anchor.TransactionHandler, func(), error) {
	switch {
	case cfg.Chain == types.Chain_Mock:
		l.Sugar().Warnw("Anchoring on the in-process mock chain, proofs will not verify elsewhere")
		return mockHandler.NewMockHandler(0, l), func() {}, nil

	case cfg.Chain.IsHedera():
		client, err := hederaHandler.NewHederaClient(cfg.Chain, &cfg.Hedera)
		if err != nil {
			return nil, nil, err
		}
		h, err := hederaHandler.NewHederaHandler(cfg.Chain, client, l)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return h, func() { _ = client.Close() }, nil

	case cfg.Chain.IsEthereum():
		client, err := dialEthereum(ctx, cfg.Chain, cfg.RpcUrl)
		if err != nil {
			return nil, nil, err
		}
		signer, err := transactionSigner.NewTransactionSigner(ctx, &cfg.Signer, client, l)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to create transaction signer: %w", err)
		}
		h, err := ethereumHandler.NewEthereumHandler(cfg.Chain, signer, mode, l)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		h.WithAttemptTimeout(config.GetReceiptTimeoutForChain(cfg.Chain))

		l.Sugar().Infow("Using ethereum signer",
			"chain", cfg.Chain,
			"signerType", cfg.Signer.Type,
			"from", signer.GetFromAddress().Hex(),
		)
		return h, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported chain %q", cfg.Chain)
	}
}

// registerEthereumCheckers dials every configured rpc url and registers an anchor checker for it.
func registerEthereumCheckers(ctx context.Context, verifier *proof.Verifier, rpcUrls map[types.Chain]string, l *zap.Logger) (func(), error) {
	var clients []*ethclient.Client
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	for chain, url := range rpcUrls {
		client, err := dialEthereum(ctx, chain, url)
		if err != nil {
			closeAll()
			return nil, err
		}
		clients = append(clients, client)
		verifier.RegisterAnchorChecker(chain, ethereumHandler.NewAnchorChecker(client, l))
		l.Sugar().Infow("Registered anchor checker", "chain", chain, "rpcUrl", url)
	}
	return closeAll, nil
}
