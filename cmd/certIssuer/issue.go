package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/certanchor/cert-issuer-go/pkg/anchor"
	"github.com/certanchor/cert-issuer-go/pkg/batch"
	"github.com/certanchor/cert-issuer-go/pkg/config"
	"github.com/certanchor/cert-issuer-go/pkg/issuer"
	"github.com/certanchor/cert-issuer-go/pkg/logger"
	"github.com/certanchor/cert-issuer-go/pkg/persistence/factory"
	"github.com/certanchor/cert-issuer-go/pkg/proof"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func runIssue(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	cfg, err := parseIssuerConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := factory.NewPersistence(&cfg.Persistence, l)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}
	defer func() { _ = store.Close() }()

	mode, err := issuer.ModeFromConfig(string(cfg.IssuingMethod), cfg.TokenURI, cfg.ENSName, cfg.ContractAddress)
	if err != nil {
		return err
	}

	handler, closeHandler, err := newTransactionHandler(ctx, cfg, mode, l)
	if err != nil {
		return fmt.Errorf("failed to create transaction handler: %w", err)
	}
	defer closeHandler()

	broadcaster, err := anchor.NewBroadcaster(handler, &anchor.BroadcasterConfig{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     anchor.DefaultMaxBackoff,
	}, l)
	if err != nil {
		return err
	}

	batchHandler, err := batch.NewDirectoryBatchHandler(&batch.DirectoryConfig{
		UnsignedDir: cfg.UnsignedCertificatesDir,
		OutputDir:   cfg.BlockchainCertificatesDir,
	}, store, l)
	if err != nil {
		return err
	}

	codec, err := proof.NewCodec()
	if err != nil {
		return err
	}

	iss, err := issuer.NewIssuer(batchHandler, broadcaster, codec, mode, l)
	if err != nil {
		return err
	}

	if err := issueBatch(ctx, cfg, iss, batchHandler, l); err != nil {
		if failErr := batchHandler.FailBatch(err); failErr != nil {
			l.Sugar().Warnw("Failed to record batch failure", "batchId", batchHandler.BatchID(), "error", failErr)
		}
		return err
	}
	return nil
}

func issueBatch(ctx context.Context, cfg *config.IssuerConfig, iss *issuer.Issuer, batchHandler *batch.DirectoryBatchHandler, l *zap.Logger) error {
	txid, err := iss.Issue(ctx, cfg.Chain, cfg.RecipientAddress)
	if err != nil {
		return err
	}

	root, err := iss.Root()
	if err != nil {
		return err
	}

	proofs, err := iss.GenerateProofs(ctx, txid, cfg.Chain, cfg.VerificationMethod, cfg.ProofWorkers)
	if err != nil {
		return fmt.Errorf("failed to generate proofs: %w", err)
	}

	if err := batchHandler.CompleteBatch(ctx, root, proofs); err != nil {
		return fmt.Errorf("failed to write certificates: %w", err)
	}

	if cfg.ArchiveProofs {
		path, err := batchHandler.ArchiveProofs()
		if err != nil {
			return fmt.Errorf("failed to archive proofs: %w", err)
		}
		l.Sugar().Infow("Wrote proof archive", "path", path)
	}

	l.Sugar().Infow("Batch issued",
		"batchId", batchHandler.BatchID(),
		"chain", cfg.Chain,
		"txid", txid,
		"merkleRoot", root.Hex(),
		"certificates", len(proofs),
	)
	return nil
}

func parseIssuerConfig(c *cli.Context) (*config.IssuerConfig, error) {
	cfg := issuerConfigFromFlags(c)

	path := c.String("config")
	if path == "" {
		return cfg, nil
	}

	fileCfg, err := config.LoadIssuerConfigFile(path, cfg)
	if err != nil {
		return nil, err
	}
	applySetFlags(c, fileCfg, cfg)
	return fileCfg, nil
}

func issuerConfigFromFlags(c *cli.Context) *config.IssuerConfig {
	return &config.IssuerConfig{
		Chain:                     types.Chain(strings.ToLower(strings.TrimSpace(c.String("chain")))),
		RecipientAddress:          c.String("recipient-address"),
		RpcUrl:                    c.String("rpc-url"),
		IssuingMethod:             config.IssuingMethod(c.String("issuing-method")),
		TokenURI:                  c.String("token-uri"),
		ENSName:                   c.String("ens-name"),
		ContractAddress:           c.String("contract-address"),
		VerificationMethod:        c.String("verification-method"),
		UnsignedCertificatesDir:   c.String("unsigned-certificates-dir"),
		BlockchainCertificatesDir: c.String("blockchain-certificates-dir"),
		ArchiveProofs:             c.Bool("archive-proofs"),
		MaxAttempts:               c.Int("max-retry"),
		InitialBackoff:            c.Duration("initial-backoff"),
		ProofWorkers:              c.Int("proof-workers"),
		Signer: config.SignerConfig{
			Type:       config.SignerType(c.String("signer-type")),
			PrivateKey: c.String("private-key"),
			KMSKeyID:   c.String("kms-key-id"),
			AWSRegion:  c.String("aws-region"),
		},
		Hedera: config.HederaConfig{
			OperatorID:  c.String("hedera-operator-id"),
			OperatorKey: c.String("hedera-operator-key"),
		},
		Persistence: parsePersistenceConfig(c),
		Debug:       c.Bool("verbose"),
	}
}

func override[T any](c *cli.Context, name string, dst *T, src T) {
	if c.IsSet(name) {
		*dst = src
	}
}

// applySetFlags copies explicitly set flags from flags onto cfg
func applySetFlags(c *cli.Context, cfg, flags *config.IssuerConfig) {
	override(c, "chain", &cfg.Chain, flags.Chain)
	override(c, "recipient-address", &cfg.RecipientAddress, flags.RecipientAddress)
	override(c, "rpc-url", &cfg.RpcUrl, flags.RpcUrl)
	override(c, "issuing-method", &cfg.IssuingMethod, flags.IssuingMethod)
	override(c, "token-uri", &cfg.TokenURI, flags.TokenURI)
	override(c, "ens-name", &cfg.ENSName, flags.ENSName)
	override(c, "contract-address", &cfg.ContractAddress, flags.ContractAddress)
	override(c, "verification-method", &cfg.VerificationMethod, flags.VerificationMethod)
	override(c, "unsigned-certificates-dir", &cfg.UnsignedCertificatesDir, flags.UnsignedCertificatesDir)
	override(c, "blockchain-certificates-dir", &cfg.BlockchainCertificatesDir, flags.BlockchainCertificatesDir)
	override(c, "archive-proofs", &cfg.ArchiveProofs, flags.ArchiveProofs)
	override(c, "max-retry", &cfg.MaxAttempts, flags.MaxAttempts)
	override(c, "initial-backoff", &cfg.InitialBackoff, flags.InitialBackoff)
	override(c, "proof-workers", &cfg.ProofWorkers, flags.ProofWorkers)
	override(c, "signer-type", &cfg.Signer.Type, flags.Signer.Type)
	override(c, "private-key", &cfg.Signer.PrivateKey, flags.Signer.PrivateKey)
	override(c, "kms-key-id", &cfg.Signer.KMSKeyID, flags.Signer.KMSKeyID)
	override(c, "aws-region", &cfg.Signer.AWSRegion, flags.Signer.AWSRegion)
	override(c, "hedera-operator-id", &cfg.Hedera.OperatorID, flags.Hedera.OperatorID)
	override(c, "hedera-operator-key", &cfg.Hedera.OperatorKey, flags.Hedera.OperatorKey)
	override(c, "persistence-type", &cfg.Persistence.Type, flags.Persistence.Type)
	override(c, "data-dir", &cfg.Persistence.DataDir, flags.Persistence.DataDir)
	override(c, "redis-address", &cfg.Persistence.RedisAddress, flags.Persistence.RedisAddress)
	override(c, "redis-password", &cfg.Persistence.RedisPassword, flags.Persistence.RedisPassword)
	override(c, "verbose", &cfg.Debug, flags.Debug)
}
