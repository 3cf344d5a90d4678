package main

import (
	"fmt"
	"log"
	"os"

	"github.com/certanchor/cert-issuer-go/pkg/anchor"
	"github.com/certanchor/cert-issuer-go/pkg/config"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "cert-issuer",
		Usage: "Anchor certificate batches on a blockchain and issue merkle proofs",
		Description: `Builds a merkle tree over a batch of certificates, anchors its root in a
single transaction and writes one MerkleProof2019 proof per certificate.

Supported chains: ` + config.GetSupportedChainsString(),
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvDebug},
			},
		},
		Commands: []*cli.Command{
			issueCommand(),
			verifyCommand(),
			serveCommand(),
		},
	}
}

func issueCommand() *cli.Command {
	return &cli.Command{
		Name:  "issue",
		Usage: "Issue proofs for every certificate in the unsigned directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML issuer config; flags set explicitly take precedence",
				EnvVars: []string{config.EnvConfigFile},
			},
			&cli.StringFlag{
				Name:    "chain",
				Usage:   fmt.Sprintf("Chain to anchor on: %s", config.GetSupportedChainsString()),
				EnvVars: []string{config.EnvChain},
			},
			&cli.StringFlag{
				Name:    "recipient-address",
				Usage:   "Anchor transaction recipient (HCS topic id on hedera)",
				EnvVars: []string{config.EnvRecipientAddress},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint URL",
				Value:   "http://localhost:8545",
				EnvVars: []string{config.EnvRPCURL},
			},
			&cli.StringFlag{
				Name:    "issuing-method",
				Usage:   "transaction or smart_contract",
				Value:   string(config.IssuingMethod_Transaction),
				EnvVars: []string{config.EnvIssuingMethod},
			},
			&cli.StringFlag{
				Name:    "token-uri",
				Usage:   "Metadata sent with the anchoring transaction",
				Value:   config.DefaultTokenURI,
				EnvVars: []string{config.EnvTokenURI},
			},
			&cli.StringFlag{
				Name:    "ens-name",
				Usage:   "Issuer ENS name added to proofs in smart_contract mode",
				EnvVars: []string{config.EnvENSName},
			},
			&cli.StringFlag{
				Name:    "contract-address",
				Usage:   "Certificate registry contract for smart_contract mode",
				EnvVars: []string{config.EnvContractAddress},
			},
			&cli.StringFlag{
				Name:    "verification-method",
				Usage:   "Verification method written into every proof",
				EnvVars: []string{config.EnvVerificationMethod},
			},
			&cli.StringFlag{
				Name:    "unsigned-certificates-dir",
				Usage:   "Directory of *.json certificates to issue",
				Value:   "./data/unsigned_certificates",
				EnvVars: []string{config.EnvUnsignedCertificatesDir},
			},
			&cli.StringFlag{
				Name:    "blockchain-certificates-dir",
				Usage:   "Directory for issued certificates and proofs",
				Value:   "./data/blockchain_certificates",
				EnvVars: []string{config.EnvBlockchainCertificatesDir},
			},
			&cli.BoolFlag{
				Name:  "archive-proofs",
				Usage: "Also write an xz-compressed archive of all proofs",
			},
			&cli.IntFlag{
				Name:    "max-retry",
				Usage:   "Total broadcast attempts",
				Value:   anchor.DefaultMaxAttempts,
				EnvVars: []string{config.EnvMaxRetry},
			},
			&cli.DurationFlag{
				Name:  "initial-backoff",
				Usage: "Wait after the first failed broadcast attempt",
				Value: anchor.DefaultInitialBackoff,
			},
			&cli.IntFlag{
				Name:  "proof-workers",
				Usage: "Concurrent proof encoders (0 uses GOMAXPROCS)",
			},
			&cli.StringFlag{
				Name:    "signer-type",
				Usage:   "private_key or aws_kms",
				Value:   string(config.SignerType_PrivateKey),
				EnvVars: []string{config.EnvSignerType},
			},
			&cli.StringFlag{
				Name:    "private-key",
				Usage:   "Hex private key for the private_key signer",
				EnvVars: []string{config.EnvPrivateKey},
			},
			&cli.StringFlag{
				Name:    "kms-key-id",
				Usage:   "AWS KMS key id for the aws_kms signer",
				EnvVars: []string{config.EnvAWSKMSKeyID},
			},
			&cli.StringFlag{
				Name:    "aws-region",
				Usage:   "AWS region override for the aws_kms signer",
				EnvVars: []string{config.EnvAWSRegion},
			},
			&cli.StringFlag{
				Name:    "hedera-operator-id",
				Usage:   "Hedera operator account id",
				EnvVars: []string{config.EnvHederaOperatorID},
			},
			&cli.StringFlag{
				Name:    "hedera-operator-key",
				Usage:   "Hedera operator private key",
				EnvVars: []string{config.EnvHederaOperatorKey},
			},
			persistenceTypeFlag(),
			dataDirFlag(),
			redisAddressFlag(),
			redisPasswordFlag(),
		},
		Action: runIssue,
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Verify a certificate against its proof",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "certificate",
				Usage:    "Path to the certificate document",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "proof",
				Usage: "Path to the proof JSON (defaults to <certificate>.proof.json)",
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint used to check the anchor transaction",
				EnvVars: []string{config.EnvRPCURL},
			},
		},
		Action: runVerify,
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the proof verification API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8080,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvPort},
			},
			&cli.Float64Flag{
				Name:  "requests-per-sec",
				Usage: "Sustained request rate",
				Value: 10,
			},
			&cli.IntFlag{
				Name:  "burst",
				Usage: "Request burst size",
				Value: 20,
			},
			&cli.StringSliceFlag{
				Name:  "rpc-url",
				Usage: "Anchor check endpoint as <chain>=<url>, may be repeated",
			},
			persistenceTypeFlag(),
			dataDirFlag(),
			redisAddressFlag(),
			redisPasswordFlag(),
		},
		Action: runServe,
	}
}

func persistenceTypeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "persistence-type",
		Usage:   "memory, badger, redis or sqlite",
		Value:   string(config.PersistenceType_Memory),
		EnvVars: []string{config.EnvPersistenceType},
	}
}

func dataDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "data-dir",
		Usage:   "Data directory for badger and sqlite persistence",
		Value:   "./data/db",
		EnvVars: []string{config.EnvDataDir},
	}
}

func redisAddressFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "redis-address",
		Usage:   "Redis address for redis persistence",
		Value:   "localhost:6379",
		EnvVars: []string{config.EnvRedisAddress},
	}
}

func redisPasswordFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "redis-password",
		Usage:   "Redis password",
		EnvVars: []string{config.EnvRedisPassword},
	}
}

func parsePersistenceConfig(c *cli.Context) config.PersistenceConfig {
	return config.PersistenceConfig{
		Type:          config.PersistenceType(c.String("persistence-type")),
		DataDir:       c.String("data-dir"),
		RedisAddress:  c.String("redis-address"),
		RedisPassword: c.String("redis-password"),
	}
}
