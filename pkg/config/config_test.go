package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEthereumConfig() *IssuerConfig {
	return &IssuerConfig{
		Chain:                     types.Chain_EthereumSepolia,
		RecipientAddress:          "0x1234567890123456789012345678901234567890",
		RpcUrl:                    "http://localhost:8545",
		IssuingMethod:             IssuingMethod_Transaction,
		TokenURI:                  DefaultTokenURI,
		VerificationMethod:        "did:example:issuer#key-1",
		UnsignedCertificatesDir:   "/data/unsigned",
		BlockchainCertificatesDir: "/data/blockchain",
		MaxAttempts:               5,
		Signer: SignerConfig{
			Type:       SignerType_PrivateKey,
			PrivateKey: "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		},
		Persistence: PersistenceConfig{Type: PersistenceType_Memory},
	}
}

func TestIssuerConfigValidate(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(c *IssuerConfig)
		expectErr string
	}{
		{name: "valid ethereum config", mutate: func(c *IssuerConfig) {}},
		{
			name:      "unsupported chain",
			mutate:    func(c *IssuerConfig) { c.Chain = "bitcoin_mainnet" },
			expectErr: "chain",
		},
		{
			name:      "missing recipient",
			mutate:    func(c *IssuerConfig) { c.RecipientAddress = "" },
			expectErr: "recipientAddress",
		},
		{
			name:      "invalid recipient",
			mutate:    func(c *IssuerConfig) { c.RecipientAddress = "not-an-address" },
			expectErr: "recipientAddress",
		},
		{
			name:      "missing rpc url",
			mutate:    func(c *IssuerConfig) { c.RpcUrl = "" },
			expectErr: "rpcUrl",
		},
		{
			name:      "short private key",
			mutate:    func(c *IssuerConfig) { c.Signer.PrivateKey = "0x1234" },
			expectErr: "signer.privateKey",
		},
		{
			name: "kms signer without key id",
			mutate: func(c *IssuerConfig) {
				c.Signer = SignerConfig{Type: SignerType_AWSKMS}
			},
			expectErr: "signer.kmsKeyId",
		},
		{
			name:      "unknown signer",
			mutate:    func(c *IssuerConfig) { c.Signer.Type = "ledger" },
			expectErr: "signer.type",
		},
		{
			name: "smart contract without address",
			mutate: func(c *IssuerConfig) {
				c.IssuingMethod = IssuingMethod_SmartContract
			},
			expectErr: "contractAddress",
		},
		{
			name: "smart contract valid",
			mutate: func(c *IssuerConfig) {
				c.IssuingMethod = IssuingMethod_SmartContract
				c.ContractAddress = "0x00000000000000000000000000000000000000c0"
			},
		},
		{
			name:      "unknown issuing method",
			mutate:    func(c *IssuerConfig) { c.IssuingMethod = "nft" },
			expectErr: "issuingMethod",
		},
		{
			name:      "zero attempts",
			mutate:    func(c *IssuerConfig) { c.MaxAttempts = 0 },
			expectErr: "maxAttempts",
		},
		{
			name:      "negative backoff",
			mutate:    func(c *IssuerConfig) { c.InitialBackoff = -time.Second },
			expectErr: "initialBackoff",
		},
		{
			name:      "missing output dir",
			mutate:    func(c *IssuerConfig) { c.BlockchainCertificatesDir = "" },
			expectErr: "blockchainCertificatesDir",
		},
		{
			name:      "badger without data dir",
			mutate:    func(c *IssuerConfig) { c.Persistence = PersistenceConfig{Type: PersistenceType_Badger} },
			expectErr: "persistence.dataDir",
		},
		{
			name:      "redis without address",
			mutate:    func(c *IssuerConfig) { c.Persistence = PersistenceConfig{Type: PersistenceType_Redis} },
			expectErr: "persistence.redisAddress",
		},
		{
			name:      "unknown persistence",
			mutate:    func(c *IssuerConfig) { c.Persistence = PersistenceConfig{Type: "postgres"} },
			expectErr: "persistence.type",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validEthereumConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.expectErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectErr)
		})
	}
}

func TestIssuerConfigReportsAllErrors(t *testing.T) {
	cfg := &IssuerConfig{Chain: types.Chain_EthereumMainnet}
	err := cfg.Validate()
	require.Error(t, err)

	for _, f := range []string{"recipientAddress", "rpcUrl", "signer.type", "unsignedCertificatesDir", "maxAttempts"} {
		assert.Contains(t, err.Error(), f)
	}
}

func TestHederaConfigValidate(t *testing.T) {
	cfg := &IssuerConfig{
		Chain:                     types.Chain_HederaTestnet,
		RecipientAddress:          "0.0.4242",
		UnsignedCertificatesDir:   "/in",
		BlockchainCertificatesDir: "/out",
		MaxAttempts:               3,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hedera.operatorId")
	assert.NotContains(t, err.Error(), "rpcUrl")
	assert.NotContains(t, err.Error(), "recipientAddress")

	cfg.Hedera = HederaConfig{OperatorID: "0.0.2", OperatorKey: "302e020100300506032b657004220420"}
	assert.NoError(t, cfg.Validate())

	cfg.IssuingMethod = IssuingMethod_SmartContract
	cfg.ContractAddress = "0x00000000000000000000000000000000000000c0"
	assert.Error(t, cfg.Validate())
}

func TestMockChainConfig(t *testing.T) {
	cfg := &IssuerConfig{
		Chain:                     types.Chain_Mock,
		RecipientAddress:          "anyone",
		UnsignedCertificatesDir:   "/in",
		BlockchainCertificatesDir: "/out",
		MaxAttempts:               1,
	}
	assert.NoError(t, cfg.Validate())
}

func TestGetChainIdForChain(t *testing.T) {
	id, err := GetChainIdForChain(types.Chain_EthereumBloxberg)
	require.NoError(t, err)
	assert.Equal(t, ChainId_EthereumBloxberg, id)

	_, err = GetChainIdForChain(types.Chain_HederaMainnet)
	assert.Error(t, err)

	for _, chain := range types.SupportedChains() {
		if chain.IsEthereum() {
			_, err := GetChainIdForChain(chain)
			assert.NoError(t, err, "chain %s", chain)
		}
	}
}

func TestServerConfigValidate(t *testing.T) {
	cfg := &ServerConfig{Port: 8080, RequestsPerSec: 10, Burst: 20}
	assert.NoError(t, cfg.Validate())

	cfg.RpcUrls = map[types.Chain]string{types.Chain_HederaMainnet: "http://x"}
	assert.Error(t, cfg.Validate())

	cfg = &ServerConfig{Port: 0, RequestsPerSec: 0, Burst: 0}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "requestsPerSec")
	assert.Contains(t, err.Error(), "burst")
}

func TestGetReceiptTimeoutForChain(t *testing.T) {
	assert.Greater(t, GetReceiptTimeoutForChain(types.Chain_EthereumMainnet), GetReceiptTimeoutForChain(types.Chain_EthereumAnvil))
}

func TestLoadIssuerConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issuer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
chain: ethereum_bloxberg
recipientAddress: "0x1234567890123456789012345678901234567890"
issuingMethod: smart_contract
contractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
ensName: issuer.eth
initialBackoff: 3s
signer:
  type: aws_kms
  kmsKeyId: alias/issuer
persistence:
  type: sqlite
  dataDir: /var/lib/cert-issuer
`), 0o644))

	cfg, err := LoadIssuerConfigFile(path, validEthereumConfig())
	require.NoError(t, err)

	assert.Equal(t, types.Chain_EthereumBloxberg, cfg.Chain)
	assert.Equal(t, IssuingMethod_SmartContract, cfg.IssuingMethod)
	assert.Equal(t, "issuer.eth", cfg.ENSName)
	assert.Equal(t, 3*time.Second, cfg.InitialBackoff)
	assert.Equal(t, SignerType_AWSKMS, cfg.Signer.Type)
	assert.Equal(t, "alias/issuer", cfg.Signer.KMSKeyID)
	assert.Equal(t, PersistenceType_SQLite, cfg.Persistence.Type)
	// untouched keys keep the base values
	assert.Equal(t, "http://localhost:8545", cfg.RpcUrl)
	assert.Equal(t, DefaultTokenURI, cfg.TokenURI)
	assert.NoError(t, cfg.Validate())

	_, err = LoadIssuerConfigFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("chain: [unterminated"), 0o644))
	_, err = LoadIssuerConfigFile(bad, nil)
	assert.Error(t, err)
}
