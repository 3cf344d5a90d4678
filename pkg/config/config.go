package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for issuer configuration
const (
	EnvChain                     = "CERT_ISSUER_CHAIN"
	EnvRecipientAddress          = "CERT_ISSUER_RECIPIENT_ADDRESS"
	EnvRPCURL                    = "CERT_ISSUER_RPC_URL"
	EnvIssuingMethod             = "CERT_ISSUER_ISSUING_METHOD"
	EnvTokenURI                  = "CERT_ISSUER_TOKEN_URI"
	EnvENSName                   = "CERT_ISSUER_ENS_NAME"
	EnvContractAddress           = "CERT_ISSUER_CONTRACT_ADDRESS"
	EnvVerificationMethod        = "CERT_ISSUER_VERIFICATION_METHOD"
	EnvUnsignedCertificatesDir   = "CERT_ISSUER_UNSIGNED_CERTIFICATES_DIR"
	EnvBlockchainCertificatesDir = "CERT_ISSUER_BLOCKCHAIN_CERTIFICATES_DIR"
	EnvMaxRetry                  = "CERT_ISSUER_MAX_RETRY"
	EnvSignerType                = "CERT_ISSUER_SIGNER_TYPE"
	EnvPrivateKey                = "CERT_ISSUER_PRIVATE_KEY"
	EnvAWSKMSKeyID               = "CERT_ISSUER_AWS_KMS_KEY_ID"
	EnvAWSRegion                 = "CERT_ISSUER_AWS_REGION"
	EnvHederaOperatorID          = "CERT_ISSUER_HEDERA_OPERATOR_ID"
	EnvHederaOperatorKey         = "CERT_ISSUER_HEDERA_OPERATOR_KEY"
	EnvPersistenceType           = "CERT_ISSUER_PERSISTENCE_TYPE"
	EnvDataDir                   = "CERT_ISSUER_DATA_DIR"
	EnvRedisAddress              = "CERT_ISSUER_REDIS_ADDRESS"
	EnvRedisPassword             = "CERT_ISSUER_REDIS_PASSWORD"
	EnvPort                      = "CERT_ISSUER_PORT"
	EnvDebug                     = "CERT_ISSUER_DEBUG"
	EnvConfigFile                = "CERT_ISSUER_CONFIG"
)

// DefaultTokenURI is sent as transaction metadata when none is configured
const DefaultTokenURI = "https://bloxberg.org"

type ChainId uint

const (
	ChainId_EthereumMainnet  ChainId = 1
	ChainId_EthereumSepolia  ChainId = 11155111
	ChainId_EthereumBloxberg ChainId = 8995
	ChainId_EthereumAnvil    ChainId = 31337
)

var ChainToChainId = map[types.Chain]ChainId{
	types.Chain_EthereumMainnet:  ChainId_EthereumMainnet,
	types.Chain_EthereumSepolia:  ChainId_EthereumSepolia,
	types.Chain_EthereumBloxberg: ChainId_EthereumBloxberg,
	types.Chain_EthereumAnvil:    ChainId_EthereumAnvil,
}

// GetChainIdForChain returns the EVM chain id of an Ethereum chain
func GetChainIdForChain(chain types.Chain) (ChainId, error) {
	id, ok := ChainToChainId[chain]
	if !ok {
		return 0, fmt.Errorf("chain %s has no EVM chain id", chain)
	}
	return id, nil
}

// GetReceiptTimeoutForChain returns how long to wait for an anchoring tx to be mined
func GetReceiptTimeoutForChain(chain types.Chain) time.Duration {
	switch chain {
	case types.Chain_EthereumMainnet:
		return 5 * time.Minute
	case types.Chain_EthereumSepolia, types.Chain_EthereumBloxberg:
		return 2 * time.Minute
	case types.Chain_EthereumAnvil:
		return 20 * time.Second
	default:
		return 2 * time.Minute
	}
}

type IssuingMethod string

const (
	IssuingMethod_Transaction   IssuingMethod = "transaction"
	IssuingMethod_SmartContract IssuingMethod = "smart_contract"
)

type SignerType string

const (
	SignerType_PrivateKey SignerType = "private_key"
	SignerType_AWSKMS     SignerType = "aws_kms"
)

type PersistenceType string

const (
	PersistenceType_Memory PersistenceType = "memory"
	PersistenceType_Badger PersistenceType = "badger"
	PersistenceType_Redis  PersistenceType = "redis"
	PersistenceType_SQLite PersistenceType = "sqlite"
)

// SignerConfig selects how Ethereum anchoring transactions are signed
type SignerConfig struct {
	Type       SignerType `json:"type" yaml:"type"`
	PrivateKey string     `json:"privateKey,omitempty" yaml:"privateKey,omitempty"`
	KMSKeyID   string     `json:"kmsKeyId,omitempty" yaml:"kmsKeyId,omitempty"`
	AWSRegion  string     `json:"awsRegion,omitempty" yaml:"awsRegion,omitempty"`
}

func (sc *SignerConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch sc.Type {
	case SignerType_PrivateKey:
		key := strings.TrimPrefix(sc.PrivateKey, "0x")
		if key == "" {
			allErrors = append(allErrors, field.Required(path.Child("privateKey"), "privateKey is required for private_key signer"))
		} else if len(key) != 64 {
			allErrors = append(allErrors, field.Invalid(path.Child("privateKey"), "<redacted>", "must be 32 bytes (64 hex chars)"))
		}
	case SignerType_AWSKMS:
		if sc.KMSKeyID == "" {
			allErrors = append(allErrors, field.Required(path.Child("kmsKeyId"), "kmsKeyId is required for aws_kms signer"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), sc.Type,
			[]string{string(SignerType_PrivateKey), string(SignerType_AWSKMS)}))
	}
	return allErrors
}

// HederaConfig holds the operator account paying for HCS messages
type HederaConfig struct {
	OperatorID  string `json:"operatorId" yaml:"operatorId"`
	OperatorKey string `json:"operatorKey" yaml:"operatorKey"`
}

func (hc *HederaConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	if hc.OperatorID == "" {
		allErrors = append(allErrors, field.Required(path.Child("operatorId"), "operatorId is required for hedera chains"))
	}
	if hc.OperatorKey == "" {
		allErrors = append(allErrors, field.Required(path.Child("operatorKey"), "operatorKey is required for hedera chains"))
	}
	return allErrors
}

// PersistenceConfig selects the batch record store
type PersistenceConfig struct {
	Type           PersistenceType `json:"type" yaml:"type"`
	DataDir        string          `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`
	RedisAddress   string          `json:"redisAddress,omitempty" yaml:"redisAddress,omitempty"`
	RedisPassword  string          `json:"redisPassword,omitempty" yaml:"redisPassword,omitempty"`
	RedisDB        int             `json:"redisDb,omitempty" yaml:"redisDb,omitempty"`
	RedisKeyPrefix string          `json:"redisKeyPrefix,omitempty" yaml:"redisKeyPrefix,omitempty"`
}

// Validate checks the persistence settings on their own
func (pc *PersistenceConfig) Validate() error {
	return pc.validate(field.NewPath("persistence")).ToAggregate()
}

func (pc *PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch pc.Type {
	case "", PersistenceType_Memory:
	case PersistenceType_Badger, PersistenceType_SQLite:
		if pc.DataDir == "" {
			allErrors = append(allErrors, field.Required(path.Child("dataDir"), fmt.Sprintf("dataDir is required for %s persistence", pc.Type)))
		}
	case PersistenceType_Redis:
		if pc.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(path.Child("redisAddress"), "redisAddress is required for redis persistence"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), pc.Type, []string{
			string(PersistenceType_Memory),
			string(PersistenceType_Badger),
			string(PersistenceType_Redis),
			string(PersistenceType_SQLite),
		}))
	}
	return allErrors
}

// IssuerConfig is the configuration of a single issuance run
type IssuerConfig struct {
	Chain            types.Chain `json:"chain" yaml:"chain"`
	RecipientAddress string      `json:"recipientAddress" yaml:"recipientAddress"` // anchor tx recipient, or HCS topic id on hedera
	RpcUrl           string      `json:"rpcUrl,omitempty" yaml:"rpcUrl,omitempty"`

	IssuingMethod      IssuingMethod `json:"issuingMethod" yaml:"issuingMethod"`
	TokenURI           string        `json:"tokenUri" yaml:"tokenUri"`
	ENSName            string        `json:"ensName,omitempty" yaml:"ensName,omitempty"`
	ContractAddress    string        `json:"contractAddress,omitempty" yaml:"contractAddress,omitempty"`
	VerificationMethod string        `json:"verificationMethod" yaml:"verificationMethod"`

	UnsignedCertificatesDir   string `json:"unsignedCertificatesDir" yaml:"unsignedCertificatesDir"`
	BlockchainCertificatesDir string `json:"blockchainCertificatesDir" yaml:"blockchainCertificatesDir"`
	ArchiveProofs             bool   `json:"archiveProofs" yaml:"archiveProofs"`

	MaxAttempts    int           `json:"maxAttempts" yaml:"maxAttempts"`
	InitialBackoff time.Duration `json:"initialBackoff" yaml:"initialBackoff"`
	ProofWorkers   int           `json:"proofWorkers" yaml:"proofWorkers"`

	Signer      SignerConfig      `json:"signer" yaml:"signer"`
	Hedera      HederaConfig      `json:"hedera" yaml:"hedera"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`

	Debug bool `json:"debug" yaml:"debug"`
}

// Validate validates the issuer configuration, reporting every problem at once
func (c *IssuerConfig) Validate() error {
	var allErrors field.ErrorList

	if _, err := types.ParseChain(c.Chain.String()); err != nil {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("chain"), c.Chain, chainNames()))
	}

	if c.RecipientAddress == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("recipientAddress"), "recipientAddress is required"))
	} else if c.Chain.IsEthereum() && !common.IsHexAddress(c.RecipientAddress) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("recipientAddress"), c.RecipientAddress, "must be a hex address"))
	}

	if c.Chain.IsEthereum() {
		if c.RpcUrl == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("rpcUrl"), "rpcUrl is required for ethereum chains"))
		}
		allErrors = append(allErrors, c.Signer.validate(field.NewPath("signer"))...)
	}
	if c.Chain.IsHedera() {
		allErrors = append(allErrors, c.Hedera.validate(field.NewPath("hedera"))...)
	}

	switch c.IssuingMethod {
	case "", IssuingMethod_Transaction:
	case IssuingMethod_SmartContract:
		if !c.Chain.IsEthereum() {
			allErrors = append(allErrors, field.Invalid(field.NewPath("issuingMethod"), c.IssuingMethod, "smart_contract issuance requires an ethereum chain"))
		}
		if !common.IsHexAddress(c.ContractAddress) {
			allErrors = append(allErrors, field.Invalid(field.NewPath("contractAddress"), c.ContractAddress, "must be a hex address"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("issuingMethod"), c.IssuingMethod,
			[]string{string(IssuingMethod_Transaction), string(IssuingMethod_SmartContract)}))
	}

	if c.UnsignedCertificatesDir == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("unsignedCertificatesDir"), "unsignedCertificatesDir is required"))
	}
	if c.BlockchainCertificatesDir == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("blockchainCertificatesDir"), "blockchainCertificatesDir is required"))
	}
	if c.MaxAttempts < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxAttempts"), c.MaxAttempts, "must be at least 1"))
	}
	if c.InitialBackoff < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("initialBackoff"), c.InitialBackoff.String(), "cannot be negative"))
	}

	allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// LoadIssuerConfigFile decodes a YAML file over base. Keys missing from the
// file keep base's values.
func LoadIssuerConfigFile(path string, base *IssuerConfig) (*IssuerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &IssuerConfig{}
	if base != nil {
		*cfg = *base
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ServerConfig configures the proof verification service
type ServerConfig struct {
	Port           int     `json:"port" yaml:"port"`
	RequestsPerSec float64 `json:"requestsPerSec" yaml:"requestsPerSec"`
	Burst          int     `json:"burst" yaml:"burst"`

	// RPC endpoints used to check anchors, keyed by chain
	RpcUrls map[types.Chain]string `json:"rpcUrls,omitempty" yaml:"rpcUrls,omitempty"`

	Debug bool `json:"debug" yaml:"debug"`
}

func (sc *ServerConfig) Validate() error {
	var allErrors field.ErrorList
	if sc.Port < 1 || sc.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), sc.Port, "must be between 1-65535"))
	}
	if sc.RequestsPerSec <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("requestsPerSec"), sc.RequestsPerSec, "must be positive"))
	}
	if sc.Burst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("burst"), sc.Burst, "must be at least 1"))
	}
	for chain := range sc.RpcUrls {
		if !chain.IsEthereum() {
			allErrors = append(allErrors, field.NotSupported(field.NewPath("rpcUrls").Key(chain.String()), chain, ethereumChainNames()))
		}
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

func chainNames() []string {
	chains := types.SupportedChains()
	names := make([]string, 0, len(chains))
	for _, c := range chains {
		names = append(names, c.String())
	}
	return names
}

func ethereumChainNames() []string {
	var names []string
	for _, c := range types.SupportedChains() {
		if c.IsEthereum() {
			names = append(names, c.String())
		}
	}
	return names
}

// GetSupportedChainsString returns supported chains for CLI help
func GetSupportedChainsString() string {
	return strings.Join(chainNames(), ", ")
}
