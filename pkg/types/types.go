package types

import (
	"fmt"
	"strings"
)

const (
	// ProofType is the proof suite name carried in every issued proof
	ProofType = "MerkleProof2019"

	// ProofPurposeAssertion is the only proof purpose the issuer produces
	ProofPurposeAssertion = "assertionMethod"

	blinkScheme = "blink"
)

// Chain identifies the ledger an anchor transaction lives on.
type Chain string

func (c Chain) String() string {
	return string(c)
}

const (
	Chain_EthereumMainnet  Chain = "ethereum_mainnet"
	Chain_EthereumSepolia  Chain = "ethereum_sepolia"
	Chain_EthereumBloxberg Chain = "ethereum_bloxberg"
	Chain_EthereumAnvil    Chain = "ethereum_anvil"
	Chain_HederaMainnet    Chain = "hedera_mainnet"
	Chain_HederaTestnet    Chain = "hedera_testnet"
	Chain_Mock             Chain = "mockchain"
)

// blinkPrefixes maps a chain to the "<ledger>:<network>" part of its blink URI
var blinkPrefixes = map[Chain]string{
	Chain_EthereumMainnet:  "eth:mainnet",
	Chain_EthereumSepolia:  "eth:sepolia",
	Chain_EthereumBloxberg: "eth:bloxberg",
	Chain_EthereumAnvil:    "eth:devnet",
	Chain_HederaMainnet:    "hbar:mainnet",
	Chain_HederaTestnet:    "hbar:testnet",
	Chain_Mock:             "mock:local",
}

// IsEthereum reports whether the chain is an EVM network.
func (c Chain) IsEthereum() bool {
	return strings.HasPrefix(blinkPrefixes[c], "eth:")
}

// IsHedera reports whether the chain is a Hedera network.
func (c Chain) IsHedera() bool {
	return strings.HasPrefix(blinkPrefixes[c], "hbar:")
}

// ParseChain validates a chain name.
func ParseChain(name string) (Chain, error) {
	c := Chain(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := blinkPrefixes[c]; !ok {
		return "", fmt.Errorf("unsupported chain %q", name)
	}
	return c, nil
}

// SupportedChains returns all chains the issuer can anchor to.
func SupportedChains() []Chain {
	return []Chain{
		Chain_EthereumMainnet,
		Chain_EthereumSepolia,
		Chain_EthereumBloxberg,
		Chain_EthereumAnvil,
		Chain_HederaMainnet,
		Chain_HederaTestnet,
		Chain_Mock,
	}
}

// AnchorReference identifies the on-chain commitment of a batch.
// Two references are equal when chain and transaction id match.
type AnchorReference struct {
	Chain Chain  `json:"chain"`
	TxID  string `json:"txid"`
}

// Blink renders the reference as a blink URI, e.g. blink:eth:mainnet:0xabc
func (a AnchorReference) Blink() (string, error) {
	prefix, ok := blinkPrefixes[a.Chain]
	if !ok {
		return "", fmt.Errorf("unsupported chain %q", a.Chain)
	}
	if a.TxID == "" {
		return "", fmt.Errorf("anchor reference has empty transaction id")
	}
	return fmt.Sprintf("%s:%s:%s", blinkScheme, prefix, a.TxID), nil
}

// ParseBlink is the inverse of AnchorReference.Blink.
func ParseBlink(blink string) (AnchorReference, error) {
	parts := strings.SplitN(blink, ":", 4)
	if len(parts) != 4 || parts[0] != blinkScheme || parts[3] == "" {
		return AnchorReference{}, fmt.Errorf("invalid blink %q", blink)
	}

	prefix := parts[1] + ":" + parts[2]
	for chain, p := range blinkPrefixes {
		if p == prefix {
			return AnchorReference{Chain: chain, TxID: parts[3]}, nil
		}
	}
	return AnchorReference{}, fmt.Errorf("unknown blink network %q", prefix)
}

// Proof is the externally consumed proof object attached to a certificate.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	ProofValue         string `json:"proofValue"`
	ProofPurpose       string `json:"proofPurpose"`
	VerificationMethod string `json:"verificationMethod"`

	// ENSName is only set for smart contract issuance
	ENSName string `json:"ens_name,omitempty"`
}
