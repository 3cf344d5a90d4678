package issuer

import (
	"fmt"

	"github.com/certanchor/cert-issuer-go/pkg/types"
)

// AnchorMetadataProvider supplies the per-mode parts of an issuance: the
// metadata string sent with the anchoring transaction and any extra fields
// attached to every proof.
type AnchorMetadataProvider interface {
	TransactionMetadata() string
	DecorateProof(p *types.Proof)
}

// IssuanceMode selects how a root is anchored. Implemented by
// TransactionMode and SmartContractMode only.
type IssuanceMode interface {
	AnchorMetadataProvider
	isIssuanceMode()
}

// TransactionMode anchors the root as the data of a plain transaction.
type TransactionMode struct {
	TokenURI string
}

func (TransactionMode) isIssuanceMode() {}

func (m TransactionMode) TransactionMetadata() string {
	return m.TokenURI
}

func (TransactionMode) DecorateProof(*types.Proof) {}

// SmartContractMode anchors the root through a certificate registry contract.
type SmartContractMode struct {
	TokenURI        string
	ENSName         string
	ContractAddress string
}

func (SmartContractMode) isIssuanceMode() {}

func (m SmartContractMode) TransactionMetadata() string {
	return m.TokenURI
}

// DecorateProof sets the issuer's ENS name so verifiers can resolve the contract.
func (m SmartContractMode) DecorateProof(p *types.Proof) {
	if m.ENSName != "" {
		p.ENSName = m.ENSName
	}
}

// ModeFromConfig picks the issuance mode from the configured issuing method.
func ModeFromConfig(method, tokenURI, ensName, contractAddress string) (IssuanceMode, error) {
	switch method {
	case "", "transaction":
		return TransactionMode{TokenURI: tokenURI}, nil
	case "smart_contract":
		if contractAddress == "" {
			return nil, fmt.Errorf("smart contract issuance requires a contract address")
		}
		return SmartContractMode{
			TokenURI:        tokenURI,
			ENSName:         ensName,
			ContractAddress: contractAddress,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported issuing method %q", method)
	}
}
