package transactionSigner

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// PrivateKeySigner signs with a hex private key held in memory
type PrivateKeySigner struct {
	*baseSigner
	privateKey *ecdsa.PrivateKey
}

func NewPrivateKeySigner(ctx context.Context, privateKeyHex string, backend EthBackend, logger *zap.Logger) (*PrivateKeySigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	s := &PrivateKeySigner{privateKey: privateKey}
	base, err := newBaseSigner(ctx, backend, crypto.PubkeyToAddress(privateKey.PublicKey), s.signDigest, logger)
	if err != nil {
		return nil, err
	}
	s.baseSigner = base
	return s, nil
}

func (s *PrivateKeySigner) signDigest(_ context.Context, digest []byte) ([]byte, error) {
	return crypto.Sign(digest, s.privateKey)
}
