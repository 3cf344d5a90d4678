package transactionSigner

import (
	"context"
	"crypto/ecdsa"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmsTypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// KMSAPI is the subset of *kms.Client used for signing
type KMSAPI interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// secp256k1 group order
var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// ASN.1 structures of KMS public keys and signatures
type asn1EcSig struct {
	R asn1.RawValue
	S asn1.RawValue
}

type asn1EcPublicKey struct {
	EcPublicKeyInfo asn1EcPublicKeyInfo
	PublicKey       asn1.BitString
}

type asn1EcPublicKeyInfo struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

// KMSSigner signs with an ECC_SECG_P256K1 key that never leaves AWS KMS
type KMSSigner struct {
	*baseSigner
	kmsClient KMSAPI
	keyId     string
	publicKey *ecdsa.PublicKey
}

func NewKMSSigner(ctx context.Context, kmsClient KMSAPI, keyId string, backend EthBackend, logger *zap.Logger) (*KMSSigner, error) {
	if keyId == "" {
		return nil, fmt.Errorf("kms key id cannot be empty")
	}

	out, err := kmsClient.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(keyId)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get public key for key %s", keyId)
	}
	publicKey, err := parseECDSAPublicKey(out.PublicKey)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse public key for key %s", keyId)
	}

	s := &KMSSigner{
		kmsClient: kmsClient,
		keyId:     keyId,
		publicKey: publicKey,
	}
	base, err := newBaseSigner(ctx, backend, crypto.PubkeyToAddress(*publicKey), s.signDigest, logger)
	if err != nil {
		return nil, err
	}
	s.baseSigner = base

	logger.Sugar().Infow("KMS signer ready", "keyId", keyId, "address", s.fromAddress.Hex())
	return s, nil
}

// parseECDSAPublicKey parses the DER-encoded public key from KMS
func parseECDSAPublicKey(derBytes []byte) (*ecdsa.PublicKey, error) {
	var asn1pubk asn1EcPublicKey
	if _, err := asn1.Unmarshal(derBytes, &asn1pubk); err != nil {
		return nil, fmt.Errorf("failed to parse ASN.1 public key: %w", err)
	}
	return crypto.UnmarshalPubkey(asn1pubk.PublicKey.Bytes)
}

// signDigest asks KMS for a DER signature and converts it to the [R || S || V]
// form go-ethereum expects, with S in the lower half of the curve order.
func (s *KMSSigner) signDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("hash must be exactly 32 bytes, got %d", len(digest))
	}

	out, err := s.kmsClient.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyId),
		Message:          digest,
		SigningAlgorithm: kmsTypes.SigningAlgorithmSpecEcdsaSha256,
		MessageType:      kmsTypes.MessageTypeDigest,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "kms sign with key %s", s.keyId)
	}

	var sigAsn1 asn1EcSig
	if _, err := asn1.Unmarshal(out.Signature, &sigAsn1); err != nil {
		return nil, errors.Wrap(err, "failed to parse ASN.1 signature")
	}

	r := new(big.Int).SetBytes(sigAsn1.R.Bytes)
	sv := new(big.Int).SetBytes(sigAsn1.S.Bytes)
	if sv.Cmp(secp256k1HalfN) > 0 {
		sv = new(big.Int).Sub(secp256k1N, sv)
	}

	signature := make([]byte, 65)
	r.FillBytes(signature[0:32])
	sv.FillBytes(signature[32:64])

	for recoveryId := byte(0); recoveryId < 2; recoveryId++ {
		signature[64] = recoveryId

		recovered, err := crypto.SigToPub(digest, signature)
		if err != nil {
			s.logger.Debug("Ecrecover failed", zap.Uint8("recoveryId", recoveryId), zap.Error(err))
			continue
		}
		if recovered.X.Cmp(s.publicKey.X) == 0 && recovered.Y.Cmp(s.publicKey.Y) == 0 {
			return signature, nil
		}
	}

	return nil, fmt.Errorf("could not determine valid recovery ID - signature recovery failed")
}
