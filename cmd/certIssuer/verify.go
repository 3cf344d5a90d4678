package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/certanchor/cert-issuer-go/pkg/batch"
	"github.com/certanchor/cert-issuer-go/pkg/logger"
	"github.com/certanchor/cert-issuer-go/pkg/proof"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/urfave/cli/v2"
)

var errCertificateMismatch = errors.New("certificate does not match its proof")

func runVerify(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	certPath := c.String("certificate")
	proofPath := c.String("proof")
	if proofPath == "" {
		proofPath = filepath.Join(filepath.Dir(certPath), batch.ProofFileName(filepath.Base(certPath)))
	}

	document, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}
	proofData, err := os.ReadFile(proofPath)
	if err != nil {
		return fmt.Errorf("failed to read proof: %w", err)
	}
	var p types.Proof
	if err := json.Unmarshal(proofData, &p); err != nil {
		return fmt.Errorf("failed to parse proof %s: %w", proofPath, err)
	}

	codec, err := proof.NewCodec()
	if err != nil {
		return err
	}
	verifier := proof.NewVerifier(codec, l)

	if rpcURL := c.String("rpc-url"); rpcURL != "" {
		value, err := codec.Decode(p.ProofValue)
		if err != nil {
			return err
		}
		if value.Anchor.Chain.IsEthereum() {
			closeCheckers, err := registerEthereumCheckers(c.Context, verifier, map[types.Chain]string{value.Anchor.Chain: rpcURL}, l)
			if err != nil {
				return err
			}
			defer closeCheckers()
		}
	}

	result, err := verifier.Verify(c.Context, &p, document)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))

	if !result.Valid() {
		return errCertificateMismatch
	}
	return nil
}
