package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/certanchor/cert-issuer-go/pkg/batch"
	"github.com/certanchor/cert-issuer-go/pkg/proof"
	"github.com/certanchor/cert-issuer-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCertificates(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		doc := []byte(`{"recipient":"` + name + `","badge":"course"}`)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), doc, 0o644))
	}
}

func TestIssueAndVerify_MockChain(t *testing.T) {
	unsigned := t.TempDir()
	output := t.TempDir()
	writeCertificates(t, unsigned, "alice", "bob", "carol")

	app := newApp()
	err := app.Run([]string{
		"cert-issuer", "issue",
		"--chain", "mockchain",
		"--recipient-address", "local-issuer",
		"--verification-method", "did:example:issuer#key-1",
		"--unsigned-certificates-dir", unsigned,
		"--blockchain-certificates-dir", output,
		"--initial-backoff", "0s",
		"--archive-proofs",
	})
	require.NoError(t, err)

	for _, name := range []string{"alice", "bob", "carol"} {
		assert.FileExists(t, filepath.Join(output, name+".json"))
		assert.FileExists(t, filepath.Join(output, batch.ProofFileName(name+".json")))
	}
	archives, err := filepath.Glob(filepath.Join(output, "*.proofs.jsonl.xz"))
	require.NoError(t, err)
	assert.Len(t, archives, 1)

	data, err := os.ReadFile(filepath.Join(output, "bob.proof.json"))
	require.NoError(t, err)
	var p types.Proof
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, types.ProofType, p.Type)
	assert.Equal(t, "did:example:issuer#key-1", p.VerificationMethod)

	var out bytes.Buffer
	app = newApp()
	app.Writer = &out
	require.NoError(t, app.Run([]string{"cert-issuer", "verify", "--certificate", filepath.Join(output, "bob.json")}))

	var result proof.VerificationResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.True(t, result.PathValid)
	assert.False(t, result.AnchorChecked)
	assert.Equal(t, types.Chain_Mock, result.Anchor.Chain)

	tampered := filepath.Join(output, "bob.json")
	require.NoError(t, os.WriteFile(tampered, []byte(`{"recipient":"mallory"}`), 0o644))
	app = newApp()
	app.Writer = &bytes.Buffer{}
	err = app.Run([]string{"cert-issuer", "verify", "--certificate", tampered})
	assert.ErrorIs(t, err, errCertificateMismatch)
}

func TestIssue_ConfigFile(t *testing.T) {
	unsigned := t.TempDir()
	output := t.TempDir()
	writeCertificates(t, unsigned, "dave")

	cfgPath := filepath.Join(t.TempDir(), "issuer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
chain: mockchain
recipientAddress: local-issuer
verificationMethod: did:example:from-file
unsignedCertificatesDir: `+unsigned+`
blockchainCertificatesDir: /nonexistent/overridden/by/flag
maxAttempts: 2
`), 0o644))

	err := newApp().Run([]string{
		"cert-issuer", "issue",
		"--config", cfgPath,
		"--blockchain-certificates-dir", output,
		"--initial-backoff", "0s",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(output, "dave.proof.json"))
	require.NoError(t, err)
	var p types.Proof
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, "did:example:from-file", p.VerificationMethod)
}

func TestIssue_EmptyDirectoryFails(t *testing.T) {
	err := newApp().Run([]string{
		"cert-issuer", "issue",
		"--chain", "mockchain",
		"--recipient-address", "local-issuer",
		"--unsigned-certificates-dir", t.TempDir(),
		"--blockchain-certificates-dir", t.TempDir(),
	})
	assert.Error(t, err)
}

func TestIssue_InvalidConfiguration(t *testing.T) {
	err := newApp().Run([]string{
		"cert-issuer", "issue",
		"--chain", "ethereum_sepolia",
		"--recipient-address", "not-an-address",
		"--unsigned-certificates-dir", t.TempDir(),
		"--blockchain-certificates-dir", t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")

	err = newApp().Run([]string{
		"cert-issuer", "issue",
		"--chain", "dogecoin",
		"--recipient-address", "x",
	})
	assert.Error(t, err)
}

func TestParseRpcUrls(t *testing.T) {
	urls, err := parseRpcUrls([]string{"ethereum_sepolia=https://rpc.sepolia.org", "ethereum_anvil=http://localhost:8545"})
	require.NoError(t, err)
	assert.Equal(t, map[types.Chain]string{
		types.Chain_EthereumSepolia: "https://rpc.sepolia.org",
		types.Chain_EthereumAnvil:   "http://localhost:8545",
	}, urls)

	_, err = parseRpcUrls([]string{"ethereum_sepolia"})
	assert.Error(t, err)

	_, err = parseRpcUrls([]string{"dogecoin=http://x"})
	assert.Error(t, err)
}
