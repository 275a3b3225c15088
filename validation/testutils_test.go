package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/veraison/go-cose"
)

const (
	testPCR0 = "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57"
	testPCR1 = "4b4d5b3661b3efc12920900c80e126e4ce783c522de6c02a2a5bf7af3a2b9327b86776f188e4be1c1c404a129dbda493"
	testPCR2 = "2bdd28c1d85bb3872da3617a29a6bfeb50c65750c995f92e7dac6b5f2c4c72e0f9976bdee62a0b25864d10dffb535e11"
)

// testNSM mimics the Nitro Security Module: it signs attestation documents with an ES384
// leaf certificate issued by its own root.
type testNSM struct {
	t         *testing.T
	rootPEM   []byte
	rootDER   []byte
	leafDER   []byte
	leafKey   *ecdsa.PrivateKey
	timestamp time.Time
}

func mustDecodeHex(t *testing.T, hexStr string) []byte {
	t.Helper()
	b, err := hex.DecodeString(hexStr)
	assert.NoError(t, err)
	return b
}

func newTestNSM(t *testing.T) *testNSM {
	t.Helper()
	now := time.Now().Truncate(time.Millisecond)

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test.nitro-enclaves"},
		NotBefore:             now.Add(-24 * time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	assert.NoError(t, err)
	rootCert, err := x509.ParseCertificate(rootDER)
	assert.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	assert.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "i-test-enclave"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, rootCert, &leafKey.PublicKey, rootKey)
	assert.NoError(t, err)

	return &testNSM{
		t:         t,
		rootPEM:   pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER}),
		rootDER:   rootDER,
		leafDER:   leafDER,
		leafKey:   leafKey,
		timestamp: now,
	}
}

func (n *testNSM) pcrSets() []PCRSet {
	return []PCRSet{{PCR0: testPCR0, PCR1: testPCR1, PCR2: testPCR2, CommitHash: "abc123"}}
}

// Attest implements receipt.Attester.
func (n *testNSM) Attest(options enclave.AttestationOptions) ([]byte, error) {
	doc := map[string]any{
		"module_id": "test-enclave-12345",
		"digest":    "SHA384",
		"timestamp": uint64(n.timestamp.UnixMilli()),
		"pcrs": map[uint64][]byte{
			0: mustDecodeHex(n.t, testPCR0),
			1: mustDecodeHex(n.t, testPCR1),
			2: mustDecodeHex(n.t, testPCR2),
		},
		"certificate": n.leafDER,
		"cabundle":    [][]byte{n.rootDER},
		"user_data":   options.UserData,
		"nonce":       options.Nonce,
	}
	payload, err := cbor.Marshal(doc)
	if err != nil {
		return nil, err
	}

	protected, err := cbor.Marshal(map[int]int{1: -35}) // alg: ES384
	if err != nil {
		return nil, err
	}
	sigStructure, err := cbor.Marshal([]any{"Signature1", protected, []byte{}, payload})
	if err != nil {
		return nil, err
	}

	signer, err := cose.NewSigner(cose.AlgorithmES384, n.leafKey)
	if err != nil {
		return nil, err
	}
	signature, err := signer.Sign(rand.Reader, sigStructure)
	if err != nil {
		return nil, err
	}

	return cbor.Marshal([]any{protected, map[string]any{}, payload, signature})
}
