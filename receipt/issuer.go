package receipt

import (
	"crypto/rand"
	"fmt"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"

	"github.com/cloudx-io/sealedbid/signing"
)

// Receipt encodings.
const (
	KindSigned   = "cose_sign1"
	KindAttested = "nitro_attestation"
)

// Issuer turns a receipt into a verifiable document.
type Issuer interface {
	Kind() string
	Issue(r *Receipt) ([]byte, error)
}

// KeyIssuer signs receipts with the node key as a COSE_Sign1 envelope.
type KeyIssuer struct {
	key *signing.KeyManager
}

// NewKeyIssuer creates an issuer for key.
func NewKeyIssuer(key *signing.KeyManager) *KeyIssuer {
	return &KeyIssuer{key: key}
}

func (*KeyIssuer) Kind() string { return KindSigned }

func (i *KeyIssuer) Issue(r *Receipt) ([]byte, error) {
	payload, err := r.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return i.key.Sign(payload)
}

// Attester interface for dependency injection and testing
type Attester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// NitroIssuer embeds receipts as user data in an AWS Nitro attestation document.
type NitroIssuer struct {
	attester Attester
}

// NewNitroIssuer wraps an attester, normally the NSM handle.
func NewNitroIssuer(attester Attester) *NitroIssuer {
	return &NitroIssuer{attester: attester}
}

// OpenNitroIssuer opens the enclave's NSM device.
func OpenNitroIssuer() (*NitroIssuer, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return NewNitroIssuer(handle), nil
}

func (*NitroIssuer) Kind() string { return KindAttested }

func (i *NitroIssuer) Issue(r *Receipt) ([]byte, error) {
	if i.attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}
	userData, err := r.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal receipt: %w", err)
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	doc, err := i.attester.Attest(enclave.AttestationOptions{
		UserData: userData,
		Nonce:    nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation: %w", err)
	}
	return doc, nil
}
