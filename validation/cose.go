package validation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// coseSign1 is the untagged 4-element COSE_Sign1 array returned by the NSM:
// [protected, unprotected, payload, signature]
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

func parseCOSESign1(coseBytes []byte) (*coseSign1, error) {
	var msg coseSign1
	if err := cbor.Unmarshal(coseBytes, &msg); err != nil {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: %w", err)
	}
	return &msg, nil
}

// ExtractCOSEPayload extracts the payload from a COSE_Sign1 4-element array
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	msg, err := parseCOSESign1(coseBytes)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

// VerifyCOSESignature verifies a Nitro COSE_Sign1 signature against the leaf certificate (DER)
func VerifyCOSESignature(coseBytes []byte, certDER []byte) error {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}

	msg, err := parseCOSESign1(coseBytes)
	if err != nil {
		return err
	}

	// AWS Nitro uses ES384 (ECDSA P-384 with SHA-384)
	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	// Sig_structure for COSE_Sign1: ["Signature1", protected, external_aad, payload]
	sigStructure := []any{
		"Signature1",
		msg.Protected,
		[]byte{}, // empty external_aad
		msg.Payload,
	}
	sigStructureBytes, err := cbor.Marshal(sigStructure)
	if err != nil {
		return fmt.Errorf("marshal Sig_structure: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, ecdsaKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := verifier.Verify(sigStructureBytes, msg.Signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}
