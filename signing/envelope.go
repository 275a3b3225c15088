package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedbid/core"
)

// ErrBadSignature is returned when an envelope does not verify.
var ErrBadSignature = errors.New("envelope signature verification failed")

// Sign wraps payload in a tagged COSE_Sign1 message signed with EdDSA.
// The protected kid header carries the signer's public key.
func (km *KeyManager) Sign(payload []byte) ([]byte, error) {
	signer, err := cose.NewSigner(cose.AlgorithmEdDSA, km.privateKey)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmEdDSA)
	msg.Headers.Protected[cose.HeaderLabelKeyID] = []byte(km.PublicKey)
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}
	out, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return out, nil
}

// Open verifies a COSE_Sign1 envelope against the key named by its kid header and
// returns that key as the signer identity along with the payload.
func Open(envelope []byte) (core.Identity, []byte, error) {
	var signer core.Identity

	msg, err := decode(envelope)
	if err != nil {
		return signer, nil, err
	}

	kid, ok := msg.Headers.Protected[cose.HeaderLabelKeyID].([]byte)
	if !ok || len(kid) != ed25519.PublicKeySize {
		return signer, nil, fmt.Errorf("envelope kid must be a %d-byte ed25519 public key", ed25519.PublicKeySize)
	}

	if err := verify(msg, ed25519.PublicKey(kid)); err != nil {
		return signer, nil, err
	}
	copy(signer[:], kid)
	return signer, msg.Payload, nil
}

// OpenWithKey verifies an envelope against a known key, ignoring any kid header.
func OpenWithKey(envelope []byte, key ed25519.PublicKey) ([]byte, error) {
	msg, err := decode(envelope)
	if err != nil {
		return nil, err
	}
	if err := verify(msg, key); err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

func decode(envelope []byte) (*cose.Sign1Message, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(envelope); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("read envelope algorithm: %w", err)
	}
	if alg != cose.AlgorithmEdDSA {
		return nil, fmt.Errorf("unsupported envelope algorithm %v", alg)
	}
	return &msg, nil
}

func verify(msg *cose.Sign1Message, key ed25519.PublicKey) error {
	verifier, err := cose.NewVerifier(cose.AlgorithmEdDSA, key)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}
