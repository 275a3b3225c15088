// Package signing manages ed25519 identities and the COSE_Sign1 envelopes that carry
// signed instructions and receipts.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/cloudx-io/sealedbid/core"
)

const (
	privatePEMType = "PRIVATE KEY"
	publicPEMType  = "PUBLIC KEY"
)

// KeyManager holds an ed25519 key pair. The public half is the account identity.
type KeyManager struct {
	privateKey ed25519.PrivateKey // Keep private - sensitive!
	PublicKey  ed25519.PublicKey
}

// NewKeyManager generates a fresh key pair.
func NewKeyManager() (*KeyManager, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return &KeyManager{privateKey: priv, PublicKey: pub}, nil
}

// FromSeed derives a key pair from a 32-byte seed.
func FromSeed(seed []byte) (*KeyManager, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed length: expected %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyManager{privateKey: priv, PublicKey: priv.Public().(ed25519.PublicKey)}, nil
}

// Identity returns the account identity of the key.
func (km *KeyManager) Identity() core.Identity {
	var id core.Identity
	copy(id[:], km.PublicKey)
	return id
}

// PrivateKeyPEM returns the private key in PKCS#8 PEM format.
func (km *KeyManager) PrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(km.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: privatePEMType, Bytes: der}), nil
}

// PublicKeyPEM returns the public key in PKIX PEM format.
func (km *KeyManager) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(km.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: publicPEMType, Bytes: der}), nil
}

// ParsePrivateKeyPEM loads a key pair from PKCS#8 PEM.
func ParsePrivateKeyPEM(data []byte) (*KeyManager, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != privatePEMType {
		return nil, fmt.Errorf("no %s PEM block found", privatePEMType)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want ed25519", key)
	}
	return &KeyManager{privateKey: priv, PublicKey: priv.Public().(ed25519.PublicKey)}, nil
}

// ParsePublicKeyPEM loads an ed25519 public key from PKIX PEM.
func ParsePublicKeyPEM(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != publicPEMType {
		return nil, fmt.Errorf("no %s PEM block found", publicPEMType)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want ed25519", key)
	}
	return pub, nil
}

// LoadKeyFile reads a PEM private key from path.
func LoadKeyFile(path string) (*KeyManager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParsePrivateKeyPEM(data)
}

// SaveKeyFile writes the private key to path with owner-only permissions.
// An existing file is never overwritten.
func (km *KeyManager) SaveKeyFile(path string) error {
	data, err := km.PrivateKeyPEM()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	return f.Close()
}
