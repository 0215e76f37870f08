// Package keys holds the local signing keypair and the federated issuer's
// public key set.
package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

var ErrSigningKeyUnavailable = errors.New("keys: signing key unavailable")

// Provider owns the ES256 keypair used for participant tokens and, when
// federation is configured, the key set of the external issuer.
type Provider struct {
	signingKey *ecdsa.PrivateKey
	keyID      string
	federated  KeySet
}

// NewProvider builds a provider. signingKey may be nil, in which case token
// issuance fails softly and verification of local tokens always fails.
func NewProvider(signingKey *ecdsa.PrivateKey, keyID string, federated KeySet) *Provider {
	return &Provider{
		signingKey: signingKey,
		keyID:      keyID,
		federated:  federated,
	}
}

func (p *Provider) SigningKey() (*ecdsa.PrivateKey, error) {
	if p == nil || p.signingKey == nil {
		return nil, ErrSigningKeyUnavailable
	}
	return p.signingKey, nil
}

func (p *Provider) PublicKey() (*ecdsa.PublicKey, error) {
	key, err := p.SigningKey()
	if err != nil {
		return nil, err
	}
	return &key.PublicKey, nil
}

func (p *Provider) KeyID() string {
	return p.keyID
}

// Federated returns the external issuer's key set, or nil when federation is off.
func (p *Provider) Federated() KeySet {
	return p.federated
}

// LoadSigningKey reads a PEM encoded EC private key from pemData, or from the
// file at path when pemData is empty. Both empty yields (nil, nil).
func LoadSigningKey(path, pemData string) (*ecdsa.PrivateKey, error) {
	data := []byte(pemData)
	if len(data) == 0 {
		if path == "" {
			return nil, nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("keys: read signing key: %w", err)
		}
		data = raw
	}

	key, err := jwt.ParseECPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("keys: parse signing key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("keys: signing key must use P-256, got %s", key.Curve.Params().Name)
	}
	return key, nil
}

// GenerateSigningKey creates a fresh P-256 key.
func GenerateSigningKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// EncodePrivateKeyPEM serialises key as a PKCS#8 PEM block.
func EncodePrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM serialises the public half of key as a PKIX PEM block.
func EncodePublicKeyPEM(key *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
