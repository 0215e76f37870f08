package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrUnknownKeyID = errors.New("keys: unknown key id")

// KeySet resolves verification keys by key id.
type KeySet interface {
	Key(ctx context.Context, kid string) (any, error)
}

// StaticKeySet is a fixed set of public keys indexed by kid.
type StaticKeySet map[string]any

func (s StaticKeySet) Key(_ context.Context, kid string) (any, error) {
	key, ok := s[kid]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKeyID, kid)
	}
	return key, nil
}

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteKeySet fetches a JWKS document over HTTP and caches it for ttl.
// An unknown kid triggers a refetch so issuer key rotation is picked up
// without waiting for expiry. Concurrent refreshes collapse into one request.
type RemoteKeySet struct {
	url    string
	ttl    time.Duration
	client HTTPClient

	mu        sync.RWMutex
	keys      map[string]any
	fetchedAt time.Time

	group singleflight.Group
	now   func() time.Time
}

func NewRemoteKeySet(url string, ttl time.Duration, client HTTPClient) *RemoteKeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteKeySet{
		url:    url,
		ttl:    ttl,
		client: client,
		now:    time.Now,
	}
}

func (s *RemoteKeySet) Key(ctx context.Context, kid string) (any, error) {
	s.mu.RLock()
	fresh := s.keys != nil && s.now().Sub(s.fetchedAt) < s.ttl
	key, ok := s.keys[kid]
	s.mu.RUnlock()
	if fresh && ok {
		return key, nil
	}

	v, err, _ := s.group.Do(s.url, func() (interface{}, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}

	keys := v.(map[string]any)
	key, ok = keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w %q in %s", ErrUnknownKeyID, kid, s.url)
	}
	return key, nil
}

func (s *RemoteKeySet) fetch(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: create JWKS request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keys: JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keys: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("keys: read JWKS response: %w", err)
	}

	var doc JWKS
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("keys: parse JWKS: %w", err)
	}

	keys := doc.PublicKeys()
	s.mu.Lock()
	s.keys = keys
	s.fetchedAt = s.now()
	s.mu.Unlock()
	return keys, nil
}

// JWKS is a JSON Web Key Set document.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK carries the members needed for RSA and EC public keys.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`
	// EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// PublicKeys decodes every usable key in the set. Malformed entries and
// entries without a kid are skipped.
func (d JWKS) PublicKeys() map[string]any {
	keys := make(map[string]any, len(d.Keys))
	for _, k := range d.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			if pub, err := parseRSAPublicKey(k.N, k.E); err == nil {
				keys[k.Kid] = pub
			}
		case "EC":
			if pub, err := parseECPublicKey(k.Crv, k.X, k.Y); err == nil {
				keys[k.Kid] = pub
			}
		}
	}
	return keys
}

// ECPublicJWK encodes a P-256 public key as an ES256 signing JWK.
func ECPublicJWK(kid string, key *ecdsa.PublicKey) JWK {
	size := (key.Curve.Params().BitSize + 7) / 8
	return JWK{
		Kty: "EC",
		Kid: kid,
		Alg: "ES256",
		Use: "sig",
		Crv: key.Curve.Params().Name,
		X:   base64.RawURLEncoding.EncodeToString(key.X.FillBytes(make([]byte, size))),
		Y:   base64.RawURLEncoding.EncodeToString(key.Y.FillBytes(make([]byte, size))),
	}
}

// JWKS returns the public half of the local signing key as a key set.
func (p *Provider) JWKS() (JWKS, error) {
	pub, err := p.PublicKey()
	if err != nil {
		return JWKS{}, err
	}
	return JWKS{Keys: []JWK{ECPublicJWK(p.keyID, pub)}}, nil
}

func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("keys: decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("keys: decode RSA exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("keys: unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("keys: decode EC x: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("keys: decode EC y: %w", err)
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
