package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parley/internal/keys"
	parley_errors "parley/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Verified is the outcome of a successful verification. Claims is set for
// locally issued kinds, Federated for KindFederated.
type Verified struct {
	Kind      Kind
	Claims    *Claims
	Federated *FederatedClaims
}

// FederatedOptions describes the external issuer. An empty Issuer disables
// federated verification.
type FederatedOptions struct {
	Issuer   string
	Audience string
}

type Verifier struct {
	keys      *keys.Provider
	issuer    string
	audience  string
	federated FederatedOptions
	now       func() time.Time
}

func NewVerifier(provider *keys.Provider, issuer, audience string, federated FederatedOptions) *Verifier {
	return &Verifier{
		keys:      provider,
		issuer:    issuer,
		audience:  audience,
		federated: federated,
		now:       time.Now,
	}
}

// Verify classifies raw, then validates it against the key, issuer and
// audience belonging to that kind.
func (v *Verifier) Verify(ctx context.Context, raw string) (Verified, error) {
	kind, err := Classify(raw)
	if err != nil {
		return Verified{Kind: KindUnrecognized}, err
	}

	if kind == KindFederated {
		claims, err := v.verifyFederated(ctx, raw)
		if err != nil {
			return Verified{Kind: kind}, err
		}
		return Verified{Kind: kind, Federated: claims}, nil
	}

	claims, err := v.verifyLocal(kind, raw)
	if err != nil {
		return Verified{Kind: kind}, err
	}
	return Verified{Kind: kind, Claims: claims}, nil
}

func (v *Verifier) verifyLocal(kind Kind, raw string) (*Claims, error) {
	pub, err := v.keys.PublicKey()
	if err != nil {
		return nil, invalid(err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)

	claims := &Claims{}
	_, err = parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if kid, ok := t.Header["kid"].(string); ok && kid != v.keys.KeyID() {
			return nil, fmt.Errorf("%w %q", keys.ErrUnknownKeyID, kid)
		}
		return pub, nil
	})
	if err != nil {
		return nil, invalid(err)
	}

	if err := checkStructure(kind, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// checkStructure rejects signed tokens whose claims disagree with their flag.
func checkStructure(kind Kind, c *Claims) error {
	if c.flagCount() != 1 || c.Kind() != kind {
		return invalid(errors.New("exactly one participant flag required"))
	}
	if strings.TrimSpace(c.ConversationID) == "" {
		return invalid(errors.New("conversation_id missing"))
	}
	if c.UID <= 0 || c.PID < 0 {
		return invalid(fmt.Errorf("bad uid %d / pid %d", c.UID, c.PID))
	}
	want, ok := subjectFor(kind, c)
	if !ok {
		return invalid(fmt.Errorf("%s token without identifier", kind))
	}
	if c.Subject != want {
		return invalid(fmt.Errorf("subject %q does not match %s token", c.Subject, kind))
	}
	return nil
}

func (v *Verifier) verifyFederated(ctx context.Context, raw string) (*FederatedClaims, error) {
	keySet := v.keys.Federated()
	if keySet == nil || v.federated.Issuer == "" {
		return nil, invalid(errors.New("federated identity is not configured"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithIssuer(v.federated.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.federated.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.federated.Audience))
	}

	claims := &FederatedClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return keySet.Key(ctx, kid)
	})
	if err != nil {
		return nil, invalid(err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, invalid(errors.New("subject missing"))
	}
	return claims, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", parley_errors.ErrInvalidToken, err)
}
