package token

import (
	"fmt"
	"strings"
	"time"

	"parley/internal/keys"
	parley_errors "parley/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issued is a freshly signed participant token.
type Issued struct {
	Token     string
	ExpiresAt time.Time
	ExpiresIn int64
}

type Issuer struct {
	keys     *keys.Provider
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewIssuer(provider *keys.Provider, issuer, audience string, ttl time.Duration) *Issuer {
	return &Issuer{
		keys:     provider,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue signs a token for a participant of conversationID. identifier is the
// xid for KindXID and the OIDC subject for KindStandardUser; it is ignored for
// anonymous tokens.
func (i *Issuer) Issue(kind Kind, conversationID string, uid, pid int64, identifier string) (Issued, error) {
	if strings.TrimSpace(conversationID) == "" {
		return Issued{}, fmt.Errorf("%w: conversation id required", parley_errors.ErrInvalidInput)
	}
	if uid <= 0 || pid < 0 {
		return Issued{}, fmt.Errorf("%w: uid %d pid %d", parley_errors.ErrInvalidInput, uid, pid)
	}

	claims := Claims{
		UID:            uid,
		PID:            pid,
		ConversationID: conversationID,
	}
	switch kind {
	case KindAnonymous:
		claims.AnonymousParticipant = true
	case KindXID:
		claims.XIDParticipant = true
		claims.XID = identifier
	case KindStandardUser:
		claims.StandardUserParticipant = true
		claims.OIDCSubject = identifier
	default:
		return Issued{}, fmt.Errorf("%w: cannot issue %s token", parley_errors.ErrInvalidInput, kind)
	}

	subject, ok := subjectFor(kind, &claims)
	if !ok {
		return Issued{}, fmt.Errorf("%w: %s token requires an identifier", parley_errors.ErrInvalidInput, kind)
	}

	key, err := i.keys.SigningKey()
	if err != nil {
		return Issued{}, err
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{i.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = i.keys.KeyID()
	signed, err := tok.SignedString(key)
	if err != nil {
		return Issued{}, fmt.Errorf("sign %s token: %w", kind, err)
	}

	return Issued{
		Token:     signed,
		ExpiresAt: expiresAt,
		ExpiresIn: int64(i.ttl.Seconds()),
	}, nil
}
