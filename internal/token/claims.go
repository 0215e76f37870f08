// Package token encodes, classifies and verifies conversation-scoped
// participant tokens and the federated identity tokens accepted alongside them.
package token

import (
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Kind is the closed set of token shapes the service understands.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindFederated
	KindXID
	KindAnonymous
	KindStandardUser
)

func (k Kind) String() string {
	switch k {
	case KindFederated:
		return "federated"
	case KindXID:
		return "xid"
	case KindAnonymous:
		return "anonymous"
	case KindStandardUser:
		return "standard_user"
	default:
		return "unrecognized"
	}
}

// Local reports whether tokens of this kind are signed by this service.
func (k Kind) Local() bool {
	return k == KindXID || k == KindAnonymous || k == KindStandardUser
}

const (
	anonPrefix = "anon:"
	xidPrefix  = "xid:"
	userPrefix = "user:"
)

// Claims is the shared base for every locally issued token. Exactly one of the
// participant flags is set and it decides the kind.
type Claims struct {
	UID                     int64  `json:"uid,omitempty"`
	PID                     int64  `json:"pid"`
	ConversationID          string `json:"conversation_id,omitempty"`
	AnonymousParticipant    bool   `json:"anonymous_participant,omitempty"`
	XIDParticipant          bool   `json:"xid_participant,omitempty"`
	StandardUserParticipant bool   `json:"standard_user_participant,omitempty"`
	XID                     string `json:"xid,omitempty"`
	OIDCSubject             string `json:"oidc_sub,omitempty"`
	jwt.RegisteredClaims
}

// Kind derives the kind from the participant flags alone.
func (c *Claims) Kind() Kind {
	return kindFromFlags(c.AnonymousParticipant, c.XIDParticipant, c.StandardUserParticipant)
}

func kindFromFlags(anonymous, xid, standard bool) Kind {
	switch {
	case xid:
		return KindXID
	case standard:
		return KindStandardUser
	case anonymous:
		return KindAnonymous
	default:
		return KindFederated
	}
}

func (c *Claims) flagCount() int {
	n := 0
	for _, set := range []bool{c.AnonymousParticipant, c.XIDParticipant, c.StandardUserParticipant} {
		if set {
			n++
		}
	}
	return n
}

// FederatedClaims are the claims read from an external OIDC issuer's token.
type FederatedClaims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func AnonymousSubject(uid int64) string {
	return anonPrefix + strconv.FormatInt(uid, 10)
}

func XIDSubject(xid string) string {
	return xidPrefix + xid
}

func UserSubject(oidcSubject string) string {
	return userPrefix + oidcSubject
}

// subjectFor returns the subject a token of kind must carry.
func subjectFor(kind Kind, c *Claims) (string, bool) {
	switch kind {
	case KindAnonymous:
		return AnonymousSubject(c.UID), true
	case KindXID:
		if strings.TrimSpace(c.XID) == "" {
			return "", false
		}
		return XIDSubject(c.XID), true
	case KindStandardUser:
		if strings.TrimSpace(c.OIDCSubject) == "" {
			return "", false
		}
		return UserSubject(c.OIDCSubject), true
	default:
		return "", false
	}
}
