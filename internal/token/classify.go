package token

import (
	"fmt"

	parley_errors "parley/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

var unverifiedParser = jwt.NewParser()

// Classify inspects the payload of raw without checking its signature and
// returns the kind it claims to be. Any token that is not locally shaped is
// treated as federated and left to the federated verifier.
func Classify(raw string) (Kind, error) {
	if raw == "" {
		return KindUnrecognized, parley_errors.ErrMalformedToken
	}

	// Only the flags are read: foreign tokens may reuse names like uid with
	// other types.
	claims := jwt.MapClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(raw, claims); err != nil {
		return KindUnrecognized, fmt.Errorf("%w: %v", parley_errors.ErrMalformedToken, err)
	}
	return kindFromFlags(
		flagSet(claims, "anonymous_participant"),
		flagSet(claims, "xid_participant"),
		flagSet(claims, "standard_user_participant"),
	), nil
}

// flagSet is true only for a JSON boolean true.
func flagSet(claims jwt.MapClaims, name string) bool {
	v, ok := claims[name].(bool)
	return ok && v
}
