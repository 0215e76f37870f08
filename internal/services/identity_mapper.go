package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parley/internal/domain/user"
	"parley/internal/repository"
	"parley/internal/retry"
	"parley/internal/token"
	parley_errors "parley/pkg/errors"
	"parley/pkg/logger"
)

// IdentityMapper turns a federated subject into a durable local uid.
type IdentityMapper struct {
	users      repository.UserRepository
	policy     retry.Policy
	retryAfter time.Duration
	log        *logger.Logger
}

// NewIdentityMapper creates a new identity mapper
func NewIdentityMapper(users repository.UserRepository, policy retry.Policy, retryAfter time.Duration, log *logger.Logger) *IdentityMapper {
	if log == nil {
		log = logger.NewNop()
	}
	return &IdentityMapper{users: users, policy: policy, retryAfter: retryAfter, log: log}
}

// ProfileFromClaims extracts the fields persisted for a federated user.
// Email is the natural key and must be present.
func ProfileFromClaims(claims *token.FederatedClaims) (user.Profile, error) {
	if claims == nil {
		return user.Profile{}, fmt.Errorf("%w: no federated claims", parley_errors.ErrMissingClaim)
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return user.Profile{}, fmt.Errorf("%w: email", parley_errors.ErrMissingClaim)
	}
	return user.Profile{Email: email, DisplayName: strings.TrimSpace(claims.Name)}, nil
}

// LookupUID returns the uid already mapped to subject, if any. It never writes.
func (m *IdentityMapper) LookupUID(ctx context.Context, subject string) (int64, bool, error) {
	uid, err := m.users.GetUIDByOIDCSubject(ctx, strings.TrimSpace(subject))
	if errors.Is(err, parley_errors.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uid, true, nil
}

// ResolveOrCreateUser is idempotent per subject, including under concurrent
// first logins. Lost races are retried; once attempts run out the mapping is
// read directly and, if still absent, a retry-after error is returned.
func (m *IdentityMapper) ResolveOrCreateUser(ctx context.Context, subject string, profile user.Profile) (int64, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return 0, fmt.Errorf("%w: sub", parley_errors.ErrMissingClaim)
	}
	if strings.TrimSpace(profile.Email) == "" {
		return 0, fmt.Errorf("%w: email", parley_errors.ErrMissingClaim)
	}

	uid, err := retry.Do(ctx, m.policy, func(ctx context.Context, n int) (int64, error) {
		if n > 1 {
			m.log.With(ctx).Infof("retrying oidc mapping for %s (attempt %d)", subject, n)
		}
		return m.users.UpsertOIDCUser(ctx, subject, profile)
	})
	if err == nil {
		return uid, nil
	}
	if !errors.Is(err, retry.ErrExhausted) {
		return 0, err
	}

	uid, lookupErr := m.users.GetUIDByOIDCSubject(ctx, subject)
	if lookupErr == nil {
		return uid, nil
	}
	if !errors.Is(lookupErr, parley_errors.ErrNotFound) {
		return 0, lookupErr
	}

	m.log.With(ctx).Warnf("oidc mapping for %s still contended: %v", subject, err)
	return 0, &parley_errors.RetryAfterError{
		Err:   fmt.Errorf("%w: oidc mapping for %s", parley_errors.ErrTooManyRequests, subject),
		After: m.retryAfter,
	}
}
