package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parley/internal/domain/conversation"
	"parley/internal/domain/user"
	"parley/internal/repository"
	"parley/internal/retry"
	parley_errors "parley/pkg/errors"
	"parley/pkg/logger"
)

const maxXIDLength = 256

type XIDService struct {
	xids       repository.XIDRepository
	policy     retry.Policy
	retryAfter time.Duration
	log        *logger.Logger
}

// NewXIDService creates a new xid service. Lost insert races are retried per
// policy and reported with retryAfter once it is exhausted.
func NewXIDService(xids repository.XIDRepository, policy retry.Policy, retryAfter time.Duration, log *logger.Logger) *XIDService {
	if log == nil {
		log = logger.NewNop()
	}
	return &XIDService{xids: xids, policy: policy, retryAfter: retryAfter, log: log}
}

// NormalizeXID trims xid and rejects values that cannot be stored.
func NormalizeXID(xid string) (string, error) {
	xid = strings.TrimSpace(xid)
	if len(xid) > maxXIDLength {
		return "", fmt.Errorf("%w: xid longer than %d bytes", parley_errors.ErrInvalidInput, maxXIDLength)
	}
	return xid, nil
}

// Find looks up the xid for conv's owner, scoped to conv or owner-wide.
func (s *XIDService) Find(ctx context.Context, conv conversation.Conversation, xid string) (user.XIDRecord, bool, error) {
	rec, err := s.xids.Find(ctx, conv.Owner, xid, conv.ZID)
	if errors.Is(err, parley_errors.ErrNotFound) {
		return user.XIDRecord{}, false, nil
	}
	if err != nil {
		return user.XIDRecord{}, false, err
	}
	return rec, true, nil
}

// CheckWhitelist enforces the owner's allow-list when conv enables it.
func (s *XIDService) CheckWhitelist(ctx context.Context, conv conversation.Conversation, xid string) error {
	if !conv.UseXIDWhitelist {
		return nil
	}
	ok, err := s.xids.IsWhitelisted(ctx, conv.Owner, xid)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", parley_errors.ErrNotWhitelisted, xid)
	}
	return nil
}

// Create binds xid to a new user in conv. created is false when a concurrent
// request bound it first; the winner's record is returned.
func (s *XIDService) Create(ctx context.Context, conv conversation.Conversation, xid string) (user.XIDRecord, bool, error) {
	type outcome struct {
		rec     user.XIDRecord
		created bool
	}

	res, err := retry.Do(ctx, s.policy, func(ctx context.Context, n int) (outcome, error) {
		rec, created, err := s.xids.CreateXIDUser(ctx, conv.Owner, xid, conv.ZID)
		return outcome{rec: rec, created: created}, err
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return user.XIDRecord{}, false, &parley_errors.RetryAfterError{
				Err:   fmt.Errorf("%w: xid %q", parley_errors.ErrTooManyRequests, xid),
				After: s.retryAfter,
			}
		}
		return user.XIDRecord{}, false, err
	}
	if res.created {
		s.log.With(ctx).Infof("xid user created owner=%d zid=%d uid=%d", conv.Owner, conv.ZID, res.rec.UID)
	}
	return res.rec, res.created, nil
}
