package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parley/internal/domain/conversation"
	"parley/internal/repository"
	"parley/internal/retry"
	parley_errors "parley/pkg/errors"
	"parley/pkg/logger"
)

// ParticipationGate answers whether fresh participants need a prior invite.
type ParticipationGate interface {
	IsParticipationGated(ctx context.Context, zid int64) (bool, error)
}

type ParticipantService struct {
	participants repository.ParticipantRepository
	gate         ParticipationGate
	policy       retry.Policy
	retryAfter   time.Duration
	log          *logger.Logger
}

// NewParticipantService creates a new participant service. gate may be nil,
// in which case no conversation is treated as invite gated.
func NewParticipantService(participants repository.ParticipantRepository, gate ParticipationGate, policy retry.Policy, retryAfter time.Duration, log *logger.Logger) *ParticipantService {
	if log == nil {
		log = logger.NewNop()
	}
	return &ParticipantService{
		participants: participants,
		gate:         gate,
		policy:       policy,
		retryAfter:   retryAfter,
		log:          log,
	}
}

// Get returns the participant for (zid, uid) and whether it exists.
func (s *ParticipantService) Get(ctx context.Context, zid, uid int64) (conversation.Participant, bool, error) {
	p, err := s.participants.Get(ctx, zid, uid)
	if errors.Is(err, parley_errors.ErrNotFound) {
		return conversation.Participant{}, false, nil
	}
	if err != nil {
		return conversation.Participant{}, false, err
	}
	return p, true, nil
}

// CheckGate fails with ErrParticipationGated when zid refuses new participants.
func (s *ParticipantService) CheckGate(ctx context.Context, zid int64) error {
	if s.gate == nil {
		return nil
	}
	gated, err := s.gate.IsParticipationGated(ctx, zid)
	if err != nil {
		return err
	}
	if gated {
		return fmt.Errorf("%w: conversation %d", parley_errors.ErrParticipationGated, zid)
	}
	return nil
}

// ResolveOrCreate reads first and inserts only when absent. Losing the race
// for one's own (zid, uid) row is answered by re-reading.
func (s *ParticipantService) ResolveOrCreate(ctx context.Context, zid, uid int64) (conversation.Participant, bool, error) {
	type outcome struct {
		p       conversation.Participant
		created bool
	}

	res, err := retry.Do(ctx, s.policy, func(ctx context.Context, n int) (outcome, error) {
		p, found, err := s.Get(ctx, zid, uid)
		if err != nil {
			return outcome{}, err
		}
		if found {
			return outcome{p: p}, nil
		}

		if err := s.CheckGate(ctx, zid); err != nil {
			return outcome{}, err
		}

		p, err = s.participants.Create(ctx, zid, uid)
		if errors.Is(err, parley_errors.ErrAlreadyExists) {
			p, found, err = s.Get(ctx, zid, uid)
			if err != nil {
				return outcome{}, err
			}
			if !found {
				return outcome{}, fmt.Errorf("%w: participant (%d, %d) vanished after duplicate insert", parley_errors.ErrConflict, zid, uid)
			}
			return outcome{p: p}, nil
		}
		if err != nil {
			return outcome{}, err
		}
		return outcome{p: p, created: true}, nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			s.log.With(ctx).Warnf("participant creation for (%d, %d) still contended: %v", zid, uid, err)
			return conversation.Participant{}, false, &parley_errors.RetryAfterError{
				Err:   fmt.Errorf("%w: participant (%d, %d)", parley_errors.ErrTooManyRequests, zid, uid),
				After: s.retryAfter,
			}
		}
		return conversation.Participant{}, false, err
	}

	if res.created {
		s.log.With(ctx).Infof("participant created zid=%d uid=%d pid=%d", zid, uid, res.p.PID)
	}
	return res.p, res.created, nil
}
