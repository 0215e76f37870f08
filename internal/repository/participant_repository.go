package repository

import (
	"context"
	"errors"
	"fmt"

	"parley/internal/domain/conversation"
	parley_errors "parley/pkg/errors"

	"github.com/jackc/pgx/v5"
)

// participantLockDomain is the first key of the per-conversation advisory
// lock taken while assigning a pid.
const participantLockDomain int32 = 0x70696431 // "pid1"

type PostgresParticipantRepository struct {
	db DBTX
}

func NewParticipantRepository(db DBTX) ParticipantRepository {
	return &PostgresParticipantRepository{db: db}
}

func (r *PostgresParticipantRepository) Get(ctx context.Context, zid, uid int64) (conversation.Participant, error) {
	p := conversation.Participant{ZID: zid, UID: uid}
	err := r.db.QueryRow(ctx, `SELECT pid, created_at FROM participants WHERE zid = $1 AND uid = $2`, zid, uid).
		Scan(&p.PID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return conversation.Participant{}, parley_errors.ErrNotFound
		}
		return conversation.Participant{}, err
	}
	return p, nil
}

// Create assigns the next pid for zid while holding the conversation's
// advisory lock, and bumps participant_count in the same transaction.
func (r *PostgresParticipantRepository) Create(ctx context.Context, zid, uid int64) (conversation.Participant, error) {
	p := conversation.Participant{ZID: zid, UID: uid}
	err := WithTx(ctx, r.db, func(tx DBTX) error {
		// lock key collisions on truncated zids only over-serialize
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, participantLockDomain, int32(zid)); err != nil {
			return fmt.Errorf("lock conversation %d: %w", zid, err)
		}

		if err := tx.QueryRow(ctx, `
			INSERT INTO participants (zid, uid, pid)
			SELECT $1, $2, COALESCE(MAX(pid) + 1, 0) FROM participants WHERE zid = $1
			RETURNING pid, created_at`, zid, uid).Scan(&p.PID, &p.CreatedAt); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `UPDATE conversations SET participant_count = participant_count + 1 WHERE zid = $1`, zid)
		return err
	})
	if err != nil {
		if isConstraintViolation(err, "participants_zid_uid_key") {
			return conversation.Participant{}, fmt.Errorf("%w: participant (%d, %d)", parley_errors.ErrAlreadyExists, zid, uid)
		}
		if isUniqueViolation(err) {
			return conversation.Participant{}, fmt.Errorf("%w: participant (%d, %d): %v", parley_errors.ErrConflict, zid, uid, err)
		}
		return conversation.Participant{}, err
	}
	return p, nil
}
