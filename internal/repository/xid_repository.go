package repository

import (
	"context"
	"errors"
	"fmt"

	"parley/internal/domain/user"
	parley_errors "parley/pkg/errors"

	"github.com/jackc/pgx/v5"
)

var errXIDTaken = errors.New("xid already bound")

type PostgresXIDRepository struct {
	db DBTX
}

func NewXIDRepository(db DBTX) XIDRepository {
	return &PostgresXIDRepository{db: db}
}

// Find prefers a conversation-scoped record over an owner-wide one.
func (r *PostgresXIDRepository) Find(ctx context.Context, owner int64, xid string, zid int64) (user.XIDRecord, error) {
	var rec user.XIDRecord
	err := r.db.QueryRow(ctx, `
		SELECT owner, xid, zid, uid, created_at
		FROM xids
		WHERE owner = $1 AND xid = $2 AND (zid = $3 OR zid IS NULL)
		ORDER BY zid NULLS LAST
		LIMIT 1`, owner, xid, zid).
		Scan(&rec.Owner, &rec.XID, &rec.ZID, &rec.UID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.XIDRecord{}, parley_errors.ErrNotFound
		}
		return user.XIDRecord{}, err
	}
	return rec, nil
}

func (r *PostgresXIDRepository) IsWhitelisted(ctx context.Context, owner int64, xid string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM xid_whitelist WHERE owner = $1 AND xid = $2)`, owner, xid).Scan(&ok)
	return ok, err
}

func (r *PostgresXIDRepository) AddToWhitelist(ctx context.Context, owner int64, xid string) error {
	_, err := r.db.Exec(ctx, `INSERT INTO xid_whitelist (owner, xid) VALUES ($1, $2) ON CONFLICT DO NOTHING`, owner, xid)
	return err
}

// CreateXIDUser inserts a user and its xid row in one transaction. When a
// concurrent request already bound the xid the transaction is rolled back,
// so no orphan user is left, and the winner's record is returned.
func (r *PostgresXIDRepository) CreateXIDUser(ctx context.Context, owner int64, xid string, zid int64) (user.XIDRecord, bool, error) {
	rec := user.XIDRecord{Owner: owner, XID: xid}
	rec.ZID.Int64, rec.ZID.Valid = zid, true

	err := WithTx(ctx, r.db, func(tx DBTX) error {
		if err := tx.QueryRow(ctx, `INSERT INTO users (is_anonymous) VALUES (FALSE) RETURNING uid`).Scan(&rec.UID); err != nil {
			return fmt.Errorf("create xid user: %w", err)
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO xids (owner, xid, zid, uid)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT ON CONSTRAINT xids_owner_xid_zid_key DO NOTHING
			RETURNING created_at`, owner, xid, zid, rec.UID).Scan(&rec.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return errXIDTaken
		}
		return err
	})
	if errors.Is(err, errXIDTaken) {
		existing, err := r.Find(ctx, owner, xid, zid)
		if err != nil {
			return user.XIDRecord{}, false, fmt.Errorf("read winning xid record: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		if isUniqueViolation(err) {
			return user.XIDRecord{}, false, fmt.Errorf("%w: xid %q: %v", parley_errors.ErrConflict, xid, err)
		}
		return user.XIDRecord{}, false, err
	}
	return rec, true, nil
}
