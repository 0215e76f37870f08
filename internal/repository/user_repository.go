package repository

import (
	"context"
	"errors"
	"fmt"

	"parley/internal/domain/user"
	parley_errors "parley/pkg/errors"

	"github.com/jackc/pgx/v5"
)

type PostgresUserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) UserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetByUID(ctx context.Context, uid int64) (user.User, error) {
	var u user.User
	err := r.db.QueryRow(ctx, `
		SELECT uid, email, hname, is_anonymous, created_at, updated_at
		FROM users WHERE uid = $1`, uid).
		Scan(&u.UID, &u.Email, &u.DisplayName, &u.IsAnonymous, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, parley_errors.ErrNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func (r *PostgresUserRepository) CreateAnonymousUser(ctx context.Context) (int64, error) {
	var uid int64
	err := r.db.QueryRow(ctx, `INSERT INTO users (is_anonymous) VALUES (TRUE) RETURNING uid`).Scan(&uid)
	if err != nil {
		return 0, fmt.Errorf("create anonymous user: %w", err)
	}
	return uid, nil
}

func (r *PostgresUserRepository) GetUIDByOIDCSubject(ctx context.Context, subject string) (int64, error) {
	return getUIDByOIDCSubject(ctx, r.db, subject)
}

func getUIDByOIDCSubject(ctx context.Context, db DBTX, subject string) (int64, error) {
	var uid int64
	err := db.QueryRow(ctx, `SELECT uid FROM oidc_user_mappings WHERE oidc_sub = $1`, subject).Scan(&uid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, parley_errors.ErrNotFound
		}
		return 0, err
	}
	return uid, nil
}

// UpsertOIDCUser binds subject to a user keyed by email. The newest login for
// an email wins: stale mappings for either the subject or the uid are removed
// before the new one is written.
func (r *PostgresUserRepository) UpsertOIDCUser(ctx context.Context, subject string, profile user.Profile) (int64, error) {
	var uid int64
	err := WithTx(ctx, r.db, func(tx DBTX) error {
		existing, err := getUIDByOIDCSubject(ctx, tx, subject)
		if err == nil {
			uid = existing
			return nil
		}
		if !errors.Is(err, parley_errors.ErrNotFound) {
			return err
		}

		if err := tx.QueryRow(ctx, `
			INSERT INTO users (email, hname, is_anonymous)
			VALUES ($1, NULLIF($2, ''), FALSE)
			ON CONFLICT (email) DO UPDATE
			SET hname = COALESCE(NULLIF(EXCLUDED.hname, ''), users.hname),
			    updated_at = NOW()
			RETURNING uid`, profile.Email, profile.DisplayName).Scan(&uid); err != nil {
			return err
		}

		var bound string
		err = tx.QueryRow(ctx, `SELECT oidc_sub FROM oidc_user_mappings WHERE uid = $1`, uid).Scan(&bound)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		case bound == subject:
			return nil
		default:
			if _, err := tx.Exec(ctx, `DELETE FROM oidc_user_mappings WHERE oidc_sub = $1 OR uid = $2`, subject, uid); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `INSERT INTO oidc_user_mappings (oidc_sub, uid) VALUES ($1, $2)`, subject, uid)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: oidc mapping for %q: %v", parley_errors.ErrConflict, subject, err)
		}
		return 0, err
	}
	return uid, nil
}
