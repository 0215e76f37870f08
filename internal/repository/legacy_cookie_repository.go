package repository

import (
	"context"
	"errors"

	"parley/internal/domain/conversation"
	parley_errors "parley/pkg/errors"

	"github.com/jackc/pgx/v5"
)

type PostgresLegacyCookieRepository struct {
	db DBTX
}

func NewLegacyCookieRepository(db DBTX) LegacyCookieRepository {
	return &PostgresLegacyCookieRepository{db: db}
}

func (r *PostgresLegacyCookieRepository) Find(ctx context.Context, zid int64, cookie string) (conversation.LegacyCookie, error) {
	lc := conversation.LegacyCookie{ZID: zid, Cookie: cookie}
	err := r.db.QueryRow(ctx, `
		SELECT uid, pid FROM legacy_participant_cookies
		WHERE zid = $1 AND cookie = $2`, zid, cookie).Scan(&lc.UID, &lc.PID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return conversation.LegacyCookie{}, parley_errors.ErrNotFound
		}
		return conversation.LegacyCookie{}, err
	}
	return lc, nil
}
