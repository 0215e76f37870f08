package services

import (
	"context"
	"errors"
	"strings"

	"parley/internal/domain/conversation"
	"parley/internal/repository"
	parley_errors "parley/pkg/errors"
)

// LegacyBridge maps pre-token participant cookies onto existing participants.
// It never writes.
type LegacyBridge struct {
	cookies repository.LegacyCookieRepository
}

func NewLegacyBridge(cookies repository.LegacyCookieRepository) *LegacyBridge {
	return &LegacyBridge{cookies: cookies}
}

// Resolve returns the participant bound to cookie in zid. A miss is not an error.
func (b *LegacyBridge) Resolve(ctx context.Context, zid int64, cookie string) (conversation.LegacyCookie, bool, error) {
	cookie = strings.TrimSpace(cookie)
	if cookie == "" || b == nil || b.cookies == nil {
		return conversation.LegacyCookie{}, false, nil
	}
	lc, err := b.cookies.Find(ctx, zid, cookie)
	if errors.Is(err, parley_errors.ErrNotFound) {
		return conversation.LegacyCookie{}, false, nil
	}
	if err != nil {
		return conversation.LegacyCookie{}, false, err
	}
	return lc, true, nil
}
