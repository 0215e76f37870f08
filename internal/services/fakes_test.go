package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"parley/internal/domain/conversation"
	"parley/internal/domain/user"
	"parley/internal/repository"
	parley_errors "parley/pkg/errors"
)

// memStore is an in-memory stand-in for Postgres. Every method runs under one
// mutex, which gives it the same atomicity the real unique constraints and
// advisory locks provide.
type memStore struct {
	mu sync.Mutex

	nextUID      int64
	users        map[int64]user.User
	emails       map[string]int64
	oidc         map[string]int64
	convs        map[string]conversation.Conversation
	participants map[[2]int64]conversation.Participant
	xids         []user.XIDRecord
	whitelist    map[string]bool
	cookies      map[string]conversation.LegacyCookie

	// upsertConflicts makes the next N UpsertOIDCUser calls fail as lost races.
	upsertConflicts int
	upsertCalls     int
	// beforeParticipantCreate runs under the lock ahead of each insert.
	beforeParticipantCreate func(s *memStore, zid, uid int64)
}

func newMemStore() *memStore {
	return &memStore{
		nextUID:      1,
		users:        map[int64]user.User{},
		emails:       map[string]int64{},
		oidc:         map[string]int64{},
		convs:        map[string]conversation.Conversation{},
		participants: map[[2]int64]conversation.Participant{},
		whitelist:    map[string]bool{},
		cookies:      map[string]conversation.LegacyCookie{},
	}
}

func (s *memStore) addConversation(c conversation.Conversation) conversation.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ConversationID] = c
	return c
}

func (s *memStore) newUserLocked(email string) int64 {
	uid := s.nextUID
	s.nextUID++
	u := user.User{UID: uid, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if email != "" {
		u.Email = sql.NullString{String: email, Valid: true}
		s.emails[email] = uid
	} else {
		u.IsAnonymous = true
	}
	s.users[uid] = u
	return uid
}

func (s *memStore) insertParticipantLocked(zid, uid int64) conversation.Participant {
	var pid int64
	for k := range s.participants {
		if k[0] == zid {
			pid++
		}
	}
	p := conversation.Participant{ZID: zid, UID: uid, PID: pid, CreatedAt: time.Now()}
	s.participants[[2]int64{zid, uid}] = p
	for id, c := range s.convs {
		if c.ZID == zid {
			c.ParticipantCount++
			s.convs[id] = c
		}
	}
	return p
}

func (s *memStore) addParticipant(zid, uid int64) conversation.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertParticipantLocked(zid, uid)
}

func (s *memStore) addCookie(lc conversation.LegacyCookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies[fmt.Sprintf("%d:%s", lc.ZID, lc.Cookie)] = lc
}

func (s *memStore) allowXID(owner int64, xid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whitelist[fmt.Sprintf("%d:%s", owner, xid)] = true
}

func (s *memStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memStore) participantCount(zid int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.participants {
		if k[0] == zid {
			n++
		}
	}
	return n
}

func (s *memStore) xidCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.xids)
}

func (s *memStore) mappingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.oidc)
}

// memUsers implements repository.UserRepository.
type memUsers struct{ s *memStore }

func (r memUsers) GetByUID(ctx context.Context, uid int64) (user.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[uid]
	if !ok {
		return user.User{}, parley_errors.ErrNotFound
	}
	return u, nil
}

func (r memUsers) CreateAnonymousUser(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.newUserLocked(""), nil
}

func (r memUsers) GetUIDByOIDCSubject(ctx context.Context, subject string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	uid, ok := r.s.oidc[subject]
	if !ok {
		return 0, parley_errors.ErrNotFound
	}
	return uid, nil
}

func (r memUsers) UpsertOIDCUser(ctx context.Context, subject string, profile user.Profile) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	if s.upsertConflicts > 0 {
		s.upsertConflicts--
		return 0, fmt.Errorf("%w: simulated lost race", parley_errors.ErrConflict)
	}

	if uid, ok := s.oidc[subject]; ok {
		return uid, nil
	}
	uid, ok := s.emails[profile.Email]
	if !ok {
		uid = s.newUserLocked(profile.Email)
	}
	u := s.users[uid]
	if profile.DisplayName != "" {
		u.DisplayName = sql.NullString{String: profile.DisplayName, Valid: true}
	}
	s.users[uid] = u

	for sub, bound := range s.oidc {
		if bound == uid {
			delete(s.oidc, sub)
		}
	}
	s.oidc[subject] = uid
	return uid, nil
}

// memConversations implements repository.ConversationRepository.
type memConversations struct{ s *memStore }

func (r memConversations) Create(ctx context.Context, c *conversation.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.convs[c.ConversationID]; ok {
		return parley_errors.ErrAlreadyExists
	}
	c.ZID = int64(len(r.s.convs) + 1)
	r.s.convs[c.ConversationID] = *c
	return nil
}

func (r memConversations) GetByConversationID(ctx context.Context, conversationID string) (conversation.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.convs[conversationID]
	if !ok {
		return conversation.Conversation{}, parley_errors.ErrConversationNotFound
	}
	return c, nil
}

func (r memConversations) IsParticipationGated(ctx context.Context, zid int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.convs {
		if c.ZID == zid {
			return c.InviteGated, nil
		}
	}
	return false, parley_errors.ErrConversationNotFound
}

func (r memConversations) UsesXIDWhitelist(ctx context.Context, zid int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.convs {
		if c.ZID == zid {
			return c.UseXIDWhitelist, nil
		}
	}
	return false, parley_errors.ErrConversationNotFound
}

// memParticipants implements repository.ParticipantRepository.
type memParticipants struct{ s *memStore }

func (r memParticipants) Get(ctx context.Context, zid, uid int64) (conversation.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.participants[[2]int64{zid, uid}]
	if !ok {
		return conversation.Participant{}, parley_errors.ErrNotFound
	}
	return p, nil
}

func (r memParticipants) Create(ctx context.Context, zid, uid int64) (conversation.Participant, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeParticipantCreate != nil {
		s.beforeParticipantCreate(s, zid, uid)
	}
	if _, ok := s.participants[[2]int64{zid, uid}]; ok {
		return conversation.Participant{}, fmt.Errorf("%w: participant (%d, %d)", parley_errors.ErrAlreadyExists, zid, uid)
	}
	return s.insertParticipantLocked(zid, uid), nil
}

// memXIDs implements repository.XIDRepository.
type memXIDs struct{ s *memStore }

func (r memXIDs) findLocked(owner int64, xid string, zid int64) (user.XIDRecord, bool) {
	var wide *user.XIDRecord
	for i, rec := range r.s.xids {
		if rec.Owner != owner || rec.XID != xid {
			continue
		}
		if rec.ZID.Valid && rec.ZID.Int64 == zid {
			return rec, true
		}
		if !rec.ZID.Valid {
			wide = &r.s.xids[i]
		}
	}
	if wide != nil {
		return *wide, true
	}
	return user.XIDRecord{}, false
}

func (r memXIDs) Find(ctx context.Context, owner int64, xid string, zid int64) (user.XIDRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.findLocked(owner, xid, zid)
	if !ok {
		return user.XIDRecord{}, parley_errors.ErrNotFound
	}
	return rec, nil
}

func (r memXIDs) IsWhitelisted(ctx context.Context, owner int64, xid string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.whitelist[fmt.Sprintf("%d:%s", owner, xid)], nil
}

func (r memXIDs) AddToWhitelist(ctx context.Context, owner int64, xid string) error {
	r.s.allowXID(owner, xid)
	return nil
}

func (r memXIDs) CreateXIDUser(ctx context.Context, owner int64, xid string, zid int64) (user.XIDRecord, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rec := range r.s.xids {
		if rec.Owner == owner && rec.XID == xid && rec.ZID.Valid && rec.ZID.Int64 == zid {
			return rec, false, nil
		}
	}
	uid := r.s.newUserLocked("")
	u := r.s.users[uid]
	u.IsAnonymous = false
	r.s.users[uid] = u

	rec := user.XIDRecord{
		Owner:     owner,
		XID:       xid,
		ZID:       sql.NullInt64{Int64: zid, Valid: true},
		UID:       uid,
		CreatedAt: time.Now(),
	}
	r.s.xids = append(r.s.xids, rec)
	return rec, true, nil
}

// memCookies implements repository.LegacyCookieRepository.
type memCookies struct{ s *memStore }

func (r memCookies) Find(ctx context.Context, zid int64, cookie string) (conversation.LegacyCookie, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	lc, ok := r.s.cookies[fmt.Sprintf("%d:%s", zid, cookie)]
	if !ok {
		return conversation.LegacyCookie{}, parley_errors.ErrNotFound
	}
	return lc, nil
}

var (
	_ repository.UserRepository         = memUsers{}
	_ repository.ConversationRepository = memConversations{}
	_ repository.ParticipantRepository  = memParticipants{}
	_ repository.XIDRepository          = memXIDs{}
	_ repository.LegacyCookieRepository = memCookies{}
)

// userXID builds an owner-wide xid record.
func userXID(owner int64, xid string, uid int64) user.XIDRecord {
	return user.XIDRecord{Owner: owner, XID: xid, UID: uid, CreatedAt: time.Now()}
}
