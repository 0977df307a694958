package repofake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/repository"
)

// Sessions keeps tokens and sessions behind a single mutex, which gives the
// same all-or-nothing behaviour as the SQL transaction boundary.
type Sessions struct {
	lock     sync.RWMutex
	tokens   map[string]*model.RefreshToken // by id
	sessions map[string]*model.Session      // by id
}

func NewSessions() *Sessions {
	return &Sessions{
		tokens:   make(map[string]*model.RefreshToken),
		sessions: make(map[string]*model.Session),
	}
}

func (r *Sessions) Create(_ context.Context, tok *model.RefreshToken, sess *model.Session) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.tokenByHash(tok.TokenHash) != nil {
		return repository.ErrConflict
	}
	sess.UserID = tok.UserID
	sess.RefreshTokenID = tok.ID
	r.insert(tok, sess)
	return nil
}

func (r *Sessions) FindByHash(_ context.Context, hash string) (*model.RefreshToken, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	t := r.tokenByHash(hash)
	if t == nil {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *Sessions) Rotate(_ context.Context, hash string, rev repository.Revocation, next *model.RefreshToken, sess *model.Session) (*model.RefreshToken, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	old := r.tokenByHash(hash)
	if old == nil {
		return nil, repository.ErrNotFound
	}
	snapshot := *old
	if old.IsRevoked {
		return &snapshot, repository.ErrTokenRevoked
	}
	if old.IsExpired(rev.At) {
		return &snapshot, repository.ErrTokenExpired
	}
	next.UserID = old.UserID
	next.FamilyID = old.FamilyID
	sess.UserID = old.UserID
	sess.RefreshTokenID = next.ID

	r.revoke(old, rev, next.ID)
	r.endFor(old.ID, rev)
	r.insert(next, sess)
	return &snapshot, nil
}

func (r *Sessions) RevokeByHash(_ context.Context, hash string, userID uint64, rev repository.Revocation) (*model.RefreshToken, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	t := r.tokenByHash(hash)
	if t == nil || (userID != 0 && t.UserID != userID) {
		return nil, repository.ErrNotFound
	}
	snapshot := *t
	if t.IsRevoked {
		return &snapshot, repository.ErrTokenRevoked
	}
	r.revoke(t, rev, "")
	r.endFor(t.ID, rev)
	return &snapshot, nil
}

func (r *Sessions) RevokeFamily(_ context.Context, familyID string, rev repository.Revocation) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var n int64
	for _, t := range r.tokens {
		if t.FamilyID != familyID {
			continue
		}
		r.endFor(t.ID, rev)
		if !t.IsRevoked {
			r.revoke(t, rev, "")
			n++
		}
	}
	return n, nil
}

func (r *Sessions) ListActive(_ context.Context, userID uint64, now time.Time) ([]model.Session, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var out []model.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsLive(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (r *Sessions) RevokeSession(_ context.Context, userID uint64, sessionID string, rev repository.Revocation) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID || !s.IsActive {
		return repository.ErrNotFound
	}
	if t, ok := r.tokens[s.RefreshTokenID]; ok {
		r.revoke(t, rev, "")
	}
	r.endFor(s.RefreshTokenID, rev)
	return nil
}

func (r *Sessions) RevokeAllForUser(_ context.Context, userID uint64, exceptSessionID string, rev repository.Revocation) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	keep := ""
	if cur, ok := r.sessions[exceptSessionID]; ok && cur.UserID == userID {
		if t, ok := r.tokens[cur.RefreshTokenID]; ok {
			keep = t.FamilyID
		}
	}
	var n int64
	for _, s := range r.sessions {
		if s.UserID != userID || !s.IsActive {
			continue
		}
		t, ok := r.tokens[s.RefreshTokenID]
		if ok && keep != "" && t.FamilyID == keep {
			continue
		}
		if ok && !t.IsRevoked {
			r.revoke(t, rev, "")
		}
		r.endFor(s.RefreshTokenID, rev)
		n++
	}
	return n, nil
}

func (r *Sessions) DeleteInactiveSessions(_ context.Context, cutoff time.Time) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var n int64
	for id, s := range r.sessions {
		if !s.IsActive && s.EndedAt != nil && s.EndedAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *Sessions) EndExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var n int64
	for _, s := range r.sessions {
		if s.IsActive && !now.Before(s.ExpiresAt) {
			at := now
			s.IsActive = false
			s.EndedAt = &at
			s.EndReason = model.EndExpired
			n++
		}
	}
	return n, nil
}

func (r *Sessions) DeleteExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var n int64
	for id, t := range r.tokens {
		if t.IsExpired(now) {
			r.deleteToken(id)
			n++
		}
	}
	return n, nil
}

func (r *Sessions) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var tokens, sessions int64
	for id, t := range r.tokens {
		if t.CreatedAt.Before(cutoff) {
			r.deleteToken(id)
			tokens++
		}
	}
	for id, s := range r.sessions {
		if s.CreatedAt.Before(cutoff) {
			delete(r.sessions, id)
			sessions++
		}
	}
	return tokens, sessions, nil
}

func (r *Sessions) Stats(_ context.Context, now time.Time) (*model.SessionStats, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	st := &model.SessionStats{SessionsByDevice: map[string]int64{}}
	users := map[uint64]bool{}
	for _, s := range r.sessions {
		if s.IsLive(now) {
			st.ActiveSessions++
			users[s.UserID] = true
			st.SessionsByDevice[s.DeviceType]++
		}
	}
	st.ActiveUsers = int64(len(users))
	for _, t := range r.tokens {
		switch {
		case t.IsRevoked:
			st.RevokedTokens++
		case t.IsExpired(now):
			st.ExpiredTokens++
		default:
			st.ActiveRefreshTokens++
		}
	}
	return st, nil
}

// Token returns a copy of the token with id, for assertions.
func (r *Sessions) Token(id string) (model.RefreshToken, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	t, ok := r.tokens[id]
	if !ok {
		return model.RefreshToken{}, false
	}
	return *t, true
}

// AllSessions returns copies of every stored session, for assertions.
func (r *Sessions) AllSessions() []model.Session {
	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make([]model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

func (r *Sessions) tokenByHash(hash string) *model.RefreshToken {
	for _, t := range r.tokens {
		if t.TokenHash == hash {
			return t
		}
	}
	return nil
}

func (r *Sessions) insert(tok *model.RefreshToken, sess *model.Session) {
	t := *tok
	s := *sess
	s.IsActive = true
	sess.IsActive = true
	r.tokens[t.ID] = &t
	r.sessions[s.ID] = &s
}

func (r *Sessions) revoke(t *model.RefreshToken, rev repository.Revocation, replacedBy string) {
	at := rev.At
	t.IsRevoked = true
	t.RevokedAt = &at
	t.RevokedByIP = rev.IP
	t.RevokedReason = rev.Reason
	t.ReplacedByToken = replacedBy
}

func (r *Sessions) endFor(tokenID string, rev repository.Revocation) {
	for _, s := range r.sessions {
		if s.RefreshTokenID == tokenID && s.IsActive {
			at := rev.At
			s.IsActive = false
			s.EndedAt = &at
			s.EndReason = rev.EndReason
		}
	}
}

func (r *Sessions) deleteToken(id string) {
	delete(r.tokens, id)
	for sid, s := range r.sessions {
		if s.RefreshTokenID == id {
			delete(r.sessions, sid)
		}
	}
}
