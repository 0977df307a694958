package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/repository"
)

// DefaultCleanupDays is used when CleanupInactive is given no positive age.
const DefaultCleanupDays = 30

// SessionService exposes the session registry to its owners and admins.
type SessionService struct {
	sessions SessionStore
	audit    AuditRecorder
	log      zerolog.Logger
	now      func() time.Time
}

func NewSessionService(sessions SessionStore, audit AuditRecorder, log zerolog.Logger, now func() time.Time) *SessionService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SessionService{
		sessions: sessions,
		audit:    audit,
		log:      log.With().Str("component", "sessions").Logger(),
		now:      now,
	}
}

// GetActiveSessions lists the user's live sessions, most recently used
// first, flagging the one identified by currentSessionID.
func (s *SessionService) GetActiveSessions(ctx context.Context, userID uint64, currentSessionID string) ([]model.SessionView, error) {
	rows, err := s.sessions.ListActive(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]model.SessionView, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].View(currentSessionID))
	}
	return out, nil
}

// RevokeSession ends one of the user's own sessions.  Sessions owned by
// someone else are reported as not found.
func (s *SessionService) RevokeSession(ctx context.Context, userID uint64, sessionID string, c Client) error {
	if sessionID == "" {
		return ErrSessionNotFound
	}
	err := s.sessions.RevokeSession(ctx, userID, sessionID, repository.Revocation{
		At: s.now(), IP: c.IP, Reason: model.RevokeSessionRevoked, EndReason: model.EndRevoked,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.record(c, &userID, model.ActionSessionRevoke, map[string]any{"sessionId": sessionID})
	return nil
}

// CleanupResult reports what CleanupInactive removed.
type CleanupResult struct {
	Days            int   `json:"days"`
	DeletedSessions int64 `json:"deletedSessions"`
	DeletedTokens   int64 `json:"deletedTokens"`
}

// CleanupInactive deletes sessions that ended more than days ago, along
// with every expired refresh token.
func (s *SessionService) CleanupInactive(ctx context.Context, days int, actor Actor, c Client) (CleanupResult, error) {
	if days <= 0 {
		days = DefaultCleanupDays
	}
	now := s.now()
	res := CleanupResult{Days: days}

	var err error
	res.DeletedSessions, err = s.sessions.DeleteInactiveSessions(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		return res, fmt.Errorf("delete sessions: %w", err)
	}
	res.DeletedTokens, err = s.sessions.DeleteExpiredTokens(ctx, now)
	if err != nil {
		return res, fmt.Errorf("delete tokens: %w", err)
	}

	s.log.Info().Int("days", days).Int64("sessions", res.DeletedSessions).Int64("tokens", res.DeletedTokens).Msg("cleanup")
	var uid *uint64
	if actor.UserID != 0 {
		uid = &actor.UserID
	}
	s.record(c, uid, model.ActionSessionsCleanup, map[string]any{
		"days": days, "deletedSessions": res.DeletedSessions, "deletedTokens": res.DeletedTokens,
	})
	return res, nil
}

// Stats aggregates the registry.
func (s *SessionService) Stats(ctx context.Context) (*model.SessionStats, error) {
	st, err := s.sessions.Stats(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	return st, nil
}

func (s *SessionService) record(c Client, userID *uint64, action string, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(model.AuditLog{
		UserID:    userID,
		Action:    action,
		Resource:  "session",
		Method:    c.Method,
		Endpoint:  c.Endpoint,
		IP:        c.IP,
		UserAgent: c.UserAgent,
		Status:    model.StatusSuccess,
		Details:   details,
	})
}
