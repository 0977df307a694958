package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

const sessionColumns = "id,user_id,refresh_token_id,ip,user_agent,browser,os,device_type," +
	"last_activity,is_active,expires_at,ended_at,end_reason,created_at"

// SessionRepo owns both refresh_tokens and sessions.  Every write that
// touches a token also touches its session inside the same transaction,
// so the 1:1 pairing cannot drift.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

// Create stores a freshly minted token together with its session.
func (r *SessionRepo) Create(ctx context.Context, tok *model.RefreshToken, sess *model.Session) error {
	sess.UserID = tok.UserID
	sess.RefreshTokenID = tok.ID
	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		if err := insertToken(ctx, tx, tok); err != nil {
			return err
		}
		return insertSession(ctx, tx, sess)
	})
}

// ListActive returns the user's live sessions, most recently used first.
func (r *SessionRepo) ListActive(ctx context.Context, userID uint64, now time.Time) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id=? AND is_active=1 AND expires_at > ? ORDER BY last_activity DESC",
		userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// RevokeSession ends one of the user's active sessions and revokes its
// token.  A session owned by someone else is reported as ErrNotFound.
func (r *SessionRepo) RevokeSession(ctx context.Context, userID uint64, sessionID string, rev Revocation) error {
	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		var tokenID string
		err := tx.QueryRowContext(ctx,
			"SELECT refresh_token_id FROM sessions WHERE id=? AND user_id=? AND is_active=1 FOR UPDATE",
			sessionID, userID).Scan(&tokenID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if err := revokeToken(ctx, tx, tokenID, rev, ""); err != nil {
			return err
		}
		return endSessionsForToken(ctx, tx, tokenID, rev)
	})
}

// RevokeAllForUser ends every active session of the user and revokes its
// token, except those in the token family of exceptSessionID (empty keeps
// none).  A session replaced by rotation thereby still protects its live
// successor.  It returns the number of sessions ended.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID uint64, exceptSessionID string, rev Revocation) (int64, error) {
	var n int64
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		var keep string
		if exceptSessionID != "" {
			err := tx.QueryRowContext(ctx,
				`SELECT t.family_id FROM sessions s JOIN refresh_tokens t ON t.id = s.refresh_token_id
				WHERE s.id=? AND s.user_id=?`, exceptSessionID, userID).Scan(&keep)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("resolve kept family: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens t JOIN sessions s ON s.refresh_token_id = t.id
			SET t.is_revoked=1, t.revoked_at=?, t.revoked_by_ip=?, t.revoked_reason=?
			WHERE s.user_id=? AND s.is_active=1 AND t.family_id <> ? AND t.is_revoked=0`,
			rev.At, nullString(rev.IP), rev.Reason, userID, keep); err != nil {
			return fmt.Errorf("revoke user tokens: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions s JOIN refresh_tokens t ON t.id = s.refresh_token_id
			SET s.is_active=0, s.ended_at=?, s.end_reason=?
			WHERE s.user_id=? AND s.is_active=1 AND t.family_id <> ?`,
			rev.At, rev.EndReason, userID, keep)
		if err != nil {
			return fmt.Errorf("end user sessions: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// DeleteInactiveSessions removes sessions that ended before cutoff.
func (r *SessionRepo) DeleteInactiveSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM sessions WHERE is_active=0 AND ended_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EndExpiredSessions deactivates sessions still marked active whose expiry
// has passed.  Their tokens are left in place so a late refresh is still
// reported as expired.
func (r *SessionRepo) EndExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active=0, ended_at=?, end_reason=? WHERE is_active=1 AND expires_at <= ?",
		now, model.EndExpired, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats aggregates the session registry.
func (r *SessionRepo) Stats(ctx context.Context, now time.Time) (*model.SessionStats, error) {
	st := &model.SessionStats{SessionsByDevice: map[string]int64{}}
	if err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT user_id) FROM sessions WHERE is_active=1 AND expires_at > ?", now).
		Scan(&st.ActiveSessions, &st.ActiveUsers); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx,
		"SELECT device_type, COUNT(*) FROM sessions WHERE is_active=1 AND expires_at > ? GROUP BY device_type", now)
	if err != nil {
		return nil, fmt.Errorf("group sessions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var device string
		var n int64
		if err := rows.Scan(&device, &n); err != nil {
			return nil, err
		}
		st.SessionsByDevice[device] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.DB.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN is_revoked=0 AND expires_at > ? THEN 1 ELSE 0 END),0),
			COALESCE(SUM(CASE WHEN is_revoked=1 THEN 1 ELSE 0 END),0),
			COALESCE(SUM(CASE WHEN is_revoked=0 AND expires_at <= ? THEN 1 ELSE 0 END),0)
		FROM refresh_tokens`, now, now).
		Scan(&st.ActiveRefreshTokens, &st.RevokedTokens, &st.ExpiredTokens); err != nil {
		return nil, fmt.Errorf("count tokens: %w", err)
	}
	return st, nil
}

func insertSession(ctx context.Context, tx *sql.Tx, s *model.Session) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, refresh_token_id, ip, user_agent, browser, os, device_type,
			last_activity, is_active, expires_at, created_at) VALUES (?,?,?,?,?,?,?,?,?,1,?,?)`,
		s.ID, s.UserID, s.RefreshTokenID, s.IP, s.UserAgent, s.Browser, s.OS, s.DeviceType,
		s.LastActivity, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	s.IsActive = true
	return nil
}

func endSessionsForToken(ctx context.Context, tx *sql.Tx, tokenID string, rev Revocation) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE sessions SET is_active=0, ended_at=?, end_reason=? WHERE refresh_token_id=? AND is_active=1",
		rev.At, rev.EndReason, tokenID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s         model.Session
		endedAt   sql.NullTime
		endReason sql.NullString
	)
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshTokenID, &s.IP, &s.UserAgent, &s.Browser, &s.OS, &s.DeviceType,
		&s.LastActivity, &s.IsActive, &s.ExpiresAt, &endedAt, &endReason, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.EndedAt = timePtr(endedAt)
	s.EndReason = endReason.String
	return &s, nil
}
