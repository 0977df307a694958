package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

const tokenColumns = "id,user_id,family_id,token_hash,expires_at,created_by_ip,user_agent," +
	"is_revoked,revoked_at,revoked_by_ip,revoked_reason,replaced_by_token,created_at"

// Revocation describes who ended a token and why.  Reason lands in
// refresh_tokens.revoked_reason and EndReason in sessions.end_reason.
type Revocation struct {
	At        time.Time
	IP        string
	Reason    string
	EndReason string
}

// FindByHash loads a refresh token by the SHA-256 of its plaintext.
func (r *SessionRepo) FindByHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM refresh_tokens WHERE token_hash=? LIMIT 1", hash)
	return scanToken(row)
}

// Rotate exchanges the token identified by hash for next.  Under a row lock
// it revokes the presented token (pointing it at its successor), ends the
// session bound to it, and inserts next together with sess.  next and sess
// inherit the user and family of the presented token.  A token that is
// already revoked or expired yields ErrTokenRevoked / ErrTokenExpired and
// the transaction writes nothing.
func (r *SessionRepo) Rotate(ctx context.Context, hash string, rev Revocation, next *model.RefreshToken, sess *model.Session) (*model.RefreshToken, error) {
	var old *model.RefreshToken
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		var err error
		old, err = lockToken(ctx, tx, hash)
		if err != nil {
			return err
		}
		if old.IsRevoked {
			return ErrTokenRevoked
		}
		if old.IsExpired(rev.At) {
			return ErrTokenExpired
		}

		next.UserID = old.UserID
		next.FamilyID = old.FamilyID
		sess.UserID = old.UserID
		sess.RefreshTokenID = next.ID

		if err := revokeToken(ctx, tx, old.ID, rev, next.ID); err != nil {
			return err
		}
		if err := endSessionsForToken(ctx, tx, old.ID, rev); err != nil {
			return err
		}
		if err := insertToken(ctx, tx, next); err != nil {
			return err
		}
		return insertSession(ctx, tx, sess)
	})
	return old, err
}

// RevokeByHash revokes one token and ends its session.  When userID is non
// zero the token must belong to that user.
func (r *SessionRepo) RevokeByHash(ctx context.Context, hash string, userID uint64, rev Revocation) (*model.RefreshToken, error) {
	var tok *model.RefreshToken
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		var err error
		tok, err = lockToken(ctx, tx, hash)
		if err != nil {
			return err
		}
		if userID != 0 && tok.UserID != userID {
			return ErrNotFound
		}
		if tok.IsRevoked {
			return ErrTokenRevoked
		}
		if err := revokeToken(ctx, tx, tok.ID, rev, ""); err != nil {
			return err
		}
		return endSessionsForToken(ctx, tx, tok.ID, rev)
	})
	return tok, err
}

// RevokeFamily revokes every live token descending from one login and ends
// their sessions.  Used when a rotated token is replayed.
func (r *SessionRepo) RevokeFamily(ctx context.Context, familyID string, rev Revocation) (int64, error) {
	var n int64
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions s JOIN refresh_tokens t ON s.refresh_token_id = t.id
			SET s.is_active=0, s.ended_at=?, s.end_reason=?
			WHERE t.family_id=? AND s.is_active=1`,
			rev.At, rev.EndReason, familyID); err != nil {
			return fmt.Errorf("end family sessions: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE refresh_tokens SET is_revoked=1, revoked_at=?, revoked_by_ip=?, revoked_reason=? WHERE family_id=? AND is_revoked=0",
			rev.At, nullString(rev.IP), rev.Reason, familyID)
		if err != nil {
			return fmt.Errorf("revoke family: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// DeleteExpiredTokens removes tokens whose lifetime ended before now.
// Their sessions follow through the cascading foreign key.
func (r *SessionRepo) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at <= ?", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteCreatedBefore enforces the retention window on tokens and sessions
// regardless of their state.
func (r *SessionRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (tokens, sessions int64, err error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("delete tokens: %w", err)
	}
	tokens, _ = res.RowsAffected()
	res, err = r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE created_at < ?", cutoff)
	if err != nil {
		return tokens, 0, fmt.Errorf("delete sessions: %w", err)
	}
	sessions, _ = res.RowsAffected()
	return tokens, sessions, nil
}

func lockToken(ctx context.Context, tx *sql.Tx, hash string) (*model.RefreshToken, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM refresh_tokens WHERE token_hash=? FOR UPDATE", hash)
	return scanToken(row)
}

func revokeToken(ctx context.Context, tx *sql.Tx, id string, rev Revocation, replacedBy string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked=1, revoked_at=?, revoked_by_ip=?, revoked_reason=?, replaced_by_token=? WHERE id=?",
		rev.At, nullString(rev.IP), rev.Reason, nullString(replacedBy), id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func insertToken(ctx context.Context, tx *sql.Tx, t *model.RefreshToken) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO refresh_tokens (id, user_id, family_id, token_hash, expires_at, created_by_ip, user_agent, created_at) VALUES (?,?,?,?,?,?,?,?)",
		t.ID, t.UserID, t.FamilyID, t.TokenHash, t.ExpiresAt, t.CreatedByIP, t.UserAgent, t.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func scanToken(row *sql.Row) (*model.RefreshToken, error) {
	var (
		t                             model.RefreshToken
		revokedAt                     sql.NullTime
		revokedBy, reason, replacedBy sql.NullString
	)
	err := row.Scan(&t.ID, &t.UserID, &t.FamilyID, &t.TokenHash, &t.ExpiresAt, &t.CreatedByIP, &t.UserAgent,
		&t.IsRevoked, &revokedAt, &revokedBy, &reason, &replacedBy, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.RevokedAt = timePtr(revokedAt)
	t.RevokedByIP = revokedBy.String
	t.RevokedReason = reason.String
	t.ReplacedByToken = replacedBy.String
	return &t, nil
}
