package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

const userColumns = "id,email,name,password_hash,role,sub_role,consultancy_id,is_active," +
	"login_attempts,lock_until,last_failed_login,password_changed_at," +
	"reset_token_hash,reset_token_expires,created_at,updated_at"

// LoginFailure is the state of an account after a failed password check.
type LoginFailure struct {
	Attempts  int
	LockUntil *time.Time
	Locked    bool // lock engaged by this failure
}

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// NormalizeEmail is the canonical form used for lookups and the unique key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts u (PasswordHash already set) and returns its ID.
func (r *UserRepo) Create(ctx context.Context, u *model.User) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, name, password_hash, role, sub_role, consultancy_id, is_active) VALUES (?,?,?,?,?,?,?)",
		NormalizeEmail(u.Email), u.Name, u.PasswordHash, u.Role, nullString(u.SubRole), nullUint(u.ConsultancyID), u.IsActive)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrEmailExists
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email))
	return scanUser(row)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	return scanUser(row)
}

// GetByResetTokenHash finds the user holding an unexpired reset token.
func (r *UserRepo) GetByResetTokenHash(ctx context.Context, hash string, now time.Time) (*model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE reset_token_hash=? AND reset_token_expires > ? LIMIT 1", hash, now)
	return scanUser(row)
}

// RegisterFailedLogin counts one failed password check.  The increment, the
// lock decision and the read-back happen in one transaction so concurrent
// failures cannot lose updates.  A lock that already lapsed restarts the
// count at 1.
func (r *UserRepo) RegisterFailedLogin(ctx context.Context, id uint64, now time.Time, maxAttempts int, lockFor time.Duration) (LoginFailure, error) {
	var out LoginFailure
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET
				login_attempts = CASE WHEN lock_until IS NOT NULL AND lock_until <= ? THEN 1 ELSE login_attempts + 1 END,
				lock_until = CASE WHEN lock_until IS NOT NULL AND lock_until <= ? THEN NULL ELSE lock_until END,
				last_failed_login = ?
			WHERE id = ?`, now, now, now, id)
		if err != nil {
			return fmt.Errorf("increment attempts: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		res, err = tx.ExecContext(ctx,
			"UPDATE users SET lock_until = ? WHERE id = ? AND login_attempts >= ? AND lock_until IS NULL",
			now.Add(lockFor), id, maxAttempts)
		if err != nil {
			return fmt.Errorf("apply lock: %w", err)
		}
		n, _ := res.RowsAffected()
		out.Locked = n > 0

		var lock sql.NullTime
		if err := tx.QueryRowContext(ctx,
			"SELECT login_attempts, lock_until FROM users WHERE id = ?", id).Scan(&out.Attempts, &lock); err != nil {
			return fmt.Errorf("read attempts: %w", err)
		}
		out.LockUntil = timePtr(lock)
		return nil
	})
	return out, err
}

// ResetLoginState clears the failure counter and any lock.
func (r *UserRepo) ResetLoginState(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET login_attempts=0, lock_until=NULL WHERE id=?", id)
	return err
}

// UpdatePassword stores a new hash and clears reset and lockout state.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, hash string, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE users SET password_hash=?, password_changed_at=?, reset_token_hash=NULL,
			reset_token_expires=NULL, login_attempts=0, lock_until=NULL WHERE id=?`,
		hash, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetResetToken records the hash of an outstanding reset token.
func (r *UserRepo) SetResetToken(ctx context.Context, id uint64, hash string, expires time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET reset_token_hash=?, reset_token_expires=? WHERE id=?", hash, expires, id)
	return err
}

func scanUser(row *sql.Row) (*model.User, error) {
	var (
		u                                           model.User
		subRole, resetHash                          sql.NullString
		consultancy                                 sql.NullInt64
		lockUntil, lastFailed, changedAt, resetExps sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &subRole, &consultancy, &u.IsActive,
		&u.LoginAttempts, &lockUntil, &lastFailed, &changedAt, &resetHash, &resetExps, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.SubRole = subRole.String
	u.ResetTokenHash = resetHash.String
	if consultancy.Valid {
		id := uint64(consultancy.Int64)
		u.ConsultancyID = &id
	}
	u.LockUntil = timePtr(lockUntil)
	u.LastFailedLogin = timePtr(lastFailed)
	u.PasswordChangedAt = timePtr(changedAt)
	u.ResetTokenExpires = timePtr(resetExps)
	return &u, nil
}
