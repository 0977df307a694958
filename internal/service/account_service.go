package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/queue"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/repository"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/utils"
)

type RegisterInput struct {
	Name          string
	Email         string
	Password      string
	ConsultancyID *uint64
	Client        Client
}

// Register creates a student account.  Staff and admin accounts are
// provisioned elsewhere.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	name := strings.TrimSpace(in.Name)
	email := repository.NormalizeEmail(in.Email)
	switch {
	case name == "":
		return nil, invalid("name is required")
	case email == "" || !strings.Contains(email, "@"):
		return nil, invalid("a valid email is required")
	case len(in.Password) < utils.MinPasswordLength:
		return nil, invalid(fmt.Sprintf("password must be at least %d characters", utils.MinPasswordLength))
	}

	hash, err := utils.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	u := &model.User{
		Email:         email,
		Name:          name,
		PasswordHash:  hash,
		Role:          model.RoleStudent,
		ConsultancyID: in.ConsultancyID,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	id, err := s.users.Create(ctx, u)
	if errors.Is(err, repository.ErrEmailExists) {
		return nil, ErrEmailExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.ID = id
	s.record(in.Client, &u.ID, u.Email, model.ActionUserRegister, model.StatusSuccess, "", nil)
	return u, nil
}

type ChangePasswordInput struct {
	UserID           uint64
	Current          string
	Next             string
	CurrentSessionID string
	Client           Client
}

// ChangePassword replaces the password and ends every session except the
// caller's.  It returns how many sessions were ended.
func (s *AuthService) ChangePassword(ctx context.Context, in ChangePasswordInput) (int64, error) {
	if len(in.Next) < utils.MinPasswordLength {
		return 0, invalid(fmt.Sprintf("password must be at least %d characters", utils.MinPasswordLength))
	}
	u, err := s.users.GetByID(ctx, in.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load user: %w", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, in.Current) {
		s.record(in.Client, &u.ID, u.Email, model.ActionPasswordChange, model.StatusFailure, "current password is incorrect", nil)
		return 0, ErrWrongPassword
	}

	hash, err := utils.HashPassword(in.Next, s.bcryptCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	if err := s.users.UpdatePassword(ctx, u.ID, hash, now); err != nil {
		return 0, fmt.Errorf("update password: %w", err)
	}
	n, err := s.sessions.RevokeAllForUser(ctx, u.ID, in.CurrentSessionID, repository.Revocation{
		At: now, IP: in.Client.IP, Reason: model.RevokePasswordChanged, EndReason: model.EndPasswordChanged,
	})
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}

	s.record(in.Client, &u.ID, u.Email, model.ActionPasswordChange, model.StatusSuccess, "",
		map[string]any{"revokedSessions": n})
	s.publish(ctx, queue.SecurityEvent{
		Type: queue.EventPasswordChanged, UserID: u.ID, Email: u.Email, IP: in.Client.IP, UserAgent: in.Client.UserAgent,
		Details: map[string]string{"revoked_sessions": strconv.FormatInt(n, 10)},
	}, u)
	return n, nil
}

// ForgotPassword starts a reset for email.  It reports success whether or
// not the account exists; only storage failures are returned.
func (s *AuthService) ForgotPassword(ctx context.Context, email string, c Client) error {
	email = repository.NormalizeEmail(email)
	if email == "" {
		return invalid("email is required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		s.record(c, nil, email, model.ActionPasswordResetRequest, model.StatusFailure, "unknown email", nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	raw, err := utils.RandomHex(32)
	if err != nil {
		return fmt.Errorf("reset token: %w", err)
	}
	now := s.now()
	expires := now.Add(s.resetTTL)
	if err := s.users.SetResetToken(ctx, u.ID, utils.HashToken(raw), expires); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	s.record(c, &u.ID, u.Email, model.ActionPasswordResetRequest, model.StatusSuccess, "", nil)
	s.publish(ctx, queue.SecurityEvent{
		Type: queue.EventPasswordResetRequested, UserID: u.ID, Email: u.Email, IP: c.IP, UserAgent: c.UserAgent,
		Link:    s.clientURL + "/resetpassword/" + raw,
		Details: map[string]string{"expires_at": expires.UTC().Format(time.RFC3339)},
	}, u)
	return nil
}

// ResetPassword consumes a reset token, sets the new password and ends
// every session of the account.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string, c Client) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidResetToken
	}
	if len(password) < utils.MinPasswordLength {
		return invalid(fmt.Sprintf("password must be at least %d characters", utils.MinPasswordLength))
	}
	now := s.now()
	u, err := s.users.GetByResetTokenHash(ctx, utils.HashToken(token), now)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvalidResetToken
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	hash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash, now); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	n, err := s.sessions.RevokeAllForUser(ctx, u.ID, "", repository.Revocation{
		At: now, IP: c.IP, Reason: model.RevokePasswordReset, EndReason: model.EndPasswordChanged,
	})
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.record(c, &u.ID, u.Email, model.ActionPasswordResetComplete, model.StatusSuccess, "",
		map[string]any{"revokedSessions": n})
	s.publish(ctx, queue.SecurityEvent{
		Type: queue.EventPasswordChanged, UserID: u.ID, Email: u.Email, IP: c.IP, UserAgent: c.UserAgent,
		Details: map[string]string{"revoked_sessions": strconv.FormatInt(n, 10), "via": "reset"},
	}, u)
	return nil
}

// UnlockAccount clears a lockout.  A consultancy admin may only unlock
// users of their own consultancy; anyone else looks like a missing user.
func (s *AuthService) UnlockAccount(ctx context.Context, actor Actor, userID uint64, c Client) error {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if actor.Role != model.RoleSuperAdmin {
		if u.ConsultancyID == nil || *u.ConsultancyID != actor.ConsultancyID {
			return ErrUserNotFound
		}
	}
	if err := s.users.ResetLoginState(ctx, u.ID); err != nil {
		return fmt.Errorf("reset login state: %w", err)
	}
	s.record(c, &u.ID, u.Email, model.ActionAccountUnlocked, model.StatusSuccess, "",
		map[string]any{"unlockedBy": actor.UserID, "wasLocked": u.IsLocked(s.now()), "attempts": u.LoginAttempts})
	return nil
}
