package service

import (
	"context"
	"time"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/queue"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/repository"
)

// UserStore is the credential store.
type UserStore interface {
	Create(ctx context.Context, u *model.User) (uint64, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	GetByResetTokenHash(ctx context.Context, hash string, now time.Time) (*model.User, error)
	RegisterFailedLogin(ctx context.Context, id uint64, now time.Time, maxAttempts int, lockFor time.Duration) (repository.LoginFailure, error)
	ResetLoginState(ctx context.Context, id uint64) error
	UpdatePassword(ctx context.Context, id uint64, hash string, now time.Time) error
	SetResetToken(ctx context.Context, id uint64, hash string, expires time.Time) error
}

// SessionStore owns refresh tokens and the sessions bound to them.  Every
// method that changes a token changes its session atomically.
type SessionStore interface {
	Create(ctx context.Context, tok *model.RefreshToken, sess *model.Session) error
	FindByHash(ctx context.Context, hash string) (*model.RefreshToken, error)
	Rotate(ctx context.Context, hash string, rev repository.Revocation, next *model.RefreshToken, sess *model.Session) (*model.RefreshToken, error)
	RevokeByHash(ctx context.Context, hash string, userID uint64, rev repository.Revocation) (*model.RefreshToken, error)
	RevokeFamily(ctx context.Context, familyID string, rev repository.Revocation) (int64, error)
	RevokeSession(ctx context.Context, userID uint64, sessionID string, rev repository.Revocation) error
	RevokeAllForUser(ctx context.Context, userID uint64, exceptSessionID string, rev repository.Revocation) (int64, error)
	ListActive(ctx context.Context, userID uint64, now time.Time) ([]model.Session, error)
	DeleteInactiveSessions(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (*model.SessionStats, error)
}

// AuditRecorder accepts entries without blocking or failing.
type AuditRecorder interface {
	Record(e model.AuditLog)
}

// EventPublisher hands security events to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.SecurityEvent) error
}

// Client describes the caller's network origin for audit and session rows.
type Client struct {
	IP        string
	UserAgent string
	Method    string
	Endpoint  string
}

// Actor is an authenticated caller performing an administrative action.
type Actor struct {
	UserID        uint64
	Role          string
	ConsultancyID uint64
}
