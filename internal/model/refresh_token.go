package model

import "time"

// Reasons recorded in refresh_tokens.revoked_reason.
const (
	RevokeRotated          = "rotated"
	RevokeLogout           = "logout"
	RevokeLogoutAllDevices = "logout_all_devices"
	RevokeSessionRevoked   = "session_revoked"
	RevokePasswordChanged  = "password_changed"
	RevokePasswordReset    = "password_reset"
	RevokeReuseDetected    = "reuse_detected"
)

// RefreshToken models a row of `refresh_tokens`.  Only the SHA-256 hash of
// the opaque token is stored; the plaintext leaves the process once, in the
// login or refresh response.  Every token minted by rotation shares the
// FamilyID of the login that started the chain.
type RefreshToken struct {
	ID              string     // refresh_tokens.id (uuid)
	UserID          uint64     // refresh_tokens.user_id
	FamilyID        string     // refresh_tokens.family_id
	TokenHash       string     // refresh_tokens.token_hash
	ExpiresAt       time.Time  // refresh_tokens.expires_at
	CreatedByIP     string     // refresh_tokens.created_by_ip
	UserAgent       string     // refresh_tokens.user_agent
	IsRevoked       bool       // refresh_tokens.is_revoked
	RevokedAt       *time.Time // refresh_tokens.revoked_at
	RevokedByIP     string     // refresh_tokens.revoked_by_ip
	RevokedReason   string     // refresh_tokens.revoked_reason
	ReplacedByToken string     // refresh_tokens.replaced_by_token
	CreatedAt       time.Time  // refresh_tokens.created_at
}

// IsExpired reports whether the token's lifetime has run out at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive is true for a token that is neither revoked nor expired.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked && !t.IsExpired(now)
}
