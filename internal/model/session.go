package model

import "time"

// Device types derived from the user agent.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// Reasons recorded in sessions.end_reason.
const (
	EndLogout            = "logout"
	EndExpired           = "expired"
	EndRevoked           = "revoked"
	EndReplaced          = "replaced"
	EndRevokedAllDevices = "revoked_all_devices"
	EndPasswordChanged   = "password_changed"
)

// Session is one logged-in device, tied to exactly one refresh token.  The
// row is deactivated in the same transaction that revokes its token.
type Session struct {
	ID             string
	UserID         uint64
	RefreshTokenID string
	IP             string
	UserAgent      string
	Browser        string
	OS             string
	DeviceType     string
	LastActivity   time.Time
	IsActive       bool
	ExpiresAt      time.Time
	EndedAt        *time.Time
	EndReason      string
	CreatedAt      time.Time
}

// IsLive reports whether the session is active and unexpired at now.
func (s *Session) IsLive(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// SessionView is the client-facing projection of a Session.  The raw user
// agent is deliberately absent.
type SessionView struct {
	ID           string    `json:"id"`
	IP           string    `json:"ip"`
	Browser      string    `json:"browser"`
	OS           string    `json:"os"`
	DeviceType   string    `json:"deviceType"`
	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	IsCurrent    bool      `json:"isCurrent"`
}

// View projects s for API responses.
func (s *Session) View(currentID string) SessionView {
	return SessionView{
		ID:           s.ID,
		IP:           s.IP,
		Browser:      s.Browser,
		OS:           s.OS,
		DeviceType:   s.DeviceType,
		LastActivity: s.LastActivity,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		IsCurrent:    currentID != "" && s.ID == currentID,
	}
}

// SessionStats aggregates the registry for the admin dashboard.
type SessionStats struct {
	ActiveSessions      int64            `json:"activeSessions"`
	ActiveUsers         int64            `json:"activeUsers"`
	SessionsByDevice    map[string]int64 `json:"sessionsByDevice"`
	ActiveRefreshTokens int64            `json:"activeRefreshTokens"`
	RevokedTokens       int64            `json:"revokedTokens"`
	ExpiredTokens       int64            `json:"expiredTokens"`
}
