package model

import "time"

// Audit actions.
const (
	ActionLogin                 = "login"
	ActionLogout                = "logout"
	ActionLoginFailed           = "login_failed"
	ActionPasswordChange        = "password_change"
	ActionPasswordResetRequest  = "password_reset_request"
	ActionPasswordResetComplete = "password_reset_complete"
	ActionAccountLocked         = "account_locked"
	ActionAccountUnlocked       = "account_unlocked"
	ActionProfileUpdate         = "profile_update"
	ActionFileUpload            = "file_upload"
	ActionFileDelete            = "file_delete"
	ActionStudentCreate         = "student_create"
	ActionStudentUpdate         = "student_update"
	ActionStudentDelete         = "student_delete"
	ActionRoleChange            = "role_change"
	ActionPermissionChange      = "permission_change"
	ActionAPIAccess             = "api_access"

	ActionTokenRefresh       = "token_refresh"
	ActionTokenReuseDetected = "token_reuse_detected"
	ActionSessionRevoke      = "session_revoke"
	ActionLogoutAllDevices   = "logout_all_devices"
	ActionSessionsCleanup    = "sessions_cleanup"
	ActionUserRegister       = "user_register"
)

// Audit outcome values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusWarning = "warning"
)

// AuditLog is an append-only record in `audit_logs`.  Rows are never
// updated; the sweeper removes them once they pass the retention window.
type AuditLog struct {
	ID           string         `json:"id"`
	UserID       *uint64        `json:"userId,omitempty"`
	UserEmail    string         `json:"userEmail,omitempty"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource,omitempty"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Method       string         `json:"method,omitempty"`
	Endpoint     string         `json:"endpoint,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	Status       string         `json:"status"`
	StatusCode   int            `json:"statusCode,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// AuditFilter narrows an audit listing.  Zero values match everything.
type AuditFilter struct {
	UserID *uint64
	Action string
	Status string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// AuditPage is one page of an audit listing.
type AuditPage struct {
	Items []AuditLog `json:"items"`
	Total int64      `json:"total"`
	Limit int        `json:"limit"`
	Skip  int        `json:"skip"`
}
