package model

import "time"

// Role names stored in users.role.  A role is the coarse tenant-level
// permission; consultancy staff are further narrowed by a SubRole.
const (
	RoleSuperAdmin       = "super_admin"
	RoleConsultancyAdmin = "consultancy_admin"
	RoleConsultancyStaff = "consultancy_staff"
	RoleStudent          = "student"
	RoleCounselor        = "counselor"
)

// Sub-roles a consultancy_staff member may carry.
const (
	SubRoleManager         = "manager"
	SubRoleReceptionist    = "receptionist"
	SubRoleCounselor       = "counselor"
	SubRoleDocumentOfficer = "document_officer"
	SubRoleAccountant      = "accountant"
	SubRoleMarketing       = "marketing"
)

var roles = map[string]bool{
	RoleSuperAdmin:       true,
	RoleConsultancyAdmin: true,
	RoleConsultancyStaff: true,
	RoleStudent:          true,
	RoleCounselor:        true,
}

var subRoles = map[string]bool{
	SubRoleManager:         true,
	SubRoleReceptionist:    true,
	SubRoleCounselor:       true,
	SubRoleDocumentOfficer: true,
	SubRoleAccountant:      true,
	SubRoleMarketing:       true,
}

// IsRole reports whether name is a known role.
func IsRole(name string) bool { return roles[name] }

// IsSubRole reports whether name is a known staff sub-role.
func IsSubRole(name string) bool { return subRoles[name] }

// User represents an account as stored in the `users` table.
//
// Fields:
//
//	ID                – primary key identifier of the user.
//	Email             – unique, lower-cased login name.
//	PasswordHash      – bcrypt hash; never serialised.
//	Role / SubRole    – coarse role and optional staff specialisation.
//	ConsultancyID     – tenant the user belongs to (nil for super admins and free students).
//	LoginAttempts     – consecutive failed password checks since the last success.
//	LockUntil         – while in the future every password check is rejected.
//	ResetTokenHash    – SHA-256 of the outstanding password reset token.
type User struct {
	ID                uint64     `json:"id"`
	Email             string     `json:"email"`
	Name              string     `json:"name"`
	PasswordHash      string     `json:"-"`
	Role              string     `json:"role"`
	SubRole           string     `json:"subRole,omitempty"`
	ConsultancyID     *uint64    `json:"consultancyId,omitempty"`
	IsActive          bool       `json:"isActive"`
	LoginAttempts     int        `json:"-"`
	LockUntil         *time.Time `json:"-"`
	LastFailedLogin   *time.Time `json:"-"`
	PasswordChangedAt *time.Time `json:"passwordChangedAt,omitempty"`
	ResetTokenHash    string     `json:"-"`
	ResetTokenExpires *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// IsLocked reports whether the account is inside a lockout window at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// Capabilities flattens role and sub-role into the set carried on access
// tokens.  Only consultancy staff contribute their sub-role.
func (u *User) Capabilities() []string {
	return CapabilitiesFor(u.Role, u.SubRole)
}

// CapabilitiesFor is Capabilities for callers that only hold the claims.
func CapabilitiesFor(role, subRole string) []string {
	caps := []string{role}
	if role == RoleConsultancyStaff && subRole != "" {
		caps = append(caps, subRole)
	}
	return caps
}
