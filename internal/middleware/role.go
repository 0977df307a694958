package middleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

// Authorize admits callers whose capability set matches allowed, which may
// mix roles and staff sub-roles.  Once allowed names a sub-role, staff
// members with a sub-role are matched on that sub-role alone.
func Authorize(allowed ...string) echo.MiddlewareFunc {
	set := make(map[string]bool, len(allowed))
	narrowed := false
	for _, a := range allowed {
		set[a] = true
		if model.IsSubRole(a) {
			narrowed = true
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := CurrentIdentity(c)
			if !ok {
				return unauthorized(c, CodeNoToken, "not authorized, no token")
			}
			if !Allowed(id, set, narrowed) {
				label := id.Role
				if id.SubRole != "" {
					label += "/" + id.SubRole
				}
				return Fail(c, http.StatusForbidden, "FORBIDDEN",
					fmt.Sprintf("role %s is not authorized to access this route", label))
			}
			return next(c)
		}
	}
}

// Allowed is the predicate behind Authorize.
func Allowed(id *Identity, allowed map[string]bool, narrowed bool) bool {
	staff := id.Role == model.RoleConsultancyStaff && id.SubRole != ""
	if staff && narrowed {
		return allowed[id.SubRole] && id.Has(id.SubRole)
	}
	for _, c := range id.Capabilities {
		if allowed[c] {
			return true
		}
	}
	return false
}
