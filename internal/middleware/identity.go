package middleware

// identity.go carries the authenticated caller through the request.  The
// Authenticate middleware stores an *Identity on the echo context and on the
// request context; handlers and the remaining middleware read it back with
// CurrentIdentity or IdentityFrom.

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const identityKey = "identity"

type ctxKey struct{}

// Identity is the resolved caller of a protected route.
type Identity struct {
	UserID        uint64
	Email         string
	Role          string
	SubRole       string
	ConsultancyID uint64
	SessionID     string
	Capabilities  []string
}

// Has reports whether capability is in the identity's set.
func (id *Identity) Has(capability string) bool {
	for _, c := range id.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// CurrentIdentity returns the identity attached by Authenticate.
func CurrentIdentity(c echo.Context) (*Identity, bool) {
	id, ok := c.Get(identityKey).(*Identity)
	return id, ok && id != nil
}

// IdentityFrom is CurrentIdentity for code that only sees a context.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}

func attachIdentity(c echo.Context, id *Identity) {
	c.Set(identityKey, id)
	c.SetRequest(c.Request().WithContext(context.WithValue(c.Request().Context(), ctxKey{}, id)))
}

// userID returns the caller's id as a string, or "anon" when the request is
// not authenticated.
func userID(c echo.Context) string {
	if id, ok := CurrentIdentity(c); ok {
		return strconv.FormatUint(id.UserID, 10)
	}
	return "anon"
}

// ErrorBody is the JSON envelope of every failed request.
type ErrorBody struct {
	Success   bool   `json:"success"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	LockUntil string `json:"lockUntil,omitempty"`
}

// Fail writes an ErrorBody with status.
func Fail(c echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorBody{Code: code, Message: message})
}

func unauthorized(c echo.Context, code, message string) error {
	return Fail(c, http.StatusUnauthorized, code, message)
}
