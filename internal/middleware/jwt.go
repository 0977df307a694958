package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/repository"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/utils"
)

// AccessCookie holds the access token.  Clients that cannot send cookies
// use the Authorization header instead.
const AccessCookie = "token"

// noToken is written into the access cookie on logout by some clients.
const noToken = "none"

// Machine codes returned by Authenticate.
const (
	CodeNoToken          = "NO_TOKEN"
	CodeTokenExpired     = "TOKEN_EXPIRED"
	CodeInvalidToken     = "INVALID_TOKEN"
	CodeInvalidTokenType = "INVALID_TOKEN_TYPE"
	CodeUserNotFound     = "USER_NOT_FOUND"
	CodeAuthError        = "AUTH_ERROR"
)

// UserLookup resolves the subject of an access token.
type UserLookup interface {
	GetByID(ctx context.Context, id uint64) (*model.User, error)
}

// Authenticate validates the access token and attaches the caller's
// Identity.  Every failure is a 401 with a machine code; an expired token
// is reported as such so the client can call refresh.
func Authenticate(secret string, users UserLookup, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, code, msg := resolve(c, secret, users, log)
			if code != "" {
				return unauthorized(c, code, msg)
			}
			attachIdentity(c, id)
			return next(c)
		}
	}
}

// OptionalAuth attaches an Identity when a valid access token is present
// and otherwise lets the request through anonymously.
func OptionalAuth(secret string, users UserLookup, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id, code, _ := resolve(c, secret, users, log); code == "" {
				attachIdentity(c, id)
			}
			return next(c)
		}
	}
}

func resolve(c echo.Context, secret string, users UserLookup, log zerolog.Logger) (*Identity, string, string) {
	raw := accessToken(c.Request())
	if raw == "" {
		return nil, CodeNoToken, "not authorized, no token"
	}

	claims, err := utils.ParseToken(secret, raw)
	switch {
	case errors.Is(err, utils.ErrTokenExpired):
		return nil, CodeTokenExpired, "access token expired"
	case err != nil:
		return nil, CodeInvalidToken, "not authorized, invalid token"
	}
	if claims.Type != utils.TokenTypeAccess {
		return nil, CodeInvalidTokenType, "not an access token"
	}
	uid, err := claims.UserID()
	if err != nil {
		return nil, CodeInvalidToken, "not authorized, invalid token"
	}

	u, err := users.GetByID(c.Request().Context(), uid)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !u.IsActive) {
		return nil, CodeUserNotFound, "user no longer exists"
	}
	if err != nil {
		log.Error().Err(err).Uint64("user_id", uid).Msg("authenticate: load user")
		return nil, CodeAuthError, "not authorized"
	}

	caps := claims.Caps
	if len(caps) == 0 {
		caps = model.CapabilitiesFor(claims.Role, claims.SubRole)
	}
	return &Identity{
		UserID:        uid,
		Email:         u.Email,
		Role:          claims.Role,
		SubRole:       claims.SubRole,
		ConsultancyID: claims.ConsultancyID,
		SessionID:     claims.SessionID,
		Capabilities:  caps,
	}, "", ""
}

func accessToken(r *http.Request) string {
	if ck, err := r.Cookie(AccessCookie); err == nil {
		if v := strings.TrimSpace(ck.Value); v != "" && v != noToken {
			return v
		}
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		if v := strings.TrimSpace(auth[7:]); v != noToken {
			return v
		}
	}
	return ""
}
