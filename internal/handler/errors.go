package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/middleware"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/service"
)

type failure struct {
	status  int
	code    string
	message string
}

var failures = []struct {
	err error
	failure
}{
	{service.ErrInvalidInput, failure{http.StatusBadRequest, "VALIDATION_ERROR", ""}},
	{service.ErrInvalidCredentials, failure{http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password"}},
	{service.ErrInvalidToken, failure{http.StatusUnauthorized, "INVALID_TOKEN", "invalid refresh token"}},
	{service.ErrTokenRevoked, failure{http.StatusUnauthorized, "TOKEN_REVOKED", "refresh token has been revoked"}},
	{service.ErrTokenExpired, failure{http.StatusUnauthorized, "REFRESH_TOKEN_EXPIRED", "refresh token expired, please log in again"}},
	{service.ErrUserNotFound, failure{http.StatusUnauthorized, middleware.CodeUserNotFound, "user not found"}},
	{service.ErrWrongPassword, failure{http.StatusUnauthorized, "WRONG_PASSWORD", "current password is incorrect"}},
	{service.ErrInvalidResetToken, failure{http.StatusUnauthorized, "INVALID_RESET_TOKEN", "invalid or expired reset token"}},
	{service.ErrSessionNotFound, failure{http.StatusNotFound, "NOT_FOUND", "session not found"}},
	{service.ErrEmailExists, failure{http.StatusConflict, "EMAIL_EXISTS", "email already registered"}},
}

// writeError maps service errors onto the JSON error envelope.  Anything
// unrecognised is logged and reported as a generic 500.
func writeError(c echo.Context, log zerolog.Logger, err error) error {
	var locked *service.LockedError
	if errors.As(err, &locked) {
		retry := locked.RetryAfter(time.Now())
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
		return c.JSON(http.StatusUnauthorized, middleware.ErrorBody{
			Code:      "ACCOUNT_LOCKED",
			Message:   "account locked due to too many failed login attempts, try again later",
			LockUntil: locked.Until.UTC().Format(time.RFC3339),
		})
	}
	for _, f := range failures {
		if errors.Is(err, f.err) {
			msg := f.message
			if msg == "" {
				msg = strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": ")
			}
			return middleware.Fail(c, f.status, f.code, msg)
		}
	}
	log.Error().Err(err).Str("method", c.Request().Method).Str("path", c.Path()).Msg("request failed")
	return middleware.Fail(c, http.StatusInternalServerError, "SERVER_ERROR", "something went wrong")
}

func badRequest(c echo.Context, message string) error {
	return middleware.Fail(c, http.StatusBadRequest, "VALIDATION_ERROR", message)
}
