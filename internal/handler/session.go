package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/middleware"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/service"
)

// SessionHandler serves the device list and the admin session tools.
type SessionHandler struct {
	Auth     *service.AuthService
	Sessions *service.SessionService
	Log      zerolog.Logger
}

func NewSessionHandler(auth *service.AuthService, sessions *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{Auth: auth, Sessions: sessions, Log: log.With().Str("component", "session_handler").Logger()}
}

// Mine lists the caller's active sessions.
func (h *SessionHandler) Mine(c echo.Context) error {
	id, _ := middleware.CurrentIdentity(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	views, err := h.Sessions.GetActiveSessions(ctx, id.UserID, id.SessionID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "count": len(views), "sessions": views})
}

// RevokeOthers signs the caller out of every other device.
func (h *SessionHandler) RevokeOthers(c echo.Context) error {
	id, _ := middleware.CurrentIdentity(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	n, err := h.Auth.RevokeAllOtherSessions(ctx, id.UserID, id.SessionID, clientFrom(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "revokedCount": n})
}

// Revoke ends one of the caller's sessions.
func (h *SessionHandler) Revoke(c echo.Context) error {
	id, _ := middleware.CurrentIdentity(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Sessions.RevokeSession(ctx, id.UserID, c.Param("id"), clientFrom(c)); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "session revoked"})
}

// Stats reports registry totals.
func (h *SessionHandler) Stats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	st, err := h.Sessions.Stats(ctx)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "stats": st})
}

// Cleanup deletes sessions idle for more than ?days= (default 30).
func (h *SessionHandler) Cleanup(c echo.Context) error {
	days := 0
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return badRequest(c, "days must be a positive integer")
		}
		days = n
	}
	id, _ := middleware.CurrentIdentity(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Sessions.CleanupInactive(ctx, days, service.Actor{UserID: id.UserID, Role: id.Role}, clientFrom(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "result": res})
}
