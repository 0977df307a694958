package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/middleware"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/service"
)

const requestTimeout = 5 * time.Second

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth    *service.AuthService
	Cookies CookieConfig
	Log     zerolog.Logger
}

func NewAuthHandler(auth *service.AuthService, cookies CookieConfig, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{Auth: auth, Cookies: cookies, Log: log.With().Str("component", "auth_handler").Logger()}
}

// ----- DTOs -----

type registerReq struct {
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	ConsultancyID *uint64 `json:"consultancyId"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

type forgotReq struct {
	Email string `json:"email"`
}

type resetReq struct {
	Password string `json:"password"`
}

type changePasswordReq struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type authResp struct {
	Success        bool        `json:"success"`
	AccessToken    string      `json:"accessToken"`
	AccessExpires  time.Time   `json:"accessTokenExpires"`
	RefreshToken   string      `json:"refreshToken"`
	RefreshExpires time.Time   `json:"refreshTokenExpires"`
	User           *model.User `json:"user"`
}

func clientFrom(c echo.Context) service.Client {
	r := c.Request()
	return service.Client{IP: c.RealIP(), UserAgent: r.UserAgent(), Method: r.Method, Endpoint: r.URL.Path}
}

func (h *AuthHandler) respondAuth(c echo.Context, status int, res *service.AuthResult) error {
	h.Cookies.setAuth(c, res.AccessToken, res.AccessExpires, res.RefreshToken, res.RefreshExpires)
	return c.JSON(status, authResp{
		Success:        true,
		AccessToken:    res.AccessToken,
		AccessExpires:  res.AccessExpires,
		RefreshToken:   res.RefreshToken,
		RefreshExpires: res.RefreshExpires,
		User:           res.User,
	})
}

// Register creates a student account.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	u, err := h.Auth.Register(ctx, service.RegisterInput{
		Name: req.Name, Email: req.Email, Password: req.Password, ConsultancyID: req.ConsultancyID, Client: clientFrom(c),
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "user": u})
}

// Login verifies credentials and sets the auth cookies.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Auth.Login(ctx, service.LoginInput{Email: req.Email, Password: req.Password, Client: clientFrom(c)})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return h.respondAuth(c, http.StatusOK, res)
}

// Refresh rotates the refresh token and issues a new access token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	bindErr := c.Bind(&req)
	raw := refreshFrom(c, req.RefreshToken)
	if raw == "" {
		if bindErr != nil {
			return badRequest(c, "invalid body")
		}
		return middleware.Fail(c, http.StatusUnauthorized, middleware.CodeNoToken, "refresh token required")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Auth.Refresh(ctx, service.RefreshInput{Token: raw, Client: clientFrom(c)})
	if err != nil {
		if errors.Is(err, service.ErrTokenRevoked) || errors.Is(err, service.ErrTokenExpired) {
			h.Cookies.clear(c)
		}
		return writeError(c, h.Log, err)
	}
	return h.respondAuth(c, http.StatusOK, res)
}

// Revoke invalidates the presented refresh token.
func (h *AuthHandler) Revoke(c echo.Context) error {
	var req refreshReq
	bindErr := c.Bind(&req)
	raw := refreshFrom(c, req.RefreshToken)
	if raw == "" {
		if bindErr != nil {
			return badRequest(c, "invalid body")
		}
		return middleware.Fail(c, http.StatusUnauthorized, middleware.CodeNoToken, "refresh token required")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	var owner uint64
	if id, ok := middleware.CurrentIdentity(c); ok {
		owner = id.UserID
	}
	if err := h.Auth.Revoke(ctx, raw, owner, clientFrom(c)); err != nil {
		return writeError(c, h.Log, err)
	}
	h.Cookies.clear(c)
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "token revoked"})
}

// Logout ends the current session and always clears the cookies.
func (h *AuthHandler) Logout(c echo.Context) error {
	h.Cookies.clear(c)

	in := service.LogoutInput{RefreshToken: refreshFrom(c, ""), Client: clientFrom(c)}
	if id, ok := middleware.CurrentIdentity(c); ok {
		in.UserID = id.UserID
		in.SessionID = id.SessionID
	}
	if in.RefreshToken == "" && in.SessionID == "" {
		return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "logged out"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	err := h.Auth.Logout(ctx, in)
	switch {
	case err == nil, errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrSessionNotFound):
		return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "logged out"})
	}
	return writeError(c, h.Log, err)
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c echo.Context) error {
	id, _ := middleware.CurrentIdentity(c)
	u, err := h.Auth.Me(c.Request().Context(), id.UserID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "user": u, "sessionId": id.SessionID})
}

// ForgotPassword starts a password reset.  The answer does not reveal
// whether the email is registered.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Auth.ForgotPassword(ctx, req.Email, clientFrom(c)); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "if the email is registered, a reset link has been sent",
	})
}

// ResetPassword consumes the token from the reset link.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Auth.ResetPassword(ctx, c.Param("token"), req.Password, clientFrom(c)); err != nil {
		return writeError(c, h.Log, err)
	}
	h.Cookies.clear(c)
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "password has been reset, please log in"})
}

// ChangePassword sets a new password and signs out every other device.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	id, _ := middleware.CurrentIdentity(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	n, err := h.Auth.ChangePassword(ctx, service.ChangePasswordInput{
		UserID: id.UserID, Current: req.CurrentPassword, Next: req.NewPassword,
		CurrentSessionID: id.SessionID, Client: clientFrom(c),
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "revokedSessions": n})
}

// UnlockUser clears a lockout on behalf of an admin.
func (h *AuthHandler) UnlockUser(c echo.Context) error {
	target, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || target == 0 {
		return badRequest(c, "invalid user id")
	}
	id, _ := middleware.CurrentIdentity(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	actor := service.Actor{UserID: id.UserID, Role: id.Role, ConsultancyID: id.ConsultancyID}
	if err := h.Auth.UnlockAccount(ctx, actor, target, clientFrom(c)); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return middleware.Fail(c, http.StatusNotFound, "NOT_FOUND", "user not found")
		}
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "account unlocked"})
}
