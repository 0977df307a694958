package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/middleware"
)

const (
	refreshCookie     = "refreshToken"
	refreshCookiePath = "/api/v1/auth"
)

// CookieConfig shapes the auth cookies.
type CookieConfig struct {
	Secure bool
	Domain string
}

func (cc CookieConfig) set(c echo.Context, name, value, path string, expires time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   cc.Domain,
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   cc.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (cc CookieConfig) setAuth(c echo.Context, access string, accessExp time.Time, refresh string, refreshExp time.Time) {
	cc.set(c, middleware.AccessCookie, access, "/", accessExp)
	cc.set(c, refreshCookie, refresh, refreshCookiePath, refreshExp)
}

func (cc CookieConfig) clear(c echo.Context) {
	for _, ck := range []struct{ name, path string }{
		{middleware.AccessCookie, "/"},
		{refreshCookie, refreshCookiePath},
	} {
		c.SetCookie(&http.Cookie{
			Name:     ck.name,
			Value:    "",
			Path:     ck.path,
			Domain:   cc.Domain,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cc.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// refreshFrom reads the refresh token from its cookie, falling back to the
// body field for clients that cannot hold cookies.
func refreshFrom(c echo.Context, body string) string {
	if ck, err := c.Cookie(refreshCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	return body
}
