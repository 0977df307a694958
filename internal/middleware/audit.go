package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

// Recorder accepts audit entries without blocking.
type Recorder interface {
	Record(e model.AuditLog)
}

// AuditAccess records an api_access entry once the response has been
// written, capturing the final status code.  Place it after Authenticate
// so the entry names the caller.
func AuditAccess(rec Recorder, resource string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			entry := model.AuditLog{
				Action:     model.ActionAPIAccess,
				Resource:   resource,
				ResourceID: c.Param("id"),
				Method:     req.Method,
				Endpoint:   req.URL.Path,
				IP:         c.RealIP(),
				UserAgent:  req.UserAgent(),
			}
			c.Response().After(func() {
				if id, ok := CurrentIdentity(c); ok {
					uid := id.UserID
					entry.UserID = &uid
					entry.UserEmail = id.Email
				}
				entry.StatusCode = c.Response().Status
				entry.Status = model.StatusSuccess
				if entry.StatusCode >= 400 {
					entry.Status = model.StatusFailure
				}
				rec.Record(entry)
			})
			return next(c)
		}
	}
}
