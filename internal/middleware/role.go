package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/evee/internal/apperr"
	"github.com/iliyamo/evee/internal/policy"
)

// Authorize rejects callers whose role does not reach the minimum role
// of action.  Ownership-based exceptions are decided by the services,
// so routes open to owners should not use this middleware.  It must run
// after Authenticate.
func Authorize(action policy.Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u := CurrentUser(c)
			if u == nil {
				return apperr.New(apperr.Unauthenticated, "Not authorized, no token")
			}
			if !policy.Can(u, action, 0) {
				return apperr.New(apperr.Forbidden, "Not authorized to access this route")
			}
			return next(c)
		}
	}
}
