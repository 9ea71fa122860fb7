package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/evee/internal/model"
)

// Context keys set by Authenticate.
const (
	ContextUser   = "user"
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// CurrentUser returns the authenticated user stored by Authenticate, or
// nil on public routes.
func CurrentUser(c echo.Context) *model.User {
	u, _ := c.Get(ContextUser).(*model.User)
	return u
}

// userKey identifies the caller for rate limiting.  Anonymous callers
// share the "anon" bucket within their IP.
func userKey(c echo.Context) string {
	if id, ok := c.Get(ContextUserID).(uint64); ok && id != 0 {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
