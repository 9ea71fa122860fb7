package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/evee/internal/model"
)

// Authenticator resolves a raw bearer token to a stored user.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (model.User, error)
}

// Authenticate validates the Bearer access token of the request and
// stores the caller under ContextUser, ContextUserID and ContextRole.
// The role always comes from storage so a demoted user loses access on
// the next request.  Failures are returned as errors and rendered by the
// HTTP error handler.
func Authenticate(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, err := auth.Authenticate(c.Request().Context(), bearerToken(c))
			if err != nil {
				return err
			}
			c.Set(ContextUser, &u)
			c.Set(ContextUserID, u.ID)
			c.Set(ContextRole, u.Role)
			return next(c)
		}
	}
}

// OptionalAuth behaves like Authenticate when a token is present and
// lets anonymous requests through untouched.
func OptionalAuth(auth Authenticator) echo.MiddlewareFunc {
	required := Authenticate(auth)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withUser := required(next)
		return func(c echo.Context) error {
			if bearerToken(c) == "" {
				return next(c)
			}
			return withUser(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}
