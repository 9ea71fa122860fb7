package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/evee/internal/middleware"
	"github.com/iliyamo/evee/internal/service"
)

// AuthHandler exposes registration, login and token management.
type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

// Register creates a user with role "user" and signs them in.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := h.auth.Register(ctx, req.Name, req.Email, req.Password)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, res)
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := h.auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, res)
}

// Refresh exchanges a refresh token for a new token pair.  The old
// refresh token is revoked.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := h.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, res)
}

// Logout revokes the refresh token in the body.  Without one, an
// authenticated caller is signed out of every session.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	var userID uint64
	if u := middleware.CurrentUser(c); u != nil {
		userID = u.ID
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.auth.Logout(ctx, userID, req.RefreshToken); err != nil {
		return err
	}
	return okMessage(c, "Logged out")
}
