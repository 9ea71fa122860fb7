package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/evee/internal/middleware"
	"github.com/iliyamo/evee/internal/service"
)

// UserHandler serves the caller's profile, favorites and the admin user
// management routes.
type UserHandler struct {
	users *service.UserService
}

func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

type passwordReq struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type roleReq struct {
	Role string `json:"role"`
}

func (h *UserHandler) Me(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	u, err := h.users.Profile(ctx, middleware.CurrentUser(c).ID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, u)
}

func (h *UserHandler) UpdateMe(c echo.Context) error {
	var in service.ProfileUpdate
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	u, err := h.users.UpdateProfile(ctx, middleware.CurrentUser(c).ID, in)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, u)
}

func (h *UserHandler) ChangePassword(c echo.Context) error {
	var req passwordReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.users.ChangePassword(ctx, middleware.CurrentUser(c).ID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return okMessage(c, "Password updated successfully")
}

func (h *UserHandler) AddFavorite(c echo.Context) error {
	stationID, err := parseID(c, "stationId")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	favs, err := h.users.AddFavorite(ctx, middleware.CurrentUser(c).ID, stationID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, favs)
}

func (h *UserHandler) RemoveFavorite(c echo.Context) error {
	stationID, err := parseID(c, "stationId")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	favs, err := h.users.RemoveFavorite(ctx, middleware.CurrentUser(c).ID, stationID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, favs)
}

func (h *UserHandler) List(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	list, err := h.users.List(ctx, middleware.CurrentUser(c))
	if err != nil {
		return err
	}
	return okList(c, list)
}

// ChangeRole handles PUT /api/users/:id with body {role}.
func (h *UserHandler) ChangeRole(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req roleReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	u, err := h.users.ChangeRole(ctx, middleware.CurrentUser(c), id, req.Role)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, u)
}
