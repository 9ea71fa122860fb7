package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/evee/internal/middleware"
	"github.com/iliyamo/evee/internal/model"
	"github.com/iliyamo/evee/internal/service"
)

// BookingHandler serves /api/bookings.  Every route requires an
// authenticated caller; ownership is checked by the service.
type BookingHandler struct {
	bookings *service.BookingService
}

func NewBookingHandler(bookings *service.BookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

type statusReq struct {
	Status model.BookingStatus `json:"status"`
}

// ListMine returns the caller's bookings, newest first.
func (h *BookingHandler) ListMine(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	list, err := h.bookings.ListMine(ctx, middleware.CurrentUser(c))
	if err != nil {
		return err
	}
	return okList(c, list)
}

// ListAll returns every booking with its user and station.
func (h *BookingHandler) ListAll(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	list, err := h.bookings.ListAll(ctx, middleware.CurrentUser(c))
	if err != nil {
		return err
	}
	return okList(c, list)
}

func (h *BookingHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	b, err := h.bookings.Get(ctx, middleware.CurrentUser(c), id)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, b)
}

func (h *BookingHandler) Create(c echo.Context) error {
	var in service.CreateBookingInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	b, err := h.bookings.Create(ctx, middleware.CurrentUser(c), in)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, b)
}

// UpdateStatus handles PUT /api/bookings/:id with body {status}.
func (h *BookingHandler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req statusReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	b, err := h.bookings.UpdateStatus(ctx, middleware.CurrentUser(c), id, req.Status)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, b)
}

func (h *BookingHandler) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.bookings.Delete(ctx, middleware.CurrentUser(c), id); err != nil {
		return err
	}
	return okMessage(c, "Booking removed")
}
