package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/evee/internal/apperr"
	"github.com/iliyamo/evee/internal/middleware"
	"github.com/iliyamo/evee/internal/model"
	"github.com/iliyamo/evee/internal/service"
)

// StationHandler serves the station directory.
type StationHandler struct {
	stations *service.StationService
}

func NewStationHandler(stations *service.StationService) *StationHandler {
	return &StationHandler{stations: stations}
}

// List handles GET /api/stations.  Query parameters:
//
//	plugTypes, chargingSpeed  comma separated, any-of
//	availability              "true" keeps stations with a free slot
//	maxPrice, rating          numeric bounds
//	lat, lng, sortByDistance  caller position and distance ordering
func (h *StationHandler) List(c echo.Context) error {
	q, err := parseStationQuery(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	list, err := h.stations.List(ctx, q)
	if err != nil {
		return err
	}
	return okList(c, list)
}

func (h *StationHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	st, err := h.stations.Get(ctx, id)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, st)
}

func (h *StationHandler) Create(c echo.Context) error {
	var st model.Station
	if err := bind(c, &st); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	created, err := h.stations.Create(ctx, middleware.CurrentUser(c), st)
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, created)
}

func (h *StationHandler) Update(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var patch service.StationPatch
	if err := bind(c, &patch); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	st, err := h.stations.Update(ctx, middleware.CurrentUser(c), id, patch)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, st)
}

func (h *StationHandler) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.stations.Delete(ctx, middleware.CurrentUser(c), id); err != nil {
		return err
	}
	return okMessage(c, "Station removed")
}

func parseStationQuery(c echo.Context) (service.StationQuery, error) {
	var q service.StationQuery
	for _, p := range splitParam(c.QueryParam("plugTypes")) {
		q.PlugTypes = append(q.PlugTypes, model.PlugType(p))
	}
	for _, s := range splitParam(c.QueryParam("chargingSpeed")) {
		q.ChargingSpeeds = append(q.ChargingSpeeds, model.ChargingSpeed(s))
	}
	q.OnlyAvailable = c.QueryParam("availability") == "true"
	q.SortByDistance = c.QueryParam("sortByDistance") == "true"

	var err error
	if q.MaxPrice, err = floatParam(c, "maxPrice"); err != nil {
		return q, err
	}
	if q.MinRating, err = floatParam(c, "rating"); err != nil {
		return q, err
	}
	if q.Lat, err = floatParam(c, "lat"); err != nil {
		return q, err
	}
	if q.Lng, err = floatParam(c, "lng"); err != nil {
		return q, err
	}
	return q, nil
}

func splitParam(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// floatParam returns nil for an absent parameter and an InvalidRequest
// error for one that is not a number.
func floatParam(c echo.Context, name string) (*float64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperr.Invalidf("Invalid %s", name)
	}
	return &f, nil
}
