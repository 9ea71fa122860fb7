package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/evee/internal/apperr"
)

func render(t *testing.T, production bool, err error) (int, envelope) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/things", nil), rec)
	NewErrorHandler(production, zap.NewNop())(err, c)

	var body envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestErrorEnvelope(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	tests := []struct {
		name       string
		err        error
		production bool
		status     int
		message    string
		detail     string
	}{
		{"classified", apperr.New(apperr.Forbidden, "Not authorized to access this booking"), false, http.StatusForbidden, "Not authorized to access this booking", ""},
		{"classified with cause", apperr.Wrap(apperr.InvalidRequest, "Invalid request body", cause), false, http.StatusBadRequest, "Invalid request body", cause.Error()},
		{"cause hidden in production", apperr.Wrap(apperr.InvalidRequest, "Invalid request body", cause), true, http.StatusBadRequest, "Invalid request body", ""},
		{"unclassified", cause, false, http.StatusInternalServerError, "Server error", cause.Error()},
		{"unclassified in production", cause, true, http.StatusInternalServerError, "Server error", ""},
		{"route not found", echo.ErrNotFound, false, http.StatusNotFound, "Cannot GET /api/things", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := render(t, tt.production, tt.err)
			if status != tt.status || body.Success || body.Message != tt.message || body.Error != tt.detail {
				t.Fatalf("got %d %+v", status, body)
			}
		})
	}
}

func TestFloatParam(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/stations?lat=40.7&lng=&maxPrice=x", nil), httptest.NewRecorder())

	if v, err := floatParam(c, "lat"); err != nil || v == nil || *v != 40.7 {
		t.Fatalf("lat = %v, %v", v, err)
	}
	if v, err := floatParam(c, "lng"); err != nil || v != nil {
		t.Fatalf("empty lng = %v, %v", v, err)
	}
	if _, err := floatParam(c, "maxPrice"); apperr.KindOf(err) != apperr.InvalidRequest {
		t.Fatalf("bad maxPrice err = %v", err)
	}
}

func TestParseStationQueryLists(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/stations?plugTypes=CCS,%20Tesla&chargingSpeed=DC%20Fast&availability=true&sortByDistance=true", nil)
	q, err := parseStationQuery(e.NewContext(req, httptest.NewRecorder()))
	if err != nil {
		t.Fatal(err)
	}
	if len(q.PlugTypes) != 2 || q.PlugTypes[1] != "Tesla" || len(q.ChargingSpeeds) != 1 || !q.OnlyAvailable || !q.SortByDistance {
		t.Fatalf("query = %+v", q)
	}
}
