package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/evee/internal/config"
	"github.com/iliyamo/evee/internal/database"
	"github.com/iliyamo/evee/internal/middleware"
	"github.com/iliyamo/evee/internal/model"
	"github.com/iliyamo/evee/internal/repository"
	"github.com/iliyamo/evee/internal/service"
)

type app struct {
	e     *echo.Echo
	users *repository.UserRepo
}

func newApp(t *testing.T) *app {
	t.Helper()
	return newAppWithRedis(t, nil)
}

// newAppWithRedis wires the response cache and its invalidation to rdb
// when it is non-nil.
func newAppWithRedis(t *testing.T, rdb *redis.Client) *app {
	t.Helper()
	db, err := database.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Defaults()
	cfg.Env = config.EnvTest
	cfg.JWTSecret = "router-test"
	log := zap.NewNop()

	cacheCfg := config.CacheConfig{
		Enabled:      rdb != nil,
		Methods:      map[string]bool{http.MethodGet: true},
		TTL:          time.Minute,
		KeyStrategy:  "route_query",
		Prefix:       "evee:cache",
		MaxBodyBytes: 1 << 20,
	}
	var observers service.Observers
	if rdb != nil {
		observers = append(observers, middleware.NewCachePurger(rdb, cacheCfg.Prefix, log))
	}

	users := repository.NewUserRepo(db)
	stations := repository.NewStationRepo(db)
	bookings := repository.NewBookingRepo(db)
	tokens := repository.NewTokenRepo(db)

	e := New(Deps{
		Config: cfg,
		Cache:  cacheCfg,
		Logger: log,
		DB:     db,
		Redis:  rdb,
		Auth: service.NewAuthService(users, tokens, service.AuthConfig{
			JWTSecret:      cfg.JWTSecret,
			AccessTTL:      time.Hour,
			RefreshTTLDays: 1,
			BcryptCost:     bcrypt.MinCost,
		}, log),
		Stations: service.NewStationService(db, stations, bookings, observers, log),
		Bookings: service.NewBookingService(db, bookings, stations, nil, observers, log),
		Users:    service.NewUserService(users, stations, tokens, bcrypt.MinCost, log),
	})
	return &app{e: e, users: users}
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Count   *int            `json:"count"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (a *app) do(t *testing.T, method, path, token string, body any) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	var res response
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, res
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

type authData struct {
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
	User         model.User `json:"user"`
}

func (a *app) register(t *testing.T, name, email string, role model.Role) string {
	t.Helper()
	code, res := a.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "password123",
	})
	if code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", email, code, res.Message)
	}
	auth := decode[authData](t, res.Data)
	if role != model.RoleUser {
		if err := a.users.UpdateRole(context.Background(), auth.User.ID, role, time.Now().UTC()); err != nil {
			t.Fatal(err)
		}
	}
	return auth.Token
}

func (a *app) createStation(t *testing.T, adminToken string, total int) model.Station {
	t.Helper()
	code, res := a.do(t, http.MethodPost, "/api/stations", adminToken, map[string]any{
		"name":          "Times Square Supercharger",
		"address":       "1500 Broadway, New York, NY 10036",
		"location":      map[string]float64{"lat": 40.758, "lng": -73.9855},
		"plugTypes":     []string{"CCS", "Tesla"},
		"chargingSpeed": []string{"DC Fast"},
		"price":         0.45,
		"availability":  map[string]int{"total": total, "available": total},
		"rating":        4.2,
	})
	if code != http.StatusCreated {
		t.Fatalf("create station: %d %s", code, res.Message)
	}
	return decode[model.Station](t, res.Data)
}

func TestMetaRoutes(t *testing.T) {
	a := newApp(t)

	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	var health map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || health["status"] != "OK" || health["database"] != "sqlite" {
		t.Fatalf("health = %d %v", rec.Code, health)
	}

	code, res := a.do(t, http.MethodGet, "/nope", "", nil)
	if code != http.StatusNotFound || res.Success || res.Message != "Cannot GET /nope" {
		t.Fatalf("not found = %d %+v", code, res)
	}
}

func TestAccessControl(t *testing.T) {
	a := newApp(t)
	userToken := a.register(t, "Alex Johnson", "alex@example.com", model.RoleUser)
	adminToken := a.register(t, "Admin", "admin@example.com", model.RoleAdmin)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/bookings", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/users/me", "garbage", http.StatusUnauthorized},
		{"user lists all bookings", http.MethodGet, "/api/bookings/all", userToken, http.StatusForbidden},
		{"user lists users", http.MethodGet, "/api/users", userToken, http.StatusForbidden},
		{"admin sets role", http.MethodPut, "/api/users/1", adminToken, http.StatusForbidden},
		{"user creates station", http.MethodPost, "/api/stations", userToken, http.StatusForbidden},
		{"admin lists users", http.MethodGet, "/api/users", adminToken, http.StatusOK},
		{"public station list", http.MethodGet, "/api/stations", "", http.StatusOK},
		{"bad numeric filter", http.MethodGet, "/api/stations?maxPrice=cheap", "", http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/stations/abc", "", http.StatusBadRequest},
		{"missing station", http.MethodGet, "/api/stations/999", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body any
			if tt.method != http.MethodGet {
				body = map[string]string{"role": "admin"}
			}
			code, res := a.do(t, tt.method, tt.path, tt.token, body)
			if code != tt.want {
				t.Fatalf("status = %d (%s), want %d", code, res.Message, tt.want)
			}
			if code >= 400 && (res.Success || res.Message == "") {
				t.Fatalf("failure envelope = %+v", res)
			}
		})
	}
}

func TestBookAndCancelRestoresAvailability(t *testing.T) {
	a := newApp(t)
	adminToken := a.register(t, "Admin", "admin@example.com", model.RoleAdmin)
	a.register(t, "Sam Wilson", "sam@example.com", model.RoleUser)

	code, res := a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "SAM@example.com", "password": "password123",
	})
	if code != http.StatusOK {
		t.Fatalf("login: %d %s", code, res.Message)
	}
	token := decode[authData](t, res.Data).Token

	st := a.createStation(t, adminToken, 3)
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
	code, res = a.do(t, http.MethodPost, "/api/bookings", token, map[string]any{
		"stationId": st.ID,
		"plugType":  "CCS",
		"startTime": start,
		"endTime":   start.Add(90 * time.Minute),
	})
	if code != http.StatusCreated {
		t.Fatalf("book: %d %s", code, res.Message)
	}
	booking := decode[model.Booking](t, res.Data)
	if booking.TotalPrice != 0.68 || booking.DurationMinutes != 90 || booking.Status != model.BookingPending {
		t.Fatalf("booking = %+v", booking)
	}

	_, res = a.do(t, http.MethodGet, "/api/stations/"+itoa(st.ID), "", nil)
	if got := decode[model.Station](t, res.Data).Availability.Available; got != 2 {
		t.Fatalf("available after booking = %d", got)
	}

	code, res = a.do(t, http.MethodGet, "/api/bookings", token, nil)
	if code != http.StatusOK || res.Count == nil || *res.Count != 1 {
		t.Fatalf("my bookings = %d %+v", code, res)
	}

	code, res = a.do(t, http.MethodPut, "/api/bookings/"+itoa(booking.ID), token, map[string]string{"status": "confirmed"})
	if code != http.StatusForbidden {
		t.Fatalf("owner confirm = %d %s", code, res.Message)
	}
	for i := 0; i < 2; i++ {
		code, res = a.do(t, http.MethodPut, "/api/bookings/"+itoa(booking.ID), token, map[string]string{"status": "cancelled"})
		if code != http.StatusOK {
			t.Fatalf("cancel #%d: %d %s", i+1, code, res.Message)
		}
	}

	_, res = a.do(t, http.MethodGet, "/api/stations/"+itoa(st.ID), "", nil)
	if got := decode[model.Station](t, res.Data).Availability.Available; got != 3 {
		t.Fatalf("available after cancel = %d, want 3", got)
	}
}

func TestBookingOfOtherUserIsForbidden(t *testing.T) {
	a := newApp(t)
	adminToken := a.register(t, "Admin", "admin@example.com", model.RoleAdmin)
	owner := a.register(t, "Emma Davis", "emma@example.com", model.RoleUser)
	other := a.register(t, "Michael Brown", "michael@example.com", model.RoleUser)

	st := a.createStation(t, adminToken, 1)
	start := time.Now().UTC().Add(time.Hour)
	_, res := a.do(t, http.MethodPost, "/api/bookings", owner, map[string]any{
		"stationId": st.ID, "plugType": "Tesla", "startTime": start, "endTime": start.Add(time.Hour),
	})
	b := decode[model.Booking](t, res.Data)

	if code, _ := a.do(t, http.MethodGet, "/api/bookings/"+itoa(b.ID), other, nil); code != http.StatusForbidden {
		t.Fatalf("other user get = %d", code)
	}
	if code, _ := a.do(t, http.MethodGet, "/api/bookings/"+itoa(b.ID), adminToken, nil); code != http.StatusOK {
		t.Fatalf("admin get = %d", code)
	}
	if code, res := a.do(t, http.MethodDelete, "/api/stations/"+itoa(st.ID), adminToken, nil); code != http.StatusConflict {
		t.Fatalf("delete station with active booking = %d %s", code, res.Message)
	}
	_, res = a.do(t, http.MethodPost, "/api/bookings", other, map[string]any{
		"stationId": st.ID, "plugType": "Tesla", "startTime": start, "endTime": start.Add(time.Hour),
	})
	if res.Message != "No available charging spots at this station" {
		t.Fatalf("full station message = %q", res.Message)
	}
}

func TestFavoritesAndPassword(t *testing.T) {
	a := newApp(t)
	adminToken := a.register(t, "Admin", "admin@example.com", model.RoleAdmin)
	token := a.register(t, "Alex Johnson", "alex@example.com", model.RoleUser)
	st := a.createStation(t, adminToken, 2)

	path := "/api/users/favorites/" + itoa(st.ID)
	code, res := a.do(t, http.MethodPost, path, token, nil)
	if code != http.StatusOK {
		t.Fatalf("add favorite: %d %s", code, res.Message)
	}
	if favs := decode[[]uint64](t, res.Data); len(favs) != 1 || favs[0] != st.ID {
		t.Fatalf("favorites = %v", favs)
	}
	if code, res = a.do(t, http.MethodPost, path, token, nil); code != http.StatusBadRequest {
		t.Fatalf("duplicate favorite = %d %s", code, res.Message)
	}
	if code, res = a.do(t, http.MethodDelete, path, token, nil); code != http.StatusOK || len(decode[[]uint64](t, res.Data)) != 0 {
		t.Fatalf("remove favorite = %d %s", code, res.Data)
	}

	code, res = a.do(t, http.MethodPut, "/api/users/password", token, map[string]string{
		"currentPassword": "wrong", "newPassword": "secret456",
	})
	if code != http.StatusBadRequest || res.Message != "Current password is incorrect" {
		t.Fatalf("wrong current password = %d %q", code, res.Message)
	}
	code, _ = a.do(t, http.MethodPut, "/api/users/password", token, map[string]string{
		"currentPassword": "password123", "newPassword": "secret456",
	})
	if code != http.StatusOK {
		t.Fatalf("change password = %d", code)
	}
	code, _ = a.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alex@example.com", "password": "secret456",
	})
	if code != http.StatusOK {
		t.Fatalf("login with new password = %d", code)
	}
}

func TestCachedReadsSeeCommittedWrites(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	a := newAppWithRedis(t, rdb)
	adminToken := a.register(t, "Admin", "admin@example.com", model.RoleAdmin)
	token := a.register(t, "Sam Wilson", "sam@example.com", model.RoleUser)
	st := a.createStation(t, adminToken, 4)
	path := "/api/stations/" + itoa(st.ID)

	available := func(wantCache string) int {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		a.e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("get station: %d %s", rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("X-Cache"); got != wantCache {
			t.Fatalf("X-Cache = %q, want %q", got, wantCache)
		}
		var res response
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatal(err)
		}
		return decode[model.Station](t, res.Data).Availability.Available
	}

	if got := available("MISS"); got != 4 {
		t.Fatalf("initial available = %d", got)
	}
	if got := available("HIT"); got != 4 {
		t.Fatalf("cached available = %d", got)
	}

	start := time.Now().UTC().Add(time.Hour)
	var ids []uint64
	for i := 0; i < 3; i++ {
		code, res := a.do(t, http.MethodPost, "/api/bookings", token, map[string]any{
			"stationId": st.ID, "plugType": "CCS", "startTime": start, "endTime": start.Add(time.Hour),
		})
		if code != http.StatusCreated {
			t.Fatalf("book #%d: %d %s", i+1, code, res.Message)
		}
		ids = append(ids, decode[model.Booking](t, res.Data).ID)
		if got := available("MISS"); got != 3-i {
			t.Fatalf("available right after booking #%d = %d, want %d", i+1, got, 3-i)
		}
		if got := available("HIT"); got != 3-i {
			t.Fatalf("cached available after booking #%d = %d", i+1, got)
		}
	}

	code, res := a.do(t, http.MethodPut, "/api/bookings/"+itoa(ids[0]), token, map[string]string{"status": "cancelled"})
	if code != http.StatusOK {
		t.Fatalf("cancel: %d %s", code, res.Message)
	}
	if got := available("MISS"); got != 2 {
		t.Fatalf("available right after cancel = %d, want 2", got)
	}

	code, res = a.do(t, http.MethodPut, path, adminToken, map[string]any{"price": 0.5})
	if code != http.StatusOK {
		t.Fatalf("update station: %d %s", code, res.Message)
	}
	if got := available("MISS"); got != 2 {
		t.Fatalf("available after station update = %d", got)
	}
}

func itoa(id uint64) string { return strconv.FormatUint(id, 10) }
