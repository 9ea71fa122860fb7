package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/evee/internal/database"
	"github.com/iliyamo/evee/internal/model"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testStation(name string, price, rating float64, total, available int, plugs ...model.PlugType) *model.Station {
	return &model.Station{
		Name:           name,
		Address:        name + " street",
		Location:       model.Location{Lat: 40.7, Lng: -73.9},
		PlugTypes:      plugs,
		ChargingSpeeds: []model.ChargingSpeed{model.SpeedLevel2},
		Price:          price,
		PriceUnit:      model.DefaultPriceUnit,
		Availability:   model.Availability{Total: total, Available: available},
		Rating:         rating,
		Amenities:      []string{"WiFi"},
		Images:         []string{},
	}
}

func mustCreateStation(t *testing.T, repo *StationRepo, s *model.Station) *model.Station {
	t.Helper()
	if err := repo.Create(context.Background(), s, time.Now().UTC()); err != nil {
		t.Fatalf("create station %s: %v", s.Name, err)
	}
	return s
}

func mustCreateUser(t *testing.T, repo *UserRepo, email string) *model.User {
	t.Helper()
	u := &model.User{Name: "Test", Email: email, PasswordHash: "hash", Role: model.RoleUser}
	if err := repo.Create(context.Background(), u, time.Now().UTC()); err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func TestStationListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewStationRepo(newTestDB(t))
	mustCreateStation(t, repo, testStation("Cheap", 0.30, 4.0, 4, 0, model.PlugType2))
	mustCreateStation(t, repo, testStation("Fast", 0.45, 4.8, 6, 2, model.PlugCCS, model.PlugCHAdeMO))
	mustCreateStation(t, repo, testStation("Tesla", 0.50, 4.5, 8, 8, model.PlugTesla))

	maxPrice := 0.46
	minRating := 4.4
	cases := []struct {
		name   string
		filter StationFilter
		want   []string
	}{
		{"no filter keeps storage order", StationFilter{}, []string{"Cheap", "Fast", "Tesla"}},
		{"only available", StationFilter{OnlyAvailable: true}, []string{"Fast", "Tesla"}},
		{"max price", StationFilter{MaxPrice: &maxPrice}, []string{"Cheap", "Fast"}},
		{"min rating", StationFilter{MinRating: &minRating}, []string{"Fast", "Tesla"}},
		{"plug any-of", StationFilter{PlugTypes: []model.PlugType{model.PlugTesla, model.PlugType2}}, []string{"Cheap", "Tesla"}},
		{"speed without match", StationFilter{ChargingSpeeds: []model.ChargingSpeed{model.SpeedDCFast}}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.List(ctx, tc.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d stations, want %v", len(got), tc.want)
			}
			for i, s := range got {
				if s.Name != tc.want[i] {
					t.Fatalf("position %d: got %s, want %s", i, s.Name, tc.want[i])
				}
			}
		})
	}
}

func TestStationRoundTripsListColumns(t *testing.T) {
	ctx := context.Background()
	repo := NewStationRepo(newTestDB(t))
	s := mustCreateStation(t, repo, testStation("Hub", 0.35, 4.5, 8, 3, model.PlugType2, model.PlugCCS))

	got, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.PlugTypes) != 2 || got.PlugTypes[1] != model.PlugCCS {
		t.Fatalf("plug types not preserved: %v", got.PlugTypes)
	}
	if len(got.Amenities) != 1 || got.Amenities[0] != "WiFi" {
		t.Fatalf("amenities not preserved: %v", got.Amenities)
	}
	if got.Images == nil {
		t.Fatal("images must decode to an empty list")
	}
	if _, err := repo.GetByID(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTakeAndReleaseSlotStayInBounds(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewStationRepo(db)
	s := mustCreateStation(t, repo, testStation("Small", 0.40, 4, 1, 1, model.PlugType2))
	now := time.Now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	if err := repo.TakeSlotTx(ctx, tx, s.ID, now); err != nil {
		t.Fatalf("first take: %v", err)
	}
	if err := repo.TakeSlotTx(ctx, tx, s.ID, now); !errors.Is(err, ErrNoAvailability) {
		t.Fatalf("expected ErrNoAvailability, got %v", err)
	}
	moved, err := repo.ReleaseSlotTx(ctx, tx, s.ID, now)
	if err != nil || !moved {
		t.Fatalf("release: moved=%v err=%v", moved, err)
	}
	moved, err = repo.ReleaseSlotTx(ctx, tx, s.ID, now)
	if err != nil || moved {
		t.Fatalf("release past total must be clamped: moved=%v err=%v", moved, err)
	}
	a, err := repo.AvailabilityTx(ctx, tx, s.ID)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if a.Available != 1 || a.Total != 1 {
		t.Fatalf("unexpected availability %+v", a)
	}
}

func TestUserDuplicateEmailAndFavorites(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepo(db)
	stations := NewStationRepo(db)
	u := mustCreateUser(t, users, "driver@example.com")

	dup := &model.User{Name: "Other", Email: "driver@example.com", PasswordHash: "x", Role: model.RoleUser}
	if err := users.Create(ctx, dup, time.Now().UTC()); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}

	a := mustCreateStation(t, stations, testStation("A", 0.3, 4, 2, 2, model.PlugType2))
	b := mustCreateStation(t, stations, testStation("B", 0.3, 4, 2, 2, model.PlugType2))
	now := time.Now().UTC()
	if err := users.AddFavorite(ctx, u.ID, a.ID, now); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := users.AddFavorite(ctx, u.ID, b.ID, now.Add(time.Second)); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := users.AddFavorite(ctx, u.ID, a.ID, now); !errors.Is(err, ErrAlreadyFavorite) {
		t.Fatalf("expected ErrAlreadyFavorite, got %v", err)
	}
	got, err := users.GetByEmail(ctx, "  DRIVER@example.com ")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if len(got.FavoriteStations) != 2 || got.FavoriteStations[0] != a.ID {
		t.Fatalf("unexpected favorites %v", got.FavoriteStations)
	}
	if err := users.RemoveFavorite(ctx, u.ID, 12345); err != nil {
		t.Fatalf("removing an absent favorite must not fail: %v", err)
	}
}

func TestUserProfileColumns(t *testing.T) {
	ctx := context.Background()
	users := NewUserRepo(newTestDB(t))
	u := mustCreateUser(t, users, "p@example.com")

	u.Name = "Profile"
	u.Vehicle = &model.Vehicle{Make: "Tesla", Model: "Model 3", Year: 2022, PlugType: model.PlugTesla}
	u.PaymentMethods = []model.PaymentMethod{{Type: model.PaymentCard, Last4: "4242", ExpiryDate: "12/27"}}
	if err := users.UpdateProfile(ctx, u, time.Now().UTC()); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	got, err := users.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Vehicle == nil || got.Vehicle.Model != "Model 3" {
		t.Fatalf("vehicle not stored: %+v", got.Vehicle)
	}
	if len(got.PaymentMethods) != 1 || got.PaymentMethods[0].Last4 != "4242" {
		t.Fatalf("payment methods not stored: %+v", got.PaymentMethods)
	}
	if err := users.UpdateRole(ctx, 999, model.RoleAdmin, time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestBookingListsAndSnapshot(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepo(db)
	stations := NewStationRepo(db)
	bookings := NewBookingRepo(db)

	u := mustCreateUser(t, users, "b@example.com")
	s := mustCreateStation(t, stations, testStation("Gone Soon", 0.35, 4, 2, 2, model.PlugType2))
	start := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	var ids []uint64
	for i := 0; i < 2; i++ {
		b := &model.Booking{
			UserID: u.ID, StationID: s.ID, StationName: s.Name, StationAddress: s.Address,
			PlugType: model.PlugType2, StartTime: start, EndTime: start.Add(90 * time.Minute),
			Status: model.BookingPending, TotalPrice: 0.53,
		}
		if err := bookings.CreateTx(ctx, tx, b, time.Now().UTC().Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("create booking: %v", err)
		}
		ids = append(ids, b.ID)
	}
	if n, err := bookings.CountActiveForStationTx(ctx, tx, s.ID); err != nil || n != 2 {
		t.Fatalf("active count: n=%d err=%v", n, err)
	}
	moved, err := bookings.TransitionTx(ctx, tx, ids[0], model.BookingPending, model.BookingCancelled, time.Now().UTC())
	if err != nil || !moved {
		t.Fatalf("transition: moved=%v err=%v", moved, err)
	}
	moved, err = bookings.TransitionTx(ctx, tx, ids[0], model.BookingPending, model.BookingCancelled, time.Now().UTC())
	if err != nil || moved {
		t.Fatalf("stale transition must not apply: moved=%v err=%v", moved, err)
	}
	if err := stations.DeleteTx(ctx, tx, s.ID); err != nil {
		t.Fatalf("delete station: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	mine, err := bookings.ListByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != ids[1] {
		t.Fatalf("expected newest first, got %+v", mine)
	}
	if mine[0].DurationMinutes != 90 {
		t.Fatalf("expected 90 minutes, got %d", mine[0].DurationMinutes)
	}

	all, err := bookings.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(all))
	}
	if all[0].Station.Name != "Gone Soon" || all[0].User.Email != "b@example.com" {
		t.Fatalf("snapshot not used for deleted station: %+v", all[0])
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	u := mustCreateUser(t, NewUserRepo(db), "t@example.com")
	tokens := NewTokenRepo(db)
	now := time.Now().UTC()

	if err := tokens.StoreRefresh(ctx, u.ID, "live", now.Add(time.Hour), now); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := tokens.StoreRefresh(ctx, u.ID, "old", now.Add(-time.Hour), now); err != nil {
		t.Fatalf("store: %v", err)
	}
	live, err := tokens.ValidateRefresh(ctx, "live", now)
	if err != nil || live.UserID != u.ID || live.TokenHash != "live" || live.ID == 0 || live.RevokedAt != nil {
		t.Fatalf("validate live: %+v err=%v", live, err)
	}
	if !live.ExpiresAt.After(now) {
		t.Fatalf("expires_at = %v", live.ExpiresAt)
	}
	if _, err := tokens.ValidateRefresh(ctx, "old", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired token must be rejected, got %v", err)
	}
	if ok, err := tokens.RevokeByHash(ctx, "live", now); err != nil || !ok {
		t.Fatalf("revoke: ok=%v err=%v", ok, err)
	}
	if ok, _ := tokens.RevokeByHash(ctx, "live", now); ok {
		t.Fatal("second revoke must report false")
	}
	if _, err := tokens.ValidateRefresh(ctx, "live", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoked token must be rejected, got %v", err)
	}
}
