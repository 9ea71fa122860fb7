package main

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/iliyamo/evee/internal/database"
	"github.com/iliyamo/evee/internal/model"
	"github.com/iliyamo/evee/internal/repository"
)

func TestImportSeedData(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var data seedData
	if err := yaml.Unmarshal(seedYAML, &data); err != nil {
		t.Fatalf("decode seed: %v", err)
	}
	if err := importData(ctx, db, bcrypt.MinCost, data, zap.NewNop()); err != nil {
		t.Fatalf("import: %v", err)
	}

	stations := repository.NewStationRepo(db)
	list, err := stations.List(ctx, repository.StationFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if n, err := stations.Count(ctx); err != nil || n != 7 || len(list) != n {
		t.Fatalf("stations = %d (listed %d), %v, want 7", n, len(list), err)
	}
	// Each seeded booking holds one slot.
	if got := list[2].Availability.Available; got != 5 {
		t.Fatalf("SoHo available = %d, want 5", got)
	}

	u, err := repository.NewUserRepo(db).GetByEmail(ctx, "superadmin@example.com")
	if err != nil || u.Role != model.RoleSuperAdmin {
		t.Fatalf("superadmin = %+v, %v", u, err)
	}

	all, err := repository.NewBookingRepo(db).ListAll(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("bookings = %d, %v", len(all), err)
	}

	if err := database.Wipe(ctx, db); err != nil {
		t.Fatal(err)
	}
	if n, err := stations.Count(ctx); err != nil || n != 0 {
		t.Fatalf("stations after wipe = %d, %v", n, err)
	}
}
