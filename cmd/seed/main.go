// Command seed loads the sample users, stations and bookings into the
// configured database.  With -d it only deletes every row.
package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/iliyamo/evee/internal/config"
	"github.com/iliyamo/evee/internal/database"
	"github.com/iliyamo/evee/internal/logging"
	"github.com/iliyamo/evee/internal/model"
	"github.com/iliyamo/evee/internal/repository"
	"github.com/iliyamo/evee/internal/service"
	"github.com/iliyamo/evee/internal/utils"
)

//go:embed seed.yaml
var seedYAML []byte

type seedUser struct {
	Name           string                `yaml:"name"`
	Email          string                `yaml:"email"`
	Password       string                `yaml:"password"`
	Role           model.Role            `yaml:"role"`
	Vehicle        *model.Vehicle        `yaml:"vehicle"`
	PaymentMethods []model.PaymentMethod `yaml:"paymentMethods"`
}

type seedBooking struct {
	User     string              `yaml:"user"`
	Station  int                 `yaml:"station"`
	PlugType model.PlugType      `yaml:"plugType"`
	StartIn  time.Duration       `yaml:"startIn"`
	Duration time.Duration       `yaml:"duration"`
	Status   model.BookingStatus `yaml:"status"`
}

type seedData struct {
	Users    []seedUser      `yaml:"users"`
	Stations []model.Station `yaml:"stations"`
	Bookings []seedBooking   `yaml:"bookings"`
}

func main() {
	destroy := flag.Bool("d", false, "delete all data instead of importing")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Seeding a throwaway in-memory store would silently do nothing useful.
	dbCfg := cfg.DB
	dbCfg.MemoryFallback = false
	db, err := database.Open(ctx, dbCfg, logger)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Wipe(ctx, db); err != nil {
		logger.Fatal("delete data", zap.Error(err))
	}
	if *destroy {
		logger.Info("data destroyed")
		return
	}

	var data seedData
	if err := yaml.Unmarshal(seedYAML, &data); err != nil {
		logger.Fatal("decode seed data", zap.Error(err))
	}
	if err := importData(ctx, db, cfg.BcryptCost, data, logger); err != nil {
		logger.Fatal("import data", zap.Error(err))
	}
	logger.Info("data import complete")
}

func importData(ctx context.Context, db *database.DB, bcryptCost int, data seedData, logger *zap.Logger) error {
	users := repository.NewUserRepo(db)
	stationRepo := repository.NewStationRepo(db)
	bookingRepo := repository.NewBookingRepo(db)
	nop := zap.NewNop()
	stations := service.NewStationService(db, stationRepo, bookingRepo, nil, nop)
	bookings := service.NewBookingService(db, bookingRepo, stationRepo, nil, nil, nop)

	now := time.Now().UTC()
	byEmail := make(map[string]*model.User, len(data.Users))
	var admin *model.User
	for _, su := range data.Users {
		hash, err := utils.HashPassword(su.Password, bcryptCost)
		if err != nil {
			return fmt.Errorf("user %s: %w", su.Email, err)
		}
		role := su.Role
		if role == "" {
			role = model.RoleUser
		}
		u := &model.User{
			Name:           su.Name,
			Email:          model.NormalizeEmail(su.Email),
			PasswordHash:   hash,
			Vehicle:        su.Vehicle,
			PaymentMethods: su.PaymentMethods,
			Role:           role,
		}
		if err := users.Create(ctx, u, now); err != nil {
			return fmt.Errorf("user %s: %w", su.Email, err)
		}
		byEmail[u.Email] = u
		if admin == nil && role.AtLeast(model.RoleAdmin) {
			admin = u
		}
	}
	logger.Info("users imported", zap.Int("count", len(byEmail)))
	if admin == nil {
		return errors.New("seed data has no admin user")
	}

	created := make([]model.Station, 0, len(data.Stations))
	for _, st := range data.Stations {
		s, err := stations.Create(ctx, admin, st)
		if err != nil {
			return fmt.Errorf("station %q: %w", st.Name, err)
		}
		created = append(created, s)
	}
	n, err := stationRepo.Count(ctx)
	if err != nil {
		return fmt.Errorf("count stations: %w", err)
	}
	if n != len(created) {
		return fmt.Errorf("stations: %d in store after importing %d", n, len(created))
	}
	logger.Info("stations imported", zap.Int("count", n))

	for i, sb := range data.Bookings {
		u, ok := byEmail[model.NormalizeEmail(sb.User)]
		if !ok || sb.Station < 0 || sb.Station >= len(created) {
			return fmt.Errorf("booking %d: unknown user or station", i)
		}
		start := now.Add(sb.StartIn).Truncate(time.Minute)
		b, err := bookings.Create(ctx, u, service.CreateBookingInput{
			StationID: created[sb.Station].ID,
			PlugType:  sb.PlugType,
			StartTime: start,
			EndTime:   start.Add(sb.Duration),
		})
		if err != nil {
			return fmt.Errorf("booking %d: %w", i, err)
		}
		if sb.Status != "" && sb.Status != b.Status {
			if _, err := bookings.UpdateStatus(ctx, admin, b.ID, sb.Status); err != nil {
				return fmt.Errorf("booking %d status: %w", i, err)
			}
		}
	}
	logger.Info("bookings imported", zap.Int("count", len(data.Bookings)))
	return nil
}
