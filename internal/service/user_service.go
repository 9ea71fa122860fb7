package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/evee/internal/apperr"
	"github.com/iliyamo/evee/internal/model"
	"github.com/iliyamo/evee/internal/policy"
	"github.com/iliyamo/evee/internal/repository"
	"github.com/iliyamo/evee/internal/utils"
)

var errUserNotFound = apperr.New(apperr.NotFound, "User not found")

// ProfileUpdate carries the self-service profile fields.  Nil fields
// are left unchanged.
type ProfileUpdate struct {
	Name           *string                `json:"name"`
	ProfileImage   *string                `json:"profileImage"`
	Vehicle        *model.Vehicle         `json:"vehicle"`
	PaymentMethods *[]model.PaymentMethod `json:"paymentMethods"`
}

// UserService manages profiles, favorites and roles.
type UserService struct {
	users      *repository.UserRepo
	stations   *repository.StationRepo
	tokens     *repository.TokenRepo
	bcryptCost int
	logger     *zap.Logger
}

func NewUserService(users *repository.UserRepo, stations *repository.StationRepo, tokens *repository.TokenRepo,
	bcryptCost int, logger *zap.Logger) *UserService {
	return &UserService{users: users, stations: stations, tokens: tokens, bcryptCost: bcryptCost, logger: logger}
}

// Profile returns a user by id.
func (s *UserService) Profile(ctx context.Context, id uint64) (model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return u, errUserNotFound
	}
	return u, err
}

// UpdateProfile validates and stores the self-service fields.
func (s *UserService) UpdateProfile(ctx context.Context, id uint64, in ProfileUpdate) (model.User, error) {
	u, err := s.Profile(ctx, id)
	if err != nil {
		return u, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return u, apperr.New(apperr.InvalidRequest, "Name cannot be empty")
		}
		u.Name = name
	}
	if in.ProfileImage != nil {
		u.ProfileImage = strings.TrimSpace(*in.ProfileImage)
	}
	if in.Vehicle != nil {
		if err := in.Vehicle.Validate(); err != nil {
			return u, apperr.Wrap(apperr.InvalidRequest, err.Error(), err)
		}
		v := *in.Vehicle
		u.Vehicle = &v
	}
	if in.PaymentMethods != nil {
		for _, pm := range *in.PaymentMethods {
			if err := pm.Validate(); err != nil {
				return u, apperr.Wrap(apperr.InvalidRequest, err.Error(), err)
			}
		}
		u.PaymentMethods = append([]model.PaymentMethod{}, *in.PaymentMethods...)
	}
	if err := s.users.UpdateProfile(ctx, &u, utcNow()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return u, errUserNotFound
		}
		return u, err
	}
	return u, nil
}

// ChangePassword replaces the password after verifying the current one.
// Every refresh token of the user is revoked.
func (s *UserService) ChangePassword(ctx context.Context, id uint64, current, next string) error {
	if current == "" || next == "" {
		return apperr.New(apperr.InvalidRequest, "Current and new password are required")
	}
	u, err := s.Profile(ctx, id)
	if err != nil {
		return err
	}
	if !utils.VerifyPassword(u.PasswordHash, current) {
		return apperr.New(apperr.InvalidRequest, "Current password is incorrect")
	}
	hash, err := utils.HashPassword(next, s.bcryptCost)
	if errors.Is(err, utils.ErrPasswordTooShort) {
		return apperr.New(apperr.InvalidRequest, "Password must be at least 6 characters")
	}
	if err != nil {
		return err
	}
	now := utcNow()
	if err := s.users.UpdatePassword(ctx, id, hash, now); err != nil {
		return err
	}
	if err := s.tokens.RevokeAllForUser(ctx, id, now); err != nil {
		s.logger.Warn("revoke refresh tokens failed", zap.Uint64("user_id", id), zap.Error(err))
	}
	return nil
}

// AddFavorite marks a station as favorite and returns the updated list.
func (s *UserService) AddFavorite(ctx context.Context, id, stationID uint64) ([]uint64, error) {
	if _, err := s.stations.GetByID(ctx, stationID); errors.Is(err, repository.ErrNotFound) {
		return nil, errStationNotFound
	} else if err != nil {
		return nil, err
	}
	if err := s.users.AddFavorite(ctx, id, stationID, utcNow()); err != nil {
		if errors.Is(err, repository.ErrAlreadyFavorite) {
			return nil, apperr.New(apperr.InvalidRequest, "Station already in favorites")
		}
		return nil, err
	}
	return s.users.Favorites(ctx, id)
}

// RemoveFavorite unmarks a station and returns the updated list.
func (s *UserService) RemoveFavorite(ctx context.Context, id, stationID uint64) ([]uint64, error) {
	if err := s.users.RemoveFavorite(ctx, id, stationID); err != nil {
		return nil, err
	}
	return s.users.Favorites(ctx, id)
}

// List returns every user.
func (s *UserService) List(ctx context.Context, actor *model.User) ([]model.User, error) {
	if !policy.Can(actor, policy.ActionUserList, 0) {
		return nil, apperr.New(apperr.Forbidden, "Not authorized to list users")
	}
	return s.users.List(ctx)
}

// ChangeRole sets the role of another user.
func (s *UserService) ChangeRole(ctx context.Context, actor *model.User, targetID uint64, role string) (model.User, error) {
	if !policy.Can(actor, policy.ActionUserSetRole, 0) {
		return model.User{}, apperr.New(apperr.Forbidden, "Not authorized to change roles")
	}
	r, ok := model.ParseRole(role)
	if !ok {
		return model.User{}, apperr.New(apperr.InvalidRequest, "Invalid role")
	}
	if err := s.users.UpdateRole(ctx, targetID, r, utcNow()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, errUserNotFound
		}
		return model.User{}, err
	}
	s.logger.Info("user role changed",
		zap.Uint64("user_id", targetID),
		zap.String("role", string(r)),
		zap.Uint64("actor_id", actor.ID))
	return s.Profile(ctx, targetID)
}
