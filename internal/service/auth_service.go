package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/evee/internal/apperr"
	"github.com/iliyamo/evee/internal/model"
	"github.com/iliyamo/evee/internal/repository"
	"github.com/iliyamo/evee/internal/utils"
)

var errInvalidCredentials = apperr.New(apperr.InvalidRequest, "Invalid credentials")

// AuthConfig holds token and hashing parameters.
type AuthConfig struct {
	JWTSecret      string
	AccessTTL      time.Duration
	RefreshTTLDays int
	BcryptCost     int
}

// AuthResult is returned by register, login and refresh.
type AuthResult struct {
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	User         model.User `json:"user"`
}

// AuthService contains registration, login and token logic.
type AuthService struct {
	users  *repository.UserRepo
	tokens *repository.TokenRepo
	cfg    AuthConfig
	logger *zap.Logger
}

// NewAuthService builds AuthService.
func NewAuthService(users *repository.UserRepo, tokens *repository.TokenRepo, cfg AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, cfg: cfg, logger: logger}
}

// Register creates a user with role user and signs them in.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (AuthResult, error) {
	name = strings.TrimSpace(name)
	email = model.NormalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return AuthResult{}, apperr.New(apperr.InvalidRequest, "Name, email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return AuthResult{}, apperr.New(apperr.InvalidRequest, "Please provide a valid email")
	}
	hash, err := utils.HashPassword(password, s.cfg.BcryptCost)
	if errors.Is(err, utils.ErrPasswordTooShort) {
		return AuthResult{}, apperr.New(apperr.InvalidRequest, "Password must be at least 6 characters")
	}
	if err != nil {
		return AuthResult{}, err
	}

	u := model.User{Name: name, Email: email, PasswordHash: hash, Role: model.RoleUser}
	if err := s.users.Create(ctx, &u, utcNow()); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return AuthResult{}, apperr.New(apperr.InvalidRequest, "User already exists")
		}
		return AuthResult{}, err
	}
	s.logger.Info("user registered", zap.Uint64("user_id", u.ID), zap.String("email", u.Email))
	return s.issue(ctx, u)
}

// Login verifies credentials and issues a token pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (AuthResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return AuthResult{}, apperr.New(apperr.InvalidRequest, "Email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return AuthResult{}, errInvalidCredentials
	}
	if err != nil {
		return AuthResult{}, err
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return AuthResult{}, errInvalidCredentials
	}
	return s.issue(ctx, u)
}

// Refresh rotates a refresh token: the presented token is revoked and a
// new pair is issued.
func (s *AuthService) Refresh(ctx context.Context, raw string) (AuthResult, error) {
	invalid := apperr.New(apperr.Unauthenticated, "Invalid refresh token")
	if raw == "" {
		return AuthResult{}, invalid
	}
	hash := utils.HashRefreshRaw(raw)
	now := utcNow()
	token, err := s.tokens.ValidateRefresh(ctx, hash, now)
	if errors.Is(err, repository.ErrNotFound) {
		return AuthResult{}, invalid
	}
	if err != nil {
		return AuthResult{}, err
	}
	revoked, err := s.tokens.RevokeByHash(ctx, hash, now)
	if err != nil {
		return AuthResult{}, err
	}
	if !revoked {
		return AuthResult{}, invalid
	}
	u, err := s.users.GetByID(ctx, token.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return AuthResult{}, invalid
	}
	if err != nil {
		return AuthResult{}, err
	}
	return s.issue(ctx, u)
}

// Logout revokes one refresh token, or every token of userID when raw
// is empty.
func (s *AuthService) Logout(ctx context.Context, userID uint64, raw string) error {
	now := utcNow()
	if raw != "" {
		_, err := s.tokens.RevokeByHash(ctx, utils.HashRefreshRaw(raw), now)
		return err
	}
	if userID == 0 {
		return apperr.New(apperr.InvalidRequest, "refreshToken is required")
	}
	return s.tokens.RevokeAllForUser(ctx, userID, now)
}

// Authenticate resolves a bearer access token to the stored user.  The
// role is always taken from storage, never from the token.
func (s *AuthService) Authenticate(ctx context.Context, bearer string) (model.User, error) {
	if bearer == "" {
		return model.User{}, apperr.New(apperr.Unauthenticated, "Not authorized, no token")
	}
	id, err := utils.ParseAccessToken(s.cfg.JWTSecret, bearer)
	if err != nil {
		return model.User{}, apperr.Wrap(apperr.Unauthenticated, "Not authorized, token failed", err)
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, apperr.New(apperr.Unauthenticated, "Not authorized, user not found")
	}
	return u, err
}

func (s *AuthService) issue(ctx context.Context, u model.User) (AuthResult, error) {
	access, err := utils.NewAccessToken(s.cfg.JWTSecret, u.ID, string(u.Role), s.cfg.AccessTTL)
	if err != nil {
		return AuthResult{}, err
	}
	refresh, err := utils.NewRefreshToken(s.cfg.RefreshTTLDays)
	if err != nil {
		return AuthResult{}, err
	}
	if err := s.tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp, utcNow()); err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: access.Token, RefreshToken: refresh.Raw, ExpiresAt: access.Exp, User: u}, nil
}
