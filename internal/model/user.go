package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Role is the access level of a user.  Roles are ordered: every
// capability of a lower role is also granted to the higher ones.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

var roleRank = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// ParseRole returns the Role named by s.  Only the three recognised
// role names are accepted; matching is exact.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// Valid reports whether r is one of the recognised roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants at least the capabilities of min.
// Unknown roles never satisfy any minimum.
func (r Role) AtLeast(min Role) bool {
	rank, ok := roleRank[r]
	if !ok {
		return false
	}
	return rank >= roleRank[min]
}

// Vehicle is the car a user charges.  It is stored embedded in the
// user record.
type Vehicle struct {
	Make     string   `json:"make" yaml:"make"`
	Model    string   `json:"model" yaml:"model"`
	Year     int      `json:"year" yaml:"year"`
	PlugType PlugType `json:"plugType" yaml:"plugType"`
}

// Validate checks the vehicle fields.
func (v Vehicle) Validate() error {
	if strings.TrimSpace(v.Make) == "" || strings.TrimSpace(v.Model) == "" {
		return fmt.Errorf("vehicle make and model are required")
	}
	if v.Year < 1900 || v.Year > 2100 {
		return fmt.Errorf("vehicle year %d is out of range", v.Year)
	}
	if !v.PlugType.Valid() {
		return fmt.Errorf("invalid vehicle plug type %q", v.PlugType)
	}
	return nil
}

// PaymentMethodType enumerates the supported payment methods.
type PaymentMethodType string

const (
	PaymentCard      PaymentMethodType = "card"
	PaymentPayPal    PaymentMethodType = "paypal"
	PaymentApplePay  PaymentMethodType = "applepay"
	PaymentGooglePay PaymentMethodType = "googlepay"
)

// PaymentMethod is a summary of a stored payment method.  Only the last
// four digits and the expiry are kept.
type PaymentMethod struct {
	Type       PaymentMethodType `json:"type" yaml:"type"`
	Last4      string            `json:"last4,omitempty" yaml:"last4"`
	ExpiryDate string            `json:"expiryDate,omitempty" yaml:"expiryDate"`
}

var (
	last4Pattern  = regexp.MustCompile(`^[0-9]{4}$`)
	expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)
)

// Validate checks the payment method summary.
func (p PaymentMethod) Validate() error {
	switch p.Type {
	case PaymentCard, PaymentPayPal, PaymentApplePay, PaymentGooglePay:
	default:
		return fmt.Errorf("invalid payment method type %q", p.Type)
	}
	if p.Last4 != "" && !last4Pattern.MatchString(p.Last4) {
		return fmt.Errorf("last4 must be exactly 4 digits")
	}
	if p.ExpiryDate != "" && !expiryPattern.MatchString(p.ExpiryDate) {
		return fmt.Errorf("expiryDate must be formatted MM/YY")
	}
	return nil
}

// User represents an application user record as stored in the
// `users` table.  PasswordHash never leaves the process: it is
// excluded from JSON.
//
// Fields:
//  ID               – primary key identifier of the user.
//  Name             – display name.
//  Email            – unique, lower-case email address.
//  PasswordHash     – bcrypt hashed password.
//  ProfileImage     – optional profile image URL.
//  Vehicle          – optional embedded vehicle.
//  PaymentMethods   – stored payment method summaries.
//  FavoriteStations – ids of stations the user marked as favorite.
//  Role             – access level.
//  CreatedAt        – timestamp of creation.
//  UpdatedAt        – timestamp of last update.
type User struct {
	ID               uint64          `json:"id"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	PasswordHash     string          `json:"-"`
	ProfileImage     string          `json:"profileImage,omitempty"`
	Vehicle          *Vehicle        `json:"vehicle,omitempty"`
	PaymentMethods   []PaymentMethod `json:"paymentMethods"`
	FavoriteStations []uint64        `json:"favoriteStations"`
	Role             Role            `json:"role"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// UserRef is the reduced view of a user joined into admin booking lists.
type UserRef struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RefreshToken models an entry in the `refresh_tokens` table.  The
// plain token is not stored; only its SHA‑256 hash.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}

// Active reports whether the token can still be exchanged at now.
func (t RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
