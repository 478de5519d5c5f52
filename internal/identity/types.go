// Package identity holds users, their accounts and the single role profile
// each account carries.
package identity

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"civitas.org/internal/fault"
)

// User is a person who can sign in. Email and, when present, phone are
// globally unique.
type User struct {
	ID           int64
	Name         string
	Email        string
	Phone        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Account binds a User to exactly one role. Kind is the discriminant and
// never changes after creation.
type Account struct {
	ID        int64
	UserID    int64
	Kind      RoleKind
	CreatedAt time.Time
}

// Administration is the organisation run by an Admin account.
type Administration struct {
	ID             int64
	AdminAccountID int64
	Name           string
	Type           string
	Website        string
	Verified       bool
	CreatedAt      time.Time
}

// Enterprise is the organisation run by a Partner account.
type Enterprise struct {
	ID               int64
	PartnerAccountID int64
	Name             string
	Type             string
	Website          string
	CreatedAt        time.Time
}

// Registry persists identities and enforces the one-role-per-account rule.
type Registry interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	// Register stores a new user and its account in one step; on failure
	// neither exists.
	Register(ctx context.Context, u User, profile RoleProfile) (User, Account, error)

	// CreateAccount returns the user's existing account when it already has
	// one of the same kind, and ErrRoleConflict when the kind differs.
	CreateAccount(ctx context.Context, userID int64, profile RoleProfile) (Account, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	GetRole(ctx context.Context, accountID int64) (RoleProfile, error)
	LinkRoleProfile(ctx context.Context, accountID int64, profile RoleProfile) error

	CreateAdministration(ctx context.Context, a Administration) (Administration, error)
	GetAdministration(ctx context.Context, id int64) (Administration, error)
	CreateEnterprise(ctx context.Context, e Enterprise) (Enterprise, error)
	GetEnterprise(ctx context.Context, id int64) (Enterprise, error)
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PrepareUser normalises u and checks required fields.
func PrepareUser(u User) (User, error) {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = NormalizeEmail(u.Email)
	u.Phone = strings.TrimSpace(u.Phone)
	if u.Name == "" {
		return User{}, fault.ErrInvalidInput.At("user", 0).Withf("name is required")
	}
	if u.Email == "" {
		return User{}, fault.ErrInvalidInput.At("user", 0).Withf("email is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return User{}, fault.ErrInvalidInput.At("user", 0).Withf("email %q is malformed", u.Email)
	}
	return u, nil
}

// PrepareAdministration checks an administration before it is stored.
func PrepareAdministration(a Administration) (Administration, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return Administration{}, fault.ErrInvalidInput.At("administration", 0).Withf("name is required")
	}
	if a.AdminAccountID <= 0 {
		return Administration{}, fault.ErrMissingReference.At("administration", 0).On("admin_account_id")
	}
	return a, nil
}

// PrepareEnterprise checks an enterprise before it is stored.
func PrepareEnterprise(e Enterprise) (Enterprise, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return Enterprise{}, fault.ErrInvalidInput.At("enterprise", 0).Withf("name is required")
	}
	if e.PartnerAccountID <= 0 {
		return Enterprise{}, fault.ErrMissingReference.At("enterprise", 0).On("partner_account_id")
	}
	return e, nil
}
