package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"civitas.org/internal/audit"
	"civitas.org/internal/fault"
	"civitas.org/internal/obs"
)

// Registration is everything needed to create a user together with its account.
type Registration struct {
	Name     string
	Email    string
	Phone    string
	Password string
	Profile  RoleProfile
}

// Service wraps a Registry with password handling.
type Service struct {
	reg    Registry
	hasher Hasher
	log    *slog.Logger
}

type ServiceOption func(*Service)

func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) { s.hasher = h }
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

func NewService(reg Registry, opts ...ServiceOption) *Service {
	s := &Service{reg: reg, hasher: DefaultHasher, log: obs.Logger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the user and its single account.
func (s *Service) Register(ctx context.Context, r Registration) (User, Account, error) {
	if err := ValidateProfile(r.Profile); err != nil {
		return User{}, Account{}, err
	}
	hash, err := s.hasher.Hash(r.Password)
	if err != nil {
		return User{}, Account{}, err
	}
	u, acc, err := s.reg.Register(ctx, User{Name: r.Name, Email: r.Email, Phone: r.Phone, PasswordHash: hash}, r.Profile)
	if err != nil {
		return User{}, Account{}, fmt.Errorf("register %s: %w", NormalizeEmail(r.Email), err)
	}
	s.log.InfoContext(ctx, "account registered", "user_id", u.ID, "account_id", acc.ID, "role", acc.Kind)
	_ = audit.LogEvent(ctx, "account.registered", map[string]any{"user_id": u.ID, "account_id": acc.ID, "role": string(acc.Kind)})
	return u, acc, nil
}

// Authenticate returns the user identified by email and password. Unknown
// addresses and wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	u, err := s.reg.FindUserByEmail(ctx, email)
	if errors.Is(err, fault.ErrNotFound) {
		return User{}, fault.ErrNotFound.At("user", 0).Withf("credentials rejected")
	}
	if err != nil {
		return User{}, err
	}
	ok, err := s.hasher.Verify(u.PasswordHash, password)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, fault.ErrNotFound.At("user", 0).Withf("credentials rejected")
	}
	return u, nil
}

// ChangeRoleProfile replaces the payload of an account's existing role.
func (s *Service) ChangeRoleProfile(ctx context.Context, accountID int64, p RoleProfile) error {
	if err := ValidateProfile(p); err != nil {
		return err
	}
	if err := s.reg.LinkRoleProfile(ctx, accountID, p); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "account.profile_changed", map[string]any{"account_id": accountID, "role": string(p.Kind())})
	return nil
}
