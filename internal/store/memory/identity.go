package memory

import (
	"context"
	"strings"

	"civitas.org/internal/fault"
	"civitas.org/internal/identity"
)

func (s *Store) CreateUser(_ context.Context, u identity.User) (identity.User, error) {
	u, err := identity.PrepareUser(u)
	if err != nil {
		return identity.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUserKeys(u); err != nil {
		return identity.User{}, err
	}
	return s.insertUser(u), nil
}

func (s *Store) Register(_ context.Context, u identity.User, profile identity.RoleProfile) (identity.User, identity.Account, error) {
	u, err := identity.PrepareUser(u)
	if err != nil {
		return identity.User{}, identity.Account{}, err
	}
	if err := identity.ValidateProfile(profile); err != nil {
		return identity.User{}, identity.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUserKeys(u); err != nil {
		return identity.User{}, identity.Account{}, err
	}
	if err := s.checkProfileRefs(profile); err != nil {
		return identity.User{}, identity.Account{}, err
	}
	u = s.insertUser(u)
	return u, s.insertAccount(u.ID, profile), nil
}

// checkUserKeys must be called with the lock held.
func (s *Store) checkUserKeys(u identity.User) error {
	if _, ok := s.userByEmail[u.Email]; ok {
		return fault.ErrDuplicateIdentity.At("user", 0).On("users_email_key")
	}
	if u.Phone != "" {
		if _, ok := s.userByPhone[u.Phone]; ok {
			return fault.ErrDuplicateIdentity.At("user", 0).On("users_phone_key")
		}
	}
	return nil
}

func (s *Store) insertUser(u identity.User) identity.User {
	u.ID = s.nextID("users")
	u.CreatedAt = s.clock()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = u
	s.userByEmail[u.Email] = u.ID
	if u.Phone != "" {
		s.userByPhone[u.Phone] = u.ID
	}
	return u
}

func (s *Store) GetUser(_ context.Context, id int64) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return identity.User{}, fault.ErrNotFound.At("user", id)
	}
	return u, nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.userByEmail[identity.NormalizeEmail(email)]
	if !ok {
		return identity.User{}, fault.ErrNotFound.At("user", 0)
	}
	return s.users[id], nil
}

func (s *Store) CreateAccount(_ context.Context, userID int64, profile identity.RoleProfile) (identity.Account, error) {
	if err := identity.ValidateProfile(profile); err != nil {
		return identity.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return identity.Account{}, fault.ErrMissingReference.At("user", userID)
	}
	if id, ok := s.accountByUser[userID]; ok {
		acc := s.accounts[id]
		if acc.Kind != profile.Kind() {
			return identity.Account{}, fault.ErrRoleConflict.At("account", id).
				Withf("user %d already holds the %s role", userID, acc.Kind)
		}
		return acc, nil
	}
	if err := s.checkProfileRefs(profile); err != nil {
		return identity.Account{}, err
	}
	return s.insertAccount(userID, profile), nil
}

func (s *Store) insertAccount(userID int64, profile identity.RoleProfile) identity.Account {
	acc := identity.Account{
		ID:        s.nextID("accounts"),
		UserID:    userID,
		Kind:      profile.Kind(),
		CreatedAt: s.clock(),
	}
	s.accounts[acc.ID] = acc
	s.accountByUser[userID] = acc.ID
	s.profiles[acc.ID] = profile
	return acc
}

func (s *Store) GetAccount(_ context.Context, id int64) (identity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return identity.Account{}, fault.ErrNotFound.At("account", id)
	}
	return acc, nil
}

func (s *Store) GetRole(_ context.Context, accountID int64) (identity.RoleProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[accountID]
	if !ok {
		return nil, fault.ErrNotFound.At("account", accountID)
	}
	return p, nil
}

func (s *Store) LinkRoleProfile(_ context.Context, accountID int64, profile identity.RoleProfile) error {
	if err := identity.ValidateProfile(profile); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return fault.ErrNotFound.At("account", accountID)
	}
	if acc.Kind != profile.Kind() {
		return fault.ErrRoleConflict.At("account", accountID).
			Withf("account holds the %s role, got a %s profile", acc.Kind, profile.Kind())
	}
	if err := s.checkProfileRefs(profile); err != nil {
		return err
	}
	s.profiles[accountID] = profile
	return nil
}

func (s *Store) checkProfileRefs(p identity.RoleProfile) error {
	switch v := p.(type) {
	case identity.VoterProfile:
		if v.PartyID != 0 {
			if _, ok := s.parties[v.PartyID]; !ok {
				return fault.ErrMissingReference.At("party", v.PartyID)
			}
		}
	case identity.MemberProfile:
		if v.EnterpriseID != 0 {
			if _, ok := s.enterprises[v.EnterpriseID]; !ok {
				return fault.ErrMissingReference.At("enterprise", v.EnterpriseID)
			}
		}
		if v.AdministrationID != 0 {
			if _, ok := s.admins[v.AdministrationID]; !ok {
				return fault.ErrMissingReference.At("administration", v.AdministrationID)
			}
		}
	}
	return nil
}

// ownerAccount must be called with the lock held.
func (s *Store) ownerAccount(id int64, want identity.RoleKind) error {
	acc, ok := s.accounts[id]
	if !ok {
		return fault.ErrMissingReference.At("account", id)
	}
	if acc.Kind != want {
		return fault.ErrRoleConflict.At("account", id).Withf("owner must be a %s account, not %s", want, acc.Kind)
	}
	return nil
}

func (s *Store) CreateAdministration(_ context.Context, a identity.Administration) (identity.Administration, error) {
	a, err := identity.PrepareAdministration(a)
	if err != nil {
		return identity.Administration{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ownerAccount(a.AdminAccountID, identity.RoleAdmin); err != nil {
		return identity.Administration{}, err
	}
	key := strings.ToLower(a.Name)
	if _, ok := s.adminByName[key]; ok {
		return identity.Administration{}, fault.ErrDuplicateName.At("administration", 0).On("administrations_name_key")
	}
	if _, ok := s.adminByOwner[a.AdminAccountID]; ok {
		return identity.Administration{}, fault.ErrDuplicateName.At("administration", 0).On("administrations_admin_account_id_key")
	}
	a.ID = s.nextID("administrations")
	a.CreatedAt = s.clock()
	s.admins[a.ID] = a
	s.adminByName[key] = a.ID
	s.adminByOwner[a.AdminAccountID] = a.ID
	return a, nil
}

func (s *Store) GetAdministration(_ context.Context, id int64) (identity.Administration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.admins[id]
	if !ok {
		return identity.Administration{}, fault.ErrNotFound.At("administration", id)
	}
	return a, nil
}

func (s *Store) CreateEnterprise(_ context.Context, e identity.Enterprise) (identity.Enterprise, error) {
	e, err := identity.PrepareEnterprise(e)
	if err != nil {
		return identity.Enterprise{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ownerAccount(e.PartnerAccountID, identity.RolePartner); err != nil {
		return identity.Enterprise{}, err
	}
	key := strings.ToLower(e.Name)
	if _, ok := s.entByName[key]; ok {
		return identity.Enterprise{}, fault.ErrDuplicateName.At("enterprise", 0).On("enterprises_name_key")
	}
	if _, ok := s.entByOwner[e.PartnerAccountID]; ok {
		return identity.Enterprise{}, fault.ErrDuplicateName.At("enterprise", 0).On("enterprises_partner_account_id_key")
	}
	e.ID = s.nextID("enterprises")
	e.CreatedAt = s.clock()
	s.enterprises[e.ID] = e
	s.entByName[key] = e.ID
	s.entByOwner[e.PartnerAccountID] = e.ID
	return e, nil
}

func (s *Store) GetEnterprise(_ context.Context, id int64) (identity.Enterprise, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.enterprises[id]
	if !ok {
		return identity.Enterprise{}, fault.ErrNotFound.At("enterprise", id)
	}
	return e, nil
}
