package pg

import (
	"context"
	"database/sql"

	"civitas.org/internal/fault"
	"civitas.org/internal/identity"
)

const userColumns = `id, name, email, phone, password_hash, created_at, updated_at`

func scanUser(row rowScanner) (identity.User, error) {
	var u identity.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u identity.User) (identity.User, error) {
	u, err := identity.PrepareUser(u)
	if err != nil {
		return identity.User{}, err
	}
	u, err = s.insertUser(ctx, s.db, u)
	if err != nil {
		return identity.User{}, translate(err)
	}
	return u, nil
}

func (s *Store) insertUser(ctx context.Context, q querier, u identity.User) (identity.User, error) {
	now := s.clock()
	err := q.QueryRowContext(ctx, `
		insert into users (name, email, phone, password_hash, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $5)
		returning id
	`, u.Name, u.Email, u.Phone, u.PasswordHash, now).Scan(&u.ID)
	if err != nil {
		return identity.User{}, err
	}
	u.CreatedAt, u.UpdatedAt = now, now
	return u, nil
}

func (s *Store) insertAccount(ctx context.Context, tx *sql.Tx, userID int64, profile identity.RoleProfile) (identity.Account, error) {
	acc := identity.Account{UserID: userID, Kind: profile.Kind(), CreatedAt: s.clock()}
	if err := tx.QueryRowContext(ctx, `
		insert into accounts (user_id, account_type, created_at) values ($1, $2, $3) returning id
	`, userID, acc.Kind, acc.CreatedAt).Scan(&acc.ID); err != nil {
		return identity.Account{}, err
	}
	return acc, writeProfile(ctx, tx, acc.ID, profile)
}

func (s *Store) Register(ctx context.Context, u identity.User, profile identity.RoleProfile) (identity.User, identity.Account, error) {
	u, err := identity.PrepareUser(u)
	if err != nil {
		return identity.User{}, identity.Account{}, err
	}
	if err := identity.ValidateProfile(profile); err != nil {
		return identity.User{}, identity.Account{}, err
	}
	var acc identity.Account
	err = s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var err error
		if u, err = s.insertUser(ctx, tx, u); err != nil {
			return err
		}
		acc, err = s.insertAccount(ctx, tx, u.ID, profile)
		return err
	})
	if err != nil {
		return identity.User{}, identity.Account{}, translate(err)
	}
	return u, acc, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (identity.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if noRows(err) {
		return identity.User{}, fault.ErrNotFound.At("user", id)
	}
	return u, err
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (identity.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, identity.NormalizeEmail(email)))
	if noRows(err) {
		return identity.User{}, fault.ErrNotFound.At("user", 0)
	}
	return u, err
}

func (s *Store) CreateAccount(ctx context.Context, userID int64, profile identity.RoleProfile) (identity.Account, error) {
	if err := identity.ValidateProfile(profile); err != nil {
		return identity.Account{}, err
	}
	var acc identity.Account
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			select id, user_id, account_type, created_at from accounts where user_id = $1 for update
		`, userID).Scan(&acc.ID, &acc.UserID, &acc.Kind, &acc.CreatedAt)
		switch {
		case err == nil:
			if acc.Kind != profile.Kind() {
				return fault.ErrRoleConflict.At("account", acc.ID).
					Withf("user %d already holds the %s role", userID, acc.Kind)
			}
			return nil
		case !noRows(err):
			return err
		}

		var one int
		if err := tx.QueryRowContext(ctx, `select 1 from users where id = $1`, userID).Scan(&one); err != nil {
			if noRows(err) {
				return fault.ErrMissingReference.At("user", userID)
			}
			return err
		}
		acc, err = s.insertAccount(ctx, tx, userID, profile)
		return err
	})
	if err != nil {
		return identity.Account{}, translate(err)
	}
	return acc, nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (identity.Account, error) {
	var acc identity.Account
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, account_type, created_at from accounts where id = $1
	`, id).Scan(&acc.ID, &acc.UserID, &acc.Kind, &acc.CreatedAt)
	if noRows(err) {
		return identity.Account{}, fault.ErrNotFound.At("account", id)
	}
	return acc, err
}

func (s *Store) GetRole(ctx context.Context, accountID int64) (identity.RoleProfile, error) {
	acc, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	p, err := readProfile(ctx, s.db, accountID, acc.Kind)
	if noRows(err) {
		empty, _ := identity.EmptyProfile(acc.Kind)
		return empty, nil
	}
	return p, err
}

func (s *Store) LinkRoleProfile(ctx context.Context, accountID int64, profile identity.RoleProfile) error {
	if err := identity.ValidateProfile(profile); err != nil {
		return err
	}
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var kind identity.RoleKind
		err := tx.QueryRowContext(ctx, `select account_type from accounts where id = $1 for update`, accountID).Scan(&kind)
		if noRows(err) {
			return fault.ErrNotFound.At("account", accountID)
		}
		if err != nil {
			return err
		}
		if kind != profile.Kind() {
			return fault.ErrRoleConflict.At("account", accountID).
				Withf("account holds the %s role, got a %s profile", kind, profile.Kind())
		}
		return writeProfile(ctx, tx, accountID, profile)
	})
	return translate(err)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readProfile(ctx context.Context, q querier, accountID int64, kind identity.RoleKind) (identity.RoleProfile, error) {
	switch kind {
	case identity.RoleVoter:
		var (
			v     identity.VoterProfile
			birth sql.NullTime
			party sql.NullInt64
		)
		err := q.QueryRowContext(ctx, `
			select street1, street2, city, state, postal_code, county, district, country,
				race, ethnicity, gender, veteran_status, birthdate, registration_status, party_id
			from voter_profiles where account_id = $1
		`, accountID).Scan(&v.Address.Street1, &v.Address.Street2, &v.Address.City, &v.Address.State,
			&v.Address.PostalCode, &v.Address.County, &v.Address.District, &v.Address.Country,
			&v.Race, &v.Ethnicity, &v.Gender, &v.VeteranStatus, &birth, &v.RegistrationStatus, &party)
		v.Birthdate, v.PartyID = timeOf(birth), party.Int64
		return v, err
	case identity.RoleAdmin:
		var v identity.AdminProfile
		err := q.QueryRowContext(ctx, `select photo, title, state, county from admin_profiles where account_id = $1`, accountID).
			Scan(&v.Photo, &v.Title, &v.State, &v.County)
		return v, err
	case identity.RolePartner:
		var v identity.PartnerProfile
		err := q.QueryRowContext(ctx, `select photo, title, state, county from partner_profiles where account_id = $1`, accountID).
			Scan(&v.Photo, &v.Title, &v.State, &v.County)
		return v, err
	case identity.RoleMember:
		var (
			v        identity.MemberProfile
			ent, adm sql.NullInt64
		)
		err := q.QueryRowContext(ctx, `
			select photo, title, state, county, enterprise_id, administration_id
			from member_profiles where account_id = $1
		`, accountID).Scan(&v.Photo, &v.Title, &v.State, &v.County, &ent, &adm)
		v.EnterpriseID, v.AdministrationID = ent.Int64, adm.Int64
		return v, err
	case identity.RoleSuperAdmin:
		var v identity.SuperAdminProfile
		err := q.QueryRowContext(ctx, `select photo, title from super_admin_profiles where account_id = $1`, accountID).
			Scan(&v.Photo, &v.Title)
		return v, err
	}
	return nil, fault.ErrInvalidInput.At("account", accountID).Withf("unknown role %q", kind)
}

// writeProfile upserts the row for the profile's role table.
func writeProfile(ctx context.Context, tx *sql.Tx, accountID int64, p identity.RoleProfile) error {
	var err error
	switch v := p.(type) {
	case identity.VoterProfile:
		a := v.Address
		_, err = tx.ExecContext(ctx, `
			insert into voter_profiles (account_id, street1, street2, city, state, postal_code, county, district, country,
				race, ethnicity, gender, veteran_status, birthdate, registration_status, party_id)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			on conflict (account_id) do update set
				street1 = excluded.street1, street2 = excluded.street2, city = excluded.city,
				state = excluded.state, postal_code = excluded.postal_code, county = excluded.county,
				district = excluded.district, country = excluded.country, race = excluded.race,
				ethnicity = excluded.ethnicity, gender = excluded.gender, veteran_status = excluded.veteran_status,
				birthdate = excluded.birthdate, registration_status = excluded.registration_status,
				party_id = excluded.party_id
		`, accountID, a.Street1, a.Street2, a.City, a.State, a.PostalCode, a.County, a.District, a.Country,
			v.Race, v.Ethnicity, v.Gender, v.VeteranStatus, nullTime(v.Birthdate), v.RegistrationStatus, nullInt(v.PartyID))
	case identity.AdminProfile:
		_, err = tx.ExecContext(ctx, `
			insert into admin_profiles (account_id, photo, title, state, county) values ($1, $2, $3, $4, $5)
			on conflict (account_id) do update set
				photo = excluded.photo, title = excluded.title, state = excluded.state, county = excluded.county
		`, accountID, v.Photo, v.Title, v.State, v.County)
	case identity.PartnerProfile:
		_, err = tx.ExecContext(ctx, `
			insert into partner_profiles (account_id, photo, title, state, county) values ($1, $2, $3, $4, $5)
			on conflict (account_id) do update set
				photo = excluded.photo, title = excluded.title, state = excluded.state, county = excluded.county
		`, accountID, v.Photo, v.Title, v.State, v.County)
	case identity.MemberProfile:
		_, err = tx.ExecContext(ctx, `
			insert into member_profiles (account_id, photo, title, state, county, enterprise_id, administration_id)
			values ($1, $2, $3, $4, $5, $6, $7)
			on conflict (account_id) do update set
				photo = excluded.photo, title = excluded.title, state = excluded.state, county = excluded.county,
				enterprise_id = excluded.enterprise_id, administration_id = excluded.administration_id
		`, accountID, v.Photo, v.Title, v.State, v.County, nullInt(v.EnterpriseID), nullInt(v.AdministrationID))
	case identity.SuperAdminProfile:
		_, err = tx.ExecContext(ctx, `
			insert into super_admin_profiles (account_id, photo, title) values ($1, $2, $3)
			on conflict (account_id) do update set photo = excluded.photo, title = excluded.title
		`, accountID, v.Photo, v.Title)
	default:
		return fault.ErrInvalidInput.At("account", accountID).Withf("unsupported profile %T", p)
	}
	return err
}

// ownerAccount checks that id names an account of the wanted role.
func ownerAccount(ctx context.Context, q querier, id int64, want identity.RoleKind) error {
	var kind identity.RoleKind
	err := q.QueryRowContext(ctx, `select account_type from accounts where id = $1`, id).Scan(&kind)
	if noRows(err) {
		return fault.ErrMissingReference.At("account", id)
	}
	if err != nil {
		return err
	}
	if kind != want {
		return fault.ErrRoleConflict.At("account", id).Withf("owner must be a %s account, not %s", want, kind)
	}
	return nil
}

func (s *Store) CreateAdministration(ctx context.Context, a identity.Administration) (identity.Administration, error) {
	a, err := identity.PrepareAdministration(a)
	if err != nil {
		return identity.Administration{}, err
	}
	if err := ownerAccount(ctx, s.db, a.AdminAccountID, identity.RoleAdmin); err != nil {
		return identity.Administration{}, err
	}
	a.CreatedAt = s.clock()
	err = s.db.QueryRowContext(ctx, `
		insert into administrations (admin_account_id, name, type, website, verified, created_at)
		values ($1, $2, $3, $4, $5, $6)
		returning id
	`, a.AdminAccountID, a.Name, a.Type, a.Website, a.Verified, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return identity.Administration{}, translate(err)
	}
	return a, nil
}

func (s *Store) GetAdministration(ctx context.Context, id int64) (identity.Administration, error) {
	var a identity.Administration
	err := s.db.QueryRowContext(ctx, `
		select id, admin_account_id, name, type, website, verified, created_at from administrations where id = $1
	`, id).Scan(&a.ID, &a.AdminAccountID, &a.Name, &a.Type, &a.Website, &a.Verified, &a.CreatedAt)
	if noRows(err) {
		return identity.Administration{}, fault.ErrNotFound.At("administration", id)
	}
	return a, err
}

func (s *Store) CreateEnterprise(ctx context.Context, e identity.Enterprise) (identity.Enterprise, error) {
	e, err := identity.PrepareEnterprise(e)
	if err != nil {
		return identity.Enterprise{}, err
	}
	if err := ownerAccount(ctx, s.db, e.PartnerAccountID, identity.RolePartner); err != nil {
		return identity.Enterprise{}, err
	}
	e.CreatedAt = s.clock()
	err = s.db.QueryRowContext(ctx, `
		insert into enterprises (partner_account_id, name, type, website, created_at)
		values ($1, $2, $3, $4, $5)
		returning id
	`, e.PartnerAccountID, e.Name, e.Type, e.Website, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return identity.Enterprise{}, translate(err)
	}
	return e, nil
}

func (s *Store) GetEnterprise(ctx context.Context, id int64) (identity.Enterprise, error) {
	var e identity.Enterprise
	err := s.db.QueryRowContext(ctx, `
		select id, partner_account_id, name, type, website, created_at from enterprises where id = $1
	`, id).Scan(&e.ID, &e.PartnerAccountID, &e.Name, &e.Type, &e.Website, &e.CreatedAt)
	if noRows(err) {
		return identity.Enterprise{}, fault.ErrNotFound.At("enterprise", id)
	}
	return e, err
}
