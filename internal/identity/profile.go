package identity

import (
	"time"

	"civitas.org/internal/fault"
)

type RoleKind string

const (
	RoleVoter      RoleKind = "voter"
	RoleAdmin      RoleKind = "admin"
	RolePartner    RoleKind = "partner"
	RoleMember     RoleKind = "member"
	RoleSuperAdmin RoleKind = "super_admin"
)

func (k RoleKind) Valid() bool {
	switch k {
	case RoleVoter, RoleAdmin, RolePartner, RoleMember, RoleSuperAdmin:
		return true
	}
	return false
}

// CanOrganize reports whether accounts of this kind may organise elections.
func (k RoleKind) CanOrganize() bool {
	return k == RoleAdmin || k == RoleSuperAdmin
}

// RoleProfile is the payload of an account's single role. The set of
// implementations is closed to this package.
type RoleProfile interface {
	Kind() RoleKind
	roleProfile()
}

type Address struct {
	Street1    string
	Street2    string
	City       string
	State      string
	PostalCode string
	County     string
	District   string
	Country    string
}

type VoterProfile struct {
	Address            Address
	Race               string
	Ethnicity          string
	Gender             string
	VeteranStatus      string
	Birthdate          time.Time
	RegistrationStatus string
	PartyID            int64
}

type AdminProfile struct {
	Photo  string
	Title  string
	State  string
	County string
}

type PartnerProfile struct {
	Photo  string
	Title  string
	State  string
	County string
}

type MemberProfile struct {
	Photo            string
	Title            string
	State            string
	County           string
	EnterpriseID     int64
	AdministrationID int64
}

type SuperAdminProfile struct {
	Photo string
	Title string
}

func (VoterProfile) Kind() RoleKind      { return RoleVoter }
func (AdminProfile) Kind() RoleKind      { return RoleAdmin }
func (PartnerProfile) Kind() RoleKind    { return RolePartner }
func (MemberProfile) Kind() RoleKind     { return RoleMember }
func (SuperAdminProfile) Kind() RoleKind { return RoleSuperAdmin }

func (VoterProfile) roleProfile()      {}
func (AdminProfile) roleProfile()      {}
func (PartnerProfile) roleProfile()    {}
func (MemberProfile) roleProfile()     {}
func (SuperAdminProfile) roleProfile() {}

// EmptyProfile returns the zero payload for kind.
func EmptyProfile(kind RoleKind) (RoleProfile, bool) {
	switch kind {
	case RoleVoter:
		return VoterProfile{}, true
	case RoleAdmin:
		return AdminProfile{}, true
	case RolePartner:
		return PartnerProfile{}, true
	case RoleMember:
		return MemberProfile{}, true
	case RoleSuperAdmin:
		return SuperAdminProfile{}, true
	}
	return nil, false
}

// ValidateProfile checks payload fields that do not need storage lookups.
func ValidateProfile(p RoleProfile) error {
	if p == nil {
		return fault.ErrInvalidInput.Withf("role profile is required")
	}
	switch v := p.(type) {
	case VoterProfile:
		if v.PartyID < 0 {
			return fault.ErrInvalidInput.At("voter", 0).On("party_id")
		}
		if !v.Birthdate.IsZero() && v.Birthdate.After(time.Now()) {
			return fault.ErrInvalidInput.At("voter", 0).Withf("birthdate is in the future")
		}
	case MemberProfile:
		if v.EnterpriseID < 0 || v.AdministrationID < 0 {
			return fault.ErrInvalidInput.At("member", 0).Withf("organisation references must not be negative")
		}
	}
	return nil
}
