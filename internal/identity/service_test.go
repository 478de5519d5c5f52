package identity_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"civitas.org/internal/fault"
	"civitas.org/internal/identity"
	"civitas.org/internal/store/memory"
)

func newService(t *testing.T) (*identity.Service, *memory.Store) {
	t.Helper()
	reg := memory.New()
	return identity.NewService(reg, identity.WithHasher(identity.Hasher{Cost: bcrypt.MinCost})), reg
}

func TestRegisterCreatesUserAndAccount(t *testing.T) {
	svc, reg := newService(t)
	ctx := context.Background()

	u, acc, err := svc.Register(ctx, identity.Registration{
		Name:     "Ada Lovelace",
		Email:    "Ada@Example.org",
		Password: "correct horse",
		Profile:  identity.VoterProfile{RegistrationStatus: "active"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.org", u.Email)
	assert.NotEqual(t, "correct horse", u.PasswordHash)
	assert.Equal(t, identity.RoleVoter, acc.Kind)
	assert.Equal(t, u.ID, acc.UserID)

	role, err := reg.GetRole(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleVoter, role.Kind())
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc, reg := newService(t)
	_, _, err := svc.Register(context.Background(), identity.Registration{
		Name: "Bob", Email: "bob@example.org", Password: "short", Profile: identity.AdminProfile{},
	})
	require.ErrorIs(t, err, fault.ErrInvalidInput)

	_, err = reg.FindUserByEmail(context.Background(), "bob@example.org")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestRegisterRequiresProfile(t *testing.T) {
	svc, _ := newService(t)
	_, _, err := svc.Register(context.Background(), identity.Registration{
		Name: "Bob", Email: "bob@example.org", Password: "long enough",
	})
	assert.ErrorIs(t, err, fault.ErrInvalidInput)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	r := identity.Registration{Name: "C", Email: "c@example.org", Password: "long enough", Profile: identity.PartnerProfile{}}
	_, _, err := svc.Register(ctx, r)
	require.NoError(t, err)
	_, _, err = svc.Register(ctx, r)
	assert.ErrorIs(t, err, fault.ErrDuplicateIdentity)
}

func TestRegisterLeavesNothingOnAccountFailure(t *testing.T) {
	svc, reg := newService(t)
	ctx := context.Background()
	r := identity.Registration{
		Name: "Fay", Email: "fay@example.org", Password: "long enough",
		Profile: identity.VoterProfile{PartyID: 999},
	}

	_, _, err := svc.Register(ctx, r)
	require.ErrorIs(t, err, fault.ErrMissingReference)
	_, err = reg.FindUserByEmail(ctx, "fay@example.org")
	require.ErrorIs(t, err, fault.ErrNotFound)

	r.Profile = identity.VoterProfile{}
	u, acc, err := svc.Register(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, u.ID, acc.UserID)
}

func TestRegisterRejectsOverlongPassword(t *testing.T) {
	svc, reg := newService(t)
	_, _, err := svc.Register(context.Background(), identity.Registration{
		Name: "Gus", Email: "gus@example.org", Password: strings.Repeat("p", 73), Profile: identity.VoterProfile{},
	})
	require.ErrorIs(t, err, fault.ErrInvalidInput)

	_, err = reg.FindUserByEmail(context.Background(), "gus@example.org")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	u, _, err := svc.Register(ctx, identity.Registration{
		Name: "Dee", Email: "dee@example.org", Password: "s3cret-pass", Profile: identity.SuperAdminProfile{},
	})
	require.NoError(t, err)

	got, err := svc.Authenticate(ctx, "DEE@example.org", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, wrongPw := svc.Authenticate(ctx, "dee@example.org", "nope-nope")
	_, unknown := svc.Authenticate(ctx, "nobody@example.org", "s3cret-pass")
	require.ErrorIs(t, wrongPw, fault.ErrNotFound)
	require.ErrorIs(t, unknown, fault.ErrNotFound)
	assert.Equal(t, wrongPw.Error(), unknown.Error())
}

func TestChangeRoleProfileKeepsKind(t *testing.T) {
	svc, reg := newService(t)
	ctx := context.Background()
	_, acc, err := svc.Register(ctx, identity.Registration{
		Name: "Eve", Email: "eve@example.org", Password: "long enough", Profile: identity.AdminProfile{Title: "Clerk"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.ChangeRoleProfile(ctx, acc.ID, identity.AdminProfile{Title: "Registrar"}))
	role, err := reg.GetRole(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Registrar", role.(identity.AdminProfile).Title)

	err = svc.ChangeRoleProfile(ctx, acc.ID, identity.VoterProfile{})
	assert.ErrorIs(t, err, fault.ErrRoleConflict)
}

func TestHasherRoundTrip(t *testing.T) {
	h := identity.Hasher{Cost: bcrypt.MinCost}
	hash, err := h.Hash("password1")
	require.NoError(t, err)

	ok, err := h.Verify(hash, "password1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(hash, "password2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify("", "password1")
	assert.Error(t, err)

	_, err = h.Hash(strings.Repeat("x", identity.MaxPasswordBytes+1))
	assert.ErrorIs(t, err, fault.ErrInvalidInput)
}
