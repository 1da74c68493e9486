package claims

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rephlo/idp/internal/account"
	"github.com/rephlo/idp/internal/license"
)

type stubAccountStore struct {
	accounts map[string]*account.Account
	err      error
}

func (s *stubAccountStore) Account(_ context.Context, id string) (*account.Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	acct, ok := s.accounts[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	return acct, nil
}

func (s *stubAccountStore) AccountByEmail(context.Context, string) (*account.Account, error) {
	return nil, account.ErrNotFound
}

type stubLicenseStore struct {
	ents []*license.Entitlement
	err  error
}

func (s *stubLicenseStore) EntitlementsByAccount(context.Context, string) ([]*license.Entitlement, error) {
	return s.ents, s.err
}

func newAssembler(accounts *stubAccountStore, licenses *stubLicenseStore) *Assembler {
	return NewAssembler(
		account.NewResolver(accounts, nil),
		license.NewEnricher(licenses, nil),
	)
}

func licensedAccounts() (*stubAccountStore, *stubLicenseStore) {
	activatedAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	accounts := &stubAccountStore{accounts: map[string]*account.Account{
		"acct_1": {
			ID:            "acct_1",
			Email:         "dev@rephlo.dev",
			EmailVerified: true,
			Name:          "Dev User",
			Role:          account.RoleUser,
		},
	}}
	licenses := &stubLicenseStore{ents: []*license.Entitlement{{
		ID:          "ent_1",
		AccountID:   "acct_1",
		Key:         "REPHLO-V1-ABCD-EFGH-1234",
		Tier:        "pro",
		Version:     "v1",
		Status:      license.StatusActive,
		ActivatedAt: &activatedAt,
	}}}
	return accounts, licenses
}

func TestBuild_SubjectAlwaysPresent(t *testing.T) {
	// Given.
	accounts, licenses := licensedAccounts()
	assembler := newAssembler(accounts, licenses)

	// When. No identity scopes at all.
	claims, err := assembler.Build(context.Background(), "acct_1", "openid")

	// Then.
	require.Nil(t, err)
	assert.Equal(t, "acct_1", claims["sub"])
	assert.NotContains(t, claims, "email")
	assert.NotContains(t, claims, "email_verified")
	assert.NotContains(t, claims, "name")
}

func TestBuild_ScopeGatedClaims(t *testing.T) {
	// Given.
	accounts, licenses := licensedAccounts()
	assembler := newAssembler(accounts, licenses)

	// When.
	claims, err := assembler.Build(context.Background(), "acct_1", "openid email profile")

	// Then.
	require.Nil(t, err)
	assert.Equal(t, "dev@rephlo.dev", claims["email"])
	assert.Equal(t, true, claims["email_verified"])
	assert.Equal(t, "Dev User", claims["name"])
}

func TestBuild_EmailScopeAlone(t *testing.T) {
	// Given.
	accounts, licenses := licensedAccounts()
	assembler := newAssembler(accounts, licenses)

	// When.
	claims, err := assembler.Build(context.Background(), "acct_1", "openid email")

	// Then. Profile claims stay out.
	require.Nil(t, err)
	assert.Equal(t, "dev@rephlo.dev", claims["email"])
	assert.NotContains(t, claims, "name")
}

func TestBuild_LicenseFragmentIgnoresScope(t *testing.T) {
	// Given.
	accounts, licenses := licensedAccounts()
	assembler := newAssembler(accounts, licenses)

	// When. The client asked for nothing license-related.
	claims, err := assembler.Build(context.Background(), "acct_1", "openid")

	// Then. The fragment rides along with the key masked.
	require.Nil(t, err)
	want := map[string]any{
		"status":  "active",
		"key":     "REPHLO-V1-****-****-1234",
		"tier":    "pro",
		"version": "v1",
	}
	if diff := cmp.Diff(want, claims[ClaimLicense]); diff != "" {
		t.Errorf("license fragment mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_NoLicenseMeansNoFragmentKey(t *testing.T) {
	// Given.
	accounts, _ := licensedAccounts()
	assembler := newAssembler(accounts, &stubLicenseStore{})

	// When.
	claims, err := assembler.Build(context.Background(), "acct_1", "openid")

	// Then. Absent key, not a null value.
	require.Nil(t, err)
	assert.NotContains(t, claims, ClaimLicense)
}

func TestBuild_RoleClaimOnlyForAdmins(t *testing.T) {
	// Given.
	accounts, licenses := licensedAccounts()
	assembler := newAssembler(accounts, licenses)

	// When / Then. Regular accounts never see the role claim.
	claims, err := assembler.Build(context.Background(), "acct_1", "openid")
	require.Nil(t, err)
	assert.NotContains(t, claims, ClaimRole)

	// Given.
	accounts.accounts["acct_1"].Role = account.RoleAdmin

	// When / Then.
	claims, err = assembler.Build(context.Background(), "acct_1", "openid")
	require.Nil(t, err)
	assert.Equal(t, "admin", claims[ClaimRole])
}

func TestBuild_UnknownSubject(t *testing.T) {
	// Given.
	assembler := newAssembler(&stubAccountStore{accounts: map[string]*account.Account{}}, &stubLicenseStore{})

	// When.
	_, err := assembler.Build(context.Background(), "ghost", "openid")

	// Then.
	assert.True(t, errors.Is(err, account.ErrNotFound))
}

func TestBuild_AccountLookupFailureFailsClosed(t *testing.T) {
	// Given.
	assembler := newAssembler(&stubAccountStore{err: errors.New("connection reset")}, &stubLicenseStore{})

	// When.
	claims, err := assembler.Build(context.Background(), "acct_1", "openid")

	// Then. No partial claim set comes back.
	assert.Nil(t, claims)
	assert.True(t, errors.Is(err, account.ErrLookupFailed))
}

func TestBuild_LicenseLookupFailureFailsClosed(t *testing.T) {
	// Given.
	accounts, _ := licensedAccounts()
	assembler := newAssembler(accounts, &stubLicenseStore{err: errors.New("connection reset")})

	// When.
	claims, err := assembler.Build(context.Background(), "acct_1", "openid")

	// Then.
	assert.Nil(t, claims)
	assert.True(t, errors.Is(err, license.ErrLookupFailed))
}
