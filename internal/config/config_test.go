package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rephlo/idp/internal/resource"
)

func TestLoad_Defaults(t *testing.T) {
	// When.
	cfg, err := Load()

	// Then.
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "http://localhost:8445", cfg.Issuer)
	assert.Equal(t, ":8445", cfg.ListenAddr)
	assert.Equal(t, 600, cfg.AccessTokenTTLSecs)
	assert.Equal(t, 60, cfg.AuthorizationCodeTTLSecs)
	assert.Equal(t, 600, cfg.IDTokenTTLSecs)
	assert.Equal(t, 1209600, cfg.RefreshTokenTTLSecs)
	assert.Equal(t, 2592000, cfg.GrantTTLSecs)
	assert.Equal(t, 3600, cfg.InteractionTTLSecs)
	assert.Equal(t, 1209600, cfg.SessionTTLSecs)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	// Given.
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("IDP_ISSUER", "https://id.rephlo.dev")
	t.Setenv("IDP_ACCESS_TOKEN_TTL", "300")

	// When.
	cfg, err := Load()

	// Then.
	require.NoError(t, err)
	assert.Equal(t, "https://id.rephlo.dev", cfg.Issuer)
	assert.Equal(t, 300, cfg.AccessTokenTTLSecs)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_RejectsRelativeIssuer(t *testing.T) {
	// Given.
	t.Setenv("IDP_ISSUER", "id.rephlo.dev/op")

	// When.
	_, err := Load()

	// Then.
	assert.ErrorContains(t, err, "IDP_ISSUER")
}

func TestLoad_RejectsNonPositiveTTL(t *testing.T) {
	// Given.
	t.Setenv("IDP_GRANT_TTL", "0")

	// When.
	_, err := Load()

	// Then.
	assert.ErrorContains(t, err, "IDP_GRANT_TTL")
}

func TestLoadClients(t *testing.T) {
	// Given.
	path := writeTemp(t, "clients.yml", `
clients:
  - id: rephlo-desktop
    name: Rephlo Desktop
    redirect_uris:
      - http://127.0.0.1:53682/callback
    grant_types: [authorization_code, refresh_token]
    response_types: [code]
    scope: openid email profile offline_access licensing.read
    skip_consent: true
  - id: rephlo-dashboard
    name: Rephlo Dashboard
    secret: dashboard-secret
    redirect_uris:
      - https://dashboard.rephlo.dev/oauth/callback
    grant_types: [authorization_code]
    response_types: [code]
    scope: openid email profile
`)

	// When.
	registrations, err := LoadClients(path)

	// Then.
	require.NoError(t, err)
	require.Len(t, registrations, 2)

	desktop := registrations[0]
	assert.Equal(t, "rephlo-desktop", desktop.ID)
	assert.True(t, desktop.Public())
	assert.True(t, desktop.SupportsRefresh())
	assert.True(t, desktop.SkipConsent)

	dashboard := registrations[1]
	assert.False(t, dashboard.Public())
	assert.NotEqual(t, "dashboard-secret", dashboard.SecretHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword(
		[]byte(dashboard.SecretHash), []byte("dashboard-secret"),
	))
}

func TestLoadClients_InvalidRegistration(t *testing.T) {
	// Given. An authorization code client without redirect URIs.
	path := writeTemp(t, "clients.yml", `
clients:
  - id: broken
    grant_types: [authorization_code]
    response_types: [code]
`)

	// When.
	_, err := LoadClients(path)

	// Then.
	assert.ErrorContains(t, err, "redirect uri")
}

func TestLoadClients_Empty(t *testing.T) {
	// Given.
	path := writeTemp(t, "clients.yml", "clients: []\n")

	// When.
	_, err := LoadClients(path)

	// Then.
	assert.ErrorContains(t, err, "no clients")
}

func TestLoadResources(t *testing.T) {
	// Given.
	path := writeTemp(t, "resources.yml", `
resources:
  - indicator: https://api.rephlo.dev
    scope: licensing.read licensing.write
    format: jwt
    signing_alg: PS256
    audience: rephlo-api
  - indicator: https://telemetry.rephlo.dev
    format: opaque
`)

	// When.
	descriptors, err := LoadResources(path)

	// Then.
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, resource.FormatJWT, descriptors[0].Format)
	assert.Equal(t, "rephlo-api", descriptors[0].Audience)
	assert.Equal(t, resource.FormatOpaque, descriptors[1].Format)
}

func TestLoadResources_MissingFileIsEmpty(t *testing.T) {
	// When.
	descriptors, err := LoadResources(filepath.Join(t.TempDir(), "absent.yml"))

	// Then.
	require.NoError(t, err)
	assert.Empty(t, descriptors)
}

func TestLoadResources_UnknownFormat(t *testing.T) {
	// Given.
	path := writeTemp(t, "resources.yml", `
resources:
  - indicator: https://api.rephlo.dev
    format: saml
`)

	// When.
	_, err := LoadResources(path)

	// Then.
	assert.ErrorContains(t, err, "token format")
}

func TestLoadFixtures(t *testing.T) {
	// Given.
	path := writeTemp(t, "fixtures.yml", `
accounts:
  - id: acct_dev
    email: dev@rephlo.dev
    email_verified: true
    name: Dev User
    role: admin
    password: devpass
entitlements:
  - id: ent_1
    account_id: acct_dev
    key: REPHLO-V1-AAAA-BBBB-1111
    tier: pro
    version: v1
    status: active
    activations: 1
    max_activations: 3
    purchased_at: 2026-01-10T00:00:00Z
    activated_at: 2026-01-11T09:30:00Z
`)

	// When.
	fixtures, err := LoadFixtures(path)

	// Then.
	require.NoError(t, err)
	require.Len(t, fixtures.Accounts, 1)
	require.Len(t, fixtures.Entitlements, 1)

	acct := fixtures.Accounts[0]
	assert.True(t, acct.Admin())
	assert.NotEqual(t, "devpass", acct.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword(
		[]byte(acct.PasswordHash), []byte("devpass"),
	))

	ent := fixtures.Entitlements[0]
	assert.True(t, ent.Active())
	require.NotNil(t, ent.ActivatedAt)
	assert.Equal(t, 2026, ent.ActivatedAt.Year())
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
