package op

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/luikyv/go-oidc/pkg/goidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rephlo/idp/internal/account"
	"github.com/rephlo/idp/internal/claims"
	"github.com/rephlo/idp/internal/clients"
	"github.com/rephlo/idp/internal/consent"
	"github.com/rephlo/idp/internal/license"
	"github.com/rephlo/idp/internal/logging"
	"github.com/rephlo/idp/internal/resource"
	"github.com/rephlo/idp/internal/storage/memory"
)

func testDeps(t *testing.T) Deps {
	t.Helper()

	accounts := memory.NewAccountStore()
	accounts.Add(&account.Account{
		ID:            "acct_1",
		Email:         "user@rephlo.dev",
		EmailVerified: true,
		Name:          "Test User",
		Role:          account.RoleUser,
	})

	entitlements := memory.NewEntitlementStore()
	activated := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	entitlements.Add(&license.Entitlement{
		ID:          "ent_1",
		AccountID:   "acct_1",
		Key:         "REPHLO-V1-ABCD-EFGH-1234",
		Tier:        "pro",
		Version:     "v1",
		Status:      license.StatusActive,
		PurchasedAt: activated.AddDate(0, 0, -3),
		ActivatedAt: &activated,
	})

	registry, err := resource.NewRegistry([]resource.Descriptor{
		{
			Indicator:  "https://api.rephlo.dev",
			Scope:      "licensing.read licensing.write",
			Format:     resource.FormatJWT,
			SigningAlg: goidc.PS256,
			Audience:   "rephlo-api",
		},
		{
			Indicator: "https://telemetry.rephlo.dev",
			Format:    resource.FormatOpaque,
		},
	})
	require.NoError(t, err)

	log := logging.Discard()
	resolver := account.NewResolver(accounts, log)
	return Deps{
		Logger:   log,
		Clients:  memory.NewClientDirectory(),
		Registry: registry,
		Claims:   claims.NewAssembler(resolver, license.NewEnricher(entitlements, log)),
		Grants:   memory.NewGrantStore(),
	}
}

func TestTokenOptions_JWTResource(t *testing.T) {
	// Given.
	deps := testDeps(t)
	optionsFunc := tokenOptions(deps.Registry, 600)

	// When.
	opts := optionsFunc(goidc.GrantInfo{
		ActiveResources: goidc.Resources{"https://api.rephlo.dev"},
	}, nil)

	// Then.
	want := goidc.NewJWTTokenOptions(goidc.PS256, 600)
	want.AddTokenClaims(map[string]any{"aud": "rephlo-api"})
	assert.Equal(t, want, opts)
}

func TestTokenOptions_NoResourceDefaultsToOpaque(t *testing.T) {
	// Given.
	deps := testDeps(t)
	optionsFunc := tokenOptions(deps.Registry, 600)

	// When.
	opts := optionsFunc(goidc.GrantInfo{}, nil)

	// Then.
	assert.Equal(t, goidc.NewOpaqueTokenOptions(opaqueTokenLength, 600), opts)
}

func TestTokenOptions_OpaqueResource(t *testing.T) {
	// Given.
	deps := testDeps(t)
	optionsFunc := tokenOptions(deps.Registry, 600)

	// When.
	opts := optionsFunc(goidc.GrantInfo{
		ActiveResources: goidc.Resources{"https://telemetry.rephlo.dev"},
	}, nil)

	// Then.
	assert.Equal(t, goidc.NewOpaqueTokenOptions(opaqueTokenLength, 600), opts)
}

func TestShouldIssueRefreshToken(t *testing.T) {
	refreshClient := &goidc.Client{
		ClientMeta: goidc.ClientMeta{
			GrantTypes: []goidc.GrantType{
				goidc.GrantAuthorizationCode, goidc.GrantRefreshToken,
			},
		},
	}
	codeOnlyClient := &goidc.Client{
		ClientMeta: goidc.ClientMeta{
			GrantTypes: []goidc.GrantType{goidc.GrantAuthorizationCode},
		},
	}

	testCases := []struct {
		name      string
		client    *goidc.Client
		grantInfo goidc.GrantInfo
		want      bool
	}{
		{
			name:      "client with refresh grant and offline_access granted",
			client:    refreshClient,
			grantInfo: goidc.GrantInfo{GrantedScopes: "openid offline_access"},
			want:      true,
		},
		{
			name:      "offline_access not granted",
			client:    refreshClient,
			grantInfo: goidc.GrantInfo{GrantedScopes: "openid email"},
			want:      false,
		},
		{
			name:      "client without refresh grant",
			client:    codeOnlyClient,
			grantInfo: goidc.GrantInfo{GrantedScopes: "openid offline_access"},
			want:      false,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := shouldIssueRefreshToken(testCase.client, testCase.grantInfo)
			assert.Equal(t, testCase.want, got)
		})
	}
}

func TestHandleGrant_AttachesIdentityAndLicenseClaims(t *testing.T) {
	// Given.
	deps := testDeps(t)
	handler := handleGrant(deps)
	grantInfo := goidc.GrantInfo{
		GrantType:    goidc.GrantAuthorizationCode,
		Subject:      "acct_1",
		ClientID:     "rephlo-desktop",
		ActiveScopes: "openid email",
	}

	// When.
	err := handler(httptest.NewRequest("POST", "/token", nil), &grantInfo)

	// Then.
	require.NoError(t, err)
	assert.Equal(t, "user@rephlo.dev", grantInfo.AdditionalIDTokenClaims[goidc.ClaimEmail])
	assert.NotContains(t, grantInfo.AdditionalIDTokenClaims, goidc.ClaimSubject)

	fragment, ok := grantInfo.AdditionalUserInfoClaims[claims.ClaimLicense].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "REPHLO-V1-****-****-1234", fragment["key"])
}

func TestHandleGrant_UnknownAccountFailsGrant(t *testing.T) {
	// Given.
	deps := testDeps(t)
	handler := handleGrant(deps)
	grantInfo := goidc.GrantInfo{
		GrantType:    goidc.GrantAuthorizationCode,
		Subject:      "acct_gone",
		ClientID:     "rephlo-desktop",
		ActiveScopes: "openid",
	}

	// When.
	err := handler(httptest.NewRequest("POST", "/token", nil), &grantInfo)

	// Then.
	var oidcErr goidc.Error
	require.ErrorAs(t, err, &oidcErr)
	assert.Equal(t, goidc.ErrorCodeInvalidGrant, oidcErr.Code)
}

func TestHandleGrant_ClientCredentialsSkipsEnrichment(t *testing.T) {
	// Given.
	deps := testDeps(t)
	handler := handleGrant(deps)
	grantInfo := goidc.GrantInfo{
		GrantType: goidc.GrantClientCredentials,
		Subject:   "rephlo-api",
		ClientID:  "rephlo-api",
	}

	// When.
	err := handler(httptest.NewRequest("POST", "/token", nil), &grantInfo)

	// Then.
	require.NoError(t, err)
	assert.Empty(t, grantInfo.AdditionalIDTokenClaims)
	assert.Empty(t, grantInfo.AdditionalUserInfoClaims)
}

func TestHandleGrant_RefreshRequiresActiveConsent(t *testing.T) {
	// Given.
	deps := testDeps(t)
	handler := handleGrant(deps)
	grantInfo := goidc.GrantInfo{
		GrantType:    goidc.GrantRefreshToken,
		Subject:      "acct_1",
		ClientID:     "rephlo-desktop",
		ActiveScopes: "openid",
	}

	// When. No consent grant was ever recorded for the pair.
	err := handler(httptest.NewRequest("POST", "/token", nil), &grantInfo)

	// Then.
	var oidcErr goidc.Error
	require.ErrorAs(t, err, &oidcErr)
	assert.Equal(t, goidc.ErrorCodeInvalidGrant, oidcErr.Code)
}

func TestHandleGrant_RefreshWithActiveConsent(t *testing.T) {
	// Given.
	deps := testDeps(t)
	grant := consent.NewGrant(
		"rephlo-desktop", "acct_1",
		[]string{"openid", "email", "offline_access"}, nil,
		time.Hour,
	)
	require.NoError(t, deps.Grants.Upsert(context.Background(), grant))

	handler := handleGrant(deps)
	grantInfo := goidc.GrantInfo{
		GrantType:    goidc.GrantRefreshToken,
		Subject:      "acct_1",
		ClientID:     "rephlo-desktop",
		ActiveScopes: "openid email",
	}

	// When.
	err := handler(httptest.NewRequest("POST", "/token", nil), &grantInfo)

	// Then.
	require.NoError(t, err)
	assert.Equal(t, "user@rephlo.dev", grantInfo.AdditionalUserInfoClaims[goidc.ClaimEmail])
}

func TestHandleGrant_RefreshBeyondConsentedScopes(t *testing.T) {
	// Given.
	deps := testDeps(t)
	grant := consent.NewGrant("rephlo-desktop", "acct_1", []string{"openid"}, nil, time.Hour)
	require.NoError(t, deps.Grants.Upsert(context.Background(), grant))

	handler := handleGrant(deps)
	grantInfo := goidc.GrantInfo{
		GrantType:    goidc.GrantRefreshToken,
		Subject:      "acct_1",
		ClientID:     "rephlo-desktop",
		ActiveScopes: "openid licensing.write",
	}

	// When.
	err := handler(httptest.NewRequest("POST", "/token", nil), &grantInfo)

	// Then.
	var oidcErr goidc.Error
	require.ErrorAs(t, err, &oidcErr)
	assert.Equal(t, goidc.ErrorCodeInvalidGrant, oidcErr.Code)
}

func TestClientManager_GetResolvesPerRequest(t *testing.T) {
	// Given.
	directory := memory.NewClientDirectory()
	manager := newClientManager(directory)
	ctx := context.Background()

	registration := &clients.Registration{
		ID:            "rephlo-desktop",
		Name:          "Rephlo Desktop",
		RedirectURIs:  []string{"http://127.0.0.1:53682/callback"},
		GrantTypes:    []goidc.GrantType{goidc.GrantAuthorizationCode},
		ResponseTypes: []goidc.ResponseType{goidc.ResponseTypeCode},
		Scope:         "openid email",
	}
	require.NoError(t, directory.Save(ctx, registration))

	// When.
	client, err := manager.Get(ctx, "rephlo-desktop")

	// Then.
	require.NoError(t, err)
	assert.Equal(t, "rephlo-desktop", client.ID)
	assert.Equal(t, goidc.ClientAuthnNone, client.TokenAuthnMethod)

	// When. The registration changes between requests.
	registration.Scope = "openid email profile"
	require.NoError(t, directory.Save(ctx, registration))
	client, err = manager.Get(ctx, "rephlo-desktop")

	// Then.
	require.NoError(t, err)
	assert.Equal(t, "openid email profile", client.ScopeIDs)
}

func TestClientManager_UnknownClient(t *testing.T) {
	// Given.
	manager := newClientManager(memory.NewClientDirectory())

	// When.
	_, err := manager.Get(context.Background(), "ghost")

	// Then.
	assert.Error(t, err)
}

func TestClientManager_RejectsProtocolWrites(t *testing.T) {
	// Given.
	manager := newClientManager(memory.NewClientDirectory())

	// Then.
	assert.Error(t, manager.Save(context.Background(), &goidc.Client{ID: "x"}))
	assert.Error(t, manager.Delete(context.Background(), "x"))
}

func TestServerScopes_IncludesResourceScopes(t *testing.T) {
	// Given.
	deps := testDeps(t)

	// When.
	scopes := serverScopes(deps.Registry)

	// Then.
	ids := make([]string, len(scopes))
	for i, scope := range scopes {
		ids[i] = scope.ID
	}
	assert.Contains(t, ids, goidc.ScopeOpenID.ID)
	assert.Contains(t, ids, goidc.ScopeOfflineAccess.ID)
	assert.Contains(t, ids, "licensing.read")
	assert.Contains(t, ids, "licensing.write")
}

func TestJWKSFunc(t *testing.T) {
	// Given.
	path := filepath.Join(t.TempDir(), "server.jwks")
	jwks := map[string]any{
		"keys": []map[string]any{{
			"kty": "oct",
			"kid": "test_key",
			"alg": "HS256",
			"k":   "c2VjcmV0",
		}},
	}
	raw, err := json.Marshal(jwks)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	// When.
	loaded, err := JWKSFunc(path)(context.Background())

	// Then.
	require.NoError(t, err)
	require.Len(t, loaded.Keys, 1)
	assert.Equal(t, "test_key", loaded.Keys[0].KeyID)
}

func TestJWKSFunc_MissingFile(t *testing.T) {
	// When.
	_, err := JWKSFunc(filepath.Join(t.TempDir(), "absent.jwks"))(context.Background())

	// Then.
	assert.Error(t, err)
}
