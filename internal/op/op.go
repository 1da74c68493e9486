// Package op assembles the OpenID provider: it binds the account,
// license, consent and resource services onto the protocol library's
// hooks and storage interfaces.
package op

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/luikyv/go-oidc/pkg/goidc"
	"github.com/luikyv/go-oidc/pkg/provider"

	"github.com/rephlo/idp/internal/claims"
	"github.com/rephlo/idp/internal/clients"
	"github.com/rephlo/idp/internal/config"
	"github.com/rephlo/idp/internal/consent"
	"github.com/rephlo/idp/internal/resource"
)

// Deps carries the services the provider hooks close over. Policy and
// RenderError come from the interaction layer; the session managers are
// optional and default to the library's in-memory ones when nil.
type Deps struct {
	Logger        *slog.Logger
	Clients       clients.Directory
	Registry      *resource.Registry
	Claims        *claims.Assembler
	Grants        consent.Store
	Policy        goidc.AuthnPolicy
	RenderError   goidc.RenderErrorFunc
	AuthnSessions goidc.AuthnSessionManager
	GrantSessions goidc.GrantSessionManager
}

// New builds the configured OpenID provider. The returned provider
// exposes its HTTP surface through Handler().
func New(cfg *config.Config, deps Deps) (provider.Provider, error) {
	advertised := advertisedClaims()

	opts := []provider.ProviderOption{
		provider.WithScopes(serverScopes(deps.Registry)...),
		provider.WithClaims(advertised[0], advertised[1:]...),
		provider.WithTokenAuthnMethods(
			goidc.ClientAuthnSecretBasic,
			goidc.ClientAuthnSecretPost,
			goidc.ClientAuthnNone,
		),
		provider.WithAuthorizationCodeGrant(),
		provider.WithClientCredentialsGrant(),
		provider.WithRefreshTokenGrant(shouldIssueRefreshToken, cfg.RefreshTokenTTLSecs),
		provider.WithPKCE(goidc.CodeChallengeMethodSHA256),
		provider.WithIDTokenSignatureAlgs(goidc.PS256, goidc.RS256),
		provider.WithUserInfoSignatureAlgs(goidc.PS256, goidc.RS256),
		provider.WithIDTokenLifetime(cfg.IDTokenTTLSecs),
		provider.WithAuthenticationSessionTimeout(cfg.InteractionTTLSecs),
		provider.WithTokenOptions(tokenOptions(deps.Registry, cfg.AccessTokenTTLSecs)),
		provider.WithHandleGrantFunc(handleGrant(deps)),
		provider.WithPolicies(deps.Policy),
		provider.WithClientStorage(newClientManager(deps.Clients)),
		provider.WithNotifyErrorFunc(notifyError(deps.Logger)),
	}

	if deps.RenderError != nil {
		opts = append(opts, provider.WithRenderErrorFunc(deps.RenderError))
	}
	if indicators := deps.Registry.Indicators(); len(indicators) > 0 {
		opts = append(opts, provider.WithResourceIndicators(indicators...))
	}
	if deps.AuthnSessions != nil {
		opts = append(opts, provider.WithAuthnSessionStorage(deps.AuthnSessions))
	}
	if deps.GrantSessions != nil {
		opts = append(opts, provider.WithGrantSessionStorage(deps.GrantSessions))
	}

	return provider.New(goidc.ProfileOpenID, cfg.Issuer, JWKSFunc(cfg.JWKSFile), opts...)
}

// JWKSFunc returns the provider's signing key source. The file is read
// on first use so the binary can start before keys are generated, as
// long as no request needs them yet.
func JWKSFunc(path string) goidc.JWKSFunc {
	var once sync.Once
	var jwks goidc.JSONWebKeySet
	var loadErr error

	return func(ctx context.Context) (goidc.JSONWebKeySet, error) {
		once.Do(func() {
			raw, err := os.ReadFile(path)
			if err != nil {
				loadErr = fmt.Errorf("reading jwks file: %w", err)
				return
			}
			if err := json.Unmarshal(raw, &jwks); err != nil {
				loadErr = fmt.Errorf("parsing jwks file %s: %w", path, err)
				return
			}
			if len(jwks.Keys) == 0 {
				loadErr = fmt.Errorf("jwks file %s holds no keys", path)
			}
		})
		return jwks, loadErr
	}
}

// serverScopes is the scope universe the provider advertises: the
// standard identity scopes plus every scope a configured resource
// server accepts.
func serverScopes(registry *resource.Registry) []goidc.Scope {
	scopes := []goidc.Scope{
		goidc.ScopeOpenID,
		goidc.ScopeEmail,
		goidc.ScopeProfile,
		goidc.ScopeOfflineAccess,
	}

	seen := make(map[string]bool, len(scopes))
	for _, scope := range scopes {
		seen[scope.ID] = true
	}

	for _, indicator := range registry.Indicators() {
		desc, err := registry.Resolve(indicator)
		if err != nil {
			continue
		}
		for _, id := range strings.Fields(desc.Scope) {
			if seen[id] {
				continue
			}
			seen[id] = true
			scopes = append(scopes, goidc.NewScope(id))
		}
	}

	return scopes
}

func advertisedClaims() []string {
	return []string{
		goidc.ClaimEmail,
		goidc.ClaimEmailVerified,
		goidc.ClaimName,
		claims.ClaimLicense,
		claims.ClaimRole,
	}
}

func notifyError(log *slog.Logger) func(context.Context, error) {
	return func(ctx context.Context, err error) {
		log.ErrorContext(ctx, "request failed", slog.String("error", err.Error()))
	}
}
