package op

import (
	"slices"
	"strings"

	"github.com/luikyv/go-oidc/pkg/goidc"

	"github.com/rephlo/idp/internal/resource"
)

// opaqueTokenLength sizes opaque access tokens. It must differ from the
// library's refresh token length so the two are distinguishable.
const opaqueTokenLength = 64

// tokenOptions shapes access tokens from the registry descriptor of the
// grant's resource. No resource means the opaque default; an indicator
// that cannot resolve was rejected at request validation, so the opaque
// fallback here never widens what a client can reach.
func tokenOptions(registry *resource.Registry, lifetimeSecs int) goidc.TokenOptionsFunc {
	return func(grantInfo goidc.GrantInfo, _ *goidc.Client) goidc.TokenOptions {
		var indicator string
		if len(grantInfo.ActiveResources) > 0 {
			indicator = grantInfo.ActiveResources[0]
		}

		desc, err := registry.Resolve(indicator)
		if err != nil || desc.Format != resource.FormatJWT {
			return goidc.NewOpaqueTokenOptions(opaqueTokenLength, lifetimeSecs)
		}

		opts := goidc.NewJWTTokenOptions(desc.SigningAlg, lifetimeSecs)
		opts.AddTokenClaims(map[string]any{"aud": desc.AudienceValue()})
		return opts
	}
}

// shouldIssueRefreshToken gates refresh tokens on the client supporting
// the grant type and the user having consented to offline_access.
func shouldIssueRefreshToken(client *goidc.Client, grantInfo goidc.GrantInfo) bool {
	if !slices.Contains(client.GrantTypes, goidc.GrantRefreshToken) {
		return false
	}
	return slices.Contains(
		strings.Fields(grantInfo.GrantedScopes),
		goidc.ScopeOfflineAccess.ID,
	)
}
