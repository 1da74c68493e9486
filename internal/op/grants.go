package op

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/luikyv/go-oidc/pkg/goidc"

	"github.com/rephlo/idp/internal/account"
	"github.com/rephlo/idp/internal/consent"
)

// handleGrant runs on every grant creation. For user grants it re-checks
// consent on refresh, then rebuilds the identity and license claims from
// the stores so tokens never carry state older than the issuance itself.
func handleGrant(deps Deps) goidc.HandleGrantFunc {
	return func(r *http.Request, grantInfo *goidc.GrantInfo) error {
		// Client-credentials grants have no user behind them.
		if grantInfo.GrantType == goidc.GrantClientCredentials {
			return nil
		}

		ctx := r.Context()

		if grantInfo.GrantType == goidc.GrantRefreshToken {
			if err := checkConsent(ctx, deps.Grants, grantInfo); err != nil {
				return err
			}
		}

		identity, err := deps.Claims.Build(ctx, grantInfo.Subject, grantInfo.ActiveScopes)
		switch {
		case errors.Is(err, account.ErrNotFound):
			return goidc.NewError(goidc.ErrorCodeInvalidGrant, "account no longer exists")
		case err != nil:
			deps.Logger.ErrorContext(ctx, "claims assembly failed",
				slog.String("client_id", grantInfo.ClientID),
				slog.String("grant_type", string(grantInfo.GrantType)),
				slog.String("error", err.Error()),
			)
			return goidc.NewError(goidc.ErrorCodeInternalError, "account claims are unavailable")
		}

		// The subject claim is the protocol library's to set.
		delete(identity, goidc.ClaimSubject)
		grantInfo.AdditionalIDTokenClaims = maps.Clone(identity)
		grantInfo.AdditionalUserInfoClaims = maps.Clone(identity)

		return nil
	}
}

// checkConsent requires an active grant covering the refreshed scopes.
// Revoked or expired consent invalidates the refresh token.
func checkConsent(ctx context.Context, store consent.Store, grantInfo *goidc.GrantInfo) error {
	grant, err := store.Grant(ctx, grantInfo.ClientID, grantInfo.Subject)
	if errors.Is(err, consent.ErrNotFound) {
		return goidc.NewError(goidc.ErrorCodeInvalidGrant, "consent for this client is no longer active")
	}
	if err != nil {
		return goidc.NewError(goidc.ErrorCodeInternalError, "consent lookup failed")
	}

	if !grant.Active(time.Now()) {
		return goidc.NewError(goidc.ErrorCodeInvalidGrant, "consent for this client is no longer active")
	}
	if !grant.Covers(strings.Fields(grantInfo.ActiveScopes), nil) {
		return goidc.NewError(goidc.ErrorCodeInvalidGrant, "requested scopes exceed the granted consent")
	}

	return nil
}
