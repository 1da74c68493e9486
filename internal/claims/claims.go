// Package claims assembles the identity claims issued in ID tokens and
// userinfo responses.
package claims

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/luikyv/go-oidc/pkg/goidc"

	"github.com/rephlo/idp/internal/account"
	"github.com/rephlo/idp/internal/license"
)

// Claim keys specific to Rephlo. Standard OIDC claims use the goidc
// constants.
const (
	// ClaimLicense nests the license fragment. Consumers treat its
	// presence as "this account holds an active license".
	ClaimLicense = "rephlo_license"
	// ClaimRole is only ever emitted for elevated accounts.
	ClaimRole = "rephlo_role"
)

// Assembler builds claim sets from the account and entitlement
// collaborators.
type Assembler struct {
	accounts *account.Resolver
	licenses *license.Enricher
}

func NewAssembler(accounts *account.Resolver, licenses *license.Enricher) *Assembler {
	return &Assembler{accounts: accounts, licenses: licenses}
}

// Build returns the claims for one subject under one granted scope set.
//
// The subject claim is always present. Email and profile claims are gated
// on their scopes so nothing is shared beyond what was consented. The
// license fragment rides along whenever the account holds an active
// license, independent of scope: license status is product metadata every
// Rephlo client needs, not a consent-gated attribute. Any collaborator
// fault aborts the build so issuance fails closed.
func (a *Assembler) Build(ctx context.Context, subject, scope string) (map[string]any, error) {
	acct, err := a.accounts.Resolve(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("building claims: %w", err)
	}

	scopes := strings.Fields(scope)
	claims := map[string]any{
		goidc.ClaimSubject: acct.ID,
	}

	if slices.Contains(scopes, goidc.ScopeEmail.ID) {
		claims[goidc.ClaimEmail] = acct.Email
		claims[goidc.ClaimEmailVerified] = acct.EmailVerified
	}
	if slices.Contains(scopes, goidc.ScopeProfile.ID) {
		claims[goidc.ClaimName] = acct.Name
	}
	if acct.Admin() {
		claims[ClaimRole] = string(account.RoleAdmin)
	}

	fragment, err := a.licenses.Enrich(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("building claims: %w", err)
	}
	if fragment != nil {
		claims[ClaimLicense] = fragment.ClaimValue()
	}

	return claims, nil
}
