package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/luikyv/go-oidc/pkg/goidc"

	"github.com/rephlo/idp/internal/account"
	"github.com/rephlo/idp/internal/logging"
)

// Outcome is the policy's answer for one authorization request.
type Outcome string

const (
	// OutcomeReused means an active grant already covers the request.
	OutcomeReused Outcome = "reused"
	// OutcomeAutoGranted means a synthetic grant was created and persisted
	// because the client skips the consent screen.
	OutcomeAutoGranted Outcome = "auto_granted"
	// OutcomePrompt means the user must see the consent screen.
	OutcomePrompt Outcome = "prompt"
	// OutcomeStaleSession means the session references an account that no
	// longer exists. The caller must destroy the session and restart the
	// interactive flow.
	OutcomeStaleSession Outcome = "stale_session"
)

// Request carries everything the policy needs to decide one authorization.
type Request struct {
	ClientID string
	// SkipConsent mirrors the client registration's consent-screen flag.
	SkipConsent bool
	// SupportsRefresh is true when the client may use the refresh token
	// grant.
	SupportsRefresh bool
	// AccountID is the authenticated session subject, empty when nobody
	// is logged in.
	AccountID string
	// RawScope is the scope parameter exactly as the client sent it.
	RawScope string
	// Scopes are the requested OIDC scopes after request processing.
	Scopes []string
	// ResourceScopes maps each validated resource indicator to the scopes
	// requested for it.
	ResourceScopes map[string][]string
}

// Decision pairs an outcome with the grant backing it, when one exists.
type Decision struct {
	Outcome Outcome
	Grant   *Grant
}

// Policy decides whether an authorization request needs the consent
// screen, reusing or synthesizing grants according to the client's
// registration.
type Policy struct {
	store    Store
	accounts *account.Resolver
	grantTTL time.Duration
	log      *slog.Logger
}

func NewPolicy(store Store, accounts *account.Resolver, grantTTL time.Duration, log *slog.Logger) *Policy {
	if log == nil {
		log = logging.Discard()
	}
	return &Policy{store: store, accounts: accounts, grantTTL: grantTTL, log: log}
}

// Decide evaluates one authorization request.
//
// Without an authenticated account the interactive prompt is always
// required. A session whose account no longer resolves is stale: the
// caller gets OutcomeStaleSession and must destroy the session rather than
// let a grant be built for a nonexistent account. Store faults propagate
// as errors so issuance fails closed.
func (p *Policy) Decide(ctx context.Context, req Request) (Decision, error) {
	if req.AccountID == "" {
		return Decision{Outcome: OutcomePrompt}, nil
	}

	if _, err := p.accounts.Resolve(ctx, req.AccountID); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			p.log.WarnContext(ctx, "session references unknown account",
				slog.String("account_id", req.AccountID), slog.String("client_id", req.ClientID))
			return Decision{Outcome: OutcomeStaleSession}, nil
		}
		return Decision{}, fmt.Errorf("deciding grant for client %s: %w", req.ClientID, err)
	}

	if req.SkipConsent {
		grant, err := p.persistGrant(ctx, req)
		if err != nil {
			return Decision{}, err
		}
		p.log.DebugContext(ctx, "consent auto-granted",
			slog.String("client_id", req.ClientID), slog.String("account_id", req.AccountID))
		return Decision{Outcome: OutcomeAutoGranted, Grant: grant}, nil
	}

	existing, err := p.store.Grant(ctx, req.ClientID, req.AccountID)
	switch {
	case errors.Is(err, ErrNotFound):
		return Decision{Outcome: OutcomePrompt}, nil
	case err != nil:
		return Decision{}, fmt.Errorf("loading grant for client %s: %w", req.ClientID, err)
	}

	if !existing.Active(time.Now()) || !existing.Covers(req.Scopes, req.ResourceScopes) {
		return Decision{Outcome: OutcomePrompt}, nil
	}

	return Decision{Outcome: OutcomeReused, Grant: existing}, nil
}

// Record persists the grant for a request the user just approved on the
// consent screen. It runs the same construction path as the auto-skip
// case.
func (p *Policy) Record(ctx context.Context, req Request) (*Grant, error) {
	grant, err := p.persistGrant(ctx, req)
	if err != nil {
		return nil, err
	}
	p.log.InfoContext(ctx, "consent recorded",
		slog.String("client_id", req.ClientID), slog.String("account_id", req.AccountID))
	return grant, nil
}

// persistGrant builds and immediately stores a grant for the request.
// Persisting is not deferred: token issuance right after the decision
// depends on the grant existing.
func (p *Policy) persistGrant(ctx context.Context, req Request) (*Grant, error) {
	grant := NewGrant(req.ClientID, req.AccountID, p.grantScopes(req), req.ResourceScopes, p.grantTTL)
	if err := p.store.Upsert(ctx, grant); err != nil {
		return nil, fmt.Errorf("persisting grant for client %s: %w", req.ClientID, err)
	}
	return grant, nil
}

// grantScopes returns the OIDC scopes the new grant should carry.
//
// Resource-indicator processing upstream can strip offline_access out of
// the structured scope set while the client's raw request still asks for
// it. Losing the scope here would silently downgrade the client's refresh
// token to a session-bound one, so when the client supports refresh and
// the raw scope parameter mentions offline_access, the scope is added
// back.
func (p *Policy) grantScopes(req Request) []string {
	scopes := req.Scopes
	offline := goidc.ScopeOfflineAccess.ID
	if req.SupportsRefresh &&
		strings.Contains(req.RawScope, offline) &&
		!slices.Contains(scopes, offline) {
		scopes = append(slices.Clone(scopes), offline)
	}
	return scopes
}
