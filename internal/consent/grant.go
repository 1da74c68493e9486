// Package consent records which clients a user has authorized and decides
// when the consent screen can be skipped.
package consent

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle stage of a grant for a (client, account) pair.
type State string

const (
	// StateNone means no grant has ever been recorded for the pair.
	StateNone State = "none"
	// StateActive means the grant is current and can authorize issuance.
	StateActive State = "active"
	// StateExpired means the grant outlived its TTL.
	StateExpired State = "expired"
	// StateRevoked means the grant was explicitly withdrawn.
	StateRevoked State = "revoked"
)

// Grant records one user's authorization of one client.
type Grant struct {
	ID        string
	ClientID  string
	AccountID string
	// Scopes holds the granted OIDC scopes, sorted and deduplicated.
	Scopes []string
	// ResourceScopes maps a resource indicator to the scopes granted for
	// that resource server.
	ResourceScopes map[string][]string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
}

// NewGrant is the single construction path for grants. Interactive consent
// and the auto-skip path both go through it so the two can never drift
// apart in how they normalize scopes or stamp lifetimes.
func NewGrant(clientID, accountID string, scopes []string, resourceScopes map[string][]string, ttl time.Duration) *Grant {
	now := time.Now().UTC()
	return &Grant{
		ID:             uuid.NewString(),
		ClientID:       clientID,
		AccountID:      accountID,
		Scopes:         normalizeScopes(scopes),
		ResourceScopes: copyResourceScopes(resourceScopes),
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

// State reports the grant's lifecycle stage at the given instant. A nil
// grant is StateNone.
func (g *Grant) State(now time.Time) State {
	switch {
	case g == nil:
		return StateNone
	case g.RevokedAt != nil:
		return StateRevoked
	case !now.Before(g.ExpiresAt):
		return StateExpired
	default:
		return StateActive
	}
}

// Active reports whether the grant can authorize issuance at the given
// instant.
func (g *Grant) Active(now time.Time) bool {
	return g.State(now) == StateActive
}

// HasScope reports whether the grant covers one OIDC scope.
func (g *Grant) HasScope(scope string) bool {
	return slices.Contains(g.Scopes, scope)
}

// Covers reports whether the grant covers every requested OIDC scope and
// every requested resource-scoped scope set.
func (g *Grant) Covers(scopes []string, resourceScopes map[string][]string) bool {
	for _, scope := range scopes {
		if !g.HasScope(scope) {
			return false
		}
	}
	for indicator, wanted := range resourceScopes {
		granted, ok := g.ResourceScopes[indicator]
		if !ok {
			return false
		}
		for _, scope := range wanted {
			if !slices.Contains(granted, scope) {
				return false
			}
		}
	}
	return true
}

// ErrNotFound reports that no grant exists for a (client, account) pair.
var ErrNotFound = errors.New("grant not found")

// Store persists grants.
//
// Upsert is keyed on (client id, account id): concurrent writes for the
// same pair must serialize so the latest grant wins and the pair never
// accumulates duplicates. Grant returns the latest grant for the pair, or
// ErrNotFound.
type Store interface {
	Grant(ctx context.Context, clientID, accountID string) (*Grant, error)
	Upsert(ctx context.Context, grant *Grant) error
	Revoke(ctx context.Context, clientID, accountID string, at time.Time) error
}

func normalizeScopes(scopes []string) []string {
	normalized := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if scope != "" {
			normalized = append(normalized, scope)
		}
	}
	slices.Sort(normalized)
	return slices.Compact(normalized)
}

func copyResourceScopes(resourceScopes map[string][]string) map[string][]string {
	if resourceScopes == nil {
		return nil
	}
	copied := make(map[string][]string, len(resourceScopes))
	for indicator, scopes := range resourceScopes {
		copied[indicator] = normalizeScopes(scopes)
	}
	return copied
}
