package license

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rephlo/idp/internal/logging"
)

// maskToken replaces each interior key segment.
const maskToken = "****"

// Fragment is the license portion of an identity claim set. Key always
// holds the masked form; the raw key must never leave this package through
// a claim, a log line or an error.
type Fragment struct {
	Status  string `json:"status"`
	Key     string `json:"key"`
	Tier    string `json:"tier"`
	Version string `json:"version"`
}

// ClaimValue renders the fragment as the nested claim object.
func (f *Fragment) ClaimValue() map[string]any {
	return map[string]any{
		"status":  f.Status,
		"key":     f.Key,
		"tier":    f.Tier,
		"version": f.Version,
	}
}

// Enricher builds license claim fragments from the entitlement store.
type Enricher struct {
	store Store
	log   *slog.Logger
}

func NewEnricher(store Store, log *slog.Logger) *Enricher {
	if log == nil {
		log = logging.Discard()
	}
	return &Enricher{store: store, log: log}
}

// Enrich returns the claims fragment for the account's current license.
//
// Accounts without an active entitlement get (nil, nil): the fragment must
// be entirely absent from claims rather than present with null fields, so
// consumers can use presence alone as the "has a license" signal. Store
// faults return ErrLookupFailed so callers fail closed.
func (e *Enricher) Enrich(ctx context.Context, accountID string) (*Fragment, error) {
	ents, err := e.store.EntitlementsByAccount(ctx, accountID)
	if err != nil {
		e.log.ErrorContext(ctx, "entitlement store lookup failed",
			slog.String("account_id", accountID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	current := Current(ents)
	if current == nil {
		return nil, nil
	}

	return &Fragment{
		Status:  string(StatusActive),
		Key:     MaskKey(current.Key),
		Tier:    current.Tier,
		Version: current.Version,
	}, nil
}

// MaskKey redacts the interior of a hyphen-segmented license key. The
// first two segments and the last one stay verbatim, everything in between
// becomes the mask token. Keys with three or fewer segments are returned
// unchanged: there is not enough structure to mask without destroying the
// identifying suffix.
func MaskKey(key string) string {
	parts := strings.Split(key, "-")
	if len(parts) <= 3 {
		return key
	}

	masked := make([]string, len(parts))
	copy(masked, parts)
	for i := 2; i < len(parts)-1; i++ {
		masked[i] = maskToken
	}
	return strings.Join(masked, "-")
}
