// Package license turns Rephlo entitlement records into the license
// fragment embedded in identity claims.
package license

import (
	"context"
	"errors"
	"time"
)

// Status enumerates entitlement lifecycle states. Only active
// entitlements ever surface in claims.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
	StatusExpired   Status = "expired"
)

// Entitlement is a purchased Rephlo license as recorded by the product
// backend.
type Entitlement struct {
	ID             string
	AccountID      string
	Key            string
	Tier           string
	Version        string
	Status         Status
	Activations    int
	MaxActivations int
	PurchasedAt    time.Time
	// ActivatedAt is nil until the license is activated on a device.
	ActivatedAt *time.Time
}

// Active reports whether the entitlement may contribute identity claims.
func (e *Entitlement) Active() bool {
	return e.Status == StatusActive
}

// ErrLookupFailed reports that the entitlement store could not answer.
var ErrLookupFailed = errors.New("license lookup failed")

// Store is the read side of the entitlement collaborator.
type Store interface {
	EntitlementsByAccount(ctx context.Context, accountID string) ([]*Entitlement, error)
}

// Current picks the entitlement that represents the account's license
// right now: the active entitlement with the latest activation timestamp.
// Ties fall back to the latest purchase timestamp, then to the larger
// record id, so the choice is deterministic for any input order. Returns
// nil when no entitlement is active.
func Current(ents []*Entitlement) *Entitlement {
	var current *Entitlement
	for _, e := range ents {
		if !e.Active() {
			continue
		}
		if current == nil || moreRecent(e, current) {
			current = e
		}
	}
	return current
}

func moreRecent(a, b *Entitlement) bool {
	at, bt := activationTime(a), activationTime(b)
	if !at.Equal(bt) {
		return at.After(bt)
	}
	if !a.PurchasedAt.Equal(b.PurchasedAt) {
		return a.PurchasedAt.After(b.PurchasedAt)
	}
	return a.ID > b.ID
}

func activationTime(e *Entitlement) time.Time {
	if e.ActivatedAt == nil {
		return time.Time{}
	}
	return *e.ActivatedAt
}
