package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/rephlo/idp/internal/license"
)

type EntitlementStore struct {
	mu        sync.RWMutex
	byAccount map[string][]*license.Entitlement
}

func NewEntitlementStore() *EntitlementStore {
	return &EntitlementStore{
		byAccount: make(map[string][]*license.Entitlement),
	}
}

// Add seeds one entitlement record.
func (s *EntitlementStore) Add(ent *license.Entitlement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAccount[ent.AccountID] = append(s.byAccount[ent.AccountID], ent)
}

func (s *EntitlementStore) EntitlementsByAccount(_ context.Context, accountID string) ([]*license.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.byAccount[accountID]), nil
}
