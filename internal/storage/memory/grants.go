package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rephlo/idp/internal/consent"
)

type GrantStore struct {
	mu sync.Mutex
	// grants is keyed on (client id, account id); the latest upsert for a
	// pair wins, so a pair never accumulates duplicates.
	grants map[grantKey]*consent.Grant
}

type grantKey struct {
	clientID  string
	accountID string
}

func NewGrantStore() *GrantStore {
	return &GrantStore{
		grants: make(map[grantKey]*consent.Grant),
	}
}

func (s *GrantStore) Grant(_ context.Context, clientID, accountID string) (*consent.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[grantKey{clientID, accountID}]
	if !ok {
		return nil, consent.ErrNotFound
	}
	copied := *grant
	return &copied, nil
}

func (s *GrantStore) Upsert(_ context.Context, grant *consent.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *grant
	s.grants[grantKey{grant.ClientID, grant.AccountID}] = &copied
	return nil
}

func (s *GrantStore) Revoke(_ context.Context, clientID, accountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[grantKey{clientID, accountID}]
	if !ok {
		return consent.ErrNotFound
	}
	grant.RevokedAt = &at
	return nil
}
