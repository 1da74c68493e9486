// Package memory provides in-process stores for development and tests.
//
// Every store is safe for concurrent use. Data lives for the lifetime of
// the process; production deployments configure the Postgres-backed
// stores instead.
package memory

import (
	"context"
	"sync"

	"github.com/rephlo/idp/internal/account"
)

type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*account.Account
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]*account.Account),
	}
}

// Add seeds one account. Later adds with the same id replace the record.
func (s *AccountStore) Add(acct *account.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.ID] = acct
}

func (s *AccountStore) Account(_ context.Context, id string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	return acct, nil
}

func (s *AccountStore) AccountByEmail(_ context.Context, email string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acct := range s.accounts {
		if acct.Email == email {
			return acct, nil
		}
	}
	return nil, account.ErrNotFound
}
