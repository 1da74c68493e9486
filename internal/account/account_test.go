package account

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type stubStore struct {
	accounts map[string]*Account
	err      error
}

func (s *stubStore) Account(_ context.Context, id string) (*Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	acct, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return acct, nil
}

func (s *stubStore) AccountByEmail(_ context.Context, email string) (*Account, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, acct := range s.accounts {
		if acct.Email == email {
			return acct, nil
		}
	}
	return nil, ErrNotFound
}

func testAccount(t *testing.T) *Account {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("opensesame"), bcrypt.MinCost)
	require.Nil(t, err)

	return &Account{
		ID:            "acct_1",
		Email:         "dev@rephlo.dev",
		EmailVerified: true,
		Name:          "Dev User",
		Role:          RoleUser,
		PasswordHash:  string(hash),
		CreatedAt:     time.Now().UTC(),
	}
}

func TestResolve(t *testing.T) {
	// Given.
	acct := testAccount(t)
	resolver := NewResolver(&stubStore{accounts: map[string]*Account{acct.ID: acct}}, nil)

	// When.
	got, err := resolver.Resolve(context.Background(), acct.ID)

	// Then.
	require.Nil(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.Equal(t, acct.Email, got.Email)
}

func TestResolve_UnknownSubject(t *testing.T) {
	// Given.
	resolver := NewResolver(&stubStore{accounts: map[string]*Account{}}, nil)

	// When.
	_, err := resolver.Resolve(context.Background(), "missing")

	// Then.
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrLookupFailed))
}

func TestResolve_EmptySubject(t *testing.T) {
	// Given.
	resolver := NewResolver(&stubStore{accounts: map[string]*Account{}}, nil)

	// When.
	_, err := resolver.Resolve(context.Background(), "")

	// Then.
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResolve_StoreFailureIsNotNotFound(t *testing.T) {
	// Given.
	resolver := NewResolver(&stubStore{err: errors.New("connection reset")}, nil)

	// When.
	_, err := resolver.Resolve(context.Background(), "acct_1")

	// Then.
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrLookupFailed))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, strings.Contains(err.Error(), "connection reset"))
}

func TestAuthenticate(t *testing.T) {
	// Given.
	acct := testAccount(t)
	resolver := NewResolver(&stubStore{accounts: map[string]*Account{acct.ID: acct}}, nil)

	// When.
	got, err := resolver.Authenticate(context.Background(), acct.Email, "opensesame")

	// Then.
	require.Nil(t, err)
	assert.Equal(t, acct.ID, got.ID)
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	// Given.
	acct := testAccount(t)
	resolver := NewResolver(&stubStore{accounts: map[string]*Account{acct.ID: acct}}, nil)

	// When.
	_, err := resolver.Authenticate(context.Background(), acct.Email, "nope")

	// Then.
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestAuthenticate_UnknownEmailMatchesWrongPassword(t *testing.T) {
	// Given.
	acct := testAccount(t)
	resolver := NewResolver(&stubStore{accounts: map[string]*Account{acct.ID: acct}}, nil)

	// When.
	_, unknownErr := resolver.Authenticate(context.Background(), "ghost@rephlo.dev", "opensesame")
	_, wrongErr := resolver.Authenticate(context.Background(), acct.Email, "nope")

	// Then. Both paths collapse to the same error so login responses do
	// not reveal which accounts exist.
	assert.Equal(t, unknownErr, wrongErr)
}

func TestAuthenticate_StoreFailure(t *testing.T) {
	// Given.
	resolver := NewResolver(&stubStore{err: errors.New("timeout")}, nil)

	// When.
	_, err := resolver.Authenticate(context.Background(), "dev@rephlo.dev", "opensesame")

	// Then.
	assert.True(t, errors.Is(err, ErrLookupFailed))
	assert.False(t, errors.Is(err, ErrInvalidCredentials))
}

func TestAdmin(t *testing.T) {
	assert.False(t, (&Account{Role: RoleUser}).Admin())
	assert.True(t, (&Account{Role: RoleAdmin}).Admin())
}
