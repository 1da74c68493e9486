// Package account resolves Rephlo user accounts for the identity provider.
//
// The provider is a read-only consumer of account data. Provisioning and
// mutation happen in the product backend; this package only looks accounts
// up and verifies login credentials.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rephlo/idp/internal/logging"
)

// Role labels the product role carried by an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Account is the identity-relevant projection of a Rephlo user record.
type Account struct {
	ID            string
	Email         string
	EmailVerified bool
	Name          string
	Role          Role
	PasswordHash  string
	CreatedAt     time.Time
	LastLoginAt   *time.Time
}

// Admin reports whether the account carries the admin role.
func (a *Account) Admin() bool {
	return a.Role == RoleAdmin
}

// ErrNotFound reports that no account exists for the given identifier.
var ErrNotFound = errors.New("account not found")

// ErrLookupFailed reports that the account store could not answer. It is
// deliberately distinct from ErrNotFound: an unknown subject is a policy
// outcome, a failed lookup is an infrastructure fault and must never be
// treated as "no such account".
var ErrLookupFailed = errors.New("account lookup failed")

// ErrInvalidCredentials reports a failed email/password login. Unknown
// email and wrong password collapse into the same error so login responses
// do not reveal which accounts exist.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Store is the read side of the account collaborator.
//
// Implementations return ErrNotFound for missing records and wrap any
// other failure so it does not satisfy errors.Is(err, ErrNotFound).
type Store interface {
	Account(ctx context.Context, id string) (*Account, error)
	AccountByEmail(ctx context.Context, email string) (*Account, error)
}

// Resolver answers "who is this subject" for token issuance and login.
type Resolver struct {
	store Store
	log   *slog.Logger
}

func NewResolver(store Store, log *slog.Logger) *Resolver {
	if log == nil {
		log = logging.Discard()
	}
	return &Resolver{store: store, log: log}
}

// Resolve returns the account identified by subject id.
//
// A missing account yields ErrNotFound and callers must treat it as
// terminal. Any other store failure yields ErrLookupFailed so callers fail
// closed instead of issuing tokens with an empty identity.
func (r *Resolver) Resolve(ctx context.Context, id string) (*Account, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty subject id", ErrNotFound)
	}

	acct, err := r.store.Account(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("%w: subject %s", ErrNotFound, id)
	case err != nil:
		r.log.ErrorContext(ctx, "account store lookup failed",
			slog.String("account_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	return acct, nil
}

// Authenticate verifies an email/password pair and returns the matching
// account. Store faults surface as ErrLookupFailed; everything else that
// goes wrong is ErrInvalidCredentials.
func (r *Resolver) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	acct, err := r.store.AccountByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrInvalidCredentials
	case err != nil:
		r.log.ErrorContext(ctx, "account store lookup failed",
			slog.String("email", email), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return acct, nil
}
