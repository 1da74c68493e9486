package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rephlo/idp/internal/account"
)

const accountColumns = "id, email, email_verified, name, role, password_hash, created_at, last_login_at"

func (s *Store) Account(ctx context.Context, id string) (*account.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts WHERE id = $1"
	return s.scanAccount(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*account.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts WHERE email = $1"
	return s.scanAccount(s.db.QueryRowContext(ctx, query, email))
}

func (s *Store) scanAccount(row *sql.Row) (*account.Account, error) {
	var acct account.Account
	var role string
	var lastLoginAt sql.NullTime

	err := row.Scan(
		&acct.ID,
		&acct.Email,
		&acct.EmailVerified,
		&acct.Name,
		&role,
		&acct.PasswordHash,
		&acct.CreatedAt,
		&lastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	acct.Role = account.Role(role)
	if lastLoginAt.Valid {
		acct.LastLoginAt = &lastLoginAt.Time
	}
	return &acct, nil
}

// SaveAccount provisions or replaces one account record. Only the dev
// fixture loader and admin tooling write accounts; the provider itself
// treats them as read-only.
func (s *Store) SaveAccount(ctx context.Context, acct *account.Account) error {
	query := `
		INSERT INTO accounts
			(id, email, email_verified, name, role, password_hash, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id)
		DO UPDATE SET
			email = EXCLUDED.email,
			email_verified = EXCLUDED.email_verified,
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			password_hash = EXCLUDED.password_hash,
			last_login_at = EXCLUDED.last_login_at
	`

	var lastLoginAt sql.NullTime
	if acct.LastLoginAt != nil {
		lastLoginAt = sql.NullTime{Time: *acct.LastLoginAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		acct.ID,
		acct.Email,
		acct.EmailVerified,
		acct.Name,
		string(acct.Role),
		acct.PasswordHash,
		acct.CreatedAt,
		lastLoginAt,
	)
	if err != nil {
		return fmt.Errorf("saving account %s: %w", acct.ID, err)
	}
	return nil
}
