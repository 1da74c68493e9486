package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/luikyv/go-oidc/pkg/goidc"

	"github.com/rephlo/idp/internal/clients"
)

const clientColumns = "id, client_name, secret_hash, redirect_uris, grant_types, response_types, scope, skip_consent, created_at, updated_at"

func (s *Store) Registration(ctx context.Context, id string) (*clients.Registration, error) {
	query := "SELECT " + clientColumns + " FROM oauth_clients WHERE id = $1"

	registration, err := scanRegistration(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, clients.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading client %s: %w", id, err)
	}
	return registration, nil
}

func (s *Store) All(ctx context.Context) ([]*clients.Registration, error) {
	query := "SELECT " + clientColumns + " FROM oauth_clients"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	defer rows.Close()

	var all []*clients.Registration
	for rows.Next() {
		registration, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("listing clients: %w", err)
		}
		all = append(all, registration)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	return all, nil
}

// SaveRegistration provisions or replaces one client registration.
func (s *Store) SaveRegistration(ctx context.Context, registration *clients.Registration) error {
	query := `
		INSERT INTO oauth_clients
			(id, client_name, secret_hash, redirect_uris, grant_types, response_types, scope, skip_consent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id)
		DO UPDATE SET
			client_name = EXCLUDED.client_name,
			secret_hash = EXCLUDED.secret_hash,
			redirect_uris = EXCLUDED.redirect_uris,
			grant_types = EXCLUDED.grant_types,
			response_types = EXCLUDED.response_types,
			scope = EXCLUDED.scope,
			skip_consent = EXCLUDED.skip_consent,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	createdAt := registration.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, query,
		registration.ID,
		registration.Name,
		registration.SecretHash,
		pq.Array(registration.RedirectURIs),
		pq.Array(grantTypeStrings(registration.GrantTypes)),
		pq.Array(responseTypeStrings(registration.ResponseTypes)),
		registration.Scope,
		registration.SkipConsent,
		createdAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("saving client %s: %w", registration.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (*clients.Registration, error) {
	var registration clients.Registration
	var redirectURIs, grantTypes, responseTypes []string

	err := row.Scan(
		&registration.ID,
		&registration.Name,
		&registration.SecretHash,
		pq.Array(&redirectURIs),
		pq.Array(&grantTypes),
		pq.Array(&responseTypes),
		&registration.Scope,
		&registration.SkipConsent,
		&registration.CreatedAt,
		&registration.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	registration.RedirectURIs = redirectURIs
	registration.GrantTypes = toGrantTypes(grantTypes)
	registration.ResponseTypes = toResponseTypes(responseTypes)
	return &registration, nil
}

func grantTypeStrings(grantTypes []goidc.GrantType) []string {
	out := make([]string, len(grantTypes))
	for i, gt := range grantTypes {
		out[i] = string(gt)
	}
	return out
}

func toGrantTypes(values []string) []goidc.GrantType {
	out := make([]goidc.GrantType, len(values))
	for i, v := range values {
		out[i] = goidc.GrantType(v)
	}
	return out
}

func responseTypeStrings(responseTypes []goidc.ResponseType) []string {
	out := make([]string, len(responseTypes))
	for i, rt := range responseTypes {
		out[i] = string(rt)
	}
	return out
}

func toResponseTypes(values []string) []goidc.ResponseType {
	out := make([]goidc.ResponseType, len(values))
	for i, v := range values {
		out[i] = goidc.ResponseType(v)
	}
	return out
}
