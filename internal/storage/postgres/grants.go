package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/rephlo/idp/internal/consent"
)

func (s *Store) Grant(ctx context.Context, clientID, accountID string) (*consent.Grant, error) {
	query := `
		SELECT id, client_id, account_id, scopes, resource_scopes, created_at, expires_at, revoked_at
		FROM consent_grants
		WHERE client_id = $1 AND account_id = $2
	`

	var grant consent.Grant
	var scopes []string
	var resourceScopes []byte
	var revokedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, clientID, accountID).Scan(
		&grant.ID,
		&grant.ClientID,
		&grant.AccountID,
		pq.Array(&scopes),
		&resourceScopes,
		&grant.CreatedAt,
		&grant.ExpiresAt,
		&revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, consent.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning grant: %w", err)
	}

	grant.Scopes = scopes
	if len(resourceScopes) > 0 {
		if err := json.Unmarshal(resourceScopes, &grant.ResourceScopes); err != nil {
			return nil, fmt.Errorf("decoding grant resource scopes: %w", err)
		}
	}
	if revokedAt.Valid {
		grant.RevokedAt = &revokedAt.Time
	}
	return &grant, nil
}

// Upsert writes a grant, keyed on (client id, account id). The primary
// key serializes concurrent synthetic-grant creation for the same pair:
// the latest write wins and the pair never holds duplicates.
func (s *Store) Upsert(ctx context.Context, grant *consent.Grant) error {
	query := `
		INSERT INTO consent_grants
			(id, client_id, account_id, scopes, resource_scopes, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (client_id, account_id)
		DO UPDATE SET
			id = EXCLUDED.id,
			scopes = EXCLUDED.scopes,
			resource_scopes = EXCLUDED.resource_scopes,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			revoked_at = EXCLUDED.revoked_at
	`

	resourceScopes := grant.ResourceScopes
	if resourceScopes == nil {
		resourceScopes = map[string][]string{}
	}
	encoded, err := json.Marshal(resourceScopes)
	if err != nil {
		return fmt.Errorf("encoding grant resource scopes: %w", err)
	}

	var revokedAt sql.NullTime
	if grant.RevokedAt != nil {
		revokedAt = sql.NullTime{Time: *grant.RevokedAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, query,
		grant.ID,
		grant.ClientID,
		grant.AccountID,
		pq.Array(grant.Scopes),
		encoded,
		grant.CreatedAt,
		grant.ExpiresAt,
		revokedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting grant for client %s: %w", grant.ClientID, err)
	}
	return nil
}

func (s *Store) Revoke(ctx context.Context, clientID, accountID string, at time.Time) error {
	query := `
		UPDATE consent_grants
		SET revoked_at = $3
		WHERE client_id = $1 AND account_id = $2 AND revoked_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, clientID, accountID, at)
	if err != nil {
		return fmt.Errorf("revoking grant for client %s: %w", clientID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoking grant for client %s: %w", clientID, err)
	}
	if affected == 0 {
		return consent.ErrNotFound
	}
	return nil
}
