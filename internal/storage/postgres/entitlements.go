package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rephlo/idp/internal/license"
)

func (s *Store) EntitlementsByAccount(ctx context.Context, accountID string) ([]*license.Entitlement, error) {
	query := `
		SELECT id, account_id, license_key, tier, version, status, activations, max_activations, purchased_at, activated_at
		FROM entitlements
		WHERE account_id = $1
	`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying entitlements: %w", err)
	}
	defer rows.Close()

	var ents []*license.Entitlement
	for rows.Next() {
		var ent license.Entitlement
		var status string
		var activatedAt sql.NullTime

		err := rows.Scan(
			&ent.ID,
			&ent.AccountID,
			&ent.Key,
			&ent.Tier,
			&ent.Version,
			&status,
			&ent.Activations,
			&ent.MaxActivations,
			&ent.PurchasedAt,
			&activatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning entitlement: %w", err)
		}

		ent.Status = license.Status(status)
		if activatedAt.Valid {
			ent.ActivatedAt = &activatedAt.Time
		}
		ents = append(ents, &ent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entitlements: %w", err)
	}
	return ents, nil
}

// SaveEntitlement provisions or replaces one entitlement record, for the
// dev fixture loader and admin tooling.
func (s *Store) SaveEntitlement(ctx context.Context, ent *license.Entitlement) error {
	query := `
		INSERT INTO entitlements
			(id, account_id, license_key, tier, version, status, activations, max_activations, purchased_at, activated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id)
		DO UPDATE SET
			account_id = EXCLUDED.account_id,
			license_key = EXCLUDED.license_key,
			tier = EXCLUDED.tier,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			activations = EXCLUDED.activations,
			max_activations = EXCLUDED.max_activations,
			purchased_at = EXCLUDED.purchased_at,
			activated_at = EXCLUDED.activated_at
	`

	var activatedAt sql.NullTime
	if ent.ActivatedAt != nil {
		activatedAt = sql.NullTime{Time: *ent.ActivatedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		ent.ID,
		ent.AccountID,
		ent.Key,
		ent.Tier,
		ent.Version,
		string(ent.Status),
		ent.Activations,
		ent.MaxActivations,
		ent.PurchasedAt,
		activatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving entitlement %s: %w", ent.ID, err)
	}
	return nil
}
