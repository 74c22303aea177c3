// keypears - federated encrypted password vault
// Copyright (C) 2025 keypears
//
// This file is part of keypears.
//
// keypears is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// keypears is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with keypears. If not, see <https://www.gnu.org/licenses/>.

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keypears/keypears-core/pkg/storage"
)

// SecretUpdateStore implements storage.SecretUpdateStore for
// PostgreSQL.
type SecretUpdateStore struct {
	db *pgxpool.Pool
}

const secretColumns = `id, vault_id, secret_id, global_order, local_order, encrypted_blob, created_at`

// Append assigns both orders under a per-vault advisory lock held for
// the transaction, keeping each sequence dense and gap-free.
func (s *SecretUpdateStore) Append(ctx context.Context, update *storage.SecretUpdate) (*storage.SecretUpdate, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "secret_update:"+update.VaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to take vault lock: %w", err)
	}

	inserted := *update
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(global_order), 0) + 1 FROM secret_update WHERE vault_id = $1`,
		update.VaultID,
	).Scan(&inserted.GlobalOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to read global order: %w", err)
	}

	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(local_order), 0) + 1 FROM secret_update WHERE vault_id = $1 AND secret_id = $2`,
		update.VaultID, update.SecretID,
	).Scan(&inserted.LocalOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to read local order: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO secret_update (`+secretColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		inserted.ID,
		inserted.VaultID,
		inserted.SecretID,
		inserted.GlobalOrder,
		inserted.LocalOrder,
		inserted.EncryptedBlob,
		inserted.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert secret update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit secret update: %w", err)
	}
	return &inserted, nil
}

// ListSince pages updates with GlobalOrder > sinceGlobalOrder.
func (s *SecretUpdateStore) ListSince(ctx context.Context, vaultID string, sinceGlobalOrder int64, limit int) ([]*storage.SecretUpdate, bool, error) {
	query := `
		SELECT ` + secretColumns + ` FROM secret_update
		WHERE vault_id = $1 AND global_order > $2
		ORDER BY global_order
		LIMIT $3
	`

	rows, err := s.db.Query(ctx, query, vaultID, sinceGlobalOrder, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list secret updates: %w", err)
	}
	defer rows.Close()

	var updates []*storage.SecretUpdate
	for rows.Next() {
		var update storage.SecretUpdate
		err := rows.Scan(
			&update.ID,
			&update.VaultID,
			&update.SecretID,
			&update.GlobalOrder,
			&update.LocalOrder,
			&update.EncryptedBlob,
			&update.CreatedAt,
		)
		if err != nil {
			return nil, false, fmt.Errorf("failed to scan secret update: %w", err)
		}
		updates = append(updates, &update)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("error iterating secret updates: %w", err)
	}

	hasMore := false
	if len(updates) > limit {
		updates = updates[:limit]
		hasMore = true
	}
	return updates, hasMore, nil
}
