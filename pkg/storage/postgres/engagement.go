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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keypears/keypears-core/pkg/storage"
)

// EngagementKeyStore implements storage.EngagementKeyStore for
// PostgreSQL. The partial unique indexes in the schema make Create the
// linearization point for get-or-create callers.
type EngagementKeyStore struct {
	db *pgxpool.Pool
}

const keyColumns = `id, vault_id, purpose, counterparty_address, sender_pub_key, engagement_pub_key, derivation_priv_key, created_at`

// Create inserts a key.
func (s *EngagementKeyStore) Create(ctx context.Context, key *storage.EngagementKey) error {
	query := `
		INSERT INTO engagement_key (` + keyColumns + `)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
	`

	_, err := s.db.Exec(ctx, query,
		key.ID,
		key.VaultID,
		key.Purpose,
		key.CounterpartyAddress,
		key.SenderPubKey,
		key.EngagementPubKey,
		key.DerivationPrivKey,
		key.CreatedAt,
	)
	if err := mapError(err); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return err
		}
		return fmt.Errorf("failed to create engagement key: %w", err)
	}
	return nil
}

// Get retrieves a key by id.
func (s *EngagementKeyStore) Get(ctx context.Context, id string) (*storage.EngagementKey, error) {
	query := `SELECT ` + keyColumns + ` FROM engagement_key WHERE id = $1`
	return scanKey(s.db.QueryRow(ctx, query, id))
}

// GetSendKey retrieves the send key for (vault, counterparty).
func (s *EngagementKeyStore) GetSendKey(ctx context.Context, vaultID, counterpartyAddress string) (*storage.EngagementKey, error) {
	query := `
		SELECT ` + keyColumns + ` FROM engagement_key
		WHERE vault_id = $1 AND counterparty_address = $2 AND purpose = 'send'
	`
	return scanKey(s.db.QueryRow(ctx, query, vaultID, counterpartyAddress))
}

// GetReceiveKey retrieves the receive key for
// (vault, counterparty, senderPubKey).
func (s *EngagementKeyStore) GetReceiveKey(ctx context.Context, vaultID, counterpartyAddress string, senderPubKey []byte) (*storage.EngagementKey, error) {
	query := `
		SELECT ` + keyColumns + ` FROM engagement_key
		WHERE vault_id = $1 AND counterparty_address = $2 AND sender_pub_key = $3 AND purpose = 'receive'
	`
	return scanKey(s.db.QueryRow(ctx, query, vaultID, counterpartyAddress, senderPubKey))
}

// GetByPubKey retrieves an owner's key by its public point.
func (s *EngagementKeyStore) GetByPubKey(ctx context.Context, vaultID string, engagementPubKey []byte) (*storage.EngagementKey, error) {
	query := `
		SELECT ` + keyColumns + ` FROM engagement_key
		WHERE vault_id = $1 AND engagement_pub_key = $2
		ORDER BY created_at
		LIMIT 1
	`
	return scanKey(s.db.QueryRow(ctx, query, vaultID, engagementPubKey))
}

// GetSendKeyByPubKey retrieves a send-purpose key by owner and point.
func (s *EngagementKeyStore) GetSendKeyByPubKey(ctx context.Context, vaultID string, engagementPubKey []byte) (*storage.EngagementKey, error) {
	query := `
		SELECT ` + keyColumns + ` FROM engagement_key
		WHERE vault_id = $1 AND engagement_pub_key = $2 AND purpose = 'send'
	`
	return scanKey(s.db.QueryRow(ctx, query, vaultID, engagementPubKey))
}

func scanKey(row rowScanner) (*storage.EngagementKey, error) {
	var key storage.EngagementKey
	var counterparty *string
	err := row.Scan(
		&key.ID,
		&key.VaultID,
		&key.Purpose,
		&counterparty,
		&key.SenderPubKey,
		&key.EngagementPubKey,
		&key.DerivationPrivKey,
		&key.CreatedAt,
	)
	if err := mapError(err); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get engagement key: %w", err)
	}
	if counterparty != nil {
		key.CounterpartyAddress = *counterparty
	}
	return &key, nil
}
