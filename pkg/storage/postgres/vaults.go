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

// VaultStore implements storage.VaultStore for PostgreSQL.
type VaultStore struct {
	db *pgxpool.Pool
}

const vaultColumns = `id, name, domain, vault_pub_key, vault_pub_key_hash, hashed_login_key, encrypted_vault_key, min_difficulty, created_at`

// Create inserts a vault.
func (s *VaultStore) Create(ctx context.Context, vault *storage.Vault) error {
	query := `
		INSERT INTO vault (` + vaultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.Exec(ctx, query,
		vault.ID,
		vault.Name,
		vault.Domain,
		vault.VaultPubKey,
		vault.VaultPubKeyHash,
		vault.HashedLoginKey,
		vault.EncryptedVaultKey,
		vault.MinDifficulty,
		vault.CreatedAt,
	)
	if err := mapError(err); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return err
		}
		return fmt.Errorf("failed to create vault: %w", err)
	}
	return nil
}

// Get retrieves a vault by id.
func (s *VaultStore) Get(ctx context.Context, id string) (*storage.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vault WHERE id = $1`
	return s.scanVault(s.db.QueryRow(ctx, query, id))
}

// GetByAddress retrieves a vault by (name, domain).
func (s *VaultStore) GetByAddress(ctx context.Context, name, domain string) (*storage.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vault WHERE name = $1 AND domain = $2`
	return s.scanVault(s.db.QueryRow(ctx, query, name, domain))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *VaultStore) scanVault(row rowScanner) (*storage.Vault, error) {
	var vault storage.Vault
	err := row.Scan(
		&vault.ID,
		&vault.Name,
		&vault.Domain,
		&vault.VaultPubKey,
		&vault.VaultPubKeyHash,
		&vault.HashedLoginKey,
		&vault.EncryptedVaultKey,
		&vault.MinDifficulty,
		&vault.CreatedAt,
	)
	if err := mapError(err); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get vault: %w", err)
	}
	return &vault, nil
}
