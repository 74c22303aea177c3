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

// DeviceSessionStore implements storage.DeviceSessionStore for
// PostgreSQL.
type DeviceSessionStore struct {
	db *pgxpool.Pool
}

// Create inserts a session.
func (s *DeviceSessionStore) Create(ctx context.Context, session *storage.DeviceSession) error {
	query := `
		INSERT INTO device_session (token, vault_id, device_id, device_description, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.Exec(ctx, query,
		session.Token,
		session.VaultID,
		session.DeviceID,
		session.DeviceDescription,
		session.CreatedAt,
		session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByToken retrieves an unexpired session.
func (s *DeviceSessionStore) GetByToken(ctx context.Context, token string) (*storage.DeviceSession, error) {
	query := `
		SELECT token, vault_id, device_id, device_description, created_at, expires_at
		FROM device_session
		WHERE token = $1 AND expires_at > NOW()
	`

	var session storage.DeviceSession
	err := s.db.QueryRow(ctx, query, token).Scan(
		&session.Token,
		&session.VaultID,
		&session.DeviceID,
		&session.DeviceDescription,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err := mapError(err); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// Delete removes a session by token.
func (s *DeviceSessionStore) Delete(ctx context.Context, token string) error {
	result, err := s.db.Exec(ctx, `DELETE FROM device_session WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByVault lists unexpired sessions for a vault.
func (s *DeviceSessionStore) ListByVault(ctx context.Context, vaultID string) ([]*storage.DeviceSession, error) {
	query := `
		SELECT token, vault_id, device_id, device_description, created_at, expires_at
		FROM device_session
		WHERE vault_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`

	rows, err := s.db.Query(ctx, query, vaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*storage.DeviceSession
	for rows.Next() {
		var session storage.DeviceSession
		err := rows.Scan(
			&session.Token,
			&session.VaultID,
			&session.DeviceID,
			&session.DeviceDescription,
			&session.CreatedAt,
			&session.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// DeleteExpired deletes all expired sessions.
func (s *DeviceSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM device_session WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected(), nil
}
