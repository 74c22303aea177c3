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

// ChannelStore implements storage.ChannelStore for PostgreSQL.
type ChannelStore struct {
	db *pgxpool.Pool
}

const channelColumns = `id, vault_id, counterparty_address, status, secret_id, min_difficulty, next_order, last_message_at, created_at`

// GetOrCreate returns the channel for (vault, counterparty), inserting
// the candidate if absent. The unique constraint arbitrates races; the
// loser of the insert re-reads the winner's row.
func (s *ChannelStore) GetOrCreate(ctx context.Context, candidate *storage.Channel) (*storage.Channel, bool, error) {
	existing, err := s.GetByCounterparty(ctx, candidate.VaultID, candidate.CounterpartyAddress)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	query := `
		INSERT INTO channel_view (` + channelColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, GREATEST($7, 1), $8, $9)
		ON CONFLICT (vault_id, counterparty_address) DO NOTHING
	`
	result, err := s.db.Exec(ctx, query,
		candidate.ID,
		candidate.VaultID,
		candidate.CounterpartyAddress,
		candidate.Status,
		candidate.SecretID,
		candidate.MinDifficulty,
		candidate.NextOrder,
		candidate.LastMessageAt,
		candidate.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create channel: %w", err)
	}

	created := result.RowsAffected() > 0
	channel, err := s.GetByCounterparty(ctx, candidate.VaultID, candidate.CounterpartyAddress)
	if err != nil {
		return nil, false, err
	}
	return channel, created, nil
}

// Get retrieves a channel by id.
func (s *ChannelStore) Get(ctx context.Context, id string) (*storage.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channel_view WHERE id = $1`
	return scanChannel(s.db.QueryRow(ctx, query, id))
}

// GetByCounterparty retrieves the channel for (vault, counterparty).
func (s *ChannelStore) GetByCounterparty(ctx context.Context, vaultID, counterpartyAddress string) (*storage.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channel_view WHERE vault_id = $1 AND counterparty_address = $2`
	return scanChannel(s.db.QueryRow(ctx, query, vaultID, counterpartyAddress))
}

// UpdateStatus sets the channel status.
func (s *ChannelStore) UpdateStatus(ctx context.Context, id, status string) error {
	result, err := s.db.Exec(ctx, `UPDATE channel_view SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update channel status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateMinDifficulty sets or clears the difficulty override.
func (s *ChannelStore) UpdateMinDifficulty(ctx context.Context, id string, minDifficulty *int64) error {
	result, err := s.db.Exec(ctx, `UPDATE channel_view SET min_difficulty = $1 WHERE id = $2`, minDifficulty, id)
	if err != nil {
		return fmt.Errorf("failed to update channel difficulty: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns a vault's channels ordered by last message, newest
// first.
func (s *ChannelStore) List(ctx context.Context, vaultID string, limit, offset int) ([]*storage.Channel, bool, error) {
	query := `
		SELECT ` + channelColumns + ` FROM channel_view
		WHERE vault_id = $1
		ORDER BY last_message_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.Query(ctx, query, vaultID, limit+1, offset)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []*storage.Channel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, false, err
		}
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("error iterating channels: %w", err)
	}

	hasMore := false
	if len(channels) > limit {
		channels = channels[:limit]
		hasMore = true
	}
	return channels, hasMore, nil
}

func scanChannel(row rowScanner) (*storage.Channel, error) {
	var channel storage.Channel
	err := row.Scan(
		&channel.ID,
		&channel.VaultID,
		&channel.CounterpartyAddress,
		&channel.Status,
		&channel.SecretID,
		&channel.MinDifficulty,
		&channel.NextOrder,
		&channel.LastMessageAt,
		&channel.CreatedAt,
	)
	if err := mapError(err); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return &channel, nil
}
