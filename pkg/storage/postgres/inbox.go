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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keypears/keypears-core/pkg/storage"
)

// InboxStore implements storage.InboxStore for PostgreSQL.
type InboxStore struct {
	db *pgxpool.Pool
}

const inboxColumns = `id, vault_id, sender_address, recipient_address, channel_id, order_in_channel, encrypted_content, sender_engagement_pub_key, recipient_engagement_pub_key, pow_challenge_id, is_read, created_at`

// Append takes the channel's durable next_order counter under its row
// lock, so concurrent sends serialize, the sequence stays dense, and
// deleting synced rows never resets it.
func (s *InboxStore) Append(ctx context.Context, msg *storage.InboxMessage) (*storage.InboxMessage, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The update locks the channel row; the counter bump rolls back
	// with the transaction if the insert below fails.
	var assignedOrder int64
	err = tx.QueryRow(ctx, `
		UPDATE channel_view
		SET next_order = next_order + 1, last_message_at = $1
		WHERE id = $2
		RETURNING next_order - 1
	`, msg.CreatedAt, msg.ChannelID).Scan(&assignedOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to advance channel order: %w", err)
	}

	inserted := *msg
	inserted.OrderInChannel = assignedOrder

	_, err = tx.Exec(ctx, `
		INSERT INTO inbox_message (`+inboxColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		inserted.ID,
		inserted.VaultID,
		inserted.SenderAddress,
		inserted.RecipientAddress,
		inserted.ChannelID,
		inserted.OrderInChannel,
		inserted.EncryptedContent,
		inserted.SenderEngagementPubKey,
		inserted.RecipientEngagementPubKey,
		inserted.PowChallengeID,
		inserted.IsRead,
		inserted.CreatedAt,
	)
	if err := mapError(err); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to insert inbox message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit inbox message: %w", err)
	}
	return &inserted, nil
}

// GetByPowChallenge retrieves the message admitted under a challenge.
func (s *InboxStore) GetByPowChallenge(ctx context.Context, channelID, powChallengeID string) (*storage.InboxMessage, error) {
	query := `SELECT ` + inboxColumns + ` FROM inbox_message WHERE channel_id = $1 AND pow_challenge_id = $2`
	return scanMessage(s.db.QueryRow(ctx, query, channelID, powChallengeID))
}

// ListByChannel pages a channel's messages, newest order first.
func (s *InboxStore) ListByChannel(ctx context.Context, vaultID, channelID string, limit int, beforeOrder int64) ([]*storage.InboxMessage, bool, error) {
	query := `
		SELECT ` + inboxColumns + ` FROM inbox_message
		WHERE vault_id = $1 AND channel_id = $2 AND ($3::bigint = 0 OR order_in_channel < $3)
		ORDER BY order_in_channel DESC
		LIMIT $4
	`
	return s.listMessages(ctx, query, vaultID, channelID, beforeOrder, limit+1, limit)
}

// ListForSync returns messages in saved channels, oldest first.
func (s *InboxStore) ListForSync(ctx context.Context, vaultID string, limit int) ([]*storage.InboxMessage, bool, error) {
	query := `
		SELECT ` + prefixedInboxColumns("m") + ` FROM inbox_message m
		JOIN channel_view c ON c.id = m.channel_id
		WHERE m.vault_id = $1 AND c.status = 'saved'
		ORDER BY m.channel_id, m.order_in_channel
		LIMIT $2
	`
	return s.listMessages(ctx, query, vaultID, limit+1, limit)
}

// Delete removes messages owned by the vault.
func (s *InboxStore) Delete(ctx context.Context, vaultID string, ids []string) (int64, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM inbox_message WHERE vault_id = $1 AND id = ANY($2)`, vaultID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete inbox messages: %w", err)
	}
	return result.RowsAffected(), nil
}

// listMessages runs a query whose final argument is limit+1 and trims
// the overflow row into hasMore. args are the query arguments; the
// trailing limit is the page size.
func (s *InboxStore) listMessages(ctx context.Context, query string, args ...any) ([]*storage.InboxMessage, bool, error) {
	limit := args[len(args)-1].(int)
	queryArgs := args[:len(args)-1]

	rows, err := s.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list inbox messages: %w", err)
	}
	defer rows.Close()

	var messages []*storage.InboxMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, false, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("error iterating inbox messages: %w", err)
	}

	hasMore := false
	if len(messages) > limit {
		messages = messages[:limit]
		hasMore = true
	}
	return messages, hasMore, nil
}

func prefixedInboxColumns(alias string) string {
	return alias + ".id, " + alias + ".vault_id, " + alias + ".sender_address, " + alias + ".recipient_address, " +
		alias + ".channel_id, " + alias + ".order_in_channel, " + alias + ".encrypted_content, " +
		alias + ".sender_engagement_pub_key, " + alias + ".recipient_engagement_pub_key, " +
		alias + ".pow_challenge_id, " + alias + ".is_read, " + alias + ".created_at"
}

func scanMessage(row rowScanner) (*storage.InboxMessage, error) {
	var msg storage.InboxMessage
	err := row.Scan(
		&msg.ID,
		&msg.VaultID,
		&msg.SenderAddress,
		&msg.RecipientAddress,
		&msg.ChannelID,
		&msg.OrderInChannel,
		&msg.EncryptedContent,
		&msg.SenderEngagementPubKey,
		&msg.RecipientEngagementPubKey,
		&msg.PowChallengeID,
		&msg.IsRead,
		&msg.CreatedAt,
	)
	if err := mapError(err); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get inbox message: %w", err)
	}
	return &msg, nil
}
